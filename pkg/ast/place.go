package ast

import "strings"

// ProjKind distinguishes the two projection steps a place path may take.
type ProjKind int

const (
	ProjField ProjKind = iota
	ProjDeref
)

// Projection is one step from a base place towards a component of it.
type Projection struct {
	Kind  ProjKind
	Field string
}

// Place is an addressable storage location: a function-local binding followed
// by a chain of field and deref projections. Places form a tree rooted at the
// binding; the borrow checker reasons entirely in terms of them.
type Place struct {
	Root string
	Path []Projection
}

// Local returns the place naming a whole binding.
func Local(root string) Place {
	return Place{Root: root}
}

// Field projects a named field out of p.
func (p Place) Field(name string) Place {
	path := append(append([]Projection(nil), p.Path...), Projection{Kind: ProjField, Field: name})
	return Place{Root: p.Root, Path: path}
}

// Deref projects through a reference held at p.
func (p Place) Deref() Place {
	path := append(append([]Projection(nil), p.Path...), Projection{Kind: ProjDeref})
	return Place{Root: p.Root, Path: path}
}

// Key is the canonical string identity of the place.
func (p Place) Key() string {
	if len(p.Path) == 0 {
		return p.Root
	}
	var sb strings.Builder
	sb.WriteString(p.Root)
	for _, proj := range p.Path {
		switch proj.Kind {
		case ProjField:
			sb.WriteByte('.')
			sb.WriteString(proj.Field)
		case ProjDeref:
			sb.WriteString(".*")
		}
	}
	return sb.String()
}

// Base returns the root binding as a place.
func (p Place) Base() Place { return Place{Root: p.Root} }

// IsPrefixOf reports whether p is q or an ancestor of q in the projection
// tree.
func (p Place) IsPrefixOf(q Place) bool {
	if p.Root != q.Root || len(p.Path) > len(q.Path) {
		return false
	}
	for i, proj := range p.Path {
		if q.Path[i] != proj {
			return false
		}
	}
	return true
}

// ConflictsWith reports whether two places overlap: one is a prefix of the
// other's projection path. Sibling fields of the same struct do not conflict.
func (p Place) ConflictsWith(q Place) bool {
	return p.IsPrefixOf(q) || q.IsPrefixOf(p)
}
