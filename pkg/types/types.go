package types

import (
	"sort"
	"strings"
)

// Type is a fully resolved or parameterized Veld type as the semantic core
// sees it. Canonical names are deterministic and recursive, so two types are
// interchangeable exactly when their names match.
type Type interface {
	Name() string
}

type PrimKind string

const (
	PrimUnit   PrimKind = "unit"
	PrimBool   PrimKind = "bool"
	PrimChar   PrimKind = "char"
	PrimString PrimKind = "str"
	PrimI32    PrimKind = "i32"
	PrimI64    PrimKind = "i64"
	PrimF32    PrimKind = "f32"
	PrimF64    PrimKind = "f64"
)

// Prim is a built-in scalar type. Primitive inference and promotion happen
// upstream; the core only needs identity and copyability.
type Prim struct {
	Kind PrimKind
}

func (p Prim) Name() string { return string(p.Kind) }

// Param is an unbound generic type parameter occurring inside a generic
// definition body.
type Param struct {
	Ident string
}

func (p Param) Name() string { return p.Ident }

// Named references a declared structure or enumeration, possibly applied to
// type arguments (`Vec[i32]`, `Pair[A, B]`).
type Named struct {
	Base string
	Args []Type
}

func (n Named) Name() string {
	if len(n.Args) == 0 {
		return n.Base
	}
	parts := make([]string, len(n.Args))
	for i, arg := range n.Args {
		parts[i] = arg.Name()
	}
	return n.Base + "[" + strings.Join(parts, ", ") + "]"
}

// Ref is a reference type; Exclusive distinguishes `&mut T` from `&T`.
type Ref struct {
	Exclusive bool
	Elem      Type
}

func (r Ref) Name() string {
	if r.Exclusive {
		return "&mut " + r.Elem.Name()
	}
	return "&" + r.Elem.Name()
}

// Slice is an unsized view over contiguous elements.
type Slice struct {
	Elem Type
}

func (s Slice) Name() string { return "[]" + s.Elem.Name() }

// Tuple is an anonymous product type.
type Tuple struct {
	Elems []Type
}

func (t Tuple) Name() string {
	parts := make([]string, len(t.Elems))
	for i, elem := range t.Elems {
		parts[i] = elem.Name()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Fn is a function type as it appears in signatures.
type Fn struct {
	Params []Type
	Return Type
}

func (f Fn) Name() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = p.Name()
	}
	ret := "unit"
	if f.Return != nil {
		ret = f.Return.Name()
	}
	return "fn(" + strings.Join(parts, ", ") + ") -> " + ret
}

// CapObject is a capability-object reference (`dyn Show`): the concrete type
// behind it is erased and method calls dispatch through a table.
type CapObject struct {
	Capability string
}

func (c CapObject) Name() string { return "dyn " + c.Capability }

// SelfType stands for the implementing type inside a capability declaration.
// It never survives method resolution; it is rewritten to the receiver.
type SelfType struct{}

func (SelfType) Name() string { return "Self" }

// Equal reports whether two types are the same type. Canonical names are
// injective by construction, so name comparison suffices.
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Name() == b.Name()
}

// FreeParams collects the distinct parameter idents occurring anywhere in t,
// sorted for stable reporting.
func FreeParams(t Type) []string {
	seen := make(map[string]struct{})
	collectParams(t, seen)
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for ident := range seen {
		out = append(out, ident)
	}
	sort.Strings(out)
	return out
}

func collectParams(t Type, seen map[string]struct{}) {
	switch ty := t.(type) {
	case Param:
		seen[ty.Ident] = struct{}{}
	case Named:
		for _, arg := range ty.Args {
			collectParams(arg, seen)
		}
	case Ref:
		collectParams(ty.Elem, seen)
	case Slice:
		collectParams(ty.Elem, seen)
	case Tuple:
		for _, elem := range ty.Elems {
			collectParams(elem, seen)
		}
	case Fn:
		for _, p := range ty.Params {
			collectParams(p, seen)
		}
		if ty.Return != nil {
			collectParams(ty.Return, seen)
		}
	}
}

// IsConcrete reports whether t mentions no type parameters and no Self.
func IsConcrete(t Type) bool {
	if t == nil {
		return false
	}
	if _, ok := t.(SelfType); ok {
		return false
	}
	return len(FreeParams(t)) == 0 && !mentionsSelf(t)
}

func mentionsSelf(t Type) bool {
	switch ty := t.(type) {
	case SelfType:
		return true
	case Named:
		for _, arg := range ty.Args {
			if mentionsSelf(arg) {
				return true
			}
		}
	case Ref:
		return mentionsSelf(ty.Elem)
	case Slice:
		return mentionsSelf(ty.Elem)
	case Tuple:
		for _, elem := range ty.Elems {
			if mentionsSelf(elem) {
				return true
			}
		}
	case Fn:
		for _, p := range ty.Params {
			if mentionsSelf(p) {
				return true
			}
		}
		if ty.Return != nil {
			return mentionsSelf(ty.Return)
		}
	}
	return false
}
