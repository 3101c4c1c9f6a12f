// Package borrowck verifies move/copy semantics and reference exclusivity
// per function body. It runs a forward dataflow pass over the function's
// control-flow graph with an ownership lattice per place, meeting at join
// points, and scopes every loan to its last use via a backward liveness pass
// (non-lexical borrows).
package borrowck

import (
	"sort"
	"strings"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/source"
)

// Loan is an active borrow of a place. Its validity interval runs from the
// Borrow op to the last use of the reference binding, not to block exit.
type Loan struct {
	Ref       string
	Target    ast.Place
	Exclusive bool
	Span      source.Span
}

func (l Loan) key() string {
	kind := "shared"
	if l.Exclusive {
		kind = "excl"
	}
	return l.Ref + "|" + l.Target.Key() + "|" + kind + "|" + l.Span.String()
}

type movedEntry struct {
	place ast.Place
	span  source.Span
}

// state is the abstract dataflow fact at one program point: which places
// have been moved out, which loans have been created and may still be live,
// and what each reference binding may point at. Loans are keyed by Loan.key,
// not by reference name: after a join one binding may carry a distinct loan
// per incoming path, and conflict checks must see all of them.
type state struct {
	moved   map[string]movedEntry
	loans   map[string]Loan
	origins map[string][]ast.Place
}

func newState() *state {
	return &state{
		moved:   make(map[string]movedEntry),
		loans:   make(map[string]Loan),
		origins: make(map[string][]ast.Place),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.moved {
		out.moved[k] = v
	}
	for k, v := range s.loans {
		out.loans[k] = v
	}
	for k, v := range s.origins {
		out.origins[k] = append([]ast.Place(nil), v...)
	}
	return out
}

// join merges an incoming edge into s. Ownership meets pessimistically: a
// place counts as moved after a join if it was moved on any incoming edge.
// Loans and origins union, since a loan live on any path may be live after.
func (s *state) join(other *state) {
	for k, v := range other.moved {
		if _, ok := s.moved[k]; !ok {
			s.moved[k] = v
		}
	}
	for k, v := range other.loans {
		if _, ok := s.loans[k]; !ok {
			s.loans[k] = v
		}
	}
	for ref, places := range other.origins {
		s.origins[ref] = mergePlaces(s.origins[ref], places)
	}
}

func mergePlaces(dst []ast.Place, src []ast.Place) []ast.Place {
	seen := make(map[string]struct{}, len(dst))
	for _, p := range dst {
		seen[p.Key()] = struct{}{}
	}
	for _, p := range src {
		if _, ok := seen[p.Key()]; !ok {
			seen[p.Key()] = struct{}{}
			dst = append(dst, p)
		}
	}
	return dst
}

// fingerprint gives a canonical string for fixpoint termination checks.
func (s *state) fingerprint() string {
	var parts []string
	for k := range s.moved {
		parts = append(parts, "m:"+k)
	}
	for k := range s.loans {
		parts = append(parts, "l:"+k)
	}
	for ref, places := range s.origins {
		keys := make([]string, len(places))
		for i, p := range places {
			keys[i] = p.Key()
		}
		sort.Strings(keys)
		parts = append(parts, "o:"+ref+"="+strings.Join(keys, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// movedAncestor returns the moved entry covering p itself or one of its
// prefixes (a whole that p is part of was moved).
func (s *state) movedAncestor(p ast.Place) (movedEntry, bool) {
	for _, entry := range s.moved {
		if entry.place.IsPrefixOf(p) {
			return entry, true
		}
	}
	return movedEntry{}, false
}

// movedDescendant returns a moved entry strictly below p (a field of p has
// been moved out, leaving p only partially owned).
func (s *state) movedDescendant(p ast.Place) (movedEntry, bool) {
	for _, entry := range s.moved {
		if p.IsPrefixOf(entry.place) && entry.place.Key() != p.Key() {
			return entry, true
		}
	}
	return movedEntry{}, false
}

func (s *state) markMoved(p ast.Place, span source.Span) {
	s.moved[p.Key()] = movedEntry{place: p, span: span}
}

// clearBelow removes moved marks at or below p (re-initialization).
func (s *state) clearBelow(p ast.Place) {
	for k, entry := range s.moved {
		if p.IsPrefixOf(entry.place) {
			delete(s.moved, k)
		}
	}
}

// dropRoot forgets all facts rooted at a local leaving scope.
func (s *state) dropRoot(root string) {
	for k, entry := range s.moved {
		if entry.place.Root == root {
			delete(s.moved, k)
		}
	}
	for k, loan := range s.loans {
		if loan.Ref == root {
			delete(s.loans, k)
		}
	}
	delete(s.origins, root)
}

// liveLoans filters the recorded loans down to those whose reference binding
// is still live at the current point.
func (s *state) liveLoans(live map[string]bool) []Loan {
	var out []Loan
	for _, loan := range s.loans {
		if live[loan.Ref] {
			out = append(out, loan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}
