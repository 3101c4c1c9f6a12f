// Package diag defines the structured diagnostic records the semantic core
// hands to the external error reporter. The core never formats terminal
// output; it accumulates records and keeps analyzing unrelated definitions.
package diag

import (
	"fmt"
	"sort"

	"veld/sema/pkg/source"
)

// Kind is a stable diagnostic code. Codes group into four user-facing
// families; everything else in the core is a defect and panics instead.
type Kind string

const (
	// Ownership family.
	UseAfterMove     Kind = "ownership/use-after-move"
	MoveWhileLoaned  Kind = "ownership/move-while-loaned"
	PartialMoveUse   Kind = "ownership/partial-move-use"
	MovedStructWhole Kind = "ownership/moved-field-struct-move"

	// Borrow family.
	ExclusiveConflict Kind = "borrow/exclusive-conflict"
	SharedConflict    Kind = "borrow/shared-vs-exclusive"
	BorrowAfterMove   Kind = "borrow/borrow-of-moved"
	DanglingReference Kind = "borrow/dangling-reference"

	// Capability family.
	DuplicateCapability      Kind = "capability/duplicate"
	UnknownCapability        Kind = "capability/unknown"
	CoherenceViolation       Kind = "capability/coherence-violation"
	IncompleteImplementation Kind = "capability/incomplete-implementation"
	MethodNotFound           Kind = "capability/method-not-found"
	AmbiguousMethod          Kind = "capability/ambiguous-method"
	UnsatisfiedBound         Kind = "capability/unsatisfied-bound"
	ObjectSafetyViolation    Kind = "capability/object-safety"

	// Generic family.
	DuplicateDefinition   Kind = "generic/duplicate-definition"
	UnknownDefinition     Kind = "generic/unknown-definition"
	ArityMismatch         Kind = "generic/arity-mismatch"
	InferenceConflict     Kind = "generic/inference-conflict"
	CannotInfer           Kind = "generic/cannot-infer"
	UnsupportedConstraint Kind = "generic/unsupported-constraint"
)

// Diagnostic is the record surfaced to the error-reporting collaborator.
type Diagnostic struct {
	Kind    Kind
	Primary source.Span
	Related []source.Span
	Message string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s (%s)", d.Kind, d.Message, d.Primary)
}

// New builds a diagnostic with a formatted message.
func New(kind Kind, primary source.Span, format string, args ...any) Diagnostic {
	return Diagnostic{Kind: kind, Primary: primary, Message: fmt.Sprintf(format, args...)}
}

// WithRelated attaches secondary locations (the conflicting prior event).
func (d Diagnostic) WithRelated(spans ...source.Span) Diagnostic {
	out := d
	out.Related = append(append([]source.Span(nil), d.Related...), spans...)
	return out
}

// Bag accumulates diagnostics across independent analyses. A single
// unsatisfiable bound or borrow conflict must not block unrelated work, so
// components append here and the driver drains at the end of the pass.
type Bag struct {
	records []Diagnostic
}

func (b *Bag) Add(d Diagnostic) { b.records = append(b.records, d) }

func (b *Bag) AddAll(ds []Diagnostic) { b.records = append(b.records, ds...) }

func (b *Bag) Empty() bool { return len(b.records) == 0 }

func (b *Bag) Len() int { return len(b.records) }

// Drain returns the accumulated records sorted by primary location and kind
// so output is deterministic regardless of analysis order.
func (b *Bag) Drain() []Diagnostic {
	out := append([]Diagnostic(nil), b.records...)
	sort.SliceStable(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.Primary.File != c.Primary.File {
			return a.Primary.File < c.Primary.File
		}
		if a.Primary.Line != c.Primary.Line {
			return a.Primary.Line < c.Primary.Line
		}
		if a.Primary.Column != c.Primary.Column {
			return a.Primary.Column < c.Primary.Column
		}
		return a.Kind < c.Kind
	})
	return out
}

// Defect reports an internal invariant violation. These indicate a bug in the
// core or its caller, never in user code, so they abort with full context
// rather than joining the user-facing diagnostics.
func Defect(format string, args ...any) {
	panic(fmt.Sprintf("sema defect: "+format, args...))
}
