package ast

import (
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// Op is a basic operation over places inside one basic block. The front end
// lowers expressions into this form before the core ever sees them: call
// arguments arrive as explicit Move/Use ops preceding the Call op.
type Op interface {
	OpSpan() source.Span
	isOp()
}

type opSpan struct {
	Span source.Span
}

func (o opSpan) OpSpan() source.Span { return o.Span }

// Declare introduces a new local binding, initialized and Owned.
type Declare struct {
	opSpan
	Name string
	Ty   types.Type
}

func (*Declare) isOp() {}

// Use reads a place without consuming it (trivially-copyable read, condition
// test, reference use).
type Use struct {
	opSpan
	Src Place
}

func (*Use) isOp() {}

// Move consumes a place by value: assignment source, pass-by-value argument.
// Moving a trivially-copyable place is a copy and changes no state.
type Move struct {
	opSpan
	Src Place
}

func (*Move) isOp() {}

// Assign writes a fresh value into Dst, re-initializing it. The value's
// production (a Move from elsewhere, a call) is a separate preceding op.
type Assign struct {
	opSpan
	Dst Place
}

func (*Assign) isOp() {}

// Borrow creates a new reference binding Ref to Target.
type Borrow struct {
	opSpan
	Ref       string
	Target    Place
	Exclusive bool
}

func (*Borrow) isOp() {}

// Call records a method call site for dispatch resolution. Ownership effects
// of the arguments are carried by the surrounding Move/Use ops.
type Call struct {
	opSpan
	Site     string
	Receiver types.Type
	Method   string
	// DynReceiver marks calls through a capability-object reference, which
	// must resolve to a dispatch-table lookup.
	DynReceiver bool
}

func (*Call) isOp() {}

// Return ends the function. Src, when set, is moved out (or, for reference
// types, escapes and must not borrow from a function-local).
type Return struct {
	opSpan
	Src *Place
}

func (*Return) isOp() {}

// EndScope drops the listed locals at a structured block end. It produces no
// diagnostics by itself; external drop-order logic hooks it.
type EndScope struct {
	opSpan
	Locals []string
}

func (*EndScope) isOp() {}

// Block is a basic block in the function's control-flow graph.
type Block struct {
	Label string
	Ops   []Op
	Succs []string
}

// ParamDecl is one function parameter, already elaborated by the front end.
type ParamDecl struct {
	Name      string
	Ty        types.Type
	ByValue   bool
	Exclusive bool
}

// FuncBody is one function's control-flow graph, the unit of borrow checking.
type FuncBody struct {
	Name   string
	Params []ParamDecl
	Return types.Type
	Entry  string
	Blocks []*Block
	// PlaceTypes carries the front end's type annotations for projected
	// places (field and deref chains), keyed by Place.Key(). Roots are typed
	// by their Declare op or parameter.
	PlaceTypes map[string]types.Type
	Span       source.Span
}

// BlockByLabel returns the named block, or nil.
func (f *FuncBody) BlockByLabel(label string) *Block {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}
