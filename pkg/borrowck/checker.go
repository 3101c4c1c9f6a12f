package borrowck

import (
	"log/slog"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// CopyFacts answers the one question the ownership checker asks the
// capability system: does copying a value of this type leave the source
// usable?
type CopyFacts interface {
	IsTriviallyCopyable(t types.Type) bool
}

// Verdict is the per-function output: either a proof-of-soundness pass or
// the set of violations found.
type Verdict struct {
	Func        string
	Diagnostics []diag.Diagnostic
}

func (v Verdict) Sound() bool { return len(v.Diagnostics) == 0 }

// Checker runs the ownership and borrow analysis. It holds no per-function
// state, so one Checker may serve many workers concurrently as long as the
// capability registry behind Facts is frozen.
type Checker struct {
	facts CopyFacts
	log   *slog.Logger
}

// New builds a checker over the given copyability oracle.
func New(facts CopyFacts, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{facts: facts, log: logger}
}

// funcCheck carries the per-function context of one CheckFunc run.
type funcCheck struct {
	*Checker
	fn     *ast.FuncBody
	lv     *liveness
	params map[string]ast.ParamDecl
	decls  map[string]types.Type
	diags  map[string]diag.Diagnostic
}

// CheckFunc analyzes one function body and returns its verdict. The body
// must be a well-formed CFG; malformed graphs are defects of the front end,
// not user diagnostics.
func (c *Checker) CheckFunc(fn *ast.FuncBody) Verdict {
	if fn == nil || len(fn.Blocks) == 0 {
		diag.Defect("borrowck: empty function body")
	}
	if fn.BlockByLabel(fn.Entry) == nil {
		diag.Defect("borrowck: function %q entry block %q missing", fn.Name, fn.Entry)
	}
	for _, b := range fn.Blocks {
		for _, succ := range b.Succs {
			if fn.BlockByLabel(succ) == nil {
				diag.Defect("borrowck: function %q block %q has unknown successor %q", fn.Name, b.Label, succ)
			}
		}
	}

	fc := &funcCheck{
		Checker: c,
		fn:      fn,
		lv:      computeLiveness(fn),
		params:  make(map[string]ast.ParamDecl, len(fn.Params)),
		decls:   make(map[string]types.Type),
		diags:   make(map[string]diag.Diagnostic),
	}
	for _, p := range fn.Params {
		fc.params[p.Name] = p
		fc.decls[p.Name] = p.Ty
	}

	entry := fc.entryState()
	in := map[string]*state{fn.Entry: entry}

	// Fixpoint: propagate states forward until block-entry facts stabilize.
	// Diagnostics are suppressed here; they are reported in a single final
	// pass so each violation surfaces exactly once.
	worklist := []string{fn.Entry}
	for len(worklist) > 0 {
		label := worklist[0]
		worklist = worklist[1:]
		b := fn.BlockByLabel(label)
		out := fc.transferBlock(in[label].clone(), b, false)
		for _, succ := range b.Succs {
			prev, ok := in[succ]
			if !ok {
				in[succ] = out.clone()
				worklist = append(worklist, succ)
				continue
			}
			before := prev.fingerprint()
			prev.join(out)
			if prev.fingerprint() != before {
				worklist = append(worklist, succ)
			}
		}
	}

	for _, b := range fn.Blocks {
		st, ok := in[b.Label]
		if !ok {
			continue // unreachable block, nothing to report
		}
		fc.transferBlock(st.clone(), b, true)
	}

	verdict := Verdict{Func: fn.Name}
	for _, d := range fc.diags {
		verdict.Diagnostics = append(verdict.Diagnostics, d)
	}
	if len(verdict.Diagnostics) > 0 {
		var bag diag.Bag
		bag.AddAll(verdict.Diagnostics)
		verdict.Diagnostics = bag.Drain()
	}
	c.log.Debug("borrowck: function analyzed",
		slog.String("func", fn.Name),
		slog.Int("diagnostics", len(verdict.Diagnostics)))
	return verdict
}

func (fc *funcCheck) entryState() *state {
	st := newState()
	for _, p := range fc.fn.Params {
		if _, ok := p.Ty.(types.Ref); ok {
			// Parameter references borrow caller-owned storage; model that
			// as an origin rooted at the parameter itself so returning them
			// is legal.
			st.origins[p.Name] = []ast.Place{ast.Local(p.Name)}
		}
	}
	return st
}

func (fc *funcCheck) report(d diag.Diagnostic) {
	key := string(d.Kind) + "|" + d.Primary.String() + "|" + d.Message
	fc.diags[key] = d
}

// transferBlock applies every op of a block to st, reporting violations when
// report is set, and returns the block-exit state.
func (fc *funcCheck) transferBlock(st *state, b *ast.Block, report bool) *state {
	liveBefore := blockLiveBefore(b, fc.lv.liveOut[b.Label])
	for i, op := range b.Ops {
		fc.transferOp(st, op, liveBefore[i], report)
	}
	return st
}

func (fc *funcCheck) transferOp(st *state, op ast.Op, live map[string]bool, report bool) {
	emit := func(d diag.Diagnostic) {
		if report {
			fc.report(d)
		}
	}

	switch o := op.(type) {
	case *ast.Declare:
		fc.decls[o.Name] = o.Ty
		st.clearBelow(ast.Local(o.Name))

	case *ast.Use:
		fc.checkRead(st, o.Src, o.OpSpan(), live, emit)

	case *ast.Move:
		fc.moveOut(st, o.Src, o.OpSpan(), live, emit)

	case *ast.Assign:
		// Writing under a live loan is a conflict regardless of loan kind.
		for _, loan := range st.liveLoans(live) {
			if loan.Ref == o.Dst.Root {
				continue
			}
			if loan.Target.ConflictsWith(o.Dst) {
				kind := diag.SharedConflict
				if loan.Exclusive {
					kind = diag.ExclusiveConflict
				}
				emit(diag.New(kind, o.OpSpan(),
					"cannot assign to '%s' while it is borrowed", o.Dst.Key()).
					WithRelated(loan.Span))
			}
		}
		if entry, ok := st.movedAncestor(o.Dst); ok && entry.place.Key() != o.Dst.Key() {
			emit(diag.New(diag.UseAfterMove, o.OpSpan(),
				"cannot assign into '%s': containing value was moved", o.Dst.Key()).
				WithRelated(entry.span))
		}
		// Re-initialization restores ownership of dst and everything below.
		st.clearBelow(o.Dst)

	case *ast.Borrow:
		fc.borrow(st, o, live, emit)

	case *ast.Call:
		// Argument ownership effects arrive as separate Move/Use ops;
		// dispatch resolution happens in the driver.

	case *ast.Return:
		fc.checkReturn(st, o, live, emit)

	case *ast.EndScope:
		for _, local := range o.Locals {
			for _, loan := range st.liveLoans(live) {
				if loan.Target.Root == local && live[loan.Ref] {
					emit(diag.New(diag.DanglingReference, o.OpSpan(),
						"'%s' is dropped here while still borrowed by '%s'", local, loan.Ref).
						WithRelated(loan.Span))
				}
			}
			st.dropRoot(local)
		}

	default:
		diag.Defect("borrowck: unknown op %T", op)
	}
}

// checkRead validates a non-consuming read of a place.
func (fc *funcCheck) checkRead(st *state, p ast.Place, span source.Span, live map[string]bool, emit func(diag.Diagnostic)) {
	if entry, ok := st.movedAncestor(p); ok {
		emit(diag.New(diag.UseAfterMove, span,
			"use of moved value '%s'", p.Key()).WithRelated(entry.span))
		return
	}
	if entry, ok := st.movedDescendant(p); ok {
		emit(diag.New(diag.PartialMoveUse, span,
			"use of partially moved value '%s' ('%s' was moved out)", p.Key(), entry.place.Key()).
			WithRelated(entry.span))
		return
	}
	// A read conflicts with a live exclusive loan held by someone else.
	for _, loan := range st.liveLoans(live) {
		if !loan.Exclusive || loan.Ref == p.Root {
			continue
		}
		if loan.Target.ConflictsWith(p) {
			emit(diag.New(diag.ExclusiveConflict, span,
				"cannot use '%s' while it is exclusively borrowed", p.Key()).
				WithRelated(loan.Span))
		}
	}
}

// moveOut consumes a place by value. Copies of trivially-copyable places are
// reads, not moves.
func (fc *funcCheck) moveOut(st *state, p ast.Place, span source.Span, live map[string]bool, emit func(diag.Diagnostic)) {
	if ty := fc.placeType(p); ty != nil && fc.facts.IsTriviallyCopyable(ty) {
		fc.checkRead(st, p, span, live, emit)
		return
	}
	if entry, ok := st.movedAncestor(p); ok {
		emit(diag.New(diag.UseAfterMove, span,
			"use of moved value '%s'", p.Key()).WithRelated(entry.span))
		return
	}
	// A structure is movable as a whole only while every field is owned.
	if entry, ok := st.movedDescendant(p); ok {
		emit(diag.New(diag.MovedStructWhole, span,
			"cannot move '%s': field '%s' was already moved out", p.Key(), entry.place.Key()).
			WithRelated(entry.span))
		return
	}
	for _, loan := range st.liveLoans(live) {
		if loan.Ref == p.Root {
			continue
		}
		if loan.Target.ConflictsWith(p) {
			emit(diag.New(diag.MoveWhileLoaned, span,
				"cannot move '%s' while it is borrowed", p.Key()).
				WithRelated(loan.Span))
			return
		}
	}
	st.markMoved(p, span)
}

// borrow creates a loan, checking the exclusivity invariant at every prefix
// length of the borrowed place (conflicts are prefix conflicts, so the
// ConflictsWith predicate already covers projections at any depth).
func (fc *funcCheck) borrow(st *state, o *ast.Borrow, live map[string]bool, emit func(diag.Diagnostic)) {
	if entry, ok := st.movedAncestor(o.Target); ok {
		emit(diag.New(diag.BorrowAfterMove, o.OpSpan(),
			"cannot borrow '%s': value was moved", o.Target.Key()).WithRelated(entry.span))
	} else if entry, ok := st.movedDescendant(o.Target); ok {
		emit(diag.New(diag.BorrowAfterMove, o.OpSpan(),
			"cannot borrow partially moved value '%s' ('%s' was moved out)",
			o.Target.Key(), entry.place.Key()).WithRelated(entry.span))
	}

	for _, loan := range st.liveLoans(live) {
		if loan.Ref == o.Ref || !loan.Target.ConflictsWith(o.Target) {
			continue
		}
		if o.Exclusive {
			emit(diag.New(diag.ExclusiveConflict, o.OpSpan(),
				"cannot borrow '%s' exclusively: conflicting borrow is still live", o.Target.Key()).
				WithRelated(loan.Span))
		} else if loan.Exclusive {
			// Reborrowing shared over shared is always legal; only a live
			// exclusive loan conflicts with a new shared one.
			emit(diag.New(diag.SharedConflict, o.OpSpan(),
				"cannot borrow '%s': exclusive borrow is still live", o.Target.Key()).
				WithRelated(loan.Span))
		}
	}

	// A borrow (re)defines the binding, so loans and origins from any prior
	// binding of the same name end on this path. Merging across paths is the
	// join's job.
	origins := fc.resolveOrigins(st, o.Target)
	for k, prior := range st.loans {
		if prior.Ref == o.Ref {
			delete(st.loans, k)
		}
	}
	loan := Loan{Ref: o.Ref, Target: o.Target, Exclusive: o.Exclusive, Span: o.OpSpan()}
	st.loans[loan.key()] = loan
	st.origins[o.Ref] = origins
	fc.decls[o.Ref] = types.Ref{Exclusive: o.Exclusive, Elem: fc.placeType(o.Target)}
}

// resolveOrigins maps a borrow target to the set of storage roots it may
// reach: borrowing through a reference binding reaches whatever that binding
// may point at.
func (fc *funcCheck) resolveOrigins(st *state, target ast.Place) []ast.Place {
	if roots, ok := st.origins[target.Root]; ok && len(target.Path) > 0 {
		return roots
	}
	return []ast.Place{target.Base()}
}

// checkReturn enforces the escape rule: a returned reference must borrow
// storage reachable from a parameter; anything rooted in a function-local
// place would dangle.
func (fc *funcCheck) checkReturn(st *state, o *ast.Return, live map[string]bool, emit func(diag.Diagnostic)) {
	if o.Src == nil {
		return
	}
	src := *o.Src
	if origins, ok := st.origins[src.Root]; ok {
		for _, origin := range origins {
			if _, isParam := fc.params[origin.Root]; !isParam {
				emit(diag.New(diag.DanglingReference, o.OpSpan(),
					"returned reference borrows function-local '%s'", origin.Key()))
			}
		}
		return
	}
	if _, isRef := fc.placeType(src).(types.Ref); isRef {
		if _, isParam := fc.params[src.Root]; !isParam {
			emit(diag.New(diag.DanglingReference, o.OpSpan(),
				"returned reference '%s' does not outlive the call", src.Key()))
		}
		return
	}
	fc.moveOut(st, src, o.OpSpan(), live, emit)
}

// placeType resolves the type of a place from declarations plus the front
// end's projection annotations. Unannotated projections are conservatively
// treated as non-copyable.
func (fc *funcCheck) placeType(p ast.Place) types.Type {
	if len(p.Path) == 0 {
		return fc.decls[p.Root]
	}
	if fc.fn.PlaceTypes != nil {
		if ty, ok := fc.fn.PlaceTypes[p.Key()]; ok {
			return ty
		}
	}
	return nil
}
