package borrowck

import "veld/sema/pkg/ast"

// liveness holds, per block, the set of reference bindings live on exit.
// Combined with a backward walk inside the block it yields the live set
// before every op, which is what scopes loans non-lexically: a loan is dead
// at any point past the last read of its reference binding.
type liveness struct {
	liveOut map[string]map[string]bool
}

// opUses returns the bindings an op reads. Any place access reads its root;
// that is exactly the conservative fact we need for reference bindings.
func opUses(op ast.Op) []string {
	switch o := op.(type) {
	case *ast.Use:
		return []string{o.Src.Root}
	case *ast.Move:
		return []string{o.Src.Root}
	case *ast.Assign:
		// Writing through a projection (`*r = v`, `r.f = v`) reads the root.
		if len(o.Dst.Path) > 0 {
			return []string{o.Dst.Root}
		}
	case *ast.Borrow:
		// Reborrowing through a reference (`&*r`) reads the ref.
		if len(o.Target.Path) > 0 {
			return []string{o.Target.Root}
		}
	case *ast.Return:
		if o.Src != nil {
			return []string{o.Src.Root}
		}
	}
	return nil
}

// opDefs returns the bindings an op (re)defines.
func opDefs(op ast.Op) []string {
	switch o := op.(type) {
	case *ast.Declare:
		return []string{o.Name}
	case *ast.Borrow:
		return []string{o.Ref}
	case *ast.Assign:
		if len(o.Dst.Path) == 0 {
			return []string{o.Dst.Root}
		}
	}
	return nil
}

// computeLiveness runs a standard backward worklist over the CFG.
func computeLiveness(fn *ast.FuncBody) *liveness {
	lv := &liveness{liveOut: make(map[string]map[string]bool, len(fn.Blocks))}
	liveIn := make(map[string]map[string]bool, len(fn.Blocks))
	for _, b := range fn.Blocks {
		lv.liveOut[b.Label] = make(map[string]bool)
		liveIn[b.Label] = make(map[string]bool)
	}

	preds := make(map[string][]string)
	for _, b := range fn.Blocks {
		for _, succ := range b.Succs {
			preds[succ] = append(preds[succ], b.Label)
		}
	}

	changed := true
	for changed {
		changed = false
		for i := len(fn.Blocks) - 1; i >= 0; i-- {
			b := fn.Blocks[i]
			out := lv.liveOut[b.Label]
			for _, succ := range b.Succs {
				for name := range liveIn[succ] {
					if !out[name] {
						out[name] = true
						changed = true
					}
				}
			}
			in := blockLiveBefore(b, out)
			first := out
			if len(in) > 0 {
				first = in[0]
			}
			for name := range first {
				if !liveIn[b.Label][name] {
					liveIn[b.Label][name] = true
					changed = true
				}
			}
		}
	}
	return lv
}

// blockLiveBefore walks a block backwards and returns, for each op index,
// the set of bindings live immediately before that op executes.
func blockLiveBefore(b *ast.Block, liveOut map[string]bool) []map[string]bool {
	out := make([]map[string]bool, len(b.Ops))
	live := make(map[string]bool, len(liveOut))
	for name := range liveOut {
		live[name] = true
	}
	for i := len(b.Ops) - 1; i >= 0; i-- {
		for _, name := range opDefs(b.Ops[i]) {
			delete(live, name)
		}
		for _, name := range opUses(b.Ops[i]) {
			live[name] = true
		}
		snapshot := make(map[string]bool, len(live))
		for name := range live {
			snapshot[name] = true
		}
		out[i] = snapshot
	}
	return out
}
