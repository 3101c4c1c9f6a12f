package generics

import (
	"veld/sema/pkg/ast"
	"veld/sema/pkg/types"
)

// substituteBody clones a generic function body with every type occurrence
// rewritten: local declarations, projection annotations, parameter and
// return types, and the receiver types recorded at call sites. Places and
// control flow are untouched; monomorphization changes types, not shape.
func substituteBody(body *ast.FuncBody, name string, sub func(types.Type) types.Type) *ast.FuncBody {
	out := &ast.FuncBody{
		Name:   name,
		Entry:  body.Entry,
		Return: sub(body.Return),
		Span:   body.Span,
	}
	out.Params = make([]ast.ParamDecl, len(body.Params))
	for i, p := range body.Params {
		out.Params[i] = ast.ParamDecl{
			Name:      p.Name,
			Ty:        sub(p.Ty),
			ByValue:   p.ByValue,
			Exclusive: p.Exclusive,
		}
	}
	if body.PlaceTypes != nil {
		out.PlaceTypes = make(map[string]types.Type, len(body.PlaceTypes))
		for key, ty := range body.PlaceTypes {
			out.PlaceTypes[key] = sub(ty)
		}
	}
	out.Blocks = make([]*ast.Block, len(body.Blocks))
	for i, b := range body.Blocks {
		nb := &ast.Block{
			Label: b.Label,
			Succs: append([]string(nil), b.Succs...),
			Ops:   make([]ast.Op, len(b.Ops)),
		}
		for j, op := range b.Ops {
			nb.Ops[j] = substituteOp(op, name, sub)
		}
		out.Blocks[i] = nb
	}
	return out
}

func substituteOp(op ast.Op, instance string, sub func(types.Type) types.Type) ast.Op {
	switch o := op.(type) {
	case *ast.Declare:
		return ast.DeclareOp(o.OpSpan(), o.Name, sub(o.Ty))
	case *ast.Call:
		clone := *o
		clone.Receiver = sub(o.Receiver)
		// Call sites inside a monomorphized body get instance-qualified
		// identities so dispatch decisions stay per-instantiation.
		clone.Site = instance + "#" + o.Site
		return &clone
	default:
		return op
	}
}
