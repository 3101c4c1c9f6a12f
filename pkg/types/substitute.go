package types

// Substitute replaces every occurrence of a bound parameter in t with its
// binding, recursing through containers, references, tuples, function types
// and the argument lists of further generic applications. Parameters missing
// from the binding map are left in place; callers that require a total
// substitution check the result with FreeParams.
func Substitute(t Type, bindings map[string]Type) Type {
	if t == nil || len(bindings) == 0 {
		return t
	}
	switch ty := t.(type) {
	case Param:
		if concrete, ok := bindings[ty.Ident]; ok {
			return concrete
		}
		return ty
	case Named:
		if len(ty.Args) == 0 {
			return ty
		}
		args := make([]Type, len(ty.Args))
		for i, arg := range ty.Args {
			args[i] = Substitute(arg, bindings)
		}
		return Named{Base: ty.Base, Args: args}
	case Ref:
		return Ref{Exclusive: ty.Exclusive, Elem: Substitute(ty.Elem, bindings)}
	case Slice:
		return Slice{Elem: Substitute(ty.Elem, bindings)}
	case Tuple:
		elems := make([]Type, len(ty.Elems))
		for i, elem := range ty.Elems {
			elems[i] = Substitute(elem, bindings)
		}
		return Tuple{Elems: elems}
	case Fn:
		params := make([]Type, len(ty.Params))
		for i, p := range ty.Params {
			params[i] = Substitute(p, bindings)
		}
		var ret Type
		if ty.Return != nil {
			ret = Substitute(ty.Return, bindings)
		}
		return Fn{Params: params, Return: ret}
	default:
		return ty
	}
}

// RewriteSelf replaces Self with the receiver type everywhere in t.
func RewriteSelf(t Type, receiver Type) Type {
	if t == nil {
		return nil
	}
	switch ty := t.(type) {
	case SelfType:
		return receiver
	case Named:
		if len(ty.Args) == 0 {
			return ty
		}
		args := make([]Type, len(ty.Args))
		for i, arg := range ty.Args {
			args[i] = RewriteSelf(arg, receiver)
		}
		return Named{Base: ty.Base, Args: args}
	case Ref:
		return Ref{Exclusive: ty.Exclusive, Elem: RewriteSelf(ty.Elem, receiver)}
	case Slice:
		return Slice{Elem: RewriteSelf(ty.Elem, receiver)}
	case Tuple:
		elems := make([]Type, len(ty.Elems))
		for i, elem := range ty.Elems {
			elems[i] = RewriteSelf(elem, receiver)
		}
		return Tuple{Elems: elems}
	case Fn:
		params := make([]Type, len(ty.Params))
		for i, p := range ty.Params {
			params[i] = RewriteSelf(p, receiver)
		}
		var ret Type
		if ty.Return != nil {
			ret = RewriteSelf(ty.Return, receiver)
		}
		return Fn{Params: params, Return: ret}
	default:
		return ty
	}
}
