package generics

import (
	"veld/sema/pkg/ast"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// InferTypeArguments unifies each generic parameter occurring in a function's
// declared parameter types against the supplied argument types and returns
// the bindings in declaration order. Methods are registered under
// `Receiver::method` base names; pass method as "" for free functions.
//
// Return-type-only parameters are not inferred from arguments: they surface
// as CannotInfer, matching the design decision that inference flows from the
// argument list alone.
func (r *Resolver) InferTypeArguments(base, method string, argTypes []types.Type, span source.Span) ([]types.Type, error) {
	key := base
	if method != "" {
		key = base + "::" + method
	}
	r.mu.RLock()
	decl, ok := r.defs[key]
	r.mu.RUnlock()
	if !ok {
		return nil, diag.New(diag.UnknownDefinition, span, "generic definition '%s' not found", key)
	}
	if decl.Kind != ast.GenericFunc {
		return nil, diag.New(diag.UnknownDefinition, span, "'%s' is not a generic function", key)
	}
	if len(decl.FuncParams) != len(argTypes) {
		return nil, diag.New(diag.ArityMismatch, span,
			"'%s' expects %d arguments, but %d were provided", key, len(decl.FuncParams), len(argTypes))
	}

	bindings := make(map[string]types.Type)
	for i, param := range decl.FuncParams {
		if err := unify(param, argTypes[i], bindings, span); err != nil {
			return nil, err
		}
	}

	out := make([]types.Type, len(decl.Params))
	for i, tp := range decl.Params {
		bound, ok := bindings[tp.Ident]
		if !ok {
			return nil, diag.New(diag.CannotInfer, span,
				"cannot infer type for parameter '%s' of '%s': it does not occur in the argument list",
				tp.Ident, key)
		}
		out[i] = bound
	}
	return out, nil
}

// unify matches one declared parameter type against a supplied argument
// type, accumulating parameter bindings. Two positions implying different
// concrete types for the same parameter conflict.
func unify(param, arg types.Type, bindings map[string]types.Type, span source.Span) error {
	switch p := param.(type) {
	case types.Param:
		if existing, ok := bindings[p.Ident]; ok {
			if !types.Equal(existing, arg) {
				return diag.New(diag.InferenceConflict, span,
					"inference conflict for '%s': both '%s' and '%s'",
					p.Ident, existing.Name(), arg.Name())
			}
			return nil
		}
		bindings[p.Ident] = arg
		return nil
	case types.Named:
		a, ok := arg.(types.Named)
		if !ok || a.Base != p.Base || len(a.Args) != len(p.Args) {
			return unifyMismatch(param, arg, span)
		}
		for i := range p.Args {
			if err := unify(p.Args[i], a.Args[i], bindings, span); err != nil {
				return err
			}
		}
		return nil
	case types.Ref:
		a, ok := arg.(types.Ref)
		if !ok || a.Exclusive != p.Exclusive {
			return unifyMismatch(param, arg, span)
		}
		return unify(p.Elem, a.Elem, bindings, span)
	case types.Slice:
		a, ok := arg.(types.Slice)
		if !ok {
			return unifyMismatch(param, arg, span)
		}
		return unify(p.Elem, a.Elem, bindings, span)
	case types.Tuple:
		a, ok := arg.(types.Tuple)
		if !ok || len(a.Elems) != len(p.Elems) {
			return unifyMismatch(param, arg, span)
		}
		for i := range p.Elems {
			if err := unify(p.Elems[i], a.Elems[i], bindings, span); err != nil {
				return err
			}
		}
		return nil
	case types.Fn:
		a, ok := arg.(types.Fn)
		if !ok || len(a.Params) != len(p.Params) {
			return unifyMismatch(param, arg, span)
		}
		for i := range p.Params {
			if err := unify(p.Params[i], a.Params[i], bindings, span); err != nil {
				return err
			}
		}
		if p.Return != nil && a.Return != nil {
			return unify(p.Return, a.Return, bindings, span)
		}
		return nil
	default:
		if types.Equal(param, arg) {
			return nil
		}
		return unifyMismatch(param, arg, span)
	}
}

func unifyMismatch(param, arg types.Type, span source.Span) error {
	return diag.New(diag.InferenceConflict, span,
		"cannot unify parameter type '%s' with argument type '%s'", param.Name(), arg.Name())
}
