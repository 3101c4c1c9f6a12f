package traits

import (
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// checkObjectSafety decides whether a capability can back a capability-object
// reference. The check runs at the point of first attempted construction,
// not at declaration time: a capability may be perfectly usable for static
// bounds and still be rejected here. Callers hold r.mu.
//
// A capability is object-safe when, across it and its supertraits:
//   - every required method takes the receiver by reference,
//   - no method returns Self by value,
//   - no method carries its own type parameters,
//   - no method mentions the capability's associated types in input position.
func (r *Registry) checkObjectSafety(capability string, span source.Span) error {
	for _, name := range r.capabilityClosure(capability) {
		decl, ok := r.caps[name]
		if !ok {
			continue
		}
		assoc := make(map[string]struct{}, len(decl.AssocTypes))
		for _, slot := range decl.AssocTypes {
			assoc[slot] = struct{}{}
		}
		for _, sig := range decl.Methods {
			if sig.RecvByValue {
				return diag.New(diag.ObjectSafetyViolation, span,
					"capability '%s' is not object-safe: method '%s' takes the receiver by value",
					capability, sig.Name)
			}
			if len(sig.TypeParams) > 0 {
				return diag.New(diag.ObjectSafetyViolation, span,
					"capability '%s' is not object-safe: method '%s' has its own type parameters",
					capability, sig.Name)
			}
			if returnsSelfByValue(sig.Return) {
				return diag.New(diag.ObjectSafetyViolation, span,
					"capability '%s' is not object-safe: method '%s' returns Self by value",
					capability, sig.Name)
			}
			for _, param := range sig.Params {
				if mentionsAssoc(param, assoc) {
					return diag.New(diag.ObjectSafetyViolation, span,
						"capability '%s' is not object-safe: method '%s' uses an associated type in input position",
						capability, sig.Name)
				}
			}
		}
	}
	return nil
}

// returnsSelfByValue reports whether t is Self outside of a reference.
// `&Self` and `&mut Self` returns are erased through the object and stay
// legal.
func returnsSelfByValue(t types.Type) bool {
	switch ty := t.(type) {
	case nil:
		return false
	case types.SelfType:
		return true
	case types.Ref:
		return false
	case types.Named:
		for _, arg := range ty.Args {
			if returnsSelfByValue(arg) {
				return true
			}
		}
	case types.Tuple:
		for _, elem := range ty.Elems {
			if returnsSelfByValue(elem) {
				return true
			}
		}
	case types.Slice:
		return returnsSelfByValue(ty.Elem)
	}
	return false
}

func mentionsAssoc(t types.Type, assoc map[string]struct{}) bool {
	if len(assoc) == 0 {
		return false
	}
	switch ty := t.(type) {
	case types.Named:
		if _, ok := assoc[ty.Base]; ok {
			return true
		}
		for _, arg := range ty.Args {
			if mentionsAssoc(arg, assoc) {
				return true
			}
		}
	case types.Param:
		_, ok := assoc[ty.Ident]
		return ok
	case types.Ref:
		return mentionsAssoc(ty.Elem, assoc)
	case types.Slice:
		return mentionsAssoc(ty.Elem, assoc)
	case types.Tuple:
		for _, elem := range ty.Elems {
			if mentionsAssoc(elem, assoc) {
				return true
			}
		}
	case types.Fn:
		for _, p := range ty.Params {
			if mentionsAssoc(p, assoc) {
				return true
			}
		}
		if ty.Return != nil {
			return mentionsAssoc(ty.Return, assoc)
		}
	}
	return false
}
