package traits

import (
	"sort"
	"strconv"
	"strings"

	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// ResolutionKind tags a dispatch decision.
type ResolutionKind int

const (
	// StaticResolution targets a fixed function; the back end emits a direct
	// call.
	StaticResolution ResolutionKind = iota
	// DynamicResolution goes through a capability-object dispatch table; the
	// back end emits an indirect call through the slot.
	DynamicResolution
)

// MethodResolution is the compile-time dispatch decision for one call site.
type MethodResolution struct {
	Kind       ResolutionKind
	Target     string
	Capability string
	Slot       int
}

func (m MethodResolution) String() string {
	if m.Kind == StaticResolution {
		return "static(" + m.Target + ")"
	}
	return "dynamic(" + m.Capability + "#" + strconv.Itoa(m.Slot) + ")"
}

// ResolveMethod resolves a method call on a receiver type. Concrete receivers
// yield a Static resolution; capability-object receivers yield a Dynamic one.
// Candidates from more than one capability make the call ambiguous unless the
// caller disambiguates with ResolveMethodVia.
func (r *Registry) ResolveMethod(receiver types.Type, method string, span source.Span) (MethodResolution, error) {
	if obj, ok := receiver.(types.CapObject); ok {
		return r.resolveDynamic(obj, method, span)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	candidates := r.staticCandidates(receiver, method)
	switch len(candidates) {
	case 0:
		return MethodResolution{}, diag.New(diag.MethodNotFound, span,
			"no implementation provides method '%s' for type '%s'", method, receiver.Name())
	case 1:
		return MethodResolution{Kind: StaticResolution, Target: candidates[0].impl.Methods[candidates[0].method]}, nil
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.impl.Capability
		}
		sort.Strings(names)
		return MethodResolution{}, diag.New(diag.AmbiguousMethod, span,
			"method '%s' on '%s' is provided by multiple capabilities: %s",
			method, receiver.Name(), strings.Join(names, ", "))
	}
}

// ResolveMethodVia resolves a method call disambiguated by capability path
// (`Shape::area(c)`), searching the named capability first and then its
// declared supertraits.
func (r *Registry) ResolveMethodVia(receiver types.Type, capability, method string, span source.Span) (MethodResolution, error) {
	if obj, ok := receiver.(types.CapObject); ok {
		return r.resolveDynamic(obj, method, span)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.capabilityClosure(capability) {
		impl, ok := r.impls[name][targetKey(receiver)]
		if !ok {
			continue
		}
		if target, ok := impl.Methods[method]; ok {
			return MethodResolution{Kind: StaticResolution, Target: target}, nil
		}
	}
	return MethodResolution{}, diag.New(diag.MethodNotFound, span,
		"capability '%s' provides no method '%s' for type '%s'", capability, method, receiver.Name())
}

type methodCandidate struct {
	impl   *Implementation
	method string
}

// staticCandidates collects implementations applicable to the receiver that
// provide the method, deduplicated by capability. Callers hold r.mu.
func (r *Registry) staticCandidates(receiver types.Type, method string) []methodCandidate {
	var out []methodCandidate
	seen := make(map[string]struct{})
	for _, impl := range r.byTarget[targetKey(receiver)] {
		if _, dup := seen[impl.Capability]; dup {
			continue
		}
		if _, ok := impl.Methods[method]; ok {
			seen[impl.Capability] = struct{}{}
			out = append(out, methodCandidate{impl: impl, method: method})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].impl.Capability < out[j].impl.Capability })
	return out
}

// capabilityClosure returns the capability followed by its supertraits in
// breadth-first declaration order. Callers hold r.mu.
func (r *Registry) capabilityClosure(capability string) []string {
	var order []string
	seen := make(map[string]struct{})
	queue := []string{capability}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		order = append(order, name)
		if decl, ok := r.caps[name]; ok {
			queue = append(queue, decl.Supertraits...)
		}
	}
	return order
}

// resolveDynamic resolves a call through a capability-object reference to a
// dispatch-table slot. The capability must be object-safe; its table layout
// is computed on first use and reused afterwards.
func (r *Registry) resolveDynamic(obj types.CapObject, method string, span source.Span) (MethodResolution, error) {
	layout, err := r.TableLayout(obj.Capability, span)
	if err != nil {
		return MethodResolution{}, err
	}
	slot, ok := layout.SlotOf(method)
	if !ok {
		return MethodResolution{}, diag.New(diag.MethodNotFound, span,
			"capability '%s' declares no method '%s'", obj.Capability, method)
	}
	return MethodResolution{Kind: DynamicResolution, Capability: obj.Capability, Slot: slot}, nil
}
