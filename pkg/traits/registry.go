// Package traits implements the interface-capability system: capability
// declarations, coherence-checked implementations, method resolution and
// capability-object dispatch tables.
package traits

import (
	"sort"
	"strings"
	"sync"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// CopyCapability and DropCapability are the built-in marker capabilities the
// ownership checker consults: a named type is trivially copyable when it
// implements Copy and carries no custom Drop.
const (
	CopyCapability = "Copy"
	DropCapability = "Drop"
)

// Implementation records one registered (capability, target) binding.
type Implementation struct {
	Capability string
	Target     types.Type
	TargetKey  string
	Methods    map[string]string
	Span       source.Span
}

// Registry stores capability declarations and their implementations. All
// registration happens in the first phase of a compilation pass; Freeze
// transitions it to a read-only table safe for concurrent readers.
type Registry struct {
	mu     sync.RWMutex
	frozen bool

	caps map[string]*ast.CapabilityDecl
	// impls is keyed capability -> target key; coherence means at most one
	// entry per pair.
	impls map[string]map[string]*Implementation
	// byTarget indexes implementations by target key for method search.
	byTarget map[string][]*Implementation
	// tables holds dispatch-table layouts for every capability that has been
	// used to build a capability-object reference.
	tables map[string]*DispatchTable
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:     make(map[string]*ast.CapabilityDecl),
		impls:    make(map[string]map[string]*Implementation),
		byTarget: make(map[string][]*Implementation),
		tables:   make(map[string]*DispatchTable),
	}
}

// targetKey canonicalizes an implementation target. Generic targets collapse
// to their base name: coherence is enforced at base granularity, so
// `impl Show for Pair[A, B]` and `impl Show for Pair[i32, i32]` conflict.
func targetKey(t types.Type) string {
	if named, ok := t.(types.Named); ok {
		return named.Base
	}
	return t.Name()
}

// DefineCapability registers a capability declaration. The declaration is
// immutable once registered; a second registration under the same name is a
// DuplicateCapability diagnostic.
func (r *Registry) DefineCapability(decl *ast.CapabilityDecl) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		diag.Defect("traits: DefineCapability(%q) after freeze", decl.Name)
	}
	if prev, ok := r.caps[decl.Name]; ok {
		return diag.New(diag.DuplicateCapability, decl.Span,
			"capability '%s' is already declared", decl.Name).
			WithRelated(prev.Span)
	}
	r.caps[decl.Name] = decl
	return nil
}

// DefineImplementation registers an implementation after checking coherence
// and completeness. The returned error, when non-nil, is a diag.Diagnostic.
func (r *Registry) DefineImplementation(impl *ast.ImplDecl) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		diag.Defect("traits: DefineImplementation(%s for %s) after freeze", impl.Capability, impl.Target.Name())
	}
	decl, ok := r.caps[impl.Capability]
	if !ok {
		return diag.New(diag.UnknownCapability, impl.Span,
			"implementation references undeclared capability '%s'", impl.Capability)
	}

	key := targetKey(impl.Target)
	if prev, exists := r.impls[impl.Capability][key]; exists {
		return diag.New(diag.CoherenceViolation, impl.Span,
			"conflicting implementation of '%s' for '%s'", impl.Capability, key).
			WithRelated(prev.Span)
	}

	provided := make(map[string]string, len(impl.Methods))
	for _, m := range impl.Methods {
		provided[m.Name] = m.FuncID
	}
	var missing []string
	for _, sig := range decl.Methods {
		if _, ok := provided[sig.Name]; !ok && !sig.HasDefault {
			missing = append(missing, sig.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return diag.New(diag.IncompleteImplementation, impl.Span,
			"implementation of '%s' for '%s' is missing methods: %s",
			impl.Capability, key, strings.Join(missing, ", "))
	}
	// Defaulted methods not overridden dispatch to the capability's default
	// body, identified by a derived function id.
	for _, sig := range decl.Methods {
		if _, ok := provided[sig.Name]; !ok {
			provided[sig.Name] = decl.Name + "::" + sig.Name + "::default"
		}
	}

	record := &Implementation{
		Capability: impl.Capability,
		Target:     impl.Target,
		TargetKey:  key,
		Methods:    provided,
		Span:       impl.Span,
	}
	if r.impls[impl.Capability] == nil {
		r.impls[impl.Capability] = make(map[string]*Implementation)
	}
	r.impls[impl.Capability][key] = record
	r.byTarget[key] = append(r.byTarget[key], record)
	return nil
}

// Freeze ends the registration phase. Afterwards the registry is read-only
// and safe to share across analysis workers; further registration is a
// defect in the driving component.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Capability returns a declaration by name.
func (r *Registry) Capability(name string) (*ast.CapabilityDecl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decl, ok := r.caps[name]
	return decl, ok
}

// HasImplementation reports whether an implementation of the capability is
// registered for the concrete type.
func (r *Registry) HasImplementation(capability string, t types.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.impls[capability][targetKey(t)]
	return ok
}

// CheckBounds validates a concrete type against a list of capability bounds,
// returning an UnsatisfiedBound diagnostic naming the first missing
// capability.
func (r *Registry) CheckBounds(concrete types.Type, bounds []string, span source.Span) error {
	for _, capability := range bounds {
		if !r.HasImplementation(capability, concrete) {
			return diag.New(diag.UnsatisfiedBound, span,
				"type '%s' does not satisfy bound '%s'", concrete.Name(), capability)
		}
	}
	return nil
}

// IsTriviallyCopyable reports whether copying a value of type t leaves the
// source usable: the "value type with no custom drop" fact the ownership
// checker queries before treating a read as a move.
func (r *Registry) IsTriviallyCopyable(t types.Type) bool {
	switch ty := t.(type) {
	case types.Prim:
		return true
	case types.Ref:
		// Shared references copy freely; exclusive references move.
		return !ty.Exclusive
	case types.Tuple:
		for _, elem := range ty.Elems {
			if !r.IsTriviallyCopyable(elem) {
				return false
			}
		}
		return true
	case types.Named:
		return r.HasImplementation(CopyCapability, ty) && !r.HasImplementation(DropCapability, ty)
	default:
		return false
	}
}
