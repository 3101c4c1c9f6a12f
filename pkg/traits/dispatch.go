package traits

import (
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// DispatchTable is the slot layout of a capability used for dynamic
// dispatch: one slot per required method, in declaration order, followed by
// supertrait methods in supertrait declaration order. The back end emits the
// actual table data from this layout.
type DispatchTable struct {
	Capability string
	Slots      []string
}

// SlotOf returns the slot index of a method in the layout.
func (t *DispatchTable) SlotOf(method string) (int, bool) {
	for i, name := range t.Slots {
		if name == method {
			return i, true
		}
	}
	return 0, false
}

// ConcreteTable binds a layout to the implementing functions of one concrete
// type: Targets[i] implements Slots[i].
type ConcreteTable struct {
	Capability string
	Type       string
	Targets    []string
}

// TableLayout returns the dispatch-table layout for a capability, computing
// and caching it on first use. Object safety is enforced here: layouts exist
// only for capabilities that can back a capability-object reference.
func (r *Registry) TableLayout(capability string, span source.Span) (*DispatchTable, error) {
	r.mu.RLock()
	if table, ok := r.tables[capability]; ok {
		r.mu.RUnlock()
		return table, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if table, ok := r.tables[capability]; ok {
		return table, nil
	}
	if _, ok := r.caps[capability]; !ok {
		return nil, diag.New(diag.UnknownCapability, span, "unknown capability '%s'", capability)
	}
	if err := r.checkObjectSafety(capability, span); err != nil {
		return nil, err
	}
	table := &DispatchTable{Capability: capability}
	seen := make(map[string]struct{})
	for _, name := range r.capabilityClosure(capability) {
		super, ok := r.caps[name]
		if !ok {
			continue
		}
		for _, sig := range super.Methods {
			if _, dup := seen[sig.Name]; dup {
				continue
			}
			seen[sig.Name] = struct{}{}
			table.Slots = append(table.Slots, sig.Name)
		}
	}
	r.tables[capability] = table
	return table, nil
}

// BuildCapObject validates the construction of a capability-object reference
// to a concrete type: the capability must be object-safe, and the concrete
// type must implement it. On success it returns the filled dispatch table
// for the (capability, type) pair.
func (r *Registry) BuildCapObject(capability string, concrete types.Type, span source.Span) (*ConcreteTable, error) {
	layout, err := r.TableLayout(capability, span)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]string, len(layout.Slots))
	for i, method := range layout.Slots {
		found := false
		for _, name := range r.capabilityClosure(capability) {
			impl, ok := r.impls[name][targetKey(concrete)]
			if !ok {
				continue
			}
			if fn, ok := impl.Methods[method]; ok {
				targets[i] = fn
				found = true
				break
			}
		}
		if !found {
			return nil, diag.New(diag.UnsatisfiedBound, span,
				"type '%s' does not implement capability '%s'", concrete.Name(), capability)
		}
	}
	return &ConcreteTable{Capability: capability, Type: concrete.Name(), Targets: targets}, nil
}

// Tables returns the layouts of every capability that has been used to build
// a capability-object reference during this pass.
func (r *Registry) Tables() map[string]*DispatchTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*DispatchTable, len(r.tables))
	for name, table := range r.tables {
		out[name] = table
	}
	return out
}
