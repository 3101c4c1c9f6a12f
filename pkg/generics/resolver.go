// Package generics performs generic instantiation and monomorphization:
// one canonical concrete definition per distinct (base, type arguments)
// pair, validated against capability bounds and cached for the rest of the
// compilation.
package generics

import (
	"log/slog"
	"sort"
	"sync"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/traits"
	"veld/sema/pkg/types"
)

// ConcreteDefinition is a fully substituted definition ready for lowering.
// Exactly one exists per distinct instantiation, never one per call site.
type ConcreteDefinition struct {
	Kind       ast.GenericKind
	Name       string
	Fields     []ast.FieldDef
	Variants   []ast.VariantDef
	FuncParams []types.Type
	FuncReturn types.Type
	Body       *ast.FuncBody
}

// Instance is one cached instantiation record.
type Instance struct {
	Base string
	Args []types.Type
	Name string
	Def  ConcreteDefinition
}

// Resolver owns the generic definitions and the instantiation cache. The
// cache is the one piece of shared mutable state during the analysis phase;
// it uses insert-if-absent semantics so racing workers converge on a single
// winner and losers adopt its result.
type Resolver struct {
	reg *traits.Registry
	log *slog.Logger

	mu     sync.RWMutex
	frozen bool
	defs   map[string]*ast.GenericDecl

	instances sync.Map // canonical instance name -> *Instance
}

// NewResolver builds a resolver that validates bounds against reg.
func NewResolver(reg *traits.Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		reg:  reg,
		log:  logger,
		defs: make(map[string]*ast.GenericDecl),
	}
}

// RegisterGeneric stores a parameterized definition. Re-registration of the
// same base name is a DuplicateDefinition diagnostic. Bounds requiring
// higher-ranked reasoning or associated-type equality are rejected here as
// UnsupportedConstraint rather than silently approximated.
func (r *Resolver) RegisterGeneric(decl *ast.GenericDecl) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		diag.Defect("generics: RegisterGeneric(%q) after freeze", decl.Name)
	}
	if prev, ok := r.defs[decl.Name]; ok {
		return diag.New(diag.DuplicateDefinition, decl.Span,
			"generic definition '%s' already exists", decl.Name).
			WithRelated(prev.Span)
	}
	for _, param := range decl.Params {
		for _, bound := range param.Bounds {
			if bound.HigherRanked || len(bound.AssocEqual) > 0 {
				return diag.New(diag.UnsupportedConstraint, decl.Span,
					"bound on '%s' of '%s' requires higher-ranked or associated-type reasoning, which is not supported",
					param.Ident, decl.Name)
			}
		}
	}
	r.defs[decl.Name] = decl
	return nil
}

// Freeze ends definition registration. Instantiation stays available: it is
// the analysis-phase workload.
func (r *Resolver) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Definition returns a registered generic by base name.
func (r *Resolver) Definition(base string) (*ast.GenericDecl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decl, ok := r.defs[base]
	return decl, ok
}

// Instantiate produces (or retrieves) the canonical instance for the given
// base and type arguments and returns its generated name. Two call sites
// requesting the same instantiation always resolve to the identical
// definition.
func (r *Resolver) Instantiate(base string, args []types.Type, span source.Span) (string, error) {
	inst, err := r.instantiate(base, args, span)
	if err != nil {
		return "", err
	}
	return inst.Name, nil
}

// InstantiateDef is Instantiate plus the concrete definition.
func (r *Resolver) InstantiateDef(base string, args []types.Type, span source.Span) (*Instance, error) {
	return r.instantiate(base, args, span)
}

func (r *Resolver) instantiate(base string, args []types.Type, span source.Span) (*Instance, error) {
	r.mu.RLock()
	decl, ok := r.defs[base]
	r.mu.RUnlock()
	if !ok {
		return nil, diag.New(diag.UnknownDefinition, span, "generic definition '%s' not found", base)
	}
	if len(args) != decl.Arity() {
		return nil, diag.New(diag.ArityMismatch, span,
			"generic '%s' expects %d type arguments, but %d were provided",
			base, decl.Arity(), len(args))
	}

	name := InstanceName(base, args)
	if cached, ok := r.instances.Load(name); ok {
		return cached.(*Instance), nil
	}

	// Bound validation consults the capability system per parameter.
	bindings := make(map[string]types.Type, len(args))
	for i, param := range decl.Params {
		bindings[param.Ident] = args[i]
		bounds := make([]string, len(param.Bounds))
		for j, b := range param.Bounds {
			bounds[j] = b.Capability
		}
		if err := r.reg.CheckBounds(args[i], bounds, span); err != nil {
			return nil, err
		}
	}

	built := &Instance{
		Base: base,
		Args: append([]types.Type(nil), args...),
		Name: name,
		Def:  r.monomorphize(decl, name, bindings),
	}
	// Insert-if-absent: a racing worker may have published first; adopt the
	// winner so downstream code generation sees one definition per key.
	actual, loaded := r.instances.LoadOrStore(name, built)
	if !loaded {
		r.log.Debug("generics: instantiated",
			slog.String("base", base), slog.String("instance", name))
	}
	return actual.(*Instance), nil
}

// monomorphize substitutes every parameter occurrence in the definition. A
// parameter surviving substitution means the caller bound the wrong set of
// parameters: a defect, not a user diagnostic.
func (r *Resolver) monomorphize(decl *ast.GenericDecl, name string, bindings map[string]types.Type) ConcreteDefinition {
	out := ConcreteDefinition{Kind: decl.Kind, Name: name}
	sub := func(t types.Type) types.Type {
		if t == nil {
			return nil
		}
		concrete := types.Substitute(t, bindings)
		for _, free := range types.FreeParams(concrete) {
			if _, bound := bindings[free]; bound {
				diag.Defect("generics: parameter '%s' survived substitution in '%s'", free, name)
			}
		}
		return concrete
	}

	switch decl.Kind {
	case ast.GenericStruct:
		out.Fields = make([]ast.FieldDef, len(decl.Fields))
		for i, f := range decl.Fields {
			out.Fields[i] = ast.FieldDef{Name: f.Name, Ty: sub(f.Ty)}
		}
	case ast.GenericEnum:
		out.Variants = make([]ast.VariantDef, len(decl.Variants))
		for i, v := range decl.Variants {
			payload := make([]types.Type, len(v.Payload))
			for j, p := range v.Payload {
				payload[j] = sub(p)
			}
			out.Variants[i] = ast.VariantDef{Name: v.Name, Payload: payload}
		}
	case ast.GenericFunc:
		out.FuncParams = make([]types.Type, len(decl.FuncParams))
		for i, p := range decl.FuncParams {
			out.FuncParams[i] = sub(p)
		}
		out.FuncReturn = sub(decl.FuncReturn)
		if decl.Body != nil {
			out.Body = substituteBody(decl.Body, name, sub)
		}
	default:
		diag.Defect("generics: unknown definition kind %d for '%s'", decl.Kind, decl.Name)
	}
	return out
}

// IsInstantiated reports whether the exact instantiation is already cached.
func (r *Resolver) IsInstantiated(base string, args []types.Type) bool {
	_, ok := r.instances.Load(InstanceName(base, args))
	return ok
}

// Instances returns every cached instance, sorted by instance name for
// deterministic downstream emission.
func (r *Resolver) Instances() []*Instance {
	var out []*Instance
	r.instances.Range(func(_, v any) bool {
		out = append(out, v.(*Instance))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
