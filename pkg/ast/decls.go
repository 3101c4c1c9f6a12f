package ast

import (
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// MethodSig is a required method of a capability declaration. Params exclude
// the receiver; receiver passing is captured by RecvByValue.
type MethodSig struct {
	Name        string
	Params      []types.Type
	Return      types.Type
	RecvByValue bool
	// TypeParams are method-level generic parameters. A non-empty list makes
	// the capability unusable for capability-object dispatch.
	TypeParams []string
	HasDefault bool
	Span       source.Span
}

// CapabilityDecl is a named contract of required methods. Registered once,
// immutable thereafter.
type CapabilityDecl struct {
	Name        string
	Methods     []MethodSig
	AssocTypes  []string
	Supertraits []string
	Span        source.Span
}

// MethodByName returns the signature of the named method, if declared.
func (c *CapabilityDecl) MethodByName(name string) (MethodSig, bool) {
	for _, m := range c.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodSig{}, false
}

// ImplMethod binds one required method to the concrete function that
// implements it.
type ImplMethod struct {
	Name   string
	FuncID string
	Span   source.Span
}

// ImplDecl binds a (capability, target type) pair to concrete method bodies.
type ImplDecl struct {
	Capability string
	Target     types.Type
	Methods    []ImplMethod
	Span       source.Span
}

// Bound is one capability constraint on a type parameter. Higher-ranked
// bounds and associated-type equalities are represented but not solved; the
// resolver rejects them as unsupported.
type Bound struct {
	Capability   string
	HigherRanked bool
	AssocEqual   map[string]types.Type
}

// TypeParam is one declared generic parameter with its bounds.
type TypeParam struct {
	Ident  string
	Bounds []Bound
}

type GenericKind int

const (
	GenericStruct GenericKind = iota
	GenericEnum
	GenericFunc
)

// FieldDef is a structure field.
type FieldDef struct {
	Name string
	Ty   types.Type
}

// VariantDef is an enumeration variant with an optional payload.
type VariantDef struct {
	Name    string
	Payload []types.Type
}

// GenericDecl is a parameterized structure, enumeration or function as
// declared, exactly once per base name.
type GenericDecl struct {
	Name   string
	Kind   GenericKind
	Params []TypeParam

	// Struct / enum shape.
	Fields   []FieldDef
	Variants []VariantDef

	// Function shape. Body is optional; when present, monomorphization
	// rewrites the types it mentions.
	FuncParams []types.Type
	FuncReturn types.Type
	Body       *FuncBody

	Span source.Span
}

// Arity returns the declared type-parameter count.
func (g *GenericDecl) Arity() int { return len(g.Params) }
