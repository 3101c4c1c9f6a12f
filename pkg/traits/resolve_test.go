package traits

import (
	"strings"
	"testing"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

func shapeRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	caps := []*ast.CapabilityDecl{
		ast.Cap("Shape", ast.Sig("area", nil, types.Prim{Kind: types.PrimF64})),
		ast.Cap("Show", ast.Sig("to_string", nil, types.Prim{Kind: types.PrimString})),
	}
	for _, c := range caps {
		if err := r.DefineCapability(c); err != nil {
			t.Fatal(err)
		}
	}
	impls := []*ast.ImplDecl{
		ast.Impl("Shape", types.Named{Base: "Circle"}, "area", "Circle::area"),
		ast.Impl("Shape", types.Named{Base: "Square"}, "area", "Square::area"),
		ast.Impl("Show", types.Named{Base: "Circle"}, "to_string", "Circle::to_string"),
	}
	for _, i := range impls {
		if err := r.DefineImplementation(i); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestResolveMethodStatic(t *testing.T) {
	r := shapeRegistry(t)
	res, err := r.ResolveMethod(types.Named{Base: "Circle"}, "area", source.None)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != StaticResolution || res.Target != "Circle::area" {
		t.Fatalf("got %s, want static(Circle::area)", res)
	}

	res, err = r.ResolveMethod(types.Named{Base: "Square"}, "area", source.None)
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != "Square::area" {
		t.Fatalf("got %s, want static(Square::area)", res)
	}
}

func TestResolveMethodNotFound(t *testing.T) {
	r := shapeRegistry(t)
	_, err := r.ResolveMethod(types.Named{Base: "Square"}, "to_string", source.None)
	wantKind(t, err, diag.MethodNotFound)
}

func TestResolveMethodAmbiguity(t *testing.T) {
	r := shapeRegistry(t)
	if err := r.DefineCapability(ast.Cap("Printable", ast.Sig("to_string", nil, types.Prim{Kind: types.PrimString}))); err != nil {
		t.Fatal(err)
	}
	if err := r.DefineImplementation(ast.Impl("Printable", types.Named{Base: "Circle"}, "to_string", "Circle::print")); err != nil {
		t.Fatal(err)
	}

	_, err := r.ResolveMethod(types.Named{Base: "Circle"}, "to_string", source.None)
	d := wantKind(t, err, diag.AmbiguousMethod)
	if !strings.Contains(d.Message, "Printable") || !strings.Contains(d.Message, "Show") {
		t.Fatalf("ambiguity should list every candidate capability: %s", d.Message)
	}

	// The capability-path form disambiguates.
	res, err := r.ResolveMethodVia(types.Named{Base: "Circle"}, "Printable", "to_string", source.None)
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != "Circle::print" {
		t.Fatalf("got %s, want static(Circle::print)", res)
	}
}

func TestResolveMethodViaSearchesSupertraits(t *testing.T) {
	r := NewRegistry()
	base := ast.Cap("Animal", ast.Sig("name", nil, types.Prim{Kind: types.PrimString}))
	derived := ast.Cap("Pet", ast.Sig("owner", nil, types.Prim{Kind: types.PrimString}))
	derived.Supertraits = []string{"Animal"}
	for _, c := range []*ast.CapabilityDecl{base, derived} {
		if err := r.DefineCapability(c); err != nil {
			t.Fatal(err)
		}
	}
	dog := types.Named{Base: "Dog"}
	if err := r.DefineImplementation(ast.Impl("Animal", dog, "name", "Dog::name")); err != nil {
		t.Fatal(err)
	}
	if err := r.DefineImplementation(ast.Impl("Pet", dog, "owner", "Dog::owner")); err != nil {
		t.Fatal(err)
	}

	res, err := r.ResolveMethodVia(dog, "Pet", "name", source.None)
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != "Dog::name" {
		t.Fatalf("supertrait method should resolve through the derived path, got %s", res)
	}
}

func TestResolveMethodDynamic(t *testing.T) {
	r := shapeRegistry(t)
	obj := types.CapObject{Capability: "Shape"}
	res, err := r.ResolveMethod(obj, "area", source.None)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != DynamicResolution || res.Capability != "Shape" || res.Slot != 0 {
		t.Fatalf("got %s, want dynamic(Shape#0)", res)
	}

	_, err = r.ResolveMethod(obj, "perimeter", source.None)
	wantKind(t, err, diag.MethodNotFound)
}

func TestResolutionString(t *testing.T) {
	static := MethodResolution{Kind: StaticResolution, Target: "Circle::area"}
	if static.String() != "static(Circle::area)" {
		t.Fatalf("got %q", static.String())
	}
	dyn := MethodResolution{Kind: DynamicResolution, Capability: "Shape", Slot: 12}
	if dyn.String() != "dynamic(Shape#12)" {
		t.Fatalf("got %q", dyn.String())
	}
}
