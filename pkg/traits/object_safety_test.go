package traits

import (
	"testing"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

func TestCloneCapabilityNotObjectSafe(t *testing.T) {
	r := NewRegistry()
	// fn clone_self(&self) -> Self returns the receiver by value, so the
	// capability cannot back a capability-object reference.
	cap := ast.Cap("Clone", ast.Sig("clone_self", nil, types.SelfType{}))
	if err := r.DefineCapability(cap); err != nil {
		t.Fatal(err)
	}
	point := types.Named{Base: "Point"}
	if err := r.DefineImplementation(ast.Impl("Clone", point, "clone_self", "Point::clone_self")); err != nil {
		t.Fatal(err)
	}

	_, err := r.TableLayout("Clone", source.None)
	wantKind(t, err, diag.ObjectSafetyViolation)

	// It stays usable as a static bound and for direct calls.
	if err := r.CheckBounds(point, []string{"Clone"}, source.None); err != nil {
		t.Fatalf("static bound should still hold: %v", err)
	}
	res, err := r.ResolveMethod(point, "clone_self", source.None)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != StaticResolution || res.Target != "Point::clone_self" {
		t.Fatalf("got %s", res)
	}
}

func TestObjectSafetyGateRunsAtFirstUse(t *testing.T) {
	r := NewRegistry()
	// Declaring an object-unsafe capability is fine; only constructing a
	// capability-object reference trips the check.
	cap := ast.Cap("Builder", ast.SigByValue("finish", nil, types.Prim{Kind: types.PrimI32}))
	if err := r.DefineCapability(cap); err != nil {
		t.Fatalf("declaration itself must not be gated: %v", err)
	}
	_, err := r.BuildCapObject("Builder", types.Named{Base: "Report"}, source.None)
	wantKind(t, err, diag.ObjectSafetyViolation)
}

func TestObjectSafetyRules(t *testing.T) {
	str := types.Prim{Kind: types.PrimString}
	cases := []struct {
		name string
		cap  *ast.CapabilityDecl
		safe bool
	}{
		{
			name: "reference receiver and plain types",
			cap:  ast.Cap("Show", ast.Sig("to_string", nil, str)),
			safe: true,
		},
		{
			name: "by-value receiver",
			cap:  ast.Cap("Consume", ast.SigByValue("consume", nil, nil)),
			safe: false,
		},
		{
			name: "method type parameters",
			cap: ast.Cap("Visit", ast.MethodSig{
				Name:       "visit",
				Params:     []types.Type{types.Param{Ident: "V"}},
				TypeParams: []string{"V"},
			}),
			safe: false,
		},
		{
			name: "returns Self by value",
			cap:  ast.Cap("Dup", ast.Sig("dup", nil, types.SelfType{})),
			safe: false,
		},
		{
			name: "returns Self inside a container",
			cap:  ast.Cap("Split", ast.Sig("split", nil, types.Tuple{Elems: []types.Type{types.SelfType{}, types.SelfType{}}})),
			safe: false,
		},
		{
			name: "returns reference to Self",
			cap:  ast.Cap("Identity", ast.Sig("identity", nil, types.Ref{Elem: types.SelfType{}})),
			safe: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.DefineCapability(tc.cap); err != nil {
				t.Fatal(err)
			}
			_, err := r.TableLayout(tc.cap.Name, source.None)
			if tc.safe && err != nil {
				t.Fatalf("expected object-safe, got %v", err)
			}
			if !tc.safe {
				wantKind(t, err, diag.ObjectSafetyViolation)
			}
		})
	}
}

func TestObjectSafetyAssociatedTypeInInputPosition(t *testing.T) {
	r := NewRegistry()
	cap := ast.Cap("Sink", ast.Sig("push", []types.Type{types.Param{Ident: "Item"}}, nil))
	cap.AssocTypes = []string{"Item"}
	if err := r.DefineCapability(cap); err != nil {
		t.Fatal(err)
	}
	_, err := r.TableLayout("Sink", source.None)
	wantKind(t, err, diag.ObjectSafetyViolation)
}

func TestObjectSafetyChecksSupertraits(t *testing.T) {
	r := NewRegistry()
	unsafe := ast.Cap("Clone", ast.Sig("clone_self", nil, types.SelfType{}))
	derived := ast.Cap("Token", ast.Sig("id", nil, types.Prim{Kind: types.PrimI64}))
	derived.Supertraits = []string{"Clone"}
	for _, c := range []*ast.CapabilityDecl{unsafe, derived} {
		if err := r.DefineCapability(c); err != nil {
			t.Fatal(err)
		}
	}
	_, err := r.TableLayout("Token", source.None)
	wantKind(t, err, diag.ObjectSafetyViolation)
}
