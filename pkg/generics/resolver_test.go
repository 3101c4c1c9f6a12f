package generics

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/traits"
	"veld/sema/pkg/types"
)

var (
	i32 = types.Prim{Kind: types.PrimI32}
	f64 = types.Prim{Kind: types.PrimF64}
	str = types.Prim{Kind: types.PrimString}
)

func wantKind(t *testing.T, err error, kind diag.Kind) diag.Diagnostic {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s diagnostic, got nil", kind)
	}
	var d diag.Diagnostic
	if !errors.As(err, &d) {
		t.Fatalf("expected diag.Diagnostic, got %T: %v", err, err)
	}
	if d.Kind != kind {
		t.Fatalf("expected %s, got %s: %s", kind, d.Kind, d.Message)
	}
	return d
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(traits.NewRegistry(), nil)
}

func pairDecl() *ast.GenericDecl {
	return ast.GenericStructDecl("Pair",
		[]ast.TypeParam{ast.TP("A"), ast.TP("B")},
		ast.FieldDef{Name: "first", Ty: types.Param{Ident: "A"}},
		ast.FieldDef{Name: "second", Ty: types.Param{Ident: "B"}},
	)
}

func TestRegisterGenericRejectsDuplicates(t *testing.T) {
	r := newTestResolver(t)
	if err := r.RegisterGeneric(pairDecl()); err != nil {
		t.Fatal(err)
	}
	wantKind(t, r.RegisterGeneric(pairDecl()), diag.DuplicateDefinition)
}

func TestRegisterGenericRejectsUnsupportedConstraints(t *testing.T) {
	r := newTestResolver(t)

	ranked := ast.GenericFuncDecl("apply_all",
		[]ast.TypeParam{{Ident: "F", Bounds: []ast.Bound{{Capability: "Fn", HigherRanked: true}}}},
		[]types.Type{types.Param{Ident: "F"}}, nil)
	wantKind(t, r.RegisterGeneric(ranked), diag.UnsupportedConstraint)

	assoc := ast.GenericFuncDecl("collect",
		[]ast.TypeParam{{Ident: "I", Bounds: []ast.Bound{{
			Capability: "Iterator",
			AssocEqual: map[string]types.Type{"Item": i32},
		}}}},
		[]types.Type{types.Param{Ident: "I"}}, nil)
	wantKind(t, r.RegisterGeneric(assoc), diag.UnsupportedConstraint)
}

func TestInstantiateStruct(t *testing.T) {
	r := newTestResolver(t)
	if err := r.RegisterGeneric(pairDecl()); err != nil {
		t.Fatal(err)
	}

	inst, err := r.InstantiateDef("Pair", []types.Type{i32, str}, source.None)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Name != "Pair_i32_str" {
		t.Fatalf("instance name = %q", inst.Name)
	}
	if len(inst.Def.Fields) != 2 ||
		inst.Def.Fields[0].Ty.Name() != "i32" ||
		inst.Def.Fields[1].Ty.Name() != "str" {
		t.Fatalf("fields not substituted: %+v", inst.Def.Fields)
	}
}

func TestInstantiateIsIdempotent(t *testing.T) {
	r := newTestResolver(t)
	if err := r.RegisterGeneric(pairDecl()); err != nil {
		t.Fatal(err)
	}

	first, err := r.InstantiateDef("Pair", []types.Type{i32, i32}, source.At(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.InstantiateDef("Pair", []types.Type{i32, i32}, source.At(99, 1))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("repeated instantiation must return the cached instance")
	}
	if first.Name != "Pair_i32_i32" {
		t.Fatalf("instance name = %q", first.Name)
	}
	if got := len(r.Instances()); got != 1 {
		t.Fatalf("cache holds %d instances, want 1", got)
	}
	if !r.IsInstantiated("Pair", []types.Type{i32, i32}) {
		t.Fatalf("IsInstantiated should see the cached entry")
	}
	if r.IsInstantiated("Pair", []types.Type{i32, f64}) {
		t.Fatalf("different arguments are a different instance")
	}
}

func TestInstantiateDiagnostics(t *testing.T) {
	reg := traits.NewRegistry()
	if err := reg.DefineCapability(ast.Cap("Show")); err != nil {
		t.Fatal(err)
	}
	point := types.Named{Base: "Point"}
	if err := reg.DefineImplementation(ast.Impl("Show", point)); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(reg, nil)
	decl := ast.GenericStructDecl("Box",
		[]ast.TypeParam{ast.TP("T", "Show")},
		ast.FieldDef{Name: "value", Ty: types.Param{Ident: "T"}},
	)
	if err := r.RegisterGeneric(decl); err != nil {
		t.Fatal(err)
	}

	_, err := r.Instantiate("Ghost", []types.Type{i32}, source.None)
	wantKind(t, err, diag.UnknownDefinition)

	_, err = r.Instantiate("Box", []types.Type{i32, i32}, source.None)
	wantKind(t, err, diag.ArityMismatch)

	// i32 carries no Show implementation.
	_, err = r.Instantiate("Box", []types.Type{i32}, source.None)
	wantKind(t, err, diag.UnsatisfiedBound)

	if _, err := r.Instantiate("Box", []types.Type{point}, source.None); err != nil {
		t.Fatalf("satisfied bound rejected: %v", err)
	}
}

func TestInstantiateEnum(t *testing.T) {
	r := newTestResolver(t)
	decl := ast.GenericEnumDecl("Option",
		[]ast.TypeParam{ast.TP("T")},
		ast.VariantDef{Name: "Some", Payload: []types.Type{types.Param{Ident: "T"}}},
		ast.VariantDef{Name: "None"},
	)
	if err := r.RegisterGeneric(decl); err != nil {
		t.Fatal(err)
	}
	inst, err := r.InstantiateDef("Option", []types.Type{types.Named{Base: "Vec", Args: []types.Type{i32}}}, source.None)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Name != "Option_Vec_i32" {
		t.Fatalf("nested instance name = %q", inst.Name)
	}
	if inst.Def.Variants[0].Payload[0].Name() != "Vec[i32]" {
		t.Fatalf("payload not substituted: %+v", inst.Def.Variants[0])
	}
}

func TestInstantiateFuncRewritesBody(t *testing.T) {
	r := newTestResolver(t)
	body := &ast.FuncBody{
		Name:   "largest",
		Params: []ast.ParamDecl{{Name: "items", Ty: types.Slice{Elem: types.Param{Ident: "T"}}}},
		Return: types.Param{Ident: "T"},
		Entry:  "entry",
		Blocks: []*ast.Block{ast.Blk("entry", nil,
			ast.DeclareOp(source.At(2, 1), "best", types.Param{Ident: "T"}),
			ast.CallOp(source.At(3, 1), "call0", types.Param{Ident: "T"}, "compare"),
			ast.ReturnOp(source.At(4, 1), &ast.Place{Root: "best"}),
		)},
	}
	decl := ast.GenericFuncDecl("largest",
		[]ast.TypeParam{ast.TP("T")},
		[]types.Type{types.Slice{Elem: types.Param{Ident: "T"}}},
		types.Param{Ident: "T"})
	decl.Body = body
	if err := r.RegisterGeneric(decl); err != nil {
		t.Fatal(err)
	}

	inst, err := r.InstantiateDef("largest", []types.Type{f64}, source.None)
	if err != nil {
		t.Fatal(err)
	}
	def := inst.Def
	if def.FuncParams[0].Name() != "[]f64" || def.FuncReturn.Name() != "f64" {
		t.Fatalf("signature not substituted: %v -> %v", def.FuncParams[0], def.FuncReturn)
	}
	declOp := def.Body.Blocks[0].Ops[0].(*ast.Declare)
	if declOp.Ty.Name() != "f64" {
		t.Fatalf("local declaration kept the parameter type: %s", declOp.Ty.Name())
	}
	call := def.Body.Blocks[0].Ops[1].(*ast.Call)
	if call.Receiver.Name() != "f64" {
		t.Fatalf("call receiver kept the parameter type: %s", call.Receiver.Name())
	}
	if call.Site != "largest_f64#call0" {
		t.Fatalf("call site should be instance-qualified, got %q", call.Site)
	}
	// The registered declaration is untouched.
	if body.Blocks[0].Ops[0].(*ast.Declare).Ty.Name() != "T" {
		t.Fatalf("monomorphization mutated the registered body")
	}
}

func TestInstanceNameOverflowCollapsesToHash(t *testing.T) {
	deep := types.Type(i32)
	for i := 0; i < 30; i++ {
		deep = types.Named{Base: "Wrap", Args: []types.Type{deep}}
	}
	name := InstanceName("Holder", []types.Type{deep})
	if len(name) > maxInstanceName {
		t.Fatalf("hashed name still too long: %d bytes", len(name))
	}
	if !strings.HasPrefix(name, "Holder_h") {
		t.Fatalf("hashed name should keep the base prefix, got %q", name)
	}
	if again := InstanceName("Holder", []types.Type{deep}); again != name {
		t.Fatalf("hashed names must be deterministic: %q vs %q", name, again)
	}
}

func TestMangleShapes(t *testing.T) {
	cases := []struct {
		ty   types.Type
		want string
	}{
		{types.Ref{Elem: i32}, "Ref_i32"},
		{types.Ref{Exclusive: true, Elem: str}, "MutRef_str"},
		{types.Slice{Elem: i32}, "Slice_i32"},
		{types.Tuple{Elems: []types.Type{i32, str}}, "Tup2_i32_str"},
		{types.Fn{Params: []types.Type{i32}, Return: str}, "Fn1_i32_str"},
		{types.CapObject{Capability: "Show"}, "Dyn_Show"},
		{types.Named{Base: "Map", Args: []types.Type{str, i32}}, "Map_str_i32"},
	}
	for _, tc := range cases {
		if got := Mangle(tc.ty); got != tc.want {
			t.Errorf("Mangle(%s) = %q, want %q", tc.ty.Name(), got, tc.want)
		}
	}
}

func TestConcurrentInstantiationSingleWinner(t *testing.T) {
	r := newTestResolver(t)
	if err := r.RegisterGeneric(pairDecl()); err != nil {
		t.Fatal(err)
	}
	r.Freeze()

	const workers = 16
	results := make([]*Instance, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := r.InstantiateDef("Pair", []types.Type{i32, str}, source.None)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = inst
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("workers disagree on the canonical instance")
		}
	}
	if got := len(r.Instances()); got != 1 {
		t.Fatalf("cache holds %d instances, want 1", got)
	}
}

func TestInstancesSortedByName(t *testing.T) {
	r := newTestResolver(t)
	if err := r.RegisterGeneric(pairDecl()); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]types.Type{{str, str}, {i32, i32}, {f64, i32}} {
		if _, err := r.Instantiate("Pair", args, source.None); err != nil {
			t.Fatal(err)
		}
	}
	insts := r.Instances()
	for i := 1; i < len(insts); i++ {
		if insts[i-1].Name >= insts[i].Name {
			t.Fatalf("instances out of order: %q before %q", insts[i-1].Name, insts[i].Name)
		}
	}
}

func TestRegistrationAfterFreezeIsADefect(t *testing.T) {
	r := newTestResolver(t)
	r.Freeze()
	defer func() {
		if recover() == nil {
			t.Fatalf("registration after freeze must panic")
		}
	}()
	_ = r.RegisterGeneric(pairDecl())
}
