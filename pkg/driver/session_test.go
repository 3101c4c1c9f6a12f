package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/source"
	"veld/sema/pkg/traits"
	"veld/sema/pkg/types"
)

var (
	f64Ty    = types.Prim{Kind: types.PrimF64}
	circleTy = types.Named{Base: "Circle"}
	squareTy = types.Named{Base: "Square"}
)

// shapeSession registers the Shape capability with Circle and Square
// implementations plus a generic summing function that calls area on its
// element type.
func shapeSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(nil)
	s.AddCapability(ast.Cap("Shape", ast.Sig("area", nil, f64Ty)))
	s.AddImplementation(ast.Impl("Shape", circleTy, "area", "Circle::area"))
	s.AddImplementation(ast.Impl("Shape", squareTy, "area", "Square::area"))

	decl := ast.GenericFuncDecl("total_area",
		[]ast.TypeParam{ast.TP("T", "Shape")},
		[]types.Type{types.Slice{Elem: types.Param{Ident: "T"}}},
		f64Ty)
	decl.Body = &ast.FuncBody{
		Name:   "total_area",
		Params: []ast.ParamDecl{{Name: "items", Ty: types.Slice{Elem: types.Param{Ident: "T"}}}},
		Return: f64Ty,
		Entry:  "entry",
		Blocks: []*ast.Block{ast.Blk("entry", nil,
			ast.DeclareOp(source.At(2, 5), "total", f64Ty),
			ast.CallOp(source.At(3, 5), "call0", types.Param{Ident: "T"}, "area"),
			ast.ReturnOp(source.At(4, 5), &ast.Place{Root: "total"}),
		)},
	}
	s.AddGeneric(decl)
	return s
}

func TestMonomorphizedCallsResolveStatically(t *testing.T) {
	s := shapeSession(t)
	s.AddFunc(ast.Body("render",
		ast.DeclareOp(source.At(10, 1), "shape", types.CapObject{Capability: "Shape"}),
		ast.DynCallOp(source.At(11, 1), "dyn0", types.CapObject{Capability: "Shape"}, "area"),
	))
	s.Freeze()

	circInst, ok := s.Instantiate("total_area", []types.Type{circleTy}, source.None)
	require.True(t, ok)
	require.Equal(t, "total_area_Circle", circInst)
	sqInst, ok := s.Instantiate("total_area", []types.Type{squareTy}, source.None)
	require.True(t, ok)
	_, ok = s.BuildCapObject("Shape", circleTy, source.None)
	require.True(t, ok)

	result, err := s.AnalyzeAll(context.Background())
	require.NoError(t, err)
	require.True(t, result.Sound(), "diagnostics: %v", result.Diagnostics)

	// One verdict per body, all sound.
	require.Len(t, result.Verdicts, 3)
	for name, v := range result.Verdicts {
		assert.True(t, v.Sound(), "function %s: %v", name, v.Diagnostics)
	}

	// Each instance resolves its call against its own element type; no
	// dispatch table is involved.
	circCall := result.Calls[circInst+"#call0"]
	assert.Equal(t, traits.StaticResolution, circCall.Kind)
	assert.Equal(t, "Circle::area", circCall.Target)
	sqCall := result.Calls[sqInst+"#call0"]
	assert.Equal(t, "Square::area", sqCall.Target)

	// The capability-object call goes through the table.
	dynCall := result.Calls["dyn0"]
	assert.Equal(t, traits.DynamicResolution, dynCall.Kind)
	assert.Equal(t, "Shape", dynCall.Capability)
	assert.Equal(t, 0, dynCall.Slot)

	require.Contains(t, result.Tables, "Shape")
	assert.Equal(t, []string{"area"}, result.Tables["Shape"].Slots)

	require.Len(t, result.Instances, 2)
	assert.Equal(t, "total_area_Circle", result.Instances[0].Name)
	assert.Equal(t, "total_area_Square", result.Instances[1].Name)
}

func TestDiagnosticsAccumulateAcrossPhases(t *testing.T) {
	s := shapeSession(t)
	// Second Circle implementation violates coherence at registration time.
	s.AddImplementation(ast.Impl("Shape", circleTy, "area", "Circle::area2"))
	// And a body with a move error fails during analysis.
	s.AddFunc(ast.Body("broken",
		ast.DeclareOp(source.At(1, 1), "s", types.Named{Base: "String"}),
		ast.MoveOp(source.At(2, 1), ast.Local("s")),
		ast.UseOp(source.At(3, 1), ast.Local("s")),
	))
	s.Freeze()

	// An instantiation failure joins the same result.
	_, ok := s.Instantiate("total_area", []types.Type{types.Named{Base: "Blob"}}, source.None)
	require.False(t, ok)

	result, err := s.AnalyzeAll(context.Background())
	require.NoError(t, err)
	require.False(t, result.Sound())

	kinds := make(map[diag.Kind]int)
	for _, d := range result.Diagnostics {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds[diag.CoherenceViolation])
	assert.Equal(t, 1, kinds[diag.UnsatisfiedBound])
	assert.Equal(t, 1, kinds[diag.UseAfterMove])

	require.Contains(t, result.Verdicts, "broken")
	assert.False(t, result.Verdicts["broken"].Sound())
}

func TestUnresolvableCallIsDiagnosedNotFatal(t *testing.T) {
	s := shapeSession(t)
	s.AddFunc(ast.Body("typo",
		ast.CallOp(source.At(1, 1), "call9", circleTy, "perimeter"),
	))
	s.AddFunc(ast.Body("fine",
		ast.CallOp(source.At(5, 1), "call10", circleTy, "area"),
	))
	s.Freeze()

	result, err := s.AnalyzeAll(context.Background())
	require.NoError(t, err)
	require.False(t, result.Sound())

	assert.NotContains(t, result.Calls, "call9")
	require.Contains(t, result.Calls, "call10")
	assert.Equal(t, "Circle::area", result.Calls["call10"].Target)
}

func TestPhaseProtocolDefects(t *testing.T) {
	t.Run("instantiate before freeze", func(t *testing.T) {
		s := shapeSession(t)
		require.Panics(t, func() {
			s.Instantiate("total_area", []types.Type{circleTy}, source.None)
		})
	})
	t.Run("register after freeze", func(t *testing.T) {
		s := shapeSession(t)
		s.Freeze()
		require.Panics(t, func() {
			s.AddFunc(ast.Body("late"))
		})
	})
	t.Run("double freeze", func(t *testing.T) {
		s := shapeSession(t)
		s.Freeze()
		require.Panics(t, s.Freeze)
	})
	t.Run("duplicate body", func(t *testing.T) {
		s := NewSession(nil)
		s.AddFunc(ast.Body("f", ast.DeclareOp(source.At(1, 1), "x", f64Ty)))
		require.Panics(t, func() {
			s.AddFunc(ast.Body("f", ast.DeclareOp(source.At(2, 1), "x", f64Ty)))
		})
	})
	t.Run("dynamic call with concrete receiver", func(t *testing.T) {
		s := shapeSession(t)
		s.AddFunc(ast.Body("bogus",
			ast.DynCallOp(source.At(1, 1), "dyn1", circleTy, "area"),
		))
		s.Freeze()
		require.Panics(t, func() {
			_, _ = s.AnalyzeAll(context.Background())
		})
	})
}

func TestAnalyzeAllHonorsContext(t *testing.T) {
	s := shapeSession(t)
	for i := 0; i < 64; i++ {
		s.AddFunc(ast.Body("f"+string(rune('a'+i/26))+string(rune('a'+i%26)),
			ast.DeclareOp(source.At(1, 1), "x", f64Ty),
		))
	}
	s.Freeze()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.AnalyzeAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
