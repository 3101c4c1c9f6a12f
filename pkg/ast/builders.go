package ast

import (
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// Builder helpers keep fixture and test bodies compact. They construct the
// same records the front end produces.

// DeclareOp introduces a local.
func DeclareOp(span source.Span, name string, ty types.Type) *Declare {
	return &Declare{opSpan: opSpan{Span: span}, Name: name, Ty: ty}
}

// UseOp reads a place.
func UseOp(span source.Span, src Place) *Use {
	return &Use{opSpan: opSpan{Span: span}, Src: src}
}

// MoveOp consumes a place by value.
func MoveOp(span source.Span, src Place) *Move {
	return &Move{opSpan: opSpan{Span: span}, Src: src}
}

// AssignOp re-initializes a place.
func AssignOp(span source.Span, dst Place) *Assign {
	return &Assign{opSpan: opSpan{Span: span}, Dst: dst}
}

// BorrowOp creates a shared reference binding.
func BorrowOp(span source.Span, ref string, target Place) *Borrow {
	return &Borrow{opSpan: opSpan{Span: span}, Ref: ref, Target: target}
}

// BorrowMutOp creates an exclusive reference binding.
func BorrowMutOp(span source.Span, ref string, target Place) *Borrow {
	return &Borrow{opSpan: opSpan{Span: span}, Ref: ref, Target: target, Exclusive: true}
}

// CallOp records a static-receiver call site.
func CallOp(span source.Span, site string, receiver types.Type, method string) *Call {
	return &Call{opSpan: opSpan{Span: span}, Site: site, Receiver: receiver, Method: method}
}

// DynCallOp records a call through a capability-object reference.
func DynCallOp(span source.Span, site string, receiver types.Type, method string) *Call {
	return &Call{opSpan: opSpan{Span: span}, Site: site, Receiver: receiver, Method: method, DynReceiver: true}
}

// ReturnOp ends the function, optionally moving out src.
func ReturnOp(span source.Span, src *Place) *Return {
	return &Return{opSpan: opSpan{Span: span}, Src: src}
}

// EndScopeOp drops the listed locals.
func EndScopeOp(span source.Span, locals ...string) *EndScope {
	return &EndScope{opSpan: opSpan{Span: span}, Locals: locals}
}

// Blk assembles a basic block.
func Blk(label string, succs []string, ops ...Op) *Block {
	return &Block{Label: label, Ops: ops, Succs: succs}
}

// Body assembles a straight-line function body with a single entry block.
func Body(name string, ops ...Op) *FuncBody {
	return &FuncBody{
		Name:   name,
		Entry:  "entry",
		Blocks: []*Block{{Label: "entry", Ops: ops}},
	}
}

// Sig declares a required capability method.
func Sig(name string, params []types.Type, ret types.Type) MethodSig {
	return MethodSig{Name: name, Params: params, Return: ret}
}

// SigByValue declares a required method that takes the receiver by value.
func SigByValue(name string, params []types.Type, ret types.Type) MethodSig {
	return MethodSig{Name: name, Params: params, Return: ret, RecvByValue: true}
}

// Cap declares a capability.
func Cap(name string, methods ...MethodSig) *CapabilityDecl {
	return &CapabilityDecl{Name: name, Methods: methods}
}

// Impl binds a capability to a target with method name/function pairs given
// as alternating name, funcID strings.
func Impl(capability string, target types.Type, pairs ...string) *ImplDecl {
	if len(pairs)%2 != 0 {
		panic("ast.Impl: pairs must alternate method name and function id")
	}
	impl := &ImplDecl{Capability: capability, Target: target}
	for i := 0; i < len(pairs); i += 2 {
		impl.Methods = append(impl.Methods, ImplMethod{Name: pairs[i], FuncID: pairs[i+1]})
	}
	return impl
}

// TP declares a type parameter bounded by the named capabilities.
func TP(ident string, bounds ...string) TypeParam {
	tp := TypeParam{Ident: ident}
	for _, b := range bounds {
		tp.Bounds = append(tp.Bounds, Bound{Capability: b})
	}
	return tp
}

// GenericStructDecl declares a parameterized structure.
func GenericStructDecl(name string, params []TypeParam, fields ...FieldDef) *GenericDecl {
	return &GenericDecl{Name: name, Kind: GenericStruct, Params: params, Fields: fields}
}

// GenericEnumDecl declares a parameterized enumeration.
func GenericEnumDecl(name string, params []TypeParam, variants ...VariantDef) *GenericDecl {
	return &GenericDecl{Name: name, Kind: GenericEnum, Params: params, Variants: variants}
}

// GenericFuncDecl declares a parameterized function.
func GenericFuncDecl(name string, params []TypeParam, funcParams []types.Type, ret types.Type) *GenericDecl {
	return &GenericDecl{Name: name, Kind: GenericFunc, Params: params, FuncParams: funcParams, FuncReturn: ret}
}
