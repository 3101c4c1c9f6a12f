package generics

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"veld/sema/pkg/types"
)

// maxInstanceName bounds generated symbol length. Deeply nested generics can
// otherwise produce names the object format handles poorly; beyond the bound
// the tail collapses into a stable hash.
const maxInstanceName = 96

// InstanceName derives the deterministic canonical name of an instantiation:
// the base name joined with the mangled form of each type argument,
// recursively, so nested generics produce unique, stable names
// (`Pair_i32_Vec_i32`). The function is pure; equal inputs always yield the
// equal name, which the instantiation cache relies on for its identity keys.
func InstanceName(base string, args []types.Type) string {
	if len(args) == 0 {
		return base
	}
	var sb strings.Builder
	sb.WriteString(base)
	for _, arg := range args {
		sb.WriteByte('_')
		sb.WriteString(Mangle(arg))
	}
	name := sb.String()
	if len(name) > maxInstanceName {
		return fmt.Sprintf("%s_h%016x", base, xxhash.Sum64String(name))
	}
	return name
}

// Mangle renders one type as a symbol-safe fragment.
func Mangle(t types.Type) string {
	switch ty := t.(type) {
	case types.Prim:
		return string(ty.Kind)
	case types.Param:
		return ty.Ident
	case types.Named:
		if len(ty.Args) == 0 {
			return ty.Base
		}
		parts := make([]string, 0, len(ty.Args)+1)
		parts = append(parts, ty.Base)
		for _, arg := range ty.Args {
			parts = append(parts, Mangle(arg))
		}
		return strings.Join(parts, "_")
	case types.Ref:
		if ty.Exclusive {
			return "MutRef_" + Mangle(ty.Elem)
		}
		return "Ref_" + Mangle(ty.Elem)
	case types.Slice:
		return "Slice_" + Mangle(ty.Elem)
	case types.Tuple:
		parts := make([]string, 0, len(ty.Elems)+1)
		parts = append(parts, fmt.Sprintf("Tup%d", len(ty.Elems)))
		for _, elem := range ty.Elems {
			parts = append(parts, Mangle(elem))
		}
		return strings.Join(parts, "_")
	case types.Fn:
		parts := make([]string, 0, len(ty.Params)+2)
		parts = append(parts, fmt.Sprintf("Fn%d", len(ty.Params)))
		for _, p := range ty.Params {
			parts = append(parts, Mangle(p))
		}
		if ty.Return != nil {
			parts = append(parts, Mangle(ty.Return))
		}
		return strings.Join(parts, "_")
	case types.CapObject:
		return "Dyn_" + ty.Capability
	case types.SelfType:
		return "Self"
	default:
		return sanitize(t.Name())
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
