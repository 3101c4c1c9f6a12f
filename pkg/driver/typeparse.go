package driver

import (
	"fmt"
	"strings"

	"veld/sema/pkg/types"
)

// parseType decodes the compact type notation used by unit fixtures:
// `i32`, `Vec[i32]`, `&mut Point`, `[]T`, `(i32, str)`, `fn(i32) -> bool`,
// `dyn Show`, `Self`. Idents listed in scope decode as type parameters.
// This is fixture notation, not language syntax; the production front end
// hands the core structured records directly.
func parseType(spec string, scope map[string]bool) (types.Type, error) {
	p := &typeParser{input: strings.TrimSpace(spec), scope: scope}
	ty, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("driver: type %q: %w", spec, err)
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("driver: type %q: trailing input at %d", spec, p.pos)
	}
	return ty, nil
}

func parseTypeList(specs []string, scope map[string]bool) ([]types.Type, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]types.Type, len(specs))
	for i, spec := range specs {
		ty, err := parseType(spec, scope)
		if err != nil {
			return nil, err
		}
		out[i] = ty
	}
	return out, nil
}

var primNames = map[string]types.PrimKind{
	"unit": types.PrimUnit,
	"bool": types.PrimBool,
	"char": types.PrimChar,
	"str":  types.PrimString,
	"i32":  types.PrimI32,
	"i64":  types.PrimI64,
	"f32":  types.PrimF32,
	"f64":  types.PrimF64,
}

type typeParser struct {
	input string
	pos   int
	scope map[string]bool
}

func (p *typeParser) parse() (types.Type, error) {
	p.skipSpaces()
	switch {
	case p.eat("&mut "):
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		return types.Ref{Exclusive: true, Elem: elem}, nil
	case p.eat("&"):
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		return types.Ref{Elem: elem}, nil
	case p.eat("[]"):
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		return types.Slice{Elem: elem}, nil
	case p.eat("dyn "):
		name := p.ident()
		if name == "" {
			return nil, fmt.Errorf("expected capability name after 'dyn'")
		}
		return types.CapObject{Capability: name}, nil
	case p.eat("fn("):
		return p.parseFn()
	case p.eat("("):
		return p.parseTuple()
	}

	name := p.ident()
	if name == "" {
		return nil, fmt.Errorf("expected type at position %d", p.pos)
	}
	if name == "Self" {
		return types.SelfType{}, nil
	}
	if kind, ok := primNames[name]; ok {
		return types.Prim{Kind: kind}, nil
	}
	if p.scope[name] {
		return types.Param{Ident: name}, nil
	}
	if p.eat("[") {
		var args []types.Type
		for {
			arg, err := p.parse()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			p.skipSpaces()
			if p.eat(",") {
				continue
			}
			if p.eat("]") {
				break
			}
			return nil, fmt.Errorf("expected ',' or ']' at position %d", p.pos)
		}
		return types.Named{Base: name, Args: args}, nil
	}
	return types.Named{Base: name}, nil
}

func (p *typeParser) parseTuple() (types.Type, error) {
	var elems []types.Type
	for {
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
		p.skipSpaces()
		if p.eat(",") {
			continue
		}
		if p.eat(")") {
			return types.Tuple{Elems: elems}, nil
		}
		return nil, fmt.Errorf("expected ',' or ')' at position %d", p.pos)
	}
}

func (p *typeParser) parseFn() (types.Type, error) {
	fn := types.Fn{}
	p.skipSpaces()
	if !p.eat(")") {
		for {
			param, err := p.parse()
			if err != nil {
				return nil, err
			}
			fn.Params = append(fn.Params, param)
			p.skipSpaces()
			if p.eat(",") {
				continue
			}
			if p.eat(")") {
				break
			}
			return nil, fmt.Errorf("expected ',' or ')' at position %d", p.pos)
		}
	}
	p.skipSpaces()
	if p.eat("->") {
		ret, err := p.parse()
		if err != nil {
			return nil, err
		}
		fn.Return = ret
	}
	return fn, nil
}

func (p *typeParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) eat(prefix string) bool {
	if strings.HasPrefix(p.input[p.pos:], prefix) {
		p.pos += len(prefix)
		return true
	}
	return false
}

func (p *typeParser) ident() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}
