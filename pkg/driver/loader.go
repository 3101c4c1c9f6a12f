package driver

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/source"
	"veld/sema/pkg/types"
)

// UnitFile is the YAML form of a compilation unit as the debug harness
// consumes it: the same declaration records the production front end feeds
// through the Session API, plus the instantiation and capability-object
// requests to replay.
type UnitFile struct {
	Unit         string        `yaml:"unit"`
	Capabilities []capYAML     `yaml:"capabilities"`
	Impls        []implYAML    `yaml:"impls"`
	Generics     []genericYAML `yaml:"generics"`
	Functions    []funcYAML    `yaml:"functions"`
	Instantiate  []instYAML    `yaml:"instantiate"`
	CapObjects   []capObjYAML  `yaml:"cap_objects"`
}

type capYAML struct {
	Name        string       `yaml:"name"`
	Supertraits []string     `yaml:"supertraits"`
	AssocTypes  []string     `yaml:"assoc_types"`
	Methods     []methodYAML `yaml:"methods"`
	At          string       `yaml:"at"`
}

type methodYAML struct {
	Name        string   `yaml:"name"`
	Params      []string `yaml:"params"`
	Return      string   `yaml:"return"`
	RecvByValue bool     `yaml:"recv_by_value"`
	TypeParams  []string `yaml:"type_params"`
	HasDefault  bool     `yaml:"has_default"`
}

type implYAML struct {
	Capability string            `yaml:"capability"`
	Target     string            `yaml:"target"`
	Methods    map[string]string `yaml:"methods"`
	At         string            `yaml:"at"`
}

type genericYAML struct {
	Name     string            `yaml:"name"`
	Kind     string            `yaml:"kind"`
	Params   []typeParamYAML   `yaml:"params"`
	Fields   map[string]string `yaml:"fields"`
	Variants []variantYAML     `yaml:"variants"`
	FnParams []string          `yaml:"fn_params"`
	FnReturn string            `yaml:"fn_return"`
	Body     *funcYAML         `yaml:"body"`
	At       string            `yaml:"at"`
}

type typeParamYAML struct {
	Ident  string   `yaml:"ident"`
	Bounds []string `yaml:"bounds"`
}

type variantYAML struct {
	Name    string   `yaml:"name"`
	Payload []string `yaml:"payload"`
}

type funcYAML struct {
	Name       string            `yaml:"name"`
	Params     []fnParamYAML     `yaml:"params"`
	Return     string            `yaml:"return"`
	Entry      string            `yaml:"entry"`
	PlaceTypes map[string]string `yaml:"place_types"`
	Blocks     []blockYAML       `yaml:"blocks"`
}

type fnParamYAML struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	ByValue   bool   `yaml:"by_value"`
	Exclusive bool   `yaml:"exclusive"`
}

type blockYAML struct {
	Label string   `yaml:"label"`
	Succs []string `yaml:"succs"`
	Ops   []opYAML `yaml:"ops"`
}

type opYAML struct {
	Op       string   `yaml:"op"`
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Place    string   `yaml:"place"`
	Ref      string   `yaml:"ref"`
	Target   string   `yaml:"target"`
	Site     string   `yaml:"site"`
	Receiver string   `yaml:"receiver"`
	Method   string   `yaml:"method"`
	Locals   []string `yaml:"locals"`
	At       string   `yaml:"at"`
}

type instYAML struct {
	Base string   `yaml:"base"`
	Args []string `yaml:"args"`
	At   string   `yaml:"at"`
}

type capObjYAML struct {
	Capability string `yaml:"capability"`
	Type       string `yaml:"type"`
	At         string `yaml:"at"`
}

// LoadUnit reads and decodes a unit fixture.
func LoadUnit(path string) (*UnitFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("driver: read unit: %w", err)
	}
	var unit UnitFile
	if err := yaml.Unmarshal(data, &unit); err != nil {
		return nil, fmt.Errorf("driver: decode unit %s: %w", path, err)
	}
	return &unit, nil
}

// Apply replays the unit through a session: registration, freeze, then the
// recorded instantiation and capability-object requests. The caller runs
// AnalyzeAll afterwards.
func (u *UnitFile) Apply(s *Session) error {
	for _, c := range u.Capabilities {
		decl, err := c.build()
		if err != nil {
			return err
		}
		s.AddCapability(decl)
	}
	for _, im := range u.Impls {
		decl, err := im.build()
		if err != nil {
			return err
		}
		s.AddImplementation(decl)
	}
	for _, g := range u.Generics {
		decl, err := g.build()
		if err != nil {
			return err
		}
		s.AddGeneric(decl)
	}
	for _, f := range u.Functions {
		body, err := f.build(nil)
		if err != nil {
			return err
		}
		s.AddFunc(body)
	}
	s.Freeze()
	for _, inst := range u.Instantiate {
		args, err := parseTypeList(inst.Args, nil)
		if err != nil {
			return err
		}
		s.Instantiate(inst.Base, args, parseSpan(inst.At))
	}
	for _, obj := range u.CapObjects {
		concrete, err := parseType(obj.Type, nil)
		if err != nil {
			return err
		}
		s.BuildCapObject(obj.Capability, concrete, parseSpan(obj.At))
	}
	return nil
}

func (c capYAML) build() (*ast.CapabilityDecl, error) {
	decl := &ast.CapabilityDecl{
		Name:        c.Name,
		Supertraits: c.Supertraits,
		AssocTypes:  c.AssocTypes,
		Span:        parseSpan(c.At),
	}
	scope := paramScope(nil, c.AssocTypes)
	for _, m := range c.Methods {
		params, err := parseTypeList(m.Params, scope)
		if err != nil {
			return nil, err
		}
		var ret types.Type
		if m.Return != "" {
			if ret, err = parseType(m.Return, scope); err != nil {
				return nil, err
			}
		}
		decl.Methods = append(decl.Methods, ast.MethodSig{
			Name:        m.Name,
			Params:      params,
			Return:      ret,
			RecvByValue: m.RecvByValue,
			TypeParams:  m.TypeParams,
			HasDefault:  m.HasDefault,
		})
	}
	return decl, nil
}

func (im implYAML) build() (*ast.ImplDecl, error) {
	target, err := parseType(im.Target, nil)
	if err != nil {
		return nil, err
	}
	decl := &ast.ImplDecl{
		Capability: im.Capability,
		Target:     target,
		Span:       parseSpan(im.At),
	}
	for _, name := range sortedKeys(im.Methods) {
		decl.Methods = append(decl.Methods, ast.ImplMethod{Name: name, FuncID: im.Methods[name]})
	}
	return decl, nil
}

func (g genericYAML) build() (*ast.GenericDecl, error) {
	decl := &ast.GenericDecl{Name: g.Name, Span: parseSpan(g.At)}
	idents := make([]string, len(g.Params))
	for i, p := range g.Params {
		idents[i] = p.Ident
		decl.Params = append(decl.Params, ast.TP(p.Ident, p.Bounds...))
	}
	scope := paramScope(idents, nil)

	switch g.Kind {
	case "struct":
		decl.Kind = ast.GenericStruct
		for _, name := range sortedKeys(g.Fields) {
			ty, err := parseType(g.Fields[name], scope)
			if err != nil {
				return nil, err
			}
			decl.Fields = append(decl.Fields, ast.FieldDef{Name: name, Ty: ty})
		}
	case "enum":
		decl.Kind = ast.GenericEnum
		for _, v := range g.Variants {
			payload, err := parseTypeList(v.Payload, scope)
			if err != nil {
				return nil, err
			}
			decl.Variants = append(decl.Variants, ast.VariantDef{Name: v.Name, Payload: payload})
		}
	case "func":
		decl.Kind = ast.GenericFunc
		params, err := parseTypeList(g.FnParams, scope)
		if err != nil {
			return nil, err
		}
		decl.FuncParams = params
		if g.FnReturn != "" {
			if decl.FuncReturn, err = parseType(g.FnReturn, scope); err != nil {
				return nil, err
			}
		}
		if g.Body != nil {
			if decl.Body, err = g.Body.build(scope); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("driver: generic %q has unknown kind %q", g.Name, g.Kind)
	}
	return decl, nil
}

func (f funcYAML) build(scope map[string]bool) (*ast.FuncBody, error) {
	body := &ast.FuncBody{Name: f.Name, Entry: f.Entry}
	if body.Entry == "" {
		body.Entry = "entry"
	}
	for _, p := range f.Params {
		ty, err := parseType(p.Type, scope)
		if err != nil {
			return nil, err
		}
		exclusive := p.Exclusive
		if ref, ok := ty.(types.Ref); ok {
			exclusive = ref.Exclusive
		}
		body.Params = append(body.Params, ast.ParamDecl{
			Name: p.Name, Ty: ty, ByValue: p.ByValue, Exclusive: exclusive,
		})
	}
	if f.Return != "" {
		ret, err := parseType(f.Return, scope)
		if err != nil {
			return nil, err
		}
		body.Return = ret
	}
	if len(f.PlaceTypes) > 0 {
		body.PlaceTypes = make(map[string]types.Type, len(f.PlaceTypes))
		for key, spec := range f.PlaceTypes {
			ty, err := parseType(spec, scope)
			if err != nil {
				return nil, err
			}
			body.PlaceTypes[key] = ty
		}
	}
	for _, b := range f.Blocks {
		block := &ast.Block{Label: b.Label, Succs: b.Succs}
		for _, o := range b.Ops {
			op, err := o.build(scope)
			if err != nil {
				return nil, fmt.Errorf("driver: function %q block %q: %w", f.Name, b.Label, err)
			}
			block.Ops = append(block.Ops, op)
		}
		body.Blocks = append(body.Blocks, block)
	}
	return body, nil
}

func (o opYAML) build(scope map[string]bool) (ast.Op, error) {
	span := parseSpan(o.At)
	switch o.Op {
	case "declare":
		ty, err := parseType(o.Type, scope)
		if err != nil {
			return nil, err
		}
		return ast.DeclareOp(span, o.Name, ty), nil
	case "use":
		return ast.UseOp(span, parsePlace(o.Place)), nil
	case "move":
		return ast.MoveOp(span, parsePlace(o.Place)), nil
	case "assign":
		return ast.AssignOp(span, parsePlace(o.Place)), nil
	case "borrow":
		return ast.BorrowOp(span, o.Ref, parsePlace(o.Target)), nil
	case "borrow_mut":
		return ast.BorrowMutOp(span, o.Ref, parsePlace(o.Target)), nil
	case "call", "dyn_call":
		receiver, err := parseType(o.Receiver, scope)
		if err != nil {
			return nil, err
		}
		if o.Op == "dyn_call" {
			return ast.DynCallOp(span, o.Site, receiver, o.Method), nil
		}
		return ast.CallOp(span, o.Site, receiver, o.Method), nil
	case "return":
		if o.Place == "" {
			return ast.ReturnOp(span, nil), nil
		}
		place := parsePlace(o.Place)
		return ast.ReturnOp(span, &place), nil
	case "end_scope":
		return ast.EndScopeOp(span, o.Locals...), nil
	default:
		return nil, fmt.Errorf("unknown op %q", o.Op)
	}
}

func paramScope(idents, assoc []string) map[string]bool {
	if len(idents) == 0 && len(assoc) == 0 {
		return nil
	}
	scope := make(map[string]bool, len(idents)+len(assoc))
	for _, id := range idents {
		scope[id] = true
	}
	for _, id := range assoc {
		scope[id] = true
	}
	return scope
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parsePlace decodes "x.field.*" notation: dot-separated field projections
// with "*" marking a deref step.
func parsePlace(spec string) ast.Place {
	parts := strings.Split(spec, ".")
	place := ast.Local(parts[0])
	for _, part := range parts[1:] {
		if part == "*" {
			place = place.Deref()
		} else {
			place = place.Field(part)
		}
	}
	return place
}

// parseSpan decodes "file:line:col" (file optional).
func parseSpan(spec string) source.Span {
	if spec == "" {
		return source.None
	}
	parts := strings.Split(spec, ":")
	if len(parts) < 2 {
		return source.None
	}
	file := ""
	if len(parts) == 3 {
		file = parts[0]
		parts = parts[1:]
	}
	line, err1 := strconv.Atoi(parts[0])
	col, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return source.None
	}
	return source.Span{File: file, Line: line, Column: col, EndLine: line, EndColumn: col}
}
