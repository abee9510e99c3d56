package artifact

import (
	"fmt"
	"strings"

	"github.com/chazu/tern/vm"
)

// ---------------------------------------------------------------------------
// Artifact -> runtime structures
// ---------------------------------------------------------------------------

// Load decodes f's body into a vm.Program whose names are interned in in.
// Every bytecode body is verified.
//
// Parameter, return and constant types are primitive type names; class
// instances travel as "any".
func Load(f *File, in *vm.Interner) (*vm.Program, error) {
	p := &vm.Program{Name: f.Header.Name, Entry: f.Header.Entry}
	for _, c := range f.Body.Classes {
		cd := vm.ClassDef{Name: c.Name, Fields: c.Fields}
		for i := range c.Methods {
			m, err := loadMethod(&c.Methods[i], in)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", c.Name, err)
			}
			cd.Methods = append(cd.Methods, m)
		}
		p.Classes = append(p.Classes, cd)
	}
	for i := range f.Body.Methods {
		m, err := loadMethod(&f.Body.Methods[i], in)
		if err != nil {
			return nil, err
		}
		p.Methods = append(p.Methods, m)
	}
	return p, nil
}

func loadMethod(am *Method, in *vm.Interner) (*vm.Method, error) {
	params, err := parseTypes(am.Params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", am.Name, err)
	}
	returns, err := parseTypes(am.Returns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", am.Name, err)
	}
	var tags vm.Tag
	for _, name := range am.Tags {
		t, ok := vm.ParseTag(name)
		if !ok {
			return nil, fmt.Errorf("%s: %w: unknown tag %q", am.Name, ErrBadArtifact, name)
		}
		tags |= t
	}
	m := &vm.Method{Name: in.Intern(am.Name), Params: params, Returns: returns, Tags: tags}
	if am.IsExtern() {
		return m, nil
	}

	code, err := UnpackCode(am.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", am.Name, err)
	}
	body := &vm.Body{Code: code, Locals: am.Locals, Lines: am.Lines}
	for _, c := range am.Consts {
		kind, ok := vm.ParseTypeTag(c.Kind)
		if !ok {
			return nil, fmt.Errorf("%s: %w: unknown constant kind %q", am.Name, ErrBadArtifact, c.Kind)
		}
		body.Consts = append(body.Consts, vm.Constant{Kind: kind, Bits: c.Bits, Text: c.Text})
	}
	for _, s := range am.Calls {
		ps, err := parseTypes(s.Params)
		if err != nil {
			return nil, fmt.Errorf("%s: call %s: %w", am.Name, s.Name, err)
		}
		body.Calls = append(body.Calls, vm.NewCallSite(s.Name, ps...))
	}
	if err := vm.Verify(body); err != nil {
		return nil, fmt.Errorf("%s: %w", am.Name, err)
	}
	m.Body = body
	return m, nil
}

func parseTypes(names []string) ([]vm.TypeTag, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]vm.TypeTag, len(names))
	for i, n := range names {
		t, ok := vm.ParseTypeTag(n)
		if !ok || t == vm.TypeVoid {
			return nil, fmt.Errorf("%w: unknown type %q", ErrBadArtifact, n)
		}
		out[i] = t
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Runtime structures -> artifact
// ---------------------------------------------------------------------------

// FromMethod encodes m. Native methods cannot be encoded.
func FromMethod(m *vm.Method) (Method, error) {
	if m.IsNative() {
		return Method{}, fmt.Errorf("%s: native methods have no artifact form", m)
	}
	am := Method{
		Name:    m.Name.String(),
		Params:  typeNames(m.Params),
		Returns: typeNames(m.Returns),
	}
	if m.Tags != 0 {
		am.Tags = strings.Split(m.Tags.String(), "|")
	}
	if m.Body == nil {
		return am, nil
	}
	b := m.Body
	am.Locals = b.Locals
	am.Code = PackCode(b.Code)
	am.Lines = trimLines(b.Lines)
	for _, c := range b.Consts {
		am.Consts = append(am.Consts, Constant{Kind: c.Kind.String(), Bits: c.Bits, Text: c.Text})
	}
	for _, cs := range b.Calls {
		am.Calls = append(am.Calls, Site{Name: cs.Name, Params: typeNames(cs.Params)})
	}
	return am, nil
}

// FromProgram encodes p as an artifact. caps lists the builtin modules the
// program links against.
func FromProgram(p *vm.Program, caps ...string) (*File, error) {
	f := &File{Header: Header{Version: Version, Name: p.Name, Entry: p.Entry, Capabilities: caps}}
	for _, cd := range p.Classes {
		c := Class{Name: cd.Name, Fields: cd.Fields}
		for _, m := range cd.Methods {
			am, err := FromMethod(m)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", cd.Name, err)
			}
			c.Methods = append(c.Methods, am)
		}
		f.Body.Classes = append(f.Body.Classes, c)
	}
	for _, m := range p.Methods {
		am, err := FromMethod(m)
		if err != nil {
			return nil, err
		}
		f.Body.Methods = append(f.Body.Methods, am)
	}
	return f, nil
}

func typeNames(ts []vm.TypeTag) []string {
	if len(ts) == 0 {
		return nil
	}
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

// trimLines drops a line table that carries no information.
func trimLines(lines []int) []int {
	for _, l := range lines {
		if l != 0 {
			return lines
		}
	}
	return nil
}
