// Package asm assembles Tern bytecode from a line-oriented text form.
//
// A source file is a sequence of directives and instructions:
//
//	.program fib
//	.requires io
//	.extern println(int)
//
//	.method fib(int) int
//	    load 0
//	    iconst 1
//	    ifgt recurse
//	    load 0
//	    ireturn
//	recurse:
//	    load 0
//	    iconst 2
//	    isub
//	    call fib(int)
//	    ...
//	.end
//
// Mnemonics are case-insensitive. Operands follow the opcode's operand
// kinds: immediates and local indices are numbers, jump targets are labels,
// CALL takes a signature, BOX and UNBOX take a type name, LDC and LDC2 take a
// literal optionally prefixed with its kind ("long:5"), and the remaining
// constant operands take a name or a quoted string.
package asm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/vm"
)

// ErrSyntax is wrapped by every assembly error.
var ErrSyntax = errors.New("assembly error")

// Error locates an assembly error.
type Error struct {
	File string
	Line int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrSyntax, e.Err}
}

// method is the method under construction.
type method struct {
	class   string
	name    string
	params  []string
	returns []string
	tags    []string
	b       *vm.Builder
	locals  int
}

type assembler struct {
	file    string
	line    int
	in      *vm.Interner
	out     *artifact.File
	classes map[string]int // index into out.Body.Classes
	caps    map[string]bool
	cur     *method
}

// Assemble turns source into an artifact. name is used in error messages
// and as the program name when the source has no .program directive.
func Assemble(name string, source []byte) (*artifact.File, error) {
	a := &assembler{
		file:    name,
		in:      vm.NewInterner(),
		out:     &artifact.File{Header: artifact.Header{Version: artifact.Version, Name: programName(name)}},
		classes: make(map[string]int),
		caps:    make(map[string]bool),
	}
	for i, text := range strings.Split(string(source), "\n") {
		a.line = i + 1
		fields, err := splitLine(text)
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		if len(fields) == 0 {
			continue
		}
		if err := a.statement(fields); err != nil {
			return nil, err
		}
	}
	if a.cur != nil {
		return nil, a.errorf("method %s is missing .end", a.cur.name)
	}
	return a.out, nil
}

func programName(file string) string {
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		file = file[i+1:]
	}
	return strings.TrimSuffix(file, ".tasm")
}

func (a *assembler) errorf(format string, args ...any) error {
	return &Error{File: a.file, Line: a.line, Err: fmt.Errorf(format, args...)}
}

func (a *assembler) statement(fields []string) error {
	head := fields[0]
	if strings.HasPrefix(head, ".") {
		return a.directive(head, fields[1:])
	}
	if a.cur == nil {
		return a.errorf("instruction %q outside a method", head)
	}
	if label, ok := strings.CutSuffix(head, ":"); ok {
		if !isIdent(label) {
			return a.errorf("bad label %q", label)
		}
		a.cur.b.Label(label)
		if len(fields) == 1 {
			return nil
		}
		fields = fields[1:]
	}
	return a.instruction(fields[0], fields[1:])
}

// ---------------------------------------------------------------------------
// Directives
// ---------------------------------------------------------------------------

func (a *assembler) directive(name string, args []string) error {
	inMethod := name == ".locals" || name == ".tags" || name == ".end"
	switch {
	case a.cur != nil && !inMethod:
		return a.errorf("%s inside method %s", name, a.cur.name)
	case a.cur == nil && inMethod:
		return a.errorf("%s outside a method", name)
	}

	switch name {
	case ".program":
		if len(args) != 1 {
			return a.errorf(".program takes one name")
		}
		a.out.Header.Name = args[0]
	case ".entry":
		if len(args) != 1 {
			return a.errorf(".entry takes one method name")
		}
		a.out.Header.Entry = args[0]
	case ".requires":
		for _, c := range args {
			if !a.caps[c] {
				a.caps[c] = true
				a.out.Header.Capabilities = append(a.out.Header.Capabilities, c)
			}
		}
	case ".class":
		if len(args) == 0 || !isIdent(args[0]) {
			return a.errorf(".class needs a name")
		}
		if _, dup := a.classes[args[0]]; dup {
			return a.errorf("class %s declared twice", args[0])
		}
		for _, f := range args[1:] {
			if !isIdent(f) {
				return a.errorf("bad field name %q", f)
			}
		}
		a.classes[args[0]] = len(a.out.Body.Classes)
		a.out.Body.Classes = append(a.out.Body.Classes, artifact.Class{Name: args[0], Fields: args[1:]})
	case ".extern":
		m, err := a.header(args)
		if err != nil {
			return err
		}
		if m.class != "" {
			return a.errorf("extern methods are global")
		}
		a.out.Body.Methods = append(a.out.Body.Methods, artifact.Method{Name: m.name, Params: m.params, Returns: m.returns})
	case ".method":
		m, err := a.header(args)
		if err != nil {
			return err
		}
		m.b = vm.NewBuilder()
		a.cur = m
	case ".locals":
		if len(args) != 1 {
			return a.errorf(".locals takes a count")
		}
		n, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return a.errorf("bad local count %q", args[0])
		}
		a.cur.locals = int(n)
	case ".tags":
		for _, t := range args {
			if _, ok := vm.ParseTag(t); !ok {
				return a.errorf("unknown tag %q", t)
			}
		}
		a.cur.tags = append(a.cur.tags, args...)
	case ".end":
		return a.finish()
	default:
		return a.errorf("unknown directive %s", name)
	}
	return nil
}

// header parses "[Class.]name(params) [returns]".
func (a *assembler) header(args []string) (*method, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, a.errorf("expected name(params) [type]")
	}
	full, params, err := parseSignature(args[0])
	if err != nil {
		return nil, a.errorf("%v", err)
	}
	m := &method{name: full, params: params}
	if class, name, ok := strings.Cut(full, "."); ok {
		if _, known := a.classes[class]; !known {
			return nil, a.errorf("method %s on undeclared class %s", name, class)
		}
		m.class, m.name = class, name
	}
	for _, p := range params {
		if t, ok := vm.ParseTypeTag(p); !ok || t == vm.TypeVoid {
			return nil, a.errorf("unknown parameter type %q", p)
		}
	}
	if len(args) == 2 && args[1] != "void" {
		if _, ok := vm.ParseTypeTag(args[1]); !ok {
			return nil, a.errorf("unknown return type %q", args[1])
		}
		m.returns = []string{args[1]}
	}
	return m, nil
}

func (a *assembler) finish() error {
	m := a.cur
	a.cur = nil

	params, _ := types(m.params)
	slots := vm.SlotCount(params)
	if m.class != "" {
		slots++
	}
	m.b.Locals(max(slots, m.locals))
	body, err := m.b.Build()
	if err != nil {
		return a.errorf("method %s: %v", m.name, err)
	}
	returns, _ := types(m.returns)
	vmm := &vm.Method{Name: a.in.Intern(m.name), Params: params, Returns: returns, Body: body}
	for _, t := range m.tags {
		tag, _ := vm.ParseTag(t)
		vmm.Tags |= tag
	}
	am, err := artifact.FromMethod(vmm)
	if err != nil {
		return a.errorf("%v", err)
	}
	if m.class != "" {
		c := &a.out.Body.Classes[a.classes[m.class]]
		c.Methods = append(c.Methods, am)
		return nil
	}
	a.out.Body.Methods = append(a.out.Body.Methods, am)
	return nil
}

func types(names []string) ([]vm.TypeTag, error) {
	out := make([]vm.TypeTag, 0, len(names))
	for _, n := range names {
		t, ok := vm.ParseTypeTag(n)
		if !ok {
			return nil, fmt.Errorf("unknown type %q", n)
		}
		out = append(out, t)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (a *assembler) instruction(mnemonic string, args []string) error {
	op, ok := vm.LookupOpcode(strings.ToUpper(mnemonic))
	if !ok {
		return a.errorf("unknown instruction %q", mnemonic)
	}
	info, _ := op.Info()
	if len(args) != info.Arity() {
		return a.errorf("%s takes %d operands, got %d", info.Name, info.Arity(), len(args))
	}
	b := a.cur.b.Line(a.line)
	if op.IsJump() {
		if !isIdent(args[0]) {
			return a.errorf("bad label %q", args[0])
		}
		b.Jump(op, args[0])
		return nil
	}

	operands := make([]uint16, len(args))
	for i, k := range info.Operands {
		v, err := a.operand(b, op, k, args[i])
		if err != nil {
			return a.errorf("%s: %v", info.Name, err)
		}
		operands[i] = v
	}
	b.Emit(op, operands...)
	return nil
}

func (a *assembler) operand(b *vm.Builder, op vm.Opcode, kind vm.OperandKind, arg string) (uint16, error) {
	switch kind {
	case vm.OperandImm:
		return parseImm(arg)
	case vm.OperandUint:
		return parseUint(arg)
	case vm.OperandLocal:
		n, err := strconv.ParseUint(arg, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("bad local index %q", arg)
		}
		return uint16(n), nil
	case vm.OperandType:
		t, ok := vm.ParseTypeTag(arg)
		if !ok || t == vm.TypeVoid {
			return 0, fmt.Errorf("unknown type %q", arg)
		}
		return uint16(t), nil
	case vm.OperandSite:
		name, params, err := parseSignature(arg)
		if err != nil {
			return 0, err
		}
		ts, err := types(params)
		if err != nil {
			return 0, err
		}
		return b.Site(name, ts...), nil
	case vm.OperandConst:
		if op == vm.OpLdc || op == vm.OpLdc2 {
			return literal(b, arg, op == vm.OpLdc2)
		}
		name, err := parseName(arg)
		if err != nil {
			return 0, err
		}
		return b.Name(name), nil
	}
	return 0, fmt.Errorf("unsupported operand kind %d", kind)
}

func literal(b *vm.Builder, arg string, wide bool) (uint16, error) {
	n, err := parseNumber(arg, wide)
	if err != nil {
		return 0, err
	}
	var c vm.Constant
	switch n.kind {
	case "int":
		c = vm.Constant{Kind: vm.TypeInt, Bits: uint64(uint32(int32(n.i)))}
	case "long":
		c = vm.Constant{Kind: vm.TypeLong, Bits: uint64(n.i)}
	case "float":
		c = vm.Constant{Kind: vm.TypeFloat, Bits: uint64(math.Float32bits(float32(n.f)))}
	case "double":
		c = vm.Constant{Kind: vm.TypeDouble, Bits: math.Float64bits(n.f)}
	}
	return b.Const(c), nil
}
