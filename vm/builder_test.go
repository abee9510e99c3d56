package vm

import (
	"errors"
	"strings"
	"testing"
)

func TestBuilderLabels(t *testing.T) {
	b := NewBuilder()
	b.Jump(OpGoto, "end")
	b.PushInt(1).Emit(OpPop)
	b.Label("end").Emit(OpReturn)
	body, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	// GOTO at 0 (2 units), ICONST at 2 (2 units), POP at 4, RETURN at 5
	if body.Code[1] != 5 {
		t.Errorf("jump target = %d, want 5", body.Code[1])
	}
	if len(body.Lines) != len(body.Code) {
		t.Errorf("line table has %d entries for %d units", len(body.Lines), len(body.Code))
	}
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
	}{
		{"undefined label", func(b *Builder) { b.Jump(OpGoto, "nowhere") }},
		{"duplicate label", func(b *Builder) { b.Label("x").Label("x") }},
		{"not a jump", func(b *Builder) { b.Jump(OpIAdd, "x").Label("x") }},
		{"wrong arity", func(b *Builder) { b.Emit(OpLoad) }},
		{"unknown opcode", func(b *Builder) { b.Emit(Opcode(0xEE)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.build(b)
			if _, err := b.Build(); !errors.Is(err, ErrBadBytecode) {
				t.Errorf("Build() error = %v, want ErrBadBytecode", err)
			}
		})
	}
}

func TestBuilderSizesLocals(t *testing.T) {
	body, err := NewBuilder().Emit(OpLoad2, 4).Emit(OpPop2).Emit(OpReturn).Build()
	if err != nil {
		t.Fatal(err)
	}
	if body.Locals != 6 {
		t.Errorf("Locals = %d, want 6", body.Locals)
	}
}

func TestBuilderDeduplicates(t *testing.T) {
	b := NewBuilder()
	b.PushString("x").PushString("x").PushInt(100000).PushInt(100000)
	b.Call("f", TypeInt).Call("f", TypeInt).Call("f", TypeLong)
	body, err := b.Emit(OpReturn).Build()
	if err != nil {
		t.Fatal(err)
	}
	if len(body.Consts) != 2 {
		t.Errorf("%d constants, want 2", len(body.Consts))
	}
	if len(body.Calls) != 2 {
		t.Errorf("%d call sites, want 2", len(body.Calls))
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name string
		body *Body
	}{
		{"truncated", &Body{Code: []uint16{uint16(OpIConst)}}},
		{"local out of range", &Body{Code: []uint16{uint16(OpLoad), 3}, Locals: 2}},
		{"constant out of range", &Body{Code: []uint16{uint16(OpLdc), 0}}},
		{"call site out of range", &Body{Code: []uint16{uint16(OpCall), 0}}},
		{"jump into operand", &Body{Code: []uint16{uint16(OpGoto), 1, uint16(OpReturn)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Verify(tt.body); !errors.Is(err, ErrBadBytecode) {
				t.Errorf("Verify() = %v, want ErrBadBytecode", err)
			}
		})
	}
}

func TestOpcodeTable(t *testing.T) {
	for _, op := range Opcodes() {
		info, ok := op.Info()
		if !ok {
			t.Fatalf("%#x listed without info", uint16(op))
		}
		got, ok := LookupOpcode(info.Name)
		if !ok || got != op {
			t.Errorf("LookupOpcode(%q) = %v, %v", info.Name, got, ok)
		}
		if handlers[op].fn == nil {
			t.Errorf("%s has no handler", info.Name)
		}
	}
}

func TestDisassemble(t *testing.T) {
	rt := newTestRuntime()
	fib := fibMethod(t, rt)
	listing := Disassemble(fib)
	for _, want := range []string{
		"; === fib(int) ===",
		"; Calls:",
		"fib(int)",
		"0000  LOAD 0",
		"IFGT",
		"IRETURN",
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing lacks %q:\n%s", want, listing)
		}
	}

	native := &Method{Name: rt.Interner.Intern("n"), Native: nativeConst(rt, 0)}
	if !strings.Contains(Disassemble(native), "<native>") {
		t.Error("native method not marked")
	}
}
