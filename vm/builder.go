package vm

import (
	"errors"
	"fmt"
	"math"
)

// ErrBadBytecode is returned when an instruction stream is malformed.
var ErrBadBytecode = errors.New("malformed bytecode")

type fixup struct {
	at    int // unit holding the target
	label string
}

// Builder assembles a Body. Jumps may reference labels defined later;
// Build patches them. The first error sticks and is returned by Build.
type Builder struct {
	code   []uint16
	lines  []int
	consts []Constant
	calls  []*CallSite
	labels map[string]int
	fixups []fixup
	locals int
	line   int
	err    error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{labels: make(map[string]int)}
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: "+format, append([]any{ErrBadBytecode}, args...)...)
	}
}

// Pos returns the unit offset of the next instruction.
func (b *Builder) Pos() int {
	return len(b.code)
}

// Line sets the source line recorded for subsequent instructions.
func (b *Builder) Line(n int) *Builder {
	b.line = n
	return b
}

// Locals declares the frame's local slot count. Locals never shrink below
// the highest slot an instruction touches.
func (b *Builder) Locals(n int) *Builder {
	if n > b.locals {
		b.locals = n
	}
	return b
}

// Emit appends an instruction.
func (b *Builder) Emit(op Opcode, operands ...uint16) *Builder {
	info, ok := op.Info()
	if !ok {
		b.fail("unknown opcode 0x%02X", uint16(op))
		return b
	}
	if len(operands) != info.Arity() {
		b.fail("%s takes %d operands, got %d", info.Name, info.Arity(), len(operands))
		return b
	}
	for i, k := range info.Operands {
		if k != OperandLocal {
			continue
		}
		width := 1
		if op == OpLoad2 || op == OpStore2 {
			width = 2
		}
		b.Locals(int(operands[i]) + width)
	}
	b.code = append(b.code, uint16(op))
	b.code = append(b.code, operands...)
	for n := 0; n < info.Width(); n++ {
		b.lines = append(b.lines, b.line)
	}
	return b
}

// Label binds name to the current position.
func (b *Builder) Label(name string) *Builder {
	if _, dup := b.labels[name]; dup {
		b.fail("label %q defined twice", name)
		return b
	}
	b.labels[name] = len(b.code)
	return b
}

// Jump emits a branch to label.
func (b *Builder) Jump(op Opcode, label string) *Builder {
	if !op.IsJump() {
		b.fail("%s is not a jump", op)
		return b
	}
	b.Emit(op, 0)
	b.fixups = append(b.fixups, fixup{at: len(b.code) - 1, label: label})
	return b
}

// Const adds c to the constant pool, reusing an equal entry.
func (b *Builder) Const(c Constant) uint16 {
	for i, existing := range b.consts {
		if existing == c {
			return uint16(i)
		}
	}
	if len(b.consts) > math.MaxUint16 {
		b.fail("constant pool overflow")
		return 0
	}
	b.consts = append(b.consts, c)
	return uint16(len(b.consts) - 1)
}

// Name adds a string constant used as a name operand.
func (b *Builder) Name(s string) uint16 {
	return b.Const(Constant{Kind: TypeString, Text: s})
}

// Site adds a call site, reusing an identical one.
func (b *Builder) Site(name string, params ...TypeTag) uint16 {
outer:
	for i, cs := range b.calls {
		if cs.Name != name || len(cs.Params) != len(params) {
			continue
		}
		for j := range params {
			if cs.Params[j] != params[j] {
				continue outer
			}
		}
		return uint16(i)
	}
	b.calls = append(b.calls, NewCallSite(name, params...))
	return uint16(len(b.calls) - 1)
}

// Call emits CALL to the named site.
func (b *Builder) Call(name string, params ...TypeTag) *Builder {
	return b.Emit(OpCall, b.Site(name, params...))
}

// Send emits SEND name argc.
func (b *Builder) Send(name string, argc int) *Builder {
	return b.Emit(OpSend, b.Name(name), uint16(argc))
}

// PushInt pushes an int, using an immediate when it fits.
func (b *Builder) PushInt(v int32) *Builder {
	if v >= math.MinInt16 && v <= math.MaxInt16 {
		return b.Emit(OpIConst, uint16(int16(v)))
	}
	return b.Emit(OpLdc, b.Const(Constant{Kind: TypeInt, Bits: uint64(uint32(v))}))
}

// PushLong pushes a long as two slots.
func (b *Builder) PushLong(v int64) *Builder {
	if v >= math.MinInt16 && v <= math.MaxInt16 {
		return b.Emit(OpLConst, uint16(int16(v)))
	}
	return b.Emit(OpLdc2, b.Const(Constant{Kind: TypeLong, Bits: uint64(v)}))
}

// PushFloat pushes a float.
func (b *Builder) PushFloat(v float32) *Builder {
	return b.Emit(OpLdc, b.Const(Constant{Kind: TypeFloat, Bits: uint64(math.Float32bits(v))}))
}

// PushDouble pushes a double as two slots.
func (b *Builder) PushDouble(v float64) *Builder {
	return b.Emit(OpLdc2, b.Const(Constant{Kind: TypeDouble, Bits: math.Float64bits(v)}))
}

// PushString pushes a reference to a new string object.
func (b *Builder) PushString(s string) *Builder {
	return b.Emit(OpSConst, b.Name(s))
}

// Build resolves labels and returns the body.
func (b *Builder) Build() (*Body, error) {
	for _, f := range b.fixups {
		target, ok := b.labels[f.label]
		if !ok {
			b.fail("undefined label %q", f.label)
			break
		}
		b.code[f.at] = uint16(target)
	}
	if b.err != nil {
		return nil, b.err
	}
	body := &Body{
		Code:   b.code,
		Consts: b.consts,
		Calls:  b.calls,
		Locals: b.locals,
		Lines:  b.lines,
	}
	if err := Verify(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Verify checks a body's structure: known opcodes, complete operands, and
// in-range jump, local, constant and call site operands.
func Verify(body *Body) error {
	starts := make(map[int]bool)
	var jumps []int
	for ip := 0; ip < len(body.Code); {
		op := Opcode(body.Code[ip])
		info, ok := op.Info()
		if !ok {
			return fmt.Errorf("%w: unknown opcode 0x%02X at %04d", ErrBadBytecode, uint16(op), ip)
		}
		if ip+info.Width() > len(body.Code) {
			return fmt.Errorf("%w: truncated %s at %04d", ErrBadBytecode, info.Name, ip)
		}
		starts[ip] = true
		for i, k := range info.Operands {
			v := int(body.Code[ip+1+i])
			switch k {
			case OperandTarget:
				jumps = append(jumps, v)
			case OperandLocal:
				width := 1
				if op == OpLoad2 || op == OpStore2 {
					width = 2
				}
				if v+width > body.Locals {
					return fmt.Errorf("%w: %s local %d out of range at %04d", ErrBadBytecode, info.Name, v, ip)
				}
			case OperandConst:
				if v >= len(body.Consts) {
					return fmt.Errorf("%w: %s constant %d out of range at %04d", ErrBadBytecode, info.Name, v, ip)
				}
			case OperandSite:
				if v >= len(body.Calls) {
					return fmt.Errorf("%w: call site %d out of range at %04d", ErrBadBytecode, v, ip)
				}
			}
		}
		ip += info.Width()
	}
	for _, t := range jumps {
		if !starts[t] {
			return fmt.Errorf("%w: jump target %04d is not an instruction", ErrBadBytecode, t)
		}
	}
	return nil
}
