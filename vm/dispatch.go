package vm

import (
	"math"
)

type handlerFunc func(m *Machine, f *Frame, a, b uint16)

type handler struct {
	arity int
	fn    handlerFunc
}

// handlers is indexed by opcode. Populated in init to break the
// initialization cycle through Machine.run.
var handlers [opCount]handler

func def(op Opcode, fn handlerFunc) {
	info, ok := opcodeInfo[op]
	if !ok {
		panic("vm: handler for undefined opcode " + op.String())
	}
	handlers[op] = handler{arity: info.Arity(), fn: fn}
}

func init() {
	defStack()
	defConstants()
	defLocals()
	defArithmetic()
	defConversions()
	defBranches()
	defCalls()
	defObjects()
}

// ---------------------------------------------------------------------------
// Stack manipulation
// ---------------------------------------------------------------------------

func defStack() {
	def(OpNop, func(*Machine, *Frame, uint16, uint16) {})
	def(OpPop, func(m *Machine, _ *Frame, _, _ uint16) { m.pop() })
	def(OpPop2, func(m *Machine, _ *Frame, _, _ uint16) { m.pop(); m.pop() })
	def(OpDup, func(m *Machine, _ *Frame, _, _ uint16) { m.dupSlot(0) })
	def(OpDup2, func(m *Machine, _ *Frame, _, _ uint16) {
		m.dupSlot(1)
		m.dupSlot(1)
	})
	def(OpSwap, func(m *Machine, _ *Frame, _, _ uint16) {
		b, ob := m.take()
		a, oa := m.take()
		m.pushSlot(b, ob)
		m.pushSlot(a, oa)
	})
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func constant(f *Frame, idx uint16) Constant {
	consts := f.Method.Body.Consts
	if int(idx) >= len(consts) {
		faultf(FaultBadConstant, "constant %d of %d", idx, len(consts))
	}
	return consts[idx]
}

func defConstants() {
	def(OpIConst, func(m *Machine, _ *Frame, a, _ uint16) { m.push(IntSlot(int32(int16(a)))) })
	def(OpLConst, func(m *Machine, _ *Frame, a, _ uint16) { m.pushLong(int64(int16(a))) })
	def(OpFConst, func(m *Machine, _ *Frame, a, _ uint16) { m.push(FloatSlot(float32(int16(a)))) })
	def(OpDConst, func(m *Machine, _ *Frame, a, _ uint16) { m.pushDouble(float64(int16(a))) })
	def(OpBConst, func(m *Machine, _ *Frame, a, _ uint16) { m.push(BoolSlot(a != 0)) })
	def(OpCConst, func(m *Machine, _ *Frame, a, _ uint16) { m.push(CharSlot(rune(a))) })
	def(OpNull, func(m *Machine, _ *Frame, _, _ uint16) { m.push(Null) })
	def(OpShortCast, func(m *Machine, _ *Frame, _, _ uint16) { m.push(ShortSlot(int16(m.pop().Int()))) })

	def(OpLdc, func(m *Machine, f *Frame, a, _ uint16) {
		c := constant(f, a)
		if c.Kind.SlotWidth() != 1 || c.Kind.IsReference() {
			faultf(FaultBadConstant, "LDC of %s constant %d", c.Kind, a)
		}
		m.push(c.Slots()[0])
	})
	def(OpLdc2, func(m *Machine, f *Frame, a, _ uint16) {
		c := constant(f, a)
		if c.Kind.SlotWidth() != 2 {
			faultf(FaultBadConstant, "LDC2 of %s constant %d", c.Kind, a)
		}
		s := c.Slots()
		m.push(s[0])
		m.push(s[1])
	})
	def(OpSConst, func(m *Machine, f *Frame, a, _ uint16) {
		c := constant(f, a)
		if c.Kind != TypeString {
			faultf(FaultBadConstant, "SCONST of %s constant %d", c.Kind, a)
		}
		m.pushRef(m.alloc(NewString(m.interner.Intern(c.Text))))
	})
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

func defLocals() {
	def(OpLoad, func(m *Machine, f *Frame, a, _ uint16) { m.load(f, f.local(a)) })
	def(OpStore, func(m *Machine, f *Frame, a, _ uint16) { m.store(f, f.local(a)) })
	def(OpLoad2, func(m *Machine, f *Frame, a, _ uint16) {
		i := f.local(a)
		j := f.local(a + 1)
		m.load(f, i)
		m.load(f, j)
	})
	def(OpStore2, func(m *Machine, f *Frame, a, _ uint16) {
		i := f.local(a)
		j := f.local(a + 1)
		m.store(f, j)
		m.store(f, i)
	})
	def(OpInc, func(m *Machine, f *Frame, a, b uint16) {
		i := f.local(a)
		f.clear(m.heap, i)
		f.Locals[i] = IntSlot(f.Locals[i].Int() + int32(int16(b)))
	})
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func intBinary(op Opcode, fn func(a, b int32) int32) {
	def(op, func(m *Machine, _ *Frame, _, _ uint16) {
		y := m.pop().Int()
		x := m.pop().Int()
		m.push(IntSlot(fn(x, y)))
	})
}

func longBinary(op Opcode, fn func(a, b int64) int64) {
	def(op, func(m *Machine, _ *Frame, _, _ uint16) {
		y := m.popLong()
		x := m.popLong()
		m.pushLong(fn(x, y))
	})
}

func floatBinary(op Opcode, fn func(a, b float32) float32) {
	def(op, func(m *Machine, _ *Frame, _, _ uint16) {
		y := m.pop().Float()
		x := m.pop().Float()
		m.push(FloatSlot(fn(x, y)))
	})
}

func doubleBinary(op Opcode, fn func(a, b float64) float64) {
	def(op, func(m *Machine, _ *Frame, _, _ uint16) {
		y := m.popDouble()
		x := m.popDouble()
		m.pushDouble(fn(x, y))
	})
}

func divisionByZero() {
	raise(FaultArithmetic, ErrDivisionByZero)
}

func defArithmetic() {
	intBinary(OpIAdd, func(a, b int32) int32 { return a + b })
	intBinary(OpISub, func(a, b int32) int32 { return a - b })
	intBinary(OpIMul, func(a, b int32) int32 { return a * b })
	intBinary(OpIDiv, func(a, b int32) int32 {
		if b == 0 {
			divisionByZero()
		}
		return a / b
	})
	intBinary(OpIRem, func(a, b int32) int32 {
		if b == 0 {
			divisionByZero()
		}
		return a % b
	})
	def(OpINeg, func(m *Machine, _ *Frame, _, _ uint16) { m.push(IntSlot(-m.pop().Int())) })

	longBinary(OpLAdd, func(a, b int64) int64 { return a + b })
	longBinary(OpLSub, func(a, b int64) int64 { return a - b })
	longBinary(OpLMul, func(a, b int64) int64 { return a * b })
	longBinary(OpLDiv, func(a, b int64) int64 {
		if b == 0 {
			divisionByZero()
		}
		return a / b
	})
	longBinary(OpLRem, func(a, b int64) int64 {
		if b == 0 {
			divisionByZero()
		}
		return a % b
	})
	def(OpLNeg, func(m *Machine, _ *Frame, _, _ uint16) { m.pushLong(-m.popLong()) })

	floatBinary(OpFAdd, func(a, b float32) float32 { return a + b })
	floatBinary(OpFSub, func(a, b float32) float32 { return a - b })
	floatBinary(OpFMul, func(a, b float32) float32 { return a * b })
	floatBinary(OpFDiv, func(a, b float32) float32 { return a / b })
	floatBinary(OpFRem, func(a, b float32) float32 { return float32(math.Mod(float64(a), float64(b))) })
	def(OpFNeg, func(m *Machine, _ *Frame, _, _ uint16) { m.push(FloatSlot(-m.pop().Float())) })

	doubleBinary(OpDAdd, func(a, b float64) float64 { return a + b })
	doubleBinary(OpDSub, func(a, b float64) float64 { return a - b })
	doubleBinary(OpDMul, func(a, b float64) float64 { return a * b })
	doubleBinary(OpDDiv, func(a, b float64) float64 { return a / b })
	doubleBinary(OpDRem, math.Mod)
	def(OpDNeg, func(m *Machine, _ *Frame, _, _ uint16) { m.pushDouble(-m.popDouble()) })
}

func defConversions() {
	def(OpI2L, func(m *Machine, _ *Frame, _, _ uint16) { m.pushLong(int64(m.pop().Int())) })
	def(OpL2I, func(m *Machine, _ *Frame, _, _ uint16) { m.push(IntSlot(int32(m.popLong()))) })
	def(OpI2F, func(m *Machine, _ *Frame, _, _ uint16) { m.push(FloatSlot(float32(m.pop().Int()))) })
	def(OpF2I, func(m *Machine, _ *Frame, _, _ uint16) { m.push(IntSlot(int32(m.pop().Float()))) })
	def(OpI2D, func(m *Machine, _ *Frame, _, _ uint16) { m.pushDouble(float64(m.pop().Int())) })
	def(OpD2I, func(m *Machine, _ *Frame, _, _ uint16) { m.push(IntSlot(int32(m.popDouble()))) })
	def(OpL2D, func(m *Machine, _ *Frame, _, _ uint16) { m.pushDouble(float64(m.popLong())) })
	def(OpD2L, func(m *Machine, _ *Frame, _, _ uint16) { m.pushLong(int64(m.popDouble())) })
	def(OpF2D, func(m *Machine, _ *Frame, _, _ uint16) { m.pushDouble(float64(m.pop().Float())) })
	def(OpD2F, func(m *Machine, _ *Frame, _, _ uint16) { m.push(FloatSlot(float32(m.popDouble()))) })

	def(OpLCmp, func(m *Machine, _ *Frame, _, _ uint16) {
		y := m.popLong()
		x := m.popLong()
		m.push(IntSlot(int32(cmp3(x < y, x > y))))
	})
	def(OpFCmp, func(m *Machine, _ *Frame, _, _ uint16) {
		y := m.pop().Float()
		x := m.pop().Float()
		m.push(IntSlot(int32(cmp3(x < y, x > y))))
	})
	def(OpDCmp, func(m *Machine, _ *Frame, _, _ uint16) {
		y := m.popDouble()
		x := m.popDouble()
		m.push(IntSlot(int32(cmp3(x < y, x > y))))
	})
}

// ---------------------------------------------------------------------------
// Branches
// ---------------------------------------------------------------------------

func intBranch(op Opcode, pred func(a, b int32) bool) {
	def(op, func(m *Machine, f *Frame, target, _ uint16) {
		y := m.pop().Int()
		x := m.pop().Int()
		if pred(x, y) {
			m.jump(f, target)
		}
	})
}

func defBranches() {
	def(OpGoto, func(m *Machine, f *Frame, target, _ uint16) { m.jump(f, target) })
	def(OpIfTrue, func(m *Machine, f *Frame, target, _ uint16) {
		if m.pop() != 0 {
			m.jump(f, target)
		}
	})
	def(OpIfFalse, func(m *Machine, f *Frame, target, _ uint16) {
		if m.pop() == 0 {
			m.jump(f, target)
		}
	})
	intBranch(OpIfEq, func(a, b int32) bool { return a == b })
	intBranch(OpIfNe, func(a, b int32) bool { return a != b })
	intBranch(OpIfLt, func(a, b int32) bool { return a < b })
	intBranch(OpIfLe, func(a, b int32) bool { return a <= b })
	intBranch(OpIfGt, func(a, b int32) bool { return a > b })
	intBranch(OpIfGe, func(a, b int32) bool { return a >= b })
	def(OpIfNull, func(m *Machine, f *Frame, target, _ uint16) {
		if m.pop().Ref() == 0 {
			m.jump(f, target)
		}
	})
	def(OpIfNonNull, func(m *Machine, f *Frame, target, _ uint16) {
		if m.pop().Ref() != 0 {
			m.jump(f, target)
		}
	})
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func defCalls() {
	def(OpCall, func(m *Machine, f *Frame, a, _ uint16) {
		calls := f.Method.Body.Calls
		if int(a) >= len(calls) {
			faultf(FaultBadConstant, "call site %d of %d", a, len(calls))
		}
		method, err := m.registry.Bind(calls[a])
		if err != nil {
			raise(FaultMethodNotFound, err)
		}
		m.invoke(method, f)
	})
	def(OpSend, func(m *Machine, f *Frame, name, argc uint16) {
		c := constant(f, name)
		n := int(argc)
		recv := m.peek(n).Ref()
		args := make([]Handle, n)
		for i := range args {
			args[i] = m.peek(n - 1 - i).Ref()
		}
		f.State = FrameCalling
		h := m.send(recv, c.Text, args)
		f.State = FrameRunning
		m.dropSlots(n + 1)
		m.pushRef(h)
	})
	def(OpReturn, func(m *Machine, f *Frame, _, _ uint16) { m.ret(f, 0, false) })
	def(OpIReturn, func(m *Machine, f *Frame, _, _ uint16) { m.ret(f, 1, false) })
	def(OpLReturn, func(m *Machine, f *Frame, _, _ uint16) { m.ret(f, 2, false) })
	def(OpAReturn, func(m *Machine, f *Frame, _, _ uint16) { m.ret(f, 1, true) })
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

func defObjects() {
	def(OpBox, func(m *Machine, _ *Frame, a, _ uint16) {
		t := TypeTag(a)
		if t.IsReference() {
			return
		}
		obj, err := Box(t, m.popSlots(t.SlotWidth()))
		if err != nil {
			raise(FaultType, err)
		}
		m.pushRef(m.alloc(obj))
	})
	def(OpUnbox, func(m *Machine, _ *Frame, a, _ uint16) {
		t := TypeTag(a)
		slots := m.unboxHandle(m.peek(0).Ref(), t)
		if t.IsReference() {
			return
		}
		m.pop()
		for _, s := range slots {
			m.push(s)
		}
	})
	def(OpNew, func(m *Machine, f *Frame, a, _ uint16) {
		name := constant(f, a).Text
		tag, ok := m.registry.LookupType(name)
		if !ok {
			faultf(FaultType, "unknown class %q", name)
		}
		class, ok := m.registry.Class(tag)
		if !ok {
			faultf(FaultType, "%s is not a class", name)
		}
		m.pushRef(m.alloc(NewInstance(class)))
	})
	def(OpGetField, func(m *Machine, f *Frame, a, _ uint16) {
		name := m.interner.Intern(constant(f, a).Text)
		obj := m.object(m.peek(0).Ref())
		checkField(m, obj, name)
		h, _ := obj.Member(name)
		m.retain(h)
		m.pop()
		m.pushRef(h)
	})
	def(OpPutField, func(m *Machine, f *Frame, a, _ uint16) {
		name := m.interner.Intern(constant(f, a).Text)
		value := m.peek(0).Ref()
		obj := m.object(m.peek(1).Ref())
		checkField(m, obj, name)
		if err := obj.SetMember(m.heap, name, value); err != nil {
			raise(FaultNullReference, err)
		}
		m.dropSlots(2)
	})
	def(OpNewList, func(m *Machine, _ *Frame, a, _ uint16) {
		n := int(a)
		if m.sp-n < m.floor {
			faultf(FaultStackUnderflow, "NEWLIST %d below frame base %d", n, m.floor)
		}
		base := m.sp - n
		elems := make([]Handle, n)
		for i := range elems {
			elems[i] = m.stack[base+i].Ref()
			if elems[i] != 0 && !m.refs[base+i] {
				m.object(elems[i])
			}
		}
		list := m.alloc(NewList(elems...))
		// owned element counts move into the list; borrowed ones are added
		for i, h := range elems {
			switch {
			case m.refs[base+i]:
				m.refs[base+i] = false
			case h != 0:
				_ = m.heap.Retain(h)
			}
		}
		m.sp = base
		m.pushRef(list)
	})
}

func checkField(m *Machine, obj *Object, name CopyString) {
	agg, ok := obj.Payload().(*Aggregate)
	if !ok {
		faultf(FaultType, "%s has no fields", m.registry.TypeName(obj.Tag()))
	}
	if !agg.Class.HasField(name) {
		faultf(FaultType, "%s has no field %s", agg.Class.Name, name)
	}
}
