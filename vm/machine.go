package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

const (
	// DefaultStackSlots is the default operand stack size.
	DefaultStackSlots = 1 << 20

	// DefaultMaxDepth is the default limit on nested bytecode frames.
	DefaultMaxDepth = 4096
)

// ErrArity is returned when a host call passes the wrong number of
// arguments.
var ErrArity = errors.New("wrong number of arguments")

// Option configures a Machine.
type Option func(*Machine)

// WithStackSlots sets the operand stack size.
func WithStackSlots(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.stack = make([]IVal, n)
		}
	}
}

// WithMaxDepth sets the frame depth limit.
func WithMaxDepth(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxDepth = n
		}
	}
}

// WithTracer installs an execution tracer.
func WithTracer(t Tracer) Option {
	return func(m *Machine) { m.tracer = t }
}

// WithStdio redirects the streams native built-ins use.
func WithStdio(in io.Reader, out, errOut io.Writer) Option {
	return func(m *Machine) {
		if in != nil {
			m.native.Stdin = bufio.NewReader(in)
		}
		if out != nil {
			m.native.Stdout = out
		}
		if errOut != nil {
			m.native.Stderr = errOut
		}
	}
}

// ---------------------------------------------------------------------------
// Machine: the stack machine
// ---------------------------------------------------------------------------

// Machine executes bytecode for one logical call chain.
//
// A Machine is single-threaded: calls run synchronously and recursively on
// the calling goroutine. Independent machines may share a Runtime and run
// in parallel.
type Machine struct {
	ID uuid.UUID

	rt       *Runtime
	heap     *Heap
	interner *Interner
	registry *Registry

	stack    []IVal
	refs     []bool // refs[i]: stack[i] holds one count on its handle
	sp       int    // next free slot
	floor    int // lowest slot the current frame may pop
	frames   []*Frame
	maxDepth int
	steps    uint64

	tracer Tracer
	native NativeContext
	log    commonlog.Logger
}

func newMachine(rt *Runtime, opts ...Option) *Machine {
	m := &Machine{
		ID:       uuid.New(),
		rt:       rt,
		heap:     rt.Heap,
		interner: rt.Interner,
		registry: rt.Registry,
		maxDepth: DefaultMaxDepth,
		log:      commonlog.GetLogger("tern.vm"),
	}
	m.native = NativeContext{
		Machine:  m,
		Heap:     rt.Heap,
		Interner: rt.Interner,
		Registry: rt.Registry,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Stdin:    bufio.NewReader(os.Stdin),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.stack == nil {
		m.stack = make([]IVal, DefaultStackSlots)
	}
	m.refs = make([]bool, len(m.stack))
	return m
}

// Runtime returns the runtime the machine was built from.
func (m *Machine) Runtime() *Runtime { return m.rt }

// Heap returns the machine's heap.
func (m *Machine) Heap() *Heap { return m.heap }

// Registry returns the machine's method registry.
func (m *Machine) Registry() *Registry { return m.registry }

// Native returns the context handed to native handlers.
func (m *Machine) Native() *NativeContext { return &m.native }

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() uint64 { return m.steps }

// Depth returns the number of live bytecode frames.
func (m *Machine) Depth() int { return len(m.frames) }

// StackSize returns the number of occupied operand stack slots.
func (m *Machine) StackSize() int { return m.sp }

// ---------------------------------------------------------------------------
// Stack operations
//
// A slot pushed with an owned reference carries one count on its handle.
// Popping drops that count unless the caller takes it over; slots pushed
// without ownership (host arguments, scalars) are borrowed.
// ---------------------------------------------------------------------------

func (m *Machine) push(v IVal) {
	m.pushSlot(v, false)
}

// pushRef pushes h, handing its count to the slot.
func (m *Machine) pushRef(h Handle) {
	m.pushSlot(RefSlot(h), h != 0)
}

func (m *Machine) pushSlot(v IVal, owned bool) {
	if m.sp >= len(m.stack) {
		if owned {
			_ = m.heap.Release(v.Ref())
		}
		faultf(FaultStackOverflow, "operand stack full (%d slots)", len(m.stack))
	}
	m.stack[m.sp] = v
	m.refs[m.sp] = owned
	m.sp++
}

// take pops the top slot and hands its count, if any, to the caller.
func (m *Machine) take() (IVal, bool) {
	if m.sp <= m.floor {
		faultf(FaultStackUnderflow, "pop below frame base %d", m.floor)
	}
	m.sp--
	owned := m.refs[m.sp]
	m.refs[m.sp] = false
	return m.stack[m.sp], owned
}

func (m *Machine) pop() IVal {
	v, owned := m.take()
	if owned {
		_ = m.heap.Release(v.Ref())
	}
	return v
}

func (m *Machine) peek(n int) IVal {
	if m.sp-n <= m.floor {
		faultf(FaultStackUnderflow, "peek %d below frame base %d", n, m.floor)
	}
	return m.stack[m.sp-1-n]
}

// dupSlot pushes a copy of the slot n below the top.
func (m *Machine) dupSlot(n int) {
	v := m.peek(n)
	owned := m.refs[m.sp-1-n]
	if owned {
		m.retain(v.Ref())
	}
	m.pushSlot(v, owned)
}

// popSlots pops n slots and returns them in push order.
func (m *Machine) popSlots(n int) []IVal {
	if m.sp-n < m.floor {
		faultf(FaultStackUnderflow, "pop %d slots below frame base %d", n, m.floor)
	}
	out := append([]IVal(nil), m.stack[m.sp-n:m.sp]...)
	m.dropSlots(n)
	return out
}

// dropSlots pops n slots, releasing the counts they hold.
func (m *Machine) dropSlots(n int) {
	if m.sp-n < m.floor {
		faultf(FaultStackUnderflow, "pop %d slots below frame base %d", n, m.floor)
	}
	m.releaseSlots(m.sp-n, m.sp)
	m.sp -= n
}

// releaseSlots drops the counts held by stack[from:to].
func (m *Machine) releaseSlots(from, to int) {
	for i := from; i < to; i++ {
		if m.refs[i] {
			m.refs[i] = false
			_ = m.heap.Release(m.stack[i].Ref())
		}
	}
}

func (m *Machine) pushLong(n int64) {
	lo, hi := SplitInt64(n)
	m.push(lo)
	m.push(hi)
}

func (m *Machine) popLong() int64 {
	hi := m.pop()
	lo := m.pop()
	return JoinInt64(lo, hi)
}

func (m *Machine) pushDouble(f float64) {
	lo, hi := SplitFloat64(f)
	m.push(lo)
	m.push(hi)
}

func (m *Machine) popDouble() float64 {
	hi := m.pop()
	lo := m.pop()
	return JoinFloat64(lo, hi)
}

// load pushes local i, adding a count if the local owns its reference.
func (m *Machine) load(f *Frame, i int) {
	v := f.Locals[i]
	if f.refs[i] {
		m.retain(v.Ref())
	}
	m.pushSlot(v, f.refs[i])
}

// store pops into local i, dropping the reference it held.
func (m *Machine) store(f *Frame, i int) {
	v, owned := m.take()
	f.clear(m.heap, i)
	f.Locals[i], f.refs[i] = v, owned
}

func (m *Machine) retain(h Handle) {
	if h == 0 {
		return
	}
	if err := m.heap.Retain(h); err != nil {
		raise(FaultNullReference, err)
	}
}

func (m *Machine) object(h Handle) *Object {
	if h == 0 {
		faultf(FaultNullReference, "null reference")
	}
	obj, err := m.heap.Object(h)
	if err != nil {
		raise(FaultNullReference, err)
	}
	return obj
}

func (m *Machine) alloc(obj *Object) Handle {
	h, err := m.heap.Alloc(obj)
	if err != nil {
		raise(FaultOutOfMemory, err)
	}
	return h
}

// ---------------------------------------------------------------------------
// Fault boundary
// ---------------------------------------------------------------------------

type mark struct {
	sp, floor, depth int
}

func (m *Machine) mark() mark {
	return mark{sp: m.sp, floor: m.floor, depth: len(m.frames)}
}

// recoverTo converts a fault panic into an error, unwinding every frame
// entered since mk.
func (m *Machine) recoverTo(mk mark, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	f := recoverFault(r)
	for i := len(m.frames) - 1; i >= mk.depth; i-- {
		fr := m.frames[i]
		if f.Method == "" {
			f.Method = fr.Method.String()
			f.IP = fr.pc
			if fr.Method.Body != nil && fr.pc < len(fr.Method.Body.Code) {
				f.Op = Opcode(fr.Method.Body.Code[fr.pc])
			}
		}
		f.Trace = append(f.Trace, fr.String())
		m.teardown(fr)
	}
	m.frames = m.frames[:mk.depth]
	if m.sp > mk.sp {
		m.releaseSlots(mk.sp, m.sp)
	}
	m.sp, m.floor = mk.sp, mk.floor
	m.log.Debugf("machine %s: %s", m.ID, f)
	*errp = f
}

func (m *Machine) teardown(f *Frame) {
	for i := range f.Locals {
		f.clear(m.heap, i)
	}
	f.State = FrameTerminated
}

// ---------------------------------------------------------------------------
// Host entry points
// ---------------------------------------------------------------------------

// Invoke runs method with compact arguments and returns its compact result.
// Reference arguments are borrowed from the caller. A reference result
// carries one reference owned by the caller.
func (m *Machine) Invoke(method *Method, args ...IVal) (result []IVal, err error) {
	if want := frameArgs(method); len(args) != want {
		return nil, fmt.Errorf("%w: %s takes %d slots, got %d", ErrArity, method, want, len(args))
	}
	mk := m.mark()
	defer m.recoverTo(mk, &err)
	m.floor = m.sp
	for _, a := range args {
		m.push(a)
	}
	m.invoke(method, nil)
	n := method.ReturnSlots()
	result = append([]IVal(nil), m.stack[m.sp-n:m.sp]...)
	clear(m.refs[m.sp-n : m.sp])
	m.sp, m.floor = mk.sp, mk.floor
	return result, nil
}

// Send resolves name against recv's method set and calls it with
// reflective arguments. The result carries one reference owned by the
// caller, or is 0 for void.
func (m *Machine) Send(recv Handle, name string, args ...Handle) (result Handle, err error) {
	mk := m.mark()
	defer m.recoverTo(mk, &err)
	return m.send(recv, name, args), nil
}

// Call invokes method with reflective arguments.
func (m *Machine) Call(method *Method, recv Handle, args ...Handle) (result Handle, err error) {
	mk := m.mark()
	defer m.recoverTo(mk, &err)
	return m.call(method, recv, args), nil
}

func frameArgs(method *Method) int {
	n := method.ArgSlots()
	if method.Receiver != TypeVoid {
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// invoke calls method with its arguments on the stack and leaves its
// compact result there. caller is nil when entered from outside bytecode.
func (m *Machine) invoke(method *Method, caller *Frame) {
	if method.IsExtern() {
		bound, err := m.registry.bindExtern(method)
		if err != nil {
			raise(FaultMethodNotFound, err)
		}
		method = bound
	}
	if method.IsNative() {
		m.invokeNative(method, caller)
		return
	}
	m.invokeBytecode(method, caller)
}

func (m *Machine) invokeBytecode(method *Method, caller *Frame) {
	if len(m.frames) >= m.maxDepth {
		faultf(FaultStackOverflow, "call depth limit %d reached calling %s", m.maxDepth, method)
	}
	nargs := frameArgs(method)
	if m.sp-nargs < m.floor {
		faultf(FaultStackUnderflow, "%s needs %d argument slots", method, nargs)
	}
	size := method.Body.Locals
	if size < nargs {
		size = nargs
	}
	f := &Frame{Method: method, Locals: make([]IVal, size), refs: make([]bool, size), caller: caller}
	copy(f.Locals, m.stack[m.sp-nargs:m.sp])
	copy(f.refs, m.refs[m.sp-nargs:m.sp])
	clear(m.refs[m.sp-nargs : m.sp])
	m.sp -= nargs
	f.base = m.sp

	savedFloor := m.floor
	m.floor = m.sp
	if caller != nil {
		caller.State = FrameCalling
	}
	m.frames = append(m.frames, f)
	if m.tracer != nil {
		m.tracer.Enter(f)
	}

	m.run(f)

	if m.tracer != nil {
		m.tracer.Exit(f)
	}
	m.frames = m.frames[:len(m.frames)-1]
	m.teardown(f)
	m.floor = savedFloor
	if caller != nil {
		caller.State = FrameRunning
	}
}

func (m *Machine) invokeNative(method *Method, caller *Frame) {
	nslots := frameArgs(method)
	if m.sp-nslots < m.floor {
		faultf(FaultStackUnderflow, "%s needs %d argument slots", method, nslots)
	}

	// Arguments stay on the stack until the handler returns; scalar
	// arguments are boxed for the call only.
	args := make([]Handle, len(method.Params))
	var boxed []Handle
	defer func() {
		for _, h := range boxed {
			_ = m.heap.Release(h)
		}
	}()
	at := m.sp
	for i := len(method.Params) - 1; i >= 0; i-- {
		t := method.Params[i]
		at -= t.SlotWidth()
		slots := m.stack[at : at+t.SlotWidth()]
		if t.IsReference() {
			args[i] = slots[0].Ref()
			continue
		}
		obj, err := Box(t, slots)
		if err != nil {
			raise(FaultType, err)
		}
		h := m.alloc(obj)
		boxed = append(boxed, h)
		args[i] = h
	}
	var recv Handle
	if method.Receiver != TypeVoid {
		recv = m.stack[at-1].Ref()
	}

	if caller != nil {
		caller.State = FrameCalling
	}
	result, err := method.Native(&m.native, recv, args)
	if caller != nil {
		caller.State = FrameRunning
	}
	if err != nil {
		if result != 0 {
			_ = m.heap.Release(result)
		}
		raise(FaultNative, fmt.Errorf("%s: %w", method, err))
	}
	m.dropSlots(nslots)
	m.pushResult(method.ReturnType(), result)
}

// pushResult moves a native result onto the stack. References keep their
// count in the new slot; scalars are unboxed and their box released.
func (m *Machine) pushResult(t TypeTag, h Handle) {
	switch {
	case t == TypeVoid:
		if h != 0 {
			_ = m.heap.Release(h)
		}
	case t.IsReference():
		m.pushRef(h)
	default:
		obj := m.object(h)
		slots, err := Unbox(obj, t)
		_ = m.heap.Release(h)
		if err != nil {
			raise(FaultType, err)
		}
		for _, s := range slots {
			m.push(s)
		}
	}
}

func (m *Machine) send(recv Handle, name string, args []Handle) Handle {
	obj := m.object(recv)
	tags := make([]TypeTag, len(args))
	for i, a := range args {
		tags[i] = m.object(a).Tag()
	}
	method, err := m.registry.Resolve(obj, name, tags)
	if err != nil {
		raise(FaultMethodNotFound, err)
	}
	return m.call(method, recv, args)
}

// call runs method with reflective arguments and boxes its result.
func (m *Machine) call(method *Method, recv Handle, args []Handle) Handle {
	if method.IsExtern() {
		bound, err := m.registry.bindExtern(method)
		if err != nil {
			raise(FaultMethodNotFound, err)
		}
		method = bound
	}
	if len(args) != len(method.Params) {
		raise(FaultType, fmt.Errorf("%w: %s takes %d, got %d", ErrArity, method, len(method.Params), len(args)))
	}
	if method.IsNative() {
		h, err := method.Native(&m.native, recv, args)
		if err != nil {
			raise(FaultNative, fmt.Errorf("%s: %w", method, err))
		}
		return h
	}

	base := m.sp
	if method.Receiver != TypeVoid {
		m.push(RefSlot(recv))
	}
	for i, t := range method.Params {
		for _, s := range m.unboxHandle(args[i], t) {
			m.push(s)
		}
	}
	m.invokeBytecode(method, nil)
	n := method.ReturnSlots()
	slots := append([]IVal(nil), m.stack[m.sp-n:m.sp]...)

	t := method.ReturnType()
	if t.IsReference() {
		// ret left the result slot owning its count; it passes to the caller
		m.refs[m.sp-1] = false
		m.sp = base
		return slots[0].Ref()
	}
	m.releaseSlots(base, m.sp)
	m.sp = base
	if t == TypeVoid {
		return 0
	}
	obj, err := Box(t, slots)
	if err != nil {
		raise(FaultType, err)
	}
	return m.alloc(obj)
}

func (m *Machine) unboxHandle(h Handle, t TypeTag) []IVal {
	if t.IsReference() {
		if t != TypeAny && h != 0 {
			if obj := m.object(h); obj.Tag() != t {
				raise(FaultType, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, m.registry.TypeName(t), m.registry.TypeName(obj.Tag())))
			}
		}
		return []IVal{RefSlot(h)}
	}
	slots, err := Unbox(m.object(h), t)
	if err != nil {
		raise(FaultType, err)
	}
	return slots
}

// ---------------------------------------------------------------------------
// Main loop
// ---------------------------------------------------------------------------

// run executes f until it returns.
func (m *Machine) run(f *Frame) {
	code := f.Method.Body.Code
	for f.State == FrameRunning {
		ip := f.IP
		if ip >= len(code) {
			faultf(FaultBadJump, "execution ran past end of code")
		}
		f.pc = ip
		op := Opcode(code[ip])
		if op >= opCount || handlers[op].fn == nil {
			faultf(FaultBadOpcode, "0x%02X", uint16(op))
		}
		h := &handlers[op]
		if ip+h.arity >= len(code) && h.arity > 0 {
			faultf(FaultBadOpcode, "truncated %s", op)
		}
		var a, b uint16
		switch h.arity {
		case 1:
			a = code[ip+1]
		case 2:
			a, b = code[ip+1], code[ip+2]
		}
		f.IP = ip + 1 + h.arity
		m.steps++
		if m.tracer != nil {
			m.tracer.Step(f, op, a, b)
		}
		h.fn(m, f, a, b)
	}
}

// ret places the top n slots at the frame base as the call's result and
// drops everything else the frame left on the stack. A reference result
// keeps one count in its slot.
func (m *Machine) ret(f *Frame, n int, ref bool) {
	if want := f.Method.ReturnSlots(); n != want {
		faultf(FaultType, "%s returns %d slots, declared %d", f.Method, n, want)
	}
	if m.sp-n < f.base {
		faultf(FaultStackUnderflow, "return value missing")
	}
	var result [2]IVal
	var owned [2]bool
	top := m.sp - n
	copy(result[:], m.stack[top:m.sp])
	copy(owned[:], m.refs[top:m.sp])
	clear(m.refs[top:m.sp])
	m.sp = top
	m.releaseSlots(f.base, top)
	m.sp = f.base

	if ref {
		h := result[0].Ref()
		if !owned[0] {
			m.retain(h)
		}
		m.pushRef(h)
	} else {
		for i := 0; i < n; i++ {
			if owned[i] {
				_ = m.heap.Release(result[i].Ref())
			}
			m.push(result[i])
		}
	}
	f.State = FrameReturning
}

func (m *Machine) jump(f *Frame, target uint16) {
	if int(target) >= len(f.Method.Body.Code) {
		faultf(FaultBadJump, "target %04d", target)
	}
	f.IP = int(target)
}
