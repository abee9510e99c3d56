package vm

import "fmt"

// FrameState is the lifecycle stage of a call frame.
type FrameState uint8

const (
	FrameRunning    FrameState = iota // executing instructions
	FrameCalling                      // suspended while a callee runs
	FrameReturning                    // result placed, about to be torn down
	FrameTerminated                   // torn down
)

func (s FrameState) String() string {
	switch s {
	case FrameRunning:
		return "running"
	case FrameCalling:
		return "calling"
	case FrameReturning:
		return "returning"
	case FrameTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", s)
}

// ---------------------------------------------------------------------------
// Frame: execution state for one bytecode invocation
// ---------------------------------------------------------------------------

// Frame is the execution state of a single bytecode method invocation.
//
// Its locals array is sized once from the method's declared local count.
// The operand stack is shared by every frame of a machine; base marks where
// this frame's portion of it begins.
type Frame struct {
	Method *Method
	IP     int // next instruction, in code units
	Locals []IVal
	State  FrameState

	pc     int // start of the executing instruction
	base   int
	caller *Frame // bytecode caller; nil when entered from the host
	refs   []bool // refs[i]: Locals[i] holds one count on its handle
}

// PC returns the offset of the instruction being executed.
func (f *Frame) PC() int {
	return f.pc
}

// Depth returns the number of bytecode frames above f, f included.
func (f *Frame) Depth() int {
	n := 0
	for c := f; c != nil; c = c.caller {
		n++
	}
	return n
}

// Owned returns the number of locals holding a reference count.
func (f *Frame) Owned() int {
	n := 0
	for _, owned := range f.refs {
		if owned {
			n++
		}
	}
	return n
}

// clear drops the count local i holds, if any.
func (f *Frame) clear(heap *Heap, i int) {
	if f.refs[i] {
		f.refs[i] = false
		_ = heap.Release(f.Locals[i].Ref())
	}
}

func (f *Frame) local(i uint16) int {
	if int(i) >= len(f.Locals) {
		faultf(FaultBadLocal, "local %d of %d", i, len(f.Locals))
	}
	return int(i)
}

func (f *Frame) String() string {
	line := 0
	if f.Method.Body != nil && f.pc < len(f.Method.Body.Lines) {
		line = f.Method.Body.Lines[f.pc]
	}
	if line > 0 {
		return fmt.Sprintf("%s at %04d (line %d)", f.Method, f.pc, line)
	}
	return fmt.Sprintf("%s at %04d", f.Method, f.pc)
}
