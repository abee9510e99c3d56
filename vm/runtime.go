package vm

import "sync"

// Runtime bundles the state machines share: heap, interner and registry.
// Machines built from one Runtime see the same globals and classes.
type Runtime struct {
	Heap     *Heap
	Interner *Interner
	Registry *Registry
}

// NewRuntime creates a runtime with its own heap, interner and registry.
func NewRuntime(cfg HeapConfig) *Runtime {
	in := NewInterner()
	return &Runtime{
		Heap:     NewHeap(cfg),
		Interner: in,
		Registry: NewRegistry(in),
	}
}

var (
	sharedRuntime     *Runtime
	sharedRuntimeOnce sync.Once
)

// SharedRuntime returns a runtime over the process-wide heap and interner.
func SharedRuntime() *Runtime {
	sharedRuntimeOnce.Do(func() {
		in := SharedInterner()
		sharedRuntime = &Runtime{
			Heap:     SharedHeap(),
			Interner: in,
			Registry: NewRegistry(in),
		}
	})
	return sharedRuntime
}

// NewMachine creates a machine bound to rt.
func (rt *Runtime) NewMachine(opts ...Option) *Machine {
	return newMachine(rt, opts...)
}
