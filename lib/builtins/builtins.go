// Package builtins provides the standard library modules of the Tern
// runtime. Every callable is registered through vm.Module; nothing here
// reaches into the machine loop.
package builtins

import (
	"github.com/chazu/tern/vm"
)

// Module names, also used as capability names in artifact headers.
const (
	ModuleIO     = "io"
	ModuleCore   = "core"
	ModuleRandom = "random"
	ModuleTime   = "time"
)

// Names lists every standard module name.
var Names = []string{ModuleIO, ModuleCore, ModuleRandom, ModuleTime}

// Standard returns the standard modules with names interned in in.
func Standard(in *vm.Interner) []vm.Module {
	return []vm.Module{IO(in), Core(in), Random(in, 0), Time(in)}
}

// Select returns the standard modules whose names appear in names.
func Select(in *vm.Interner, names []string) []vm.Module {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []vm.Module
	for _, mod := range Standard(in) {
		if want[mod.Name] {
			out = append(out, mod)
		}
	}
	return out
}

// exporter accumulates a module's methods.
type exporter struct {
	in  *vm.Interner
	mod vm.Module
}

func newExporter(in *vm.Interner, name string) *exporter {
	return &exporter{in: in, mod: vm.Module{Name: name}}
}

func (e *exporter) export(name string, params []vm.TypeTag, ret vm.TypeTag, fn vm.NativeFunc) {
	var returns []vm.TypeTag
	if ret != vm.TypeVoid {
		returns = []vm.TypeTag{ret}
	}
	e.mod.Exports = append(e.mod.Exports, vm.Export{
		Method: &vm.Method{
			Name:   e.in.Intern(name),
			Params: params,
			Native: fn,
		},
		Returns: returns,
	})
}

func types(ts ...vm.TypeTag) []vm.TypeTag { return ts }
