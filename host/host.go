// Package host runs artifacts: it links a decoded program against the
// builtin modules its capabilities allow and executes the entry method on
// a fresh runtime.
package host

import (
	"io"

	"github.com/tliron/commonlog"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/config"
	"github.com/chazu/tern/lib/builtins"
	"github.com/chazu/tern/vm"
)

var log = commonlog.GetLogger("tern.host")

// Options configures one run.
type Options struct {
	Heap    vm.HeapConfig
	Machine []vm.Option
	Policy  *artifact.CapabilityPolicy // nil allows everything

	// Entry overrides the artifact's entry method.
	Entry string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// FromConfig builds run options from a configuration.
func FromConfig(c *config.Config) (Options, error) {
	hc, err := c.HeapConfig()
	if err != nil {
		return Options{}, err
	}
	return Options{Heap: hc, Machine: c.MachineOptions()}, nil
}

// Run links f and executes its entry method.
func Run(f *artifact.File, opts Options) (*vm.Result, error) {
	policy := opts.Policy
	if err := policy.Check(&f.Header, builtins.Names); err != nil {
		return nil, err
	}

	rt := vm.NewRuntime(opts.Heap)
	p, err := artifact.Load(f, rt.Interner)
	if err != nil {
		return nil, err
	}
	if opts.Entry != "" {
		p.Entry = opts.Entry
		for _, m := range p.Methods {
			m.Tags &^= vm.TagEntry
		}
	}

	granted := policy.Granted(builtins.Names)
	machine := append([]vm.Option{vm.WithStdio(opts.Stdin, opts.Stdout, opts.Stderr)}, opts.Machine...)
	r := vm.NewRunner(rt, machine...)
	r.Use(builtins.Select(rt.Interner, granted)...)

	log.Debugf("running %s with modules %v", f.Header.Name, granted)
	return r.Run(p)
}
