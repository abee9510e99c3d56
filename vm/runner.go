package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

// ErrEntryNotFound is returned when a program has no entry method.
var ErrEntryNotFound = errors.New("entry point not found")

// DefaultEntry is the entry method name used when a program names none.
const DefaultEntry = "main"

// ---------------------------------------------------------------------------
// Registration surface
// ---------------------------------------------------------------------------

// Export is one method a module contributes, with its declared result types.
type Export struct {
	Method  *Method
	Returns []TypeTag
}

// Module is a named group of global callables, typically built-ins.
type Module struct {
	Name    string
	Exports []Export
}

// Methods flattens the module into callables. An export with declared
// return types yields a copy of its method carrying them; the exported
// method itself is left untouched.
func (mod Module) Methods() []*Method {
	out := make([]*Method, 0, len(mod.Exports))
	for _, e := range mod.Exports {
		m := e.Method
		if e.Returns != nil {
			m = &Method{
				Name:     m.Name,
				Receiver: m.Receiver,
				Params:   m.Params,
				Returns:  e.Returns,
				Tags:     m.Tags,
				Native:   m.Native,
				Body:     m.Body,
			}
		}
		out = append(out, m)
	}
	return out
}

// ClassDef declares a user class and its methods. Method receivers are set
// to the class tag when the program is linked.
type ClassDef struct {
	Name    string
	Fields  []string
	Methods []*Method
}

// Program is a decoded set of callables plus the name of its entry method.
type Program struct {
	Name    string
	Entry   string
	Classes []ClassDef
	Methods []*Method
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Runner installs modules and programs into a runtime and executes entry
// methods.
type Runner struct {
	rt        *Runtime
	modules   []Module
	installed int // modules already in the global table
	linked    map[*Program]*Method
	opts      []Option
	log       commonlog.Logger
}

// Result is the outcome of a run.
type Result struct {
	Entry   *Method
	Type    TypeTag
	Slots   []IVal
	Text    string // rendering of a reference result
	Steps   uint64
	Machine string
}

// Int returns an integral result widened to int64.
func (r *Result) Int() (int64, bool) {
	switch r.Type {
	case TypeBool, TypeChar, TypeShort, TypeInt:
		return int64(r.Slots[0].Int()), true
	case TypeLong:
		return JoinInt64(r.Slots[0], r.Slots[1]), true
	case TypeArch:
		if len(r.Slots) == 2 {
			return JoinInt64(r.Slots[0], r.Slots[1]), true
		}
		return int64(r.Slots[0].Int()), true
	}
	return 0, false
}

// String renders the result value.
func (r *Result) String() string {
	if r.Type.IsReference() {
		return r.Text
	}
	return FormatSlots(r.Type, r.Slots)
}

// NewRunner creates a runner. Options are applied to every machine it
// creates.
func NewRunner(rt *Runtime, opts ...Option) *Runner {
	return &Runner{
		rt:     rt,
		opts:   opts,
		linked: make(map[*Program]*Method),
		log:    commonlog.GetLogger("tern.runner"),
	}
}

// Runtime returns the runner's runtime.
func (r *Runner) Runtime() *Runtime {
	return r.rt
}

// Use adds library modules. Their methods are installed at the next Link.
func (r *Runner) Use(mods ...Module) {
	r.modules = append(r.modules, mods...)
}

// Link installs the modules and p into the global table and returns the
// entry method. Extern stubs are not installed; they bind on first call.
//
// Linking the same program again returns the entry found the first time.
// Linking a different program that declares an already defined class
// fails with ErrDuplicateClass.
func (r *Runner) Link(p *Program) (*Method, error) {
	if entry, ok := r.linked[p]; ok {
		return entry, nil
	}
	reg := r.rt.Registry
	for _, mod := range r.modules[r.installed:] {
		for _, m := range mod.Methods() {
			reg.DefineGlobal(m)
		}
		r.log.Debugf("module %s: %d methods", mod.Name, len(mod.Exports))
	}
	r.installed = len(r.modules)

	entry, err := r.link(p)
	if err != nil {
		return nil, err
	}
	r.linked[p] = entry
	return entry, nil
}

func (r *Runner) link(p *Program) (*Method, error) {
	reg := r.rt.Registry

	for _, cd := range p.Classes {
		class, err := reg.DefineClass(cd.Name, cd.Fields...)
		if err != nil {
			return nil, err
		}
		for _, m := range cd.Methods {
			m.Receiver = class.Tag
			reg.DefineMethod(m)
		}
	}

	var tagged *Method
	for _, m := range p.Methods {
		if m.IsExtern() {
			continue
		}
		reg.DefineGlobal(m)
		if m.Tags.Has(TagEntry) && tagged == nil {
			tagged = m
		}
	}
	if tagged != nil && len(tagged.Params) == 0 {
		return tagged, nil
	}

	entry := p.Entry
	if entry == "" {
		entry = DefaultEntry
	}
	m, err := reg.ResolveGlobal(entry, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entry)
	}
	return m, nil
}

// Run links p and invokes its entry method with no arguments on a new
// machine.
func (r *Runner) Run(p *Program) (*Result, error) {
	entry, err := r.Link(p)
	if err != nil {
		return nil, err
	}
	m := r.rt.NewMachine(r.opts...)
	r.log.Infof("machine %s: entering %s", m.ID, entry)
	slots, err := m.Invoke(entry)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Entry:   entry,
		Type:    entry.ReturnType(),
		Slots:   slots,
		Steps:   m.Steps(),
		Machine: m.ID.String(),
	}
	if res.Type.IsReference() && len(slots) == 1 {
		h := slots[0].Ref()
		if res.Text, err = m.Native().Render(h); err != nil {
			return nil, err
		}
		m.Native().Drop(h)
	}
	r.log.Infof("machine %s: %s returned %s after %d steps", m.ID, entry, res, res.Steps)
	return res, nil
}
