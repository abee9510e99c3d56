package vm

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func body(t *testing.T, b *Builder) *Body {
	t.Helper()
	out, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRunnerRunsMain(t *testing.T) {
	rt := newTestRuntime()
	in := rt.Interner
	b := NewBuilder()
	b.PushInt(10).Call("fib", TypeInt).Emit(OpIReturn)
	fb := NewBuilder()
	fb.Emit(OpLoad, 0).PushInt(1).Jump(OpIfGt, "recurse")
	fb.Emit(OpLoad, 0).Emit(OpIReturn)
	fb.Label("recurse")
	fb.Emit(OpLoad, 0).PushInt(2).Emit(OpISub).Call("fib", TypeInt)
	fb.Emit(OpLoad, 0).PushInt(1).Emit(OpISub).Call("fib", TypeInt)
	fb.Emit(OpIAdd).Emit(OpIReturn)

	p := &Program{
		Name: "fib",
		Methods: []*Method{
			{Name: in.Intern("main"), Returns: ints(1), Body: body(t, b)},
			{Name: in.Intern("fib"), Params: ints(1), Returns: ints(1), Body: body(t, fb)},
		},
	}
	res, err := NewRunner(rt, WithStackSlots(1024)).Run(p)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := res.Int(); !ok || n != 55 {
		t.Errorf("main() = %d, %v, want 55", n, ok)
	}
	if res.String() != "55" {
		t.Errorf("String() = %q", res.String())
	}
	if res.Steps == 0 || res.Machine == "" {
		t.Errorf("result missing run metadata: %+v", res)
	}
}

func TestRunnerEntrySelection(t *testing.T) {
	rt := newTestRuntime()
	in := rt.Interner
	seven := body(t, NewBuilder().PushInt(7).Emit(OpIReturn))
	nine := body(t, NewBuilder().PushInt(9).Emit(OpIReturn))

	p := &Program{
		Methods: []*Method{
			{Name: in.Intern("main"), Returns: ints(1), Body: seven},
			{Name: in.Intern("start"), Returns: ints(1), Body: nine, Tags: TagEntry},
		},
	}
	res, err := NewRunner(rt, WithStackSlots(1024)).Run(p)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.Int(); n != 9 {
		t.Errorf("tagged entry result = %d, want 9", n)
	}

	other := newTestRuntime()
	named := &Program{
		Entry:   "go",
		Methods: []*Method{{Name: other.Interner.Intern("go"), Returns: ints(1), Body: seven}},
	}
	res, err = NewRunner(other, WithStackSlots(1024)).Run(named)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.Int(); n != 7 {
		t.Errorf("named entry result = %d, want 7", n)
	}

	if _, err := NewRunner(newTestRuntime()).Run(&Program{}); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("empty program error = %v, want ErrEntryNotFound", err)
	}
}

func TestRunnerReferenceResult(t *testing.T) {
	rt := newTestRuntime()
	p := &Program{
		Methods: []*Method{{
			Name:    rt.Interner.Intern("main"),
			Returns: []TypeTag{TypeString},
			Body:    body(t, NewBuilder().PushString("done").Emit(OpAReturn)),
		}},
	}
	res, err := NewRunner(rt, WithStackSlots(1024)).Run(p)
	if err != nil {
		t.Fatal(err)
	}
	if res.String() != "done" {
		t.Errorf("String() = %q, want done", res.String())
	}
	if live := rt.Heap.Stats().TypedLive; live != 0 {
		t.Errorf("TypedLive after run = %d, want 0", live)
	}
}

func TestRunnerModulesAndExterns(t *testing.T) {
	rt := newTestRuntime()
	in := rt.Interner
	var out bytes.Buffer
	emit := &Method{
		Name:   in.Intern("emit"),
		Params: ints(1),
		Native: func(ctx *NativeContext, _ Handle, args []Handle) (Handle, error) {
			s, err := ctx.Render(args[0])
			if err != nil {
				return 0, err
			}
			fmt.Fprintln(ctx.Stdout, s)
			return 0, nil
		},
	}
	runner := NewRunner(rt, WithStackSlots(1024), WithStdio(nil, &out, nil))
	runner.Use(Module{Name: "test", Exports: []Export{{Method: emit}}})

	// The program declares emit as an extern stub alongside main
	p := &Program{
		Methods: []*Method{
			{Name: in.Intern("emit"), Params: ints(1)},
			{Name: in.Intern("main"), Body: body(t, NewBuilder().PushInt(3).Call("emit", TypeInt).Emit(OpReturn))},
		},
	}
	if _, err := runner.Run(p); err != nil {
		t.Fatal(err)
	}
	if out.String() != "3\n" {
		t.Errorf("output = %q, want %q", out.String(), "3\n")
	}
	if got, _ := rt.Registry.ResolveGlobal("emit", ints(1)); got != emit {
		t.Error("extern stub replaced the module method")
	}
}

func TestRunnerClasses(t *testing.T) {
	rt := newTestRuntime()
	in := rt.Interner
	b := NewBuilder()
	b.Emit(OpNew, b.Name("Counter")).Send("bump", 0).Emit(OpUnbox, uint16(TypeInt)).Emit(OpIReturn)

	p := &Program{
		Classes: []ClassDef{{
			Name:   "Counter",
			Fields: []string{"n"},
			Methods: []*Method{{
				Name:    in.Intern("bump"),
				Returns: ints(1),
				Body:    body(t, NewBuilder().PushInt(1).Emit(OpIReturn)),
			}},
		}},
		Methods: []*Method{{Name: in.Intern("main"), Returns: ints(1), Body: body(t, b)}},
	}
	res, err := NewRunner(rt, WithStackSlots(1024)).Run(p)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.Int(); n != 1 {
		t.Errorf("main() = %d, want 1", n)
	}
	if _, ok := rt.Registry.LookupType("Counter"); !ok {
		t.Error("class was not defined")
	}
}

func TestRunnerAdoptsForeignNames(t *testing.T) {
	foreign := NewInterner()
	rt := newTestRuntime()
	p := &Program{
		Methods: []*Method{{
			Name:    foreign.Intern("main"),
			Returns: ints(1),
			Body:    body(t, NewBuilder().PushInt(3).Emit(OpIReturn)),
		}},
	}
	res, err := NewRunner(rt, WithStackSlots(1024)).Run(p)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.Int(); n != 3 {
		t.Errorf("main() = %d, want 3", n)
	}
	if !p.Methods[0].Name.Same(rt.Interner.Intern("main")) {
		t.Error("method name was not re-interned by the registry")
	}
}

func TestRunnerLinkTwice(t *testing.T) {
	rt := newTestRuntime()
	p := &Program{
		Classes: []ClassDef{{Name: "Box"}},
		Methods: []*Method{{
			Name:    rt.Interner.Intern("main"),
			Returns: ints(1),
			Body:    body(t, NewBuilder().PushInt(1).Emit(OpIReturn)),
		}},
	}
	runner := NewRunner(rt, WithStackSlots(1024))
	first, err := runner.Link(p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := runner.Link(p)
	if err != nil {
		t.Fatalf("second Link: %v", err)
	}
	if first != second {
		t.Error("relinking returned a different entry")
	}

	clash := &Program{Classes: []ClassDef{{Name: "Box"}}}
	if _, err := runner.Link(clash); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("redefining a class error = %v, want ErrDuplicateClass", err)
	}
}

func TestModuleMethodsLeaveExportsAlone(t *testing.T) {
	rt := newTestRuntime()
	shared := &Method{Name: rt.Interner.Intern("answer"), Native: nativeConst(rt, 42)}
	mod := Module{Name: "test", Exports: []Export{{Method: shared, Returns: ints(1)}}}

	methods := mod.Methods()
	if len(methods) != 1 || methods[0] == shared {
		t.Fatal("export with declared returns was not copied")
	}
	if methods[0].ReturnType() != TypeInt {
		t.Errorf("copy returns %s, want int", methods[0].ReturnType())
	}
	if shared.Returns != nil {
		t.Errorf("exported method was modified: returns %v", shared.Returns)
	}
}
