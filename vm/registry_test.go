package vm

import (
	"errors"
	"testing"
)

func nativeConst(rt *Runtime, v int32) NativeFunc {
	return func(ctx *NativeContext, _ Handle, _ []Handle) (Handle, error) {
		return ctx.New(NewInt(v))
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func TestResolveBySignature(t *testing.T) {
	rt := NewRuntime(DefaultHeapConfig())
	name := rt.Interner.Intern("pick")
	byInt := &Method{Name: name, Params: []TypeTag{TypeInt}, Returns: []TypeTag{TypeInt}, Native: nativeConst(rt, 1)}
	byLong := &Method{Name: name, Params: []TypeTag{TypeLong}, Returns: []TypeTag{TypeInt}, Native: nativeConst(rt, 2)}
	rt.Registry.DefineGlobal(byInt)
	rt.Registry.DefineGlobal(byLong)

	for i := 0; i < 100; i++ {
		got, err := rt.Registry.ResolveGlobal("pick", []TypeTag{TypeLong})
		if err != nil {
			t.Fatal(err)
		}
		if got != byLong {
			t.Fatalf("resolved %s, want the long overload", got)
		}
		got, _ = rt.Registry.ResolveGlobal("pick", []TypeTag{TypeInt})
		if got != byInt {
			t.Fatalf("resolved %s, want the int overload", got)
		}
	}

	// No implicit widening from short
	if _, err := rt.Registry.ResolveGlobal("pick", []TypeTag{TypeShort}); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("pick(short) error = %v, want ErrMethodNotFound", err)
	}
	// Arity must match exactly
	if _, err := rt.Registry.ResolveGlobal("pick", nil); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("pick() error = %v, want ErrMethodNotFound", err)
	}
}

func TestResolveAnyIsExplicit(t *testing.T) {
	rt := NewRuntime(DefaultHeapConfig())
	name := rt.Interner.Intern("show")
	exact := &Method{Name: name, Params: []TypeTag{TypeString}, Native: nativeConst(rt, 1)}
	wild := &Method{Name: name, Params: []TypeTag{TypeAny}, Native: nativeConst(rt, 2)}
	rt.Registry.DefineGlobal(wild)
	rt.Registry.DefineGlobal(exact)

	if got, _ := rt.Registry.ResolveGlobal("show", []TypeTag{TypeString}); got != exact {
		t.Errorf("show(string) resolved %s, want the exact overload", got)
	}
	if got, _ := rt.Registry.ResolveGlobal("show", []TypeTag{TypeList}); got != wild {
		t.Errorf("show(list) resolved %s, want the any overload", got)
	}
}

func TestResolveOverridesFirst(t *testing.T) {
	rt := NewRuntime(DefaultHeapConfig())
	plain := NewInt(1)
	custom := NewInt(2)
	override := &Method{
		Name:     rt.Interner.Intern("toString"),
		Receiver: TypeInt,
		Returns:  []TypeTag{TypeString},
		Native: func(ctx *NativeContext, _ Handle, _ []Handle) (Handle, error) {
			return ctx.NewString("custom")
		},
	}
	custom.Attach(override)

	got, err := rt.Registry.Resolve(custom, "toString", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != override {
		t.Error("instance override was not preferred")
	}
	got, _ = rt.Registry.Resolve(plain, "toString", nil)
	if got == override {
		t.Error("override leaked to another instance")
	}

	if _, err := rt.Registry.Resolve(plain, "noSuchMethod", nil); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("error = %v, want ErrMethodNotFound", err)
	}
}

func TestResolveTag(t *testing.T) {
	rt := NewRuntime(DefaultHeapConfig())
	for _, obj := range []*Object{NewInt(1), NewDouble(1), NewFloat(1), NewLong(1), NewString(rt.Interner.Intern("s"))} {
		m, err := rt.Registry.ResolveTag(obj, TagAddition, []TypeTag{obj.Tag()})
		if err != nil {
			t.Errorf("%s: %v", obj.Tag(), err)
			continue
		}
		if !m.Tags.Has(TagAddition) {
			t.Errorf("%s: resolved %s without the addition tag", obj.Tag(), m)
		}
	}
	// float and double each declare addition; neither accepts the other
	if _, err := rt.Registry.ResolveTag(NewFloat(1), TagAddition, []TypeTag{TypeDouble}); err == nil {
		t.Error("float addition accepted a double")
	}
}

func TestValidateIntrinsics(t *testing.T) {
	rt := NewRuntime(DefaultHeapConfig())
	objs := []*Object{
		NewBool(true), NewChar('c'), NewShort(1), NewInt(1), NewLong(1),
		NewInt128(Int128From(1)), NewFloat(1), NewDouble(1), NewArch(1),
		NewString(rt.Interner.Intern("s")), NewList(), NewIterator(0),
		NewGenerator(nil), NewPromise(), NewFunction(&Method{}),
	}
	for _, obj := range objs {
		if err := rt.Registry.Validate(obj); err != nil {
			t.Errorf("Validate(%s): %v", obj.Tag(), err)
		}
	}
}

// ---------------------------------------------------------------------------
// Classes and externs
// ---------------------------------------------------------------------------

func TestDefineClass(t *testing.T) {
	rt := NewRuntime(DefaultHeapConfig())
	point, err := rt.Registry.DefineClass("Point", "x", "y")
	if err != nil {
		t.Fatal(err)
	}
	if !point.Tag.IsClass() {
		t.Errorf("class tag %d is not in the class range", point.Tag)
	}
	if tag, ok := rt.Registry.LookupType("Point"); !ok || tag != point.Tag {
		t.Error("LookupType(Point) failed")
	}
	if rt.Registry.TypeName(point.Tag) != "Point" {
		t.Errorf("TypeName = %q", rt.Registry.TypeName(point.Tag))
	}
	if !point.HasField(rt.Interner.Intern("y")) || point.HasField(rt.Interner.Intern("z")) {
		t.Error("HasField is wrong")
	}
	if _, err := rt.Registry.DefineClass("Point"); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("duplicate DefineClass error = %v", err)
	}
	if _, err := rt.Registry.DefineClass("int"); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("primitive DefineClass error = %v", err)
	}
	if err := rt.Registry.Validate(NewInstance(point)); err != nil {
		t.Error(err)
	}
}

func TestBindExtern(t *testing.T) {
	rt := NewRuntime(DefaultHeapConfig())
	name := rt.Interner.Intern("later")
	stub := &Method{Name: name, Params: []TypeTag{TypeInt}, Returns: []TypeTag{TypeInt}}
	site := NewCallSite("later", TypeInt)
	site.Bind(stub)

	if _, err := rt.Registry.Bind(site); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("unbound extern error = %v", err)
	}

	// A failed binding is permanent for that stub; a fresh stub sees the
	// definition.
	impl := &Method{Name: name, Params: []TypeTag{TypeInt}, Returns: []TypeTag{TypeInt}, Native: nativeConst(rt, 7)}
	rt.Registry.DefineGlobal(impl)
	fresh := NewCallSite("later", TypeInt)
	fresh.Bind(&Method{Name: name, Params: []TypeTag{TypeInt}, Returns: []TypeTag{TypeInt}})
	got, err := rt.Registry.Bind(fresh)
	if err != nil {
		t.Fatal(err)
	}
	if got != impl {
		t.Errorf("Bind resolved %s", got)
	}
	if fresh.Target() != impl {
		t.Error("call site did not cache its binding")
	}
}

func TestTagString(t *testing.T) {
	tags := TagAddition | TagToString
	if tags.String() != "addition|toString" {
		t.Errorf("String() = %q", tags.String())
	}
	if tag, ok := ParseTag("comparison"); !ok || tag != TagComparison {
		t.Error("ParseTag(comparison) failed")
	}
}
