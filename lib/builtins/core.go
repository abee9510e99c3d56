package builtins

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/chazu/tern/vm"
)

// ErrAssertion is the cause of a failed assert.
var ErrAssertion = errors.New("assertion failed")

// ---------------------------------------------------------------------------
// core: reflection and diagnostics
// ---------------------------------------------------------------------------

// Core returns the reflection module: typeOf, toString, debugDump, assert
// and heapStats.
func Core(in *vm.Interner) vm.Module {
	e := newExporter(in, ModuleCore)

	e.export("typeOf", types(vm.TypeAny), vm.TypeString, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		if args[0] == 0 {
			return ctx.NewString("null")
		}
		obj, err := ctx.Object(args[0])
		if err != nil {
			return 0, err
		}
		return ctx.NewString(ctx.Registry.TypeName(obj.Tag()))
	})

	e.export("toString", types(vm.TypeAny), vm.TypeString, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		s, err := ctx.Render(args[0])
		if err != nil {
			return 0, err
		}
		return ctx.NewString(s)
	})

	e.export("debugDump", types(vm.TypeAny), vm.TypeVoid, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		text, err := Dump(ctx, args[0])
		if err != nil {
			return 0, err
		}
		_, err = fmt.Fprint(ctx.Stderr, text)
		return 0, err
	})

	e.export("assert", types(vm.TypeBool), vm.TypeVoid, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		obj, err := ctx.Object(args[0])
		if err != nil {
			return 0, err
		}
		if b, _ := obj.Payload().(vm.Bool); !b {
			return 0, ErrAssertion
		}
		return 0, nil
	})

	e.export("heapStats", nil, vm.TypeString, func(ctx *vm.NativeContext, _ vm.Handle, _ []vm.Handle) (vm.Handle, error) {
		return ctx.NewString(FormatStats(ctx.Heap.Stats()))
	})
	return e.mod
}

// Dump describes h: handle, type, reference count, rendering and members.
func Dump(ctx *vm.NativeContext, h vm.Handle) (string, error) {
	if h == 0 {
		return "null\n", nil
	}
	obj, err := ctx.Object(h)
	if err != nil {
		return "", err
	}
	text, err := ctx.Render(h)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s rc=%d %s\n", h, ctx.Registry.TypeName(obj.Tag()), ctx.Heap.RefCount(h), text)
	for _, name := range obj.MemberNames() {
		member, _ := obj.Member(name)
		s, err := ctx.Render(member)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  %s = %s\n", name, s)
	}
	if ov := obj.Overrides(); ov.Len() > 0 {
		for _, m := range ov.All() {
			fmt.Fprintf(&sb, "  override %s\n", m)
		}
	}
	return sb.String(), nil
}

// FormatStats renders heap statistics with human-readable sizes.
func FormatStats(st vm.HeapStats) string {
	return fmt.Sprintf("heap %s of %s (grown %d times), typed %d/%d, wild %d/%d",
		humanize.IBytes(uint64(st.Capacity)), humanize.IBytes(uint64(st.MaxSize)), st.Grows,
		st.TypedLive, st.TypedLimit, st.WildLive, st.WildLimit)
}
