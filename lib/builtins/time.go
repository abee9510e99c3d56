package builtins

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chazu/tern/vm"
)

// ---------------------------------------------------------------------------
// time: clocks and sleeping
// ---------------------------------------------------------------------------

// Time returns the clock module: epochMillis, nanoTime, sleep and since.
func Time(in *vm.Interner) vm.Module {
	e := newExporter(in, ModuleTime)
	start := time.Now()

	e.export("epochMillis", nil, vm.TypeLong, func(ctx *vm.NativeContext, _ vm.Handle, _ []vm.Handle) (vm.Handle, error) {
		return ctx.New(vm.NewLong(time.Now().UnixMilli()))
	})
	e.export("nanoTime", nil, vm.TypeLong, func(ctx *vm.NativeContext, _ vm.Handle, _ []vm.Handle) (vm.Handle, error) {
		return ctx.New(vm.NewLong(int64(time.Since(start))))
	})
	e.export("sleep", types(vm.TypeInt), vm.TypeVoid, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		obj, err := ctx.Object(args[0])
		if err != nil {
			return 0, err
		}
		ms, _ := obj.Int64()
		if ms < 0 {
			return 0, fmt.Errorf("sleep duration %dms is negative", ms)
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return 0, nil
	})
	// since renders an epochMillis timestamp relative to now ("3 minutes ago").
	e.export("since", types(vm.TypeLong), vm.TypeString, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		obj, err := ctx.Object(args[0])
		if err != nil {
			return 0, err
		}
		ms, _ := obj.Int64()
		return ctx.NewString(humanize.Time(time.UnixMilli(ms)))
	})
	return e.mod
}
