package builtins

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chazu/tern/vm"
)

// ---------------------------------------------------------------------------
// random: pseudo-random numbers
// ---------------------------------------------------------------------------

// Random returns the random module over a generator seeded with seed, or
// with the current time when seed is 0.
func Random(in *vm.Interner, seed int64) vm.Module {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	e := newExporter(in, ModuleRandom)

	e.export("randomInt", types(vm.TypeInt), vm.TypeInt, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		obj, err := ctx.Object(args[0])
		if err != nil {
			return 0, err
		}
		bound, _ := obj.Int64()
		if bound <= 0 {
			return 0, fmt.Errorf("randomInt bound %d must be positive", bound)
		}
		mu.Lock()
		n := rng.Int63n(bound)
		mu.Unlock()
		return ctx.New(vm.NewInt(int32(n)))
	})
	e.export("randomDouble", nil, vm.TypeDouble, func(ctx *vm.NativeContext, _ vm.Handle, _ []vm.Handle) (vm.Handle, error) {
		mu.Lock()
		f := rng.Float64()
		mu.Unlock()
		return ctx.New(vm.NewDouble(f))
	})
	e.export("randomSeed", types(vm.TypeLong), vm.TypeVoid, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		obj, err := ctx.Object(args[0])
		if err != nil {
			return 0, err
		}
		s, _ := obj.Int64()
		mu.Lock()
		rng.Seed(s)
		mu.Unlock()
		return 0, nil
	})
	return e.mod
}
