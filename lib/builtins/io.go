package builtins

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/tern/vm"
)

// ---------------------------------------------------------------------------
// io: console output and line input
// ---------------------------------------------------------------------------

// IO returns the console module: print, println, readLine and prompt.
// Scalar overloads take the compact value directly; the machine boxes it
// on the way in.
func IO(in *vm.Interner) vm.Module {
	e := newExporter(in, ModuleIO)

	write := func(newline bool) vm.NativeFunc {
		return func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
			s, err := ctx.Render(args[0])
			if err != nil {
				return 0, err
			}
			if newline {
				_, err = fmt.Fprintln(ctx.Stdout, s)
			} else {
				_, err = io.WriteString(ctx.Stdout, s)
			}
			return 0, err
		}
	}
	for _, t := range []vm.TypeTag{vm.TypeAny, vm.TypeInt, vm.TypeLong, vm.TypeDouble, vm.TypeFloat, vm.TypeBool, vm.TypeChar} {
		e.export("print", types(t), vm.TypeVoid, write(false))
		e.export("println", types(t), vm.TypeVoid, write(true))
	}
	e.export("println", nil, vm.TypeVoid, func(ctx *vm.NativeContext, _ vm.Handle, _ []vm.Handle) (vm.Handle, error) {
		_, err := fmt.Fprintln(ctx.Stdout)
		return 0, err
	})

	e.export("readLine", nil, vm.TypeString, func(ctx *vm.NativeContext, _ vm.Handle, _ []vm.Handle) (vm.Handle, error) {
		line, err := readLine(ctx)
		if err != nil {
			return 0, err
		}
		return ctx.NewString(line)
	})
	e.export("prompt", types(vm.TypeAny), vm.TypeString, func(ctx *vm.NativeContext, _ vm.Handle, args []vm.Handle) (vm.Handle, error) {
		s, err := ctx.Render(args[0])
		if err != nil {
			return 0, err
		}
		if _, err := io.WriteString(ctx.Stdout, s); err != nil {
			return 0, err
		}
		line, err := readLine(ctx)
		if err != nil {
			return 0, err
		}
		return ctx.NewString(line)
	})
	return e.mod
}

// readLine returns the next input line without its terminator. End of
// input yields whatever was read, possibly the empty string.
func readLine(ctx *vm.NativeContext) (string, error) {
	line, err := ctx.Stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
