package asm

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/lib/builtins"
	"github.com/chazu/tern/vm"
)

func TestExamples(t *testing.T) {
	tests := []struct {
		file   string
		stdin  string
		output string
		result int64
	}{
		{"fib.tasm", "", "75025\n", 0},
		{"prime.tasm", "", "0\n0\n", 1},
		{"point.tasm", "", "(3, -4)\n", 0},
		{"greet.tasm", "Ada\n", "name? hello, Ada\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join("..", "examples", tt.file)
			src, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			f, err := Assemble(path, src)
			if err != nil {
				t.Fatal(err)
			}

			rt := vm.NewRuntime(vm.DefaultHeapConfig())
			p, err := artifact.Load(f, rt.Interner)
			if err != nil {
				t.Fatal(err)
			}
			var out bytes.Buffer
			r := vm.NewRunner(rt, vm.WithStackSlots(4096), vm.WithStdio(strings.NewReader(tt.stdin), &out, &out))
			r.Use(builtins.Select(rt.Interner, f.Header.Capabilities)...)
			res, err := r.Run(p)
			if err != nil {
				t.Fatal(err)
			}
			if out.String() != tt.output {
				t.Errorf("output = %q, want %q", out.String(), tt.output)
			}
			if n, _ := res.Int(); n != tt.result {
				t.Errorf("result = %d, want %d", n, tt.result)
			}
		})
	}
}
