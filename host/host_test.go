package host

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/asm"
	"github.com/chazu/tern/config"
	"github.com/chazu/tern/vm"
)

const greet = `
.program greet
.requires io

.method main() int
    sconst "hi"
    call println(any)
    iconst 3
    ireturn
.end

.method other() int
    iconst 9
    ireturn
.end
`

func assemble(t *testing.T, src string) *artifact.File {
	t.Helper()
	f, err := asm.Assemble("test.tasm", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func options(t *testing.T, out *bytes.Buffer) Options {
	t.Helper()
	opts, err := FromConfig(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	opts.Machine = append(opts.Machine, vm.WithStackSlots(4096))
	opts.Stdout = out
	return opts
}

func TestRun(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(assemble(t, greet), options(t, &out))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.Int(); n != 3 {
		t.Errorf("main() = %d, want 3", n)
	}
	if out.String() != "hi\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunEntryOverride(t *testing.T) {
	var out bytes.Buffer
	opts := options(t, &out)
	opts.Entry = "other"
	res, err := Run(assemble(t, greet), opts)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.Int(); n != 9 {
		t.Errorf("other() = %d, want 9", n)
	}
}

func TestRunPolicy(t *testing.T) {
	var out bytes.Buffer
	opts := options(t, &out)
	opts.Policy = artifact.NewRestrictedPolicy([]string{"core"})
	if _, err := Run(assemble(t, greet), opts); !errors.Is(err, artifact.ErrCapabilityDenied) {
		t.Errorf("error = %v, want ErrCapabilityDenied", err)
	}

	// An undeclared module is not linked even though the program calls it
	sneaky := strings.Replace(greet, ".requires io", "", 1)
	_, err := Run(assemble(t, sneaky), opts)
	if !errors.Is(err, vm.ErrMethodNotFound) {
		t.Errorf("error = %v, want ErrMethodNotFound", err)
	}
	if out.Len() != 0 {
		t.Errorf("restricted run wrote %q", out.String())
	}
}

func TestRunUnknownCapability(t *testing.T) {
	var out bytes.Buffer
	src := strings.Replace(greet, ".requires io", ".requires io gpu", 1)
	_, err := Run(assemble(t, src), options(t, &out))
	if !errors.Is(err, artifact.ErrUnknownCapability) {
		t.Fatalf("error = %v, want ErrUnknownCapability", err)
	}
	if errors.Is(err, artifact.ErrCapabilityDenied) {
		t.Errorf("unknown module reported as denied: %v", err)
	}
}
