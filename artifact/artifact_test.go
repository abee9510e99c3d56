package artifact

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tern/vm"
)

// fibFile builds an artifact whose main computes fib(n).
func fibFile(t *testing.T, n int32) *File {
	t.Helper()
	in := vm.NewInterner()

	main := vm.NewBuilder()
	main.PushInt(n).Call("fib", vm.TypeInt).Emit(vm.OpIReturn)
	mainBody, err := main.Build()
	if err != nil {
		t.Fatal(err)
	}

	fb := vm.NewBuilder()
	fb.Emit(vm.OpLoad, 0).PushInt(1).Jump(vm.OpIfGt, "recurse")
	fb.Emit(vm.OpLoad, 0).Emit(vm.OpIReturn)
	fb.Label("recurse")
	fb.Emit(vm.OpLoad, 0).PushInt(2).Emit(vm.OpISub).Call("fib", vm.TypeInt)
	fb.Emit(vm.OpLoad, 0).PushInt(1).Emit(vm.OpISub).Call("fib", vm.TypeInt)
	fb.Emit(vm.OpIAdd).Emit(vm.OpIReturn)
	fibBody, err := fb.Build()
	if err != nil {
		t.Fatal(err)
	}

	ints := []vm.TypeTag{vm.TypeInt}
	p := &vm.Program{
		Name: "fib",
		Methods: []*vm.Method{
			{Name: in.Intern("main"), Returns: ints, Body: mainBody, Tags: vm.TagEntry},
			{Name: in.Intern("fib"), Params: ints, Returns: ints, Body: fibBody},
		},
	}
	f, err := FromProgram(p)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestLoadAndRun(t *testing.T) {
	f := fibFile(t, 10)
	text, err := EncodeText(f)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(text)
	if err != nil {
		t.Fatal(err)
	}

	rt := vm.NewRuntime(vm.DefaultHeapConfig())
	p, err := Load(decoded, rt.Interner)
	if err != nil {
		t.Fatal(err)
	}
	res, err := vm.NewRunner(rt, vm.WithStackSlots(1024)).Run(p)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := res.Int(); !ok || n != 55 {
		t.Errorf("main() = %d, %v, want 55", n, ok)
	}
	if p.Methods[0].Tags != vm.TagEntry {
		t.Errorf("entry tag lost: %s", p.Methods[0].Tags)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	a, err := HashString(fibFile(t, 10))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := HashString(fibFile(t, 10))
	if a != b {
		t.Errorf("equal files hashed differently: %s vs %s", a, b)
	}
	c, _ := HashString(fibFile(t, 11))
	if a == c {
		t.Error("different files share a hash")
	}
	if len(a) != 64 {
		t.Errorf("hash %q is not 32 hex bytes", a)
	}
}

func TestDecodeTextTolerance(t *testing.T) {
	text, err := EncodeText(fibFile(t, 5))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(text)), "\n")
	if lines[0] != "TERN 1" {
		t.Fatalf("first line = %q", lines[0])
	}
	for _, l := range lines[1:] {
		if len(l) > 2*bytesPerLine {
			t.Errorf("line %q is wider than %d bytes", l, bytesPerLine)
		}
	}

	// Comments, blank lines and spaced pairs decode the same
	var messy bytes.Buffer
	messy.WriteString("; fib artifact\n\n")
	messy.WriteString(lines[0] + "\n")
	for _, l := range lines[1:] {
		for i := 0; i < len(l); i += 2 {
			messy.WriteString(l[i:i+2] + " ")
		}
		messy.WriteString("\n; --\n")
	}
	f, err := Decode(messy.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if f.Header.Name != "fib" || len(f.Body.Methods) != 2 {
		t.Errorf("decoded %+v", f.Header)
	}
}

func TestDecodeRejects(t *testing.T) {
	good, _ := EncodeText(fibFile(t, 1))
	body := strings.SplitN(string(good), "\n", 2)[1]

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no magic", body},
		{"wrong text version", "TERN 9\n" + body},
		{"bad hex", "TERN 1\nzz\n"},
		{"not cbor", "TERN 1\nff\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeText([]byte(tt.text)); !errors.Is(err, ErrBadArtifact) {
				t.Errorf("DecodeText() error = %v, want ErrBadArtifact", err)
			}
		})
	}

	f := fibFile(t, 1)
	f.Header.Version = 2
	data, _ := Marshal(f)
	if _, err := Unmarshal(data); !errors.Is(err, ErrBadArtifact) {
		t.Errorf("version 2 error = %v, want ErrBadArtifact", err)
	}
}

func TestRawCBOR(t *testing.T) {
	data, err := Marshal(fibFile(t, 3))
	if err != nil {
		t.Fatal(err)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Header.Name != "fib" {
		t.Errorf("Name = %q", f.Header.Name)
	}
}

func TestLoadRejects(t *testing.T) {
	in := vm.NewInterner()
	tests := []struct {
		name   string
		method Method
	}{
		{"odd code", Method{Name: "m", Code: []byte{1}}},
		{"unknown type", Method{Name: "m", Params: []string{"Point"}}},
		{"void param", Method{Name: "m", Params: []string{"void"}}},
		{"unknown tag", Method{Name: "m", Tags: []string{"sparkle"}}},
		{"unverifiable", Method{Name: "m", Code: PackCode([]uint16{uint16(vm.OpLoad), 3})}},
		{"unknown constant", Method{Name: "m", Code: PackCode([]uint16{uint16(vm.OpReturn)}), Consts: []Constant{{Kind: "blob"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{Header: Header{Version: Version}, Body: Body{Methods: []Method{tt.method}}}
			if _, err := Load(f, in); err == nil {
				t.Error("Load() accepted a malformed method")
			}
		})
	}
}

func TestExternStub(t *testing.T) {
	f := &File{
		Header: Header{Version: Version},
		Body:   Body{Methods: []Method{{Name: "println", Params: []string{"int"}}}},
	}
	p, err := Load(f, vm.NewInterner())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Methods[0].IsExtern() {
		t.Error("method without code did not load as an extern stub")
	}
}

func TestCodeUnits(t *testing.T) {
	code := []uint16{0x0102, 0xfffe, 0}
	packed := PackCode(code)
	if !bytes.Equal(packed, []byte{0x02, 0x01, 0xfe, 0xff, 0, 0}) {
		t.Errorf("PackCode = % x", packed)
	}
	if _, err := UnpackCode(packed[:3]); !errors.Is(err, ErrBadArtifact) {
		t.Errorf("odd length error = %v", err)
	}
}

func TestFromMethodRejectsNatives(t *testing.T) {
	m := &vm.Method{
		Name: vm.NewInterner().Intern("n"),
		Native: func(*vm.NativeContext, vm.Handle, []vm.Handle) (vm.Handle, error) {
			return 0, nil
		},
	}
	if _, err := FromMethod(m); err == nil {
		t.Error("native method was encoded")
	}
}

// ---------------------------------------------------------------------------
// Capabilities
// ---------------------------------------------------------------------------

func TestCapabilityPolicy(t *testing.T) {
	h := &Header{Capabilities: []string{"io", "random"}}

	if err := NewPermissivePolicy().Check(h, nil); err != nil {
		t.Errorf("permissive policy: %v", err)
	}
	if err := NewRestrictedPolicy([]string{"io"}).Check(h, nil); !errors.Is(err, ErrCapabilityDenied) {
		t.Errorf("restricted policy error = %v", err)
	}
	if err := NewRestrictedPolicy([]string{"io", "random"}).Check(h, nil); err != nil {
		t.Errorf("restricted policy with both: %v", err)
	}

	p := NewPermissivePolicy()
	p.Deny("random")
	if err := p.Check(h, nil); !errors.Is(err, ErrCapabilityDenied) {
		t.Errorf("denied capability error = %v", err)
	}
	if p.Grants("random") || !p.Grants("io") {
		t.Error("Grants disagrees with Deny")
	}
	if got := p.Granted([]string{"io", "core", "random"}); strings.Join(got, ",") != "io,core" {
		t.Errorf("Granted = %v", got)
	}

	var none *CapabilityPolicy
	if err := none.Check(h, nil); err != nil || !none.Grants("anything") {
		t.Errorf("nil policy refused: %v", err)
	}
}

func TestCapabilityErrorListsEveryModule(t *testing.T) {
	h := &Header{Name: "demo", Capabilities: []string{"time", "gpu", "random", "time", "net"}}
	p := NewRestrictedPolicy([]string{"io"})
	err := p.Check(h, []string{"io", "core", "random", "time"})

	var ce *CapabilityError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want a *CapabilityError", err)
	}
	if got := strings.Join(ce.Denied, ","); got != "random,time" {
		t.Errorf("Denied = %q, want random,time", got)
	}
	if got := strings.Join(ce.Unknown, ","); got != "gpu,net" {
		t.Errorf("Unknown = %q, want gpu,net", got)
	}
	if !errors.Is(err, ErrCapabilityDenied) || !errors.Is(err, ErrUnknownCapability) {
		t.Errorf("error %v does not match both sentinels", err)
	}
	want := "demo: capability denied: random, time; unknown capability: gpu, net"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	// Unknown modules alone are not a denial
	err = NewPermissivePolicy().Check(&Header{Capabilities: []string{"gpu"}}, []string{"io"})
	if errors.Is(err, ErrCapabilityDenied) || !errors.Is(err, ErrUnknownCapability) {
		t.Errorf("unknown-only error = %v", err)
	}
}
