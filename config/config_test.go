package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/tern/vm"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "tern.toml", `
[heap]
initial-size = "64MiB"
max-size = "128MiB"
growable = false
ratio = "1:1"

[vm]
max-depth = 128
trace = true

[store]
path = "data/programs.db"

[server]
address = ":9000"
capabilities = ["io", "core"]
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	hc, err := c.HeapConfig()
	if err != nil {
		t.Fatal(err)
	}
	want := vm.HeapConfig{
		InitialSize: 64 << 20,
		MaxSize:     128 << 20,
		TypedShare:  1,
		WildShare:   1,
		BlockSlots:  4096,
	}
	if hc != want {
		t.Errorf("HeapConfig() = %+v, want %+v", hc, want)
	}
	if c.VM.MaxDepth != 128 || !c.VM.Trace {
		t.Errorf("vm = %+v", c.VM)
	}
	// Unset keys keep their defaults
	if c.VM.StackSlots != vm.DefaultStackSlots {
		t.Errorf("StackSlots = %d, want default", c.VM.StackSlots)
	}
	if len(c.Server.Capabilities) != 2 || c.Server.Address != ":9000" {
		t.Errorf("server = %+v", c.Server)
	}
	path, _ := c.StorePath(nil)
	if path != filepath.Join(dir, "data", "programs.db") {
		t.Errorf("StorePath() = %q", path)
	}
	if len(c.MachineOptions()) != 2 {
		t.Errorf("MachineOptions() has %d options", len(c.MachineOptions()))
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "tern.yaml", `
heap:
  initial-size: 1MB
  max-size: 4MB
vm:
  stack-slots: 2048
log:
  verbosity: 2
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	hc, _ := c.HeapConfig()
	if hc.InitialSize != 1000000 || hc.MaxSize != 4000000 || !hc.Growable {
		t.Errorf("HeapConfig() = %+v", hc)
	}
	if c.VM.StackSlots != 2048 || c.Log.Verbosity != 2 {
		t.Errorf("config = %+v", c)
	}
}

func TestDefaults(t *testing.T) {
	hc, err := Default().HeapConfig()
	if err != nil {
		t.Fatal(err)
	}
	if hc != vm.DefaultHeapConfig() {
		t.Errorf("default heap = %+v, want %+v", hc, vm.DefaultHeapConfig())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad toml", "tern.toml", "[heap\n"},
		{"unknown toml key", "tern.toml", "[heap]\nsize = \"1MB\"\n"},
		{"unknown yaml key", "tern.yaml", "heap:\n  size: 1MB\n"},
		{"bad size", "tern.toml", "[heap]\ninitial-size = \"lots\"\n"},
		{"max below initial", "tern.toml", "[heap]\ninitial-size = \"2GiB\"\n"},
		{"bad ratio", "tern.toml", "[heap]\nratio = \"3\"\n"},
		{"zero ratio", "tern.yaml", "heap:\n  ratio: \"0:0\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(t, t.TempDir(), tt.file, tt.content)
			if _, err := LoadFile(path); err == nil {
				t.Error("LoadFile() accepted a bad configuration")
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	write(t, root, "tern.toml", "[vm]\nmax-depth = 7\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.VM.MaxDepth != 7 {
		t.Fatalf("FindAndLoad() = %+v", c)
	}
	if c.Path != filepath.Join(root, "tern.toml") {
		t.Errorf("Path = %q", c.Path)
	}
}

func TestResolveFallsBack(t *testing.T) {
	c, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.VM.MaxDepth != vm.DefaultMaxDepth {
		t.Errorf("Resolve() = %+v", c)
	}
	path, err := c.StorePath(func() (string, error) { return "fallback.db", nil })
	if err != nil || path != "fallback.db" {
		t.Errorf("StorePath() = %q, %v", path, err)
	}
}
