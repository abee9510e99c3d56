package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sevenSource = `
.program seven
.method main() int
    iconst 3
    iconst 4
    iadd
    ireturn
.end
`

// execute runs the CLI with args against a config in dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	configPath, verbosity, logFile = "", 0, ""
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(dir, "tern.toml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"tern.toml":  "[store]\npath = \"programs.db\"\n\n[vm]\nstack-slots = 4096\n",
		"seven.tasm": sevenSource,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunExitsWithResult(t *testing.T) {
	dir := setup(t)
	_, err := execute(t, dir, "run", filepath.Join(dir, "seven.tasm"))
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 7 {
		t.Errorf("run error = %v, want exit status 7", err)
	}
}

func TestAsmThenDis(t *testing.T) {
	dir := setup(t)
	src := filepath.Join(dir, "seven.tasm")
	if _, err := execute(t, dir, "asm", src); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "seven.tern")
	text, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(text), "TERN 1\n") {
		t.Errorf("artifact starts %q", string(text[:10]))
	}

	listing, err := execute(t, dir, "dis", out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"; program seven", "; === main() ===", "IADD", "IRETURN"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing lacks %q:\n%s", want, listing)
		}
	}

	// The assembled artifact runs like its source
	_, err = execute(t, dir, "run", out)
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 7 {
		t.Errorf("run error = %v, want exit status 7", err)
	}
}

func TestStoreCommands(t *testing.T) {
	dir := setup(t)
	out, err := execute(t, dir, "store", "put", filepath.Join(dir, "seven.tasm"))
	if err != nil {
		t.Fatal(err)
	}
	hash := strings.Fields(out)[0]
	if len(hash) != 64 {
		t.Fatalf("store put printed %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "programs.db")); err != nil {
		t.Errorf("store was not created next to the config: %v", err)
	}

	out, err = execute(t, dir, "store", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, hash[:12]) || !strings.Contains(out, "seven") {
		t.Errorf("store list = %q", out)
	}

	out, err = execute(t, dir, "store", "get", hash[:8])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "TERN 1\n") {
		t.Errorf("store get = %q", out)
	}

	if _, err := execute(t, dir, "store", "rm", hash); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, dir, "store", "get", hash); err == nil {
		t.Error("removed program is still stored")
	}
}

func TestRunReportsAssemblyErrors(t *testing.T) {
	dir := setup(t)
	bad := filepath.Join(dir, "bad.tasm")
	os.WriteFile(bad, []byte(".method main() int\n  bogus\n.end\n"), 0o644)
	_, err := execute(t, dir, "run", bad)
	if err == nil || !strings.Contains(err.Error(), "bad.tasm:2") {
		t.Errorf("run error = %v, want a located assembly error", err)
	}
}
