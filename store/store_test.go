package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/tern/artifact"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "programs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func program(name string, code ...uint16) *artifact.File {
	return &artifact.File{
		Header: artifact.Header{Version: artifact.Version, Name: name},
		Body: artifact.Body{Methods: []artifact.Method{{
			Name:    "main",
			Returns: []string{"int"},
			Code:    artifact.PackCode(code),
		}}},
	}
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)
	f := program("answer", 1, 42)

	hash, err := s.Put(f)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := artifact.HashString(f)
	if hash != want {
		t.Errorf("Put() = %s, want %s", hash, want)
	}

	got, full, err := s.Get(hash[:8])
	if err != nil {
		t.Fatal(err)
	}
	if full != hash {
		t.Errorf("Get() resolved %s, want %s", full, hash)
	}
	if got.Header.Name != "answer" || len(got.Body.Methods) != 1 {
		t.Errorf("Get() = %+v", got.Header)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTemp(t)
	a, _ := s.Put(program("p", 1))
	b, _ := s.Put(program("p", 1))
	if a != b {
		t.Errorf("same program stored under %s and %s", a, b)
	}
	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("%d entries, want 1", len(entries))
	}
}

func TestGetErrors(t *testing.T) {
	s := openTemp(t)
	s.Put(program("p", 1))

	tests := []struct {
		name   string
		prefix string
		want   error
	}{
		{"too short", "ab", ErrNotFound},
		{"missing", "0000000000", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := s.Get(tt.prefix); !errors.Is(err, tt.want) {
				t.Errorf("Get(%q) error = %v, want %v", tt.prefix, err, tt.want)
			}
		})
	}
}

func TestListAndDelete(t *testing.T) {
	s := openTemp(t)
	var hashes []string
	for _, name := range []string{"one", "two", "three"} {
		h, err := s.Put(program(name, 2))
		if err != nil {
			t.Fatal(err)
		}
		hashes = append(hashes, h)
	}
	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("%d entries, want 3", len(entries))
	}
	for _, e := range entries {
		if e.Size == 0 || e.Created.IsZero() {
			t.Errorf("entry %+v lacks metadata", e)
		}
	}

	if err := s.Delete(hashes[0]); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Get(hashes[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted program error = %v", err)
	}
	if err := s.Delete(hashes[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v", err)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	hash, _ := s.Put(program("kept", 3))
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, _, err := s.Get(hash); err != nil {
		t.Errorf("program lost across reopen: %v", err)
	}
}
