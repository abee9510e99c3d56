package vm

import (
	"fmt"
	"sync"
	"testing"
)

func TestInternIdentity(t *testing.T) {
	in := NewInterner()

	// Build the second string at runtime so the two never share storage
	a := in.Intern("selector")
	b := in.Intern(fmt.Sprintf("sel%s", "ector"))
	if a != b {
		t.Error("equal strings interned to different handles")
	}
	if !a.Same(b) {
		t.Error("Same() = false for equal strings")
	}
	if a.ID() != b.ID() {
		t.Errorf("IDs differ: %d vs %d", a.ID(), b.ID())
	}

	c := in.Intern("other")
	if a == c {
		t.Error("distinct strings interned to the same handle")
	}
	if in.Len() != 2 {
		t.Errorf("Len() = %d, want 2", in.Len())
	}
}

func TestInternLookupAndByID(t *testing.T) {
	in := NewInterner()
	if _, ok := in.Lookup("missing"); ok {
		t.Error("Lookup found a string that was never interned")
	}
	s := in.Intern("present")
	got, ok := in.Lookup("present")
	if !ok || got != s {
		t.Error("Lookup did not return the interned handle")
	}
	byID, ok := in.ByID(s.ID())
	if !ok || byID != s {
		t.Error("ByID did not return the interned handle")
	}
	if _, ok := in.ByID(99); ok {
		t.Error("ByID accepted an unknown id")
	}
	if (CopyString{}).String() != "" || !(CopyString{}).IsZero() {
		t.Error("zero CopyString should be empty")
	}
}

func TestInternConcurrent(t *testing.T) {
	in := NewInterner()
	const workers = 16
	const words = 200

	results := make([][]CopyString, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out := make([]CopyString, words)
			for i := 0; i < words; i++ {
				out[i] = in.Intern(fmt.Sprintf("word-%d", i))
			}
			results[w] = out
		}(w)
	}
	wg.Wait()

	if in.Len() != words {
		t.Fatalf("Len() = %d, want %d", in.Len(), words)
	}
	for w := 1; w < workers; w++ {
		for i := 0; i < words; i++ {
			if results[w][i] != results[0][i] {
				t.Fatalf("worker %d got a different handle for word-%d", w, i)
			}
		}
	}
}

func TestSharedInterner(t *testing.T) {
	if SharedInterner() != SharedInterner() {
		t.Error("SharedInterner returned different instances")
	}
}
