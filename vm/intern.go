package vm

import "sync"

// ---------------------------------------------------------------------------
// CopyString: interned strings
// ---------------------------------------------------------------------------

type internEntry struct {
	id   uint32
	text string
}

// CopyString is an interned, process-lifetime string. Two CopyStrings with
// equal content obtained from the same Interner share one entry, so == on
// CopyString is identity comparison.
type CopyString struct {
	e *internEntry
}

// String returns the interned text.
func (s CopyString) String() string {
	if s.e == nil {
		return ""
	}
	return s.e.text
}

// ID returns the entry's position in its interner.
func (s CopyString) ID() uint32 {
	if s.e == nil {
		return 0
	}
	return s.e.id
}

// IsZero reports whether s was never interned.
func (s CopyString) IsZero() bool {
	return s.e == nil
}

// Same reports whether s and other share backing storage.
func (s CopyString) Same(other CopyString) bool {
	return s.e == other.e
}

// ---------------------------------------------------------------------------
// Interner
// ---------------------------------------------------------------------------

// Interner deduplicates strings. Entries are never evicted.
//
// Lookups are hash-indexed; the table is append-only and safe for
// concurrent use.
type Interner struct {
	mu      sync.RWMutex
	byText  map[string]*internEntry
	entries []*internEntry
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{
		byText:  make(map[string]*internEntry),
		entries: make([]*internEntry, 0, 256),
	}
}

// Intern returns the CopyString for text, creating an entry if needed.
func (in *Interner) Intern(text string) CopyString {
	// Fast path: read-only lookup
	in.mu.RLock()
	if e, ok := in.byText[text]; ok {
		in.mu.RUnlock()
		return CopyString{e}
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()

	// Double-check after acquiring write lock
	if e, ok := in.byText[text]; ok {
		return CopyString{e}
	}

	e := &internEntry{id: uint32(len(in.entries)), text: text}
	in.byText[text] = e
	in.entries = append(in.entries, e)
	return CopyString{e}
}

// InternAll interns several strings in order.
func (in *Interner) InternAll(texts ...string) []CopyString {
	out := make([]CopyString, len(texts))
	for i, t := range texts {
		out[i] = in.Intern(t)
	}
	return out
}

// Lookup returns the CopyString for text without creating one.
func (in *Interner) Lookup(text string) (CopyString, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	e, ok := in.byText[text]
	return CopyString{e}, ok
}

// ByID returns the entry with the given id.
func (in *Interner) ByID(id uint32) (CopyString, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(id) >= len(in.entries) {
		return CopyString{}, false
	}
	return CopyString{in.entries[id]}, true
}

// Len returns the number of interned strings.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.entries)
}

var (
	sharedInterner     *Interner
	sharedInternerOnce sync.Once
)

// SharedInterner returns the process-wide interner, creating it on first use.
func SharedInterner() *Interner {
	sharedInternerOnce.Do(func() {
		sharedInterner = NewInterner()
	})
	return sharedInterner
}
