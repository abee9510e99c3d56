package vm

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Semantic tags
// ---------------------------------------------------------------------------

// Tag is a set of semantic markers on a method ("this implements +").
type Tag uint32

const (
	TagAddition Tag = 1 << iota
	TagSubtraction
	TagMultiplication
	TagDivision
	TagModulo
	TagNegation
	TagEquality
	TagComparison
	TagToString
	TagLength
	TagIndex
	TagIterate
	TagCall
	TagEntry
)

var tagNames = []string{
	"addition", "subtraction", "multiplication", "division", "modulo",
	"negation", "equality", "comparison", "toString", "length", "index",
	"iterate", "call", "entry",
}

// Has reports whether every bit of other is set in t.
func (t Tag) Has(other Tag) bool {
	return t&other == other
}

// String implements the Stringer interface.
func (t Tag) String() string {
	var parts []string
	for i, name := range tagNames {
		if t&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseTag resolves a tag name as printed by Tag.String.
func ParseTag(name string) (Tag, bool) {
	for i, n := range tagNames {
		if n == name {
			return 1 << i, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Callables
// ---------------------------------------------------------------------------

// NativeFunc is the calling convention for built-in handlers. recv is 0 for
// global functions. The returned handle carries one reference owned by the
// caller; return 0 for void.
type NativeFunc func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error)

// Constant is one entry of a body's constant pool.
type Constant struct {
	Kind TypeTag
	Bits uint64 // raw bits for scalars; float kinds hold IEEE-754 patterns
	Text string // string constants and member/class/method names
}

// Slots returns the compact slots of a scalar constant.
func (c Constant) Slots() []IVal {
	if c.Kind.SlotWidth() == 2 {
		lo, hi := SplitInt64(int64(c.Bits))
		return []IVal{lo, hi}
	}
	return []IVal{IVal(uint32(c.Bits))}
}

// CallSite is a CALL target: a name and parameter list, bound to a method
// either at link time or on first call.
type CallSite struct {
	Name   string
	Params []TypeTag

	target atomic.Pointer[Method]
}

// NewCallSite creates an unbound call site.
func NewCallSite(name string, params ...TypeTag) *CallSite {
	return &CallSite{Name: name, Params: params}
}

// Bind fixes the site's target.
func (cs *CallSite) Bind(m *Method) {
	cs.target.Store(m)
}

// Target returns the bound method, or nil.
func (cs *CallSite) Target() *Method {
	return cs.target.Load()
}

// String implements the Stringer interface.
func (cs *CallSite) String() string {
	return formatSignature(cs.Name, cs.Params, TypeTag.String)
}

// Body is a decoded instruction stream plus the metadata needed to size a
// frame for it.
//
// Code is a flat sequence of 16-bit units: an opcode followed by its fixed
// number of operands. Jump targets are unit offsets into Code.
type Body struct {
	Code   []uint16
	Consts []Constant
	Calls  []*CallSite
	Locals int // local slots, parameters included
	Lines  []int
}

// Method is a named, signature-typed callable. Exactly one of Native or
// Body is set; a method with neither is an extern stub bound lazily by
// name and signature against the global table.
type Method struct {
	Name     CopyString
	Receiver TypeTag // TypeVoid for global functions
	Params   []TypeTag
	Returns  []TypeTag
	Tags     Tag

	Native NativeFunc
	Body   *Body

	bindOnce sync.Once
	bound    *Method
	bindErr  error
}

// IsNative reports whether m has a native handler.
func (m *Method) IsNative() bool { return m.Native != nil }

// IsExtern reports whether m is an unresolved stub.
func (m *Method) IsExtern() bool { return m.Native == nil && m.Body == nil }

// ArgSlots returns the number of compact slots the arguments occupy.
func (m *Method) ArgSlots() int { return SlotCount(m.Params) }

// ReturnSlots returns the number of compact slots of the result.
func (m *Method) ReturnSlots() int { return SlotCount(m.Returns) }

// ReturnType returns the first declared return type, or TypeVoid.
func (m *Method) ReturnType() TypeTag {
	if len(m.Returns) == 0 {
		return TypeVoid
	}
	return m.Returns[0]
}

// Matches reports whether m accepts name with exactly these argument types.
// TypeAny in a parameter position accepts any argument type.
func (m *Method) Matches(name CopyString, args []TypeTag) bool {
	if m.Name != name || len(m.Params) != len(args) {
		return false
	}
	for i, p := range m.Params {
		if p != TypeAny && p != args[i] {
			return false
		}
	}
	return true
}

// sameSignature reports whether a and b are declared identically.
func sameSignature(a, b *Method) bool {
	if a.Name != b.Name || a.Receiver != b.Receiver || len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	return true
}

// Signature renders name(params).
func (m *Method) Signature() string {
	return formatSignature(m.Name.String(), m.Params, TypeTag.String)
}

// String implements the Stringer interface.
func (m *Method) String() string {
	sig := m.Signature()
	if m.Receiver != TypeVoid {
		sig = m.Receiver.String() + "." + sig
	}
	return sig
}

// ---------------------------------------------------------------------------
// MethodTable
// ---------------------------------------------------------------------------

// MethodTable holds methods grouped by name. Overloads are kept in
// insertion order; adding a method with an existing signature replaces it.
type MethodTable struct {
	mu     sync.RWMutex
	byName map[CopyString][]*Method
	count  int
}

// NewMethodTable creates an empty table.
func NewMethodTable() *MethodTable {
	return &MethodTable{byName: make(map[CopyString][]*Method)}
}

// Add inserts or replaces m.
func (t *MethodTable) Add(m *Method) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.byName[m.Name]
	for i, existing := range list {
		if sameSignature(existing, m) {
			list[i] = m
			return
		}
	}
	t.byName[m.Name] = append(list, m)
	t.count++
}

// Lookup returns the method matching name and args exactly, preferring an
// exact type match over a TypeAny match.
func (t *MethodTable) Lookup(name CopyString, args []TypeTag) *Method {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var wildcard *Method
	for _, m := range t.byName[name] {
		if !m.Matches(name, args) {
			continue
		}
		if !hasAny(m.Params) {
			return m
		}
		if wildcard == nil {
			wildcard = m
		}
	}
	return wildcard
}

func hasAny(params []TypeTag) bool {
	for _, p := range params {
		if p == TypeAny {
			return true
		}
	}
	return false
}

// Overloads returns every method registered under name.
func (t *MethodTable) Overloads(name CopyString) []*Method {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Method(nil), t.byName[name]...)
}

// All returns every method ordered by name, then by insertion.
func (t *MethodTable) All() []*Method {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]CopyString, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })
	out := make([]*Method, 0, t.count)
	for _, n := range names {
		out = append(out, t.byName[n]...)
	}
	return out
}

// Tags returns the union of tags over every method in the table.
func (t *MethodTable) Tags() Tag {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var tags Tag
	for _, list := range t.byName {
		for _, m := range list {
			tags |= m.Tags
		}
	}
	return tags
}

// Len returns the number of methods.
func (t *MethodTable) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}
