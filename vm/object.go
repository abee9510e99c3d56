package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// StorageClass says where a value was declared.
type StorageClass uint8

const (
	StorageStack StorageClass = iota // transient operand
	StorageLocal                     // frame-scoped local
	StorageGlobal                    // process lifetime
)

func (s StorageClass) String() string {
	switch s {
	case StorageLocal:
		return "local"
	case StorageGlobal:
		return "global"
	}
	return "stack"
}

// VarContext is provenance metadata used by debug dumps and diagnostics.
type VarContext struct {
	Name    string
	Line    int
	File    string
	Storage StorageClass
}

// Object is the reflective form of a runtime value.
//
// An Object carries a type tag, a payload consistent with that tag, any
// instance-attached method overrides, a member map for user fields and a
// provenance context. The type-intrinsic half of its method set lives in
// the Registry and is shared by every object with the same tag.
//
// Mutation of members or container payloads must hold the object's lock.
type Object struct {
	mu sync.Mutex

	tag       TypeTag
	payload   Payload
	overrides *MethodTable
	members   map[CopyString]Handle

	Context VarContext

	// handle is the object's own heap slot, set by Heap.Alloc.
	handle Handle
}

// newObject builds an object and enforces tag/payload consistency.
func newObject(tag TypeTag, p Payload) *Object {
	if p == nil || p.Kind() != tag {
		panic(fmt.Sprintf("vm: payload %T does not match type %s", p, tag))
	}
	return &Object{tag: tag, payload: p, members: make(map[CopyString]Handle)}
}

// ---------------------------------------------------------------------------
// Factories, one per kind
// ---------------------------------------------------------------------------

func NewBool(b bool) *Object { return newObject(TypeBool, Bool(b)) }
func NewChar(r rune) *Object { return newObject(TypeChar, Char(r)) }
func NewShort(n int16) *Object { return newObject(TypeShort, Short(n)) }
func NewInt(n int32) *Object { return newObject(TypeInt, Int(n)) }
func NewLong(n int64) *Object { return newObject(TypeLong, Long(n)) }
func NewInt128(n Int128) *Object { return newObject(TypeInt128, n) }
func NewFloat(f float32) *Object { return newObject(TypeFloat, Float(f)) }
func NewDouble(f float64) *Object { return newObject(TypeDouble, Double(f)) }
func NewArch(n int) *Object { return newObject(TypeArch, Arch(n)) }
func NewString(s CopyString) *Object {
	return newObject(TypeString, Str{s})
}

// NewList creates a list. Ownership of elems passes to the list.
func NewList(elems ...Handle) *Object {
	return newObject(TypeList, &List{Elems: elems})
}

// NewIterator creates an iterator over a list. Ownership of src passes to
// the iterator.
func NewIterator(src Handle) *Object {
	return newObject(TypeIterator, &Iterator{Source: src})
}

// NewGenerator creates a generator driven by fn.
func NewGenerator(fn GeneratorFunc) *Object {
	return newObject(TypeGenerator, &Generator{Next: fn})
}

// NewPromise creates an unresolved promise.
func NewPromise() *Object {
	return newObject(TypePromise, NewPromisePayload())
}

// NewFunction wraps a method reference.
func NewFunction(m *Method) *Object {
	return newObject(TypeFunction, &FunctionRef{Method: m})
}

// NewInstance creates an aggregate of class c with no members set.
func NewInstance(c *Class) *Object {
	return newObject(c.Tag, &Aggregate{Class: c})
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Tag returns the object's type tag.
func (o *Object) Tag() TypeTag { return o.tag }

// Payload returns the object's payload.
func (o *Object) Payload() Payload { return o.payload }

// Handle returns the heap slot holding o, or 0 if o was never allocated.
func (o *Object) Handle() Handle { return o.handle }

// Lock acquires the object's lock.
func (o *Object) Lock() { o.mu.Lock() }

// Unlock releases the object's lock.
func (o *Object) Unlock() { o.mu.Unlock() }

// With runs fn while holding the object's lock.
func (o *Object) With(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

// Attach adds an instance-level method override.
func (o *Object) Attach(m *Method) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.overrides == nil {
		o.overrides = NewMethodTable()
	}
	o.overrides.Add(m)
}

// Overrides returns the instance-attached methods (possibly nil).
func (o *Object) Overrides() *MethodTable {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overrides
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// Member returns the handle stored under name.
func (o *Object) Member(name CopyString) (Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.members[name]
	return h, ok
}

// SetMember stores value under name. The object retains value and releases
// whatever it held before.
func (o *Object) SetMember(heap *Heap, name CopyString, value Handle) error {
	if value != 0 {
		if err := heap.Retain(value); err != nil {
			return err
		}
	}
	o.mu.Lock()
	old, had := o.members[name]
	o.members[name] = value
	o.mu.Unlock()
	if had && old != 0 {
		return heap.Release(old)
	}
	return nil
}

// MemberNames returns member names in sorted order.
func (o *Object) MemberNames() []CopyString {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]CopyString, 0, len(o.members))
	for n := range o.members {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })
	return names
}

// children returns every handle o holds a reference on. The caller must
// own o exclusively (it is being freed).
func (o *Object) children() []Handle {
	var out []Handle
	for _, h := range o.members {
		if h != 0 {
			out = append(out, h)
		}
	}
	switch p := o.payload.(type) {
	case *List:
		for _, h := range p.Elems {
			if h != 0 {
				out = append(out, h)
			}
		}
	case *Iterator:
		if p.Source != 0 {
			out = append(out, p.Source)
		}
	case *Promise:
		if p.IsDone() && p.value != 0 {
			out = append(out, p.value)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// Int64 returns the payload of an integral object widened to int64.
func (o *Object) Int64() (int64, bool) {
	switch p := o.payload.(type) {
	case Short:
		return int64(p), true
	case Int:
		return int64(p), true
	case Long:
		return int64(p), true
	case Arch:
		return int64(p), true
	case Char:
		return int64(p), true
	}
	return 0, false
}

// Float64 returns the payload of a numeric object as float64.
func (o *Object) Float64() (float64, bool) {
	switch p := o.payload.(type) {
	case Float:
		return float64(p), true
	case Double:
		return float64(p), true
	}
	if n, ok := o.Int64(); ok {
		return float64(n), true
	}
	return 0, false
}

// Text returns the string payload.
func (o *Object) Text() (string, bool) {
	if s, ok := o.payload.(Str); ok {
		return s.String(), true
	}
	return "", false
}

// String renders the payload without consulting the heap. List elements
// print as handles; use the toString intrinsic for a deep rendering.
func (o *Object) String() string {
	switch p := o.payload.(type) {
	case Bool:
		return strconv.FormatBool(bool(p))
	case Char:
		return string(rune(p))
	case Short:
		return strconv.Itoa(int(p))
	case Int:
		return strconv.Itoa(int(p))
	case Long:
		return strconv.FormatInt(int64(p), 10)
	case Arch:
		return strconv.Itoa(int(p))
	case Int128:
		return p.String()
	case Float:
		return strconv.FormatFloat(float64(p), 'g', -1, 32)
	case Double:
		return strconv.FormatFloat(float64(p), 'g', -1, 64)
	case Str:
		return p.String()
	case *List:
		parts := make([]string, len(p.Elems))
		for i, h := range p.Elems {
			parts[i] = h.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Iterator:
		return fmt.Sprintf("iterator(%s@%d)", p.Source, p.Pos)
	case *Generator:
		return fmt.Sprintf("generator(step %d)", p.Step)
	case *Promise:
		if p.IsDone() {
			return "promise(done)"
		}
		return "promise(pending)"
	case *FunctionRef:
		return "function " + p.Method.String()
	case *Aggregate:
		return p.Class.Name.String() + "{}"
	}
	return "<?>"
}
