package vm

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMethodNotFound is returned when no callable matches a name and
	// argument signature.
	ErrMethodNotFound = errors.New("method not found")

	// ErrDuplicateClass is returned when a class name is defined twice.
	ErrDuplicateClass = errors.New("class already defined")

	// ErrMissingIntrinsic is returned by Validate when an object's method
	// set lacks an operation its type requires.
	ErrMissingIntrinsic = errors.New("missing intrinsic")
)

// requiredTags lists the semantic operations each primitive kind must
// provide through its method set.
var requiredTags = map[TypeTag]Tag{
	TypeBool:      TagEquality | TagToString,
	TypeChar:      TagEquality | TagComparison | TagToString,
	TypeShort:     TagAddition | TagSubtraction | TagMultiplication | TagDivision | TagModulo | TagEquality | TagComparison | TagToString,
	TypeInt:       TagAddition | TagSubtraction | TagMultiplication | TagDivision | TagModulo | TagEquality | TagComparison | TagToString,
	TypeLong:      TagAddition | TagSubtraction | TagMultiplication | TagDivision | TagModulo | TagEquality | TagComparison | TagToString,
	TypeInt128:    TagAddition | TagSubtraction | TagMultiplication | TagDivision | TagModulo | TagEquality | TagComparison | TagToString,
	TypeArch:      TagAddition | TagSubtraction | TagMultiplication | TagDivision | TagModulo | TagEquality | TagComparison | TagToString,
	TypeFloat:     TagAddition | TagSubtraction | TagMultiplication | TagDivision | TagEquality | TagComparison | TagToString,
	TypeDouble:    TagAddition | TagSubtraction | TagMultiplication | TagDivision | TagEquality | TagComparison | TagToString,
	TypeString:    TagAddition | TagEquality | TagLength | TagIndex | TagToString,
	TypeList:      TagLength | TagIndex | TagToString,
	TypeIterator:  TagIterate | TagToString,
	TypeGenerator: TagIterate | TagToString,
	TypePromise:   TagToString,
	TypeFunction:  TagCall | TagToString,
}

// Registry maps (receiver type, name, argument types) to callables.
//
// It owns the per-type intrinsic tables, the user class table and the
// global function table. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	interner *Interner
	types    map[TypeTag]*MethodTable
	classes  map[TypeTag]*Class
	byName   map[CopyString]TypeTag
	nextTag  TypeTag
	globals  *MethodTable
}

// NewRegistry creates a registry with the intrinsic method sets installed.
func NewRegistry(in *Interner) *Registry {
	r := &Registry{
		interner: in,
		types:    make(map[TypeTag]*MethodTable),
		classes:  make(map[TypeTag]*Class),
		byName:   make(map[CopyString]TypeTag),
		nextTag:  FirstClassTag,
		globals:  NewMethodTable(),
	}
	installIntrinsics(r)
	return r
}

// Interner returns the interner the registry names are drawn from.
func (r *Registry) Interner() *Interner {
	return r.interner
}

// TypeMethods returns the intrinsic table for tag, creating it if needed.
func (r *Registry) TypeMethods(tag TypeTag) *MethodTable {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.types[tag]
	if !ok {
		t = NewMethodTable()
		r.types[tag] = t
	}
	return t
}

// DefineMethod adds m to the table of its receiver type.
func (r *Registry) DefineMethod(m *Method) {
	r.adopt(m)
	r.TypeMethods(m.Receiver).Add(m)
}

// DefineGlobal adds m to the global function table.
func (r *Registry) DefineGlobal(m *Method) {
	r.adopt(m)
	r.globals.Add(m)
}

// adopt re-interns m's name through the registry's interner. Names from
// another interner would never compare equal to a lookup key.
func (r *Registry) adopt(m *Method) {
	if name := r.interner.Intern(m.Name.String()); !name.Same(m.Name) {
		m.Name = name
	}
}

// Globals returns the global function table.
func (r *Registry) Globals() *MethodTable {
	return r.globals
}

// DefineClass allocates a tag for a new user class.
func (r *Registry) DefineClass(name string, fields ...string) (*Class, error) {
	cname := r.interner.Intern(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[cname]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClass, name)
	}
	if _, prim := ParseTypeTag(name); prim {
		return nil, fmt.Errorf("%w: %s is a primitive type", ErrDuplicateClass, name)
	}
	c := &Class{
		Tag:     r.nextTag,
		Name:    cname,
		Fields:  r.interner.InternAll(fields...),
		Methods: NewMethodTable(),
	}
	r.nextTag++
	r.classes[c.Tag] = c
	r.byName[cname] = c.Tag
	r.types[c.Tag] = c.Methods
	for _, m := range classIntrinsics(r, c) {
		c.Methods.Add(m)
	}
	return c, nil
}

// Class returns the class for tag.
func (r *Registry) Class(tag TypeTag) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[tag]
	return c, ok
}

// LookupType resolves a primitive or class name to its tag.
func (r *Registry) LookupType(name string) (TypeTag, bool) {
	if t, ok := ParseTypeTag(name); ok {
		return t, true
	}
	cname, ok := r.interner.Lookup(name)
	if !ok {
		return TypeVoid, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[cname]
	return t, ok
}

// TypeName returns the declared name of tag.
func (r *Registry) TypeName(tag TypeTag) string {
	if tag.IsPrimitive() {
		return tag.String()
	}
	if c, ok := r.Class(tag); ok {
		return c.Name.String()
	}
	return tag.String()
}

// Resolve finds the method obj responds to for name and argument types:
// instance overrides first, then the methods of obj's type.
func (r *Registry) Resolve(obj *Object, name string, args []TypeTag) (*Method, error) {
	cname := r.interner.Intern(name)
	if m := obj.Overrides().Lookup(cname, args); m != nil {
		return m, nil
	}
	r.mu.RLock()
	table := r.types[obj.Tag()]
	r.mu.RUnlock()
	if m := table.Lookup(cname, args); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, r.TypeName(obj.Tag()),
		formatSignature(name, args, r.TypeName))
}

// ResolveGlobal finds a global function by name and argument types.
func (r *Registry) ResolveGlobal(name string, args []TypeTag) (*Method, error) {
	if m := r.globals.Lookup(r.interner.Intern(name), args); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, formatSignature(name, args, r.TypeName))
}

// Bind returns the method a call site or extern stub refers to. Sites and
// stubs are bound on first use and keep their binding afterwards.
func (r *Registry) Bind(cs *CallSite) (*Method, error) {
	if m := cs.Target(); m != nil && !m.IsExtern() {
		return m, nil
	}
	m := cs.Target()
	if m == nil {
		found, err := r.ResolveGlobal(cs.Name, cs.Params)
		if err != nil {
			return nil, err
		}
		m = found
	}
	if m.IsExtern() {
		bound, err := r.bindExtern(m)
		if err != nil {
			return nil, err
		}
		m = bound
	}
	cs.Bind(m)
	return m, nil
}

func (r *Registry) bindExtern(stub *Method) (*Method, error) {
	stub.bindOnce.Do(func() {
		cname := r.interner.Intern(stub.Name.String())
		for _, m := range r.globals.Overloads(cname) {
			if m != stub && !m.IsExtern() && m.Matches(cname, stub.Params) {
				stub.bound = m
				return
			}
		}
		stub.bindErr = fmt.Errorf("%w: extern %s", ErrMethodNotFound, stub.Signature())
	})
	return stub.bound, stub.bindErr
}

// MethodSet returns the union of obj's overrides and its type's methods.
// Overrides shadow type methods with the same signature.
func (r *Registry) MethodSet(obj *Object) []*Method {
	set := NewMethodTable()
	r.mu.RLock()
	table := r.types[obj.Tag()]
	r.mu.RUnlock()
	for _, m := range table.All() {
		set.Add(m)
	}
	for _, m := range obj.Overrides().All() {
		set.Add(m)
	}
	return set.All()
}

// Validate checks that obj's method set covers the operations its type
// requires.
func (r *Registry) Validate(obj *Object) error {
	want, ok := requiredTags[obj.Tag()]
	if !ok {
		want = TagToString
	}
	var have Tag
	for _, m := range r.MethodSet(obj) {
		have |= m.Tags
	}
	if missing := want &^ have; missing != 0 {
		return fmt.Errorf("%w: %s lacks %s", ErrMissingIntrinsic, r.TypeName(obj.Tag()), missing)
	}
	return nil
}

// ResolveTag finds a method on obj carrying the semantic tag and accepting
// args, so "addition" can be dispatched without knowing the method name.
func (r *Registry) ResolveTag(obj *Object, tag Tag, args []TypeTag) (*Method, error) {
	for _, m := range r.MethodSet(obj) {
		if m.Tags.Has(tag) && m.Matches(m.Name, args) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no %s method for %s", ErrMethodNotFound,
		r.TypeName(obj.Tag()), tag, formatSignature("", args, r.TypeName))
}
