package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeTag identifies the runtime type of an Object: one of the primitive
// kinds below, or a user class tag allocated by the Registry.
type TypeTag uint16

// Primitive type tags
const (
	TypeVoid TypeTag = iota // no value
	TypeAny                 // explicit wildcard in parameter lists
	TypeBool
	TypeChar
	TypeShort
	TypeInt
	TypeLong
	TypeInt128
	TypeFloat
	TypeDouble
	TypeArch
	TypeString
	TypeList
	TypeIterator
	TypeGenerator
	TypePromise
	TypeFunction

	numPrimitiveTypes
)

// FirstClassTag is the first tag handed out to user classes.
const FirstClassTag TypeTag = 64

var typeNames = [numPrimitiveTypes]string{
	TypeVoid:      "void",
	TypeAny:       "any",
	TypeBool:      "bool",
	TypeChar:      "char",
	TypeShort:     "short",
	TypeInt:       "int",
	TypeLong:      "long",
	TypeInt128:    "int128",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeArch:      "arch",
	TypeString:    "string",
	TypeList:      "list",
	TypeIterator:  "iterator",
	TypeGenerator: "generator",
	TypePromise:   "promise",
	TypeFunction:  "function",
}

// String returns the type name. Class tags print as "class#N"; use
// Registry.TypeName for the declared name.
func (t TypeTag) String() string {
	if t < numPrimitiveTypes {
		return typeNames[t]
	}
	return "class#" + strconv.Itoa(int(t))
}

// IsPrimitive reports whether t is one of the built-in kinds.
func (t TypeTag) IsPrimitive() bool {
	return t < numPrimitiveTypes
}

// IsClass reports whether t was allocated for a user class.
func (t TypeTag) IsClass() bool {
	return t >= FirstClassTag
}

// IsReference reports whether values of type t travel through the compact
// form as a heap handle rather than as raw bits.
func (t TypeTag) IsReference() bool {
	switch t {
	case TypeBool, TypeChar, TypeShort, TypeInt, TypeLong, TypeFloat, TypeDouble, TypeArch, TypeVoid:
		return false
	}
	return true
}

// SlotWidth returns the number of compact slots a value of type t occupies.
func (t TypeTag) SlotWidth() int {
	switch t {
	case TypeVoid:
		return 0
	case TypeLong, TypeDouble:
		return 2
	case TypeArch:
		if strconv.IntSize == 64 {
			return 2
		}
	}
	return 1
}

// SlotCount sums the slot widths of a parameter list.
func SlotCount(types []TypeTag) int {
	n := 0
	for _, t := range types {
		n += t.SlotWidth()
	}
	return n
}

// ParseTypeTag resolves a primitive type name. Class names are resolved by
// Registry.LookupType.
func ParseTypeTag(name string) (TypeTag, bool) {
	for i, n := range typeNames {
		if n == name {
			return TypeTag(i), true
		}
	}
	return TypeVoid, false
}

// formatSignature renders name(t1, t2) for diagnostics.
func formatSignature(name string, types []TypeTag, typeName func(TypeTag) string) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, t := range types {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(typeName(t))
	}
	sb.WriteByte(')')
	return sb.String()
}

// ---------------------------------------------------------------------------
// Class: user-defined aggregate types
// ---------------------------------------------------------------------------

// Class describes a user-defined aggregate type.
type Class struct {
	Tag     TypeTag
	Name    CopyString
	Fields  []CopyString
	Methods *MethodTable
}

// HasField reports whether the class declares the named field.
func (c *Class) HasField(name CopyString) bool {
	for _, f := range c.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// String implements the Stringer interface.
func (c *Class) String() string {
	return fmt.Sprintf("class %s(%d fields)", c.Name, len(c.Fields))
}
