package vm

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrTypeMismatch is returned when a value crosses the boundary under the
// wrong type.
var ErrTypeMismatch = errors.New("type mismatch")

// ---------------------------------------------------------------------------
// Compact <-> reflective conversion
// ---------------------------------------------------------------------------

// Box builds the reflective object for compact slots of scalar type t.
func Box(t TypeTag, slots []IVal) (*Object, error) {
	if len(slots) != t.SlotWidth() {
		return nil, fmt.Errorf("%w: %s takes %d slots, got %d", ErrTypeMismatch, t, t.SlotWidth(), len(slots))
	}
	switch t {
	case TypeBool:
		return NewBool(slots[0].Bool()), nil
	case TypeChar:
		return NewChar(slots[0].Char()), nil
	case TypeShort:
		return NewShort(slots[0].Short()), nil
	case TypeInt:
		return NewInt(slots[0].Int()), nil
	case TypeFloat:
		return NewFloat(slots[0].Float()), nil
	case TypeLong:
		return NewLong(JoinInt64(slots[0], slots[1])), nil
	case TypeDouble:
		return NewDouble(JoinFloat64(slots[0], slots[1])), nil
	case TypeArch:
		if len(slots) == 2 {
			return NewArch(int(JoinInt64(slots[0], slots[1]))), nil
		}
		return NewArch(int(slots[0].Int())), nil
	}
	return nil, fmt.Errorf("%w: %s is not a scalar type", ErrTypeMismatch, t)
}

// Unbox returns the compact slots for obj read as type t. Reference types
// yield the object's own handle.
func Unbox(obj *Object, t TypeTag) ([]IVal, error) {
	if t.IsReference() {
		if t != TypeAny && obj.Tag() != t {
			return nil, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, t, obj.Tag())
		}
		return []IVal{RefSlot(obj.Handle())}, nil
	}
	if obj.Tag() != t {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, t, obj.Tag())
	}
	switch p := obj.Payload().(type) {
	case Bool:
		return []IVal{BoolSlot(bool(p))}, nil
	case Char:
		return []IVal{CharSlot(rune(p))}, nil
	case Short:
		return []IVal{ShortSlot(int16(p))}, nil
	case Int:
		return []IVal{IntSlot(int32(p))}, nil
	case Float:
		return []IVal{FloatSlot(float32(p))}, nil
	case Long:
		return LongSlots(int64(p)), nil
	case Double:
		return DoubleSlots(float64(p)), nil
	case Arch:
		if strconv.IntSize == 64 {
			return LongSlots(int64(p)), nil
		}
		return []IVal{IntSlot(int32(p))}, nil
	}
	return nil, fmt.Errorf("%w: cannot unbox %s", ErrTypeMismatch, obj.Tag())
}

// FormatSlots renders compact slots of type t, for result printing.
// Reference handles are printed as handles.
func FormatSlots(t TypeTag, slots []IVal) string {
	if t == TypeVoid {
		return ""
	}
	if t.IsReference() {
		if len(slots) == 0 {
			return "?"
		}
		return slots[0].Ref().String()
	}
	obj, err := Box(t, slots)
	if err != nil {
		return "?"
	}
	return obj.String()
}
