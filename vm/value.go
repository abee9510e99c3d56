package vm

import (
	"fmt"
	"math"
)

// IVal is a compact stack and local slot.
//
// Every slot is 32 bits wide. Scalars of 32 bits or less live in a single
// slot; 64-bit integers and doubles are split across two adjacent slots
// with the low word first and the high word second.
//
// Encoding scheme:
//   - bool:   0 or 1
//   - char:   the rune's code point
//   - short:  int16 sign-extended to 32 bits
//   - int:    two's complement int32
//   - float:  IEEE 754 binary32 bit pattern
//   - long:   (low, high) halves of the int64
//   - double: (low, high) halves of the IEEE 754 binary64 bit pattern
//   - ref:    a heap Handle (0 is null)
//
// A single-slot read of a two-slot value is undefined; consumers always read
// both halves through JoinInt64 or JoinFloat64.
type IVal uint32

// Null is the reference slot that points nowhere.
const Null IVal = 0

// ---------------------------------------------------------------------------
// 32-bit scalars
// ---------------------------------------------------------------------------

// IntSlot stores an int32.
func IntSlot(n int32) IVal {
	return IVal(uint32(n))
}

// Int returns the slot as an int32.
func (v IVal) Int() int32 {
	return int32(uint32(v))
}

// ShortSlot stores an int16, sign-extended.
func ShortSlot(n int16) IVal {
	return IVal(uint32(int32(n)))
}

// Short returns the low 16 bits of the slot as an int16.
func (v IVal) Short() int16 {
	return int16(uint32(v))
}

// CharSlot stores a rune.
func CharSlot(r rune) IVal {
	return IVal(uint32(r))
}

// Char returns the slot as a rune.
func (v IVal) Char() rune {
	return rune(uint32(v))
}

// BoolSlot stores a boolean as 0 or 1.
func BoolSlot(b bool) IVal {
	if b {
		return 1
	}
	return 0
}

// Bool reports whether the slot is non-zero.
func (v IVal) Bool() bool {
	return v != 0
}

// FloatSlot stores a float32 bit pattern.
func FloatSlot(f float32) IVal {
	return IVal(math.Float32bits(f))
}

// Float returns the slot as a float32.
func (v IVal) Float() float32 {
	return math.Float32frombits(uint32(v))
}

// RefSlot stores a heap handle.
func RefSlot(h Handle) IVal {
	return IVal(uint32(h))
}

// Ref returns the slot as a heap handle.
func (v IVal) Ref() Handle {
	return Handle(uint32(v))
}

// ---------------------------------------------------------------------------
// 64-bit values split across two slots
// ---------------------------------------------------------------------------

// SplitInt64 splits n into its low and high 32-bit halves.
func SplitInt64(n int64) (low, high IVal) {
	u := uint64(n)
	return IVal(u & 0xFFFFFFFF), IVal(u >> 32)
}

// JoinInt64 recombines two halves produced by SplitInt64.
func JoinInt64(low, high IVal) int64 {
	return int64(uint64(low) | uint64(high)<<32)
}

// SplitFloat64 splits the IEEE 754 bit pattern of f into two halves.
// NaN payloads and signed zeros pass through unchanged.
func SplitFloat64(f float64) (low, high IVal) {
	return SplitInt64(int64(math.Float64bits(f)))
}

// JoinFloat64 recombines two halves produced by SplitFloat64.
func JoinFloat64(low, high IVal) float64 {
	return math.Float64frombits(uint64(JoinInt64(low, high)))
}

// LongSlots returns n as a two-element slot slice.
func LongSlots(n int64) []IVal {
	lo, hi := SplitInt64(n)
	return []IVal{lo, hi}
}

// DoubleSlots returns f as a two-element slot slice.
func DoubleSlots(f float64) []IVal {
	lo, hi := SplitFloat64(f)
	return []IVal{lo, hi}
}

// String implements the Stringer interface. Slots carry no type, so the raw
// bits are shown.
func (v IVal) String() string {
	return fmt.Sprintf("0x%08x", uint32(v))
}
