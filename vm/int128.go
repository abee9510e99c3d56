package vm

import (
	"math/big"
	"math/bits"
)

// Int128 is a two's complement 128-bit integer.
type Int128 struct {
	Hi int64
	Lo uint64
}

// Int128From widens an int64.
func Int128From(n int64) Int128 {
	hi := int64(0)
	if n < 0 {
		hi = -1
	}
	return Int128{Hi: hi, Lo: uint64(n)}
}

// Add returns a + b, wrapping on overflow.
func (a Int128) Add(b Int128) Int128 {
	lo, carry := bits.Add64(a.Lo, b.Lo, 0)
	hi, _ := bits.Add64(uint64(a.Hi), uint64(b.Hi), carry)
	return Int128{Hi: int64(hi), Lo: lo}
}

// Sub returns a - b, wrapping on overflow.
func (a Int128) Sub(b Int128) Int128 {
	lo, borrow := bits.Sub64(a.Lo, b.Lo, 0)
	hi, _ := bits.Sub64(uint64(a.Hi), uint64(b.Hi), borrow)
	return Int128{Hi: int64(hi), Lo: lo}
}

// Mul returns a * b, keeping the low 128 bits.
func (a Int128) Mul(b Int128) Int128 {
	hi, lo := bits.Mul64(a.Lo, b.Lo)
	hi += uint64(a.Hi)*b.Lo + a.Lo*uint64(b.Hi)
	return Int128{Hi: int64(hi), Lo: lo}
}

// Neg returns -a.
func (a Int128) Neg() Int128 {
	return Int128{}.Sub(a)
}

// Cmp returns -1, 0 or +1.
func (a Int128) Cmp(b Int128) int {
	switch {
	case a.Hi < b.Hi:
		return -1
	case a.Hi > b.Hi:
		return 1
	case a.Lo < b.Lo:
		return -1
	case a.Lo > b.Lo:
		return 1
	}
	return 0
}

// IsZero reports whether a == 0.
func (a Int128) IsZero() bool {
	return a.Hi == 0 && a.Lo == 0
}

// Big converts a to a big.Int.
func (a Int128) Big() *big.Int {
	n := new(big.Int).SetInt64(a.Hi)
	n.Lsh(n, 64)
	return n.Or(n, new(big.Int).SetUint64(a.Lo))
}

// Int128FromBig truncates n to 128 bits.
func Int128FromBig(n *big.Int) Int128 {
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(n, mask).Uint64()
	hi := new(big.Int).Rsh(n, 64)
	return Int128{Hi: hi.Int64(), Lo: lo}
}

// QuoRem returns truncated division and remainder. b must not be zero.
func (a Int128) QuoRem(b Int128) (Int128, Int128) {
	q, r := new(big.Int).QuoRem(a.Big(), b.Big(), new(big.Int))
	return Int128FromBig(q), Int128FromBig(r)
}

// String returns the decimal form.
func (a Int128) String() string {
	return a.Big().String()
}
