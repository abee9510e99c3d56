package vm

import (
	"errors"
	"fmt"
	"strings"
)

// FaultKind classifies fatal engine faults.
type FaultKind uint8

const (
	FaultInternal FaultKind = iota
	FaultBadOpcode
	FaultStackUnderflow
	FaultStackOverflow
	FaultBadLocal
	FaultBadConstant
	FaultBadJump
	FaultOutOfMemory
	FaultMethodNotFound
	FaultArithmetic
	FaultType
	FaultNullReference
	FaultNative
)

var faultNames = [...]string{
	FaultInternal:       "internal error",
	FaultBadOpcode:      "unknown opcode",
	FaultStackUnderflow: "stack underflow",
	FaultStackOverflow:  "stack overflow",
	FaultBadLocal:       "local index out of range",
	FaultBadConstant:    "constant index out of range",
	FaultBadJump:        "jump target out of range",
	FaultOutOfMemory:    "out of memory",
	FaultMethodNotFound: "method not found",
	FaultArithmetic:     "arithmetic fault",
	FaultType:           "type mismatch",
	FaultNullReference:  "null reference",
	FaultNative:         "native failure",
}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) {
		return faultNames[k]
	}
	return fmt.Sprintf("fault(%d)", k)
}

// ErrDivisionByZero is the cause of integer division and modulo faults.
var ErrDivisionByZero = errors.New("division by zero")

// Fault is a fatal engine error. It terminates the running machine; nothing
// inside bytecode can observe or recover from it.
type Fault struct {
	Kind   FaultKind
	Method string // innermost method
	IP     int    // unit offset of the faulting instruction
	Op     Opcode
	Err    error
	Trace  []string // innermost frame first
}

func (f *Fault) Error() string {
	var sb strings.Builder
	sb.WriteString(f.Kind.String())
	if f.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(f.Err.Error())
	}
	if f.Method != "" {
		fmt.Fprintf(&sb, " (in %s at %04d %s)", f.Method, f.IP, f.Op)
	}
	return sb.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// faultf raises a fault. The machine fills in location and trace when the
// panic unwinds through its frames.
func faultf(kind FaultKind, format string, args ...any) {
	panic(&Fault{Kind: kind, Err: fmt.Errorf(format, args...)})
}

// raise panics with err as a fault of the given kind. An error that already
// carries a fault is rethrown unchanged.
func raise(kind FaultKind, err error) {
	var f *Fault
	if errors.As(err, &f) {
		panic(f)
	}
	switch {
	case errors.Is(err, ErrOutOfMemory):
		kind = FaultOutOfMemory
	case errors.Is(err, ErrMethodNotFound):
		kind = FaultMethodNotFound
	case errors.Is(err, ErrDivisionByZero):
		kind = FaultArithmetic
	case errors.Is(err, ErrTypeMismatch):
		kind = FaultType
	}
	panic(&Fault{Kind: kind, Err: err})
}

// recoverFault converts a panic into a *Fault. Go runtime errors raised by
// malformed bytecode become FaultInternal.
func recoverFault(r any) *Fault {
	switch v := r.(type) {
	case *Fault:
		return v
	case error:
		return &Fault{Kind: FaultInternal, Err: v}
	default:
		return &Fault{Kind: FaultInternal, Err: fmt.Errorf("%v", v)}
	}
}
