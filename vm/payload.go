package vm

import "sync"

// Payload is the value carried by an Object. Exactly one concrete payload
// type exists per primitive kind; aggregates carry *Aggregate.
type Payload interface {
	Kind() TypeTag
}

// Scalar payloads
type (
	Bool   bool
	Char   rune
	Short  int16
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Arch   int
)

func (Bool) Kind() TypeTag { return TypeBool }
func (Char) Kind() TypeTag { return TypeChar }
func (Short) Kind() TypeTag { return TypeShort }
func (Int) Kind() TypeTag { return TypeInt }
func (Long) Kind() TypeTag { return TypeLong }
func (Float) Kind() TypeTag { return TypeFloat }
func (Double) Kind() TypeTag { return TypeDouble }
func (Arch) Kind() TypeTag { return TypeArch }
func (Int128) Kind() TypeTag { return TypeInt128 }

// Str is an interned string payload.
type Str struct {
	CopyString
}

func (Str) Kind() TypeTag { return TypeString }

// List holds element handles. Each element is retained by the list.
type List struct {
	Elems []Handle
}

func (*List) Kind() TypeTag { return TypeList }

// Iterator walks a list. The source handle is retained by the iterator.
type Iterator struct {
	Source Handle
	Pos    int
}

func (*Iterator) Kind() TypeTag { return TypeIterator }

// GeneratorFunc produces the value for step n, or ok=false when exhausted.
// The returned handle carries one reference owned by the caller.
type GeneratorFunc func(ctx *NativeContext, step int) (value Handle, ok bool, err error)

// Generator yields values on demand.
type Generator struct {
	Next GeneratorFunc
	Step int
	Done bool
}

func (*Generator) Kind() TypeTag { return TypeGenerator }

// Promise is a single-assignment result that may be awaited. The settled
// value is retained by the promise.
type Promise struct {
	once  sync.Once
	done  chan struct{}
	value Handle
	err   error
}

// NewPromisePayload creates an unresolved promise.
func NewPromisePayload() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (*Promise) Kind() TypeTag { return TypePromise }

// Resolve settles the promise, taking over the caller's reference on value.
// Later calls are ignored and report false.
func (p *Promise) Resolve(value Handle, err error) bool {
	settled := false
	p.once.Do(func() {
		settled = true
		p.value = value
		p.err = err
		close(p.done)
	})
	return settled
}

// Await blocks until the promise is settled.
func (p *Promise) Await() (Handle, error) {
	<-p.done
	return p.value, p.err
}

// IsDone reports whether the promise has been settled.
func (p *Promise) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// FunctionRef points at a callable.
type FunctionRef struct {
	Method *Method
}

func (*FunctionRef) Kind() TypeTag { return TypeFunction }

// Aggregate is the payload of a user class instance. Field values live in
// the owning Object's member map.
type Aggregate struct {
	Class *Class
}

func (a *Aggregate) Kind() TypeTag { return a.Class.Tag }
