package vm

import (
	"bufio"
	"fmt"
	"io"
)

// NativeContext is what a native handler sees of the machine calling it.
type NativeContext struct {
	Machine  *Machine
	Heap     *Heap
	Interner *Interner
	Registry *Registry

	Stdout io.Writer
	Stderr io.Writer
	Stdin  *bufio.Reader
}

// Object dereferences h, failing on null.
func (c *NativeContext) Object(h Handle) (*Object, error) {
	if h == 0 {
		return nil, fmt.Errorf("%w: null argument", ErrStaleHandle)
	}
	return c.Heap.Object(h)
}

// New allocates obj. The caller owns the returned reference.
func (c *NativeContext) New(obj *Object) (Handle, error) {
	return c.Heap.Alloc(obj)
}

// NewString allocates an interned string object.
func (c *NativeContext) NewString(s string) (Handle, error) {
	return c.Heap.Alloc(NewString(c.Interner.Intern(s)))
}

// Keep adds a reference to h and returns it, for handlers that return a
// value they did not allocate.
func (c *NativeContext) Keep(h Handle) (Handle, error) {
	if h == 0 {
		return 0, nil
	}
	if err := c.Heap.Retain(h); err != nil {
		return 0, err
	}
	return h, nil
}

// Drop releases a reference, ignoring null.
func (c *NativeContext) Drop(h Handle) {
	if h != 0 {
		_ = c.Heap.Release(h)
	}
}

// Send dispatches name on recv reflectively.
func (c *NativeContext) Send(recv Handle, name string, args ...Handle) (Handle, error) {
	return c.Machine.Send(recv, name, args...)
}

// Call invokes m with reflective arguments.
func (c *NativeContext) Call(m *Method, recv Handle, args ...Handle) (Handle, error) {
	return c.Machine.Call(m, recv, args...)
}

// Render returns the text of h's toString method. Null renders as "null".
func (c *NativeContext) Render(h Handle) (string, error) {
	if h == 0 {
		return "null", nil
	}
	s, err := c.Send(h, "toString")
	if err != nil {
		return "", err
	}
	defer c.Drop(s)
	obj, err := c.Heap.Object(s)
	if err != nil {
		return "", err
	}
	text, ok := obj.Text()
	if !ok {
		return "", fmt.Errorf("toString returned %s", obj.Tag())
	}
	return text, nil
}

// Tags returns the type tags of the given handles, for resolution.
func (c *NativeContext) Tags(args []Handle) ([]TypeTag, error) {
	tags := make([]TypeTag, len(args))
	for i, h := range args {
		obj, err := c.Object(h)
		if err != nil {
			return nil, err
		}
		tags[i] = obj.Tag()
	}
	return tags, nil
}
