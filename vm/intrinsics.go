package vm

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Intrinsic method sets
// ---------------------------------------------------------------------------

type definer struct {
	r *Registry
}

func (d definer) def(recv TypeTag, name string, tags Tag, params []TypeTag, ret TypeTag, fn NativeFunc) {
	var returns []TypeTag
	if ret != TypeVoid {
		returns = []TypeTag{ret}
	}
	d.r.DefineMethod(&Method{
		Name:     d.r.interner.Intern(name),
		Receiver: recv,
		Params:   params,
		Returns:  returns,
		Tags:     tags,
		Native:   fn,
	})
}

func params(ts ...TypeTag) []TypeTag { return ts }

func installIntrinsics(r *Registry) {
	d := definer{r}
	for _, t := range []TypeTag{TypeShort, TypeInt, TypeLong, TypeArch} {
		installIntegral(d, t)
	}
	installFloating(d, TypeFloat)
	installFloating(d, TypeDouble)
	installInt128(d)
	installBool(d)
	installChar(d)
	installString(d)
	installList(d)
	installIterator(d)
	installGenerator(d)
	installPromise(d)
	installFunction(d)
}

func installCommon(d definer, t TypeTag) {
	d.def(t, "toString", TagToString, nil, TypeString, nativeToString)
	d.def(t, "equals", TagEquality, params(t), TypeBool, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		a, b, err := operands(ctx, recv, args)
		if err != nil {
			return 0, err
		}
		return ctx.New(NewBool(Equal(a, b)))
	})
}

// nativeToString renders a receiver without consulting overrides on its
// children; containers render their elements through Render.
func nativeToString(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
	obj, err := ctx.Object(recv)
	if err != nil {
		return 0, err
	}
	text, err := renderObject(ctx, obj)
	if err != nil {
		return 0, err
	}
	return ctx.NewString(text)
}

func renderObject(ctx *NativeContext, obj *Object) (string, error) {
	switch p := obj.Payload().(type) {
	case *List:
		obj.Lock()
		elems := append([]Handle(nil), p.Elems...)
		obj.Unlock()
		parts := make([]string, len(elems))
		for i, h := range elems {
			s, err := ctx.Render(h)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case *Aggregate:
		var sb strings.Builder
		sb.WriteString(p.Class.Name.String())
		sb.WriteByte('{')
		for i, f := range p.Class.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			h, _ := obj.Member(f)
			s, err := ctx.Render(h)
			if err != nil {
				return "", err
			}
			sb.WriteString(f.String())
			sb.WriteByte('=')
			sb.WriteString(s)
		}
		sb.WriteByte('}')
		return sb.String(), nil
	}
	return obj.String(), nil
}

// Equal compares two objects by value. Aggregates and containers compare by
// identity.
func Equal(a, b *Object) bool {
	if a.Tag() != b.Tag() {
		return false
	}
	switch pa := a.Payload().(type) {
	case Str:
		return pa.CopyString == b.Payload().(Str).CopyString
	case Bool, Char, Short, Int, Long, Arch, Int128, Float, Double:
		return pa == b.Payload()
	}
	return a == b
}

func operands(ctx *NativeContext, recv Handle, args []Handle) (*Object, *Object, error) {
	a, err := ctx.Object(recv)
	if err != nil {
		return nil, nil, err
	}
	if len(args) == 0 {
		return a, nil, nil
	}
	b, err := ctx.Object(args[0])
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// ---------------------------------------------------------------------------
// Integral kinds
// ---------------------------------------------------------------------------

// NewIntegral builds an integral object of kind t, truncating v.
func NewIntegral(t TypeTag, v int64) *Object {
	switch t {
	case TypeShort:
		return NewShort(int16(v))
	case TypeInt:
		return NewInt(int32(v))
	case TypeArch:
		return NewArch(int(v))
	case TypeChar:
		return NewChar(rune(v))
	}
	return NewLong(v)
}

func installIntegral(d definer, t TypeTag) {
	bin := func(name string, tag Tag, op func(a, b int64) (int64, error)) {
		d.def(t, name, tag, params(t), t, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
			a, b, err := operands(ctx, recv, args)
			if err != nil {
				return 0, err
			}
			x, _ := a.Int64()
			y, _ := b.Int64()
			v, err := op(x, y)
			if err != nil {
				return 0, err
			}
			return ctx.New(NewIntegral(t, v))
		})
	}
	bin("add", TagAddition, func(a, b int64) (int64, error) { return a + b, nil })
	bin("sub", TagSubtraction, func(a, b int64) (int64, error) { return a - b, nil })
	bin("mul", TagMultiplication, func(a, b int64) (int64, error) { return a * b, nil })
	bin("div", TagDivision, func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	})
	bin("mod", TagModulo, func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a % b, nil
	})
	d.def(t, "neg", TagNegation, nil, t, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		a, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		x, _ := a.Int64()
		return ctx.New(NewIntegral(t, -x))
	})
	d.def(t, "compare", TagComparison, params(t), TypeInt, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		a, b, err := operands(ctx, recv, args)
		if err != nil {
			return 0, err
		}
		x, _ := a.Int64()
		y, _ := b.Int64()
		return ctx.New(NewInt(int32(cmp3(x < y, x > y))))
	})
	installCommon(d, t)
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Floating kinds
// ---------------------------------------------------------------------------

func newFloating(t TypeTag, v float64) *Object {
	if t == TypeFloat {
		return NewFloat(float32(v))
	}
	return NewDouble(v)
}

func installFloating(d definer, t TypeTag) {
	bin := func(name string, tag Tag, op func(a, b float64) float64) {
		d.def(t, name, tag, params(t), t, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
			a, b, err := operands(ctx, recv, args)
			if err != nil {
				return 0, err
			}
			x, _ := a.Float64()
			y, _ := b.Float64()
			return ctx.New(newFloating(t, op(x, y)))
		})
	}
	bin("add", TagAddition, func(a, b float64) float64 { return a + b })
	bin("sub", TagSubtraction, func(a, b float64) float64 { return a - b })
	bin("mul", TagMultiplication, func(a, b float64) float64 { return a * b })
	bin("div", TagDivision, func(a, b float64) float64 { return a / b })
	bin("mod", TagModulo, math.Mod)
	d.def(t, "neg", TagNegation, nil, t, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		a, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		x, _ := a.Float64()
		return ctx.New(newFloating(t, -x))
	})
	d.def(t, "compare", TagComparison, params(t), TypeInt, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		a, b, err := operands(ctx, recv, args)
		if err != nil {
			return 0, err
		}
		x, _ := a.Float64()
		y, _ := b.Float64()
		return ctx.New(NewInt(int32(cmp3(x < y, x > y))))
	})
	installCommon(d, t)
}

// ---------------------------------------------------------------------------
// Int128
// ---------------------------------------------------------------------------

func installInt128(d definer) {
	t := TypeInt128
	bin := func(name string, tag Tag, op func(a, b Int128) (Int128, error)) {
		d.def(t, name, tag, params(t), t, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
			a, b, err := operands(ctx, recv, args)
			if err != nil {
				return 0, err
			}
			v, err := op(a.Payload().(Int128), b.Payload().(Int128))
			if err != nil {
				return 0, err
			}
			return ctx.New(NewInt128(v))
		})
	}
	bin("add", TagAddition, func(a, b Int128) (Int128, error) { return a.Add(b), nil })
	bin("sub", TagSubtraction, func(a, b Int128) (Int128, error) { return a.Sub(b), nil })
	bin("mul", TagMultiplication, func(a, b Int128) (Int128, error) { return a.Mul(b), nil })
	bin("div", TagDivision, func(a, b Int128) (Int128, error) {
		if b.IsZero() {
			return Int128{}, ErrDivisionByZero
		}
		q, _ := a.QuoRem(b)
		return q, nil
	})
	bin("mod", TagModulo, func(a, b Int128) (Int128, error) {
		if b.IsZero() {
			return Int128{}, ErrDivisionByZero
		}
		_, r := a.QuoRem(b)
		return r, nil
	})
	d.def(t, "neg", TagNegation, nil, t, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		a, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		return ctx.New(NewInt128(a.Payload().(Int128).Neg()))
	})
	d.def(t, "compare", TagComparison, params(t), TypeInt, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		a, b, err := operands(ctx, recv, args)
		if err != nil {
			return 0, err
		}
		return ctx.New(NewInt(int32(a.Payload().(Int128).Cmp(b.Payload().(Int128)))))
	})
	installCommon(d, t)
}

// ---------------------------------------------------------------------------
// Bool and char
// ---------------------------------------------------------------------------

func installBool(d definer) {
	t := TypeBool
	logic := func(name string, op func(a, b bool) bool) {
		d.def(t, name, 0, params(t), t, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
			a, b, err := operands(ctx, recv, args)
			if err != nil {
				return 0, err
			}
			return ctx.New(NewBool(op(bool(a.Payload().(Bool)), bool(b.Payload().(Bool)))))
		})
	}
	logic("and", func(a, b bool) bool { return a && b })
	logic("or", func(a, b bool) bool { return a || b })
	d.def(t, "not", TagNegation, nil, t, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		a, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		return ctx.New(NewBool(!bool(a.Payload().(Bool))))
	})
	installCommon(d, t)
}

func installChar(d definer) {
	t := TypeChar
	d.def(t, "compare", TagComparison, params(t), TypeInt, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		a, b, err := operands(ctx, recv, args)
		if err != nil {
			return 0, err
		}
		x, y := a.Payload().(Char), b.Payload().(Char)
		return ctx.New(NewInt(int32(cmp3(x < y, x > y))))
	})
	d.def(t, "code", 0, nil, TypeInt, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		a, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		return ctx.New(NewInt(int32(a.Payload().(Char))))
	})
	installCommon(d, t)
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func installString(d definer) {
	t := TypeString
	text := func(ctx *NativeContext, h Handle) (string, error) {
		obj, err := ctx.Object(h)
		if err != nil {
			return "", err
		}
		s, _ := obj.Text()
		return s, nil
	}
	d.def(t, "concat", TagAddition, params(t), t, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		a, err := text(ctx, recv)
		if err != nil {
			return 0, err
		}
		b, err := text(ctx, args[0])
		if err != nil {
			return 0, err
		}
		return ctx.NewString(a + b)
	})
	d.def(t, "length", TagLength, nil, TypeInt, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		s, err := text(ctx, recv)
		if err != nil {
			return 0, err
		}
		return ctx.New(NewInt(int32(utf8.RuneCountInString(s))))
	})
	d.def(t, "charAt", TagIndex, params(TypeInt), TypeChar, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		s, err := text(ctx, recv)
		if err != nil {
			return 0, err
		}
		idx, err := intArg(ctx, args[0])
		if err != nil {
			return 0, err
		}
		runes := []rune(s)
		if idx < 0 || idx >= len(runes) {
			return 0, fmt.Errorf("index %d out of range [0:%d]", idx, len(runes))
		}
		return ctx.New(NewChar(runes[idx]))
	})
	d.def(t, "substring", 0, params(TypeInt, TypeInt), t, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		s, err := text(ctx, recv)
		if err != nil {
			return 0, err
		}
		from, err := intArg(ctx, args[0])
		if err != nil {
			return 0, err
		}
		to, err := intArg(ctx, args[1])
		if err != nil {
			return 0, err
		}
		runes := []rune(s)
		if from < 0 || to > len(runes) || from > to {
			return 0, fmt.Errorf("slice [%d:%d] out of range [0:%d]", from, to, len(runes))
		}
		return ctx.NewString(string(runes[from:to]))
	})
	d.def(t, "compare", TagComparison, params(t), TypeInt, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		a, err := text(ctx, recv)
		if err != nil {
			return 0, err
		}
		b, err := text(ctx, args[0])
		if err != nil {
			return 0, err
		}
		return ctx.New(NewInt(int32(strings.Compare(a, b))))
	})
	installCommon(d, t)
}

func intArg(ctx *NativeContext, h Handle) (int, error) {
	obj, err := ctx.Object(h)
	if err != nil {
		return 0, err
	}
	n, ok := obj.Int64()
	if !ok {
		return 0, fmt.Errorf("expected integer, got %s", obj.Tag())
	}
	return int(n), nil
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

func listArg(ctx *NativeContext, h Handle) (*Object, *List, error) {
	obj, err := ctx.Object(h)
	if err != nil {
		return nil, nil, err
	}
	l, ok := obj.Payload().(*List)
	if !ok {
		return nil, nil, fmt.Errorf("expected list, got %s", obj.Tag())
	}
	return obj, l, nil
}

func installList(d definer) {
	t := TypeList
	d.def(t, "push", 0, params(TypeAny), TypeVoid, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		obj, l, err := listArg(ctx, recv)
		if err != nil {
			return 0, err
		}
		if _, err := ctx.Keep(args[0]); err != nil {
			return 0, err
		}
		obj.With(func() { l.Elems = append(l.Elems, args[0]) })
		return 0, nil
	})
	d.def(t, "get", TagIndex, params(TypeInt), TypeAny, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		obj, l, err := listArg(ctx, recv)
		if err != nil {
			return 0, err
		}
		idx, err := intArg(ctx, args[0])
		if err != nil {
			return 0, err
		}
		var elem Handle
		var n int
		obj.With(func() {
			n = len(l.Elems)
			if idx >= 0 && idx < n {
				elem = l.Elems[idx]
			}
		})
		if idx < 0 || idx >= n {
			return 0, fmt.Errorf("index %d out of range [0:%d]", idx, n)
		}
		return ctx.Keep(elem)
	})
	d.def(t, "set", 0, params(TypeInt, TypeAny), TypeVoid, func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		obj, l, err := listArg(ctx, recv)
		if err != nil {
			return 0, err
		}
		idx, err := intArg(ctx, args[0])
		if err != nil {
			return 0, err
		}
		if _, err := ctx.Keep(args[1]); err != nil {
			return 0, err
		}
		var old Handle
		ok := false
		obj.With(func() {
			if idx >= 0 && idx < len(l.Elems) {
				old, l.Elems[idx] = l.Elems[idx], args[1]
				ok = true
			}
		})
		if !ok {
			ctx.Drop(args[1])
			return 0, fmt.Errorf("index %d out of range", idx)
		}
		ctx.Drop(old)
		return 0, nil
	})
	d.def(t, "length", TagLength, nil, TypeInt, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		obj, l, err := listArg(ctx, recv)
		if err != nil {
			return 0, err
		}
		var n int
		obj.With(func() { n = len(l.Elems) })
		return ctx.New(NewInt(int32(n)))
	})
	d.def(t, "iterator", TagIterate, nil, TypeIterator, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		src, err := ctx.Keep(recv)
		if err != nil {
			return 0, err
		}
		return ctx.New(NewIterator(src))
	})
	installCommon(d, t)
}

func installIterator(d definer) {
	t := TypeIterator
	iter := func(ctx *NativeContext, h Handle) (*Object, *Iterator, error) {
		obj, err := ctx.Object(h)
		if err != nil {
			return nil, nil, err
		}
		return obj, obj.Payload().(*Iterator), nil
	}
	d.def(t, "hasNext", 0, nil, TypeBool, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		obj, it, err := iter(ctx, recv)
		if err != nil {
			return 0, err
		}
		src, l, err := listArg(ctx, it.Source)
		if err != nil {
			return 0, err
		}
		var pos, n int
		obj.With(func() { pos = it.Pos })
		src.With(func() { n = len(l.Elems) })
		return ctx.New(NewBool(pos < n))
	})
	d.def(t, "next", TagIterate, nil, TypeAny, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		obj, it, err := iter(ctx, recv)
		if err != nil {
			return 0, err
		}
		src, l, err := listArg(ctx, it.Source)
		if err != nil {
			return 0, err
		}
		var elem Handle
		ok := false
		obj.With(func() {
			src.With(func() {
				if it.Pos < len(l.Elems) {
					elem = l.Elems[it.Pos]
					it.Pos++
					ok = true
				}
			})
		})
		if !ok {
			return 0, fmt.Errorf("iterator exhausted")
		}
		return ctx.Keep(elem)
	})
	installCommon(d, t)
}

func installGenerator(d definer) {
	t := TypeGenerator
	d.def(t, "next", TagIterate, nil, TypeAny, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		obj, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		g := obj.Payload().(*Generator)
		obj.Lock()
		defer obj.Unlock()
		if g.Done {
			return 0, nil
		}
		v, ok, err := g.Next(ctx, g.Step)
		if err != nil {
			return 0, err
		}
		g.Step++
		if !ok {
			g.Done = true
			return 0, nil
		}
		return v, nil
	})
	d.def(t, "isDone", 0, nil, TypeBool, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		obj, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		g := obj.Payload().(*Generator)
		var done bool
		obj.With(func() { done = g.Done })
		return ctx.New(NewBool(done))
	})
	installCommon(d, t)
}

func installPromise(d definer) {
	t := TypePromise
	d.def(t, "await", 0, nil, TypeAny, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		obj, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		v, err := obj.Payload().(*Promise).Await()
		if err != nil {
			return 0, err
		}
		return ctx.Keep(v)
	})
	d.def(t, "isDone", 0, nil, TypeBool, func(ctx *NativeContext, recv Handle, _ []Handle) (Handle, error) {
		obj, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		return ctx.New(NewBool(obj.Payload().(*Promise).IsDone()))
	})
	installCommon(d, t)
}

func installFunction(d definer) {
	t := TypeFunction
	call := func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
		obj, err := ctx.Object(recv)
		if err != nil {
			return 0, err
		}
		return ctx.Call(obj.Payload().(*FunctionRef).Method, 0, args...)
	}
	for n := 0; n <= 3; n++ {
		ps := make([]TypeTag, n)
		for i := range ps {
			ps[i] = TypeAny
		}
		d.def(t, "call", TagCall, ps, TypeAny, call)
	}
	installCommon(d, t)
}

// ---------------------------------------------------------------------------
// User classes
// ---------------------------------------------------------------------------

func classIntrinsics(r *Registry, c *Class) []*Method {
	in := r.interner
	return []*Method{
		{
			Name:     in.Intern("toString"),
			Receiver: c.Tag,
			Returns:  []TypeTag{TypeString},
			Tags:     TagToString,
			Native:   nativeToString,
		},
		{
			Name:     in.Intern("equals"),
			Receiver: c.Tag,
			Params:   []TypeTag{c.Tag},
			Returns:  []TypeTag{TypeBool},
			Tags:     TagEquality,
			Native: func(ctx *NativeContext, recv Handle, args []Handle) (Handle, error) {
				return ctx.New(NewBool(recv == args[0]))
			},
		},
	}
}
