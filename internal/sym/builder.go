package sym

import (
	"fmt"
	"math"
	"sync"
)

type nodeKey struct {
	op   Op
	a, b uint64
	bits uint64
}

// Builder creates nodes, sharing structurally identical subexpressions.
type Builder struct {
	mu    sync.Mutex
	cache map[nodeKey]*Node
}

func NewBuilder() *Builder {
	return &Builder{cache: make(map[nodeKey]*Node)}
}

func (b *Builder) intern(k nodeKey, mk func() *Node) *Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.cache[k]; ok {
		return n
	}
	n := mk()
	b.cache[k] = n
	return n
}

// Const returns the constant node with value v.
func (b *Builder) Const(v float64) *Node {
	return b.intern(nodeKey{op: OpConst, bits: math.Float64bits(v)}, func() *Node {
		n := newNode(OpConst)
		n.value = v
		return n
	})
}

// Consts converts a slice of values into constant nodes.
func (b *Builder) Consts(vs []float64) []*Node {
	out := make([]*Node, len(vs))
	for i, v := range vs {
		out[i] = b.Const(v)
	}
	return out
}

// Symbol creates a new free symbol. Two calls with the same name return
// distinct symbols.
func (b *Builder) Symbol(name string) *Node {
	n := newNode(OpSymbol)
	n.name = name
	return n
}

// Symbols creates n symbols named name[0], name[1], ... If n is 1 the
// single symbol is called name.
func (b *Builder) Symbols(name string, n int) []*Node {
	out := make([]*Node, n)
	if n == 1 {
		out[0] = b.Symbol(name)
		return out
	}
	for i := range out {
		out[i] = b.Symbol(fmt.Sprintf("%s[%d]", name, i))
	}
	return out
}

func (b *Builder) unary(op Op, a *Node) *Node {
	if a.op == OpConst {
		return b.Const(apply1(op, a.value))
	}
	if op == OpNeg && a.op == OpNeg {
		return a.args[0]
	}
	return b.intern(nodeKey{op: op, a: a.id}, func() *Node {
		n := newNode(op)
		n.args = []*Node{a}
		return n
	})
}

func (b *Builder) binary(op Op, x, y *Node) *Node {
	if x.op == OpConst && y.op == OpConst {
		return b.Const(apply2(op, x.value, y.value))
	}
	switch op {
	case OpAdd:
		if x.isValue(0) {
			return y
		}
		if y.isValue(0) {
			return x
		}
		if y.op == OpNeg {
			return b.binary(OpSub, x, y.args[0])
		}
	case OpSub:
		if y.isValue(0) {
			return x
		}
		if x.isValue(0) {
			return b.unary(OpNeg, y)
		}
		if x == y {
			return b.Const(0)
		}
	case OpMul:
		if x.isValue(0) || y.isValue(0) {
			return b.Const(0)
		}
		if x.isValue(1) {
			return y
		}
		if y.isValue(1) {
			return x
		}
		if x.isValue(-1) {
			return b.unary(OpNeg, y)
		}
		if y.isValue(-1) {
			return b.unary(OpNeg, x)
		}
	case OpDiv:
		if y.isValue(1) {
			return x
		}
		if x.isValue(0) {
			return b.Const(0)
		}
	case OpPow:
		if y.isValue(1) {
			return x
		}
		if y.isValue(0) {
			return b.Const(1)
		}
	}
	if (op == OpAdd || op == OpMul || op == OpMin || op == OpMax) && x.id > y.id {
		x, y = y, x
	}
	return b.intern(nodeKey{op: op, a: x.id, b: y.id}, func() *Node {
		n := newNode(op)
		n.args = []*Node{x, y}
		return n
	})
}

func (b *Builder) Add(x, y *Node) *Node { return b.binary(OpAdd, x, y) }
func (b *Builder) Sub(x, y *Node) *Node { return b.binary(OpSub, x, y) }
func (b *Builder) Mul(x, y *Node) *Node { return b.binary(OpMul, x, y) }
func (b *Builder) Div(x, y *Node) *Node { return b.binary(OpDiv, x, y) }
func (b *Builder) Pow(x, y *Node) *Node { return b.binary(OpPow, x, y) }
func (b *Builder) Min(x, y *Node) *Node { return b.binary(OpMin, x, y) }
func (b *Builder) Max(x, y *Node) *Node { return b.binary(OpMax, x, y) }

func (b *Builder) Neg(x *Node) *Node  { return b.unary(OpNeg, x) }
func (b *Builder) Exp(x *Node) *Node  { return b.unary(OpExp, x) }
func (b *Builder) Log(x *Node) *Node  { return b.unary(OpLog, x) }
func (b *Builder) Sin(x *Node) *Node  { return b.unary(OpSin, x) }
func (b *Builder) Cos(x *Node) *Node  { return b.unary(OpCos, x) }
func (b *Builder) Sqrt(x *Node) *Node { return b.unary(OpSqrt, x) }
func (b *Builder) Tanh(x *Node) *Node { return b.unary(OpTanh, x) }
func (b *Builder) Abs(x *Node) *Node  { return b.unary(OpAbs, x) }

// Scale multiplies x by the constant c.
func (b *Builder) Scale(c float64, x *Node) *Node {
	return b.Mul(b.Const(c), x)
}

// Square returns x*x.
func (b *Builder) Square(x *Node) *Node {
	return b.Mul(x, x)
}

// Sum adds all terms using a balanced tree, keeping graph depth
// logarithmic in the number of terms.
func (b *Builder) Sum(terms []*Node) *Node {
	switch len(terms) {
	case 0:
		return b.Const(0)
	case 1:
		return terms[0]
	}
	mid := len(terms) / 2
	return b.Add(b.Sum(terms[:mid]), b.Sum(terms[mid:]))
}

// Dot returns the inner product of c and x.
func (b *Builder) Dot(c []float64, x []*Node) *Node {
	terms := make([]*Node, 0, len(x))
	for i := range x {
		if c[i] == 0 {
			continue
		}
		terms = append(terms, b.Scale(c[i], x[i]))
	}
	return b.Sum(terms)
}

// Lerp returns (1-theta)*x0 + theta*x1, reducing to one side when theta is
// 0 or 1.
func (b *Builder) Lerp(theta float64, x0, x1 *Node) *Node {
	switch theta {
	case 0:
		return x0
	case 1:
		return x1
	}
	return b.Add(b.Scale(1-theta, x0), b.Scale(theta, x1))
}

// Call applies fn to the given input vectors and returns its output
// vectors as nodes.
func (b *Builder) Call(fn Function, inputs ...[]*Node) ([][]*Node, error) {
	sizeIn := fn.SizeIn()
	if len(inputs) != len(sizeIn) {
		return nil, fmt.Errorf("%w: %s expects %d inputs, got %d", ErrDimensionMismatch, fn.Name(), len(sizeIn), len(inputs))
	}
	total := 0
	for k, in := range inputs {
		if len(in) != sizeIn[k] {
			return nil, fmt.Errorf("%w: %s input %d has size %d, want %d", ErrDimensionMismatch, fn.Name(), k, len(in), sizeIn[k])
		}
		total += len(in)
	}
	args := make([]*Node, 0, total)
	for _, in := range inputs {
		args = append(args, in...)
	}
	return b.callFlat(fn, args), nil
}

// MustCall is like Call but panics on a dimension mismatch.
func (b *Builder) MustCall(fn Function, inputs ...[]*Node) [][]*Node {
	out, err := b.Call(fn, inputs...)
	if err != nil {
		panic(err)
	}
	return out
}

func (b *Builder) callFlat(fn Function, args []*Node) [][]*Node {
	call := newNode(OpCall)
	call.fn = fn
	call.args = args
	sizeOut := fn.SizeOut()
	out := make([][]*Node, len(sizeOut))
	flat := 0
	for k, s := range sizeOut {
		out[k] = make([]*Node, s)
		for i := 0; i < s; i++ {
			out[k][i] = b.output(call, flat)
			flat++
		}
	}
	return out
}

func (b *Builder) output(call *Node, index int) *Node {
	return b.intern(nodeKey{op: OpOutput, a: call.id, bits: uint64(index)}, func() *Node {
		n := newNode(OpOutput)
		n.args = []*Node{call}
		n.index = index
		return n
	})
}
