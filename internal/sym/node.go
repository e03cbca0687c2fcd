package sym

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

// Op identifies the operation a node performs.
type Op uint8

const (
	OpConst Op = iota
	OpSymbol
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpPow
	OpExp
	OpLog
	OpSin
	OpCos
	OpSqrt
	OpTanh
	OpAbs
	OpMin
	OpMax
	OpCall
	OpOutput
)

var opNames = [...]string{
	OpConst:  "const",
	OpSymbol: "symbol",
	OpAdd:    "+",
	OpSub:    "-",
	OpMul:    "*",
	OpDiv:    "/",
	OpNeg:    "neg",
	OpPow:    "pow",
	OpExp:    "exp",
	OpLog:    "log",
	OpSin:    "sin",
	OpCos:    "cos",
	OpSqrt:   "sqrt",
	OpTanh:   "tanh",
	OpAbs:    "abs",
	OpMin:    "fmin",
	OpMax:    "fmax",
	OpCall:   "call",
	OpOutput: "output",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

func (o Op) unary() bool {
	switch o {
	case OpNeg, OpExp, OpLog, OpSin, OpCos, OpSqrt, OpTanh, OpAbs:
		return true
	}
	return false
}

func (o Op) binary() bool {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv, OpPow, OpMin, OpMax:
		return true
	}
	return false
}

var nextID atomic.Uint64

// Node is a vertex in an expression graph. Nodes are immutable and may be
// shared freely between expressions.
type Node struct {
	id    uint64
	op    Op
	value float64
	name  string
	args  []*Node
	fn    Function
	index int
}

func newNode(op Op) *Node {
	return &Node{id: nextID.Add(1), op: op}
}

func (n *Node) ID() uint64     { return n.id }
func (n *Node) Op() Op         { return n.op }
func (n *Node) Args() []*Node  { return n.args }
func (n *Node) IsConst() bool  { return n.op == OpConst }
func (n *Node) IsSymbol() bool { return n.op == OpSymbol }

// Name returns the name of a symbol, or an empty string.
func (n *Node) Name() string { return n.name }

// Value returns the value of a constant node and NaN otherwise.
func (n *Node) Value() float64 {
	if n.op != OpConst {
		return math.NaN()
	}
	return n.value
}

func (n *Node) isValue(v float64) bool {
	return n.op == OpConst && n.value == v
}

func (n *Node) String() string {
	var sb strings.Builder
	n.format(&sb, 0)
	return sb.String()
}

const maxFormatDepth = 12

func (n *Node) format(sb *strings.Builder, depth int) {
	if depth > maxFormatDepth {
		sb.WriteString("...")
		return
	}
	switch {
	case n.op == OpConst:
		fmt.Fprintf(sb, "%g", n.value)
	case n.op == OpSymbol:
		sb.WriteString(n.name)
	case n.op == OpCall:
		fmt.Fprintf(sb, "%s(...)", n.fn.Name())
	case n.op == OpOutput:
		fmt.Fprintf(sb, "%s{%d}", n.args[0].fn.Name(), n.index)
	case n.op.unary():
		sb.WriteString(n.op.String())
		sb.WriteByte('(')
		n.args[0].format(sb, depth+1)
		sb.WriteByte(')')
	case n.op == OpPow || n.op == OpMin || n.op == OpMax:
		sb.WriteString(n.op.String())
		sb.WriteByte('(')
		n.args[0].format(sb, depth+1)
		sb.WriteString(", ")
		n.args[1].format(sb, depth+1)
		sb.WriteByte(')')
	default:
		sb.WriteByte('(')
		n.args[0].format(sb, depth+1)
		sb.WriteByte(' ')
		sb.WriteString(n.op.String())
		sb.WriteByte(' ')
		n.args[1].format(sb, depth+1)
		sb.WriteByte(')')
	}
}

func apply1(op Op, a float64) float64 {
	switch op {
	case OpNeg:
		return -a
	case OpExp:
		return math.Exp(a)
	case OpLog:
		return math.Log(a)
	case OpSin:
		return math.Sin(a)
	case OpCos:
		return math.Cos(a)
	case OpSqrt:
		return math.Sqrt(a)
	case OpTanh:
		return math.Tanh(a)
	case OpAbs:
		return math.Abs(a)
	}
	return math.NaN()
}

func apply2(op Op, a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpPow:
		return math.Pow(a, b)
	case OpMin:
		return math.Min(a, b)
	case OpMax:
		return math.Max(a, b)
	}
	return math.NaN()
}
