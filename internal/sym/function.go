package sym

import (
	"fmt"
	"sync"
)

// Function is a numeric function of several vector inputs producing several
// vector outputs.
type Function interface {
	Name() string
	SizeIn() []int
	SizeOut() []int
	// Eval writes outputs into out. The slices in out must have the sizes
	// reported by SizeOut.
	Eval(in, out [][]float64) error
}

type instr struct {
	op    Op
	a, b  int
	value float64

	// call
	fn      Function
	args    []int
	call    int
	outK    int
	outElem int
}

// Expr is a Function compiled from expression graphs.
type Expr struct {
	name    string
	sizeIn  []int
	sizeOut []int

	nslots  int
	inSlot  [][]int
	outSlot [][]int
	tape    []instr
	calls   []callShape

	pool sync.Pool
}

type callShape struct {
	sizeIn  []int
	sizeOut []int
}

type workspace struct {
	vals    []float64
	callIn  [][][]float64
	callOut [][][]float64
}

// Compile turns the output expressions into a function of the input
// symbols. Every symbol reachable from the outputs must appear among the
// inputs.
func Compile(name string, inputs [][]*Node, outputs [][]*Node) (*Expr, error) {
	e := &Expr{name: name}
	slot := make(map[uint64]int)

	e.sizeIn = make([]int, len(inputs))
	e.inSlot = make([][]int, len(inputs))
	for k, in := range inputs {
		e.sizeIn[k] = len(in)
		e.inSlot[k] = make([]int, len(in))
		for i, s := range in {
			if s.op != OpSymbol {
				return nil, fmt.Errorf("%w: %s input %d[%d] is %s", ErrNotSymbol, name, k, i, s.op)
			}
			idx, ok := slot[s.id]
			if !ok {
				idx = e.nslots
				e.nslots++
				slot[s.id] = idx
			}
			e.inSlot[k][i] = idx
		}
	}

	callIndex := make(map[uint64]int)
	var visit func(n *Node) error
	visit = func(n *Node) error {
		if _, ok := slot[n.id]; ok {
			return nil
		}
		if n.op == OpSymbol {
			return fmt.Errorf("%w: %q in %s", ErrFreeSymbol, n.name, name)
		}
		for _, a := range n.args {
			if err := visit(a); err != nil {
				return err
			}
		}
		in := instr{op: n.op}
		switch {
		case n.op == OpConst:
			in.value = n.value
		case n.op == OpCall:
			in.fn = n.fn
			in.args = make([]int, len(n.args))
			for i, a := range n.args {
				in.args[i] = slot[a.id]
			}
			in.call = len(e.calls)
			callIndex[n.id] = in.call
			e.calls = append(e.calls, callShape{sizeIn: n.fn.SizeIn(), sizeOut: n.fn.SizeOut()})
		case n.op == OpOutput:
			call := n.args[0]
			in.call = callIndex[call.id]
			in.outK, in.outElem = splitIndex(call.fn.SizeOut(), n.index)
		case n.op.unary():
			in.a = slot[n.args[0].id]
		default:
			in.a = slot[n.args[0].id]
			in.b = slot[n.args[1].id]
		}
		slot[n.id] = e.nslots
		e.nslots++
		e.tape = append(e.tape, in)
		return nil
	}

	e.sizeOut = make([]int, len(outputs))
	e.outSlot = make([][]int, len(outputs))
	for k, out := range outputs {
		e.sizeOut[k] = len(out)
		e.outSlot[k] = make([]int, len(out))
		for i, n := range out {
			if err := visit(n); err != nil {
				return nil, err
			}
			e.outSlot[k][i] = slot[n.id]
		}
	}

	e.pool.New = func() any { return e.newWorkspace() }
	return e, nil
}

func splitIndex(sizes []int, flat int) (int, int) {
	for k, s := range sizes {
		if flat < s {
			return k, flat
		}
		flat -= s
	}
	return len(sizes), 0
}

func (e *Expr) newWorkspace() *workspace {
	ws := &workspace{
		vals:    make([]float64, e.nslots),
		callIn:  make([][][]float64, len(e.calls)),
		callOut: make([][][]float64, len(e.calls)),
	}
	for c, shape := range e.calls {
		ws.callIn[c] = allocVectors(shape.sizeIn)
		ws.callOut[c] = allocVectors(shape.sizeOut)
	}
	return ws
}

func allocVectors(sizes []int) [][]float64 {
	out := make([][]float64, len(sizes))
	for i, s := range sizes {
		out[i] = make([]float64, s)
	}
	return out
}

func (e *Expr) Name() string    { return e.name }
func (e *Expr) SizeIn() []int   { return e.sizeIn }
func (e *Expr) SizeOut() []int  { return e.sizeOut }
func (e *Expr) TapeLength() int { return len(e.tape) }

func (e *Expr) Eval(in, out [][]float64) error {
	if err := checkSizes(e.name, "input", in, e.sizeIn); err != nil {
		return err
	}
	if err := checkSizes(e.name, "output", out, e.sizeOut); err != nil {
		return err
	}

	ws := e.pool.Get().(*workspace)
	defer e.pool.Put(ws)
	v := ws.vals

	for k, slots := range e.inSlot {
		for i, s := range slots {
			v[s] = in[k][i]
		}
	}

	dst := e.nslots - len(e.tape)
	for i := range e.tape {
		ins := &e.tape[i]
		switch {
		case ins.op == OpConst:
			v[dst] = ins.value
		case ins.op == OpCall:
			cin := ws.callIn[ins.call]
			j := 0
			for _, vec := range cin {
				for q := range vec {
					vec[q] = v[ins.args[j]]
					j++
				}
			}
			if err := ins.fn.Eval(cin, ws.callOut[ins.call]); err != nil {
				return &EvalError{Function: e.name, Wrapped: err}
			}
		case ins.op == OpOutput:
			v[dst] = ws.callOut[ins.call][ins.outK][ins.outElem]
		case ins.op.unary():
			v[dst] = apply1(ins.op, v[ins.a])
		default:
			v[dst] = apply2(ins.op, v[ins.a], v[ins.b])
		}
		dst++
	}

	for k, slots := range e.outSlot {
		for i, s := range slots {
			out[k][i] = v[s]
		}
	}
	return nil
}

func checkSizes(name, what string, vs [][]float64, sizes []int) error {
	if len(vs) != len(sizes) {
		return fmt.Errorf("%w: %s expects %d %ss, got %d", ErrDimensionMismatch, name, len(sizes), what, len(vs))
	}
	for k, s := range sizes {
		if len(vs[k]) != s {
			return fmt.Errorf("%w: %s %s %d has size %d, want %d", ErrDimensionMismatch, name, what, k, len(vs[k]), s)
		}
	}
	return nil
}

// Evaluate computes the numeric value of exprs given values for syms.
func Evaluate(exprs []*Node, syms []*Node, values []float64) ([]float64, error) {
	f, err := Compile("evaluate", [][]*Node{syms}, [][]*Node{exprs})
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(exprs))
	if err := f.Eval([][]float64{values}, [][]float64{out}); err != nil {
		return nil, err
	}
	return out, nil
}

// EvaluateConst evaluates expressions that depend on no symbols.
func EvaluateConst(exprs ...*Node) ([]float64, error) {
	return Evaluate(exprs, nil, nil)
}
