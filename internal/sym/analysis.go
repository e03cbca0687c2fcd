package sym

// DependsOn reports whether any of exprs structurally references any of syms.
func DependsOn(exprs []*Node, syms []*Node) bool {
	if len(syms) == 0 {
		return false
	}
	want := make(map[uint64]bool, len(syms))
	for _, s := range syms {
		want[s.id] = true
	}
	seen := make(map[uint64]bool)
	var walk func(n *Node) bool
	walk = func(n *Node) bool {
		if want[n.id] {
			return true
		}
		if seen[n.id] {
			return false
		}
		seen[n.id] = true
		for _, a := range n.args {
			if walk(a) {
				return true
			}
		}
		return false
	}
	for _, e := range exprs {
		if walk(e) {
			return true
		}
	}
	return false
}

// FreeSymbols lists the distinct symbols referenced by exprs in the order
// they are first encountered.
func FreeSymbols(exprs ...*Node) []*Node {
	seen := make(map[uint64]bool)
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if seen[n.id] {
			return
		}
		seen[n.id] = true
		if n.op == OpSymbol {
			out = append(out, n)
			return
		}
		for _, a := range n.args {
			walk(a)
		}
	}
	for _, e := range exprs {
		walk(e)
	}
	return out
}

// Substitute replaces every occurrence of from[i] in exprs by to[i].
func (b *Builder) Substitute(exprs []*Node, from []*Node, to []*Node) []*Node {
	if len(from) != len(to) {
		panic("sym: Substitute needs equal length from and to")
	}
	memo := make(map[uint64]*Node, len(from))
	for i, f := range from {
		memo[f.id] = to[i]
	}
	var rebuild func(n *Node) *Node
	rebuild = func(n *Node) *Node {
		if r, ok := memo[n.id]; ok {
			return r
		}
		var r *Node
		switch {
		case n.op == OpConst || n.op == OpSymbol:
			r = n
		case n.op == OpCall:
			args := make([]*Node, len(n.args))
			changed := false
			for i, a := range n.args {
				args[i] = rebuild(a)
				changed = changed || args[i] != a
			}
			if !changed {
				r = n
			} else {
				r = newNode(OpCall)
				r.fn = n.fn
				r.args = args
			}
		case n.op == OpOutput:
			call := rebuild(n.args[0])
			if call == n.args[0] {
				r = n
			} else {
				r = b.output(call, n.index)
			}
		case n.op.unary():
			a := rebuild(n.args[0])
			if a == n.args[0] {
				r = n
			} else {
				r = b.unary(n.op, a)
			}
		default:
			x, y := rebuild(n.args[0]), rebuild(n.args[1])
			if x == n.args[0] && y == n.args[1] {
				r = n
			} else {
				r = b.binary(n.op, x, y)
			}
		}
		memo[n.id] = r
		return r
	}
	out := make([]*Node, len(exprs))
	for i, e := range exprs {
		out[i] = rebuild(e)
	}
	return out
}

// SubstituteValues replaces symbols by constants.
func (b *Builder) SubstituteValues(exprs []*Node, from []*Node, values []float64) []*Node {
	return b.Substitute(exprs, from, b.Consts(values))
}

// Degree classes returned by Degree.
const (
	DegreeConstant  = 0
	DegreeAffine    = 1
	DegreeNonlinear = 2
)

// Degree returns the polynomial degree class of e in the given symbols:
// DegreeConstant, DegreeAffine or DegreeNonlinear. Calls into other
// functions with dependent arguments are treated as nonlinear.
func Degree(e *Node, syms []*Node) int {
	want := make(map[uint64]bool, len(syms))
	for _, s := range syms {
		want[s.id] = true
	}
	return degree(e, want, make(map[uint64]int))
}

func degree(n *Node, want map[uint64]bool, memo map[uint64]int) int {
	if d, ok := memo[n.id]; ok {
		return d
	}
	var d int
	switch {
	case n.op == OpConst:
		d = DegreeConstant
	case n.op == OpSymbol:
		if want[n.id] {
			d = DegreeAffine
		}
	case n.op == OpCall || n.op == OpOutput:
		for _, a := range n.args {
			if degree(a, want, memo) > DegreeConstant {
				d = DegreeNonlinear
				break
			}
		}
	case n.op == OpNeg:
		d = degree(n.args[0], want, memo)
	case n.op.unary():
		if degree(n.args[0], want, memo) > DegreeConstant {
			d = DegreeNonlinear
		}
	default:
		da := degree(n.args[0], want, memo)
		db := degree(n.args[1], want, memo)
		switch n.op {
		case OpAdd, OpSub:
			d = max(da, db)
		case OpMul:
			d = min(da+db, DegreeNonlinear)
		case OpDiv:
			if db > DegreeConstant {
				d = DegreeNonlinear
			} else {
				d = da
			}
		case OpPow:
			switch {
			case da == DegreeConstant && db == DegreeConstant:
				d = DegreeConstant
			case db == DegreeConstant && n.args[1].isValue(1):
				d = da
			default:
				d = DegreeNonlinear
			}
		default:
			if da > DegreeConstant || db > DegreeConstant {
				d = DegreeNonlinear
			}
		}
	}
	memo[n.id] = d
	return d
}

// IsAffine reports whether every expression is at most affine in syms.
func IsAffine(exprs []*Node, syms []*Node) bool {
	want := make(map[uint64]bool, len(syms))
	for _, s := range syms {
		want[s.id] = true
	}
	memo := make(map[uint64]int)
	for _, e := range exprs {
		if degree(e, want, memo) > DegreeAffine {
			return false
		}
	}
	return true
}
