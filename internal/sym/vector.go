package sym

// Concat joins node vectors.
func Concat(parts ...[]*Node) []*Node {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]*Node, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Repeat concatenates n copies of v.
func Repeat(v []*Node, n int) []*Node {
	out := make([]*Node, 0, len(v)*n)
	for i := 0; i < n; i++ {
		out = append(out, v...)
	}
	return out
}

func (b *Builder) AddVec(x, y []*Node) []*Node {
	out := make([]*Node, len(x))
	for i := range x {
		out[i] = b.Add(x[i], y[i])
	}
	return out
}

func (b *Builder) SubVec(x, y []*Node) []*Node {
	out := make([]*Node, len(x))
	for i := range x {
		out[i] = b.Sub(x[i], y[i])
	}
	return out
}

// ScaleVec multiplies x element-wise by c. A c of length one is broadcast.
func (b *Builder) ScaleVec(c []float64, x []*Node) []*Node {
	out := make([]*Node, len(x))
	for i := range x {
		ci := c[0]
		if len(c) > 1 {
			ci = c[i]
		}
		out[i] = b.Scale(ci, x[i])
	}
	return out
}

// DivVec divides x element-wise by the node d.
func (b *Builder) DivVec(x []*Node, d *Node) []*Node {
	out := make([]*Node, len(x))
	for i := range x {
		out[i] = b.Div(x[i], d)
	}
	return out
}

// LerpVec blends two vectors element-wise, see Lerp.
func (b *Builder) LerpVec(theta float64, x0, x1 []*Node) []*Node {
	out := make([]*Node, len(x0))
	for i := range x0 {
		out[i] = b.Lerp(theta, x0[i], x1[i])
	}
	return out
}
