// Package sym provides the expression graph used to build discretized
// optimal-control problems.
//
// Expressions are immutable [Node] values forming a directed acyclic graph.
// Nodes are created through a [Builder], which deduplicates structurally
// identical subexpressions and folds constants as they are built:
//
//	b := sym.NewBuilder()
//	x := b.Symbol("x")
//	u := b.Symbol("u")
//	r := b.Sub(b.Symbol("der(x)"), b.Add(b.Mul(b.Const(2), x), u))
//
// A set of expressions is turned into a reusable numeric [Function] with
// [Compile]. Functions can themselves be called from other expressions
// ([Call]), replicated over many columns ([Map], [Fold]) and solved
// implicitly ([Rootfinder]).
//
// # Thread Safety
//
// Builders are safe for concurrent use. Compiled functions are safe for
// concurrent evaluation; each evaluation draws its own work buffers.
package sym
