package transcribe

import (
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/sym"
)

// Constraint bounds a vector of expressions in the decision vector. Bounds
// are scalars or vectors with one value per expression.
type Constraint struct {
	Expr  []*sym.Node
	Lower model.BoundValue
	Upper model.BoundValue
}

// PathConstraint bounds expressions of the model symbols at every
// collocation time. Bounds may additionally be series (sampled on the
// collocation grid) or expressions in the parameters.
type PathConstraint struct {
	Expr  []*sym.Node
	Lower model.BoundValue
	Upper model.BoundValue
}

// DelayedFeedback requires State(t) = Expr(t - Delay). Delay may depend on
// time, constant inputs and parameters only.
type DelayedFeedback struct {
	Expr  *sym.Node
	State string
	Delay *sym.Node
}

// Formulation supplies the optimization content of a problem. Path
// expressions are written in the model symbols (see Context.Variable and
// Context.Der); objectives and constraints in decision-vector expressions
// obtained from Context queries.
//
// Path expressions are taken from member 0; the path constraints of other
// members only contribute their bounds.
type Formulation interface {
	PathVariables(b *sym.Builder) []model.VectorVariable
	ExtraVariables(b *sym.Builder) []model.VectorVariable
	Objective(ctx *Context, member int) (*sym.Node, error)
	Constraints(ctx *Context, member int) ([]Constraint, error)
	PathObjective(ctx *Context, member int) (*sym.Node, error)
	PathConstraints(ctx *Context, member int) ([]PathConstraint, error)
	DelayedFeedback(ctx *Context) ([]DelayedFeedback, error)
}

// Base implements Formulation with no objective and no constraints.
// Embed it and override what is needed.
type Base struct{}

func (Base) PathVariables(*sym.Builder) []model.VectorVariable  { return nil }
func (Base) ExtraVariables(*sym.Builder) []model.VectorVariable { return nil }

func (Base) Objective(*Context, int) (*sym.Node, error)              { return nil, nil }
func (Base) Constraints(*Context, int) ([]Constraint, error)         { return nil, nil }
func (Base) PathObjective(*Context, int) (*sym.Node, error)          { return nil, nil }
func (Base) PathConstraints(*Context, int) ([]PathConstraint, error) { return nil, nil }
func (Base) DelayedFeedback(*Context) ([]DelayedFeedback, error)     { return nil, nil }
