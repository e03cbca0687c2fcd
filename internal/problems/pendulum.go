package problems

import (
	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/transcribe"
)

const (
	DefaultPendulumMass    = 1.0
	DefaultPendulumLength  = 1.0
	DefaultPendulumDamping = 0.1
	DefaultGravity         = 9.81
	DefaultMaxTorque       = 5.0
)

// pendulumForm keeps the pendulum near the bottom. Its mechanical energy is
// carried as a path variable tied to the states by a path constraint.
type pendulumForm struct {
	transcribe.Base
	theta, omega, torque *sym.Node
	energy               *sym.Node
	energyExpr           *sym.Node
}

func (f *pendulumForm) PathVariables(*sym.Builder) []model.VectorVariable {
	return []model.VectorVariable{{Name: "energy", Symbols: []*sym.Node{f.energy}}}
}

func (f *pendulumForm) PathConstraints(ctx *transcribe.Context, m int) ([]transcribe.PathConstraint, error) {
	b := ctx.Builder()
	return []transcribe.PathConstraint{{
		Expr:  []*sym.Node{b.Sub(f.energy, f.energyExpr)},
		Lower: model.Scalar(0),
		Upper: model.Scalar(0),
	}}, nil
}

func (f *pendulumForm) PathObjective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	b := ctx.Builder()
	return b.Sum([]*sym.Node{
		b.Square(f.theta),
		b.Scale(0.1, b.Square(f.omega)),
		b.Scale(0.01, b.Square(f.torque)),
	}), nil
}

// Objective penalizes the energy left at the final time.
func (f *pendulumForm) Objective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	e, err := terminalAt(ctx, "energy", m)
	if err != nil {
		return nil, err
	}
	return ctx.Builder().Scale(10, e), nil
}

// Pendulum is a damped pendulum driven by a bounded torque:
//
//	mass * length^2 * der(omega) = torque - damping * omega - mass * gravity * length * sin(theta)
func Pendulum(cfg *config.Config) (*Case, error) {
	d := newDAE()
	b := d.b
	theta, dtheta := d.state("theta")
	omega, domega := d.state("omega")
	torque := d.control("torque")
	mass, length := d.param("mass"), d.param("length")
	damping, gravity := d.param("damping"), d.param("gravity")

	inertia := b.Mul(mass, b.Square(length))
	weight := b.Mul(b.Mul(mass, gravity), length)
	d.equation(dtheta, omega)
	d.equation(b.Mul(inertia, domega),
		b.Sub(torque, b.Add(b.Mul(damping, omega), b.Mul(weight, b.Sin(theta)))))
	d.Nominals["energy"] = []float64{10}

	data, err := newData(cfg, map[string]float64{
		"mass":    DefaultPendulumMass,
		"length":  DefaultPendulumLength,
		"damping": DefaultPendulumDamping,
		"gravity": DefaultGravity,
	})
	if err != nil {
		return nil, err
	}
	data.SetBound("torque", -DefaultMaxTorque, DefaultMaxTorque)
	data.SetBound("energy", 0, inf)
	data.SetInitial("theta", cfg.InitialValue("theta", 0.5))
	data.SetInitial("omega", cfg.InitialValue("omega", 0))

	form := &pendulumForm{
		theta:  theta,
		omega:  omega,
		torque: torque,
		energy: b.Symbol("energy"),
		energyExpr: b.Add(
			b.Scale(0.5, b.Mul(inertia, b.Square(omega))),
			b.Mul(weight, b.Sub(b.Const(1), b.Cos(theta)))),
	}
	return &Case{Name: "pendulum", Model: &model.StaticModel{Model: d.DAE}, Data: data, Form: form}, nil
}
