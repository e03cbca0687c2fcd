package problems

import (
	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/transcribe"
)

const (
	DefaultMass      = 1.0
	DefaultStiffness = 10.0
	DefaultDamping   = 0.5
	DefaultMaxForce  = 20.0

	springEffort    = 1e-3
	springTolerance = 1e-2
)

type springMassForm struct {
	transcribe.Base
	pos, force *sym.Node
}

func (f *springMassForm) PathObjective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	b := ctx.Builder()
	return b.Add(b.Square(f.pos), b.Scale(springEffort, b.Square(f.force))), nil
}

// Constraints require the mass to end at rest near the origin.
func (f *springMassForm) Constraints(ctx *transcribe.Context, m int) ([]transcribe.Constraint, error) {
	pos, err := terminalAt(ctx, "pos", m)
	if err != nil {
		return nil, err
	}
	vel, err := terminalAt(ctx, "vel", m)
	if err != nil {
		return nil, err
	}
	return []transcribe.Constraint{{
		Expr:  []*sym.Node{pos, vel},
		Lower: model.Scalar(-springTolerance),
		Upper: model.Vector(springTolerance, springTolerance),
	}}, nil
}

// SpringMass is a single damped mass on a spring driven by a bounded force:
//
//	mass * der(vel) = force - stiffness * pos - damping * vel
func SpringMass(cfg *config.Config) (*Case, error) {
	d := newDAE()
	b := d.b
	pos, dpos := d.state("pos")
	vel, dvel := d.state("vel")
	force := d.control("force")
	mass, k, c := d.param("mass"), d.param("stiffness"), d.param("damping")

	d.equation(dpos, vel)
	d.equation(b.Mul(mass, dvel), b.Sub(force, b.Add(b.Mul(k, pos), b.Mul(c, vel))))
	d.Nominals["force"] = []float64{DefaultMaxForce / 2}

	data, err := newData(cfg, map[string]float64{
		"mass":      DefaultMass,
		"stiffness": DefaultStiffness,
		"damping":   DefaultDamping,
	})
	if err != nil {
		return nil, err
	}
	data.SetBound("force", -DefaultMaxForce, DefaultMaxForce)
	data.SetInitial("pos", cfg.InitialValue("pos", 1))
	data.SetInitial("vel", cfg.InitialValue("vel", 0))

	form := &springMassForm{pos: pos, force: force}
	return &Case{Name: "spring_mass", Model: &model.StaticModel{Model: d.DAE}, Data: data, Form: form}, nil
}
