package problems

import (
	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/transcribe"
)

const DefaultIntegratorBound = 2.0

// integratorForm minimizes the squared final state.
type integratorForm struct {
	transcribe.Base
}

func (integratorForm) Objective(ctx *transcribe.Context, m int) (*sym.Node, error) {
	x, err := terminalAt(ctx, "x", m)
	if err != nil {
		return nil, err
	}
	return ctx.Builder().Square(x), nil
}

// Integrator is der(x) = u with |u| <= 2.
func Integrator(cfg *config.Config) (*Case, error) {
	d := newDAE()
	_, dx := d.state("x")
	u := d.control("u")
	d.equation(dx, u)

	data, err := newData(cfg, nil)
	if err != nil {
		return nil, err
	}
	data.SetBound("u", -DefaultIntegratorBound, DefaultIntegratorBound)
	data.SetInitial("x", cfg.InitialValue("x", 1))
	return &Case{Name: "integrator", Model: &model.StaticModel{Model: d.DAE}, Data: data, Form: integratorForm{}}, nil
}
