package problems

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/transcribe"
)

// Case is a problem ready to be transcribed.
type Case struct {
	Name  string
	Model *model.StaticModel
	Data  *model.MemoryData
	Form  transcribe.Formulation
}

func (c *Case) New(opts transcribe.Options, log *zap.Logger) (*transcribe.Problem, error) {
	return transcribe.New(c.Model, c.Data, c.Form, opts, log)
}

// Builder constructs a case from a run configuration.
type Builder func(cfg *config.Config) (*Case, error)

// dae collects the symbols of a model under construction.
type dae struct {
	*model.DAE
	b *sym.Builder
}

func newDAE() *dae {
	b := sym.NewBuilder()
	return &dae{DAE: &model.DAE{Builder: b, Time: b.Symbol("time"), Nominals: map[string][]float64{}}, b: b}
}

// state declares a differentiated state and returns it with its derivative.
func (d *dae) state(name string) (*sym.Node, *sym.Node) {
	x, dx := d.b.Symbol(name), d.b.Symbol("der("+name+")")
	d.States = append(d.States, x)
	d.Derivatives = append(d.Derivatives, dx)
	return x, dx
}

func (d *dae) algebraic(name string) *sym.Node {
	s := d.b.Symbol(name)
	d.Algebraics = append(d.Algebraics, s)
	return s
}

func (d *dae) control(name string) *sym.Node {
	s := d.b.Symbol(name)
	d.Controls = append(d.Controls, s)
	return s
}

func (d *dae) input(name string) *sym.Node {
	s := d.b.Symbol(name)
	d.ConstantInputs = append(d.ConstantInputs, s)
	return s
}

func (d *dae) param(name string) *sym.Node {
	s := d.b.Symbol(name)
	d.Parameters = append(d.Parameters, s)
	return s
}

func (d *dae) equation(lhs, rhs *sym.Node) {
	d.Residual = append(d.Residual, d.b.Sub(lhs, rhs))
}

// newData creates the member data and assigns every parameter its
// configured or default value.
func newData(cfg *config.Config, defaults map[string]float64) (*model.MemoryData, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	data := model.NewMemoryData(cfg.Grid(), cfg.Members)
	for name := range cfg.Params {
		if _, ok := defaults[name]; !ok {
			return nil, fmt.Errorf("%s: unknown parameter %q", cfg.Problem, name)
		}
	}
	for name, def := range defaults {
		data.SetParameter(name, cfg.Param(name, def))
	}
	return data, nil
}

// terminalAt returns the value of a state at the final time.
func terminalAt(ctx *transcribe.Context, name string, member int) (*sym.Node, error) {
	times := ctx.Times()
	return ctx.StateAt(name, times[len(times)-1], member, false, false)
}

var inf = math.Inf(1)
