package transcribe

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
)

// Problem is an optimal-control problem ready to be transcribed.
type Problem struct {
	ctx  *Context
	form Formulation
}

// New validates the model and declares every model, path and extra
// variable. The model and data providers are queried again on every
// transcription.
func New(mp model.ModelProvider, data model.DataProvider, form Formulation, opts Options, log *zap.Logger) (*Problem, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	dae := mp.DAE()
	if err := dae.Validate(); err != nil {
		return nil, err
	}
	if data.EnsembleSize() < 1 {
		return nil, fmt.Errorf("%w: ensemble has no members", model.ErrMissingData)
	}

	c := &Context{
		b:     dae.Builder,
		dae:   dae,
		model: mp,
		data:  data,
		opts:  opts,
		log:   log.Named("transcribe"),
		reg:   registry.New(),
		ders:  make(map[string]*sym.Node),
	}
	if err := c.declare(form); err != nil {
		return nil, err
	}
	return &Problem{ctx: c, form: form}, nil
}

// Context exposes the queries available to formulations.
func (p *Problem) Context() *Context { return p.ctx }

// ClearCache drops the compiled DAE functions so the next transcription
// rebuilds them.
func (p *Problem) ClearCache() { p.ctx.ClearCache() }

func (c *Context) declare(form Formulation) error {
	d := c.dae
	declare := func(kind registry.Kind, s *sym.Node) (*registry.Variable, error) {
		v := &registry.Variable{
			Name:          s.Name(),
			Kind:          kind,
			Symbols:       []*sym.Node{s},
			Nominal:       d.Nominal(s.Name()),
			Discrete:      d.Discrete[s.Name()],
			Interpolation: d.Interpolation[s.Name()],
		}
		return v, c.reg.Declare(v)
	}

	if _, err := declare(registry.Time, d.Time); err != nil {
		return err
	}
	for i, s := range d.States {
		if _, err := declare(registry.Differentiated, s); err != nil {
			return err
		}
		if _, err := declare(registry.Derivative, d.Derivatives[i]); err != nil {
			return err
		}
		c.ders[s.Name()] = d.Derivatives[i]
	}
	groups := []struct {
		kind registry.Kind
		syms []*sym.Node
	}{
		{registry.Algebraic, d.Algebraics},
		{registry.Control, d.Controls},
		{registry.ConstantInput, d.ConstantInputs},
		{registry.Parameter, d.Parameters},
		{registry.LookupTable, d.LookupTables},
	}
	for _, g := range groups {
		for _, s := range g.syms {
			if _, err := declare(g.kind, s); err != nil {
				return err
			}
		}
	}

	// Algebraic and control variables get derivative symbols of their own,
	// closed by backward differences on the grid.
	for _, s := range append(append([]*sym.Node{}, d.Algebraics...), d.Controls...) {
		der := c.b.Symbol("der(" + s.Name() + ")")
		if _, err := declare(registry.Derivative, der); err != nil {
			return err
		}
		c.ders[s.Name()] = der
	}

	for _, vv := range form.PathVariables(c.b) {
		if err := c.declareVector(registry.Path, vv); err != nil {
			return err
		}
	}
	for _, vv := range form.ExtraVariables(c.b) {
		if err := c.declareVector(registry.Extra, vv); err != nil {
			return err
		}
	}

	for _, a := range d.Aliases {
		if err := c.reg.Alias(a.Name, a.Canonical, a.Sign); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) declareVector(kind registry.Kind, vv model.VectorVariable) error {
	for _, s := range vv.Symbols {
		if !s.IsSymbol() {
			return fmt.Errorf("%s %s: %w", kind, vv.Name, sym.ErrNotSymbol)
		}
	}
	return c.reg.Declare(&registry.Variable{
		Name:          vv.Name,
		Kind:          kind,
		Symbols:       vv.Symbols,
		Nominal:       c.dae.Nominal(vv.Name),
		Discrete:      c.dae.Discrete[vv.Name],
		Interpolation: c.dae.Interpolation[vv.Name],
	})
}
