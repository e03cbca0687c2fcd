package transcribe

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/sym"
)

// Context holds the variable registry, the compiled DAE functions and,
// after a transcription, the symbolic decision vector with the per-member
// discretized quantities derived from it.
type Context struct {
	b     *sym.Builder
	dae   *model.DAE
	model model.ModelProvider
	data  model.DataProvider
	opts  Options
	log   *zap.Logger
	reg   *registry.Registry
	// ders maps every differentiated, algebraic and control variable to
	// its derivative symbol.
	ders map[string]*sym.Node

	cache *functionCache
	tr    *transcription
}

// functionCache holds the functions reused across transcriptions.
type functionCache struct {
	params      []string
	constNames  []string
	constValues []float64
	integrated  []string
	members     int

	collocated *sym.Expr
	integrator *sym.Newton
	initial    *sym.Mapped
	nCollocRes int
	linear     bool
}

// transcription is the state of the latest Transcribe call.
type transcription struct {
	times  []float64
	t0     float64
	layout *layout.Layout
	x      []*sym.Node

	differentiated []*registry.Variable
	integrated     []*registry.Variable
	// collocated lists non-integrated differentiated states, then
	// algebraic states, then controls.
	collocated     []*registry.Variable
	constantInputs []*registry.Variable
	pathVars       []*registry.Variable
	extraVars      []*registry.Variable

	// initialDt is the step used to scale each differentiated state's
	// initial derivative.
	initialDt map[string]float64

	ens     *ensemble
	fns     *pathFunctions
	members []*memberState

	// extractors replay the integrated states of a member from a
	// numeric decision vector.
	extractors map[int]*sym.Expr
}

// memberState is the discretization of one ensemble member. Values are
// physical.
type memberState struct {
	params []float64
	extra  []*sym.Node

	// integrators holds, per integrated state, its value at every
	// collocation time after the first.
	integrators [][]*sym.Node
	// collocated holds, per collocated variable, its value at every
	// collocation time.
	collocated     [][]*sym.Node
	constantInputs [][]float64
	pathValues     [][]*sym.Node

	initialDerivatives []*sym.Node
	initialInputs      [][]*sym.Node
}

// ClearCache drops the compiled DAE functions.
func (c *Context) ClearCache() {
	c.cache = nil
}

// Builder returns the expression builder shared with the model.
func (c *Context) Builder() *sym.Builder { return c.b }

// Registry returns the variable registry.
func (c *Context) Registry() *registry.Registry { return c.reg }

// Logger returns the logger of the problem.
func (c *Context) Logger() *zap.Logger { return c.log }

// Data returns the data provider.
func (c *Context) Data() model.DataProvider { return c.data }

// Times returns the collocation grid of the latest transcription.
func (c *Context) Times() []float64 {
	if c.tr == nil {
		return c.data.Times("")
	}
	return c.tr.times
}

// InitialTime returns the first collocation time.
func (c *Context) InitialTime() float64 { return c.Times()[0] }

// EnsembleSize returns the number of ensemble members.
func (c *Context) EnsembleSize() int { return c.data.EnsembleSize() }

// Layout returns the decision-vector layout of the latest transcription.
func (c *Context) Layout() *layout.Layout {
	if c.tr == nil {
		return nil
	}
	return c.tr.layout
}

// LinearCollocation reports whether the collocated residual was found to be
// affine in the states.
func (c *Context) LinearCollocation() bool {
	return c.cache != nil && c.cache.linear
}

func (c *Context) transcribed() (*transcription, error) {
	if c.tr == nil {
		return nil, ErrNotTranscribed
	}
	return c.tr, nil
}

// transcribedMember is transcribed with the member index checked against
// the ensemble.
func (c *Context) transcribedMember(m int) (*transcription, error) {
	tr, err := c.transcribed()
	if err != nil {
		return nil, err
	}
	if n := c.data.EnsembleSize(); m < 0 || m >= n {
		return nil, fmt.Errorf("%w: member %d, ensemble has %d", ErrOutOfRange, m, n)
	}
	return tr, nil
}

func (c *Context) isIntegrated(name string) bool {
	if c.tr == nil {
		return false
	}
	for _, v := range c.tr.integrated {
		if v.Name == name {
			return true
		}
	}
	return false
}
