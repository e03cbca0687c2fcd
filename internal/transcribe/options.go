package transcribe

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/sym"
)

const (
	DefaultTheta = 1.0

	DefaultJacobianMax      = 1e2
	DefaultJacobianMin      = 1e-2
	DefaultJacobianMaxRatio = 1e3
)

// JacobianCheck configures the coefficient-range check of the constraint
// Jacobian at the initial guess.
type JacobianCheck struct {
	Enabled  bool
	MaxAbs   float64
	MinAbs   float64
	MaxRatio float64
}

type Options struct {
	// Theta blends explicit (0) and implicit (1) evaluation of the dynamics.
	Theta float64
	// IntegratedStates are differentiated states advanced by an implicit
	// step instead of being collocated.
	IntegratedStates          []string
	CheckCollocationLinearity bool
	Newton                    sym.RootfinderOptions
	// Parallel allows concurrent evaluation of independent time steps and
	// ensemble members.
	Parallel      bool
	JacobianCheck JacobianCheck
}

func DefaultOptions() Options {
	return Options{
		Theta:                     DefaultTheta,
		CheckCollocationLinearity: true,
		Newton:                    sym.DefaultRootfinderOptions(),
		Parallel:                  true,
		JacobianCheck: JacobianCheck{
			MaxAbs:   DefaultJacobianMax,
			MinAbs:   DefaultJacobianMin,
			MaxRatio: DefaultJacobianMaxRatio,
		},
	}
}

func (o Options) validate() error {
	if o.Theta < 0 || o.Theta > 1 {
		return fmt.Errorf("%w: theta %g outside [0, 1]", model.ErrUnsupported, o.Theta)
	}
	return nil
}
