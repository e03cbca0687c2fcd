// Package experiment runs a configured problem end to end: build,
// transcribe, solve, extract and summarize.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/metrics"
	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/problems"
	"github.com/san-kum/dynopt/internal/registry"
	"github.com/san-kum/dynopt/internal/transcribe"
)

// Member is the solution of one ensemble member.
type Member struct {
	Probability float64 `json:"probability"`
	// States holds the differentiated and algebraic states on the
	// collocation grid.
	States map[string][]float64 `json:"states"`
	// Series holds the remaining gridded results: path variables and
	// constant inputs.
	Series map[string][]float64 `json:"series,omitempty"`
	// Extra holds extra variables and initial derivatives.
	Extra   map[string][]float64 `json:"extra,omitempty"`
	Metrics map[string]float64   `json:"metrics"`
}

type Result struct {
	Problem     string               `json:"problem"`
	Times       []float64            `json:"times"`
	Objective   float64              `json:"objective"`
	Violation   float64              `json:"violation"`
	Iterations  int                  `json:"iterations"`
	Converged   bool                 `json:"converged"`
	Variables   int                  `json:"variables"`
	Constraints int                  `json:"constraints"`
	Elapsed     time.Duration        `json:"elapsed"`
	Controls    map[string][]float64 `json:"controls"`
	Members     []*Member            `json:"members"`
	// Metrics are the probability-weighted member metrics plus the
	// solver's constraint violation.
	Metrics map[string]float64 `json:"metrics"`
}

type Experiment struct {
	cfg     *config.Config
	reg     *Registry
	log     *zap.Logger
	solver  nlp.Solver
	metrics func() []metrics.Metric
}

func New(cfg *config.Config, reg *Registry, log *zap.Logger) *Experiment {
	if log == nil {
		log = zap.NewNop()
	}
	return &Experiment{
		cfg:     cfg,
		reg:     reg,
		log:     log,
		solver:  nlp.NewAugmentedLagrangian(cfg.Solver, log.Named("solver")),
		metrics: metrics.Defaults,
	}
}

// WithSolver replaces the augmented Lagrangian solver.
func (e *Experiment) WithSolver(s nlp.Solver) *Experiment {
	e.solver = s
	return e
}

func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	build, err := e.reg.GetProblem(e.cfg.Problem)
	if err != nil {
		return nil, err
	}
	c, err := build(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", e.cfg.Problem, err)
	}
	log := e.log.With(zap.String("problem", c.Name))
	p, err := c.New(e.cfg.TranscribeOptions(), log.Named("transcribe"))
	if err != nil {
		return nil, err
	}
	prob, err := p.Transcribe()
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", c.Name, err)
	}

	sol, err := e.solver.Solve(ctx, prob)
	if err != nil {
		return nil, fmt.Errorf("solve %s: %w", c.Name, err)
	}
	if !sol.Converged {
		log.Warn("solver did not converge", zap.Float64("violation", sol.Violation))
	}

	res := &Result{
		Problem:     e.cfg.Problem,
		Times:       p.Context().Times(),
		Objective:   sol.F,
		Violation:   sol.Violation,
		Iterations:  sol.Iterations,
		Converged:   sol.Converged,
		Variables:   len(prob.X),
		Constraints: len(prob.G),
		Metrics:     map[string]float64{"violation": sol.Violation},
	}
	if res.Controls, err = p.ExtractControls(sol.X); err != nil {
		return nil, err
	}
	for m := 0; m < c.Data.EnsembleSize(); m++ {
		member, err := e.member(c, p, sol.X, m, res)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", m, err)
		}
		res.Members = append(res.Members, member)
		for name, v := range member.Metrics {
			res.Metrics[name] += member.Probability * v
		}
	}
	res.Elapsed = time.Since(start)
	log.Info("run complete",
		zap.Float64("objective", res.Objective),
		zap.Bool("converged", res.Converged),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (e *Experiment) member(c *problems.Case, p *transcribe.Problem, x []float64, m int, res *Result) (*Member, error) {
	r, err := p.ExtractResults(x, m)
	if err != nil {
		return nil, err
	}
	ctx := p.Context()
	out := &Member{
		Probability: ctx.Data().Probability(m),
		States:      make(map[string][]float64),
		Series:      make(map[string][]float64),
		Extra:       make(map[string][]float64),
	}
	for _, name := range r.Names() {
		if _, isControl := res.Controls[name]; isControl {
			continue
		}
		v := r.Values[name]
		if _, gridded := r.Grids[name]; !gridded || len(v) != len(res.Times) {
			out.Extra[name] = v
			continue
		}
		kind := registry.Kind(0)
		if variable, _, ok := ctx.Registry().Lookup(name); ok {
			kind = variable.Kind
		}
		switch kind {
		case registry.Differentiated, registry.Algebraic:
			out.States[name] = v
		default:
			out.Series[name] = v
		}
	}
	out.Metrics = metrics.Evaluate(&metrics.Trajectory{
		Times:    res.Times,
		States:   out.States,
		Controls: res.Controls,
	}, e.metrics())

	replayed, err := replay(c, m, res.Times, res.Controls, out.States)
	switch {
	case errors.Is(err, model.ErrUnsupported):
		e.log.Debug("skipping replay", zap.Error(err))
	case err != nil:
		e.log.Warn("replay failed", zap.Int("member", m), zap.Error(err))
	default:
		out.Metrics["replay_error"] = replayError(out.States, replayed)
	}
	return out, nil
}
