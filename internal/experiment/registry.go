package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/problems"
)

// EnsembleMembers is the smallest ensemble used by the ensemble problem.
const EnsembleMembers = 3

type Registry struct {
	problems map[string]problems.Builder
}

func NewRegistry() *Registry {
	r := &Registry{
		problems: make(map[string]problems.Builder),
	}

	r.problems["integrator"] = problems.Integrator
	r.problems["spring_mass"] = problems.SpringMass
	r.problems["pendulum"] = problems.Pendulum
	r.problems["reservoir"] = problems.Reservoir
	r.problems["delay"] = problems.Channel
	r.problems["ensemble"] = func(cfg *config.Config) (*problems.Case, error) {
		if cfg.Members < EnsembleMembers {
			cfg = cfg.Clone()
			cfg.Members = EnsembleMembers
		}
		c, err := problems.Reservoir(cfg)
		if err != nil {
			return nil, err
		}
		c.Name = "ensemble"
		return c, nil
	}

	return r
}

// Register adds or replaces a problem.
func (r *Registry) Register(name string, b problems.Builder) {
	r.problems[name] = b
}

func (r *Registry) GetProblem(name string) (problems.Builder, error) {
	fn, ok := r.problems[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem: %s", name)
	}
	return fn, nil
}

func (r *Registry) ListProblems() []string {
	names := make([]string, 0, len(r.problems))
	for name := range r.problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
