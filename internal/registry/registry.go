// Package registry maps variable names to their declarations, resolving
// aliases to a canonical name and sign.
package registry

import (
	"errors"
	"fmt"
	"unique"

	"github.com/san-kum/dynopt/internal/sym"
	"github.com/san-kum/dynopt/internal/timeseries"
)

var (
	ErrNotFound  = errors.New("registry: variable not found")
	ErrDuplicate = errors.New("registry: variable already declared")
	ErrBadAlias  = errors.New("registry: invalid alias")
)

type Kind uint8

const (
	Differentiated Kind = iota + 1
	Algebraic
	Control
	ConstantInput
	Parameter
	Path
	Extra
	Time
	Derivative
	LookupTable
)

func (k Kind) String() string {
	switch k {
	case Differentiated:
		return "differentiated state"
	case Algebraic:
		return "algebraic state"
	case Control:
		return "control"
	case ConstantInput:
		return "constant input"
	case Parameter:
		return "parameter"
	case Path:
		return "path variable"
	case Extra:
		return "extra variable"
	case Time:
		return "time"
	case Derivative:
		return "derivative"
	case LookupTable:
		return "lookup table"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Variable describes one declared quantity. It is not modified after
// declaration.
type Variable struct {
	Name          string
	Kind          Kind
	Symbols       []*sym.Node
	Nominal       []float64
	Discrete      bool
	Interpolation timeseries.Method
	// Index is the position of the variable among those of the same kind.
	Index int
}

func (v *Variable) Width() int { return len(v.Symbols) }

// Symbol returns the first (for scalars, the only) symbol.
func (v *Variable) Symbol() *sym.Node { return v.Symbols[0] }

// ScalarNominal returns the nominal of component 0.
func (v *Variable) ScalarNominal() float64 {
	if len(v.Nominal) == 0 {
		return 1
	}
	return v.Nominal[0]
}

// NominalAt returns the nominal of component k.
func (v *Variable) NominalAt(k int) float64 {
	switch {
	case len(v.Nominal) == 0:
		return 1
	case len(v.Nominal) == 1:
		return v.Nominal[0]
	}
	return v.Nominal[k]
}

type alias struct {
	canonical unique.Handle[string]
	sign      float64
}

// Registry is populated once and then only read.
type Registry struct {
	vars    map[unique.Handle[string]]*Variable
	aliases map[unique.Handle[string]]alias
	byKind  map[Kind][]*Variable
	order   []*Variable
}

func New() *Registry {
	return &Registry{
		vars:    make(map[unique.Handle[string]]*Variable),
		aliases: make(map[unique.Handle[string]]alias),
		byKind:  make(map[Kind][]*Variable),
	}
}

func (r *Registry) Declare(v *Variable) error {
	if len(v.Symbols) == 0 {
		return fmt.Errorf("registry: %s %q has no symbols", v.Kind, v.Name)
	}
	key := unique.Make(v.Name)
	if _, ok := r.vars[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, v.Name)
	}
	if _, ok := r.aliases[key]; ok {
		return fmt.Errorf("%w: %s is an alias", ErrDuplicate, v.Name)
	}
	v.Index = len(r.byKind[v.Kind])
	r.vars[key] = v
	r.byKind[v.Kind] = append(r.byKind[v.Kind], v)
	r.order = append(r.order, v)
	return nil
}

// Alias records that name equals sign times canonical.
func (r *Registry) Alias(name, canonical string, sign float64) error {
	if sign != 1 && sign != -1 {
		return fmt.Errorf("%w: sign of %s must be +1 or -1", ErrBadAlias, name)
	}
	key := unique.Make(name)
	if _, ok := r.vars[key]; ok {
		return fmt.Errorf("%w: %s is declared as a variable", ErrBadAlias, name)
	}
	target, tsign := r.Canonical(canonical)
	if target == name {
		return fmt.Errorf("%w: %s aliases itself", ErrBadAlias, name)
	}
	r.aliases[key] = alias{canonical: unique.Make(target), sign: sign * tsign}
	return nil
}

// Canonical resolves name to its canonical name and sign. Unknown names
// resolve to themselves with sign +1.
func (r *Registry) Canonical(name string) (string, float64) {
	if a, ok := r.aliases[unique.Make(name)]; ok {
		return a.canonical.Value(), a.sign
	}
	return name, 1
}

// Lookup resolves aliases and returns the canonical variable with the sign
// relating it to name.
func (r *Registry) Lookup(name string) (*Variable, float64, bool) {
	key := unique.Make(name)
	sign := 1.0
	if a, ok := r.aliases[key]; ok {
		key, sign = a.canonical, a.sign
	}
	v, ok := r.vars[key]
	return v, sign, ok
}

// Get is like Lookup but reports a missing variable as an error.
func (r *Registry) Get(name string) (*Variable, float64, error) {
	v, sign, ok := r.Lookup(name)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, sign, nil
}

// OfKind returns the variables of kind k in declaration order.
func (r *Registry) OfKind(k Kind) []*Variable {
	return r.byKind[k]
}

// All returns every variable in declaration order.
func (r *Registry) All() []*Variable {
	return r.order
}

// Names returns the names of vars.
func Names(vars []*Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}

// Symbols concatenates the symbols of vars.
func Symbols(vars []*Variable) []*sym.Node {
	var out []*sym.Node
	for _, v := range vars {
		out = append(out, v.Symbols...)
	}
	return out
}
