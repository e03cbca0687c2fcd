package registry

import (
	"errors"
	"testing"

	"github.com/san-kum/dynopt/internal/sym"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	b := sym.NewBuilder()
	r := New()
	for _, v := range []*Variable{
		{Name: "x", Kind: Differentiated, Symbols: []*sym.Node{b.Symbol("x")}, Nominal: []float64{10}},
		{Name: "y", Kind: Algebraic, Symbols: []*sym.Node{b.Symbol("y")}},
		{Name: "u", Kind: Control, Symbols: []*sym.Node{b.Symbol("u")}},
		{Name: "q", Kind: Path, Symbols: b.Symbols("q", 2)},
	} {
		if err := r.Declare(v); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestCanonical(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Alias("x_alias", "x", -1); err != nil {
		t.Fatal(err)
	}
	if err := r.Alias("x_alias_alias", "x_alias", -1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		canonical string
		sign      float64
	}{
		{"x", "x", 1},
		{"x_alias", "x", -1},
		{"x_alias_alias", "x", 1},
		{"unknown", "unknown", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s := r.Canonical(tt.name)
			if c != tt.canonical || s != tt.sign {
				t.Errorf("got (%s, %v), want (%s, %v)", c, s, tt.canonical, tt.sign)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Alias("minus_u", "u", -1); err != nil {
		t.Fatal(err)
	}

	v, sign, ok := r.Lookup("minus_u")
	if !ok || v.Name != "u" || sign != -1 {
		t.Errorf("got (%v, %v, %v), want (u, -1, true)", v, sign, ok)
	}
	if v.Kind != Control {
		t.Errorf("got kind %v, want control", v.Kind)
	}

	if _, _, ok := r.Lookup("nope"); ok {
		t.Error("expected lookup of unknown name to fail")
	}
	if _, _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDeclareDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	b := sym.NewBuilder()
	err := r.Declare(&Variable{Name: "x", Kind: Algebraic, Symbols: []*sym.Node{b.Symbol("x")}})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("got %v, want ErrDuplicate", err)
	}
}

func TestAliasValidation(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Alias("y", "x", 1); !errors.Is(err, ErrBadAlias) {
		t.Errorf("aliasing a declared variable: got %v, want ErrBadAlias", err)
	}
	if err := r.Alias("z", "x", 2); !errors.Is(err, ErrBadAlias) {
		t.Errorf("bad sign: got %v, want ErrBadAlias", err)
	}
}

func TestKindsAndNominals(t *testing.T) {
	r := newTestRegistry(t)
	if got := len(r.OfKind(Differentiated)); got != 1 {
		t.Errorf("got %d differentiated states, want 1", got)
	}
	q, _, _ := r.Lookup("q")
	if q.Width() != 2 {
		t.Errorf("got width %d, want 2", q.Width())
	}
	if q.NominalAt(1) != 1 {
		t.Errorf("got default nominal %v, want 1", q.NominalAt(1))
	}
	x, _, _ := r.Lookup("x")
	if x.ScalarNominal() != 10 {
		t.Errorf("got nominal %v, want 10", x.ScalarNominal())
	}
	if got := Names(r.All()); len(got) != 4 || got[3] != "q" {
		t.Errorf("got names %v", got)
	}
}
