// Package layout assigns every free variable of a discretized problem a
// contiguous slice of the flat decision vector and fills in its bounds and
// initial guess.
//
// The vector is laid out as
//
//	[controls][member 0 states][member 1 states]...
//
// Controls are shared by all members. Each member block holds, in order,
// the differentiated, algebraic and path variables (one slot per grid time,
// or a single initial-value slot for integrated variables), then the extra
// variables, then one slot per differentiated state for its initial
// derivative.
package layout

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/model"
	"github.com/san-kum/dynopt/internal/timeseries"
)

// Entry describes one variable to lay out.
type Entry struct {
	Name       string
	Times      []float64
	Width      int
	Integrated bool
	// Nominal holds one value, or one per component.
	Nominal       []float64
	Discrete      bool
	Interpolation timeseries.Method
}

func (e *Entry) width() int {
	if e.Width < 1 {
		return 1
	}
	return e.Width
}

func (e *Entry) nominal(k int) float64 {
	switch {
	case len(e.Nominal) == 0:
		return 1
	case len(e.Nominal) == 1:
		return e.Nominal[0]
	}
	return e.Nominal[k]
}

// DerivativeEntry describes the initial-derivative slot of a differentiated
// state. The slot stores the derivative times Dt divided by the nominal.
type DerivativeEntry struct {
	Name    string
	State   string
	Nominal float64
	Dt      float64
}

// Key is the index and seed name of the slot.
func (d *DerivativeEntry) Key() string { return "initial_" + d.Name }

// Plan lists what to lay out.
type Plan struct {
	InitialTime  float64
	EnsembleSize int
	Controls     []Entry
	States       []Entry
	Extras       []Entry
	Derivatives  []DerivativeEntry
}

// Source supplies bounds and seeds.
type Source interface {
	Bound(name string) (model.Bound, bool)
	Seed(member int, name string) (model.SeedValue, bool)
}

// Slot locates a variable in the decision vector. Scalar marks the single
// initial-value slot of an integrated variable.
type Slot struct {
	Offset int
	Len    int
	Scalar bool
}

func (s Slot) Indices() []int {
	out := make([]int, s.Len)
	for i := range out {
		out[i] = s.Offset + i
	}
	return out
}

func (s Slot) shift(by int) Slot {
	s.Offset += by
	return s
}

// Block is one discretized section of the decision vector.
type Block struct {
	Size     int
	Discrete []bool
	LBX      []float64
	UBX      []float64
	X0       []float64
	// Index holds one name-to-slot map per ensemble member.
	Index []map[string]Slot
}

func newBlock(size, members int) *Block {
	b := &Block{
		Size:     size,
		Discrete: make([]bool, size),
		LBX:      make([]float64, size),
		UBX:      make([]float64, size),
		X0:       make([]float64, size),
		Index:    make([]map[string]Slot, members),
	}
	for i := range b.LBX {
		b.LBX[i] = math.Inf(-1)
		b.UBX[i] = math.Inf(1)
	}
	for m := range b.Index {
		b.Index[m] = make(map[string]Slot)
	}
	return b
}

func entrySize(e *Entry) int {
	if e.Integrated {
		return 1
	}
	return len(e.Times) * e.width()
}

func checkScalar(e *Entry, what string) error {
	if e.width() > 1 {
		return fmt.Errorf("%w: vector symbol not supported for %s %q", model.ErrUnsupported, what, e.Name)
	}
	return nil
}
