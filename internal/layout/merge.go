package layout

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/registry"
)

// Layout is the complete decision-vector layout.
type Layout struct {
	ControlSize int
	StateSize   int
	MemberSize  int
	Members     int

	Discrete []bool
	LBX      []float64
	UBX      []float64
	X0       []float64

	// Index maps names to absolute slots, per member.
	Index []map[string]Slot

	scales map[string][]float64
}

// Merge concatenates the control and state blocks, shifting state slots
// past the controls.
func Merge(plan *Plan, controls, states *Block) *Layout {
	l := &Layout{
		ControlSize: controls.Size,
		StateSize:   states.Size,
		Members:     plan.EnsembleSize,
		Index:       make([]map[string]Slot, plan.EnsembleSize),
		scales:      make(map[string][]float64),
	}
	if plan.EnsembleSize > 0 {
		l.MemberSize = states.Size / plan.EnsembleSize
	}
	l.Discrete = append(append([]bool{}, controls.Discrete...), states.Discrete...)
	l.LBX = append(append([]float64{}, controls.LBX...), states.LBX...)
	l.UBX = append(append([]float64{}, controls.UBX...), states.UBX...)
	l.X0 = append(append([]float64{}, controls.X0...), states.X0...)

	for m := 0; m < plan.EnsembleSize; m++ {
		idx := make(map[string]Slot, len(controls.Index[m])+len(states.Index[m]))
		for k, s := range controls.Index[m] {
			idx[k] = s
		}
		for k, s := range states.Index[m] {
			idx[k] = s.shift(controls.Size)
		}
		l.Index[m] = idx
	}

	for _, group := range [][]Entry{plan.Controls, plan.States, plan.Extras} {
		for i := range group {
			e := &group[i]
			sc := make([]float64, e.width())
			for k := range sc {
				sc[k] = e.nominal(k)
			}
			l.scales[e.Name] = sc
		}
	}
	for i := range plan.Derivatives {
		d := &plan.Derivatives[i]
		l.scales[d.Key()] = []float64{d.Nominal / d.Dt}
	}
	return l
}

func (l *Layout) Size() int { return l.ControlSize + l.StateSize }

// DerivativeOffset is the absolute offset of the first initial-derivative
// slot of a member.
func (l *Layout) DerivativeOffset(member, derivatives int) int {
	return l.ControlSize + (member+1)*l.MemberSize - derivatives
}

// Slot returns the slot of a variable of a member. Members outside the
// layout have no slots.
func (l *Layout) Slot(member int, name string) (Slot, bool) {
	if member < 0 || member >= len(l.Index) {
		return Slot{}, false
	}
	s, ok := l.Index[member][name]
	return s, ok
}

func (l *Layout) slotAndScale(member int, name string) (Slot, []float64, error) {
	s, ok := l.Slot(member, name)
	if !ok {
		return Slot{}, nil, fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	return s, l.scales[name], nil
}

// Decode returns the physical values of a variable from a scaled vector.
func (l *Layout) Decode(x []float64, member int, name string) ([]float64, error) {
	s, sc, err := l.slotAndScale(member, name)
	if err != nil {
		return nil, err
	}
	n := s.Len / len(sc)
	out := make([]float64, s.Len)
	for i := range out {
		out[i] = x[s.Offset+i] * sc[i/n]
	}
	return out, nil
}

// Embed writes physical values of a variable into a scaled vector.
func (l *Layout) Embed(x []float64, member int, name string, physical []float64) error {
	s, sc, err := l.slotAndScale(member, name)
	if err != nil {
		return err
	}
	if len(physical) != s.Len {
		return fmt.Errorf("embed %s: %d values for %d slots", name, len(physical), s.Len)
	}
	n := s.Len / len(sc)
	for i, v := range physical {
		x[s.Offset+i] = v / sc[i/n]
	}
	return nil
}

// Coverage counts how many slots of member's state block each index of the
// full vector belongs to. A well-formed layout yields exactly one per index.
func (l *Layout) Coverage(member int) []int {
	cover := make([]int, l.MemberSize)
	base := l.ControlSize + member*l.MemberSize
	for _, s := range l.Index[member] {
		if s.Offset < l.ControlSize {
			continue
		}
		for i := s.Offset; i < s.Offset+s.Len; i++ {
			cover[i-base]++
		}
	}
	return cover
}
