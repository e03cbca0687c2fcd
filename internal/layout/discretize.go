package layout

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/dynopt/internal/model"
)

// DiscretizeControls reserves one slot per grid time for every control,
// shared identically by all ensemble members. Seeds come from member 0.
func DiscretizeControls(plan *Plan, src Source, log *zap.Logger) (*Block, error) {
	size := 0
	for i := range plan.Controls {
		e := &plan.Controls[i]
		if err := checkScalar(e, "control"); err != nil {
			return nil, err
		}
		size += len(e.Times)
	}

	blk := newBlock(size, plan.EnsembleSize)
	offset := 0
	for i := range plan.Controls {
		e := &plan.Controls[i]
		slot := Slot{Offset: offset, Len: len(e.Times)}
		for m := range blk.Index {
			blk.Index[m][e.Name] = slot
		}
		if err := fill(blk, e, slot, plan.InitialTime, src, 0, log); err != nil {
			return nil, err
		}
		offset += slot.Len
	}
	return blk, nil
}

// DiscretizeStates reserves the per-member state blocks.
func DiscretizeStates(plan *Plan, src Source, log *zap.Logger) (*Block, error) {
	memberSize := 0
	for i := range plan.States {
		e := &plan.States[i]
		if e.Integrated {
			if err := checkScalar(e, "integrated state"); err != nil {
				return nil, err
			}
		}
		memberSize += entrySize(e)
	}
	for i := range plan.Extras {
		memberSize += plan.Extras[i].width()
	}
	memberSize += len(plan.Derivatives)

	blk := newBlock(memberSize*plan.EnsembleSize, plan.EnsembleSize)
	for m := 0; m < plan.EnsembleSize; m++ {
		offset := m * memberSize
		for i := range plan.States {
			e := &plan.States[i]
			slot := Slot{Offset: offset, Len: entrySize(e), Scalar: e.Integrated}
			blk.Index[m][e.Name] = slot
			if err := fill(blk, e, slot, plan.InitialTime, src, m, log); err != nil {
				return nil, err
			}
			offset += slot.Len
		}
		for i := range plan.Extras {
			e := &plan.Extras[i]
			slot := Slot{Offset: offset, Len: e.width()}
			blk.Index[m][e.Name] = slot
			if err := fillExtra(blk, e, slot, src, m, log); err != nil {
				return nil, err
			}
			offset += slot.Len
		}
		for i := range plan.Derivatives {
			d := &plan.Derivatives[i]
			blk.Index[m][d.Key()] = Slot{Offset: offset, Len: 1}
			if seed, ok := src.Seed(m, d.Key()); ok && len(seed.Values) > 0 {
				blk.X0[offset] = seed.Values[0] * d.Dt / d.Nominal
			}
			offset++
		}
	}
	return blk, nil
}

func fill(blk *Block, e *Entry, slot Slot, t0 float64, src Source, member int, log *zap.Logger) error {
	for i := slot.Offset; i < slot.Offset+slot.Len; i++ {
		blk.Discrete[i] = e.Discrete
	}

	if b, ok := src.Bound(e.Name); ok {
		if err := applyBound(blk.LBX, b.Lower, true, e, slot, t0); err != nil {
			return err
		}
		if err := applyBound(blk.UBX, b.Upper, false, e, slot, t0); err != nil {
			return err
		}
	}
	warnNaN(blk, e.Name, slot, log)

	seed, ok := src.Seed(member, e.Name)
	if !ok {
		return nil
	}
	switch {
	case seed.Series != nil:
		var vals []float64
		if slot.Scalar {
			vals = []float64{seed.Series.At(t0, 0, 0, e.Interpolation)}
		} else {
			vals = seed.Series.SampleComponents(e.Times, 0, 0, e.Interpolation)
		}
		if len(vals) != slot.Len {
			return fmt.Errorf("%w: seed for %s has %d values, want %d", model.ErrShapeMismatch, e.Name, len(vals), slot.Len)
		}
		scaleInto(blk.X0[slot.Offset:], vals, e, slot)
	case len(seed.Values) > 0:
		vals, err := broadcast(seed.Values, e, slot)
		if err != nil {
			return fmt.Errorf("seed for %s: %w", e.Name, err)
		}
		scaleInto(blk.X0[slot.Offset:], vals, e, slot)
	}
	return nil
}

func fillExtra(blk *Block, e *Entry, slot Slot, src Source, member int, log *zap.Logger) error {
	for i := slot.Offset; i < slot.Offset+slot.Len; i++ {
		blk.Discrete[i] = e.Discrete
	}
	if b, ok := src.Bound(e.Name); ok {
		for _, side := range []struct {
			v     model.BoundValue
			lower bool
			dst   []float64
		}{{b.Lower, true, blk.LBX}, {b.Upper, false, blk.UBX}} {
			if !side.v.IsSet() {
				continue
			}
			var vals []float64
			switch side.v.Kind {
			case model.BoundScalar:
				vals = []float64{side.v.Scalar}
			case model.BoundVector:
				vals = side.v.Vector
			default:
				return fmt.Errorf("%w: extra variable %s needs scalar or vector bounds", model.ErrUnsupported, e.Name)
			}
			vals, err := broadcast(vals, e, slot)
			if err != nil {
				return fmt.Errorf("bound for %s: %w", e.Name, err)
			}
			scaleInto(side.dst[slot.Offset:], vals, e, slot)
		}
	}
	warnNaN(blk, e.Name, slot, log)
	if seed, ok := src.Seed(member, e.Name); ok && len(seed.Values) > 0 {
		vals, err := broadcast(seed.Values, e, slot)
		if err != nil {
			return fmt.Errorf("seed for %s: %w", e.Name, err)
		}
		scaleInto(blk.X0[slot.Offset:], vals, e, slot)
	}
	return nil
}

func applyBound(dst []float64, v model.BoundValue, lower bool, e *Entry, slot Slot, t0 float64) error {
	var vals []float64
	switch v.Kind {
	case model.Unbounded:
		return nil
	case model.BoundScalar:
		vals = []float64{v.Scalar}
	case model.BoundVector:
		vals = v.Vector
	case model.BoundSeries:
		fillValue := model.Fill(lower)
		if slot.Scalar {
			vals = []float64{v.Series.At(t0, fillValue, fillValue, e.Interpolation)}
		} else {
			vals = v.Series.SampleComponents(e.Times, fillValue, fillValue, e.Interpolation)
		}
	default:
		return fmt.Errorf("%w: symbolic bound on variable %s", model.ErrUnsupported, e.Name)
	}
	vals, err := broadcast(vals, e, slot)
	if err != nil {
		return fmt.Errorf("bound for %s: %w", e.Name, err)
	}
	scaleInto(dst[slot.Offset:], vals, e, slot)
	return nil
}

// broadcast expands vals to the slot length. Accepted lengths are one, one
// per component, one per time (scalars) and the full slot length.
func broadcast(vals []float64, e *Entry, slot Slot) ([]float64, error) {
	w := e.width()
	n := slot.Len / w
	switch {
	case len(vals) == slot.Len:
		return vals, nil
	case len(vals) == 1:
		out := make([]float64, slot.Len)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	case len(vals) == w:
		out := make([]float64, 0, slot.Len)
		for k := 0; k < w; k++ {
			for i := 0; i < n; i++ {
				out = append(out, vals[k])
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d values for %d slots", model.ErrShapeMismatch, len(vals), slot.Len)
}

// scaleInto divides component-major physical values by the nominals.
func scaleInto(dst, vals []float64, e *Entry, slot Slot) {
	n := slot.Len / e.width()
	for i, v := range vals {
		dst[i] = v / e.nominal(i/n)
	}
}

func warnNaN(blk *Block, name string, slot Slot, log *zap.Logger) {
	if floats.HasNaN(blk.LBX[slot.Offset : slot.Offset+slot.Len]) {
		log.Error("lower bound contains NaN", zap.String("variable", name))
	}
	if floats.HasNaN(blk.UBX[slot.Offset : slot.Offset+slot.Len]) {
		log.Error("upper bound contains NaN", zap.String("variable", name))
	}
}
