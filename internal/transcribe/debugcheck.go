package transcribe

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/nlp"
)

// jacobianZero treats smaller finite-difference entries as structural zeros.
const jacobianZero = 1e-12

// JacobianEntry is one flagged coefficient.
type JacobianEntry struct {
	Row, Column int
	Value       float64
	Block       string
}

// JacobianReport lists the coefficients of the constraint Jacobian at the
// initial guess that are out of range, and the columns whose nonzero
// coefficients span too many orders of magnitude.
type JacobianReport struct {
	Entries []JacobianEntry
	Columns []int
}

// CheckJacobian evaluates the constraint Jacobian at X0 by finite
// differences and reports poorly scaled coefficients.
func CheckJacobian(p *nlp.Problem, opts JacobianCheck, log *zap.Logger) (*JacobianReport, error) {
	report := &JacobianReport{}
	n, m := len(p.X), len(p.G)
	if n == 0 || m == 0 {
		return report, nil
	}
	ev, err := p.Compile()
	if err != nil {
		return nil, err
	}
	var evalErr error
	g := func(y, x []float64) {
		if _, err := ev.Eval(x, y); err != nil && evalErr == nil {
			evalErr = err
		}
	}
	jac := mat.NewDense(m, n, nil)
	fd.Jacobian(jac, g, p.X0, &fd.JacobianSettings{Formula: fd.Central})
	if evalErr != nil {
		return nil, evalErr
	}

	blockOf := func(row int) string {
		for _, b := range p.Blocks {
			if row >= b.Offset && row < b.Offset+b.Len {
				return b.Name
			}
		}
		return ""
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			v := math.Abs(jac.At(i, j))
			if v < jacobianZero || (v <= opts.MaxAbs && v >= opts.MinAbs) {
				continue
			}
			e := JacobianEntry{Row: i, Column: j, Value: jac.At(i, j), Block: blockOf(i)}
			report.Entries = append(report.Entries, e)
			log.Info("Exceedence in jacobian of constraints evaluated at x0",
				zap.Int("row", i), zap.Int("column", j), zap.Float64("value", e.Value),
				zap.String("block", e.Block),
				zap.Float64("max", opts.MaxAbs), zap.Float64("min", opts.MinAbs))
		}
	}

	for j := 0; j < n; j++ {
		lo, hi := math.Inf(1), 0.0
		for i := 0; i < m; i++ {
			v := math.Abs(jac.At(i, j))
			if v < jacobianZero {
				continue
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		if hi == 0 || hi/lo <= opts.MaxRatio {
			continue
		}
		report.Columns = append(report.Columns, j)
		log.Info("Exceedence in range per column",
			zap.Int("column", j), zap.Float64("min", lo), zap.Float64("max", hi),
			zap.Float64("max_ratio", opts.MaxRatio))
	}
	return report, nil
}
