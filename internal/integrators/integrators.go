// Package integrators advances ordinary differential equations with
// explicit fixed-step schemes. It is used to replay optimized controls
// through a model independently of the collocation scheme.
package integrators

import "fmt"

// System gives the state derivative at (x, t). Inputs such as controls
// are resolved by the system itself.
type System interface {
	Derivative(x []float64, t float64) ([]float64, error)
}

type Stepper interface {
	Step(sys System, x []float64, t, dt float64) ([]float64, error)
}

// Integrate returns the state at every time, taking substeps equal steps
// across each interval. The first row is a copy of x0.
func Integrate(sys System, st Stepper, x0, times []float64, substeps int) ([][]float64, error) {
	if substeps < 1 {
		substeps = 1
	}
	out := make([][]float64, len(times))
	if len(times) == 0 {
		return out, nil
	}
	x := append([]float64(nil), x0...)
	out[0] = append([]float64(nil), x...)
	for i := 1; i < len(times); i++ {
		dt := (times[i] - times[i-1]) / float64(substeps)
		t := times[i-1]
		for k := 0; k < substeps; k++ {
			next, err := st.Step(sys, x, t, dt)
			if err != nil {
				return nil, fmt.Errorf("step at t=%g: %w", t, err)
			}
			x = next
			t += dt
		}
		out[i] = append([]float64(nil), x...)
	}
	return out, nil
}
