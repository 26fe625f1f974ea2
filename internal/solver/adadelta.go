package solver

import (
	"math"

	"gorgonia.org/gorgonia"
)

// AdadeltaSolver implements Zeiler's Adadelta with an outer learning rate.
type AdadeltaSolver struct {
	lr, rho, eps float64
	accum        state
	accumUpdate  state
}

// NewAdadelta creates an Adadelta solver with rho 0.95 and epsilon 1e-8.
func NewAdadelta(lr float64) *AdadeltaSolver {
	return &AdadeltaSolver{lr: lr, rho: 0.95, eps: 1e-8}
}

func (s *AdadeltaSolver) Step(model []gorgonia.ValueGrad) error {
	for i, vg := range model {
		w, g, err := slices(vg)
		if err != nil {
			return err
		}
		accum := s.accum.get(i, len(w), 0)
		accumUpdate := s.accumUpdate.get(i, len(w), 0)
		for j := range w {
			accum[j] = s.rho*accum[j] + (1-s.rho)*g[j]*g[j]
			update := math.Sqrt(accumUpdate[j]+s.eps) / math.Sqrt(accum[j]+s.eps) * g[j]
			accumUpdate[j] = s.rho*accumUpdate[j] + (1-s.rho)*update*update
			w[j] -= s.lr * update
		}
		clear(g)
	}
	return nil
}
