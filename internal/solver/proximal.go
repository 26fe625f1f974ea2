package solver

import (
	"math"

	"gorgonia.org/gorgonia"
)

// shrink applies the proximal operator of lr*(l1*|w| + l2*w²/2) to v.
func shrink(v, lr, l1, l2 float64) float64 {
	mag := math.Max(math.Abs(v)-lr*l1, 0)
	if v < 0 {
		mag = -mag
	}
	return mag / (1 + lr*l2)
}

// ProximalGDSolver is gradient descent followed by an L1/L2 proximal step.
type ProximalGDSolver struct {
	lr, l1, l2 float64
}

func NewProximalGD(lr, l1, l2 float64) *ProximalGDSolver {
	return &ProximalGDSolver{lr: lr, l1: l1, l2: l2}
}

func (s *ProximalGDSolver) Step(model []gorgonia.ValueGrad) error {
	for _, vg := range model {
		w, g, err := slices(vg)
		if err != nil {
			return err
		}
		for j := range w {
			w[j] = shrink(w[j]-s.lr*g[j], s.lr, s.l1, s.l2)
		}
		clear(g)
	}
	return nil
}

// ProximalAdagradSolver scales the proximal step by the Adagrad rate.
type ProximalAdagradSolver struct {
	lr, l1, l2   float64
	initialAccum float64
	accum        state
}

func NewProximalAdagrad(lr, l1, l2 float64) *ProximalAdagradSolver {
	return &ProximalAdagradSolver{lr: lr, l1: l1, l2: l2, initialAccum: 0.1}
}

func (s *ProximalAdagradSolver) Step(model []gorgonia.ValueGrad) error {
	for i, vg := range model {
		w, g, err := slices(vg)
		if err != nil {
			return err
		}
		accum := s.accum.get(i, len(w), s.initialAccum)
		for j := range w {
			accum[j] += g[j] * g[j]
			lr := s.lr / math.Sqrt(accum[j])
			w[j] = shrink(w[j]-lr*g[j], lr, s.l1, s.l2)
		}
		clear(g)
	}
	return nil
}
