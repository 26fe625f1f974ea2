package dynamics

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Linear is a one-dimensional integrator: x' = x + u + noise, rewarded by
// the squared distance to a target. Its single action is unbounded.
type Linear struct {
	base
	opts Options
}

// NewLinear creates the integrator model.
func NewLinear(opts Options) *Linear {
	return &Linear{base: newBase(opts.Seed), opts: opts}
}

func (m *Linear) StateFluents() []Fluent {
	return []Fluent{{Name: "x", Shape: []int{1}}}
}

func (m *Linear) ActionFluents() []Fluent {
	return []Fluent{{Name: "u", Shape: []int{1}}}
}

func (m *Linear) ActionBounds(state []*gorgonia.Node) (map[string]Bounds, error) {
	return map[string]Bounds{"u": {}}, nil
}

func (m *Linear) Simulate(p Policy, batchSize, horizon int) (*Rollout, error) {
	if err := validateRollout(batchSize, horizon); err != nil {
		return nil, err
	}

	initial := m.initial("linear", batchSize, 1, []float64{m.opts.Initial}, m.opts.InitialStd)
	target := gorgonia.NewConstant(m.opts.Target)

	step := func(t int, state, action []*gorgonia.Node) ([]*gorgonia.Node, *gorgonia.Node, error) {
		next, err := gorgonia.Add(state[0], action[0])
		if err != nil {
			return nil, nil, err
		}
		if m.opts.NoiseStd > 0 {
			noise, err := m.newNoise(fmt.Sprintf("linear/noise/%d", t), tensor.Shape{batchSize, 1}, func(dst []float64) []float64 {
				return m.rng.FillNormal(dst, 0, m.opts.NoiseStd)
			})
			if err != nil {
				return nil, nil, err
			}
			if next, err = gorgonia.Add(next, noise); err != nil {
				return nil, nil, err
			}
		}

		diff, err := gorgonia.Sub(next, target)
		if err != nil {
			return nil, nil, err
		}
		sq, err := gorgonia.Square(diff)
		if err != nil {
			return nil, nil, err
		}
		reward, err := gorgonia.Neg(sq)
		if err != nil {
			return nil, nil, err
		}
		return []*gorgonia.Node{next}, reward, nil
	}

	return unroll(p, []*gorgonia.Node{initial}, batchSize, horizon, step)
}
