package dynamics

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const navigationEps = 1e-6

// Navigation moves an agent on a plane towards a goal. Each move component
// is bounded by [-MaxStep, MaxStep] and the step reward is the negative
// Euclidean distance to the goal after the move.
type Navigation struct {
	base
	opts Options
}

// NewNavigation creates the navigation model.
func NewNavigation(opts Options) *Navigation {
	if len(opts.Goal) != 2 {
		opts.Goal = []float64{8, 8}
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = 1
	}
	return &Navigation{base: newBase(opts.Seed), opts: opts}
}

func (m *Navigation) StateFluents() []Fluent {
	return []Fluent{{Name: "location", Shape: []int{2}}}
}

func (m *Navigation) ActionFluents() []Fluent {
	return []Fluent{{Name: "move", Shape: []int{2}}}
}

func (m *Navigation) ActionBounds(state []*gorgonia.Node) (map[string]Bounds, error) {
	return map[string]Bounds{
		"move": {
			Lower: gorgonia.NewConstant(-m.opts.MaxStep),
			Upper: gorgonia.NewConstant(m.opts.MaxStep),
		},
	}, nil
}

func (m *Navigation) Simulate(p Policy, batchSize, horizon int) (*Rollout, error) {
	if err := validateRollout(batchSize, horizon); err != nil {
		return nil, err
	}

	start := []float64{m.opts.Initial, m.opts.Initial}
	initial := m.initial("navigation", batchSize, 2, start, m.opts.InitialStd)
	goal := m.fixed("navigation/goal", tensor.Shape{1, 2}, []float64{m.opts.Goal[0], m.opts.Goal[1]})
	eps := gorgonia.NewConstant(navigationEps)

	step := func(t int, state, action []*gorgonia.Node) ([]*gorgonia.Node, *gorgonia.Node, error) {
		next, err := gorgonia.Add(state[0], action[0])
		if err != nil {
			return nil, nil, err
		}
		if m.opts.NoiseStd > 0 {
			noise, err := m.newNoise(fmt.Sprintf("navigation/noise/%d", t), tensor.Shape{batchSize, 2}, func(dst []float64) []float64 {
				return m.rng.FillNormal(dst, 0, m.opts.NoiseStd)
			})
			if err != nil {
				return nil, nil, err
			}
			if next, err = gorgonia.Add(next, noise); err != nil {
				return nil, nil, err
			}
		}

		delta, err := gorgonia.BroadcastSub(next, goal, nil, []byte{0})
		if err != nil {
			return nil, nil, err
		}
		sq, err := gorgonia.Square(delta)
		if err != nil {
			return nil, nil, err
		}
		sqDist, err := gorgonia.Sum(sq, 1)
		if err != nil {
			return nil, nil, err
		}
		// eps keeps the gradient of the square root finite at the goal
		if sqDist, err = gorgonia.Add(sqDist, eps); err != nil {
			return nil, nil, err
		}
		dist, err := gorgonia.Sqrt(sqDist)
		if err != nil {
			return nil, nil, err
		}
		negDist, err := gorgonia.Neg(dist)
		if err != nil {
			return nil, nil, err
		}
		reward, err := columnReward(negDist, batchSize)
		if err != nil {
			return nil, nil, err
		}
		return []*gorgonia.Node{next}, reward, nil
	}

	return unroll(p, []*gorgonia.Node{initial}, batchSize, horizon, step)
}
