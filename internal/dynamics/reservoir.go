package dynamics

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Reservoir models a row of independent water reservoirs. Rain flows in,
// the policy chooses a non-negative outflow for each reservoir, and the step
// reward penalizes the absolute deviation of every level from the target.
type Reservoir struct {
	base
	opts Options
}

// NewReservoir creates the reservoir model.
func NewReservoir(opts Options) *Reservoir {
	if opts.Reservoirs <= 0 {
		opts.Reservoirs = 3
	}
	if opts.RainMean == 0 && opts.RainStd == 0 {
		opts.RainMean = 5
		opts.RainStd = 2
	}
	return &Reservoir{base: newBase(opts.Seed), opts: opts}
}

func (m *Reservoir) StateFluents() []Fluent {
	return []Fluent{{Name: "rlevel", Shape: []int{m.opts.Reservoirs}}}
}

func (m *Reservoir) ActionFluents() []Fluent {
	return []Fluent{{Name: "outflow", Shape: []int{m.opts.Reservoirs}}}
}

func (m *Reservoir) ActionBounds(state []*gorgonia.Node) (map[string]Bounds, error) {
	return map[string]Bounds{
		"outflow": {Lower: gorgonia.NewConstant(0.0)},
	}, nil
}

func (m *Reservoir) Simulate(p Policy, batchSize, horizon int) (*Rollout, error) {
	if err := validateRollout(batchSize, horizon); err != nil {
		return nil, err
	}

	n := m.opts.Reservoirs
	start := make([]float64, n)
	for i := range start {
		start[i] = m.opts.Initial
	}
	initial := m.initial("reservoir", batchSize, n, start, m.opts.InitialStd)
	target := gorgonia.NewConstant(m.opts.Target)

	rain := func(dst []float64) []float64 {
		m.rng.FillNormal(dst, m.opts.RainMean, m.opts.RainStd)
		for i, v := range dst {
			dst[i] = math.Max(v, 0)
		}
		return dst
	}

	step := func(t int, state, action []*gorgonia.Node) ([]*gorgonia.Node, *gorgonia.Node, error) {
		inflow, err := m.newNoise(fmt.Sprintf("reservoir/rain/%d", t), tensor.Shape{batchSize, n}, rain)
		if err != nil {
			return nil, nil, err
		}
		filled, err := gorgonia.Add(state[0], inflow)
		if err != nil {
			return nil, nil, err
		}
		next, err := gorgonia.Sub(filled, action[0])
		if err != nil {
			return nil, nil, err
		}

		diff, err := gorgonia.Sub(next, target)
		if err != nil {
			return nil, nil, err
		}
		dev, err := gorgonia.Abs(diff)
		if err != nil {
			return nil, nil, err
		}
		penalty, err := gorgonia.Sum(dev, 1)
		if err != nil {
			return nil, nil, err
		}
		negPenalty, err := gorgonia.Neg(penalty)
		if err != nil {
			return nil, nil, err
		}
		reward, err := columnReward(negPenalty, batchSize)
		if err != nil {
			return nil, nil, err
		}
		return []*gorgonia.Node{next}, reward, nil
	}

	return unroll(p, []*gorgonia.Node{initial}, batchSize, horizon, step)
}
