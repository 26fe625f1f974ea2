package dynamics

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/utils"
)

// transition advances the state by one step given the policy's action and
// returns the next state together with the step reward of shape (batch, 1).
type transition func(t int, state, action []*gorgonia.Node) (next []*gorgonia.Node, reward *gorgonia.Node, err error)

// noiseInput is an input node refilled with fresh samples on every Resample.
type noiseInput struct {
	node  *gorgonia.Node
	shape tensor.Shape
	draw  func(dst []float64) []float64
}

func (n *noiseInput) fill() error {
	data := n.draw(make([]float64, n.shape.TotalSize()))
	value := tensor.New(tensor.WithShape(n.shape...), tensor.WithBacking(data))
	return gorgonia.Let(n.node, value)
}

// base carries the graph, the random source and the registered noise
// inputs shared by every model in this package.
type base struct {
	g      *gorgonia.ExprGraph
	rng    *utils.RandSource
	noise  []*noiseInput
	inputs int
}

func newBase(seed int64) base {
	return base{
		g:   gorgonia.NewGraph(),
		rng: utils.NewRandSource(seed),
	}
}

// Graph returns the expression graph the model and the policy build on.
func (b *base) Graph() *gorgonia.ExprGraph {
	return b.g
}

// Resample draws fresh values for every noise input.
func (b *base) Resample() error {
	for _, n := range b.noise {
		if err := n.fill(); err != nil {
			return fmt.Errorf("resample %s: %w", n.node.Name(), err)
		}
	}
	return nil
}

// newNoise registers an input matrix whose values come from draw. It is
// filled immediately so the graph can run without an explicit Resample.
func (b *base) newNoise(name string, shape tensor.Shape, draw func([]float64) []float64) (*gorgonia.Node, error) {
	name = fmt.Sprintf("%s#%d", name, len(b.noise))
	node := gorgonia.NewMatrix(b.g, tensor.Float64, gorgonia.WithShape(shape...), gorgonia.WithName(name))
	in := &noiseInput{node: node, shape: shape, draw: draw}
	if err := in.fill(); err != nil {
		return nil, fmt.Errorf("fill %s: %w", name, err)
	}
	b.noise = append(b.noise, in)
	return node, nil
}

// initial builds a (batch, width) input node on the graph whose rows are
// drawn around mean with the given spread. The value is fixed for the
// lifetime of the rollout.
func (b *base) initial(name string, batch, width int, mean []float64, spread float64) *gorgonia.Node {
	data := make([]float64, batch*width)
	for i := 0; i < batch; i++ {
		for j := 0; j < width; j++ {
			v := mean[j]
			if spread > 0 {
				v = b.rng.NormFloat64(v, spread)
			}
			data[i*width+j] = v
		}
	}
	b.inputs++
	value := tensor.New(tensor.WithShape(batch, width), tensor.WithBacking(data))
	return gorgonia.NewMatrix(b.g, tensor.Float64, gorgonia.WithShape(batch, width),
		gorgonia.WithName(fmt.Sprintf("%s/initial/%d", name, b.inputs)), gorgonia.WithValue(value))
}

// fixed builds an input node on the graph holding data. Unlike a graph-less
// constant it can take part in broadcasting ops.
func (b *base) fixed(name string, shape tensor.Shape, data []float64) *gorgonia.Node {
	b.inputs++
	value := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return gorgonia.NewTensor(b.g, tensor.Float64, shape.Dims(), gorgonia.WithShape(shape...),
		gorgonia.WithName(fmt.Sprintf("%s/%d", name, b.inputs)), gorgonia.WithValue(value))
}

func validateRollout(batchSize, horizon int) error {
	if batchSize <= 0 {
		return &models.ConfigurationError{Field: "batch_size", Value: fmt.Sprint(batchSize), Reason: "must be positive"}
	}
	if horizon <= 0 {
		return &models.ConfigurationError{Field: "horizon", Value: fmt.Sprint(horizon), Reason: "must be positive"}
	}
	return nil
}

// unroll drives the policy through horizon transitions and stacks the step
// rewards into a rollout.
func unroll(p Policy, initial []*gorgonia.Node, batchSize, horizon int, step transition) (*Rollout, error) {
	if p == nil {
		return nil, fmt.Errorf("policy is required")
	}

	state := initial
	rewards := make([]*gorgonia.Node, 0, horizon)
	for t := 0; t < horizon; t++ {
		action, err := p.Evaluate(state, gorgonia.NewConstant(float64(t)))
		if err != nil {
			return nil, fmt.Errorf("step %d: policy: %w", t, err)
		}
		next, reward, err := step(t, state, action)
		if err != nil {
			return nil, fmt.Errorf("step %d: transition: %w", t, err)
		}
		rewards = append(rewards, reward)
		state = next
	}

	stacked := rewards[0]
	if len(rewards) > 1 {
		var err error
		if stacked, err = gorgonia.Concat(1, rewards...); err != nil {
			return nil, fmt.Errorf("stack rewards: %w", err)
		}
	}

	cost, err := gorgonia.Neg(stacked)
	if err != nil {
		return nil, fmt.Errorf("surrogate cost: %w", err)
	}
	total, err := gorgonia.Sum(stacked, 1)
	if err != nil {
		return nil, fmt.Errorf("total reward: %w", err)
	}

	return &Rollout{
		TotalReward:   total,
		SurrogateCost: cost,
		BatchSize:     batchSize,
		Horizon:       horizon,
	}, nil
}

// columnReward reshapes a (batch) reward vector to (batch, 1).
func columnReward(r *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	return gorgonia.Reshape(r, tensor.Shape{batchSize, 1})
}
