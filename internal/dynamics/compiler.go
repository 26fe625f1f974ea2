// Package dynamics defines the contract between the policy optimizer and a
// differentiable transition/reward model, and ships a few small models that
// satisfy it.
//
// A Compiler owns a gorgonia expression graph. The policy builds its
// parameters on that graph, and Simulate unrolls the transition function
// for a fixed horizon with the policy in the loop, producing the reward
// nodes the optimizer differentiates.
package dynamics

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Fluent is a named state or action variable with a fixed per-sample shape.
type Fluent struct {
	Name  string
	Shape []int
}

// Size returns the number of scalars in one sample of the fluent.
func (f Fluent) Size() int {
	size := 1
	for _, d := range f.Shape {
		size *= d
	}
	return size
}

// BatchShape returns the fluent shape with a leading batch dimension.
func (f Fluent) BatchShape(batch int) tensor.Shape {
	shape := make(tensor.Shape, 0, len(f.Shape)+1)
	shape = append(shape, batch)
	return append(shape, f.Shape...)
}

// Bounds holds the optional lower and upper bound of an action fluent.
// A nil bound is absent. Bound nodes are scalars or have the action's
// batch shape, and must not depend on policy parameters.
type Bounds struct {
	Lower *gorgonia.Node
	Upper *gorgonia.Node
}

// Policy maps the current state and timestep to one node per action fluent.
type Policy interface {
	Evaluate(state []*gorgonia.Node, timestep *gorgonia.Node) ([]*gorgonia.Node, error)
}

// Rollout is the differentiable outcome of simulating a batch of
// trajectories.
type Rollout struct {
	// TotalReward has shape (batch): the undiscounted sum of rewards of
	// each trajectory.
	TotalReward *gorgonia.Node
	// SurrogateCost has shape (batch, horizon): a per-step proxy for the
	// negative reward.
	SurrogateCost *gorgonia.Node

	BatchSize int
	Horizon   int
}

// Compiler is the dynamics/reward model consumed by the policy and the
// optimizer. Fluent orderings must stay stable for the lifetime of a
// training run.
type Compiler interface {
	Graph() *gorgonia.ExprGraph
	StateFluents() []Fluent
	ActionFluents() []Fluent
	// ActionBounds returns the bounds of every action fluent, keyed by
	// fluent name, for the given state.
	ActionBounds(state []*gorgonia.Node) (map[string]Bounds, error)
	// Simulate unrolls horizon steps of batchSize trajectories driven by p.
	Simulate(p Policy, batchSize, horizon int) (*Rollout, error)
}

// Resampler is implemented by compilers whose rollouts depend on exogenous
// noise. The optimizer calls Resample before every training step.
type Resampler interface {
	Resample() error
}
