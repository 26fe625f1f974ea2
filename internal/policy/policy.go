// Package policy implements the deep reactive policy: a fully connected
// network mapping the current state fluents to one output per action fluent,
// squashed into the action bounds reported by the compiler.
package policy

import (
	"fmt"
	"strconv"
	"strings"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/nn"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/utils"
)

// Config describes the network architecture.
type Config struct {
	Layers     []int
	Activation nn.Activation
	InputNorm  bool
	HiddenNorm bool
	// Seed seeds the kernel initializer. Zero picks a time-based seed.
	Seed int64
}

type hiddenLayer struct {
	dense *nn.Dense
	norm  *nn.LayerNorm
}

// Policy is a deep reactive policy bound to one compiler's graph.
type Policy struct {
	compiler dynamics.Compiler
	cfg      Config
	params   *ParamSet

	inputNorms []*nn.LayerNorm
	hidden     []hiddenLayer
	outputs    []*nn.Dense

	lastSaved string
}

// New builds the parameters of the network on the compiler's graph.
func New(compiler dynamics.Compiler, cfg Config) (*Policy, error) {
	if compiler == nil {
		return nil, fmt.Errorf("compiler is required")
	}
	for _, units := range cfg.Layers {
		if units <= 0 {
			return nil, &models.ConfigurationError{
				Field:  "layers",
				Value:  formatLayers(cfg.Layers, ","),
				Reason: "layer sizes must be positive",
			}
		}
	}
	if cfg.Activation < 0 || int(cfg.Activation) >= len(nn.ActivationNames()) {
		return nil, &models.ConfigurationError{Field: "activation", Value: cfg.Activation.String(), Reason: "unknown activation"}
	}
	cfg.Layers = append([]int(nil), cfg.Layers...)

	p := &Policy{compiler: compiler, cfg: cfg, params: newParamSet()}
	p.build()
	return p, nil
}

func (p *Policy) build() {
	g := p.compiler.Graph()
	initFn := nn.GlorotUniform(utils.NewRandSource(p.cfg.Seed))

	width := 0
	for _, f := range p.compiler.StateFluents() {
		size := f.Size()
		width += size
		if !p.cfg.InputNorm {
			continue
		}
		ln := nn.NewLayerNorm(g, "input/"+f.Name, size)
		p.params.add(Label{Layer: LayerInput, Fluent: f.Name, Role: RoleGamma}, ln.Gamma)
		p.params.add(Label{Layer: LayerInput, Fluent: f.Name, Role: RoleBeta}, ln.Beta)
		p.inputNorms = append(p.inputNorms, ln)
	}

	for i, units := range p.cfg.Layers {
		name := fmt.Sprintf("hidden/%d", i)
		layer := hiddenLayer{dense: nn.NewDense(g, name, width, units, initFn)}
		p.params.add(Label{Layer: LayerHidden, Index: i, Role: RoleKernel}, layer.dense.W)
		p.params.add(Label{Layer: LayerHidden, Index: i, Role: RoleBias}, layer.dense.B)
		if p.cfg.HiddenNorm {
			layer.norm = nn.NewLayerNorm(g, name, units)
			p.params.add(Label{Layer: LayerHidden, Index: i, Role: RoleGamma}, layer.norm.Gamma)
			p.params.add(Label{Layer: LayerHidden, Index: i, Role: RoleBeta}, layer.norm.Beta)
		}
		p.hidden = append(p.hidden, layer)
		width = p.cfg.Activation.Width(units)
	}

	for _, f := range p.compiler.ActionFluents() {
		out := nn.NewDense(g, "output/"+f.Name, width, f.Size(), initFn)
		p.params.add(Label{Layer: LayerOutput, Fluent: f.Name, Role: RoleKernel}, out.W)
		p.params.add(Label{Layer: LayerOutput, Fluent: f.Name, Role: RoleBias}, out.B)
		p.outputs = append(p.outputs, out)
	}
}

// Evaluate maps the state fluents to one bounded node per action fluent.
// The network is reactive: timestep does not enter the computation.
func (p *Policy) Evaluate(state []*gorgonia.Node, timestep *gorgonia.Node) ([]*gorgonia.Node, error) {
	fluents := p.compiler.StateFluents()
	batch, err := checkState(fluents, state)
	if err != nil {
		return nil, err
	}

	inputs := make([]*gorgonia.Node, len(state))
	for i, f := range fluents {
		x, err := flatten(state[i], batch, f.Size())
		if err != nil {
			return nil, fmt.Errorf("flatten %s: %w", f.Name, err)
		}
		if p.cfg.InputNorm {
			if x, err = p.inputNorms[i].Forward(x); err != nil {
				return nil, fmt.Errorf("input norm %s: %w", f.Name, err)
			}
		}
		inputs[i] = x
	}

	h := inputs[0]
	if len(inputs) > 1 {
		if h, err = gorgonia.Concat(1, inputs...); err != nil {
			return nil, fmt.Errorf("concat inputs: %w", err)
		}
	}

	for i, layer := range p.hidden {
		if h, err = layer.dense.Forward(h); err != nil {
			return nil, fmt.Errorf("hidden layer %d: %w", i, err)
		}
		if layer.norm != nil {
			if h, err = layer.norm.Forward(h); err != nil {
				return nil, fmt.Errorf("hidden layer %d norm: %w", i, err)
			}
		}
		if h, err = p.cfg.Activation.Apply(h); err != nil {
			return nil, fmt.Errorf("hidden layer %d %s: %w", i, p.cfg.Activation, err)
		}
	}

	bounds, err := p.compiler.ActionBounds(state)
	if err != nil {
		return nil, fmt.Errorf("action bounds: %w", err)
	}

	actions := make([]*gorgonia.Node, 0, len(p.outputs))
	for i, f := range p.compiler.ActionFluents() {
		raw, err := p.outputs[i].Forward(h)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", f.Name, err)
		}
		if want := f.BatchShape(batch); !raw.Shape().Eq(want) {
			if raw, err = gorgonia.Reshape(raw, want); err != nil {
				return nil, fmt.Errorf("reshape %s: %w", f.Name, err)
			}
		}
		action, err := bound(raw, bounds[f.Name])
		if err != nil {
			return nil, fmt.Errorf("bound %s: %w", f.Name, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func checkState(fluents []dynamics.Fluent, state []*gorgonia.Node) (int, error) {
	if len(state) != len(fluents) || len(state) == 0 {
		return 0, &models.ShapeError{Fluent: "state", Want: []int{len(fluents)}, Got: []int{len(state)}}
	}
	batch := -1
	for i, f := range fluents {
		got := []int(state[i].Shape())
		if len(got) == 0 {
			return 0, &models.ShapeError{Fluent: f.Name, Want: append([]int{batch}, f.Shape...), Got: got}
		}
		if batch < 0 {
			batch = got[0]
		}
		want := []int(f.BatchShape(batch))
		if !tensor.Shape(got).Eq(tensor.Shape(want)) {
			return 0, &models.ShapeError{Fluent: f.Name, Want: want, Got: append([]int(nil), got...)}
		}
	}
	return batch, nil
}

func flatten(x *gorgonia.Node, batch, size int) (*gorgonia.Node, error) {
	flat := tensor.Shape{batch, size}
	if x.Shape().Eq(flat) {
		return x, nil
	}
	return gorgonia.Reshape(x, flat)
}

// bound squashes raw into the action bounds:
//
//	lower and upper: lower + (upper-lower)*sigmoid(raw)
//	lower only:      lower + exp(raw)
//	upper only:      upper - exp(raw)
func bound(raw *gorgonia.Node, b dynamics.Bounds) (*gorgonia.Node, error) {
	switch {
	case b.Lower != nil && b.Upper != nil:
		s, err := gorgonia.Sigmoid(raw)
		if err != nil {
			return nil, err
		}
		// (upper-lower)*s is expanded so every op touches s, which lives on
		// the graph even when both bounds are free constants.
		us, err := scale(s, b.Upper)
		if err != nil {
			return nil, err
		}
		ls, err := scale(s, b.Lower)
		if err != nil {
			return nil, err
		}
		span, err := gorgonia.Sub(us, ls)
		if err != nil {
			return nil, err
		}
		return gorgonia.Add(span, b.Lower)
	case b.Lower != nil:
		e, err := gorgonia.Exp(raw)
		if err != nil {
			return nil, err
		}
		return gorgonia.Add(e, b.Lower)
	case b.Upper != nil:
		e, err := gorgonia.Exp(raw)
		if err != nil {
			return nil, err
		}
		neg, err := gorgonia.Neg(e)
		if err != nil {
			return nil, err
		}
		return gorgonia.Add(neg, b.Upper)
	default:
		return raw, nil
	}
}

// scale multiplies element-wise, treating a scalar factor as a broadcast.
func scale(x, factor *gorgonia.Node) (*gorgonia.Node, error) {
	if factor.IsScalar() {
		return gorgonia.Mul(x, factor)
	}
	return gorgonia.HadamardProd(x, factor)
}

// Name identifies the architecture, e.g. "drp-fc-layers=64+32".
func (p *Policy) Name() string {
	return "drp-fc-layers=" + formatLayers(p.cfg.Layers, "+")
}

func formatLayers(layers []int, sep string) string {
	parts := make([]string, len(layers))
	for i, units := range layers {
		parts[i] = strconv.Itoa(units)
	}
	return strings.Join(parts, sep)
}

// Size returns the number of trainable scalars.
func (p *Policy) Size() int {
	return p.params.Size()
}

// Params returns the parameter set shared by every Evaluate call.
func (p *Policy) Params() *ParamSet {
	return p.params
}

// Layers returns the hidden layer sizes.
func (p *Policy) Layers() []int {
	return append([]int(nil), p.cfg.Layers...)
}

// Activation returns the hidden layer activation.
func (p *Policy) Activation() nn.Activation {
	return p.cfg.Activation
}

// Compiler returns the compiler the policy was built for.
func (p *Policy) Compiler() dynamics.Compiler {
	return p.compiler
}
