// Package solver resolves optimizer kinds to gorgonia solvers. Kinds gorgonia
// ships are used directly; Adadelta and the proximal methods are implemented
// here against the same Solver interface.
package solver

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// Kind identifies a gradient-based optimizer.
type Kind int

const (
	Adadelta Kind = iota
	Adagrad
	Adam
	GradientDescent
	ProximalGradientDescent
	ProximalAdagrad
	RMSProp
)

var kindNames = [...]string{
	Adadelta:                "Adadelta",
	Adagrad:                 "Adagrad",
	Adam:                    "Adam",
	GradientDescent:         "GradientDescent",
	ProximalGradientDescent: "ProximalGradientDescent",
	ProximalAdagrad:         "ProximalAdagrad",
	RMSProp:                 "RMSProp",
}

const (
	rmsPropDecay   = 0.9
	rmsPropEpsilon = 1e-10
)

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("solver(%d)", int(k))
	}
	return kindNames[k]
}

// Names lists the accepted optimizer names in a stable order.
func Names() []string {
	return append([]string(nil), kindNames[:]...)
}

// ParseKind resolves an optimizer by name.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return GradientDescent, models.UnknownName("optimizer", name, Names())
}

type options struct {
	l1, l2 float64
}

// Option configures the proximal solvers. Other kinds ignore it.
type Option func(*options)

// WithL1 sets the L1 shrinkage of the proximal solvers.
func WithL1(l1 float64) Option {
	return func(o *options) { o.l1 = l1 }
}

// WithL2 sets the L2 shrinkage of the proximal solvers.
func WithL2(l2 float64) Option {
	return func(o *options) { o.l2 = l2 }
}

// New creates a solver of the given kind with the given learning rate.
func New(kind Kind, learningRate float64, opts ...Option) (gorgonia.Solver, error) {
	if learningRate <= 0 {
		return nil, &models.ConfigurationError{
			Field:  "learning_rate",
			Value:  fmt.Sprint(learningRate),
			Reason: "must be positive",
		}
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	switch kind {
	case Adadelta:
		return NewAdadelta(learningRate), nil
	case Adagrad:
		return gorgonia.NewAdaGradSolver(gorgonia.WithLearnRate(learningRate)), nil
	case Adam:
		return gorgonia.NewAdamSolver(gorgonia.WithLearnRate(learningRate)), nil
	case GradientDescent:
		return gorgonia.NewVanillaSolver(gorgonia.WithLearnRate(learningRate)), nil
	case ProximalGradientDescent:
		return NewProximalGD(learningRate, o.l1, o.l2), nil
	case ProximalAdagrad:
		return NewProximalAdagrad(learningRate, o.l1, o.l2), nil
	case RMSProp:
		return gorgonia.NewRMSPropSolver(
			gorgonia.WithLearnRate(learningRate),
			gorgonia.WithRho(rmsPropDecay),
			gorgonia.WithEps(rmsPropEpsilon),
		), nil
	default:
		return nil, fmt.Errorf("unsupported solver kind %v", kind)
	}
}

// slices returns the weights and gradient of a parameter as float64 slices.
// Weights are updated in place through the returned slice. The tape machine
// adds every pass onto the gradient, so a Step must clear g once applied.
func slices(vg gorgonia.ValueGrad) (w, g []float64, err error) {
	grad, err := vg.Grad()
	if err != nil {
		return nil, nil, err
	}
	w, ok := vg.Value().Data().([]float64)
	if !ok {
		return nil, nil, fmt.Errorf("expected float64 tensor weights, got %T", vg.Value().Data())
	}
	g, ok = grad.Data().([]float64)
	if !ok {
		return nil, nil, fmt.Errorf("expected float64 tensor gradient, got %T", grad.Data())
	}
	if len(w) != len(g) {
		return nil, nil, fmt.Errorf("weights and gradient differ in size: %d != %d", len(w), len(g))
	}
	return w, g, nil
}

// state keeps one accumulator slice per parameter, indexed by the
// parameter's position in the model passed to Step.
type state [][]float64

func (s *state) get(i, size int, init float64) []float64 {
	for len(*s) <= i {
		*s = append(*s, nil)
	}
	if (*s)[i] == nil {
		buf := make([]float64, size)
		for j := range buf {
			buf[j] = init
		}
		(*s)[i] = buf
	}
	return (*s)[i]
}
