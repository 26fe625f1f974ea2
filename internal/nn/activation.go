// Package nn holds the building blocks of the policy network: the closed
// vocabularies of activations and losses, dense and layer-norm layers,
// initializers and weight regularizers.
package nn

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// Activation is a non-linearity applied after a hidden layer.
type Activation int

const (
	ActivationNone Activation = iota
	ActivationSigmoid
	ActivationTanh
	ActivationReLU
	ActivationReLU6
	ActivationCReLU
	ActivationELU
	ActivationSELU
	ActivationSoftplus
	ActivationSoftsign
)

var activationNames = [...]string{
	ActivationNone:     "none",
	ActivationSigmoid:  "sigmoid",
	ActivationTanh:     "tanh",
	ActivationReLU:     "relu",
	ActivationReLU6:    "relu6",
	ActivationCReLU:    "crelu",
	ActivationELU:      "elu",
	ActivationSELU:     "selu",
	ActivationSoftplus: "softplus",
	ActivationSoftsign: "softsign",
}

// SELU constants from Klambauer et al. (2017).
const (
	seluAlpha = 1.6732632423543772848170429916717
	seluScale = 1.0507009873554804934193349852946
)

func (a Activation) String() string {
	if a < 0 || int(a) >= len(activationNames) {
		return fmt.Sprintf("activation(%d)", int(a))
	}
	return activationNames[a]
}

// ActivationNames lists the accepted activation names in a stable order.
func ActivationNames() []string {
	return append([]string(nil), activationNames[:]...)
}

// ParseActivation resolves an activation by name.
func ParseActivation(name string) (Activation, error) {
	for i, n := range activationNames {
		if n == name {
			return Activation(i), nil
		}
	}
	return ActivationNone, models.UnknownName("activation", name, ActivationNames())
}

// Width returns the number of output columns the activation produces for a
// layer of the given width. Only crelu changes it.
func (a Activation) Width(units int) int {
	if a == ActivationCReLU {
		return 2 * units
	}
	return units
}

// Apply applies the activation to a (batch, units) node.
func (a Activation) Apply(x *gorgonia.Node) (*gorgonia.Node, error) {
	switch a {
	case ActivationNone:
		return x, nil
	case ActivationSigmoid:
		return gorgonia.Sigmoid(x)
	case ActivationTanh:
		return gorgonia.Tanh(x)
	case ActivationReLU:
		return gorgonia.Rectify(x)
	case ActivationReLU6:
		return relu6(x)
	case ActivationCReLU:
		return crelu(x)
	case ActivationELU:
		return elu(x, 1)
	case ActivationSELU:
		e, err := elu(x, seluAlpha)
		if err != nil {
			return nil, err
		}
		return gorgonia.Mul(e, gorgonia.NewConstant(seluScale))
	case ActivationSoftplus:
		return gorgonia.Softplus(x)
	case ActivationSoftsign:
		return softsign(x)
	default:
		return nil, fmt.Errorf("unsupported activation %v", a)
	}
}

// relu6 is min(max(x, 0), 6), written as relu(x) - relu(x - 6).
func relu6(x *gorgonia.Node) (*gorgonia.Node, error) {
	low, err := gorgonia.Rectify(x)
	if err != nil {
		return nil, err
	}
	shifted, err := gorgonia.Sub(x, gorgonia.NewConstant(6.0))
	if err != nil {
		return nil, err
	}
	high, err := gorgonia.Rectify(shifted)
	if err != nil {
		return nil, err
	}
	return gorgonia.Sub(low, high)
}

// crelu concatenates relu(x) and relu(-x) along the feature axis.
func crelu(x *gorgonia.Node) (*gorgonia.Node, error) {
	pos, err := gorgonia.Rectify(x)
	if err != nil {
		return nil, err
	}
	negX, err := gorgonia.Neg(x)
	if err != nil {
		return nil, err
	}
	neg, err := gorgonia.Rectify(negX)
	if err != nil {
		return nil, err
	}
	return gorgonia.Concat(1, pos, neg)
}

// elu is relu(x) + alpha*(exp(min(x, 0)) - 1).
func elu(x *gorgonia.Node, alpha float64) (*gorgonia.Node, error) {
	pos, err := gorgonia.Rectify(x)
	if err != nil {
		return nil, err
	}
	negX, err := gorgonia.Neg(x)
	if err != nil {
		return nil, err
	}
	r, err := gorgonia.Rectify(negX)
	if err != nil {
		return nil, err
	}
	minX, err := gorgonia.Neg(r)
	if err != nil {
		return nil, err
	}
	e, err := gorgonia.Exp(minX)
	if err != nil {
		return nil, err
	}
	em1, err := gorgonia.Sub(e, gorgonia.NewConstant(1.0))
	if err != nil {
		return nil, err
	}
	if alpha != 1 {
		if em1, err = gorgonia.Mul(em1, gorgonia.NewConstant(alpha)); err != nil {
			return nil, err
		}
	}
	return gorgonia.Add(pos, em1)
}

// softsign is x / (1 + |x|).
func softsign(x *gorgonia.Node) (*gorgonia.Node, error) {
	abs, err := gorgonia.Abs(x)
	if err != nil {
		return nil, err
	}
	denom, err := gorgonia.Add(abs, gorgonia.NewConstant(1.0))
	if err != nil {
		return nil, err
	}
	return gorgonia.HadamardDiv(x, denom)
}
