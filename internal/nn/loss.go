package nn

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// Loss turns per-trajectory costs into the scalar that is minimized.
type Loss int

const (
	LossLinear Loss = iota
	LossMSE
	LossHuber
)

var lossNames = [...]string{
	LossLinear: "linear",
	LossMSE:    "mse",
	LossHuber:  "huber",
}

// HuberDelta is the point where the huber loss turns from quadratic to linear.
const HuberDelta = 1.0

func (l Loss) String() string {
	if l < 0 || int(l) >= len(lossNames) {
		return fmt.Sprintf("loss(%d)", int(l))
	}
	return lossNames[l]
}

// LossNames lists the accepted loss names in a stable order.
func LossNames() []string {
	return append([]string(nil), lossNames[:]...)
}

// ParseLoss resolves a loss by name.
func ParseLoss(name string) (Loss, error) {
	for i, n := range lossNames {
		if n == name {
			return Loss(i), nil
		}
	}
	return LossLinear, models.UnknownName("loss", name, LossNames())
}

// Apply reduces a vector of per-trajectory costs to a scalar: the batch
// mean of |c|, c² or huber(c).
func (l Loss) Apply(cost *gorgonia.Node) (*gorgonia.Node, error) {
	var (
		per *gorgonia.Node
		err error
	)
	switch l {
	case LossLinear:
		per, err = gorgonia.Abs(cost)
	case LossMSE:
		per, err = gorgonia.Square(cost)
	case LossHuber:
		per, err = huber(cost, HuberDelta)
	default:
		return nil, fmt.Errorf("unsupported loss %v", l)
	}
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(per)
}

// huber is 0.5*q² + delta*(|c| - q) with q = min(|c|, delta), where the
// minimum is written as (a + delta - |a - delta|) / 2.
func huber(cost *gorgonia.Node, delta float64) (*gorgonia.Node, error) {
	d := gorgonia.NewConstant(delta)
	half := gorgonia.NewConstant(0.5)

	a, err := gorgonia.Abs(cost)
	if err != nil {
		return nil, err
	}
	excess, err := gorgonia.Sub(a, d)
	if err != nil {
		return nil, err
	}
	absExcess, err := gorgonia.Abs(excess)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(a, d)
	if err != nil {
		return nil, err
	}
	twiceQ, err := gorgonia.Sub(sum, absExcess)
	if err != nil {
		return nil, err
	}
	q, err := gorgonia.Mul(twiceQ, half)
	if err != nil {
		return nil, err
	}

	q2, err := gorgonia.Square(q)
	if err != nil {
		return nil, err
	}
	quadratic, err := gorgonia.Mul(q2, half)
	if err != nil {
		return nil, err
	}
	rest, err := gorgonia.Sub(a, q)
	if err != nil {
		return nil, err
	}
	linear, err := gorgonia.Mul(rest, d)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(quadratic, linear)
}
