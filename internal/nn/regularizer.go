package nn

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// Regularizer adds a penalty on a parameter to the training loss.
type Regularizer interface {
	Penalty(w *gorgonia.Node) (*gorgonia.Node, error)
}

// L1 penalizes scale * Σ|w|.
type L1 struct {
	Scale float64
}

func (r L1) Penalty(w *gorgonia.Node) (*gorgonia.Node, error) {
	abs, err := gorgonia.Abs(w)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(abs)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mul(sum, gorgonia.NewConstant(r.Scale))
}

// L2 penalizes scale * Σw² / 2.
type L2 struct {
	Scale float64
}

func (r L2) Penalty(w *gorgonia.Node) (*gorgonia.Node, error) {
	sq, err := gorgonia.Square(w)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(sq)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mul(sum, gorgonia.NewConstant(r.Scale/2))
}

// L1L2 is the sum of an L1 and an L2 penalty.
type L1L2 struct {
	L1 L1
	L2 L2
}

func (r L1L2) Penalty(w *gorgonia.Node) (*gorgonia.Node, error) {
	a, err := r.L1.Penalty(w)
	if err != nil {
		return nil, err
	}
	b, err := r.L2.Penalty(w)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(a, b)
}

// Regularizer kinds accepted by ParseRegularizer.
const (
	RegularizerNone = "none"
	RegularizerL1   = "l1"
	RegularizerL2   = "l2"
	RegularizerL1L2 = "l1_l2"
)

// ParseRegularizer builds a regularizer by kind. An empty kind or "none"
// yields nil.
func ParseRegularizer(kind string, scale float64) (Regularizer, error) {
	if scale < 0 {
		return nil, &models.ConfigurationError{Field: "regularization.scale", Value: fmt.Sprint(scale), Reason: "must not be negative"}
	}
	switch kind {
	case "", RegularizerNone:
		return nil, nil
	case RegularizerL1:
		return L1{Scale: scale}, nil
	case RegularizerL2:
		return L2{Scale: scale}, nil
	case RegularizerL1L2:
		return L1L2{L1: L1{Scale: scale}, L2: L2{Scale: scale}}, nil
	default:
		return nil, models.UnknownName("regularization.kind", kind,
			[]string{RegularizerNone, RegularizerL1, RegularizerL2, RegularizerL1L2})
	}
}
