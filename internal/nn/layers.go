package nn

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/utils"
)

// LayerNormEpsilon is added to the variance before normalizing.
const LayerNormEpsilon = 1e-12

// GlorotUniform returns an initializer drawing from U(-l, l) with
// l = sqrt(6 / (fanIn + fanOut)). Vectors and scalars are treated as
// fanIn = fanOut = size.
func GlorotUniform(rng *utils.RandSource) gorgonia.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		size := 1
		for _, d := range s {
			size *= d
		}
		fanIn, fanOut := size, size
		if len(s) >= 2 {
			fanIn, fanOut = s[0], s[1]
		}
		limit := math.Sqrt(6 / float64(fanIn+fanOut))

		values := make([]float64, size)
		rng.FillUniform(values, -limit, limit)
		switch dt {
		case tensor.Float32:
			out := make([]float32, size)
			for i, v := range values {
				out[i] = float32(v)
			}
			return out
		default:
			return values
		}
	}
}

// Dense is a fully connected layer y = xW + b.
type Dense struct {
	W *gorgonia.Node
	B *gorgonia.Node
}

// NewDense creates the kernel (in, out) and bias (1, out) of a dense layer
// on g. Kernels use initFn, biases start at zero.
func NewDense(g *gorgonia.ExprGraph, name string, in, out int, initFn gorgonia.InitWFn) *Dense {
	return &Dense{
		W: gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(in, out),
			gorgonia.WithName(name+"/kernel"), gorgonia.WithInit(initFn)),
		B: gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(1, out),
			gorgonia.WithName(name+"/bias"), gorgonia.WithInit(gorgonia.Zeroes())),
	}
}

// Forward applies the layer to a (batch, in) node.
func (d *Dense) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, d.W)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.W.Name(), err)
	}
	return gorgonia.BroadcastAdd(xw, d.B, nil, []byte{0})
}

// LayerNorm normalizes each row to zero mean and unit variance, then scales
// by gamma and shifts by beta.
type LayerNorm struct {
	Gamma *gorgonia.Node
	Beta  *gorgonia.Node
}

// NewLayerNorm creates gamma (ones) and beta (zeros) of shape (1, width).
func NewLayerNorm(g *gorgonia.ExprGraph, name string, width int) *LayerNorm {
	return &LayerNorm{
		Gamma: gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(1, width),
			gorgonia.WithName(name+"/gamma"), gorgonia.WithInit(gorgonia.Ones())),
		Beta: gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(1, width),
			gorgonia.WithName(name+"/beta"), gorgonia.WithInit(gorgonia.Zeroes())),
	}
}

// Forward normalizes a (batch, width) node.
func (l *LayerNorm) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	batch := x.Shape()[0]
	col := tensor.Shape{batch, 1}

	mean, err := gorgonia.Mean(x, 1)
	if err != nil {
		return nil, err
	}
	if mean, err = gorgonia.Reshape(mean, col); err != nil {
		return nil, err
	}
	centered, err := gorgonia.BroadcastSub(x, mean, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(centered)
	if err != nil {
		return nil, err
	}
	variance, err := gorgonia.Mean(sq, 1)
	if err != nil {
		return nil, err
	}
	if variance, err = gorgonia.Reshape(variance, col); err != nil {
		return nil, err
	}
	if variance, err = gorgonia.Add(variance, gorgonia.NewConstant(LayerNormEpsilon)); err != nil {
		return nil, err
	}
	std, err := gorgonia.Sqrt(variance)
	if err != nil {
		return nil, err
	}
	normed, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normed, l.Gamma, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(scaled, l.Beta, nil, []byte{0})
}
