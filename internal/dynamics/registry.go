package dynamics

import (
	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// Options parametrizes the bundled models. Fields a model does not use are
// ignored.
type Options struct {
	Seed int64

	// Initial is the mean initial value of every state component and
	// InitialStd the spread of the per-trajectory initial states.
	Initial    float64
	InitialStd float64
	// NoiseStd is the standard deviation of additive transition noise.
	NoiseStd float64

	// Target is the level the linear and reservoir models steer towards.
	Target float64

	// Goal and MaxStep configure the navigation model.
	Goal    []float64
	MaxStep float64

	// Reservoirs, RainMean and RainStd configure the reservoir model.
	Reservoirs int
	RainMean   float64
	RainStd    float64
}

// Model names accepted by New.
const (
	ModelLinear     = "linear"
	ModelNavigation = "navigation"
	ModelReservoir  = "reservoir"
)

// ModelNames lists the accepted model names in a stable order.
func ModelNames() []string {
	return []string{ModelLinear, ModelNavigation, ModelReservoir}
}

// New builds a bundled model by name.
func New(name string, opts Options) (Compiler, error) {
	switch name {
	case ModelLinear:
		return NewLinear(opts), nil
	case ModelNavigation:
		return NewNavigation(opts), nil
	case ModelReservoir:
		return NewReservoir(opts), nil
	default:
		return nil, models.UnknownName("model", name, ModelNames())
	}
}
