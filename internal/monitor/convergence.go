package monitor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// Strategy decides whether a training metric has converged. History holds
// one value per step, lower is better.
type Strategy interface {
	Check(history []float64) (converged bool, reason string)
	Name() string
}

// ConvergenceConfig holds the convergence detection thresholds.
type ConvergenceConfig struct {
	// NoImprovementSteps is the number of steps without a new best value
	// before the no-improvement strategy triggers.
	NoImprovementSteps int
	// ImprovementThreshold is the minimum relative improvement considered
	// significant.
	ImprovementThreshold float64
	// Tolerance is the absolute range within which values count as equal.
	Tolerance float64
	// MinSteps is the number of steps before any strategy can trigger.
	MinSteps int
	// PlateauSteps is the window of the plateau and variance strategies.
	PlateauSteps int
}

// DefaultConvergenceConfig returns the default thresholds.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		NoImprovementSteps:   50,
		ImprovementThreshold: 0.001,
		Tolerance:            1e-6,
		MinSteps:             10,
		PlateauSteps:         20,
	}
}

// NoImprovement triggers when the best value is older than
// NoImprovementSteps.
type NoImprovement struct {
	cfg ConvergenceConfig
}

func NewNoImprovement(cfg ConvergenceConfig) *NoImprovement {
	return &NoImprovement{cfg: cfg}
}

func (s *NoImprovement) Name() string { return "no_improvement" }

func (s *NoImprovement) Check(history []float64) (bool, string) {
	if len(history) < s.cfg.MinSteps || len(history) == 0 {
		return false, ""
	}
	best := floats.MinIdx(history)
	since := len(history) - 1 - best
	if since >= s.cfg.NoImprovementSteps {
		return true, fmt.Sprintf("no improvement for %d steps (best at step %d)", since, best)
	}
	return false, ""
}

// Plateau triggers when the last PlateauSteps values lie within Tolerance.
type Plateau struct {
	cfg ConvergenceConfig
}

func NewPlateau(cfg ConvergenceConfig) *Plateau {
	return &Plateau{cfg: cfg}
}

func (s *Plateau) Name() string { return "plateau" }

func (s *Plateau) Check(history []float64) (bool, string) {
	if len(history) < s.cfg.MinSteps || s.cfg.PlateauSteps <= 0 || len(history) < s.cfg.PlateauSteps {
		return false, ""
	}
	recent := history[len(history)-s.cfg.PlateauSteps:]
	spread := floats.Max(recent) - floats.Min(recent)
	if spread <= s.cfg.Tolerance {
		return true, fmt.Sprintf("plateau for %d steps (range: %.6f)", s.cfg.PlateauSteps, spread)
	}
	return false, ""
}

// Threshold triggers when every recent relative improvement is below
// ImprovementThreshold.
type Threshold struct {
	cfg ConvergenceConfig
}

func NewThreshold(cfg ConvergenceConfig) *Threshold {
	return &Threshold{cfg: cfg}
}

func (s *Threshold) Name() string { return "improvement_threshold" }

func (s *Threshold) Check(history []float64) (bool, string) {
	if len(history) < s.cfg.MinSteps+1 {
		return false, ""
	}
	window := s.cfg.NoImprovementSteps
	if window > len(history) {
		window = len(history)
	}
	recent := history[len(history)-window:]
	if len(recent) < 2 {
		return false, ""
	}

	var improvements []float64
	for i := 1; i < len(recent); i++ {
		if recent[i-1] > 0 {
			improvements = append(improvements, (recent[i-1]-recent[i])/recent[i-1])
		}
	}
	if len(improvements) == 0 {
		return false, ""
	}
	largest := floats.Max(improvements)
	if largest <= s.cfg.ImprovementThreshold {
		return true, fmt.Sprintf("improvements below threshold (max: %.4f%%, threshold: %.4f%%)",
			largest*100, s.cfg.ImprovementThreshold*100)
	}
	return false, ""
}

// Variance triggers when the relative standard deviation over the last
// PlateauSteps values falls below ImprovementThreshold.
type Variance struct {
	cfg ConvergenceConfig
}

func NewVariance(cfg ConvergenceConfig) *Variance {
	return &Variance{cfg: cfg}
}

func (s *Variance) Name() string { return "variance" }

func (s *Variance) Check(history []float64) (bool, string) {
	if len(history) < s.cfg.MinSteps {
		return false, ""
	}
	window := s.cfg.PlateauSteps
	if window <= 0 || window > len(history) {
		window = len(history)
	}
	recent := history[len(history)-window:]
	if len(recent) < 2 {
		return false, ""
	}
	mean, variance := stat.PopMeanVariance(recent, nil)
	if mean <= 0 {
		return false, ""
	}
	if rel := math.Sqrt(variance) / mean; rel < s.cfg.ImprovementThreshold {
		return true, fmt.Sprintf("low variance (relative stddev: %.4f%%)", rel*100)
	}
	return false, ""
}

// Combined triggers as soon as any of its strategies does.
type Combined struct {
	strategies []Strategy
}

// NewCombined combines no-improvement, plateau and threshold detection.
func NewCombined(cfg ConvergenceConfig) *Combined {
	return &Combined{strategies: []Strategy{
		NewNoImprovement(cfg),
		NewPlateau(cfg),
		NewThreshold(cfg),
	}}
}

func (s *Combined) Name() string { return "combined" }

// Add appends a strategy.
func (s *Combined) Add(strategy Strategy) {
	s.strategies = append(s.strategies, strategy)
}

func (s *Combined) Check(history []float64) (bool, string) {
	for _, strategy := range s.strategies {
		if ok, reason := strategy.Check(history); ok {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// Strategy names accepted by NewStrategy.
const (
	StrategyNoImprovement = "no_improvement"
	StrategyPlateau       = "plateau"
	StrategyThreshold     = "improvement_threshold"
	StrategyVariance      = "variance"
	StrategyCombined      = "combined"
)

// StrategyNames lists the accepted strategy names.
func StrategyNames() []string {
	return []string{StrategyNoImprovement, StrategyPlateau, StrategyThreshold, StrategyVariance, StrategyCombined}
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string, cfg ConvergenceConfig) (Strategy, error) {
	switch name {
	case StrategyNoImprovement:
		return NewNoImprovement(cfg), nil
	case StrategyPlateau:
		return NewPlateau(cfg), nil
	case StrategyThreshold:
		return NewThreshold(cfg), nil
	case StrategyVariance:
		return NewVariance(cfg), nil
	case "", StrategyCombined:
		return NewCombined(cfg), nil
	default:
		return nil, models.UnknownName("convergence.strategy", name, StrategyNames())
	}
}
