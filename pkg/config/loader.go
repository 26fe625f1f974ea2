package config

import (
	"fmt"
	"os"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/monitor"
	"github.com/GoSim-25-26J-441/drp-planner/internal/nn"
	"github.com/GoSim-25-26J-441/drp-planner/internal/solver"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks a configuration. Unknown names are reported as
// models.ConfigurationError.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat)
	}

	if err := validateModel(&cfg.Model); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}
	if err := validatePolicy(&cfg.Policy); err != nil {
		return fmt.Errorf("policy validation failed: %w", err)
	}
	if err := validateTraining(&cfg.Training); err != nil {
		return fmt.Errorf("training validation failed: %w", err)
	}
	if cfg.Regularization != nil {
		if err := validateRegularization(cfg.Regularization); err != nil {
			return fmt.Errorf("regularization validation failed: %w", err)
		}
	}
	if cfg.Convergence != nil {
		if err := validateConvergence(cfg.Convergence); err != nil {
			return fmt.Errorf("convergence validation failed: %w", err)
		}
	}
	return nil
}

func validateModel(m *Model) error {
	if _, err := dynamics.New(m.Name, dynamics.Options{}); err != nil {
		return err
	}

	p := m.Params
	if p.InitialStd < 0 {
		return fmt.Errorf("initial_std cannot be negative, got %f", p.InitialStd)
	}
	if p.NoiseStd < 0 {
		return fmt.Errorf("noise_std cannot be negative, got %f", p.NoiseStd)
	}
	if p.RainStd < 0 {
		return fmt.Errorf("rain_std cannot be negative, got %f", p.RainStd)
	}
	if p.MaxStep < 0 {
		return fmt.Errorf("max_step cannot be negative, got %f", p.MaxStep)
	}
	if p.Reservoirs < 0 {
		return fmt.Errorf("reservoirs cannot be negative, got %d", p.Reservoirs)
	}
	if len(p.Goal) != 0 && len(p.Goal) != 2 {
		return fmt.Errorf("goal must have 2 coordinates, got %d", len(p.Goal))
	}
	return nil
}

func validatePolicy(p *Policy) error {
	if len(p.Layers) == 0 {
		return fmt.Errorf("at least one hidden layer must be defined")
	}
	for i, units := range p.Layers {
		if units <= 0 {
			return fmt.Errorf("layer %d: units must be positive, got %d", i, units)
		}
	}
	if _, err := nn.ParseActivation(p.Activation); err != nil {
		return err
	}
	return nil
}

func validateTraining(t *Training) error {
	if _, err := solver.ParseKind(t.Optimizer); err != nil {
		return err
	}
	if _, err := nn.ParseLoss(t.Loss); err != nil {
		return err
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %f", t.LearningRate)
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", t.BatchSize)
	}
	if t.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", t.Horizon)
	}
	if t.Epochs < 0 {
		return fmt.Errorf("epochs cannot be negative, got %d", t.Epochs)
	}
	return nil
}

func validateRegularization(r *Regularization) error {
	for name, reg := range map[string]*Regularizer{"kernel": r.Kernel, "bias": r.Bias} {
		if reg == nil {
			continue
		}
		if _, err := nn.ParseRegularizer(reg.Kind, reg.Scale); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func validateConvergence(c *Convergence) error {
	if _, err := monitor.NewStrategy(c.Strategy, monitor.DefaultConvergenceConfig()); err != nil {
		return err
	}
	if c.NoImprovementSteps < 0 || c.MinSteps < 0 || c.PlateauSteps < 0 {
		return fmt.Errorf("step counts cannot be negative")
	}
	if c.ImprovementThreshold < 0 || c.Tolerance < 0 {
		return fmt.Errorf("thresholds cannot be negative")
	}
	return nil
}

// Regularizers resolves the configured penalties. Missing entries are nil.
func (c *Config) Regularizers() (kernel, bias nn.Regularizer, err error) {
	if c.Regularization == nil {
		return nil, nil, nil
	}
	if r := c.Regularization.Kernel; r != nil {
		if kernel, err = nn.ParseRegularizer(r.Kind, r.Scale); err != nil {
			return nil, nil, err
		}
	}
	if r := c.Regularization.Bias; r != nil {
		if bias, err = nn.ParseRegularizer(r.Kind, r.Scale); err != nil {
			return nil, nil, err
		}
	}
	return kernel, bias, nil
}

// DynamicsOptions converts the model parameters.
func (c *Config) DynamicsOptions() dynamics.Options {
	p := c.Model.Params
	return dynamics.Options{
		Seed:       c.Model.Seed,
		Initial:    p.Initial,
		InitialStd: p.InitialStd,
		NoiseStd:   p.NoiseStd,
		Target:     p.Target,
		Goal:       append([]float64(nil), p.Goal...),
		MaxStep:    p.MaxStep,
		Reservoirs: p.Reservoirs,
		RainMean:   p.RainMean,
		RainStd:    p.RainStd,
	}
}

// ConvergenceConfig merges the configured thresholds over the defaults.
func (c *Config) ConvergenceConfig() monitor.ConvergenceConfig {
	out := monitor.DefaultConvergenceConfig()
	if c.Convergence == nil {
		return out
	}
	if v := c.Convergence.NoImprovementSteps; v > 0 {
		out.NoImprovementSteps = v
	}
	if v := c.Convergence.ImprovementThreshold; v > 0 {
		out.ImprovementThreshold = v
	}
	if v := c.Convergence.Tolerance; v > 0 {
		out.Tolerance = v
	}
	if v := c.Convergence.MinSteps; v > 0 {
		out.MinSteps = v
	}
	if v := c.Convergence.PlateauSteps; v > 0 {
		out.PlateauSteps = v
	}
	return out
}
