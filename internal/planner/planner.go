// Package planner assembles a deep reactive policy and its optimizer from
// named configuration choices.
package planner

import (
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/nn"
	"github.com/GoSim-25-26J-441/drp-planner/internal/optimizer"
	"github.com/GoSim-25-26J-441/drp-planner/internal/policy"
	"github.com/GoSim-25-26J-441/drp-planner/internal/solver"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/logger"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// PolicyConfig describes the policy network by name.
type PolicyConfig struct {
	Layers     []int
	Activation string
	InputNorm  bool
	HiddenNorm bool
	Seed       int64
}

// Option configures a Planner.
type Option func(*Planner)

// WithOptimizerOptions passes options through to the optimizer.
func WithOptimizerOptions(opts ...optimizer.Option) Option {
	return func(p *Planner) { p.optOpts = append(p.optOpts, opts...) }
}

// WithRegularizers sets the kernel and bias regularizers used by Build.
// Either may be nil.
func WithRegularizers(kernel, bias nn.Regularizer) Option {
	return func(p *Planner) {
		p.kernelReg = kernel
		p.biasReg = bias
	}
}

// WithLogger sets the logger of the planner and its optimizer.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// Planner is a thin facade over a Policy and an Optimizer.
type Planner struct {
	compiler dynamics.Compiler
	policy   *policy.Policy
	opt      *optimizer.Optimizer

	optOpts   []optimizer.Option
	kernelReg nn.Regularizer
	biasReg   nn.Regularizer
	logger    *slog.Logger
}

// New resolves the activation name and builds the policy on compiler.
func New(compiler dynamics.Compiler, cfg PolicyConfig, opts ...Option) (*Planner, error) {
	activation, err := nn.ParseActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}
	if compiler == nil {
		return nil, fmt.Errorf("compiler is required")
	}

	p := &Planner{compiler: compiler, logger: logger.Default}
	for _, opt := range opts {
		opt(p)
	}

	p.policy, err = policy.New(compiler, policy.Config{
		Layers:     cfg.Layers,
		Activation: activation,
		InputNorm:  cfg.InputNorm,
		HiddenNorm: cfg.HiddenNorm,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	optOpts := append([]optimizer.Option{optimizer.WithLogger(p.logger)}, p.optOpts...)
	p.opt, err = optimizer.New(compiler, p.policy, optOpts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Build resolves the optimizer and loss names, then builds the training
// graph. Unknown names fail before any numeric argument is looked at.
func (p *Planner) Build(learningRate float64, batchSize, horizon int, optimizerName, lossName string) error {
	kind, err := solver.ParseKind(optimizerName)
	if err != nil {
		return err
	}
	loss, err := nn.ParseLoss(lossName)
	if err != nil {
		return err
	}
	return p.opt.Build(optimizer.BuildConfig{
		LearningRate:      learningRate,
		BatchSize:         batchSize,
		Horizon:           horizon,
		Solver:            kind,
		Loss:              loss,
		KernelRegularizer: p.kernelReg,
		BiasRegularizer:   p.biasReg,
	})
}

// Run trains for epochs steps. It returns the reward improvements, the
// trained policy and the directory of the training traces.
func (p *Planner) Run(epochs int, showProgress bool) ([]models.Improvement, *policy.Policy, string, error) {
	_, rewards, err := p.opt.Run(epochs, showProgress)
	if err != nil {
		return nil, nil, "", err
	}
	return rewards, p.policy, p.opt.TrainDir(), nil
}

// Policy returns the policy being trained.
func (p *Planner) Policy() *policy.Policy {
	return p.policy
}

// Optimizer returns the underlying optimizer.
func (p *Planner) Optimizer() *optimizer.Optimizer {
	return p.opt
}
