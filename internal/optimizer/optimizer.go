// Package optimizer trains a deep reactive policy by gradient descent
// through the compiler's differentiable rollout.
package optimizer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/engine"
	"github.com/GoSim-25-26J-441/drp-planner/internal/nn"
	"github.com/GoSim-25-26J-441/drp-planner/internal/policy"
	"github.com/GoSim-25-26J-441/drp-planner/internal/solver"
	"github.com/GoSim-25-26J-441/drp-planner/internal/trace"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/logger"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/utils"
)

// Summary tags written to the traces.
const (
	TagLoss            = "loss"
	TagAvgTotalReward  = "avg_total_reward"
	TagTotalReward     = "total_reward"
	TagStdDevReward    = "stddev_total_reward"
	TagMaxTotalReward  = "max_total_reward"
	TagMinTotalReward  = "min_total_reward"
	suffixGradNorm     = "/grad_norm"
	suffixGrad         = "/grad"
	suffixWeightNorm   = "/norm"
	progressLineFormat = "Epoch %5d: loss = %3.6f\r"
)

// BuildConfig holds the training hyperparameters.
type BuildConfig struct {
	LearningRate float64
	BatchSize    int
	Horizon      int
	Solver       solver.Kind
	Loss         nn.Loss

	// Regularizers are optional. The kernel regularizer applies to every
	// kernel parameter, the bias regularizer to every bias.
	KernelRegularizer nn.Regularizer
	BiasRegularizer   nn.Regularizer
}

// ParamStats holds per-parameter debug statistics of one step.
type ParamStats struct {
	Tag        string
	GradNorm   float64
	WeightNorm float64
	Grad       []float64
	Weights    []float64
}

// StepStats is the outcome of the most recent training step.
type StepStats struct {
	Step         int
	Loss         float64
	AvgReward    float64
	RewardVar    float64
	TotalRewards []float64
	Improved     bool
	Duration     time.Duration

	// Set only in debug mode.
	RewardStdDev float64
	RewardMin    float64
	RewardMax    float64
	Params       []ParamStats
}

// Optimizer builds the training graph and runs the training loop.
type Optimizer struct {
	compiler dynamics.Compiler
	policy   *policy.Policy

	logDir         string
	hooks          []Hook
	debug          bool
	logger         *slog.Logger
	progress       io.Writer
	checkpointPath string
	runID          string

	mu    sync.RWMutex
	state models.RunStatus
	cfg   BuildConfig
	last  StepStats

	rollout   *dynamics.Rollout
	avgReward *gorgonia.Node
	rewardVar *gorgonia.Node
	loss      *gorgonia.Node
	solver    gorgonia.Solver
}

// New creates an optimizer for a policy built on compiler.
func New(compiler dynamics.Compiler, p *policy.Policy, opts ...Option) (*Optimizer, error) {
	if compiler == nil {
		return nil, fmt.Errorf("compiler is required")
	}
	if p == nil {
		return nil, fmt.Errorf("policy is required")
	}
	o := &Optimizer{
		compiler: compiler,
		policy:   p,
		logDir:   DefaultLogDir,
		logger:   logger.Default,
		progress: os.Stdout,
		state:    models.RunStatusUnbuilt,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Build adds the reward statistics, loss, regularization and gradient
// nodes to the graph and creates the solver.
func (o *Optimizer) Build(cfg BuildConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != models.RunStatusUnbuilt {
		return &models.StateError{Op: "build", State: o.state}
	}
	if err := validateBuild(cfg); err != nil {
		return err
	}

	rollout, err := o.compiler.Simulate(o.policy, cfg.BatchSize, cfg.Horizon)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	avg, variance, err := rewardMoments(rollout.TotalReward)
	if err != nil {
		return fmt.Errorf("reward statistics: %w", err)
	}
	loss, err := o.buildLoss(rollout, cfg)
	if err != nil {
		return err
	}

	params := o.policy.Params().Nodes()
	if _, err := gorgonia.Grad(loss, params...); err != nil {
		return fmt.Errorf("gradients: %w", err)
	}
	s, err := solver.New(cfg.Solver, cfg.LearningRate)
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.rollout = rollout
	o.avgReward = avg
	o.rewardVar = variance
	o.loss = loss
	o.solver = s
	o.state = models.RunStatusBuilt

	o.logger.Info("Optimizer built",
		"policy", o.policy.Name(),
		"policy_size", o.policy.Size(),
		"solver", cfg.Solver.String(),
		"loss", cfg.Loss.String(),
		"learning_rate", cfg.LearningRate,
		"batch_size", cfg.BatchSize,
		"horizon", cfg.Horizon,
		"debug", o.debug)
	return nil
}

func validateBuild(cfg BuildConfig) error {
	if !(cfg.LearningRate > 0) {
		return &models.ConfigurationError{Field: "learning_rate", Value: fmt.Sprint(cfg.LearningRate), Reason: "must be positive"}
	}
	if cfg.BatchSize <= 0 {
		return &models.ConfigurationError{Field: "batch_size", Value: fmt.Sprint(cfg.BatchSize), Reason: "must be positive"}
	}
	if cfg.Horizon <= 0 {
		return &models.ConfigurationError{Field: "horizon", Value: fmt.Sprint(cfg.Horizon), Reason: "must be positive"}
	}
	if cfg.Solver < 0 || int(cfg.Solver) >= len(solver.Names()) {
		return &models.ConfigurationError{Field: "optimizer", Value: cfg.Solver.String(), Reason: "unknown optimizer"}
	}
	if cfg.Loss < 0 || int(cfg.Loss) >= len(nn.LossNames()) {
		return &models.ConfigurationError{Field: "loss", Value: cfg.Loss.String(), Reason: "unknown loss"}
	}
	return nil
}

// rewardMoments returns the batch mean and variance of the total reward.
func rewardMoments(total *gorgonia.Node) (avg, variance *gorgonia.Node, err error) {
	if avg, err = gorgonia.Mean(total); err != nil {
		return nil, nil, err
	}
	centered, err := gorgonia.Sub(total, avg)
	if err != nil {
		return nil, nil, err
	}
	sq, err := gorgonia.Square(centered)
	if err != nil {
		return nil, nil, err
	}
	if variance, err = gorgonia.Mean(sq); err != nil {
		return nil, nil, err
	}
	return avg, variance, nil
}

// buildLoss sums the surrogate cost of every trajectory, reduces the batch
// with the configured loss and adds the regularization penalties.
func (o *Optimizer) buildLoss(r *dynamics.Rollout, cfg BuildConfig) (*gorgonia.Node, error) {
	perTrajectory, err := gorgonia.Sum(r.SurrogateCost, 1)
	if err != nil {
		return nil, fmt.Errorf("batch loss: %w", err)
	}
	loss, err := cfg.Loss.Apply(perTrajectory)
	if err != nil {
		return nil, fmt.Errorf("loss: %w", err)
	}

	penalize := func(reg nn.Regularizer, role policy.Role) error {
		if reg == nil {
			return nil
		}
		for _, p := range o.policy.Params().WithRole(role) {
			penalty, err := reg.Penalty(p.Node)
			if err != nil {
				return fmt.Errorf("regularize %s: %w", p.Label.Tag(), err)
			}
			if loss, err = gorgonia.Add(loss, penalty); err != nil {
				return fmt.Errorf("regularize %s: %w", p.Label.Tag(), err)
			}
		}
		return nil
	}
	if err := penalize(cfg.KernelRegularizer, policy.RoleKernel); err != nil {
		return nil, err
	}
	if err := penalize(cfg.BiasRegularizer, policy.RoleBias); err != nil {
		return nil, err
	}
	return loss, nil
}

// Run trains for epochs steps and returns the (step, loss) and
// (step, reward) pairs of every step that improved the best average total
// reward of this run.
func (o *Optimizer) Run(epochs int, showProgress bool) (losses, rewards []models.Improvement, err error) {
	o.mu.Lock()
	if o.state != models.RunStatusBuilt && o.state != models.RunStatusFinished {
		state := o.state
		o.mu.Unlock()
		return nil, nil, &models.StateError{Op: "run", State: state}
	}
	if epochs < 0 {
		o.mu.Unlock()
		return nil, nil, &models.ConfigurationError{Field: "epochs", Value: fmt.Sprint(epochs), Reason: "must not be negative"}
	}
	o.state = models.RunStatusRunning
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.state = models.RunStatusFinished
		o.mu.Unlock()
	}()

	losses = []models.Improvement{}
	rewards = []models.Improvement{}

	runID := o.runID
	if runID == "" {
		runID = utils.GenerateRunID()
	}

	traces, err := trace.OpenRun(o.logDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open traces: %w", err)
	}
	defer func() {
		if cerr := traces.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close traces: %w", cerr)
		}
	}()

	sess, err := engine.Open(runID, o.compiler.Graph(), o.policy.Params().Nodes(), o.logger)
	if err != nil {
		return nil, nil, err
	}
	defer sess.Close()

	ready := make([]Hook, 0, len(o.hooks))
	defer func() {
		if terr := teardown(ready); terr != nil && err == nil {
			err = terr
		}
	}()
	for _, h := range o.hooks {
		if err := h.Setup(o, o.compiler); err != nil {
			return nil, nil, fmt.Errorf("hook setup: %w", err)
		}
		ready = append(ready, h)
	}

	o.logger.Info("Training started",
		"run_id", runID,
		"epochs", epochs,
		"log_dir", o.logDir)
	started := time.Now()

	best := math.Inf(-1)
	for step := 0; step < epochs; step++ {
		stats, err := o.step(sess, step)
		if err != nil {
			return nil, nil, fmt.Errorf("step %d: %w", step, err)
		}

		summary := o.summary(stats)
		if err := traces.Train.Write(step, summary...); err != nil {
			return nil, nil, fmt.Errorf("step %d: write train trace: %w", step, err)
		}

		if stats.AvgReward > best {
			best = stats.AvgReward
			stats.Improved = true
			losses = append(losses, models.Improvement{Step: step, Value: stats.Loss})
			rewards = append(rewards, models.Improvement{Step: step, Value: stats.AvgReward})

			if err := traces.Test.Write(step, summary...); err != nil {
				return nil, nil, fmt.Errorf("step %d: write test trace: %w", step, err)
			}
			path, err := o.policy.Save(sess, o.checkpointPath)
			if err != nil {
				return nil, nil, fmt.Errorf("step %d: %w", step, err)
			}
			o.logger.Debug("Reward improved",
				"step", step,
				"avg_total_reward", stats.AvgReward,
				"loss", stats.Loss,
				"checkpoint", path)
		}

		o.mu.Lock()
		o.last = stats
		o.mu.Unlock()

		if showProgress {
			// progress output is best effort
			_, _ = fmt.Fprintf(o.progress, progressLineFormat, step, stats.Loss)
		}

		for _, h := range ready {
			if err := h.Step(sess, step); err != nil {
				return nil, nil, fmt.Errorf("step %d: hook: %w", step, err)
			}
		}
	}

	attrs := []any{
		"run_id", runID,
		"epochs", epochs,
		"improvements", len(rewards),
		"duration", time.Since(started),
	}
	if len(rewards) > 0 {
		attrs = append(attrs, "best_avg_total_reward", best)
	}
	o.logger.Info("Training finished", attrs...)
	return losses, rewards, nil
}

func teardown(hooks []Hook) error {
	var errs []error
	for _, h := range hooks {
		if err := h.Teardown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("hook teardown: %w", err)
	}
	return nil
}

// step runs one forward/backward pass, reads the monitored values and
// applies the solver update.
func (o *Optimizer) step(sess *engine.Session, step int) (StepStats, error) {
	started := time.Now()
	if r, ok := o.compiler.(dynamics.Resampler); ok {
		if err := r.Resample(); err != nil {
			return StepStats{}, err
		}
	}
	if err := sess.Run(); err != nil {
		return StepStats{}, err
	}

	stats := StepStats{Step: step}
	var err error
	if stats.Loss, err = sess.Scalar(o.loss); err != nil {
		return stats, err
	}
	if stats.AvgReward, err = sess.Scalar(o.avgReward); err != nil {
		return stats, err
	}
	if stats.RewardVar, err = sess.Scalar(o.rewardVar); err != nil {
		return stats, err
	}
	if stats.TotalRewards, err = sess.Float64s(o.rollout.TotalReward); err != nil {
		return stats, err
	}
	if o.debug {
		if err := o.debugStats(sess, &stats); err != nil {
			return stats, err
		}
	}

	// solvers reset gradients, so everything reading them runs first
	if err := sess.Apply(o.solver); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(started)
	return stats, nil
}

func (o *Optimizer) debugStats(sess *engine.Session, stats *StepStats) error {
	stats.RewardStdDev = math.Sqrt(stats.RewardVar)
	stats.RewardMin = floats.Min(stats.TotalRewards)
	stats.RewardMax = floats.Max(stats.TotalRewards)

	for _, p := range o.policy.Params().All() {
		grad, err := sess.Gradient(p.Node)
		if err != nil {
			return err
		}
		weights, err := sess.Float64s(p.Node)
		if err != nil {
			return err
		}
		stats.Params = append(stats.Params, ParamStats{
			Tag:        p.Label.Tag(),
			GradNorm:   floats.Norm(grad, 2),
			WeightNorm: floats.Norm(weights, 2),
			Grad:       grad,
			Weights:    weights,
		})
	}
	return nil
}

// summary renders the trace values of a step.
func (o *Optimizer) summary(stats StepStats) []trace.Value {
	values := []trace.Value{
		{Tag: TagLoss, Scalar: stats.Loss},
		{Tag: TagAvgTotalReward, Scalar: stats.AvgReward},
	}
	if !o.debug {
		return values
	}

	values = append(values,
		trace.Value{Tag: TagTotalReward, Histo: trace.NewHistogram(stats.TotalRewards, trace.DefaultBins)},
		trace.Value{Tag: TagStdDevReward, Scalar: stats.RewardStdDev},
		trace.Value{Tag: TagMaxTotalReward, Scalar: stats.RewardMax},
		trace.Value{Tag: TagMinTotalReward, Scalar: stats.RewardMin},
	)
	for _, p := range stats.Params {
		values = append(values,
			trace.Value{Tag: p.Tag + suffixGradNorm, Scalar: p.GradNorm},
			trace.Value{Tag: p.Tag + suffixWeightNorm, Scalar: p.WeightNorm},
		)
		if h := trace.NewHistogram(p.Grad, trace.DefaultBins); h != nil {
			values = append(values, trace.Value{Tag: p.Tag + suffixGrad, Histo: h})
		}
		if h := trace.NewHistogram(p.Weights, trace.DefaultBins); h != nil {
			values = append(values, trace.Value{Tag: p.Tag, Histo: h})
		}
	}
	return values
}

// LastStep returns the statistics of the most recent step.
func (o *Optimizer) LastStep() StepStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	stats := o.last
	stats.TotalRewards = append([]float64(nil), o.last.TotalRewards...)
	stats.Params = append([]ParamStats(nil), o.last.Params...)
	return stats
}

// State returns the lifecycle state.
func (o *Optimizer) State() models.RunStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Config returns the configuration passed to Build.
func (o *Optimizer) Config() BuildConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// LogDir returns the trace root directory.
func (o *Optimizer) LogDir() string {
	return o.logDir
}

// TrainDir returns the directory of the per-step training trace.
func (o *Optimizer) TrainDir() string {
	return filepath.Join(o.logDir, trace.TrainDir)
}

// Policy returns the policy being trained.
func (o *Optimizer) Policy() *policy.Policy {
	return o.policy
}
