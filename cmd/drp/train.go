package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"path/filepath"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/metrics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/monitor"
	"github.com/GoSim-25-26J-441/drp-planner/internal/optimizer"
	"github.com/GoSim-25-26J-441/drp-planner/internal/planner"
	"github.com/GoSim-25-26J-441/drp-planner/internal/policy"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/config"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/logger"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/utils"
)

// result is the outcome of one training run.
type result struct {
	RunID    string
	Rewards  []models.Improvement
	Policy   *policy.Policy
	TraceDir string
	Metrics  *metrics.Collector
}

// Best returns the best average total reward of the run.
func (r *result) Best() float64 {
	if len(r.Rewards) == 0 {
		return math.Inf(-1)
	}
	return r.Rewards[len(r.Rewards)-1].Value
}

// train runs one training session as configured. Traces go to
// {log_dir}/{run_id}.
func train(cfg *config.Config, l *slog.Logger, progress io.Writer) (*result, error) {
	runID := utils.GenerateRunID()
	logDir := filepath.Join(cfg.LogDir, runID)
	l = logger.ForRun(l, runID)

	compiler, err := dynamics.New(cfg.Model.Name, cfg.DynamicsOptions())
	if err != nil {
		return nil, err
	}
	kernelReg, biasReg, err := cfg.Regularizers()
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	hooks := []optimizer.Hook{monitor.NewMetricsHook(collector, metrics.RunLabels(runID))}
	if cfg.Convergence != nil {
		strategy, err := monitor.NewStrategy(cfg.Convergence.Strategy, cfg.ConvergenceConfig())
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, monitor.NewConvergenceHook(strategy, l))
	}
	if cfg.Health.Addr != "" {
		health := monitor.NewHealthHook(nil, cfg.Health.Service)
		stop, err := serveHealth(cfg.Health.Addr, health, l)
		if err != nil {
			return nil, err
		}
		defer stop()
		hooks = append(hooks, health)
	}

	p, err := planner.New(compiler, planner.PolicyConfig{
		Layers:     cfg.Policy.Layers,
		Activation: cfg.Policy.Activation,
		InputNorm:  cfg.Policy.InputLayerNorm,
		HiddenNorm: cfg.Policy.HiddenLayerNorm,
		Seed:       cfg.Policy.Seed,
	},
		planner.WithLogger(l),
		planner.WithRegularizers(kernelReg, biasReg),
		planner.WithOptimizerOptions(
			optimizer.WithLogDir(logDir),
			optimizer.WithHooks(hooks...),
			optimizer.WithDebug(cfg.Training.Debug),
			optimizer.WithProgressWriter(progress),
			optimizer.WithCheckpointPath(cfg.Checkpoint.Path),
			optimizer.WithRunID(runID),
		))
	if err != nil {
		return nil, err
	}

	t := cfg.Training
	if err := p.Build(t.LearningRate, t.BatchSize, t.Horizon, t.Optimizer, t.Loss); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	rewards, trained, traceDir, err := p.Run(t.Epochs, t.ShowProgress)
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	return &result{
		RunID:    runID,
		Rewards:  rewards,
		Policy:   trained,
		TraceDir: traceDir,
		Metrics:  collector,
	}, nil
}

// serveHealth exposes the hook's health service on addr until stop is
// called.
func serveHealth(addr string, h *monitor.HealthHook, l *slog.Logger) (stop func(), err error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for health checks on %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.Server())

	go func() {
		l.Info("Health endpoint listening", "addr", lis.Addr().String(), "service", h.Service())
		if err := srv.Serve(lis); err != nil {
			l.Error("Health endpoint error", "error", err)
		}
	}()
	return srv.GracefulStop, nil
}
