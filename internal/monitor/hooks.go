package monitor

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/engine"
	"github.com/GoSim-25-26J-441/drp-planner/internal/metrics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/optimizer"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/logger"
)

// MetricsHook records the statistics of every training step into a
// collector.
type MetricsHook struct {
	collector *metrics.Collector
	labels    map[string]string
	opt       *optimizer.Optimizer
}

// NewMetricsHook records into c. A nil collector gets a fresh one.
func NewMetricsHook(c *metrics.Collector, labels map[string]string) *MetricsHook {
	if c == nil {
		c = metrics.NewCollector()
	}
	return &MetricsHook{collector: c, labels: labels}
}

// Collector returns the collector the hook records into.
func (h *MetricsHook) Collector() *metrics.Collector {
	return h.collector
}

func (h *MetricsHook) Setup(o *optimizer.Optimizer, _ dynamics.Compiler) error {
	h.opt = o
	h.collector.Start()
	return nil
}

func (h *MetricsHook) Step(_ *engine.Session, step int) error {
	if h.opt == nil {
		return fmt.Errorf("metrics hook: step %d before setup", step)
	}
	stats := h.opt.LastStep()
	c := h.collector

	c.Record(metrics.MetricLoss, step, stats.Loss, h.labels)
	c.Record(metrics.MetricAvgReward, step, stats.AvgReward, h.labels)
	c.Record(metrics.MetricStepDurationMs, step, float64(stats.Duration.Microseconds())/1000, h.labels)
	if len(stats.TotalRewards) > 0 {
		c.Record(metrics.MetricRewardMin, step, floats.Min(stats.TotalRewards), h.labels)
		c.Record(metrics.MetricRewardMax, step, floats.Max(stats.TotalRewards), h.labels)
	}
	c.Record(metrics.MetricRewardStdDev, step, math.Sqrt(stats.RewardVar), h.labels)
	for _, p := range stats.Params {
		labels := merge(h.labels, metrics.ParamLabels(p.Tag))
		c.Record(metrics.MetricGradientNorm, step, p.GradNorm, labels)
		c.Record(metrics.MetricWeightNorm, step, p.WeightNorm, labels)
	}
	return nil
}

func (h *MetricsHook) Teardown() error {
	h.collector.Stop()
	return nil
}

func merge(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// ConvergenceHook watches the loss history and logs once when the strategy
// reports convergence. It never stops the run.
type ConvergenceHook struct {
	strategy Strategy
	logger   *slog.Logger

	mu        sync.Mutex
	opt       *optimizer.Optimizer
	history   []float64
	converged bool
	step      int
	reason    string
}

// NewConvergenceHook creates a hook for strategy. A nil logger uses the
// default logger.
func NewConvergenceHook(strategy Strategy, l *slog.Logger) *ConvergenceHook {
	if l == nil {
		l = logger.Default
	}
	return &ConvergenceHook{strategy: strategy, logger: l}
}

func (h *ConvergenceHook) Setup(o *optimizer.Optimizer, _ dynamics.Compiler) error {
	if h.strategy == nil {
		return fmt.Errorf("convergence hook: strategy is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opt = o
	h.history = h.history[:0]
	h.converged = false
	h.step = -1
	h.reason = ""
	return nil
}

func (h *ConvergenceHook) Step(_ *engine.Session, step int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.opt == nil {
		return fmt.Errorf("convergence hook: step %d before setup", step)
	}
	h.history = append(h.history, h.opt.LastStep().Loss)
	if h.converged {
		return nil
	}
	if ok, reason := h.strategy.Check(h.history); ok {
		h.converged = true
		h.step = step
		h.reason = reason
		h.logger.Info("Training converged",
			"strategy", h.strategy.Name(),
			"step", step,
			"reason", reason)
	}
	return nil
}

func (h *ConvergenceHook) Teardown() error { return nil }

// Converged reports whether and at which step convergence was detected in
// the current or last run.
func (h *ConvergenceHook) Converged() (bool, int, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.converged, h.step, h.reason
}

// HealthHook reports training status through a gRPC health service: the
// service is SERVING while a run is in progress.
type HealthHook struct {
	server  *health.Server
	service string
}

// DefaultHealthService is the service name the planner reports under.
const DefaultHealthService = "drp.Planner"

// NewHealthHook updates server for service. A nil server gets a fresh one.
func NewHealthHook(server *health.Server, service string) *HealthHook {
	if server == nil {
		server = health.NewServer()
	}
	if service == "" {
		service = DefaultHealthService
	}
	h := &HealthHook{server: server, service: service}
	server.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Server returns the health server to register with a grpc.Server.
func (h *HealthHook) Server() *health.Server {
	return h.server
}

// Service returns the reported service name.
func (h *HealthHook) Service() string {
	return h.service
}

func (h *HealthHook) Setup(*optimizer.Optimizer, dynamics.Compiler) error {
	h.server.SetServingStatus(h.service, healthpb.HealthCheckResponse_SERVING)
	return nil
}

func (h *HealthHook) Step(*engine.Session, int) error { return nil }

func (h *HealthHook) Teardown() error {
	h.server.SetServingStatus(h.service, healthpb.HealthCheckResponse_NOT_SERVING)
	return nil
}

var (
	_ optimizer.Hook = (*MetricsHook)(nil)
	_ optimizer.Hook = (*ConvergenceHook)(nil)
	_ optimizer.Hook = (*HealthHook)(nil)
)
