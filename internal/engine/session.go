// Package engine owns the execution context a training run evaluates its
// graph in. A Session wraps a gorgonia tape machine bound to the policy
// parameters; it is acquired once per run and must be closed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klauspost/cpuid/v2"
	"gorgonia.org/gorgonia"

	"github.com/GoSim-25-26J-441/drp-planner/pkg/logger"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session is closed")

// Session executes a compiled graph and exposes the values it produced.
type Session struct {
	id     string
	g      *gorgonia.ExprGraph
	vm     gorgonia.VM
	params gorgonia.Nodes
	logger *slog.Logger

	mu       sync.RWMutex
	ran      bool
	closed   bool
	passes   int
	started  time.Time
	duration time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// Open compiles g into a tape machine that keeps gradients for params.
func Open(id string, g *gorgonia.ExprGraph, params gorgonia.Nodes, l *slog.Logger) (*Session, error) {
	if g == nil {
		return nil, fmt.Errorf("open session %s: graph is required", id)
	}
	if l == nil {
		l = logger.Default
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		g:       g,
		vm:      gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(params...)),
		params:  params,
		logger:  l,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}

	l.Info("Session opened",
		"session", id,
		"nodes", len(g.AllNodes()),
		"params", len(params),
		"cpu", cpuid.CPU.BrandName,
		"physical_cores", cpuid.CPU.PhysicalCores,
		"logical_cores", cpuid.CPU.LogicalCores,
		"avx2", cpuid.CPU.Supports(cpuid.AVX2),
		"fma3", cpuid.CPU.Supports(cpuid.FMA3))
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Params returns the nodes the session keeps gradients for.
func (s *Session) Params() gorgonia.Nodes {
	return s.params
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Run executes one forward and backward pass over the whole graph.
func (s *Session) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.ran {
		s.vm.Reset()
	}
	if err := s.vm.RunAll(); err != nil {
		return fmt.Errorf("run graph: %w", err)
	}
	s.ran = true
	s.passes++
	return nil
}

// Apply lets the solver update the parameters from the gradients of the
// last pass.
func (s *Session) Apply(solver gorgonia.Solver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.ran {
		return fmt.Errorf("apply solver: graph has not run")
	}
	if err := solver.Step(gorgonia.NodesToValueGrads(s.params)); err != nil {
		return fmt.Errorf("apply solver: %w", err)
	}
	return nil
}

// Passes returns the number of completed Run calls.
func (s *Session) Passes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passes
}

// Scalar returns the value of a scalar node from the last pass.
func (s *Session) Scalar(n *gorgonia.Node) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n.Value() == nil {
		return 0, fmt.Errorf("node %s has no value", n.Name())
	}
	switch v := n.Value().Data().(type) {
	case float64:
		return v, nil
	case []float64:
		if len(v) == 1 {
			return v[0], nil
		}
		return 0, fmt.Errorf("node %s holds %d values, expected a scalar", n.Name(), len(v))
	default:
		return 0, fmt.Errorf("node %s holds %T, expected float64", n.Name(), v)
	}
}

// Float64s returns a copy of the values of a node from the last pass.
func (s *Session) Float64s(n *gorgonia.Node) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n.Value() == nil {
		return nil, fmt.Errorf("node %s has no value", n.Name())
	}
	switch v := n.Value().Data().(type) {
	case []float64:
		return append([]float64(nil), v...), nil
	case float64:
		return []float64{v}, nil
	default:
		return nil, fmt.Errorf("node %s holds %T, expected float64", n.Name(), v)
	}
}

// Gradient returns a copy of the gradient of a parameter from the last pass.
func (s *Session) Gradient(n *gorgonia.Node) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, err := n.Grad()
	if err != nil {
		return nil, fmt.Errorf("gradient of %s: %w", n.Name(), err)
	}
	v, ok := g.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("gradient of %s holds %T, expected []float64", n.Name(), g.Data())
	}
	return append([]float64(nil), v...), nil
}

// Close releases the tape machine. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.duration = time.Since(s.started)
	err := s.vm.Close()

	s.logger.Info("Session closed",
		"session", s.id,
		"passes", s.passes,
		"duration", s.duration)
	return err
}

// Duration returns how long the session was open. It keeps growing until
// Close is called.
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return s.duration
	}
	return time.Since(s.started)
}
