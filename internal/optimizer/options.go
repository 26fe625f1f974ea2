package optimizer

import (
	"io"
	"log/slog"
)

// DefaultLogDir is where traces go when no log directory is configured.
const DefaultLogDir = "/tmp"

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogDir sets the directory receiving the train/ and test/ traces.
func WithLogDir(dir string) Option {
	return func(o *Optimizer) {
		if dir != "" {
			o.logDir = dir
		}
	}
}

// WithHooks appends monitoring hooks. Hooks run in the order given.
func WithHooks(hooks ...Hook) Option {
	return func(o *Optimizer) {
		for _, h := range hooks {
			if h != nil {
				o.hooks = append(o.hooks, h)
			}
		}
	}
}

// WithDebug enables reward, gradient and weight statistics in the traces.
func WithDebug(debug bool) Option {
	return func(o *Optimizer) { o.debug = debug }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgressWriter sets where progress lines are printed.
func WithProgressWriter(w io.Writer) Option {
	return func(o *Optimizer) {
		if w != nil {
			o.progress = w
		}
	}
}

// WithCheckpointPath sets where the policy is saved on every improvement.
// An empty path keeps the policy's default location.
func WithCheckpointPath(path string) Option {
	return func(o *Optimizer) { o.checkpointPath = path }
}

// WithRunID fixes the identifier of the training session. By default a
// fresh one is generated for every Run.
func WithRunID(id string) Option {
	return func(o *Optimizer) { o.runID = id }
}
