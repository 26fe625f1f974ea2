package optimizer

import (
	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/engine"
)

// Hook observes a training run. Setup is called once before the first
// step, Step after every step, and Teardown once when Run returns, including
// when it returns an error. A Hook returning an error aborts the run.
type Hook interface {
	Setup(o *Optimizer, compiler dynamics.Compiler) error
	Step(sess *engine.Session, step int) error
	Teardown() error
}

// HookFunc adapts a step function to a Hook with no setup or teardown.
type HookFunc func(sess *engine.Session, step int) error

func (f HookFunc) Setup(*Optimizer, dynamics.Compiler) error { return nil }

func (f HookFunc) Step(sess *engine.Session, step int) error { return f(sess, step) }

func (f HookFunc) Teardown() error { return nil }
