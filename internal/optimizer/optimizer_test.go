package optimizer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/engine"
	"github.com/GoSim-25-26J-441/drp-planner/internal/nn"
	"github.com/GoSim-25-26J-441/drp-planner/internal/policy"
	"github.com/GoSim-25-26J-441/drp-planner/internal/solver"
	"github.com/GoSim-25-26J-441/drp-planner/internal/trace"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/logger"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// recordingHook counts lifecycle calls and optionally fails a step.
type recordingHook struct {
	setups, steps, teardowns int
	failSetup                bool
	failAt                   int
	seen                     []int
	optimizer                *Optimizer
}

func (h *recordingHook) Setup(o *Optimizer, c dynamics.Compiler) error {
	h.setups++
	h.optimizer = o
	if h.failSetup {
		return errors.New("setup failed")
	}
	return nil
}

func (h *recordingHook) Step(sess *engine.Session, step int) error {
	h.steps++
	h.seen = append(h.seen, step)
	if h.failAt >= 0 && step == h.failAt {
		return errors.New("step failed")
	}
	return nil
}

func (h *recordingHook) Teardown() error {
	h.teardowns++
	return nil
}

func newHook() *recordingHook {
	return &recordingHook{failAt: -1}
}

func defaultBuild() BuildConfig {
	return BuildConfig{
		LearningRate: 0.01,
		BatchSize:    8,
		Horizon:      5,
		Solver:       solver.GradientDescent,
		Loss:         nn.LossLinear,
	}
}

func newTestOptimizer(t *testing.T, opts ...Option) *Optimizer {
	t.Helper()
	c := dynamics.NewLinear(dynamics.Options{Seed: 1, Initial: 2, InitialStd: 0.5})
	p, err := policy.New(c, policy.Config{Layers: []int{4}, Activation: nn.ActivationReLU, Seed: 1})
	if err != nil {
		t.Fatalf("policy.New failed: %v", err)
	}
	dir := t.TempDir()
	base := []Option{
		WithLogDir(filepath.Join(dir, "logs")),
		WithCheckpointPath(filepath.Join(dir, "ckpt", "model.ckpt")),
		WithLogger(logger.Discard()),
		WithProgressWriter(&bytes.Buffer{}),
	}
	o, err := New(c, p, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func TestNewRequiresCollaborators(t *testing.T) {
	c := dynamics.NewLinear(dynamics.Options{Seed: 1})
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil compiler")
	}
	if _, err := New(c, nil); err == nil {
		t.Error("expected error for nil policy")
	}
}

func TestRunBeforeBuild(t *testing.T) {
	o := newTestOptimizer(t)
	_, _, err := o.Run(3, false)
	var stateErr *models.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if stateErr.State != models.RunStatusUnbuilt {
		t.Errorf("expected unbuilt state, got %s", stateErr.State)
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*BuildConfig)
		field string
	}{
		{"zero learning rate", func(c *BuildConfig) { c.LearningRate = 0 }, "learning_rate"},
		{"negative batch", func(c *BuildConfig) { c.BatchSize = -1 }, "batch_size"},
		{"zero horizon", func(c *BuildConfig) { c.Horizon = 0 }, "horizon"},
		{"unknown solver", func(c *BuildConfig) { c.Solver = solver.Kind(42) }, "optimizer"},
		{"unknown loss", func(c *BuildConfig) { c.Loss = nn.Loss(42) }, "loss"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOptimizer(t)
			cfg := defaultBuild()
			tt.edit(&cfg)
			err := o.Build(cfg)
			var cfgErr *models.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, cfgErr.Field)
			}
			if o.State() != models.RunStatusUnbuilt {
				t.Errorf("expected optimizer to stay unbuilt, got %s", o.State())
			}
		})
	}
}

func TestBuildTwice(t *testing.T) {
	o := newTestOptimizer(t)
	if err := o.Build(defaultBuild()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if o.State() != models.RunStatusBuilt {
		t.Errorf("expected built state, got %s", o.State())
	}
	var stateErr *models.StateError
	if err := o.Build(defaultBuild()); !errors.As(err, &stateErr) {
		t.Errorf("expected StateError on second Build, got %v", err)
	}
}

func TestRunZeroAndNegativeEpochs(t *testing.T) {
	hook := newHook()
	o := newTestOptimizer(t, WithHooks(hook))
	if err := o.Build(defaultBuild()); err != nil {
		t.Fatal(err)
	}

	losses, rewards, err := o.Run(0, false)
	if err != nil {
		t.Fatalf("Run(0) failed: %v", err)
	}
	if losses == nil || rewards == nil || len(losses) != 0 || len(rewards) != 0 {
		t.Errorf("expected empty non-nil slices, got %v, %v", losses, rewards)
	}
	if hook.setups != 1 || hook.steps != 0 || hook.teardowns != 1 {
		t.Errorf("expected setup and teardown without steps, got %d/%d/%d", hook.setups, hook.steps, hook.teardowns)
	}

	var cfgErr *models.ConfigurationError
	if _, _, err := o.Run(-1, false); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError for negative epochs, got %v", err)
	}
}

func TestRunRecordsImprovements(t *testing.T) {
	hook := newHook()
	progress := &bytes.Buffer{}
	o := newTestOptimizer(t, WithHooks(hook), WithProgressWriter(progress))
	if err := o.Build(defaultBuild()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	const epochs = 5
	losses, rewards, err := o.Run(epochs, true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rewards) < 1 || len(rewards) > epochs {
		t.Fatalf("expected 1..%d improvements, got %d", epochs, len(rewards))
	}
	if len(losses) != len(rewards) {
		t.Fatalf("expected one loss per improvement, got %d and %d", len(losses), len(rewards))
	}
	if rewards[0].Step != 0 {
		t.Errorf("expected the first step to improve on -Inf, got step %d", rewards[0].Step)
	}
	for i := range rewards {
		if losses[i].Step != rewards[i].Step {
			t.Errorf("improvement %d: loss step %d, reward step %d", i, losses[i].Step, rewards[i].Step)
		}
		if rewards[i].Step < 0 || rewards[i].Step >= epochs {
			t.Errorf("improvement %d: step %d out of range", i, rewards[i].Step)
		}
		if i > 0 {
			if rewards[i].Step <= rewards[i-1].Step {
				t.Errorf("steps not increasing: %v", rewards)
			}
			if rewards[i].Value <= rewards[i-1].Value {
				t.Errorf("rewards not strictly increasing: %v", rewards)
			}
		}
	}

	if hook.setups != 1 || hook.steps != epochs || hook.teardowns != 1 {
		t.Errorf("unexpected hook calls: setup=%d step=%d teardown=%d", hook.setups, hook.steps, hook.teardowns)
	}
	for i, s := range hook.seen {
		if s != i {
			t.Errorf("hook saw steps %v, expected 0..%d in order", hook.seen, epochs-1)
			break
		}
	}
	if hook.optimizer != o {
		t.Error("expected Setup to receive the optimizer")
	}

	if last := o.LastStep(); last.Step != epochs-1 || len(last.TotalRewards) != 8 {
		t.Errorf("unexpected last step %+v", last)
	}
	if o.State() != models.RunStatusFinished {
		t.Errorf("expected finished state, got %s", o.State())
	}
	if !strings.Contains(progress.String(), "Epoch     0: loss = ") {
		t.Errorf("unexpected progress output %q", progress.String())
	}

	for _, sub := range []string{trace.TrainDir, trace.TestDir} {
		files, err := trace.Files(filepath.Join(o.LogDir(), sub))
		if err != nil || len(files) != 1 {
			t.Fatalf("expected one %s event file, got %v (%v)", sub, files, err)
		}
	}
	train, _ := trace.Files(o.TrainDir())
	events, err := trace.ReadFile(train[0])
	if err != nil {
		t.Fatalf("read train trace: %v", err)
	}
	if len(events) != epochs+1 {
		t.Errorf("expected %d train events, got %d", epochs+1, len(events))
	}
	test, _ := trace.Files(filepath.Join(o.LogDir(), trace.TestDir))
	testEvents, err := trace.ReadFile(test[0])
	if err != nil {
		t.Fatalf("read test trace: %v", err)
	}
	if len(testEvents) != len(rewards)+1 {
		t.Errorf("expected %d test events, got %d", len(rewards)+1, len(testEvents))
	}

	if _, err := os.Stat(o.Policy().LastSaved()); err != nil {
		t.Errorf("expected a checkpoint after an improvement: %v", err)
	}
}

func TestRunIsRepeatable(t *testing.T) {
	o := newTestOptimizer(t)
	if err := o.Build(defaultBuild()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Run(2, false); err != nil {
		t.Fatal(err)
	}
	_, rewards, err := o.Run(2, false)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(rewards) == 0 || rewards[0].Step != 0 {
		t.Errorf("expected best reward to start over for every run, got %v", rewards)
	}
}

func TestHookStepErrorStillTearsDown(t *testing.T) {
	failing := newHook()
	failing.failAt = 1
	other := newHook()
	o := newTestOptimizer(t, WithHooks(failing, other))
	if err := o.Build(defaultBuild()); err != nil {
		t.Fatal(err)
	}

	_, _, err := o.Run(5, false)
	if err == nil {
		t.Fatal("expected Run to fail")
	}
	if failing.teardowns != 1 || other.teardowns != 1 {
		t.Errorf("expected every hook torn down once, got %d and %d", failing.teardowns, other.teardowns)
	}
	if failing.steps != 2 || other.steps != 1 {
		t.Errorf("expected the run to stop at the failing step, got %d and %d", failing.steps, other.steps)
	}
	if o.State() != models.RunStatusFinished {
		t.Errorf("expected finished state after failure, got %s", o.State())
	}
}

func TestHookSetupErrorTearsDownEarlierHooks(t *testing.T) {
	first := newHook()
	broken := newHook()
	broken.failSetup = true
	o := newTestOptimizer(t, WithHooks(first, broken))
	if err := o.Build(defaultBuild()); err != nil {
		t.Fatal(err)
	}

	if _, _, err := o.Run(3, false); err == nil {
		t.Fatal("expected Run to fail")
	}
	if first.teardowns != 1 {
		t.Errorf("expected the set-up hook to be torn down, got %d", first.teardowns)
	}
	if broken.teardowns != 0 || broken.steps != 0 {
		t.Errorf("expected the failed hook to be skipped, got %+v", broken)
	}
}

func TestHookFunc(t *testing.T) {
	calls := 0
	o := newTestOptimizer(t, WithHooks(HookFunc(func(sess *engine.Session, step int) error {
		calls++
		if sess.Passes() != step+1 {
			t.Errorf("step %d: expected %d passes, got %d", step, step+1, sess.Passes())
		}
		return nil
	})))
	if err := o.Build(defaultBuild()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Run(3, false); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDebugTraces(t *testing.T) {
	o := newTestOptimizer(t, WithDebug(true))
	cfg := defaultBuild()
	cfg.KernelRegularizer = nn.L2{Scale: 0.01}
	cfg.BiasRegularizer = nn.L1{Scale: 0.01}
	cfg.Solver = solver.Adam
	cfg.Loss = nn.LossHuber
	if err := o.Build(cfg); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, _, err := o.Run(2, false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	last := o.LastStep()
	if len(last.Params) != o.Policy().Params().Len() {
		t.Fatalf("expected stats for %d params, got %d", o.Policy().Params().Len(), len(last.Params))
	}
	if last.RewardMin > last.RewardMax {
		t.Errorf("reward min %f above max %f", last.RewardMin, last.RewardMax)
	}

	files, err := trace.Files(o.TrainDir())
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one train event file, got %v", files)
	}
	events, err := trace.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	tags := map[string]bool{}
	for _, v := range events[1].Values {
		tags[v.Tag] = true
	}
	for _, want := range []string{
		TagLoss, TagAvgTotalReward, TagTotalReward, TagStdDevReward,
		"hidden/0/kernel/grad_norm", "hidden/0/kernel/norm", "hidden/0/kernel/grad", "output/u/bias",
	} {
		if !tags[want] {
			t.Errorf("missing trace tag %s", want)
		}
	}
}
