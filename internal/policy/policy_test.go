package policy

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/nn"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// upperOnly is a linear model whose action is bounded above by 2.
type upperOnly struct {
	*dynamics.Linear
}

func (m upperOnly) ActionBounds(state []*gorgonia.Node) (map[string]dynamics.Bounds, error) {
	return map[string]dynamics.Bounds{"u": {Upper: gorgonia.NewConstant(2.0)}}, nil
}

func stateInput(g *gorgonia.ExprGraph, name string, batch, width int, fill float64) *gorgonia.Node {
	data := make([]float64, batch*width)
	for i := range data {
		data[i] = fill + float64(i)
	}
	value := tensor.New(tensor.WithShape(batch, width), tensor.WithBacking(data))
	return gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(batch, width), gorgonia.WithName(name), gorgonia.WithValue(value))
}

func evaluate(t *testing.T, c dynamics.Compiler, p *Policy, state []*gorgonia.Node) []float64 {
	t.Helper()
	actions, err := p.Evaluate(state, gorgonia.NewConstant(0.0))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	vm := gorgonia.NewTapeMachine(c.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	return append([]float64(nil), actions[0].Value().Data().([]float64)...)
}

func TestNewValidatesLayers(t *testing.T) {
	c := dynamics.NewLinear(dynamics.Options{Seed: 1})
	_, err := New(c, Config{Layers: []int{4, 0}})
	var cfgErr *models.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "layers" {
		t.Errorf("expected field 'layers', got %q", cfgErr.Field)
	}

	if _, err := New(c, Config{Layers: []int{4}, Activation: nn.Activation(99)}); err == nil {
		t.Error("expected error for out-of-range activation")
	}
	if _, err := New(nil, Config{}); err == nil {
		t.Error("expected error for nil compiler")
	}
}

func TestNameAndSize(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantName   string
		wantSize   int
		wantParams int
	}{
		{"single layer", Config{Layers: []int{4}, Activation: nn.ActivationReLU}, "drp-fc-layers=4", 2*4 + 4 + 4*2 + 2, 4},
		{"two layers", Config{Layers: []int{4, 3}, Activation: nn.ActivationTanh}, "drp-fc-layers=4+3", 2*4 + 4 + 4*3 + 3 + 3*2 + 2, 6},
		{"hidden norm", Config{Layers: []int{4}, HiddenNorm: true}, "drp-fc-layers=4", 2*4 + 4 + 4 + 4 + 4*2 + 2, 6},
		{"input norm", Config{Layers: []int{4}, InputNorm: true}, "drp-fc-layers=4", 2 + 2 + 2*4 + 4 + 4*2 + 2, 6},
		{"crelu doubles", Config{Layers: []int{4}, Activation: nn.ActivationCReLU}, "drp-fc-layers=4", 2*4 + 4 + 8*2 + 2, 4},
		{"no hidden", Config{}, "drp-fc-layers=", 2*2 + 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dynamics.NewNavigation(dynamics.Options{Seed: 1})
			p, err := New(c, tt.cfg)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
			if p.Size() != tt.wantSize {
				t.Errorf("Size() = %d, want %d", p.Size(), tt.wantSize)
			}
			if p.Params().Len() != tt.wantParams {
				t.Errorf("expected %d params, got %d", tt.wantParams, p.Params().Len())
			}
		})
	}
}

func TestParamLabels(t *testing.T) {
	c := dynamics.NewNavigation(dynamics.Options{Seed: 1})
	p, err := New(c, Config{Layers: []int{3}, HiddenNorm: true, InputNorm: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{
		"input/location/gamma", "input/location/beta",
		"hidden/0/kernel", "hidden/0/bias", "hidden/0/gamma", "hidden/0/beta",
		"output/move/kernel", "output/move/bias",
	} {
		param, ok := p.Params().Lookup(tag)
		if !ok {
			t.Errorf("missing parameter %s", tag)
			continue
		}
		if param.Node.Name() != tag {
			t.Errorf("node name %q, want %q", param.Node.Name(), tag)
		}
	}
	if n := len(p.Params().WithRole(RoleKernel)); n != 2 {
		t.Errorf("expected 2 kernels, got %d", n)
	}
	if n := len(p.Params().WithRole(RoleBias)); n != 2 {
		t.Errorf("expected 2 biases, got %d", n)
	}
}

func TestEvaluateShapesAndBounds(t *testing.T) {
	tests := []struct {
		name     string
		compiler func() dynamics.Compiler
		width    int
		check    func(v float64) bool
	}{
		{"both bounds", func() dynamics.Compiler { return dynamics.NewNavigation(dynamics.Options{Seed: 1, MaxStep: 1}) }, 2,
			func(v float64) bool { return v > -1 && v < 1 }},
		{"lower only", func() dynamics.Compiler { return dynamics.NewReservoir(dynamics.Options{Seed: 1, Reservoirs: 3}) }, 3,
			func(v float64) bool { return v > 0 }},
		{"upper only", func() dynamics.Compiler { return upperOnly{dynamics.NewLinear(dynamics.Options{Seed: 1})} }, 1,
			func(v float64) bool { return v < 2 }},
		{"unbounded", func() dynamics.Compiler { return dynamics.NewLinear(dynamics.Options{Seed: 1}) }, 1,
			func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.compiler()
			p, err := New(c, Config{Layers: []int{5}, Activation: nn.ActivationTanh, Seed: 3})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			state := []*gorgonia.Node{stateInput(c.Graph(), "state", 4, tt.width, -3)}
			actions, err := p.Evaluate(state, gorgonia.NewConstant(0.0))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if len(actions) != len(c.ActionFluents()) {
				t.Fatalf("expected %d actions, got %d", len(c.ActionFluents()), len(actions))
			}
			want := c.ActionFluents()[0].BatchShape(4)
			if !actions[0].Shape().Eq(want) {
				t.Errorf("action shape %v, want %v", actions[0].Shape(), want)
			}

			vm := gorgonia.NewTapeMachine(c.Graph())
			defer vm.Close()
			if err := vm.RunAll(); err != nil {
				t.Fatalf("RunAll failed: %v", err)
			}
			for i, v := range actions[0].Value().Data().([]float64) {
				if !tt.check(v) {
					t.Errorf("action %d = %v violates its bounds", i, v)
				}
			}
		})
	}
}

func TestEvaluateReusesParams(t *testing.T) {
	c := dynamics.NewLinear(dynamics.Options{Seed: 1})
	p, err := New(c, Config{Layers: []int{3}, Activation: nn.ActivationReLU, Seed: 2})
	if err != nil {
		t.Fatal(err)
	}
	before := len(c.Graph().AllNodes())
	params := p.Params().Len()
	for i := 0; i < 3; i++ {
		if _, err := p.Evaluate([]*gorgonia.Node{stateInput(c.Graph(), fmt.Sprintf("x%d", i), 2, 1, float64(i))}, gorgonia.NewConstant(float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if p.Params().Len() != params {
		t.Errorf("expected Evaluate to keep %d params, got %d", params, p.Params().Len())
	}
	if len(c.Graph().AllNodes()) <= before {
		t.Error("expected Evaluate to add computation nodes")
	}
}

func TestEvaluateShapeErrors(t *testing.T) {
	c := dynamics.NewNavigation(dynamics.Options{Seed: 1})
	p, err := New(c, Config{Layers: []int{2}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		state  []*gorgonia.Node
		fluent string
	}{
		{"missing state", nil, "state"},
		{"wrong width", []*gorgonia.Node{stateInput(c.Graph(), "wide", 4, 3, 0)}, "location"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Evaluate(tt.state, gorgonia.NewConstant(0.0))
			var shapeErr *models.ShapeError
			if !errors.As(err, &shapeErr) {
				t.Fatalf("expected ShapeError, got %v", err)
			}
			if shapeErr.Fluent != tt.fluent {
				t.Errorf("expected fluent %q, got %q", tt.fluent, shapeErr.Fluent)
			}
		})
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	c := dynamics.NewNavigation(dynamics.Options{Seed: 1})
	p, err := New(c, Config{Layers: []int{4}, Activation: nn.ActivationELU, HiddenNorm: true, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	state := []*gorgonia.Node{stateInput(c.Graph(), "state", 3, 2, 1)}
	before := evaluate(t, c, p, state)

	path := filepath.Join(t.TempDir(), "ckpt", "model.ckpt")
	written, err := p.Save(nil, path)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if written != path || p.LastSaved() != path {
		t.Errorf("expected %s to be recorded, got %s / %s", path, written, p.LastSaved())
	}

	for _, param := range p.Params().All() {
		data := param.Node.Value().Data().([]float64)
		for i := range data {
			data[i] += 0.5
		}
	}

	if err := p.Restore(nil, ""); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	after := evaluate(t, c, p, []*gorgonia.Node{stateInput(c.Graph(), "state2", 3, 2, 1)})
	for i := range before {
		if math.Abs(before[i]-after[i]) > 1e-6 {
			t.Errorf("action %d: %v before save, %v after restore", i, before[i], after[i])
		}
	}
}

func TestRestoreErrors(t *testing.T) {
	c := dynamics.NewNavigation(dynamics.Options{Seed: 1})
	p, err := New(c, Config{Layers: []int{4}})
	if err != nil {
		t.Fatal(err)
	}

	var restoreErr *models.RestoreError
	if err := p.Restore(nil, ""); !errors.As(err, &restoreErr) {
		t.Errorf("expected RestoreError without a saved path, got %v", err)
	}
	if err := p.Restore(nil, filepath.Join(t.TempDir(), "absent.ckpt")); !errors.As(err, &restoreErr) {
		t.Errorf("expected RestoreError for a missing file, got %v", err)
	}

	other, err := New(dynamics.NewNavigation(dynamics.Options{Seed: 1}), Config{Layers: []int{3}})
	if err != nil {
		t.Fatal(err)
	}
	path, err := other.Save(nil, filepath.Join(t.TempDir(), "other.ckpt"))
	if err != nil {
		t.Fatal(err)
	}
	err = p.Restore(nil, path)
	if !errors.As(err, &restoreErr) {
		t.Fatalf("expected RestoreError for mismatched shapes, got %v", err)
	}
	if restoreErr.Path != path {
		t.Errorf("expected path %s in error, got %s", path, restoreErr.Path)
	}

	normed, err := New(dynamics.NewNavigation(dynamics.Options{Seed: 1}), Config{Layers: []int{4}, HiddenNorm: true})
	if err != nil {
		t.Fatal(err)
	}
	plainPath, err := p.Save(nil, filepath.Join(t.TempDir(), "plain.ckpt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := normed.Restore(nil, plainPath); !errors.As(err, &restoreErr) {
		t.Errorf("expected RestoreError for a missing parameter, got %v", err)
	}
}

func TestDefaultCheckpointPath(t *testing.T) {
	c := dynamics.NewLinear(dynamics.Options{Seed: 1})
	p, err := New(c, Config{Layers: []int{8, 4}})
	if err != nil {
		t.Fatal(err)
	}
	path := p.DefaultCheckpointPath()
	if filepath.Base(path) != CheckpointFile || filepath.Base(filepath.Dir(path)) != "drp-fc-layers=8+4" {
		t.Errorf("unexpected default path %s", path)
	}
}
