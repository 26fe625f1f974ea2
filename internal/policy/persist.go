package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gorgonia.org/gorgonia"

	"github.com/GoSim-25-26J-441/drp-planner/internal/checkpoint"
	"github.com/GoSim-25-26J-441/drp-planner/internal/engine"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/models"
)

// CheckpointFile is the file name used when Save is called without a path.
const CheckpointFile = "model.ckpt"

// DefaultCheckpointPath returns {tmp}/{Name()}/model.ckpt.
func (p *Policy) DefaultCheckpointPath() string {
	return filepath.Join(os.TempDir(), p.Name(), CheckpointFile)
}

// Save writes every parameter to path, or to DefaultCheckpointPath when
// path is empty, and returns the path written. sess may be nil when no
// training session is open.
func (p *Policy) Save(sess *engine.Session, path string) (string, error) {
	if path == "" {
		path = p.DefaultCheckpointPath()
	}

	tensors := make([]checkpoint.Tensor, 0, p.params.Len())
	for _, param := range p.params.All() {
		data, err := values(sess, param.Node)
		if err != nil {
			return "", fmt.Errorf("save %s: %w", param.Label.Tag(), err)
		}
		tensors = append(tensors, checkpoint.Tensor{
			Name:  param.Label.Tag(),
			Shape: append([]int(nil), param.Node.Shape()...),
			Data:  data,
		})
	}

	if err := checkpoint.WriteFile(path, tensors); err != nil {
		return "", fmt.Errorf("save policy: %w", err)
	}
	p.lastSaved = path
	return path, nil
}

// LastSaved returns the path of the most recent Save, or "".
func (p *Policy) LastSaved() string {
	return p.lastSaved
}

// Restore loads parameter values from path, or from the last saved path
// when path is empty. Values are copied into the existing parameters, so
// graphs and sessions built on them see the restored weights.
func (p *Policy) Restore(sess *engine.Session, path string) error {
	if path == "" {
		path = p.lastSaved
	}
	if path == "" {
		return &models.RestoreError{Reason: "no path given and no checkpoint saved"}
	}

	tensors, err := checkpoint.ReadFile(path)
	if err != nil {
		return &models.RestoreError{Path: path, Err: err}
	}
	byName := make(map[string]checkpoint.Tensor, len(tensors))
	for _, t := range tensors {
		byName[t.Name] = t
	}

	// validate everything before touching any parameter
	targets := make([][]float64, p.params.Len())
	for i, param := range p.params.All() {
		tag := param.Label.Tag()
		t, ok := byName[tag]
		if !ok {
			return &models.RestoreError{Path: path, Reason: "missing parameter " + tag}
		}
		shape := param.Node.Shape()
		if !sameShape(shape, t.Shape) {
			return &models.RestoreError{Path: path, Reason: fmt.Sprintf("parameter %s has shape %v, checkpoint holds %v", tag, []int(shape), t.Shape)}
		}
		dst, err := backing(param.Node)
		if err != nil {
			return &models.RestoreError{Path: path, Reason: tag, Err: err}
		}
		targets[i] = dst
	}

	for i, param := range p.params.All() {
		copy(targets[i], byName[param.Label.Tag()].Data)
	}
	return nil
}

func sameShape(a []int, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func values(sess *engine.Session, n *gorgonia.Node) ([]float64, error) {
	if sess != nil {
		return sess.Float64s(n)
	}
	data, err := backing(n)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), data...), nil
}

func backing(n *gorgonia.Node) ([]float64, error) {
	if n.Value() == nil {
		return nil, fmt.Errorf("%s has no value", n.Name())
	}
	data, ok := n.Value().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("%s holds %T, expected []float64", n.Name(), n.Value().Data())
	}
	return data, nil
}
