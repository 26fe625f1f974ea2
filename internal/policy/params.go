package policy

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// LayerKind locates a parameter in the network.
type LayerKind int

const (
	LayerInput LayerKind = iota
	LayerHidden
	LayerOutput
)

func (k LayerKind) String() string {
	switch k {
	case LayerInput:
		return "input"
	case LayerHidden:
		return "hidden"
	case LayerOutput:
		return "output"
	default:
		return fmt.Sprintf("layer(%d)", int(k))
	}
}

// Role is the function of a parameter inside its layer.
type Role int

const (
	RoleKernel Role = iota
	RoleBias
	RoleGamma
	RoleBeta
)

func (r Role) String() string {
	switch r {
	case RoleKernel:
		return "kernel"
	case RoleBias:
		return "bias"
	case RoleGamma:
		return "gamma"
	case RoleBeta:
		return "beta"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Label identifies a parameter. Input and output layers are keyed by fluent
// name, hidden layers by index.
type Label struct {
	Layer  LayerKind
	Index  int
	Fluent string
	Role   Role
}

// Tag renders the label as a path, e.g. "hidden/0/kernel" or
// "output/move/bias". It is also the checkpoint name of the parameter.
func (l Label) Tag() string {
	if l.Layer == LayerHidden {
		return fmt.Sprintf("%s/%d/%s", l.Layer, l.Index, l.Role)
	}
	return fmt.Sprintf("%s/%s/%s", l.Layer, l.Fluent, l.Role)
}

// Param is a trainable node with its label.
type Param struct {
	Label Label
	Node  *gorgonia.Node
}

// Size returns the number of scalars held by the parameter.
func (p Param) Size() int {
	return p.Node.Shape().TotalSize()
}

// ParamSet is the ordered set of trainable parameters of a policy.
type ParamSet struct {
	params []Param
	byTag  map[string]int
}

func newParamSet() *ParamSet {
	return &ParamSet{byTag: make(map[string]int)}
}

func (s *ParamSet) add(label Label, node *gorgonia.Node) {
	s.byTag[label.Tag()] = len(s.params)
	s.params = append(s.params, Param{Label: label, Node: node})
}

// All returns the parameters in creation order.
func (s *ParamSet) All() []Param {
	return append([]Param(nil), s.params...)
}

// Len returns the number of parameters.
func (s *ParamSet) Len() int {
	return len(s.params)
}

// Nodes returns the parameter nodes in creation order.
func (s *ParamSet) Nodes() gorgonia.Nodes {
	nodes := make(gorgonia.Nodes, len(s.params))
	for i, p := range s.params {
		nodes[i] = p.Node
	}
	return nodes
}

// WithRole returns the parameters playing the given role.
func (s *ParamSet) WithRole(role Role) []Param {
	var out []Param
	for _, p := range s.params {
		if p.Label.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// Lookup finds a parameter by tag.
func (s *ParamSet) Lookup(tag string) (Param, bool) {
	i, ok := s.byTag[tag]
	if !ok {
		return Param{}, false
	}
	return s.params[i], true
}

// Size returns the total number of scalars across all parameters.
func (s *ParamSet) Size() int {
	total := 0
	for _, p := range s.params {
		total += p.Size()
	}
	return total
}
