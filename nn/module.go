package nn

import (
	"fmt"
	"strconv"
	"strings"

	"effnet/nn/layers"
	"effnet/tensor"
)

// Module defines a single layer/unit in the network.
type Module = layers.Layer

// Sequential chains multiple Modules in order. Each child has a name that
// prefixes its parameter names, so nested sequences yield dotted paths
// such as "features.3.block.0.weight".
type Sequential struct {
	Layers []Module
	names  []string
}

// NewSequential creates a sequence whose children are named by index.
func NewSequential(mods ...Module) *Sequential {
	s := &Sequential{}
	for _, m := range mods {
		s.Append(m)
	}
	return s
}

// Append adds m named by its index.
func (s *Sequential) Append(m Module) *Sequential {
	return s.Add(strconv.Itoa(len(s.Layers)), m)
}

// Add adds m under an explicit name.
func (s *Sequential) Add(name string, m Module) *Sequential {
	s.Layers = append(s.Layers, m)
	s.names = append(s.names, name)
	return s
}

// Len returns the number of children.
func (s *Sequential) Len() int { return len(s.Layers) }

// Name returns the name of child i.
func (s *Sequential) Name(i int) string { return s.names[i] }

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	var err error
	for i, layer := range s.Layers {
		x, err = layer.Forward(x, mode)
		if err != nil {
			return nil, fmt.Errorf("%s (%s): %w", s.names[i], layer.Tag(), err)
		}
	}
	return x, nil
}

// Backward applies Backward in reverse order.
func (s *Sequential) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i := len(s.Layers) - 1; i >= 0; i-- {
		grad, err = s.Layers[i].Backward(grad)
		if err != nil {
			return nil, fmt.Errorf("%s (%s) backward: %w", s.names[i], s.Layers[i].Tag(), err)
		}
	}
	return grad, nil
}

// Params collects children's parameters, prefixed with the child name.
func (s *Sequential) Params() []*layers.Param {
	var out []*layers.Param
	for i, layer := range s.Layers {
		out = append(out, layers.Prefixed(s.names[i], layer.Params())...)
	}
	return out
}

func (s *Sequential) Tag() string {
	tags := make([]string, len(s.Layers))
	for i, l := range s.Layers {
		tags[i] = l.Tag()
	}
	return "Sequential[" + strings.Join(tags, ",") + "]"
}

// ZeroGrad clears the gradients of all trainable params.
func ZeroGrad(params []*layers.Param) {
	for _, p := range params {
		if p.Trainable() {
			p.Grad.Zero()
		}
	}
}

// CountParams returns the number of trainable scalars.
func CountParams(params []*layers.Param) int {
	n := 0
	for _, p := range params {
		if p.Trainable() {
			n += len(p.Value.Data)
		}
	}
	return n
}
