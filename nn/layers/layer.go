package layers

import (
	"fmt"
	"math"

	"effnet/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Mode selects how a layer evaluates its forward pass. Layers with
// stochastic or batch-dependent behaviour (dropout, stochastic depth,
// batch norm) read it; every other layer ignores it.
type Mode int

const (
	// Eval is deterministic inference.
	Eval Mode = iota
	// Train enables dropout, stochastic depth and batch statistics.
	Train
)

func (m Mode) String() string {
	switch m {
	case Eval:
		return "eval"
	case Train:
		return "train"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Param is a named tensor owned by a layer. Grad is nil for buffers
// (e.g. batch norm running statistics) that are saved but never optimized.
type Param struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

// Trainable reports whether the optimizer should update p.
func (p *Param) Trainable() bool { return p.Grad != nil }

// Layer is a single differentiable unit.
//
// Backward takes the gradient of the loss with respect to the output of the
// most recent Forward call, accumulates parameter gradients into Param.Grad,
// and returns the gradient with respect to that call's input.
type Layer interface {
	Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*Param
	Tag() string
}

// Prefixed returns params renamed to prefix.name, sharing tensors with the originals.
func Prefixed(prefix string, params []*Param) []*Param {
	out := make([]*Param, len(params))
	for i, p := range params {
		out[i] = &Param{Name: prefix + "." + p.Name, Value: p.Value, Grad: p.Grad}
	}
	return out
}

// chain runs layers in order. Used by composite layers for their inner path.
type chain []Layer

func (c chain) forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	var err error
	for _, l := range c {
		x, err = l.Forward(x, mode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.Tag(), err)
		}
	}
	return x, nil
}

func (c chain) backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		g, err = c[i].Backward(g)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c[i].Tag(), err)
		}
	}
	return g, nil
}

func (c chain) params(names []string) []*Param {
	var out []*Param
	for i, l := range c {
		out = append(out, Prefixed(names[i], l.Params())...)
	}
	return out
}

// uniformInit fills t from U(-bound, bound), the default fan-in scheme for
// convolution and linear weights.
func uniformInit(t *tensor.Tensor, fanIn int, src rand.Source) {
	bound := 1 / math.Sqrt(float64(fanIn))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}

func fill(t *tensor.Tensor, v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// dims4 unpacks an NCHW shape.
func dims4(x *tensor.Tensor) (n, c, h, w int, err error) {
	if len(x.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("input must be 4D [N,C,H,W], got %v", x.Shape)
	}
	return x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3], nil
}
