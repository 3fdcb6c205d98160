package layers

import (
	"fmt"
	"math"

	"effnet/tensor"
)

type actFunc struct {
	fwd func(x float64) float64
	// deriv gets both the input and the forward output.
	deriv func(x, y float64) float64
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

var activations = map[string]actFunc{
	// SiLU (Swish): x * sigmoid(x)
	"SiLU": {
		fwd: func(x float64) float64 { return x * sigmoid(x) },
		deriv: func(x, _ float64) float64 {
			s := sigmoid(x)
			return s * (1 + x*(1-s))
		},
	},
	"Sigmoid": {
		fwd:   sigmoid,
		deriv: func(_, y float64) float64 { return y * (1 - y) },
	},
	"ReLU": {
		fwd: func(x float64) float64 { return math.Max(0, x) },
		deriv: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	},
}

// Activation applies an element-wise nonlinearity.
type Activation struct {
	name string
	fn   actFunc

	lastInput  *tensor.Tensor
	lastOutput *tensor.Tensor
}

// NewActivation looks up one of SiLU, Sigmoid or ReLU.
func NewActivation(name string) (*Activation, error) {
	fn, ok := activations[name]
	if !ok {
		return nil, fmt.Errorf("unknown activation %q", name)
	}
	return &Activation{name: name, fn: fn}, nil
}

// MustActivation is NewActivation for names known at compile time.
func MustActivation(name string) *Activation {
	a, err := NewActivation(name)
	if err != nil {
		panic(err)
	}
	return a
}

func (a *Activation) Forward(x *tensor.Tensor, _ Mode) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = a.fn.fwd(v)
	}
	a.lastInput = x
	a.lastOutput = out
	return out, nil
}

func (a *Activation) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if a.lastInput == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	if !tensor.SameShape(gradOut, a.lastInput) {
		return nil, fmt.Errorf("gradOut shape %v, want %v", gradOut.Shape, a.lastInput.Shape)
	}
	dx := tensor.New(gradOut.Shape...)
	for i, g := range gradOut.Data {
		dx.Data[i] = g * a.fn.deriv(a.lastInput.Data[i], a.lastOutput.Data[i])
	}
	return dx, nil
}

func (a *Activation) Params() []*Param { return nil }

func (a *Activation) Tag() string { return a.name }
