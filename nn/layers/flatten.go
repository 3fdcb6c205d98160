package layers

import (
	"fmt"

	"effnet/tensor"
)

// Flatten keeps the batch axis and collapses the rest: [N, ...] -> [N, D].
type Flatten struct {
	lastShape []int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(x *tensor.Tensor, _ Mode) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("flatten needs a batch axis, got shape %v", x.Shape)
	}
	n := x.Shape[0]
	y := tensor.New(n, len(x.Data)/n)
	copy(y.Data, x.Data)
	f.lastShape = append(f.lastShape[:0], x.Shape...)
	return y, nil
}

func (f *Flatten) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	if f.lastShape == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	dx := tensor.New(f.lastShape...)
	if len(dx.Data) != len(g.Data) {
		return nil, fmt.Errorf("gradOut shape %v incompatible with %v", g.Shape, f.lastShape)
	}
	copy(dx.Data, g.Data)
	return dx, nil
}

func (f *Flatten) Params() []*Param { return nil }

func (f *Flatten) Tag() string {
	return "Flatten"
}
