package layers

import (
	"fmt"

	"effnet/tensor"
)

// AdaptiveAvgPool2D averages every channel down to a single 1x1 cell,
// [N,C,H,W] -> [N,C,1,1].
type AdaptiveAvgPool2D struct {
	lastShape []int
}

func NewAdaptiveAvgPool2D() *AdaptiveAvgPool2D { return &AdaptiveAvgPool2D{} }

func (a *AdaptiveAvgPool2D) Forward(x *tensor.Tensor, _ Mode) (*tensor.Tensor, error) {
	n, c, h, w, err := dims4(x)
	if err != nil {
		return nil, err
	}
	hw := h * w
	out := tensor.New(n, c, 1, 1)
	for i := 0; i < n*c; i++ {
		sum := 0.0
		for _, v := range x.Data[i*hw : (i+1)*hw] {
			sum += v
		}
		out.Data[i] = sum / float64(hw)
	}
	a.lastShape = append(a.lastShape[:0], x.Shape...)
	return out, nil
}

func (a *AdaptiveAvgPool2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if a.lastShape == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	n, c, h, w := a.lastShape[0], a.lastShape[1], a.lastShape[2], a.lastShape[3]
	if len(gradOut.Data) != n*c {
		return nil, fmt.Errorf("gradOut shape %v, want [%d %d 1 1]", gradOut.Shape, n, c)
	}
	hw := h * w
	dx := tensor.New(n, c, h, w)
	for i := 0; i < n*c; i++ {
		g := gradOut.Data[i] / float64(hw)
		row := dx.Data[i*hw : (i+1)*hw]
		for j := range row {
			row[j] = g
		}
	}
	return dx, nil
}

func (a *AdaptiveAvgPool2D) Params() []*Param { return nil }

func (a *AdaptiveAvgPool2D) Tag() string { return "AdaptiveAvgPool2D" }
