package layers

import (
	"fmt"

	"effnet/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dropout zeroes each element with probability P in Train mode and scales
// survivors by 1/(1-P). Eval mode is the identity.
type Dropout struct {
	P    float64
	keep distuv.Bernoulli

	mask []float64 // scaled keep mask from the last Train forward, nil after Eval
}

// NewDropout creates a dropout layer drawing from src.
func NewDropout(p float64, src rand.Source) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0,1), got %v", p)
	}
	return &Dropout{P: p, keep: distuv.Bernoulli{P: 1 - p, Src: src}}, nil
}

func (d *Dropout) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	if mode != Train || d.P == 0 {
		d.mask = nil
		return x.Clone(), nil
	}
	out := tensor.New(x.Shape...)
	mask := make([]float64, len(x.Data))
	scale := 1 / (1 - d.P)
	for i, v := range x.Data {
		mask[i] = d.keep.Rand() * scale
		out.Data[i] = v * mask[i]
	}
	d.mask = mask
	return out, nil
}

func (d *Dropout) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if d.mask == nil {
		return gradOut.Clone(), nil
	}
	if len(gradOut.Data) != len(d.mask) {
		return nil, fmt.Errorf("gradOut has %d elements, mask has %d", len(gradOut.Data), len(d.mask))
	}
	dx := tensor.New(gradOut.Shape...)
	for i, g := range gradOut.Data {
		dx.Data[i] = g * d.mask[i]
	}
	return dx, nil
}

func (d *Dropout) Params() []*Param { return nil }

func (d *Dropout) Tag() string { return fmt.Sprintf("Dropout_%.2f", d.P) }
