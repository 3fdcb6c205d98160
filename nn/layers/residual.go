package layers

import (
	"fmt"

	"effnet/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ResidualBlock computes Main(x) + x. In Train mode the Main branch goes
// through stochastic depth: each sample keeps it with probability
// SurvivalProb (rescaled by 1/SurvivalProb) or drops it entirely.
// Eval mode always adds the unscaled branch.
type ResidualBlock struct {
	Main         Layer
	SurvivalProb float64

	keep distuv.Bernoulli

	// per-sample branch multiplier from the last Train forward, nil after Eval
	lastScale []float64
}

// NewResidualBlock wraps main with a skip connection.
func NewResidualBlock(main Layer, survivalProb float64, src rand.Source) (*ResidualBlock, error) {
	if survivalProb <= 0 || survivalProb > 1 {
		return nil, fmt.Errorf("survival probability must be in (0,1], got %v", survivalProb)
	}
	return &ResidualBlock{
		Main:         main,
		SurvivalProb: survivalProb,
		keep:         distuv.Bernoulli{P: survivalProb, Src: src},
	}, nil
}

func (r *ResidualBlock) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	y, err := r.Main.Forward(x, mode)
	if err != nil {
		return nil, err
	}
	if !tensor.SameShape(x, y) {
		return nil, fmt.Errorf("residual branch changed shape %v -> %v", x.Shape, y.Shape)
	}

	r.lastScale = nil
	if mode == Train {
		y = r.stochasticDepth(y)
	}
	return tensor.Add(y, x)
}

// stochasticDepth zeroes whole samples of the branch output in place.
func (r *ResidualBlock) stochasticDepth(y *tensor.Tensor) *tensor.Tensor {
	n := y.Shape[0]
	per := len(y.Data) / n
	scale := make([]float64, n)
	for b := 0; b < n; b++ {
		scale[b] = r.keep.Rand() / r.SurvivalProb
		row := y.Data[b*per : (b+1)*per]
		for i := range row {
			row[i] *= scale[b]
		}
	}
	r.lastScale = scale
	return y
}

func (r *ResidualBlock) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	branchGrad := g
	if r.lastScale != nil {
		branchGrad = g.Clone()
		n := len(r.lastScale)
		per := len(g.Data) / n
		for b := 0; b < n; b++ {
			row := branchGrad.Data[b*per : (b+1)*per]
			for i := range row {
				row[i] *= r.lastScale[b]
			}
		}
	}
	dx, err := r.Main.Backward(branchGrad)
	if err != nil {
		return nil, err
	}
	// return grad accumulated from both paths
	if err := tensor.AddInPlace(dx, g); err != nil {
		return nil, err
	}
	return dx, nil
}

// Params are the branch's; the skip path has none.
func (r *ResidualBlock) Params() []*Param {
	return r.Main.Params()
}

func (r *ResidualBlock) Tag() string {
	return fmt.Sprintf("ResidualBlock[%s]", r.Main.Tag())
}
