package layers

import (
	"fmt"
	"math"

	"effnet/tensor"
)

// BatchNorm2D normalises each channel over the batch and spatial axes.
// Train mode uses batch statistics and updates the running estimates;
// Eval mode uses the running estimates only.
type BatchNorm2D struct {
	channels int
	Eps      float64
	Momentum float64

	Gamma *tensor.Tensor // [C]
	Beta  *tensor.Tensor // [C]

	RunningMean *tensor.Tensor // [C]
	RunningVar  *tensor.Tensor // [C]

	gradGamma *tensor.Tensor
	gradBeta  *tensor.Tensor

	// Cached forward state for the backward pass
	lastMode Mode
	xhat     *tensor.Tensor
	invStd   []float64
}

// NewBatchNorm2D creates a batch norm with gamma=1, beta=0, running var=1.
func NewBatchNorm2D(channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		channels:    channels,
		Eps:         1e-5,
		Momentum:    0.1,
		Gamma:       tensor.New(channels),
		Beta:        tensor.New(channels),
		RunningMean: tensor.New(channels),
		RunningVar:  tensor.New(channels),
		gradGamma:   tensor.New(channels),
		gradBeta:    tensor.New(channels),
	}
	fill(bn.Gamma, 1)
	fill(bn.RunningVar, 1)
	return bn
}

func (bn *BatchNorm2D) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	n, c, h, w, err := dims4(x)
	if err != nil {
		return nil, err
	}
	if c != bn.channels {
		return nil, fmt.Errorf("expected %d channels, got %d", bn.channels, c)
	}
	hw := h * w
	m := n * hw

	mean := make([]float64, c)
	variance := make([]float64, c)
	if mode == Train {
		for ch := 0; ch < c; ch++ {
			sum := 0.0
			for b := 0; b < n; b++ {
				for _, v := range x.Data[(b*c+ch)*hw : (b*c+ch+1)*hw] {
					sum += v
				}
			}
			mu := sum / float64(m)
			sq := 0.0
			for b := 0; b < n; b++ {
				for _, v := range x.Data[(b*c+ch)*hw : (b*c+ch+1)*hw] {
					d := v - mu
					sq += d * d
				}
			}
			mean[ch] = mu
			variance[ch] = sq / float64(m)

			// Running estimates track the unbiased variance
			unbiased := variance[ch]
			if m > 1 {
				unbiased = sq / float64(m-1)
			}
			bn.RunningMean.Data[ch] = (1-bn.Momentum)*bn.RunningMean.Data[ch] + bn.Momentum*mu
			bn.RunningVar.Data[ch] = (1-bn.Momentum)*bn.RunningVar.Data[ch] + bn.Momentum*unbiased
		}
	} else {
		copy(mean, bn.RunningMean.Data)
		copy(variance, bn.RunningVar.Data)
	}

	out := tensor.New(x.Shape...)
	xhat := tensor.New(x.Shape...)
	invStd := make([]float64, c)
	for ch := 0; ch < c; ch++ {
		invStd[ch] = 1 / math.Sqrt(variance[ch]+bn.Eps)
		g, be := bn.Gamma.Data[ch], bn.Beta.Data[ch]
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for i := base; i < base+hw; i++ {
				xh := (x.Data[i] - mean[ch]) * invStd[ch]
				xhat.Data[i] = xh
				out.Data[i] = g*xh + be
			}
		}
	}

	bn.lastMode = mode
	bn.xhat = xhat
	bn.invStd = invStd
	return out, nil
}

func (bn *BatchNorm2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if bn.xhat == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	if !tensor.SameShape(gradOut, bn.xhat) {
		return nil, fmt.Errorf("gradOut shape %v, want %v", gradOut.Shape, bn.xhat.Shape)
	}
	n, c, h, w, _ := dims4(gradOut)
	hw := h * w
	m := float64(n * hw)

	dx := tensor.New(gradOut.Shape...)
	for ch := 0; ch < c; ch++ {
		sumDy, sumDyXhat := 0.0, 0.0
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for i := base; i < base+hw; i++ {
				sumDy += gradOut.Data[i]
				sumDyXhat += gradOut.Data[i] * bn.xhat.Data[i]
			}
		}
		bn.gradBeta.Data[ch] += sumDy
		bn.gradGamma.Data[ch] += sumDyXhat

		scale := bn.Gamma.Data[ch] * bn.invStd[ch]
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for i := base; i < base+hw; i++ {
				if bn.lastMode == Train {
					// Batch statistics depend on every input in the channel
					dx.Data[i] = scale / m * (m*gradOut.Data[i] - sumDy - bn.xhat.Data[i]*sumDyXhat)
				} else {
					dx.Data[i] = scale * gradOut.Data[i]
				}
			}
		}
	}
	return dx, nil
}

// Params returns gamma and beta plus the running statistics as buffers.
func (bn *BatchNorm2D) Params() []*Param {
	return []*Param{
		{Name: "weight", Value: bn.Gamma, Grad: bn.gradGamma},
		{Name: "bias", Value: bn.Beta, Grad: bn.gradBeta},
		{Name: "running_mean", Value: bn.RunningMean},
		{Name: "running_var", Value: bn.RunningVar},
	}
}

func (bn *BatchNorm2D) Tag() string {
	return fmt.Sprintf("BatchNorm2D_%d", bn.channels)
}
