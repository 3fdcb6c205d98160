package nn

import (
	"fmt"
	"math"

	"effnet/tensor"

	"gonum.org/v1/gonum/floats"
)

// CrossEntropyLoss is softmax followed by negative log-likelihood, averaged
// over the batch. Forward caches the probabilities for Backward.
type CrossEntropyLoss struct {
	probs  *tensor.Tensor
	labels []int
}

// Forward returns the mean loss of logits [N, C] against class labels.
func (c *CrossEntropyLoss) Forward(logits *tensor.Tensor, labels []int) (float64, error) {
	if len(logits.Shape) != 2 {
		return 0, fmt.Errorf("logits must be [N,C], got %v", logits.Shape)
	}
	n, classes := logits.Shape[0], logits.Shape[1]
	if len(labels) != n {
		return 0, fmt.Errorf("%d labels for batch of %d", len(labels), n)
	}
	probs := Softmax(logits)
	loss := 0.0
	for i, y := range labels {
		if y < 0 || y >= classes {
			return 0, fmt.Errorf("label %d out of range [0,%d)", y, classes)
		}
		loss -= math.Log(math.Max(probs.Data[i*classes+y], 1e-300))
	}
	c.probs = probs
	c.labels = labels
	return loss / float64(n), nil
}

// Backward computes the gradient of the mean loss w.r.t. the logits:
// (softmax_output - one_hot_label) / N
func (c *CrossEntropyLoss) Backward() (*tensor.Tensor, error) {
	if c.probs == nil {
		return nil, fmt.Errorf("backward called before forward")
	}
	n, classes := c.probs.Shape[0], c.probs.Shape[1]
	grad := c.probs.Clone()
	for i, y := range c.labels {
		grad.Data[i*classes+y] -= 1
	}
	for i := range grad.Data {
		grad.Data[i] /= float64(n)
	}
	return grad, nil
}

// Softmax applies the softmax function to each row of a [N, C] tensor.
// A 1D tensor is treated as a single row.
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	cols := logits.Shape[len(logits.Shape)-1]
	out := tensor.New(logits.Shape...)
	for off := 0; off < len(logits.Data); off += cols {
		row := logits.Data[off : off+cols]
		dst := out.Data[off : off+cols]
		maxLogit := floats.Max(row)
		for i, v := range row {
			dst[i] = math.Exp(v - maxLogit)
		}
		floats.Scale(1/floats.Sum(dst), dst)
	}
	return out
}
