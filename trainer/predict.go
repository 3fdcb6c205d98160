package trainer

import (
	"fmt"
	"sort"

	"effnet/nn"
	"effnet/nn/layers"
	"effnet/tensor"
)

// Prediction is one ranked class with its softmax probability.
type Prediction struct {
	Class       int
	Probability float64
}

// Predict returns the k most probable classes for each image in x, best first.
func Predict(model nn.Module, x *tensor.Tensor, k int) ([][]Prediction, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	out, err := model.Forward(x, layers.Eval)
	if err != nil {
		return nil, err
	}
	return TopK(nn.Softmax(out), k), nil
}

// TopK ranks each row of a [N, C] probability matrix.
func TopK(probs *tensor.Tensor, k int) [][]Prediction {
	n, classes := probs.Shape[0], probs.Shape[1]
	k = min(k, classes)
	res := make([][]Prediction, n)
	for i := 0; i < n; i++ {
		row := make([]Prediction, classes)
		for c := 0; c < classes; c++ {
			row[c] = Prediction{Class: c, Probability: probs.Data[i*classes+c]}
		}
		sort.SliceStable(row, func(a, b int) bool { return row[a].Probability > row[b].Probability })
		res[i] = row[:k]
	}
	return res
}
