package layers

import (
	"fmt"

	"effnet/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully-connected layer y = x·Wᵀ + b over a batch [N, inDim].
// ForwardCipher evaluates the same map on an encrypted feature vector.
type Linear struct {
	W, B *tensor.Tensor // [outDim, inDim], [outDim]

	gradW, gradB *tensor.Tensor

	lastInput *tensor.Tensor
}

// NewLinear(inDim→outDim) sets up W,B with fan-in uniform initialisation.
func NewLinear(inDim, outDim int, src rand.Source) (*Linear, error) {
	if inDim <= 0 || outDim <= 0 {
		return nil, fmt.Errorf("invalid linear dims %d->%d", inDim, outDim)
	}
	l := &Linear{
		W:     tensor.New(outDim, inDim),
		B:     tensor.New(outDim),
		gradW: tensor.New(outDim, inDim),
		gradB: tensor.New(outDim),
	}
	uniformInit(l.W, inDim, src)
	uniformInit(l.B, inDim, src)
	return l, nil
}

// InDim returns the input feature count.
func (l *Linear) InDim() int { return l.W.Shape[1] }

// OutDim returns the output feature count.
func (l *Linear) OutDim() int { return l.W.Shape[0] }

// Forward computes y = x·Wᵀ + b for x of shape [N, inDim].
func (l *Linear) Forward(x *tensor.Tensor, _ Mode) (*tensor.Tensor, error) {
	outDim, inDim := l.OutDim(), l.InDim()
	if len(x.Shape) != 2 || x.Shape[1] != inDim {
		return nil, fmt.Errorf("expected input [N,%d], got %v", inDim, x.Shape)
	}
	n := x.Shape[0]
	out := tensor.New(n, outDim)
	dst := mat.NewDense(n, outDim, out.Data)
	dst.Mul(mat.NewDense(n, inDim, x.Data), mat.NewDense(outDim, inDim, l.W.Data).T())

	// Broadcast bias across batch
	for i := 0; i < n; i++ {
		row := out.Data[i*outDim : (i+1)*outDim]
		for j := range row {
			row[j] += l.B.Data[j]
		}
	}
	// Cache input for backward
	l.lastInput = x
	return out, nil
}

// Backward accumulates dW = gradOutᵀ·x, dB = Σ gradOut and returns gradOut·W.
func (l *Linear) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.lastInput == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	outDim, inDim := l.OutDim(), l.InDim()
	n := l.lastInput.Shape[0]
	if len(gradOut.Shape) != 2 || gradOut.Shape[0] != n || gradOut.Shape[1] != outDim {
		return nil, fmt.Errorf("gradOut shape %v, want [%d %d]", gradOut.Shape, n, outDim)
	}
	g := mat.NewDense(n, outDim, gradOut.Data)
	x := mat.NewDense(n, inDim, l.lastInput.Data)

	var dW mat.Dense
	dW.Mul(g.T(), x)
	gw := mat.NewDense(outDim, inDim, l.gradW.Data)
	gw.Add(gw, &dW)

	for i := 0; i < n; i++ {
		for j := 0; j < outDim; j++ {
			l.gradB.Data[j] += gradOut.Data[i*outDim+j]
		}
	}

	gradIn := tensor.New(n, inDim)
	dx := mat.NewDense(n, inDim, gradIn.Data)
	dx.Mul(g, mat.NewDense(outDim, inDim, l.W.Data))
	return gradIn, nil
}

func (l *Linear) Params() []*Param {
	return []*Param{
		{Name: "weight", Value: l.W, Grad: l.gradW},
		{Name: "bias", Value: l.B, Grad: l.gradB},
	}
}

func (l *Linear) Tag() string {
	return fmt.Sprintf("Linear_%d_%d", l.InDim(), l.OutDim())
}
