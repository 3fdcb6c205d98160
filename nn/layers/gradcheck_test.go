package layers

import (
	"testing"

	"effnet/tensor"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func randTensor(seed uint64, shape ...int) *tensor.Tensor {
	r := rand.New(rand.NewSource(seed))
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = r.NormFloat64()
	}
	return t
}

// weightedSum is the scalar probe loss sum(out * w); its gradient w.r.t. out is w.
func weightedSum(out, w *tensor.Tensor) float64 {
	s := 0.0
	for i := range out.Data {
		s += out.Data[i] * w.Data[i]
	}
	return s
}

// checkInputGrad compares Backward against central differences on the input.
func checkInputGrad(t *testing.T, l Layer, x *tensor.Tensor, mode Mode, tol float64) {
	t.Helper()
	out, err := l.Forward(x, mode)
	require.NoError(t, err)
	probe := randTensor(99, out.Shape...)
	dx, err := l.Backward(probe)
	require.NoError(t, err)
	require.Equal(t, x.Shape, dx.Shape)

	const h = 1e-5
	for i := range x.Data {
		xp := x.Clone()
		xp.Data[i] += h
		op, err := l.Forward(xp, mode)
		require.NoError(t, err)
		xm := x.Clone()
		xm.Data[i] -= h
		om, err := l.Forward(xm, mode)
		require.NoError(t, err)
		num := (weightedSum(op, probe) - weightedSum(om, probe)) / (2 * h)
		require.InDelta(t, num, dx.Data[i], tol, "input grad %d", i)
	}
}

// checkParamGrads compares accumulated Param.Grad against central differences.
func checkParamGrads(t *testing.T, l Layer, x *tensor.Tensor, mode Mode, tol float64) {
	t.Helper()
	for _, p := range l.Params() {
		if p.Trainable() {
			p.Grad.Zero()
		}
	}
	out, err := l.Forward(x, mode)
	require.NoError(t, err)
	probe := randTensor(7, out.Shape...)
	_, err = l.Backward(probe)
	require.NoError(t, err)

	const h = 1e-5
	for _, p := range l.Params() {
		if !p.Trainable() {
			continue
		}
		analytic := p.Grad.Clone()
		for i := range p.Value.Data {
			orig := p.Value.Data[i]
			p.Value.Data[i] = orig + h
			op, err := l.Forward(x, mode)
			require.NoError(t, err)
			p.Value.Data[i] = orig - h
			om, err := l.Forward(x, mode)
			require.NoError(t, err)
			p.Value.Data[i] = orig
			num := (weightedSum(op, probe) - weightedSum(om, probe)) / (2 * h)
			require.InDelta(t, num, analytic.Data[i], tol, "%s[%d]", p.Name, i)
		}
	}
}
