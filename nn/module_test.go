package nn

import (
	"errors"
	"math"
	"testing"

	"effnet/nn/layers"
	"effnet/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// dummy layer: adds a constant
type addLayer struct{ c float64 }

func (l *addLayer) Forward(x *tensor.Tensor, _ layers.Mode) (*tensor.Tensor, error) {
	out := x.Clone()
	for i := range out.Data {
		out.Data[i] += l.c
	}
	return out, nil
}
func (l *addLayer) Backward(g *tensor.Tensor) (*tensor.Tensor, error) { return g, nil }
func (l *addLayer) Params() []*layers.Param                           { return nil }
func (l *addLayer) Tag() string                                       { return "add" }

// dummy layer: error on forward
type errLayer struct{}

func (l *errLayer) Forward(*tensor.Tensor, layers.Mode) (*tensor.Tensor, error) {
	return nil, errors.New("fail")
}
func (l *errLayer) Backward(*tensor.Tensor) (*tensor.Tensor, error) { return nil, nil }
func (l *errLayer) Params() []*layers.Param                       { return nil }
func (l *errLayer) Tag() string                                   { return "err" }

func TestSequentialPlain(t *testing.T) {
	a := tensor.New(1)
	a.Data[0] = 1
	seq := NewSequential(&addLayer{c: 2}, &addLayer{c: 3})
	out, err := seq.Forward(a, layers.Eval)
	require.NoError(t, err)
	assert.Equal(t, 6.0, out.Data[0])
	assert.Equal(t, 2, seq.Len())
	assert.Equal(t, "Sequential[add,add]", seq.Tag())
}

func TestSequentialForwardErrorNamesChild(t *testing.T) {
	seq := NewSequential(&addLayer{c: 0}).Add("broken", &errLayer{})
	_, err := seq.Forward(tensor.New(1), layers.Eval)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestSequentialParamNames(t *testing.T) {
	src := rand.NewSource(1)
	lin, err := layers.NewLinear(2, 3, src)
	require.NoError(t, err)
	inner := NewSequential(layers.NewFlatten(), lin)
	outer := NewSequential().Add("classifier", inner)

	var names []string
	for _, p := range outer.Params() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"classifier.1.weight", "classifier.1.bias"}, names)
	assert.Equal(t, 9, CountParams(outer.Params()))
}

func TestSoftmaxRows(t *testing.T) {
	logits, err := tensor.FromData([]float64{1, 2, 3, 1000, 1000, 1000}, 2, 3)
	require.NoError(t, err)
	p := Softmax(logits)
	for r := 0; r < 2; r++ {
		sum := 0.0
		for c := 0; c < 3; c++ {
			sum += p.Data[r*3+c]
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
	assert.InDelta(t, 1.0/3, p.Data[3], 1e-12, "large logits must not overflow")
	assert.Greater(t, p.Data[2], p.Data[1])
}

func TestCrossEntropyLoss(t *testing.T) {
	logits, err := tensor.FromData([]float64{0, 0, 0, 0, 10, 0}, 2, 3)
	require.NoError(t, err)
	var ce CrossEntropyLoss
	loss, err := ce.Forward(logits, []int{0, 1})
	require.NoError(t, err)
	p := Softmax(logits)
	want := (-logOf(p.Data[0]) - logOf(p.Data[4])) / 2
	assert.InDelta(t, want, loss, 1e-12)

	grad, err := ce.Backward()
	require.NoError(t, err)
	for i := range grad.Data {
		expected := p.Data[i]
		if i == 0 || i == 4 {
			expected -= 1
		}
		assert.InDelta(t, expected/2, grad.Data[i], 1e-12)
	}

	_, err = ce.Forward(logits, []int{0})
	assert.Error(t, err)
	_, err = ce.Forward(logits, []int{0, 3})
	assert.Error(t, err)
	_, err = (&CrossEntropyLoss{}).Backward()
	assert.Error(t, err)
}

func TestSGDMomentumAndWeightDecay(t *testing.T) {
	p := &layers.Param{Name: "w", Value: tensor.NewWithData([]float64{1}), Grad: tensor.NewWithData([]float64{0.5})}
	buf := &layers.Param{Name: "running_mean", Value: tensor.NewWithData([]float64{3})}
	opt := NewSGD([]*layers.Param{p, buf}, 0.9, 0.1)

	// step 1: g = 0.5 + 0.1*1 = 0.6; v = 0.6; w = 1 - 0.1*0.6 = 0.94
	opt.Step(0.1)
	assert.InDelta(t, 0.94, p.Value.Data[0], 1e-12)
	// step 2: g = 0.5 + 0.094 = 0.594; v = 0.54 + 0.594 = 1.134; w = 0.94 - 0.1134
	opt.Step(0.1)
	assert.InDelta(t, 0.8266, p.Value.Data[0], 1e-12)
	assert.Equal(t, 3.0, buf.Value.Data[0], "buffers are not optimized")

	opt.ZeroGrad()
	assert.Equal(t, 0.0, p.Grad.Data[0])
}

func TestSGDPlain(t *testing.T) {
	p := &layers.Param{Name: "w", Value: tensor.NewWithData([]float64{2}), Grad: tensor.NewWithData([]float64{1})}
	NewSGD([]*layers.Param{p}, 0, 0).Step(0.5)
	assert.Equal(t, 1.5, p.Value.Data[0])
}

func TestMultiStepScheduler(t *testing.T) {
	s := NewMultiStepScheduler(0.1, []int{80, 40}, 0.1)
	assert.InDelta(t, 0.1, s.GetLR(0), 1e-15)
	assert.InDelta(t, 0.1, s.GetLR(39), 1e-15)
	assert.InDelta(t, 0.01, s.GetLR(40), 1e-15)
	assert.InDelta(t, 0.01, s.GetLR(79), 1e-15)
	assert.InDelta(t, 0.001, s.GetLR(80), 1e-15)
	assert.InDelta(t, 0.001, s.GetLR(119), 1e-15)
	assert.Contains(t, s.Name(), "[40 80]")
}

func logOf(v float64) float64 { return math.Log(v) }
