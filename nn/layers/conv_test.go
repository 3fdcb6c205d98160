package layers

import (
	"testing"

	"effnet/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestConv2D_Identity1x1(t *testing.T) {
	conv, err := NewConv2D(1, 1, 1, 1, 0, 1, false, rand.NewSource(1))
	require.NoError(t, err)
	conv.W.Set(1.0, 0, 0, 0, 0)

	input := tensor.New(1, 1, 3, 3)
	for i := 0; i < 9; i++ {
		input.Data[i] = float64(i + 1)
	}

	output, err := conv.Forward(input, Eval)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 3}, output.Shape)
	assert.Equal(t, input.Data, output.Data, "identity conv should preserve input")
}

func TestConv2D_KnownValues(t *testing.T) {
	// 2x2 all-ones kernel over a 3x3 ramp, no padding: each output is a window sum
	conv, err := NewConv2D(1, 1, 2, 1, 0, 1, true, rand.NewSource(1))
	require.NoError(t, err)
	for i := range conv.W.Data {
		conv.W.Data[i] = 1
	}
	conv.B.Data[0] = 0.5

	input, err := tensor.FromData([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)
	require.NoError(t, err)
	out, err := conv.Forward(input, Eval)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape)
	assert.Equal(t, []float64{12.5, 16.5, 24.5, 28.5}, out.Data)
}

func TestConv2D_OutputShapes(t *testing.T) {
	cases := []struct {
		name                       string
		in, out, k, s, p, g, h, wd int
		wantH, wantW               int
	}{
		{"stem", 3, 32, 3, 2, 1, 1, 32, 32, 16, 16},
		{"same", 8, 8, 3, 1, 1, 1, 7, 7, 7, 7},
		{"depthwise_k5_s2", 6, 6, 5, 2, 2, 6, 9, 9, 5, 5},
		{"pointwise", 16, 4, 1, 1, 0, 1, 5, 3, 5, 3},
		{"grouped", 4, 8, 3, 1, 0, 2, 6, 6, 4, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv, err := NewConv2D(tc.in, tc.out, tc.k, tc.s, tc.p, tc.g, false, rand.NewSource(3))
			require.NoError(t, err)
			h, w := conv.GetOutputShape(tc.h, tc.wd)
			assert.Equal(t, tc.wantH, h)
			assert.Equal(t, tc.wantW, w)

			out, err := conv.Forward(randTensor(1, 2, tc.in, tc.h, tc.wd), Eval)
			require.NoError(t, err)
			assert.Equal(t, []int{2, tc.out, tc.wantH, tc.wantW}, out.Shape)
		})
	}
}

func TestConv2D_RejectsBadConfig(t *testing.T) {
	_, err := NewConv2D(3, 4, 3, 1, 1, 2, false, rand.NewSource(1))
	assert.Error(t, err, "channels not divisible by groups")

	conv, err := NewConv2D(3, 4, 3, 1, 0, 1, false, rand.NewSource(1))
	require.NoError(t, err)
	_, err = conv.Forward(tensor.New(1, 2, 5, 5), Eval)
	assert.Error(t, err, "wrong channel count")
	_, err = conv.Forward(tensor.New(1, 3, 2, 2), Eval)
	assert.Error(t, err, "input smaller than kernel")
	_, err = conv.Forward(tensor.New(3, 5, 5), Eval)
	assert.Error(t, err, "3D input")
}

func TestConv2D_DepthwiseKeepsChannelsSeparate(t *testing.T) {
	conv, err := NewConv2D(2, 2, 1, 1, 0, 2, false, rand.NewSource(1))
	require.NoError(t, err)
	conv.W.Data[0] = 2
	conv.W.Data[1] = -1

	input, err := tensor.FromData([]float64{1, 2, 3, 4}, 1, 2, 1, 2)
	require.NoError(t, err)
	out, err := conv.Forward(input, Eval)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, -3, -4}, out.Data)
}

func TestConv2D_Gradients(t *testing.T) {
	cases := []struct {
		name             string
		in, out, k, s, p, g int
	}{
		{"dense_k3", 2, 3, 3, 1, 1, 1},
		{"strided", 2, 2, 3, 2, 1, 1},
		{"depthwise", 4, 4, 3, 1, 1, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv, err := NewConv2D(tc.in, tc.out, tc.k, tc.s, tc.p, tc.g, true, rand.NewSource(11))
			require.NoError(t, err)
			x := randTensor(5, 2, tc.in, 5, 5)
			checkInputGrad(t, conv, x, Eval, 1e-6)
			checkParamGrads(t, conv, x, Eval, 1e-6)
		})
	}
}

func TestConv2D_BackwardWithoutForward(t *testing.T) {
	conv, err := NewConv2D(1, 1, 1, 1, 0, 1, false, rand.NewSource(1))
	require.NoError(t, err)
	_, err = conv.Backward(tensor.New(1, 1, 1, 1))
	assert.Error(t, err)
}

func TestConv2D_ParamsAndTag(t *testing.T) {
	conv, err := NewConv2D(4, 8, 3, 2, 1, 4, false, rand.NewSource(1))
	require.NoError(t, err)
	params := conv.Params()
	require.Len(t, params, 1)
	assert.Equal(t, "weight", params[0].Name)
	assert.Equal(t, []int{8, 1, 3, 3}, params[0].Value.Shape)
	assert.Equal(t, "Conv2D_4_8_3_3_s2_g4", conv.Tag())

	withBias, err := NewConv2D(4, 8, 1, 1, 0, 1, true, rand.NewSource(1))
	require.NoError(t, err)
	assert.Len(t, withBias.Params(), 2)
}
