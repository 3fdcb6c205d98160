package efficientnet

import (
	"testing"

	"effnet/nn/layers"
	"effnet/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func sources(seed uint64) func() rand.Source {
	master := rand.New(rand.NewSource(seed))
	return func() rand.Source { return rand.NewSource(master.Uint64()) }
}

func randFeatureMap(seed uint64, shape ...int) *tensor.Tensor {
	r := rand.New(rand.NewSource(seed))
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = r.NormFloat64()
	}
	return x
}

func TestBlockModeString(t *testing.T) {
	assert.Equal(t, "plain", BlockMode(0).String())
	assert.Equal(t, "expand", Expand.String())
	assert.Equal(t, "expand+residual", (Expand | UseResidual).String())
}

func TestResidualOnlyWhenShapesMatch(t *testing.T) {
	cases := []struct {
		name            string
		in, out, stride int
		residual        bool
	}{
		{"same", 8, 8, 1, true},
		{"channels_change", 8, 12, 1, false},
		{"strided", 8, 8, 2, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blk, err := NewInvertedResidualBlock(tc.in, tc.out, 3, tc.stride, 2, 4, 0.8, sources(1))
			require.NoError(t, err)
			assert.Equal(t, tc.residual, blk.Mode.Has(UseResidual))

			x := randFeatureMap(2, 2, tc.in, 6, 6)
			out, err := blk.Forward(x, layers.Eval)
			require.NoError(t, err)
			want := 6
			if tc.stride == 2 {
				want = 3
			}
			assert.Equal(t, []int{2, tc.out, want, want}, out.Shape)

			body, err := blk.body.Forward(x, layers.Eval)
			require.NoError(t, err)
			if tc.residual {
				for i := range out.Data {
					assert.Equal(t, body.Data[i]+x.Data[i], out.Data[i])
				}
			} else {
				assert.Equal(t, body.Data, out.Data, "no skip connection")
			}
		})
	}
}

func TestEvalIsDeterministic(t *testing.T) {
	blk, err := NewInvertedResidualBlock(8, 8, 5, 1, 6, 4, 0.5, sources(3))
	require.NoError(t, err)
	x := randFeatureMap(4, 3, 8, 5, 5)
	a, err := blk.Forward(x, layers.Eval)
	require.NoError(t, err)
	b, err := blk.Forward(x, layers.Eval)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestTrainDropsWholeSamples(t *testing.T) {
	blk, err := NewInvertedResidualBlock(4, 4, 3, 1, 1, 4, 0.5, sources(5))
	require.NoError(t, err)
	x := randFeatureMap(6, 64, 4, 3, 3)
	out, err := blk.Forward(x, layers.Train)
	require.NoError(t, err)

	per := 4 * 3 * 3
	dropped := 0
	for n := 0; n < 64; n++ {
		same := true
		for i := n * per; i < (n+1)*per; i++ {
			if out.Data[i] != x.Data[i] {
				same = false
				break
			}
		}
		if same {
			dropped++
		}
	}
	assert.Greater(t, dropped, 10)
	assert.Less(t, dropped, 54)
}

func TestInvertedResidualGradient(t *testing.T) {
	blk, err := NewInvertedResidualBlock(4, 4, 3, 1, 2, 4, 0.8, sources(7))
	require.NoError(t, err)
	x := randFeatureMap(8, 2, 4, 3, 3)

	out, err := blk.Forward(x, layers.Eval)
	require.NoError(t, err)
	probe := randFeatureMap(9, out.Shape...)
	dx, err := blk.Backward(probe)
	require.NoError(t, err)

	const h = 1e-5
	for _, i := range []int{0, 7, 20, 35, 50, 71} {
		xp, xm := x.Clone(), x.Clone()
		xp.Data[i] += h
		xm.Data[i] -= h
		op, err := blk.Forward(xp, layers.Eval)
		require.NoError(t, err)
		om, err := blk.Forward(xm, layers.Eval)
		require.NoError(t, err)
		num := 0.0
		for j := range op.Data {
			num += (op.Data[j] - om.Data[j]) * probe.Data[j]
		}
		num /= 2 * h
		assert.InDelta(t, num, dx.Data[i], 1e-5, "input %d", i)
	}
}

func TestConvBlockTag(t *testing.T) {
	cb, err := NewConvBlock(3, 32, 3, 2, 1, 1, rand.NewSource(1))
	require.NoError(t, err)
	assert.Equal(t, "ConvBlock(3->32, k3, s2, g1)", cb.Tag())
	assert.Len(t, cb.Params(), 5)
}
