package efficientnet

import (
	"errors"
	"strings"
	"testing"

	"effnet/nn/layers"
	"effnet/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func randImages(seed uint64, n, h, w int) *tensor.Tensor {
	r := rand.New(rand.NewSource(seed))
	x := tensor.New(n, 3, h, w)
	for i := range x.Data {
		x.Data[i] = r.NormFloat64()
	}
	return x
}

func TestNewB0Structure(t *testing.T) {
	m, err := New("b0", 100, WithSeed(1))
	require.NoError(t, err)

	features := m.Features()
	require.Equal(t, 18, features.Len(), "stem + 16 blocks + head")
	_, isStem := features.Layers[0].(*ConvBlock)
	assert.True(t, isStem)
	_, isHead := features.Layers[17].(*ConvBlock)
	assert.True(t, isHead)
	assert.Equal(t, 1280, m.FeatureDim())

	first := features.Layers[1].(*InvertedResidualBlock)
	assert.Equal(t, 32, first.In)
	assert.Equal(t, 16, first.Out)
	assert.False(t, first.Mode.Has(Expand), "expand ratio 1 skips expansion")
	assert.False(t, first.Mode.Has(UseResidual))

	second := features.Layers[2].(*InvertedResidualBlock)
	assert.True(t, second.Mode.Has(Expand))
	assert.Equal(t, 96, second.Hidden)

	third := features.Layers[3].(*InvertedResidualBlock)
	assert.Equal(t, Expand|UseResidual, third.Mode)
	assert.Equal(t, DefaultSurvivalProb, third.SurvivalProb())
}

func TestForwardShapes(t *testing.T) {
	versions := []string{"b0", "b1"}
	if !testing.Short() {
		versions = append(versions, "b2", "b3")
	}
	for _, v := range versions {
		t.Run(v, func(t *testing.T) {
			m, err := New(v, 10, WithSeed(2))
			require.NoError(t, err)
			out, err := m.Forward(randImages(3, 2, 32, 32), layers.Eval)
			require.NoError(t, err)
			assert.Equal(t, []int{2, 10}, out.Shape)
		})
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	m, err := New("b0", 10, WithSeed(1))
	require.NoError(t, err)
	_, err = m.Forward(tensor.New(1, 1, 32, 32), layers.Eval)
	assert.Error(t, err)
	_, err = m.Forward(tensor.New(3, 32, 32), layers.Eval)
	assert.Error(t, err)
}

func TestSpatialShrinksOncePerStage(t *testing.T) {
	m, err := New("b0", 10, WithSeed(4))
	require.NoError(t, err)
	x, err := m.Features().Layers[0].Forward(randImages(5, 1, 32, 32), layers.Eval)
	require.NoError(t, err)
	assert.Equal(t, 16, x.Shape[2])

	for i := 1; i < 17; i++ {
		blk := m.Features().Layers[i].(*InvertedResidualBlock)
		before := x.Shape[2]
		x, err = blk.Forward(x, layers.Eval)
		require.NoError(t, err)
		if blk.Stride == 2 {
			assert.Equal(t, (before+1)/2, x.Shape[2], "block %d", i)
		} else {
			assert.Equal(t, before, x.Shape[2], "block %d", i)
		}
		assert.Equal(t, blk.Out, x.Shape[1])
	}
	strided := 0
	for i := 1; i < 17; i++ {
		if m.Features().Layers[i].(*InvertedResidualBlock).Stride == 2 {
			strided++
		}
	}
	assert.Equal(t, 4, strided, "one strided block in each of the four stride-2 stages")
}

func TestUnknownVersionFailsFast(t *testing.T) {
	m, err := New("b9", 100)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, ErrUnknownProfile))
}

func TestInvalidConfig(t *testing.T) {
	_, err := New("b0", 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	_, err = New("b0", 10, WithSurvivalProb(0))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	_, err = New("b0", 10, WithReduction(-1))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestSurvivalProbIsConfigurable(t *testing.T) {
	m, err := New("b0", 10, WithSeed(1), WithSurvivalProb(0.5))
	require.NoError(t, err)
	for _, l := range m.Features().Layers[1:17] {
		blk := l.(*InvertedResidualBlock)
		if blk.Mode.Has(UseResidual) {
			assert.Equal(t, 0.5, blk.SurvivalProb())
		} else {
			assert.Equal(t, 1.0, blk.SurvivalProb())
		}
	}
}

func TestSeedIsDeterministic(t *testing.T) {
	a, err := New("b0", 10, WithSeed(42))
	require.NoError(t, err)
	b, err := New("b0", 10, WithSeed(42))
	require.NoError(t, err)
	x := randImages(6, 2, 32, 32)
	outA, err := a.Forward(x, layers.Eval)
	require.NoError(t, err)
	outB, err := b.Forward(x, layers.Eval)
	require.NoError(t, err)
	assert.Equal(t, outA.Data, outB.Data)
}

func TestParamNames(t *testing.T) {
	m, err := New("b0", 100, WithSeed(1))
	require.NoError(t, err)
	names := map[string]bool{}
	for _, p := range m.Params() {
		assert.False(t, names[p.Name], "duplicate %s", p.Name)
		names[p.Name] = true
	}
	for _, want := range []string{
		"features.0.cnn.weight",
		"features.0.bn.running_var",
		"features.1.conv.0.cnn.weight",
		"features.1.conv.1.se.1.weight",
		"features.2.expand_conv.cnn.weight",
		"features.2.conv.2.weight",
		"features.2.conv.3.bias",
		"features.17.bn.weight",
		"classifier.1.weight",
		"classifier.1.bias",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
	assert.False(t, names["features.1.expand_conv.cnn.weight"])
}

func TestNumParamsB0(t *testing.T) {
	m, err := New("b0", 1000, WithSeed(1))
	require.NoError(t, err)
	// expansion is 3x3 rather than 1x1, so this is larger than the reference 5.3M
	assert.Greater(t, m.NumParams(), 5_000_000)
	assert.Equal(t, m.NumParams(), m.NumParams())
}

func TestEmbedFeedsHead(t *testing.T) {
	m, err := New("b0", 7, WithSeed(8))
	require.NoError(t, err)
	x := randImages(9, 2, 32, 32)

	emb, err := m.Embed(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, m.FeatureDim()}, emb.Shape)

	viaHead, err := m.Head().Forward(emb, layers.Eval)
	require.NoError(t, err)
	full, err := m.Forward(x, layers.Eval)
	require.NoError(t, err)
	assert.InDeltaSlice(t, full.Data, viaHead.Data, 1e-12)
}

func TestTrainModeBackward(t *testing.T) {
	m, err := New("b0", 5, WithSeed(10))
	require.NoError(t, err)
	x := randImages(11, 2, 32, 32)
	out, err := m.Forward(x, layers.Train)
	require.NoError(t, err)

	g := tensor.New(out.Shape...)
	for i := range g.Data {
		g.Data[i] = 1
	}
	dx, err := m.Backward(g)
	require.NoError(t, err)
	assert.Equal(t, x.Shape, dx.Shape)

	nonZero := 0
	for _, p := range m.Params() {
		if !p.Trainable() {
			continue
		}
		for _, v := range p.Grad.Data {
			if v != 0 {
				nonZero++
				break
			}
		}
	}
	assert.Greater(t, nonZero, 0)
}

func TestSummary(t *testing.T) {
	m, err := New("b0", 10, WithSeed(1))
	require.NoError(t, err)
	s := m.Summary()
	assert.True(t, strings.HasPrefix(s, "EfficientNet-b0"))
	assert.Contains(t, s, "features.17")
	assert.Contains(t, s, "InvertedResidual(32->16")
	assert.Equal(t, "efficientnet-b0", m.Tag())
	assert.Equal(t, uint64(1), m.Seed())
}
