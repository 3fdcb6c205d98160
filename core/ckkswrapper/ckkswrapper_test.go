package ckkswrapper

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

func TestHeContextRoundTrip(t *testing.T) {
	h := NewHeContext()
	vals := []float64{3.1415926535, -1.5, 0.25}

	ct, err := h.EncryptVector(vals)
	require.NoError(t, err)
	got, err := h.DecryptVector(ct, len(vals))
	require.NoError(t, err)
	for i := range vals {
		if diff := got[i] - vals[i]; math.Abs(diff) > 1e-6 {
			t.Fatalf("roundtrip mismatch at %d: got %f, want %f", i, got[i], vals[i])
		}
	}

	kit := h.GenServerKit([]int{1, 2, -1})
	ct2, err := kit.Evaluator.MulNew(ct, ct)
	require.NoError(t, err)
	assert.Equal(t, 2, ct2.Degree())
}

func TestEvaluationKeysSurviveMarshal(t *testing.T) {
	h := NewHeContext()
	evk := h.EvaluationKeys([]int{1})

	raw, err := evk.MarshalBinary()
	require.NoError(t, err)
	restored := new(rlwe.MemEvaluationKeySet)
	require.NoError(t, restored.UnmarshalBinary(raw))

	kit := NewServerKit(h.Params, restored)
	ct, err := h.EncryptVector([]float64{1, 2, 3})
	require.NoError(t, err)
	rot, err := kit.Evaluator.RotateNew(ct, 1)
	require.NoError(t, err)

	got, err := h.DecryptVector(rot, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got[0], 1e-6)
	assert.InDelta(t, 3.0, got[1], 1e-6)
}

func TestNeedsBootstrap(t *testing.T) {
	h := NewHeContext()
	ct, err := h.EncryptVector([]float64{0.5})
	require.NoError(t, err)

	// Fresh ciphertext should not need bootstrap
	assert.False(t, NeedsBootstrap(ct, 1))
	assert.True(t, NeedsBootstrap(ct, h.Params.MaxLevel()))
	assert.Equal(t, NeedsBootstrap(ct, 1), NeedsBootstrap(ct, 0), "threshold 0 defaults to 1")
}

func TestRotationLists(t *testing.T) {
	assert.Equal(t, []int{1, 2, 4}, DotRotations(5))
	assert.Nil(t, DotRotations(1))
	assert.Equal(t, []int{-1, -2}, PackRotations(3))
	assert.Empty(t, PackRotations(1))
}

func TestNewParametersRejectsBadLogN(t *testing.T) {
	_, err := NewParameters(4)
	assert.Error(t, err)
	assert.Panics(t, func() { NewHeContextWithLogN(30) })
}
