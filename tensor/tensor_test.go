package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShape(t *testing.T) {
	t1 := New(2, 3)
	if len(t1.Data) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(t1.Data))
	}
	if len(t1.Shape) != 2 || t1.Shape[0] != 2 || t1.Shape[1] != 3 {
		t.Fatalf("unexpected shape: %v", t1.Shape)
	}
}

func TestAdd(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3}, Shape: []int{3}}
	b := &Tensor{Data: []float64{4, 5, 6}, Shape: []int{3}}
	c, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{5, 7, 9}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}

	_, err = Add(a, New(1, 3))
	assert.Error(t, err)
}

func TestMatMul(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3, 4}, Shape: []int{2, 2}}
	b := &Tensor{Data: []float64{5, 6, 7, 8}, Shape: []int{2, 2}}
	c, err := MatMul(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{19, 22, 43, 50}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}

	_, err = MatMul(a, New(3, 2))
	assert.Error(t, err)
}

func TestFromDataAndReshape(t *testing.T) {
	_, err := FromData([]float64{1, 2, 3}, 2, 2)
	require.Error(t, err)

	x, err := FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 6.0, x.At(1, 2))

	y, err := x.Reshape(3, 2)
	require.NoError(t, err)
	y.Set(10, 0, 1)
	assert.Equal(t, 10.0, x.Data[1], "reshape shares storage")

	_, err = x.Reshape(4, 2)
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	x := NewWithData([]float64{1, 2})
	c := x.Clone()
	c.Data[0] = 9
	assert.Equal(t, 1.0, x.Data[0])
}

func TestArgMax(t *testing.T) {
	x := &Tensor{Data: []float64{0.1, 0.7, 0.2, 3, -1, 2}, Shape: []int{2, 3}}
	idx, err := ArgMax(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, idx)
}

func TestAtOutOfBoundsPanics(t *testing.T) {
	x := New(2, 2)
	assert.Panics(t, func() { x.At(2, 0) })
	assert.Panics(t, func() { x.Set(1, 0) })
}
