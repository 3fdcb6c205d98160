package data

import (
	"fmt"

	"effnet/tensor"

	"golang.org/x/exp/rand"
)

// Normalizer maps 8-bit pixels to (p/255 - mean) / std per channel.
type Normalizer struct {
	Mean [3]float64
	Std  [3]float64
}

// ImageNetNormalizer uses the ImageNet channel statistics.
func ImageNetNormalizer() Normalizer {
	return Normalizer{
		Mean: [3]float64{0.485, 0.456, 0.406},
		Std:  [3]float64{0.229, 0.224, 0.225},
	}
}

// Apply writes the normalized CHW image into dst.
func (n Normalizer) Apply(img []uint8, dst []float64, hw int) {
	for ch := 0; ch < 3; ch++ {
		m, s := n.Mean[ch], n.Std[ch]
		for p := 0; p < hw; p++ {
			dst[ch*hw+p] = (float64(img[ch*hw+p])/255 - m) / s
		}
	}
}

// Batch is one minibatch: Images is [B,3,H,W].
type Batch struct {
	Images *tensor.Tensor
	Labels []int
}

// Loader serves a dataset in fixed-size batches; the last batch may be short.
type Loader struct {
	ds        *Dataset
	batchSize int
	norm      Normalizer
	rng       *rand.Rand // nil means sequential order
}

// LoaderOption configures NewLoader.
type LoaderOption func(*Loader)

// WithShuffle reshuffles the order at the start of every epoch.
func WithShuffle(seed uint64) LoaderOption {
	return func(l *Loader) { l.rng = rand.New(rand.NewSource(seed)) }
}

// WithNormalizer overrides the ImageNet normalization.
func WithNormalizer(n Normalizer) LoaderOption {
	return func(l *Loader) { l.norm = n }
}

// NewLoader creates a loader over ds.
func NewLoader(ds *Dataset, batchSize int, opts ...LoaderOption) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	l := &Loader{ds: ds, batchSize: batchSize, norm: ImageNetNormalizer()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset { return l.ds }

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Iter starts a new epoch.
func (l *Loader) Iter() *Iterator {
	order := make([]int, l.ds.Len())
	if l.rng != nil {
		order = l.rng.Perm(len(order))
	} else {
		for i := range order {
			order[i] = i
		}
	}
	return &Iterator{l: l, order: order}
}

// Iterator walks one epoch:
//
//	it := loader.Iter()
//	for it.Next() {
//		b := it.Batch()
//	}
type Iterator struct {
	l     *Loader
	order []int
	pos   int
	cur   *Batch
}

// Next prepares the next batch and reports whether there was one.
func (it *Iterator) Next() bool {
	if it.pos >= len(it.order) {
		it.cur = nil
		return false
	}
	end := min(it.pos+it.l.batchSize, len(it.order))
	idx := it.order[it.pos:end]
	it.pos = end

	ds := it.l.ds
	hw := ds.Height * ds.Width
	b := &Batch{
		Images: tensor.New(len(idx), 3, ds.Height, ds.Width),
		Labels: make([]int, len(idx)),
	}
	for k, i := range idx {
		it.l.norm.Apply(ds.Image(i), b.Images.Data[k*3*hw:(k+1)*3*hw], hw)
		b.Labels[k] = ds.Label(i)
	}
	it.cur = b
	return true
}

// Batch returns the batch prepared by the last Next.
func (it *Iterator) Batch() *Batch { return it.cur }
