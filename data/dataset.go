// Package data reads image classification datasets into memory and serves
// normalized NCHW batches.
package data

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/exp/rand"
)

const (
	cifarSide      = 32
	cifarPixels    = 3 * cifarSide * cifarSide
	cifar100Record = 2 + cifarPixels // coarse label, fine label, pixels
)

// ErrBadRecord reports a truncated or out-of-range dataset record.
var ErrBadRecord = errors.New("malformed dataset record")

// Split selects the CIFAR-100 file.
type Split string

const (
	Train Split = "train"
	Test  Split = "test"
)

// Dataset is an in-memory set of 8-bit RGB images stored as CHW planes.
// Subsets share pixel storage with their parent.
type Dataset struct {
	Name          string
	Height, Width int
	Classes       []string

	pixels []uint8
	labels []int
	coarse []int
	index  []int // nil means identity
}

// Len returns the number of images.
func (d *Dataset) Len() int {
	if d.index != nil {
		return len(d.index)
	}
	return len(d.labels)
}

func (d *Dataset) at(i int) int {
	if d.index != nil {
		return d.index[i]
	}
	return i
}

// Image returns the raw CHW bytes of image i. The slice aliases the dataset.
func (d *Dataset) Image(i int) []uint8 {
	n := 3 * d.Height * d.Width
	j := d.at(i)
	return d.pixels[j*n : (j+1)*n]
}

// Label returns the class of image i.
func (d *Dataset) Label(i int) int { return d.labels[d.at(i)] }

// CoarseLabel returns the superclass of image i, or -1 if the dataset has none.
func (d *Dataset) CoarseLabel(i int) int {
	if d.coarse == nil {
		return -1
	}
	return d.coarse[d.at(i)]
}

// Subset returns a view of the images at idx (positions within d).
func (d *Dataset) Subset(name string, idx []int) (*Dataset, error) {
	abs := make([]int, len(idx))
	for k, i := range idx {
		if i < 0 || i >= d.Len() {
			return nil, fmt.Errorf("subset index %d out of range [0,%d)", i, d.Len())
		}
		abs[k] = d.at(i)
	}
	sub := *d
	sub.Name = name
	sub.index = abs
	return &sub, nil
}

// LoadCIFAR100 reads <root>/train.bin or <root>/test.bin of the CIFAR-100
// binary distribution.
func LoadCIFAR100(root string, split Split) (*Dataset, error) {
	path := filepath.Join(root, string(split)+".bin")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cifar-100 %s: %w", split, err)
	}
	ds, err := ParseCIFAR100(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ds.Name = "cifar100-" + string(split)
	return ds, nil
}

// ParseCIFAR100 decodes concatenated CIFAR-100 records.
func ParseCIFAR100(raw []byte) (*Dataset, error) {
	if len(raw) == 0 || len(raw)%cifar100Record != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrBadRecord, len(raw), cifar100Record)
	}
	n := len(raw) / cifar100Record
	ds := &Dataset{
		Height:  cifarSide,
		Width:   cifarSide,
		Classes: CIFAR100Classes,
		pixels:  make([]uint8, n*cifarPixels),
		labels:  make([]int, n),
		coarse:  make([]int, n),
	}
	for i := 0; i < n; i++ {
		rec := raw[i*cifar100Record : (i+1)*cifar100Record]
		coarse, fine := int(rec[0]), int(rec[1])
		if coarse >= 20 || fine >= len(CIFAR100Classes) {
			return nil, fmt.Errorf("%w: record %d has labels %d/%d", ErrBadRecord, i, coarse, fine)
		}
		ds.coarse[i] = coarse
		ds.labels[i] = fine
		copy(ds.pixels[i*cifarPixels:], rec[2:])
	}
	return ds, nil
}

// Synthetic generates n random images of size h x w. Each class has its own
// mean brightness per channel, so a network can separate them.
func Synthetic(n, classes, h, w int, seed uint64) (*Dataset, error) {
	if n <= 0 || classes <= 0 || h <= 0 || w <= 0 {
		return nil, fmt.Errorf("synthetic dataset needs positive sizes, got n=%d classes=%d %dx%d", n, classes, h, w)
	}
	rng := rand.New(rand.NewSource(seed))
	means := make([][3]float64, classes)
	for c := range means {
		for ch := 0; ch < 3; ch++ {
			means[c][ch] = 40 + 175*rng.Float64()
		}
	}
	names := make([]string, classes)
	for c := range names {
		names[c] = fmt.Sprintf("class_%d", c)
	}

	per := 3 * h * w
	ds := &Dataset{
		Name:    "synthetic",
		Height:  h,
		Width:   w,
		Classes: names,
		pixels:  make([]uint8, n*per),
		labels:  make([]int, n),
	}
	for i := 0; i < n; i++ {
		label := rng.Intn(classes)
		ds.labels[i] = label
		img := ds.pixels[i*per : (i+1)*per]
		for ch := 0; ch < 3; ch++ {
			for p := 0; p < h*w; p++ {
				v := means[label][ch] + 30*rng.NormFloat64()
				img[ch*h*w+p] = uint8(min(255, max(0, v)))
			}
		}
	}
	return ds, nil
}

// RandomSplit partitions ds into consecutive chunks of a random permutation.
// The sizes must add up to ds.Len().
func RandomSplit(ds *Dataset, sizes []int, seed uint64) ([]*Dataset, error) {
	total := 0
	for _, s := range sizes {
		if s < 0 {
			return nil, fmt.Errorf("negative split size %d", s)
		}
		total += s
	}
	if total != ds.Len() {
		return nil, fmt.Errorf("split sizes sum to %d, dataset has %d", total, ds.Len())
	}
	perm := rand.New(rand.NewSource(seed)).Perm(ds.Len())
	out := make([]*Dataset, len(sizes))
	off := 0
	for k, s := range sizes {
		sub, err := ds.Subset(fmt.Sprintf("%s[%d]", ds.Name, k), perm[off:off+s])
		if err != nil {
			return nil, err
		}
		out[k] = sub
		off += s
	}
	return out, nil
}
