// Package efficientnet builds the EfficientNet b0..b7 family from the
// compound-scaling table: a stem ConvBlock, the scaled inverted-residual
// stages, a head ConvBlock, global pooling and a dropout + linear classifier.
package efficientnet

import (
	"fmt"
	"math"
	"strings"

	"effnet/nn"
	"effnet/nn/layers"
	"effnet/tensor"

	"golang.org/x/exp/rand"
)

// EfficientNet is a constructed network. The layer structure is fixed after
// New; only parameter values change during training.
type EfficientNet struct {
	Version    string
	NumClasses int
	Profile    ScalingProfile
	Width      float64
	Depth      float64

	features   *nn.Sequential
	pool       *layers.AdaptiveAvgPool2D
	flatten    *layers.Flatten
	classifier *nn.Sequential
	head       *layers.Linear

	// net chains the four stages above for Forward/Backward/Params
	net  *nn.Sequential
	seed uint64
}

// New builds the network for version with numClasses outputs. Arguments are
// validated before any parameter is allocated.
func New(version string, numClasses int, opts ...Option) (*EfficientNet, error) {
	width, depth, dropout, err := CalculateFactors(version)
	if err != nil {
		return nil, err
	}
	if numClasses <= 0 {
		return nil, &ConfigError{Field: "class count", Value: numClasses, Message: "must be positive"}
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	master := rand.New(rand.NewSource(cfg.seed))
	srcs := func() rand.Source { return rand.NewSource(master.Uint64()) }

	features := nn.NewSequential()
	stemOut := int(stemChannels * width)
	stem, err := NewConvBlock(3, stemOut, 3, stemStride, 1, 1, srcs())
	if err != nil {
		return nil, fmt.Errorf("stem: %w", err)
	}
	features.Append(stem)

	last := stemOut
	for i, spec := range planBlocks(stemOut, width, depth) {
		blk, err := NewInvertedResidualBlock(spec.in, spec.out, spec.kernel, spec.stride, spec.expand,
			cfg.reduction, cfg.survivalProb, srcs)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		features.Append(blk)
		last = spec.out
	}

	headOut := int(math.Ceil(headChannels * width))
	headBlock, err := NewConvBlock(last, headOut, 1, 1, 0, 1, srcs())
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	features.Append(headBlock)

	drop, err := layers.NewDropout(dropout, srcs())
	if err != nil {
		return nil, err
	}
	linear, err := layers.NewLinear(headOut, numClasses, srcs())
	if err != nil {
		return nil, err
	}

	m := &EfficientNet{
		Version:    version,
		NumClasses: numClasses,
		Width:      width,
		Depth:      depth,
		features:   features,
		pool:       layers.NewAdaptiveAvgPool2D(),
		flatten:    layers.NewFlatten(),
		classifier: nn.NewSequential(drop, linear),
		head:       linear,
		seed:       cfg.seed,
	}
	m.Profile, _ = Profile(version)
	m.net = nn.NewSequential().
		Add("features", m.features).
		Add("pool", m.pool).
		Add("flatten", m.flatten).
		Add("classifier", m.classifier)
	return m, nil
}

func checkInput(x *tensor.Tensor) error {
	if len(x.Shape) != 4 || x.Shape[1] != 3 {
		return fmt.Errorf("expected input [N,3,H,W], got %v", x.Shape)
	}
	return nil
}

// Forward maps images [N,3,H,W] to class scores [N,NumClasses].
func (m *EfficientNet) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	if err := checkInput(x); err != nil {
		return nil, err
	}
	return m.net.Forward(x, mode)
}

// Backward propagates the gradient of the scores from the last Forward.
func (m *EfficientNet) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	return m.net.Backward(g)
}

// Embed runs the feature extractor and pooling in Eval mode, returning the
// [N, FeatureDim] vectors the classifier consumes.
func (m *EfficientNet) Embed(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkInput(x); err != nil {
		return nil, err
	}
	f, err := m.features.Forward(x, layers.Eval)
	if err != nil {
		return nil, err
	}
	if f, err = m.pool.Forward(f, layers.Eval); err != nil {
		return nil, err
	}
	return m.flatten.Forward(f, layers.Eval)
}

// Params returns every parameter and buffer with its dotted path.
func (m *EfficientNet) Params() []*layers.Param { return m.net.Params() }

// Features returns the stem, block and head sequence.
func (m *EfficientNet) Features() *nn.Sequential { return m.features }

// Head returns the final linear layer.
func (m *EfficientNet) Head() *layers.Linear { return m.head }

// FeatureDim is the channel count after the head ConvBlock.
func (m *EfficientNet) FeatureDim() int { return m.head.InDim() }

// NumParams counts trainable scalars.
func (m *EfficientNet) NumParams() int { return nn.CountParams(m.Params()) }

// Seed returns the seed the network was built with.
func (m *EfficientNet) Seed() uint64 { return m.seed }

func (m *EfficientNet) Tag() string { return "efficientnet-" + m.Version }

// Summary lists the feature blocks and classifier, one per line.
func (m *EfficientNet) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "EfficientNet-%s (width %.4f, depth %.4f, resolution %d, dropout %.1f)\n",
		m.Version, m.Width, m.Depth, m.Profile.Resolution, m.Profile.Dropout)
	for i, l := range m.features.Layers {
		fmt.Fprintf(&sb, "  features.%-3d %s\n", i, l.Tag())
	}
	fmt.Fprintf(&sb, "  pool         %s\n", m.pool.Tag())
	fmt.Fprintf(&sb, "  classifier   %s\n", m.classifier.Tag())
	fmt.Fprintf(&sb, "  trainable parameters: %d\n", m.NumParams())
	return sb.String()
}
