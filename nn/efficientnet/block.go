package efficientnet

import (
	"fmt"
	"strings"

	"effnet/nn"
	"effnet/nn/layers"
	"effnet/tensor"

	"golang.org/x/exp/rand"
)

// ConvBlock is conv (no bias) → batch norm → SiLU. It serves as the stem,
// the head, and the expansion and depthwise steps of an inverted residual block.
type ConvBlock struct {
	Conv *layers.Conv2D
	BN   *layers.BatchNorm2D
	seq  *nn.Sequential
}

// NewConvBlock builds a square-kernel ConvBlock.
func NewConvBlock(in, out, kernel, stride, padding, groups int, src rand.Source) (*ConvBlock, error) {
	conv, err := layers.NewConv2D(in, out, kernel, stride, padding, groups, false, src)
	if err != nil {
		return nil, err
	}
	bn := layers.NewBatchNorm2D(out)
	seq := nn.NewSequential().
		Add("cnn", conv).
		Add("bn", bn).
		Add("silu", layers.MustActivation("SiLU"))
	return &ConvBlock{Conv: conv, BN: bn, seq: seq}, nil
}

func (b *ConvBlock) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	return b.seq.Forward(x, mode)
}

func (b *ConvBlock) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	return b.seq.Backward(g)
}

func (b *ConvBlock) Params() []*layers.Param { return b.seq.Params() }

func (b *ConvBlock) Tag() string {
	return fmt.Sprintf("ConvBlock(%d->%d, k%d, s%d, g%d)",
		b.Conv.InChannels(), b.Conv.OutChannels(), b.Conv.Kernel(), b.Conv.Stride(), b.Conv.Groups())
}

// BlockMode tags the optional paths of an InvertedResidualBlock.
type BlockMode uint8

const (
	// Expand means an expansion ConvBlock precedes the depthwise conv.
	Expand BlockMode = 1 << iota
	// UseResidual means the input is added back (with stochastic depth in Train).
	UseResidual
)

// Has reports whether all bits of f are set.
func (m BlockMode) Has(f BlockMode) bool { return m&f == f }

func (m BlockMode) String() string {
	var parts []string
	if m.Has(Expand) {
		parts = append(parts, "expand")
	}
	if m.Has(UseResidual) {
		parts = append(parts, "residual")
	}
	if len(parts) == 0 {
		return "plain"
	}
	return strings.Join(parts, "+")
}

// InvertedResidualBlock is the MBConv block:
// [expand ConvBlock] → depthwise ConvBlock → squeeze-excitation → 1x1 projection → batch norm,
// plus the skip connection when Mode has UseResidual.
type InvertedResidualBlock struct {
	In, Out, Hidden int
	Kernel, Stride  int
	Mode            BlockMode

	body     *nn.Sequential
	residual *layers.ResidualBlock
}

// NewInvertedResidualBlock builds one block. reduction divides the block's
// input channels for the SE bottleneck; survivalProb only matters with a residual.
func NewInvertedResidualBlock(in, out, kernel, stride, expand, reduction int, survivalProb float64, srcs func() rand.Source) (*InvertedResidualBlock, error) {
	hidden := in * expand
	b := &InvertedResidualBlock{In: in, Out: out, Hidden: hidden, Kernel: kernel, Stride: stride}
	if hidden != in {
		b.Mode |= Expand
	}
	if in == out && stride == 1 {
		b.Mode |= UseResidual
	}

	b.body = nn.NewSequential()
	if b.Mode.Has(Expand) {
		// 3x3 expansion, same spatial size
		expandConv, err := NewConvBlock(in, hidden, 3, 1, 1, 1, srcs())
		if err != nil {
			return nil, fmt.Errorf("expand conv: %w", err)
		}
		b.body.Add("expand_conv", expandConv)
	}

	depthwise, err := NewConvBlock(hidden, hidden, kernel, stride, kernel/2, hidden, srcs())
	if err != nil {
		return nil, fmt.Errorf("depthwise conv: %w", err)
	}
	reduced := in / reduction
	if reduced < 1 {
		reduced = 1
	}
	se, err := layers.NewSqueezeExcitation(hidden, reduced, srcs())
	if err != nil {
		return nil, fmt.Errorf("squeeze excitation: %w", err)
	}
	project, err := layers.NewConv2D(hidden, out, 1, 1, 0, 1, false, srcs())
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	b.body.Add("conv", nn.NewSequential(depthwise, se, project, layers.NewBatchNorm2D(out)))

	if b.Mode.Has(UseResidual) {
		if b.residual, err = layers.NewResidualBlock(b.body, survivalProb, srcs()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *InvertedResidualBlock) top() layers.Layer {
	if b.residual != nil {
		return b.residual
	}
	return b.body
}

func (b *InvertedResidualBlock) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	return b.top().Forward(x, mode)
}

func (b *InvertedResidualBlock) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	return b.top().Backward(g)
}

func (b *InvertedResidualBlock) Params() []*layers.Param { return b.body.Params() }

// SurvivalProb returns the stochastic depth keep probability, or 1 without a residual.
func (b *InvertedResidualBlock) SurvivalProb() float64 {
	if b.residual == nil {
		return 1
	}
	return b.residual.SurvivalProb
}

func (b *InvertedResidualBlock) Tag() string {
	return fmt.Sprintf("InvertedResidual(%d->%d, hidden %d, k%d, s%d, %s)",
		b.In, b.Out, b.Hidden, b.Kernel, b.Stride, b.Mode)
}
