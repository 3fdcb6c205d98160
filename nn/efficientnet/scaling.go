package efficientnet

import (
	"math"
	"sort"
)

const (
	// depthBase and widthBase are the compound-scaling constants:
	// depth = 1.2^phi, width = 1.1^phi.
	depthBase = 1.2
	widthBase = 1.1

	stemChannels = 32
	headChannels = 1280
	stemStride   = 2

	// DefaultSurvivalProb is the stochastic depth keep probability.
	DefaultSurvivalProb = 0.8
	// DefaultReduction divides a block's input channels for the SE bottleneck.
	DefaultReduction = 4
)

// ScalingProfile is one row of the compound-scaling table.
type ScalingProfile struct {
	Version    string
	Phi        float64
	Resolution int
	Dropout    float64
}

var profiles = map[string]ScalingProfile{
	"b0": {"b0", 0, 224, 0.2},
	"b1": {"b1", 0.5, 240, 0.2},
	"b2": {"b2", 1, 260, 0.3},
	"b3": {"b3", 2, 300, 0.3},
	"b4": {"b4", 3, 380, 0.4},
	"b5": {"b5", 4, 456, 0.4},
	"b6": {"b6", 5, 528, 0.5},
	"b7": {"b7", 6, 600, 0.5},
}

// Profile looks up a version tag.
func Profile(version string) (ScalingProfile, error) {
	p, ok := profiles[version]
	if !ok {
		return ScalingProfile{}, &UnknownProfileError{Version: version}
	}
	return p, nil
}

// Versions returns the known tags in order.
func Versions() []string {
	vs := make([]string, 0, len(profiles))
	for v := range profiles {
		vs = append(vs, v)
	}
	sort.Strings(vs)
	return vs
}

// StageTemplate is one unscaled stage of the feature extractor.
type StageTemplate struct {
	Expand   int
	Channels int
	Repeats  int
	Stride   int
	Kernel   int
}

var baseStages = [...]StageTemplate{
	{1, 16, 1, 1, 3},
	{6, 24, 2, 2, 3},
	{6, 40, 2, 2, 5},
	{6, 80, 3, 2, 3},
	{6, 112, 3, 1, 5},
	{6, 192, 4, 2, 5},
	{6, 320, 1, 1, 3},
}

// Stages returns a copy of the base stage table.
func Stages() []StageTemplate {
	out := make([]StageTemplate, len(baseStages))
	copy(out, baseStages[:])
	return out
}

// CalculateFactors returns the width and depth multipliers and dropout rate for version.
func CalculateFactors(version string) (width, depth, dropout float64, err error) {
	p, err := Profile(version)
	if err != nil {
		return 0, 0, 0, err
	}
	return math.Pow(widthBase, p.Phi), math.Pow(depthBase, p.Phi), p.Dropout, nil
}

// ScaleChannels scales base by width and rounds up to a multiple of 4.
func ScaleChannels(base int, width float64) int {
	scaled := int(float64(base) * width)
	return 4 * int(math.Ceil(float64(scaled)/4))
}

// ScaleRepeats scales a stage's block count by depth, rounding up.
func ScaleRepeats(base int, depth float64) int {
	return int(math.Ceil(float64(base) * depth))
}

// blockSpec is one inverted-residual block in build order.
type blockSpec struct {
	in, out, expand, stride, kernel int
}

// planBlocks expands the stage table into per-block specs, threading
// channels and giving the stage stride to the first block only.
func planBlocks(in int, width, depth float64) []blockSpec {
	var specs []blockSpec
	for _, st := range baseStages {
		out := ScaleChannels(st.Channels, width)
		repeats := ScaleRepeats(st.Repeats, depth)
		for r := 0; r < repeats; r++ {
			stride := 1
			if r == 0 {
				stride = st.Stride
			}
			specs = append(specs, blockSpec{in: in, out: out, expand: st.Expand, stride: stride, kernel: st.Kernel})
			in = out
		}
	}
	return specs
}
