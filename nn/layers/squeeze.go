package layers

import (
	"fmt"

	"effnet/tensor"

	"golang.org/x/exp/rand"
)

// SqueezeExcitation rescales each channel by a learned gate:
// out = x * sigmoid(conv(silu(conv(avgpool(x))))).
type SqueezeExcitation struct {
	channels, reduced int
	gate              chain

	lastInput *tensor.Tensor
	lastGate  *tensor.Tensor
}

// NewSqueezeExcitation builds the gate channels -> reduced -> channels.
func NewSqueezeExcitation(channels, reduced int, src rand.Source) (*SqueezeExcitation, error) {
	if reduced <= 0 {
		return nil, fmt.Errorf("reduced dim must be positive, got %d", reduced)
	}
	squeeze, err := NewConv2D(channels, reduced, 1, 1, 0, 1, true, src)
	if err != nil {
		return nil, err
	}
	excite, err := NewConv2D(reduced, channels, 1, 1, 0, 1, true, src)
	if err != nil {
		return nil, err
	}
	return &SqueezeExcitation{
		channels: channels,
		reduced:  reduced,
		gate: chain{
			NewAdaptiveAvgPool2D(),
			squeeze,
			MustActivation("SiLU"),
			excite,
			MustActivation("Sigmoid"),
		},
	}, nil
}

func (se *SqueezeExcitation) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	n, c, h, w, err := dims4(x)
	if err != nil {
		return nil, err
	}
	s, err := se.gate.forward(x, mode)
	if err != nil {
		return nil, err
	}
	hw := h * w
	out := tensor.New(x.Shape...)
	for i := 0; i < n*c; i++ {
		g := s.Data[i]
		for j := i * hw; j < (i+1)*hw; j++ {
			out.Data[j] = x.Data[j] * g
		}
	}
	se.lastInput = x
	se.lastGate = s
	return out, nil
}

func (se *SqueezeExcitation) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if se.lastInput == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	if !tensor.SameShape(gradOut, se.lastInput) {
		return nil, fmt.Errorf("gradOut shape %v, want %v", gradOut.Shape, se.lastInput.Shape)
	}
	n, c, h, w, _ := dims4(gradOut)
	hw := h * w

	dx := tensor.New(gradOut.Shape...)
	dGate := tensor.New(n, c, 1, 1)
	for i := 0; i < n*c; i++ {
		g := se.lastGate.Data[i]
		sum := 0.0
		for j := i * hw; j < (i+1)*hw; j++ {
			dx.Data[j] = gradOut.Data[j] * g
			sum += gradOut.Data[j] * se.lastInput.Data[j]
		}
		dGate.Data[i] = sum
	}

	viaGate, err := se.gate.backward(dGate)
	if err != nil {
		return nil, err
	}
	if err := tensor.AddInPlace(dx, viaGate); err != nil {
		return nil, err
	}
	return dx, nil
}

// Params are named by position in the gate: se.1 is the squeeze conv, se.3 the excite conv.
func (se *SqueezeExcitation) Params() []*Param {
	return Prefixed("se", se.gate.params([]string{"0", "1", "2", "3", "4"}))
}

func (se *SqueezeExcitation) Tag() string {
	return fmt.Sprintf("SqueezeExcitation_%d_%d", se.channels, se.reduced)
}
