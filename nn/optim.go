package nn

import (
	"fmt"
	"math"
	"sort"

	"effnet/nn/layers"
)

// ============================================================================
// SGD Optimizer (momentum + L2 weight decay)
// ============================================================================

// SGD follows the usual framework update rule:
//
//	g = grad + weightDecay*w
//	v = momentum*v + g
//	w = w - lr*v
//
// Buffers (params without Grad) are skipped.
type SGD struct {
	params      []*layers.Param
	Momentum    float64
	WeightDecay float64

	velocities map[*layers.Param][]float64
}

// NewSGD creates an optimizer over params.
func NewSGD(params []*layers.Param, momentum, weightDecay float64) *SGD {
	return &SGD{
		params:      params,
		Momentum:    momentum,
		WeightDecay: weightDecay,
		velocities:  make(map[*layers.Param][]float64),
	}
}

// Step applies the accumulated gradients with the given learning rate.
func (opt *SGD) Step(learningRate float64) {
	for _, p := range opt.params {
		if !p.Trainable() {
			continue
		}
		w, grad := p.Value.Data, p.Grad.Data
		if opt.Momentum == 0 {
			for j := range w {
				w[j] -= learningRate * (grad[j] + opt.WeightDecay*w[j])
			}
			continue
		}

		v := opt.velocities[p]
		first := v == nil
		if first {
			v = make([]float64, len(w))
			opt.velocities[p] = v
		}
		for j := range w {
			g := grad[j] + opt.WeightDecay*w[j]
			if first {
				v[j] = g
			} else {
				v[j] = opt.Momentum*v[j] + g
			}
			w[j] -= learningRate * v[j]
		}
	}
}

// ZeroGrad clears the gradients of every managed param.
func (opt *SGD) ZeroGrad() { ZeroGrad(opt.params) }

// Reset clears the momentum buffers.
func (opt *SGD) Reset() { opt.velocities = make(map[*layers.Param][]float64) }

func (opt *SGD) Name() string {
	return fmt.Sprintf("SGD(momentum=%g, weight_decay=%g)", opt.Momentum, opt.WeightDecay)
}

// ============================================================================
// Learning rate schedules
// ============================================================================

// LRScheduler maps an epoch index to a learning rate.
type LRScheduler interface {
	GetLR(epoch int) float64
	Name() string
}

// MultiStepScheduler multiplies the base rate by Gamma at each milestone:
// lr = baseLR * gamma^(number of milestones <= epoch).
type MultiStepScheduler struct {
	baseLR     float64
	milestones []int
	gamma      float64
}

// NewMultiStepScheduler creates a step schedule. Milestones are sorted.
func NewMultiStepScheduler(baseLR float64, milestones []int, gamma float64) *MultiStepScheduler {
	ms := append([]int(nil), milestones...)
	sort.Ints(ms)
	return &MultiStepScheduler{baseLR: baseLR, milestones: ms, gamma: gamma}
}

func (s *MultiStepScheduler) GetLR(epoch int) float64 {
	passed := sort.SearchInts(s.milestones, epoch+1)
	return s.baseLR * math.Pow(s.gamma, float64(passed))
}

func (s *MultiStepScheduler) Name() string {
	return fmt.Sprintf("MultiStep(base=%g, milestones=%v, gamma=%g)", s.baseLR, s.milestones, s.gamma)
}
