package layers

import (
	"fmt"

	"effnet/core/ckkswrapper"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// CipherRotations lists the rotation keys ForwardCipher needs.
func (l *Linear) CipherRotations() []int {
	return LinearRotations(l.InDim(), l.OutDim())
}

// LinearRotations lists the rotation keys for an inDim -> outDim head, for
// key owners that know only the dimensions.
func LinearRotations(inDim, outDim int) []int {
	return append(ckkswrapper.DotRotations(inDim), ckkswrapper.PackRotations(outDim)...)
}

// ForwardCipher returns y = W·x + B as one ciphertext, y_j in slot j.
// ct must hold x in slots [0, inDim) with zeros elsewhere and have at least
// two levels left: one for the weight product, one for the slot mask.
func (l *Linear) ForwardCipher(ct *rlwe.Ciphertext, kit *ckkswrapper.ServerKit) (*rlwe.Ciphertext, error) {
	outDim, inDim := l.OutDim(), l.InDim()
	params := kit.Params
	slots := params.MaxSlots()
	if inDim > slots || outDim > slots {
		return nil, fmt.Errorf("linear %d->%d does not fit in %d slots", inDim, outDim, slots)
	}
	if ckkswrapper.NeedsBootstrap(ct, 1) {
		return nil, fmt.Errorf("ciphertext at level %d, need at least 2", ct.Level())
	}
	eval := kit.Evaluator

	// plaintext 〈1,0,0,…〉 for masking slot-0, at the level after the first rescale
	mvec := make([]complex128, slots)
	mvec[0] = 1
	maskPT := ckks.NewPlaintext(params, ct.Level()-1)
	if err := kit.Encoder.Encode(mvec, maskPT); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}

	var acc *rlwe.Ciphertext
	row := make([]complex128, slots)
	for j := 0; j < outDim; j++ {
		// (1) x ⊙ w_j
		for i := 0; i < inDim; i++ {
			row[i] = complex(l.W.Data[j*inDim+i], 0)
		}
		rowPT := ckks.NewPlaintext(params, ct.Level())
		if err := kit.Encoder.Encode(row, rowPT); err != nil {
			return nil, fmt.Errorf("encode row %d: %w", j, err)
		}
		prod, err := eval.MulNew(ct, rowPT)
		if err != nil {
			return nil, fmt.Errorf("row %d multiplication failed: %w", j, err)
		}
		if err := eval.Rescale(prod, prod); err != nil {
			return nil, fmt.Errorf("row %d rescaling failed: %w", j, err)
		}

		// (2) tree-sum rotations → dot product in slot 0
		for step := 1; step < inDim; step *= 2 {
			rot, err := eval.RotateNew(prod, step)
			if err != nil {
				return nil, fmt.Errorf("rotation by %d failed: %w", step, err)
			}
			if prod, err = eval.AddNew(prod, rot); err != nil {
				return nil, fmt.Errorf("addition failed: %w", err)
			}
		}

		// (3) mask with one-hot at slot 0
		masked, err := eval.MulNew(prod, maskPT)
		if err != nil {
			return nil, fmt.Errorf("mask multiplication failed: %w", err)
		}
		if err := eval.Rescale(masked, masked); err != nil {
			return nil, fmt.Errorf("mask rescaling failed: %w", err)
		}

		// (4) rotate slot-0 into slot j and accumulate
		if j > 0 {
			if masked, err = eval.RotateNew(masked, -j); err != nil {
				return nil, fmt.Errorf("rotation into slot %d failed: %w", j, err)
			}
		}
		if acc == nil {
			acc = masked
		} else if acc, err = eval.AddNew(acc, masked); err != nil {
			return nil, fmt.Errorf("accumulate slot %d: %w", j, err)
		}
	}

	// Add bias
	biasVec := make([]complex128, slots)
	for j := 0; j < outDim; j++ {
		biasVec[j] = complex(l.B.Data[j], 0)
	}
	biasPT := ckks.NewPlaintext(params, acc.Level())
	biasPT.Scale = acc.Scale
	if err := kit.Encoder.Encode(biasVec, biasPT); err != nil {
		return nil, fmt.Errorf("encode bias: %w", err)
	}
	return eval.AddNew(acc, biasPT)
}
