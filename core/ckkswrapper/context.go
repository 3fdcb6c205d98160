// Package ckkswrapper bundles the CKKS parameters, keys and evaluators
// used to run the classifier head on encrypted features.
package ckkswrapper

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// DefaultLogN is the ring degree exponent used when none is configured.
const DefaultLogN = 13

// HeContext holds the client-side key material: everything needed to
// encrypt inputs, decrypt results and derive evaluation keys.
type HeContext struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor

	kgen *rlwe.KeyGenerator
	sk   *rlwe.SecretKey
	rlk  *rlwe.RelinearizationKey
}

// ServerKit is the evaluation-only half: it can compute on ciphertexts but
// holds no secret key.
type ServerKit struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Evaluator *ckks.Evaluator
}

// ParamsLiteral returns the parameter set for a given ring degree: two
// 40-bit rescaling levels above a 50-bit base prime, scale 2^40.
func ParamsLiteral(logN int) ckks.ParametersLiteral {
	return ckks.ParametersLiteral{
		LogN:            logN,
		LogQ:            []int{50, 40, 40},
		LogP:            []int{60},
		LogDefaultScale: 40,
	}
}

// NewParameters builds CKKS parameters for logN.
func NewParameters(logN int) (ckks.Parameters, error) {
	if logN < 10 || logN > 16 {
		return ckks.Parameters{}, fmt.Errorf("logN must be in [10,16], got %d", logN)
	}
	params, err := ckks.NewParametersFromLiteral(ParamsLiteral(logN))
	if err != nil {
		return ckks.Parameters{}, fmt.Errorf("ckks parameters: %w", err)
	}
	return params, nil
}

// NewHeContext creates a context with DefaultLogN.
func NewHeContext() *HeContext {
	return NewHeContextWithLogN(DefaultLogN)
}

// NewHeContextWithLogN creates a fresh key pair for the given ring degree.
// It panics if logN is out of range.
func NewHeContextWithLogN(logN int) *HeContext {
	params, err := NewParameters(logN)
	if err != nil {
		panic(err)
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()

	return &HeContext{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Encryptor: rlwe.NewEncryptor(params, pk),
		Decryptor: rlwe.NewDecryptor(params, sk),
		kgen:      kgen,
		sk:        sk,
		rlk:       kgen.GenRelinearizationKeyNew(sk),
	}
}

// EvaluationKeys derives the relinearization key and one Galois key per rotation.
func (h *HeContext) EvaluationKeys(rots []int) *rlwe.MemEvaluationKeySet {
	galKeys := h.kgen.GenGaloisKeysNew(h.Params.GaloisElements(rots), h.sk)
	return rlwe.NewMemEvaluationKeySet(h.rlk, galKeys...)
}

// GenServerKit returns an evaluator able to perform the given rotations.
func (h *HeContext) GenServerKit(rots []int) *ServerKit {
	return NewServerKit(h.Params, h.EvaluationKeys(rots))
}

// NewServerKit wraps evaluation keys received from a key owner.
func NewServerKit(params ckks.Parameters, evk rlwe.EvaluationKeySet) *ServerKit {
	return &ServerKit{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Evaluator: ckks.NewEvaluator(params, evk),
	}
}

// EncryptVector encodes v into the first len(v) slots (rest zero) and encrypts it.
func (h *HeContext) EncryptVector(v []float64) (*rlwe.Ciphertext, error) {
	slots := h.Params.MaxSlots()
	if len(v) > slots {
		return nil, fmt.Errorf("vector of length %d exceeds %d slots", len(v), slots)
	}
	vals := make([]complex128, slots)
	for i, x := range v {
		vals[i] = complex(x, 0)
	}
	pt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(vals, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return h.Encryptor.EncryptNew(pt)
}

// DecryptVector decrypts ct and returns the real part of its first n slots.
func (h *HeContext) DecryptVector(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	slots := h.Params.MaxSlots()
	if n > slots {
		return nil, fmt.Errorf("requested %d values from %d slots", n, slots)
	}
	pt := h.Decryptor.DecryptNew(ct)
	decoded := make([]complex128, slots)
	if err := h.Encoder.Decode(pt, decoded); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = real(decoded[i])
	}
	return out, nil
}
