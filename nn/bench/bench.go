// Package bench times the network block by block, in plaintext, and the
// classifier head under CKKS encryption.
package bench

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"effnet/core/ckkswrapper"
	"effnet/nn/efficientnet"
	"effnet/nn/layers"
	"effnet/tensor"
)

// LayerTiming is the average cost of one layer over the timed runs.
type LayerTiming struct {
	Name     string
	Tag      string
	Forward  time.Duration
	Backward time.Duration
}

// HeadTiming is the average cost of one encrypted head evaluation.
type HeadTiming struct {
	Params  string
	Encrypt time.Duration
	Eval    time.Duration
	Decrypt time.Duration
}

// TimeLayer runs warmup untimed passes, then averages iters forward (Train
// mode) and backward passes. It returns the forward output so layers can be
// chained.
func TimeLayer(l layers.Layer, x *tensor.Tensor, iters, warmup int) (fwd, bwd time.Duration, out *tensor.Tensor, err error) {
	if iters <= 0 {
		return 0, 0, nil, fmt.Errorf("iters must be positive, got %d", iters)
	}
	for i := 0; i < warmup+iters; i++ {
		start := time.Now()
		out, err = l.Forward(x, layers.Train)
		if err != nil {
			return 0, 0, nil, err
		}
		f := time.Since(start)

		g := tensor.New(out.Shape...)
		for j := range g.Data {
			g.Data[j] = 1
		}
		start = time.Now()
		if _, err = l.Backward(g); err != nil {
			return 0, 0, nil, err
		}
		if i >= warmup {
			fwd += f
			bwd += time.Since(start)
		}
	}
	n := time.Duration(iters)
	return fwd / n, bwd / n, out, nil
}

// ProfileBlocks times every feature block, the pooling stage and the head
// on input x, feeding each block's output into the next.
func ProfileBlocks(m *efficientnet.EfficientNet, x *tensor.Tensor, iters, warmup int) ([]LayerTiming, error) {
	feats := m.Features()
	rows := make([]LayerTiming, 0, feats.Len()+2)
	for i, l := range feats.Layers {
		fwd, bwd, out, err := TimeLayer(l, x, iters, warmup)
		if err != nil {
			return rows, fmt.Errorf("features.%s: %w", feats.Name(i), err)
		}
		rows = append(rows, LayerTiming{Name: "features." + feats.Name(i), Tag: l.Tag(), Forward: fwd, Backward: bwd})
		x = out
	}

	pool := layers.NewAdaptiveAvgPool2D()
	fwd, bwd, pooled, err := TimeLayer(pool, x, iters, warmup)
	if err != nil {
		return rows, fmt.Errorf("pool: %w", err)
	}
	rows = append(rows, LayerTiming{Name: "pool", Tag: pool.Tag(), Forward: fwd, Backward: bwd})

	flat, err := pooled.Reshape(pooled.Shape[0], m.FeatureDim())
	if err != nil {
		return rows, err
	}
	fwd, bwd, _, err = TimeLayer(m.Head(), flat, iters, warmup)
	if err != nil {
		return rows, fmt.Errorf("head: %w", err)
	}
	return append(rows, LayerTiming{Name: "classifier.1", Tag: m.Head().Tag(), Forward: fwd, Backward: bwd}), nil
}

// TimeEncryptedHead encrypts feat, evaluates head on it and decrypts the
// result, averaging each phase over iters runs. Key generation is not timed.
func TimeEncryptedHead(head *layers.Linear, feat []float64, logN, iters int) (*HeadTiming, error) {
	if iters <= 0 {
		return nil, fmt.Errorf("iters must be positive, got %d", iters)
	}
	if _, err := ckkswrapper.NewParameters(logN); err != nil {
		return nil, err
	}
	he := ckkswrapper.NewHeContextWithLogN(logN)
	kit := he.GenServerKit(head.CipherRotations())

	t := &HeadTiming{Params: CKKSParamsSummary(he)}
	for i := 0; i < iters; i++ {
		start := time.Now()
		ct, err := he.EncryptVector(feat)
		if err != nil {
			return nil, err
		}
		t.Encrypt += time.Since(start)

		start = time.Now()
		out, err := head.ForwardCipher(ct, kit)
		if err != nil {
			return nil, err
		}
		t.Eval += time.Since(start)

		start = time.Now()
		if _, err := he.DecryptVector(out, head.OutDim()); err != nil {
			return nil, err
		}
		t.Decrypt += time.Since(start)
	}
	n := time.Duration(iters)
	t.Encrypt /= n
	t.Eval /= n
	t.Decrypt /= n
	return t, nil
}

// CKKSParamsSummary describes the parameters of heCtx in one line.
func CKKSParamsSummary(heCtx *ckkswrapper.HeContext) string {
	if heCtx == nil {
		return ""
	}
	params := heCtx.Params
	return fmt.Sprintf("logN=%d,logQ=%v,logP=%v", params.LogN(), params.LogQ(), params.LogP())
}

// WriteCSV writes one row per layer, times in microseconds.
func WriteCSV(w io.Writer, model string, rows []LayerTiming) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"model", "layer", "tag", "fwd_us", "bwd_us"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{model, r.Name, r.Tag, toMicro(r.Forward), toMicro(r.Backward)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Helper to convert time.Duration to microseconds string
func toMicro(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Nanoseconds())/1000.0, 'f', 3, 64)
}
