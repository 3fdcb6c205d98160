package split

import (
	"context"
	"fmt"
	"io"
	"net"

	"effnet/core/ckkswrapper"
	"effnet/logging"
	"effnet/nn/layers"
	"effnet/tensor"
	"effnet/utils"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Embedder maps a batch of images to [N, D] feature vectors.
type Embedder interface {
	Embed(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Client holds the feature extractor and the secret key. Only ciphertexts of
// pooled features leave the client.
type Client struct {
	model Embedder
	conn  io.ReadWriter
	proto *Protocol
	he    *ckkswrapper.HeContext
	hello HelloPayload
	next  int

	Stats utils.TimingStats
}

// Dial connects to a split server at addr and performs the handshake.
func Dial(ctx context.Context, addr string, model Embedder) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := NewClient(ctx, conn, model)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient runs the handshake on conn: it reads the server's hello,
// generates a key pair for the announced ring degree and uploads the
// evaluation keys the head needs.
func NewClient(ctx context.Context, conn io.ReadWriter, model Embedder) (*Client, error) {
	c := &Client{model: model, conn: conn, proto: NewProtocol(conn, conn)}
	if cl, ok := conn.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { cl.Close() })
		defer stop()
	}

	hello, err := c.proto.ReceiveHello()
	if err != nil {
		return nil, fmt.Errorf("receive hello: %w", err)
	}
	if _, err := ckkswrapper.NewParameters(hello.LogN); err != nil {
		return nil, fmt.Errorf("server announced unusable parameters: %w", err)
	}
	c.hello = *hello

	stopInit := c.Stats.Track(&c.Stats.HEInitTime)
	c.he = ckkswrapper.NewHeContextWithLogN(hello.LogN)
	if slots := c.he.Params.MaxSlots(); hello.InDim > slots || hello.OutDim > slots {
		stopInit()
		return nil, fmt.Errorf("head %d->%d does not fit in %d slots", hello.InDim, hello.OutDim, slots)
	}
	evk := c.he.EvaluationKeys(layers.LinearRotations(hello.InDim, hello.OutDim))
	raw, err := evk.MarshalBinary()
	stopInit()
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation keys: %w", err)
	}
	if err := c.proto.SendKeys(raw); err != nil {
		return nil, fmt.Errorf("send keys: %w", err)
	}

	logging.FromContext(ctx).Info().
		Str("model", hello.Model).
		Int("in", hello.InDim).
		Int("out", hello.OutDim).
		Int("log_n", hello.LogN).
		Msg("Split session established")
	return c, nil
}

// Hello returns what the server announced.
func (c *Client) Hello() HelloPayload { return c.hello }

// Classify embeds x locally and has the server score each feature vector
// under encryption. It returns the decrypted [N, OutDim] logits.
func (c *Client) Classify(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if cl, ok := c.conn.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { cl.Close() })
		defer stop()
	}

	stopFwd := c.Stats.Track(&c.Stats.ForwardPassTime)
	feats, err := c.model.Embed(x)
	stopFwd()
	if err != nil {
		return nil, err
	}
	n, dim := feats.Shape[0], feats.Shape[1]
	if dim != c.hello.InDim {
		return nil, fmt.Errorf("features have %d dims, server head expects %d", dim, c.hello.InDim)
	}

	out := tensor.New(n, c.hello.OutDim)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := c.scoreOne(feats.Data[i*dim : (i+1)*dim])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		copy(out.Data[i*c.hello.OutDim:], logits)
	}
	return out, nil
}

func (c *Client) scoreOne(feat []float64) ([]float64, error) {
	id := c.next
	c.next++

	stopEnc := c.Stats.Track(&c.Stats.EncryptionTime)
	ct, err := c.he.EncryptVector(feat)
	if err != nil {
		stopEnc()
		return nil, err
	}
	raw, err := ct.MarshalBinary()
	stopEnc()
	if err != nil {
		return nil, fmt.Errorf("marshal ciphertext: %w", err)
	}

	stopSrv := c.Stats.Track(&c.Stats.ServerHeadTime)
	if err := c.proto.SendForward(id, raw, ct.Level()); err != nil {
		stopSrv()
		return nil, fmt.Errorf("send batch %d: %w", id, err)
	}
	resp, err := c.proto.ReceiveResult()
	stopSrv()
	if err != nil {
		return nil, fmt.Errorf("receive batch %d: %w", id, err)
	}
	if resp.BatchID != id {
		return nil, fmt.Errorf("result for batch %d, expected %d", resp.BatchID, id)
	}

	defer c.Stats.Track(&c.Stats.DecryptionTime)()
	res := new(rlwe.Ciphertext)
	if err := res.UnmarshalBinary(resp.Ciphertext); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return c.he.DecryptVector(res, c.hello.OutDim)
}

// Close ends the session. The connection is closed if it is an io.Closer.
func (c *Client) Close() error {
	err := c.proto.SendDone()
	if cl, ok := c.conn.(io.Closer); ok {
		if cerr := cl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
