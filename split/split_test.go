package split

import (
	"context"
	"net"
	"testing"

	"effnet/nn/efficientnet"
	"effnet/nn/layers"
	"effnet/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

const testLogN = 12

// flatEmbedder treats its [N, D] input as already-pooled features.
type flatEmbedder struct{}

func (flatEmbedder) Embed(x *tensor.Tensor) (*tensor.Tensor, error) { return x.Clone(), nil }

func testHead(t *testing.T, in, out int) *layers.Linear {
	t.Helper()
	head, err := layers.NewLinear(in, out, rand.NewSource(9))
	require.NoError(t, err)
	return head
}

func testFeatures(n, d int) *tensor.Tensor {
	x := tensor.New(n, d)
	r := rand.New(rand.NewSource(4))
	for i := range x.Data {
		x.Data[i] = r.NormFloat64()
	}
	return x
}

// startSession serves one session over net.Pipe and returns the client end
// plus a channel carrying Serve's result.
func startSession(t *testing.T, ctx context.Context, srv *Server) (net.Conn, <-chan error) {
	t.Helper()
	srvConn, cliConn := net.Pipe()
	done := make(chan error, 1)
	go func() {
		defer srvConn.Close()
		done <- srv.Serve(ctx, srvConn)
	}()
	return cliConn, done
}

func TestSessionMatchesPlaintextHead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping CKKS test in short mode")
	}
	head := testHead(t, 6, 3)
	srv, err := NewServer("test-head", head, testLogN)
	require.NoError(t, err)

	ctx := context.Background()
	conn, done := startSession(t, ctx, srv)
	client, err := NewClient(ctx, conn, flatEmbedder{})
	require.NoError(t, err)
	assert.Equal(t, HelloPayload{Model: "test-head", InDim: 6, OutDim: 3, LogN: testLogN}, client.Hello())

	x := testFeatures(2, 6)
	want, err := head.Forward(x, layers.Eval)
	require.NoError(t, err)
	got, err := client.Classify(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got.Shape)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-3)
	assert.Positive(t, client.Stats.EncryptionTime)

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
}

func TestClassifyRejectsWrongFeatureDim(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping CKKS test in short mode")
	}
	srv, err := NewServer("test-head", testHead(t, 6, 3), testLogN)
	require.NoError(t, err)
	ctx := context.Background()
	conn, done := startSession(t, ctx, srv)
	client, err := NewClient(ctx, conn, flatEmbedder{})
	require.NoError(t, err)

	_, err = client.Classify(ctx, testFeatures(1, 5))
	assert.ErrorContains(t, err, "expects 6")
	require.NoError(t, client.Close())
	require.NoError(t, <-done)
}

func TestServerReportsBadKeys(t *testing.T) {
	srv, err := NewServer("test-head", testHead(t, 4, 2), testLogN)
	require.NoError(t, err)
	conn, done := startSession(t, context.Background(), srv)
	defer conn.Close()

	proto := NewProtocol(conn, conn)
	_, err = proto.ReceiveHello()
	require.NoError(t, err)
	require.NoError(t, proto.SendKeys(nil))

	_, err = proto.ReceiveResult()
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "evaluation keys")
	assert.ErrorContains(t, <-done, "evaluation keys")
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, err := NewServer("test-head", testHead(t, 4, 2), testLogN)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	conn, done := startSession(t, ctx, srv)
	defer conn.Close()

	_, err = NewProtocol(conn, conn).ReceiveHello()
	require.NoError(t, err)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewServerValidates(t *testing.T) {
	_, err := NewServer("x", nil, testLogN)
	assert.Error(t, err)
	_, err = NewServer("x", testHead(t, 2, 2), 4)
	assert.Error(t, err)
}

func TestServeListenerOverTCP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping CKKS test in short mode")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	head := testHead(t, 5, 2)
	srv, err := NewServer("test-head", head, testLogN)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ctx, ln) }()

	client, err := Dial(ctx, ln.Addr().String(), flatEmbedder{})
	require.NoError(t, err)
	x := testFeatures(1, 5)
	want, err := head.Forward(x, layers.Eval)
	require.NoError(t, err)
	got, err := client.Classify(ctx, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-3)
	require.NoError(t, client.Close())

	cancel()
	assert.NoError(t, <-served)
}

func TestEfficientNetSplitMatchesPlaintext(t *testing.T) {
	if testing.Short() {
		t.Skip("full b0 forward under CKKS")
	}
	model, err := efficientnet.New("b0", 3, efficientnet.WithSeed(5))
	require.NoError(t, err)
	srv, err := NewServer(model.Tag(), model.Head(), 13)
	require.NoError(t, err)

	ctx := context.Background()
	conn, done := startSession(t, ctx, srv)
	client, err := NewClient(ctx, conn, model)
	require.NoError(t, err)

	x := testFeatures(1, 3*8*8)
	x, err = x.Reshape(1, 3, 8, 8)
	require.NoError(t, err)
	want, err := model.Forward(x, layers.Eval)
	require.NoError(t, err)
	got, err := client.Classify(ctx, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-3)

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
}
