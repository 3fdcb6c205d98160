package split

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"effnet/core/ckkswrapper"
	"effnet/logging"
	"effnet/nn/layers"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Server evaluates a classifier head on encrypted feature vectors. One
// Server can handle any number of concurrent sessions; each session brings
// its own evaluation keys.
type Server struct {
	Model string
	Head  *layers.Linear
	LogN  int

	sessions atomic.Uint64
}

// NewServer serves head under the given ring degree.
func NewServer(model string, head *layers.Linear, logN int) (*Server, error) {
	if head == nil {
		return nil, errors.New("split server needs a head layer")
	}
	if _, err := ckkswrapper.NewParameters(logN); err != nil {
		return nil, err
	}
	return &Server{Model: model, Head: head, LogN: logN}, nil
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts connections on ln until ctx is cancelled, then waits
// for open sessions to finish.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	log := logging.FromContext(ctx)
	log.Info().Str("addr", ln.Addr().String()).Str("model", s.Model).Msg("Split server listening")

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := s.Serve(ctx, conn); err != nil {
				log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("Session failed")
			}
		}()
	}
}

// Serve runs one session on conn: hello, keys, then forward requests until
// the client sends Done. If conn is an io.Closer it is closed when ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, conn io.ReadWriter) error {
	id := strconv.FormatUint(s.sessions.Add(1), 10)
	ctx = logging.WithSession(ctx, id)
	log := logging.FromContext(ctx)
	if c, ok := conn.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	proto := NewProtocol(conn, conn)
	err := s.serve(ctx, proto)
	switch {
	case err == nil:
		log.Info().Msg("Session closed")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	var remote *RemoteError
	if !errors.As(err, &remote) {
		// best effort, the connection may already be gone
		_ = proto.SendError(err)
	}
	return err
}

func (s *Server) serve(ctx context.Context, proto *Protocol) error {
	log := logging.FromContext(ctx)
	hello := HelloPayload{Model: s.Model, InDim: s.Head.InDim(), OutDim: s.Head.OutDim(), LogN: s.LogN}
	if err := proto.SendHello(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	raw, err := proto.ReceiveKeys()
	if err != nil {
		return fmt.Errorf("receive keys: %w", err)
	}
	kit, err := s.serverKit(raw)
	if err != nil {
		return err
	}
	log.Debug().Int("key_bytes", len(raw)).Msg("Evaluation keys received")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := proto.ReceiveForward()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive forward: %w", err)
		}

		start := time.Now()
		out, err := s.evaluate(req, kit)
		if err != nil {
			return fmt.Errorf("batch %d: %w", req.BatchID, err)
		}
		raw, err := out.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal result %d: %w", req.BatchID, err)
		}
		if err := proto.SendResult(req.BatchID, raw, out.Level()); err != nil {
			return fmt.Errorf("send result %d: %w", req.BatchID, err)
		}
		log.Debug().Int("batch", req.BatchID).Dur("elapsed", time.Since(start)).Msg("Head evaluated")
	}
}

func (s *Server) serverKit(raw []byte) (*ckkswrapper.ServerKit, error) {
	params, err := ckkswrapper.NewParameters(s.LogN)
	if err != nil {
		return nil, err
	}
	evk := new(rlwe.MemEvaluationKeySet)
	if err := evk.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal evaluation keys: %w", err)
	}
	return ckkswrapper.NewServerKit(params, evk), nil
}

func (s *Server) evaluate(req *ForwardPayload, kit *ckkswrapper.ServerKit) (*rlwe.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(req.Ciphertext); err != nil {
		return nil, fmt.Errorf("unmarshal ciphertext: %w", err)
	}
	if ct.Level() != req.Level {
		return nil, fmt.Errorf("ciphertext level %d, header says %d", ct.Level(), req.Level)
	}
	return s.Head.ForwardCipher(ct, kit)
}
