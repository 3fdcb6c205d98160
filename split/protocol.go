// Package split runs the classifier head of a network on encrypted features:
// the client extracts features and holds the CKKS secret key, the server
// holds the head weights and only ever sees ciphertexts.
package split

import (
	"encoding/gob"
	"fmt"
	"io"
)

func init() {
	// Register types for gob encoding
	gob.Register(HelloPayload{})
	gob.Register(KeysPayload{})
	gob.Register(ForwardPayload{})
}

// MessageType defines message types for the split inference protocol
type MessageType int

const (
	MsgHello MessageType = iota
	MsgKeys
	MsgForwardInput
	MsgForwardOutput
	MsgDone
	MsgError
)

func (t MessageType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgKeys:
		return "keys"
	case MsgForwardInput:
		return "forward-input"
	case MsgForwardOutput:
		return "forward-output"
	case MsgDone:
		return "done"
	case MsgError:
		return "error"
	}
	return fmt.Sprintf("message(%d)", int(t))
}

// Message represents a message in the split inference protocol
type Message struct {
	Type    MessageType
	Payload interface{}
}

// HelloPayload is the server's opening message: the head dimensions and the
// ring degree the client must generate keys for.
type HelloPayload struct {
	Model  string
	InDim  int
	OutDim int
	LogN   int
}

// KeysPayload carries the client's marshalled evaluation key set.
type KeysPayload struct {
	EvaluationKeys []byte
}

// ForwardPayload contains one serialized ciphertext
type ForwardPayload struct {
	BatchID    int
	Ciphertext []byte
	Level      int
}

// RemoteError is an error reported by the peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote error: " + e.Message }

// Protocol handles split inference communication
type Protocol struct {
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// NewProtocol creates a new protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	return &Protocol{
		encoder: gob.NewEncoder(w),
		decoder: gob.NewDecoder(r),
	}
}

// Send sends a message
func (p *Protocol) Send(msg *Message) error {
	return p.encoder.Encode(msg)
}

// Receive receives a message
func (p *Protocol) Receive() (*Message, error) {
	var msg Message
	if err := p.decoder.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// expect receives the next message and checks its type. A Done message
// yields io.EOF and an Error message a *RemoteError.
func (p *Protocol) expect(want MessageType) (*Message, error) {
	msg, err := p.Receive()
	if err != nil {
		return nil, err
	}
	switch msg.Type {
	case want:
		return msg, nil
	case MsgError:
		return nil, &RemoteError{Message: fmt.Sprint(msg.Payload)}
	case MsgDone:
		return nil, io.EOF
	}
	return nil, fmt.Errorf("expected %s message, got %s", want, msg.Type)
}

// SendHello announces the head served on this connection
func (p *Protocol) SendHello(h HelloPayload) error {
	return p.Send(&Message{Type: MsgHello, Payload: h})
}

// ReceiveHello receives the server's hello
func (p *Protocol) ReceiveHello() (*HelloPayload, error) {
	msg, err := p.expect(MsgHello)
	if err != nil {
		return nil, err
	}
	payload, ok := msg.Payload.(HelloPayload)
	if !ok {
		return nil, fmt.Errorf("invalid hello payload type %T", msg.Payload)
	}
	return &payload, nil
}

// SendKeys sends marshalled evaluation keys
func (p *Protocol) SendKeys(evk []byte) error {
	return p.Send(&Message{Type: MsgKeys, Payload: KeysPayload{EvaluationKeys: evk}})
}

// ReceiveKeys receives marshalled evaluation keys
func (p *Protocol) ReceiveKeys() ([]byte, error) {
	msg, err := p.expect(MsgKeys)
	if err != nil {
		return nil, err
	}
	payload, ok := msg.Payload.(KeysPayload)
	if !ok {
		return nil, fmt.Errorf("invalid keys payload type %T", msg.Payload)
	}
	return payload.EvaluationKeys, nil
}

// SendForward sends an encrypted feature vector
func (p *Protocol) SendForward(batchID int, ctBytes []byte, level int) error {
	return p.sendCiphertext(MsgForwardInput, batchID, ctBytes, level)
}

// SendResult sends encrypted logits back
func (p *Protocol) SendResult(batchID int, ctBytes []byte, level int) error {
	return p.sendCiphertext(MsgForwardOutput, batchID, ctBytes, level)
}

func (p *Protocol) sendCiphertext(t MessageType, batchID int, ctBytes []byte, level int) error {
	return p.Send(&Message{
		Type: t,
		Payload: ForwardPayload{
			BatchID:    batchID,
			Ciphertext: ctBytes,
			Level:      level,
		},
	})
}

// ReceiveForward receives an encrypted feature vector; io.EOF means the
// client is done.
func (p *Protocol) ReceiveForward() (*ForwardPayload, error) {
	return p.receiveCiphertext(MsgForwardInput)
}

// ReceiveResult receives encrypted logits
func (p *Protocol) ReceiveResult() (*ForwardPayload, error) {
	return p.receiveCiphertext(MsgForwardOutput)
}

func (p *Protocol) receiveCiphertext(t MessageType) (*ForwardPayload, error) {
	msg, err := p.expect(t)
	if err != nil {
		return nil, err
	}
	payload, ok := msg.Payload.(ForwardPayload)
	if !ok {
		return nil, fmt.Errorf("invalid forward payload type %T", msg.Payload)
	}
	return &payload, nil
}

// SendDone signals completion
func (p *Protocol) SendDone() error {
	return p.Send(&Message{Type: MsgDone})
}

// SendError sends an error message
func (p *Protocol) SendError(err error) error {
	return p.Send(&Message{
		Type:    MsgError,
		Payload: err.Error(),
	})
}
