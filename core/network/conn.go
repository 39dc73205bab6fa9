package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/chargenet/core/model"
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when a connection cannot accept more frames.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrUnknownDestination is returned when a destination resolves to no connection.
	ErrUnknownDestination = errors.New("unknown destination")
	// ErrMalformedFrame is returned for text frames that are not JSON arrays.
	ErrMalformedFrame = errors.New("malformed frame")
)

// CloseCode is a websocket close status code.
type CloseCode int

const (
	CloseNormalClosure   CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseProtocolError   CloseCode = 1002
	ClosePolicyViolation CloseCode = 1008
	CloseInternalError   CloseCode = 1011
)

// ReasonNewerConnection is sent to a connection evicted by a newer one.
const ReasonNewerConnection = "newer connection detected"

// FrameKind distinguishes JSON text frames from opaque binary frames.
type FrameKind int

const (
	FrameJSON FrameKind = iota
	FrameBinary
)

func (k FrameKind) String() string {
	if k == FrameBinary {
		return "binary"
	}
	return "json"
}

// Frame is one message carried by a connection. The payload is not
// interpreted beyond the JSON array check for text frames.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// NewJSONFrame validates data as a JSON array and wraps it in a frame.
func NewJSONFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Frame{}, fmt.Errorf("%w: not a JSON array", ErrMalformedFrame)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(trimmed, &arr); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return Frame{Kind: FrameJSON, Data: data}, nil
}

// MarshalJSONFrame encodes the given elements as a JSON array frame.
func MarshalJSONFrame(elems ...any) (Frame, error) {
	if elems == nil {
		elems = []any{}
	}
	b, err := json.Marshal(elems)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: FrameJSON, Data: b}, nil
}

// NewBinaryFrame wraps an opaque blob.
func NewBinaryFrame(data []byte) Frame { return Frame{Kind: FrameBinary, Data: data} }

// Connection is a live transport session bound to a node.
type Connection interface {
	ID() string
	NodeID() model.NodeID
	RemoteAddr() string
	// Mode returns the networking-mode tag announced at handshake, if any.
	Mode() string
	CreatedAt() time.Time
	Alive() bool
	// Send transmits the frame, preserving FIFO order per connection. It
	// returns once the frame is written or ctx is done.
	Send(ctx context.Context, f Frame) error
	// Close sends a close frame with the given status and reason and tears
	// the connection down.
	Close(code CloseCode, reason string) error
}
