package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/network"
)

type outbound struct {
	msgType int
	data    []byte
	done    chan error
}

// conn is a network.Connection over a gorilla websocket. All data writes go
// through a single writer goroutine fed by a bounded queue.
type conn struct {
	id      string
	nodeID  model.NodeID
	remote  string
	mode    string
	created time.Time

	ws           *websocket.Conn
	queue        chan outbound
	closed       chan struct{}
	closeOnce    sync.Once
	alive        atomic.Bool
	writeTimeout time.Duration
	pingInterval time.Duration
	log          logger.Logger
}

func newConn(ws *websocket.Conn, nodeID model.NodeID, mode string, cfg Config, log logger.Logger) *conn {
	c := &conn{
		id:           uuid.NewString(),
		nodeID:       nodeID,
		remote:       ws.RemoteAddr().String(),
		mode:         mode,
		created:      time.Now(),
		ws:           ws,
		queue:        make(chan outbound, cfg.SendQueueSize),
		closed:       make(chan struct{}),
		writeTimeout: cfg.WriteTimeout(),
		pingInterval: cfg.PingInterval(),
		log:          logger.OrNop(log),
	}
	c.alive.Store(true)
	return c
}

func (c *conn) ID() string            { return c.id }
func (c *conn) NodeID() model.NodeID  { return c.nodeID }
func (c *conn) RemoteAddr() string    { return c.remote }
func (c *conn) Mode() string          { return c.mode }
func (c *conn) CreatedAt() time.Time  { return c.created }
func (c *conn) Alive() bool           { return c.alive.Load() }
func (c *conn) Done() <-chan struct{} { return c.closed }

// Send queues f and waits until it is written, ctx is done or the connection
// goes away.
func (c *conn) Send(ctx context.Context, f network.Frame) error {
	if !c.Alive() {
		return network.ErrConnectionClosed
	}
	msgType := websocket.TextMessage
	if f.Kind == network.FrameBinary {
		msgType = websocket.BinaryMessage
	}
	out := outbound{msgType: msgType, data: f.Data, done: make(chan error, 1)}
	select {
	case c.queue <- out:
	case <-c.closed:
		return network.ErrConnectionClosed
	default:
		return network.ErrSendQueueFull
	}
	select {
	case err := <-out.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return network.ErrConnectionClosed
	}
}

// writeLoop drains the queue and sends keep-alive pings.
func (c *conn) writeLoop() {
	var tick <-chan time.Time
	if c.pingInterval > 0 {
		t := time.NewTicker(c.pingInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-c.closed:
			return
		case out := <-c.queue:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.ws.WriteMessage(out.msgType, out.data)
			out.done <- err
			if err != nil {
				c.log.Warnf("write to %s failed: %v", c.nodeID, err)
				c.teardown(network.CloseInternalError, "write failed")
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.log.Warnf("ping to %s failed: %v", c.nodeID, err)
				c.teardown(network.CloseGoingAway, "keep-alive failed")
				return
			}
		}
	}
}

// Close sends a close frame and tears the connection down. Closing twice is a
// no-op.
func (c *conn) Close(code network.CloseCode, reason string) error {
	return c.teardown(code, reason)
}

func (c *conn) teardown(code network.CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.closed)
		msg := websocket.FormatCloseMessage(int(code), reason)
		werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		if errors.Is(werr, websocket.ErrCloseSent) {
			werr = nil
		}
		err = errors.Join(werr, c.ws.Close())
	})
	return err
}

// markDead is used when the peer went away without a close handshake.
func (c *conn) markDead() {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.closed)
		_ = c.ws.Close()
	})
}
