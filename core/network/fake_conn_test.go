package network

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/chargenet/core/model"
)

type closeCall struct {
	code   CloseCode
	reason string
}

type fakeConn struct {
	id      string
	node    model.NodeID
	created time.Time

	mu       sync.Mutex
	alive    bool
	sent     []Frame
	closes   []closeCall
	sendErr  error
	block    bool
	closeErr error
}

func newFakeConn(id string, node model.NodeID) *fakeConn {
	return &fakeConn{id: id, node: node, alive: true, created: time.Now()}
}

func (f *fakeConn) ID() string           { return f.id }
func (f *fakeConn) NodeID() model.NodeID { return f.node }
func (f *fakeConn) RemoteAddr() string   { return "127.0.0.1:1234" }
func (f *fakeConn) Mode() string         { return "" }
func (f *fakeConn) CreatedAt() time.Time { return f.created }

func (f *fakeConn) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeConn) Send(ctx context.Context, fr Frame) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeConn) Close(code CloseCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	f.closes = append(f.closes, closeCall{code, reason})
	return f.closeErr
}

func (f *fakeConn) closeCalls() []closeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]closeCall(nil), f.closes...)
}

func (f *fakeConn) sentFrames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.sent...)
}
