package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargenet/core/model"
)

func newTestDispatcher(timeout time.Duration) (*Dispatcher, *Registry, *RoutingTable) {
	reg := NewRegistry(nil, nil)
	rt := NewRoutingTable(reg)
	return NewDispatcher(rt, timeout, nil, nil), reg, rt
}

func TestFrameValidation(t *testing.T) {
	f, err := NewJSONFrame([]byte(` [2,"id","Heartbeat",{}]`))
	require.NoError(t, err)
	assert.Equal(t, FrameJSON, f.Kind)

	_, err = NewJSONFrame([]byte(`{"a":1}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
	_, err = NewJSONFrame([]byte(`[1,`))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	f, err = MarshalJSONFrame(3, "id", map[string]string{})
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"id",{}]`, string(f.Data))
}

func TestSendClassification(t *testing.T) {
	d, _, _ := newTestDispatcher(20 * time.Millisecond)
	frame := NewBinaryFrame([]byte{1, 2})

	ok := newFakeConn("ok", "A")
	assert.Equal(t, SendSuccess, d.Send(context.Background(), ok, frame).Status)
	assert.Len(t, ok.sentFrames(), 1)

	slow := newFakeConn("slow", "B")
	slow.block = true
	res := d.Send(context.Background(), slow, frame)
	assert.Equal(t, SendTimeout, res.Status)
	assert.ErrorIs(t, res.Cause, context.DeadlineExceeded)

	broken := newFakeConn("broken", "C")
	broken.sendErr = errors.New("reset by peer")
	res = d.Send(context.Background(), broken, frame)
	assert.Equal(t, SendTransmissionFailed, res.Status)
	assert.EqualError(t, res.Cause, "reset by peer")

	dead := newFakeConn("dead", "D")
	dead.alive = false
	res = d.Send(context.Background(), dead, frame)
	assert.Equal(t, SendTransmissionFailed, res.Status)
	assert.ErrorIs(t, res.Cause, ErrConnectionClosed)

	assert.Equal(t, SendUnknownClient, d.Send(context.Background(), nil, frame).Status)
}

func TestSendCancelledContext(t *testing.T) {
	d, _, _ := newTestDispatcher(time.Second)
	c := newFakeConn("c", "A")
	c.block = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Send(ctx, c, NewBinaryFrame(nil))
	assert.Equal(t, SendTransmissionFailed, res.Status)
	assert.ErrorIs(t, res.Cause, context.Canceled)
}

func TestSendToBroadcastContinuesOnError(t *testing.T) {
	d, reg, _ := newTestDispatcher(time.Second)
	a := newFakeConn("a", "A")
	b := newFakeConn("b", "B")
	b.sendErr = errors.New("write failed")
	c := newFakeConn("c", "C")
	for _, conn := range []*fakeConn{a, b, c} {
		reg.Register(conn.NodeID(), conn)
	}
	results, err := d.SendTo(context.Background(), model.BroadcastNode, NewBinaryFrame([]byte("x")))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, SendBroadcast, results[0].Status)
	assert.Equal(t, SendTransmissionFailed, results[1].Status)
	assert.Equal(t, SendBroadcast, results[2].Status)
	assert.Len(t, a.sentFrames(), 1)
	assert.Len(t, c.sentFrames(), 1)
}

func TestSendToUnknownAndZero(t *testing.T) {
	d, reg, rt := newTestDispatcher(time.Second)
	results, err := d.SendTo(context.Background(), model.ZeroNode, NewBinaryFrame(nil))
	assert.NoError(t, err)
	assert.Empty(t, results)

	results, err = d.SendTo(context.Background(), "nobody", NewBinaryFrame(nil))
	assert.ErrorIs(t, err, ErrUnknownDestination)
	require.Len(t, results, 1)
	assert.Equal(t, SendUnknownClient, results[0].Status)

	hub := newFakeConn("h", "HUB")
	reg.Register("HUB", hub)
	require.NoError(t, rt.SetNextHop("CS9", "HUB"))
	results, err = d.SendTo(context.Background(), "CS9", NewBinaryFrame(nil))
	require.NoError(t, err)
	assert.Equal(t, SendSuccess, results[0].Status)
	assert.Equal(t, model.NodeID("HUB"), results[0].NodeID)
}

func TestObserverFailureIsIsolated(t *testing.T) {
	d, _, _ := newTestDispatcher(time.Second)
	defer d.Close()

	var mu sync.Mutex
	var seen []Direction
	done := make(chan struct{}, 2)
	stopBad := d.Observe("bad", func(FrameEvent) { panic("observer down") })
	defer stopBad()
	stopGood := d.Observe("good", func(ev FrameEvent) {
		mu.Lock()
		seen = append(seen, ev.Direction)
		mu.Unlock()
		done <- struct{}{}
	})
	defer stopGood()

	c := newFakeConn("c", "A")
	res := d.Send(context.Background(), c, NewBinaryFrame(nil))
	assert.Equal(t, SendSuccess, res.Status)
	d.Receive(context.Background(), c, NewBinaryFrame(nil))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("observer did not receive events")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []Direction{Outbound, Inbound}, seen)
}

func TestReceiveHandlerPanicRecovered(t *testing.T) {
	d, _, _ := newTestDispatcher(time.Second)
	called := false
	d.SetHandler(FrameHandlerFunc(func(context.Context, Connection, Frame) {
		called = true
		panic("adapter bug")
	}))
	assert.NotPanics(t, func() {
		d.Receive(context.Background(), newFakeConn("c", "A"), NewBinaryFrame(nil))
	})
	assert.True(t, called)
}
