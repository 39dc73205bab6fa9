package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargenet/core/logger"
	coremetrics "github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/network"
)

func TestPromSink_RecordAuthorization(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordAuthorization(coremetrics.AuthorizationEvent{
		Operation: "authorize_start",
		BackendID: "local",
		Result:    "Authorized",
		Latency:   20 * time.Millisecond,
	}))

	expected := `
# HELP chargenet_authorization_decisions_total Authorization router decisions by operation, backend and result
# TYPE chargenet_authorization_decisions_total counter
chargenet_authorization_decisions_total{backend="local",operation="authorize_start",result="Authorized"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(sink.authorization, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.authLatency))
}

func TestPromSink_ConnectionsAndSends(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordConnection(coremetrics.ConnectionEvent{NodeID: "CS001", Action: coremetrics.ConnRegistered}))
	require.NoError(t, sink.RecordConnection(coremetrics.ConnectionEvent{NodeID: "CS001", Action: coremetrics.ConnEvicted}))
	require.NoError(t, sink.RecordSend(coremetrics.SendEvent{NodeID: "CS001", Result: "success", Latency: time.Millisecond}))
	require.NoError(t, sink.RecordLiveConnections(4))
	require.NoError(t, sink.RecordReservation(coremetrics.ReservationEvent{Status: model.ReservationSuccess}))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.connections.WithLabelValues("evicted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.sends.WithLabelValues("success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(sink.live))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.reservations.WithLabelValues("Success")))
}

func TestPromSink_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	second, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, second.RecordLiveConnections(2))
	assert.Equal(t, 2.0, testutil.ToFloat64(first.live), "collectors should be reused")
}

type stubConn struct{ node string }

func (c stubConn) ID() string                                { return "c1" }
func (c stubConn) NodeID() model.NodeID                      { return model.NodeID(c.node) }
func (c stubConn) RemoteAddr() string                        { return "127.0.0.1:1" }
func (c stubConn) Mode() string                              { return "" }
func (c stubConn) CreatedAt() time.Time                      { return time.Time{} }
func (c stubConn) Alive() bool                               { return true }
func (c stubConn) Send(context.Context, network.Frame) error { return nil }
func (c stubConn) Close(network.CloseCode, string) error     { return nil }

func TestStartFrameCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	d := network.NewDispatcher(network.NewRoutingTable(network.NewRegistry(nil, nil)), time.Second, nil, nil)
	defer d.Close()
	stop := StartFrameCollector(d, sink, nil)
	defer stop()

	c := stubConn{node: "CS001"}
	in, err := network.NewJSONFrame([]byte(`[2,"1","Heartbeat",{}]`))
	require.NoError(t, err)
	d.Receive(context.Background(), c, in)
	d.Send(context.Background(), c, network.NewBinaryFrame([]byte("abc")))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(sink.frames.WithLabelValues("in", "json")) == 1 &&
			testutil.ToFloat64(sink.frames.WithLabelValues("out", "binary")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(sink.frameBytes.WithLabelValues("out")))
}

type brokenTrafficSink struct{ coremetrics.NopSink }

func (brokenTrafficSink) RecordFrameTraffic(coremetrics.FrameTrafficEvent) error {
	return errors.New("write refused")
}

type errorLog struct {
	logger.NopLogger
	mu   sync.Mutex
	msgs []string
}

func (l *errorLog) Errorf(format string, args ...any) {
	l.mu.Lock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *errorLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

func TestStartFrameCollectorLogsRecordErrors(t *testing.T) {
	d := network.NewDispatcher(network.NewRoutingTable(network.NewRegistry(nil, nil)), time.Second, nil, nil)
	defer d.Close()
	log := &errorLog{}
	stop := StartFrameCollector(d, brokenTrafficSink{}, log)
	defer stop()

	d.Send(context.Background(), stubConn{node: "CS001"}, network.NewBinaryFrame([]byte("abc")))

	require.Eventually(t, func() bool { return len(log.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, log.messages()[0], "write refused")
}

func TestStartFrameCollectorWithoutSupport(t *testing.T) {
	stop := StartFrameCollector(nil, coremetrics.NopSink{}, nil)
	stop()
}
