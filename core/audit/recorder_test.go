package audit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/network"
)

type stubConn struct{ id, node string }

func (c stubConn) ID() string                                { return c.id }
func (c stubConn) NodeID() model.NodeID                      { return model.NodeID(c.node) }
func (c stubConn) RemoteAddr() string                        { return "127.0.0.1:1" }
func (c stubConn) Mode() string                              { return "" }
func (c stubConn) CreatedAt() time.Time                      { return time.Time{} }
func (c stubConn) Alive() bool                               { return true }
func (c stubConn) Send(context.Context, network.Frame) error { return nil }
func (c stubConn) Close(network.CloseCode, string) error     { return nil }

func TestRecorderPersistsTraffic(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "frames.jsonl"), 0, 0, 0)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	d := network.NewDispatcher(network.NewRoutingTable(network.NewRegistry(nil, nil)), time.Second, nil, nil)
	defer d.Close()
	stop := NewRecorder(store, nil).Attach(d)
	defer stop()

	c := stubConn{id: "c1", node: "CS001"}
	in, err := network.NewJSONFrame([]byte(`[2,"a","Heartbeat",{}]`))
	require.NoError(t, err)
	d.Receive(context.Background(), c, in)
	res := d.Send(context.Background(), c, network.NewBinaryFrame([]byte("x")))
	require.Equal(t, network.SendSuccess, res.Status)

	require.Eventually(t, func() bool {
		out, err := store.Query(context.Background(), Query{NodeID: "CS001"})
		return err == nil && len(out) == 2
	}, 2*time.Second, 20*time.Millisecond)

	out, err := store.Query(context.Background(), Query{Direction: "out"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, network.SendSuccess.String(), out[0].Result)
}

// gatedStore blocks every Append until release is closed.
type gatedStore struct {
	release chan struct{}
	mu      sync.Mutex
	recs    []FrameRecord
}

func (s *gatedStore) Append(_ context.Context, rec FrameRecord) error {
	<-s.release
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	return nil
}

func (s *gatedStore) Query(context.Context, Query) ([]FrameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FrameRecord(nil), s.recs...), nil
}

func (s *gatedStore) Close() error { return nil }

func TestRecorderKeepsBurstsWhileStoreIsSlow(t *testing.T) {
	store := &gatedStore{release: make(chan struct{})}
	d := network.NewDispatcher(network.NewRoutingTable(network.NewRegistry(nil, nil)), time.Second, nil, nil)
	defer d.Close()
	stop := NewRecorder(store, nil).Attach(d)
	defer stop()

	const burst = 1000
	c := stubConn{id: "c1", node: "CS001"}
	for i := 0; i < burst; i++ {
		d.Send(context.Background(), c, network.NewBinaryFrame([]byte{byte(i)}))
	}
	close(store.release)

	require.Eventually(t, func() bool {
		out, _ := store.Query(context.Background(), Query{})
		return len(out) == burst
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, d.Dropped())
}
