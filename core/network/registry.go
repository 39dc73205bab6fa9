package network

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/model"
)

// Registry maps node ids to their live connection. All mutations go through
// one mutex; lookups read the sync.Map directly.
type Registry struct {
	mu    sync.Mutex
	conns sync.Map // model.NodeID -> Connection
	count int

	log     logger.Logger
	metrics metrics.Sink
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger, sink metrics.Sink) *Registry {
	return &Registry{log: logger.OrNop(log), metrics: metrics.OrNop(sink)}
}

// Register installs c as the connection for id. An existing connection for the
// same id is closed with ReasonNewerConnection first; close errors are logged.
func (r *Registry) Register(id model.NodeID, c Connection) {
	if c == nil || id.IsZero() || id.IsBroadcast() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.conns.Load(id); ok {
		old := v.(Connection)
		if old != c {
			if err := old.Close(CloseNormalClosure, ReasonNewerConnection); err != nil {
				r.log.Warnf("closing stale connection %s of %s: %v", old.ID(), id, err)
			}
			r.log.Infof("evicted connection %s of %s", old.ID(), id)
			r.record(id, metrics.ConnEvicted, ReasonNewerConnection)
		}
		r.count--
	}
	r.conns.Store(id, c)
	r.count++
	r.record(id, metrics.ConnRegistered, "")
	r.recordLive()
}

// Unregister removes whatever connection is registered for id.
func (r *Registry) Unregister(id model.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns.LoadAndDelete(id); !ok {
		return false
	}
	r.count--
	r.record(id, metrics.ConnUnregistered, "")
	r.recordLive()
	return true
}

// Release removes c only if it is still the registered connection of its node.
// Read loops of evicted connections use it so they never drop their successor.
func (r *Registry) Release(c Connection) bool {
	if c == nil {
		return false
	}
	id := c.NodeID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.conns.CompareAndDelete(id, c) {
		return false
	}
	r.count--
	r.record(id, metrics.ConnUnregistered, "released")
	r.recordLive()
	return true
}

// Get returns the connection registered for id.
func (r *Registry) Get(id model.NodeID) (Connection, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(Connection), true
}

// AllLive returns a snapshot of every registered connection that is still
// alive, ordered by node id.
func (r *Registry) AllLive() []Connection {
	var out []Connection
	r.conns.Range(func(_, v any) bool {
		c := v.(Connection)
		if c.Alive() {
			out = append(out, c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID() < out[j].NodeID() })
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// CloseAll closes and removes every connection, used at shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns.Range(func(k, v any) bool {
		if err := v.(Connection).Close(CloseGoingAway, reason); err != nil {
			r.log.Debugf("close %s: %v", k, err)
		}
		r.conns.Delete(k)
		return true
	})
	r.count = 0
	r.recordLive()
}

func (r *Registry) record(id model.NodeID, action metrics.ConnectionAction, reason string) {
	ev := metrics.ConnectionEvent{NodeID: id, Action: action, Reason: reason, Time: time.Now()}
	if err := r.metrics.RecordConnection(ev); err != nil {
		r.log.Errorf("connection metrics error: %v", err)
	}
}

func (r *Registry) recordLive() {
	if lr, ok := r.metrics.(metrics.LiveConnectionsRecorder); ok {
		if err := lr.RecordLiveConnections(r.count); err != nil {
			r.log.Errorf("live connections metrics error: %v", err)
		}
	}
}
