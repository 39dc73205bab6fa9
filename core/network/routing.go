package network

import (
	"fmt"
	"sync"

	"github.com/kilianp07/chargenet/core/model"
)

// RoutingTable resolves destinations to live connections. A destination with a
// next-hop entry is reached through that hub; only one substitution is applied.
type RoutingTable struct {
	registry *Registry

	mu      sync.RWMutex
	nextHop map[model.NodeID]model.NodeID
}

// NewRoutingTable creates a table resolving against the given registry.
func NewRoutingTable(reg *Registry) *RoutingTable {
	return &RoutingTable{registry: reg, nextHop: make(map[model.NodeID]model.NodeID)}
}

// SetNextHop routes traffic for dest through hub.
func (t *RoutingTable) SetNextHop(dest, hub model.NodeID) error {
	if dest.IsZero() || dest.IsBroadcast() || hub.IsZero() || hub.IsBroadcast() {
		return fmt.Errorf("routing: reserved node id in entry %q -> %q", dest, hub)
	}
	if dest == hub {
		return fmt.Errorf("routing: %q cannot be its own next hop", dest)
	}
	t.mu.Lock()
	t.nextHop[dest] = hub
	t.mu.Unlock()
	return nil
}

// RemoveNextHop makes dest directly reachable again.
func (t *RoutingTable) RemoveNextHop(dest model.NodeID) {
	t.mu.Lock()
	delete(t.nextHop, dest)
	t.mu.Unlock()
}

// NextHop returns the hub configured for dest.
func (t *RoutingTable) NextHop(dest model.NodeID) (model.NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hub, ok := t.nextHop[dest]
	return hub, ok
}

// Routes returns a copy of the next-hop entries.
func (t *RoutingTable) Routes() map[model.NodeID]model.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.NodeID]model.NodeID, len(t.nextHop))
	for k, v := range t.nextHop {
		out[k] = v
	}
	return out
}

// Resolve returns the live connections that should receive a frame for dest.
// Broadcast returns a snapshot; connections registered afterwards are not
// included.
func (t *RoutingTable) Resolve(dest model.NodeID) []Connection {
	switch {
	case dest.IsZero():
		return nil
	case dest.IsBroadcast():
		return t.registry.AllLive()
	}
	target := dest
	if hub, ok := t.NextHop(dest); ok {
		target = hub
	}
	c, ok := t.registry.Get(target)
	if !ok || !c.Alive() {
		return nil
	}
	return []Connection{c}
}
