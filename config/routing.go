package config

import (
	"fmt"

	"github.com/kilianp07/chargenet/core/model"
)

// Route relays frames for Destination through the hub NextHop.
type Route struct {
	Destination string `json:"destination"`
	NextHop     string `json:"next_hop"`
}

// RoutingConfig lists the static next hops loaded at startup.
type RoutingConfig struct {
	Routes []Route `json:"routes"`
}

// Validate rejects reserved ids, self loops and duplicated destinations.
func (c RoutingConfig) Validate() error {
	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		dest, hop := model.NodeID(r.Destination), model.NodeID(r.NextHop)
		if dest.IsZero() || dest.IsBroadcast() || hop.IsZero() || hop.IsBroadcast() {
			return fmt.Errorf("route %d: reserved node id in %q -> %q", i, r.Destination, r.NextHop)
		}
		if dest == hop {
			return fmt.Errorf("route %d: %q cannot be its own next hop", i, r.Destination)
		}
		if seen[r.Destination] {
			return fmt.Errorf("route %d: duplicate destination %q", i, r.Destination)
		}
		seen[r.Destination] = true
	}
	return nil
}
