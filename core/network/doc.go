// Package network keeps track of live node connections and routes frames to
// them.
//
// A Registry holds at most one Connection per NodeID; registering a newer
// connection evicts the older one. A RoutingTable resolves a destination,
// optionally through one next-hop substitution, to the connections that
// should receive a frame. A Dispatcher sends frames, classifies the outcome
// and publishes every inbound and outbound frame to observers.
package network
