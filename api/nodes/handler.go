// Package nodes exposes read-only views of the live network state.
package nodes

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/kilianp07/chargenet/core/authz"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/network"
	"github.com/kilianp07/chargenet/core/reservation"
)

// NodeStatus describes one registered connection.
type NodeStatus struct {
	NodeID       model.NodeID `json:"node_id"`
	ConnectionID string       `json:"connection_id"`
	RemoteAddr   string       `json:"remote_addr"`
	Mode         string       `json:"mode,omitempty"`
	ConnectedAt  time.Time    `json:"connected_at"`
}

// Route maps a destination to the hub relaying its frames.
type Route struct {
	Destination model.NodeID `json:"destination"`
	NextHop     model.NodeID `json:"next_hop"`
}

// ReservationStatus is a reservation together with its expiry.
type ReservationStatus struct {
	model.Reservation
	EndTime time.Time `json:"end_time"`
}

// NewStatusHandler serves GET /api/nodes with the live connections sorted by
// node id.
func NewStatusHandler(reg *network.Registry) http.Handler {
	return getOnly(func(r *http.Request) (any, error) {
		conns := reg.AllLive()
		out := make([]NodeStatus, 0, len(conns))
		for _, c := range conns {
			out = append(out, NodeStatus{
				NodeID:       c.NodeID(),
				ConnectionID: c.ID(),
				RemoteAddr:   c.RemoteAddr(),
				Mode:         c.Mode(),
				ConnectedAt:  c.CreatedAt(),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
		return out, nil
	})
}

// NewRoutesHandler serves GET /api/routes.
func NewRoutesHandler(routes *network.RoutingTable) http.Handler {
	return getOnly(func(r *http.Request) (any, error) {
		table := routes.Routes()
		out := make([]Route, 0, len(table))
		for dest, hop := range table {
			out = append(out, Route{Destination: dest, NextHop: hop})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
		return out, nil
	})
}

// NewReservationsHandler serves GET /api/reservations.
func NewReservationsHandler(store *reservation.Store) http.Handler {
	return getOnly(func(r *http.Request) (any, error) {
		list := store.List()
		out := make([]ReservationStatus, 0, len(list))
		for _, res := range list {
			out = append(out, ReservationStatus{Reservation: res, EndTime: res.EndTime()})
		}
		return out, nil
	})
}

// NewBackendsHandler serves GET /api/authz/backends in priority order.
func NewBackendsHandler(router *authz.Router) http.Handler {
	return getOnly(func(r *http.Request) (any, error) {
		return router.Backends(), nil
	})
}

func getOnly(fn func(r *http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		v, err := fn(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
