package metrics

import (
	"time"

	"github.com/kilianp07/chargenet/core/model"
)

// ConnectionAction describes what happened to a node connection.
type ConnectionAction string

const (
	ConnRegistered   ConnectionAction = "registered"
	ConnEvicted      ConnectionAction = "evicted"
	ConnUnregistered ConnectionAction = "unregistered"
	ConnRejected     ConnectionAction = "rejected"
)

// ConnectionEvent records a change in the connection registry or a rejected handshake.
type ConnectionEvent struct {
	NodeID model.NodeID
	Action ConnectionAction
	Reason string
	Time   time.Time
}

// SendEvent records the outcome of one outbound frame.
type SendEvent struct {
	NodeID  model.NodeID
	Result  string
	Latency time.Duration
	Time    time.Time
}

// AuthorizationEvent records one router decision.
type AuthorizationEvent struct {
	Operation string
	BackendID string
	Result    string
	Latency   time.Duration
	Time      time.Time
}

// ReservationEvent records a reservation request.
type ReservationEvent struct {
	ReservationID string
	ProviderID    string
	Status        model.ReservationStatus
	Time          time.Time
}

// Sink records connection, send, authorization and reservation events.
type Sink interface {
	RecordConnection(ev ConnectionEvent) error
	RecordSend(ev SendEvent) error
	RecordAuthorization(ev AuthorizationEvent) error
	RecordReservation(ev ReservationEvent) error
}

// LiveConnectionsRecorder is implemented by sinks able to track the number of
// registered connections.
type LiveConnectionsRecorder interface {
	RecordLiveConnections(n int) error
}

// FrameTrafficEvent records one frame seen by the dispatcher.
type FrameTrafficEvent struct {
	NodeID    model.NodeID
	Direction string
	Kind      string
	Bytes     int
	Time      time.Time
}

// FrameTrafficRecorder is implemented by sinks that track frame volumes.
type FrameTrafficRecorder interface {
	RecordFrameTraffic(ev FrameTrafficEvent) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordConnection(ConnectionEvent) error       { return nil }
func (NopSink) RecordSend(SendEvent) error                   { return nil }
func (NopSink) RecordAuthorization(AuthorizationEvent) error { return nil }
func (NopSink) RecordReservation(ReservationEvent) error     { return nil }
func (NopSink) RecordLiveConnections(int) error              { return nil }
func (NopSink) RecordFrameTraffic(FrameTrafficEvent) error   { return nil }

// OrNop returns s, or a NopSink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	return s
}
