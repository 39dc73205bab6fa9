// Package audit persists the frames flowing through the dispatcher so they
// can be queried by node and time range.
package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/network"
)

// FrameRecord captures one inbound or outbound frame.
type FrameRecord struct {
	Timestamp    time.Time       `json:"timestamp"`
	Direction    string          `json:"direction"`
	NodeID       model.NodeID    `json:"node_id"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Binary       string          `json:"binary,omitempty"`
	Result       string          `json:"result,omitempty"`
	Cause        string          `json:"cause,omitempty"`
}

// RecordFromEvent converts a dispatcher event. Binary payloads are stored
// base64 encoded.
func RecordFromEvent(ev network.FrameEvent) FrameRecord {
	rec := FrameRecord{
		Timestamp:    ev.Time,
		Direction:    ev.Direction.String(),
		NodeID:       ev.NodeID,
		ConnectionID: ev.ConnectionID,
		Kind:         ev.Frame.Kind.String(),
	}
	if ev.Frame.Kind == network.FrameBinary {
		rec.Binary = base64.StdEncoding.EncodeToString(ev.Frame.Data)
	} else if len(ev.Frame.Data) > 0 {
		rec.Payload = json.RawMessage(ev.Frame.Data)
	}
	if ev.Result != nil {
		rec.Result = ev.Result.Status.String()
		if ev.Result.Cause != nil {
			rec.Cause = ev.Result.Cause.Error()
		}
	}
	return rec
}

// Query defines filters for retrieving records. Zero values match everything.
type Query struct {
	Start     time.Time
	End       time.Time
	NodeID    model.NodeID
	Direction string
}

func (q Query) match(r FrameRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.NodeID != "" && r.NodeID != q.NodeID {
		return false
	}
	if q.Direction != "" && r.Direction != q.Direction {
		return false
	}
	return true
}

// Store persists FrameRecords and supports querying.
type Store interface {
	Append(ctx context.Context, rec FrameRecord) error
	Query(ctx context.Context, q Query) ([]FrameRecord, error)
	Close() error
}
