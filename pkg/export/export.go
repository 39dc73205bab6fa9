// Package export writes recorded frames in formats suited for offline
// analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kilianp07/chargenet/core/audit"
)

var csvHeader = []string{"timestamp", "direction", "node_id", "connection_id", "kind", "payload", "result", "cause"}

// WriteJSON writes the records to w as a JSON array.
func WriteJSON(w io.Writer, recs []audit.FrameRecord) error {
	if recs == nil {
		recs = []audit.FrameRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

// WriteCSV writes one row per record. Binary payloads are written base64
// encoded in the payload column.
func WriteCSV(w io.Writer, recs []audit.FrameRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		payload := string(r.Payload)
		if r.Kind == "binary" {
			payload = r.Binary
		}
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.Direction,
			r.NodeID.String(),
			r.ConnectionID,
			r.Kind,
			payload,
			r.Result,
			r.Cause,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches to the writer matching format ("json" or "csv").
func Write(w io.Writer, format string, recs []audit.FrameRecord) error {
	switch format {
	case "json":
		return WriteJSON(w, recs)
	case "csv":
		return WriteCSV(w, recs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
