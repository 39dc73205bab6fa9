// Package frames serves the audit trail of frames exchanged with nodes.
package frames

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/chargenet/core/audit"
	"github.com/kilianp07/chargenet/core/model"
)

// Authorized reports whether r carries "Authorization: Bearer <token>". An
// empty token disables the check.
func Authorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// NewHandler returns an HTTP handler exposing recorded frames via
// GET /api/frames. Requests must include "Authorization: Bearer <token>" when
// token is non-empty. Supported filters are start and end (RFC3339), node_id
// and direction ("in" or "out").
func NewHandler(store audit.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !Authorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		params := r.URL.Query()
		q := audit.Query{
			NodeID:    model.NodeID(params.Get("node_id")),
			Direction: params.Get("direction"),
		}
		if q.Direction != "" && q.Direction != "in" && q.Direction != "out" {
			http.Error(w, "direction must be in or out", http.StatusBadRequest)
			return
		}
		var err error
		if q.Start, err = parseTime(params.Get("start")); err != nil {
			http.Error(w, "invalid start: "+err.Error(), http.StatusBadRequest)
			return
		}
		if q.End, err = parseTime(params.Get("end")); err != nil {
			http.Error(w, "invalid end: "+err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []audit.FrameRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
