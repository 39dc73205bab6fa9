package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	opStart = "authorize_start"
	opStop  = "authorize_stop"
	opCDR   = "cdr"
)

type request struct {
	RequestID string    `json:"request_id"`
	Operation string    `json:"operation"`
	SentAt    time.Time `json:"sent_at"`
	Payload   any       `json:"payload"`
}

type response struct {
	RequestID   string `json:"request_id"`
	Result      string `json:"result,omitempty"`
	Status      string `json:"status,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

func decodeResponse(b []byte) (response, error) {
	var r response
	if err := json.Unmarshal(b, &r); err != nil {
		return r, err
	}
	if r.RequestID == "" {
		return r, fmt.Errorf("response without request_id")
	}
	return r, nil
}
