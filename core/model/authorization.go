package model

import (
	"fmt"
	"time"
)

// AuthToken is an opaque credential presented at authorization time.
type AuthToken string

// SessionID identifies a charging session.
type SessionID string

// OperatorID identifies the charging station operator asking for a decision.
type OperatorID string

// AuthorizationResult is the outcome of an authorize start or stop request.
type AuthorizationResult int

const (
	NotAuthorized AuthorizationResult = iota
	Authorized
	Blocked
)

// String returns a human-readable representation of the result.
func (r AuthorizationResult) String() string {
	switch r {
	case Authorized:
		return "Authorized"
	case NotAuthorized:
		return "NotAuthorized"
	case Blocked:
		return "Blocked"
	default:
		return "unknown"
	}
}

// ParseAuthorizationResult is the inverse of String. An empty string is
// NotAuthorized.
func ParseAuthorizationResult(s string) (AuthorizationResult, error) {
	switch s {
	case "Authorized":
		return Authorized, nil
	case "Blocked":
		return Blocked, nil
	case "NotAuthorized", "":
		return NotAuthorized, nil
	default:
		return NotAuthorized, fmt.Errorf("unknown authorization result %q", s)
	}
}

// IsDecisive reports whether the result ends a backend search.
func (r AuthorizationResult) IsDecisive() bool {
	return r == Authorized || r == Blocked
}

// AuthStartRequest asks a backend to authorize the start of a session.
type AuthStartRequest struct {
	OperatorID OperatorID `json:"operator_id"`
	Token      AuthToken  `json:"token"`
	EVSEID     string     `json:"evse_id,omitempty"`
	StationID  string     `json:"station_id,omitempty"`
	ProductID  string     `json:"product_id,omitempty"`
	// SessionID is optional; backends generate one when empty.
	SessionID SessionID `json:"session_id,omitempty"`
}

// AuthStopRequest asks a backend to authorize the end of a session.
type AuthStopRequest struct {
	OperatorID OperatorID `json:"operator_id"`
	SessionID  SessionID  `json:"session_id"`
	Token      AuthToken  `json:"token"`
	EVSEID     string     `json:"evse_id,omitempty"`
}

// AuthStartResult is returned by AuthorizeStart.
type AuthStartResult struct {
	Result      AuthorizationResult `json:"result"`
	SessionID   SessionID           `json:"session_id,omitempty"`
	BackendID   string              `json:"backend_id,omitempty"`
	Description string              `json:"description,omitempty"`
	Runtime     time.Duration       `json:"runtime"`
}

// AuthStopResult is returned by AuthorizeStop.
type AuthStopResult struct {
	Result      AuthorizationResult `json:"result"`
	SessionID   SessionID           `json:"session_id,omitempty"`
	BackendID   string              `json:"backend_id,omitempty"`
	Description string              `json:"description,omitempty"`
	Runtime     time.Duration       `json:"runtime"`
}

// Session is a charging session created by a backend on an authorized start.
type Session struct {
	ID        SessionID `json:"id"`
	Token     AuthToken `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	Finished  bool      `json:"finished"`
}
