package model

import (
	"fmt"
	"time"
)

// ChargeDetailRecord summarises a finished charging session.
type ChargeDetailRecord struct {
	SessionID  SessionID  `json:"session_id"`
	Token      AuthToken  `json:"token"`
	OperatorID OperatorID `json:"operator_id,omitempty"`
	EVSEID     string     `json:"evse_id,omitempty"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	EnergyKWh  float64    `json:"energy_kwh"`
}

// CDRStatus describes what happened to a charge detail record.
type CDRStatus int

const (
	CDRNotForwarded CDRStatus = iota
	CDRForwarded
	CDRRejected
	CDRError
)

// String returns a human-readable representation of the status.
func (s CDRStatus) String() string {
	switch s {
	case CDRForwarded:
		return "Forwarded"
	case CDRNotForwarded:
		return "NotForwarded"
	case CDRRejected:
		return "Rejected"
	case CDRError:
		return "Error"
	default:
		return "unknown"
	}
}

// ParseCDRStatus is the inverse of String. An empty string is
// CDRNotForwarded.
func ParseCDRStatus(s string) (CDRStatus, error) {
	switch s {
	case "Forwarded":
		return CDRForwarded, nil
	case "Rejected":
		return CDRRejected, nil
	case "Error":
		return CDRError, nil
	case "NotForwarded", "":
		return CDRNotForwarded, nil
	default:
		return CDRNotForwarded, fmt.Errorf("unknown cdr status %q", s)
	}
}

// CDRResult is returned by SendChargeDetailRecord.
type CDRResult struct {
	Status      CDRStatus     `json:"status"`
	SessionID   SessionID     `json:"session_id,omitempty"`
	BackendID   string        `json:"backend_id,omitempty"`
	Description string        `json:"description,omitempty"`
	Runtime     time.Duration `json:"runtime"`
}
