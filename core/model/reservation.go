package model

import "time"

// Reservation is a time-boxed claim on a charging location.
type Reservation struct {
	ID         string        `json:"id"`
	ProviderID string        `json:"provider_id"`
	PoolID     string        `json:"pool_id,omitempty"`
	StationID  string        `json:"station_id,omitempty"`
	EVSEID     string        `json:"evse_id,omitempty"`
	ProductID  string        `json:"product_id,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
}

// EndTime returns the instant the reservation expires.
func (r Reservation) EndTime() time.Time { return r.StartTime.Add(r.Duration) }

// ReservationRequest asks for a new reservation. StartTime and Duration are
// optional.
type ReservationRequest struct {
	ReservationID string
	StartTime     *time.Time
	Duration      *time.Duration
	ProviderID    string
	PoolID        string
	StationID     string
	EVSEID        string
	ProductID     string
}

// ReservationStatus is the outcome of a reservation request.
type ReservationStatus int

const (
	ReservationSuccess ReservationStatus = iota
	ReservationAlreadyInUse
	ReservationError
)

// String returns a human-readable representation of the status.
func (s ReservationStatus) String() string {
	switch s {
	case ReservationSuccess:
		return "Success"
	case ReservationAlreadyInUse:
		return "AlreadyInUse"
	case ReservationError:
		return "Error"
	default:
		return "unknown"
	}
}

// ReservationResult is returned by SendReserveEVSE.
type ReservationResult struct {
	Status      ReservationStatus
	Reservation *Reservation
	Description string
}
