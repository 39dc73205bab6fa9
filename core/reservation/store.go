// Package reservation keeps time-boxed EVSE reservations in memory.
package reservation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/chargenet/core/model"
)

// DefaultMaxDuration caps reservations when no maximum is configured.
const DefaultMaxDuration = 15 * time.Minute

var (
	// ErrAlreadyInUse is returned when a reservation id is taken.
	ErrAlreadyInUse = errors.New("reservation id already in use")
	// ErrMissingID is returned for a request without reservation id.
	ErrMissingID = errors.New("reservation id is required")
)

// Config defines reservation limits.
type Config struct {
	MaxDurationSeconds int `json:"max_duration_seconds"`
}

// MaxDuration returns the configured cap or DefaultMaxDuration.
func (c Config) MaxDuration() time.Duration {
	if c.MaxDurationSeconds <= 0 {
		return DefaultMaxDuration
	}
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

// Store is an in-memory reservation table. Reservations are immutable once
// added.
type Store struct {
	mu          sync.RWMutex
	data        map[string]model.Reservation
	maxDuration time.Duration
	now         func() time.Time
}

// NewStore creates a store clamping durations to maxDuration. A non-positive
// value selects DefaultMaxDuration.
func NewStore(maxDuration time.Duration) *Store {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Store{data: make(map[string]model.Reservation), maxDuration: maxDuration, now: time.Now}
}

// MaxDuration returns the configured cap.
func (s *Store) MaxDuration() time.Duration { return s.maxDuration }

// Reserve stores a new reservation built from req. A missing start time
// defaults to now; a missing or too long duration is clamped to the maximum.
// An existing id yields ErrAlreadyInUse and leaves the stored entry untouched.
func (s *Store) Reserve(req model.ReservationRequest) (model.Reservation, error) {
	if req.ReservationID == "" {
		return model.Reservation{}, ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data[req.ReservationID]; ok {
		return existing, ErrAlreadyInUse
	}
	start := s.now()
	if req.StartTime != nil {
		start = *req.StartTime
	}
	dur := s.maxDuration
	if req.Duration != nil && *req.Duration > 0 && *req.Duration < s.maxDuration {
		dur = *req.Duration
	}
	r := model.Reservation{
		ID:         req.ReservationID,
		ProviderID: req.ProviderID,
		PoolID:     req.PoolID,
		StationID:  req.StationID,
		EVSEID:     req.EVSEID,
		ProductID:  req.ProductID,
		StartTime:  start,
		Duration:   dur,
	}
	s.data[r.ID] = r
	return r, nil
}

// Get returns the reservation with the given id.
func (s *Store) Get(id string) (model.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[id]
	return r, ok
}

// Contains reports whether id is taken.
func (s *Store) Contains(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// List returns every reservation ordered by start time then id.
func (s *Store) List() []model.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Reservation, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}
