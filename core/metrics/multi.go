package metrics

import "errors"

// MultiSink fans events out to several sinks. Every sink is called even when
// an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordConnection(ev ConnectionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordConnection(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordSend(ev SendEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordSend(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordAuthorization(ev AuthorizationEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordAuthorization(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordReservation(ev ReservationEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordReservation(ev))
	}
	return errors.Join(errs...)
}

// RecordLiveConnections forwards to the sinks supporting it.
func (m *MultiSink) RecordLiveConnections(n int) error {
	var errs []error
	for _, s := range m.Sinks {
		if lr, ok := s.(LiveConnectionsRecorder); ok {
			errs = append(errs, lr.RecordLiveConnections(n))
		}
	}
	return errors.Join(errs...)
}

// RecordFrameTraffic forwards to the sinks supporting it.
func (m *MultiSink) RecordFrameTraffic(ev FrameTrafficEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if fr, ok := s.(FrameTrafficRecorder); ok {
			errs = append(errs, fr.RecordFrameTraffic(ev))
		}
	}
	return errors.Join(errs...)
}
