package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/chargenet/core/metrics"
)

// PromSink exposes network and authorization events as Prometheus metrics.
type PromSink struct {
	connections   *prometheus.CounterVec
	sends         *prometheus.CounterVec
	sendLatency   *prometheus.HistogramVec
	authorization *prometheus.CounterVec
	authLatency   *prometheus.HistogramVec
	reservations  *prometheus.CounterVec
	frames        *prometheus.CounterVec
	frameBytes    *prometheus.CounterVec
	live          prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the metrics on reg. Collectors already
// registered under the same name are reused, so several sinks may share a
// registerer. A nil registerer defaults to the global one.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.connections, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "chargenet_connection_events_total",
		Help: "Connection registry changes and rejected handshakes",
	}, "action"); err != nil {
		return nil, err
	}
	if s.sends, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "chargenet_frames_sent_total",
		Help: "Outbound frames by send result",
	}, "result"); err != nil {
		return nil, err
	}
	if s.sendLatency, err = registerHistogramVec(reg, prometheus.HistogramOpts{
		Name:    "chargenet_send_latency_seconds",
		Help:    "Time spent handing a frame to the transport",
		Buckets: prometheus.DefBuckets,
	}, "result"); err != nil {
		return nil, err
	}
	if s.authorization, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "chargenet_authorization_decisions_total",
		Help: "Authorization router decisions by operation, backend and result",
	}, "operation", "backend", "result"); err != nil {
		return nil, err
	}
	if s.authLatency, err = registerHistogramVec(reg, prometheus.HistogramOpts{
		Name:    "chargenet_authorization_latency_seconds",
		Help:    "Time spent by authorization backends",
		Buckets: prometheus.DefBuckets,
	}, "operation", "backend"); err != nil {
		return nil, err
	}
	if s.reservations, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "chargenet_reservations_total",
		Help: "Reservation requests by resulting status",
	}, "status"); err != nil {
		return nil, err
	}
	if s.frames, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "chargenet_frames_total",
		Help: "Frames seen by the dispatcher",
	}, "direction", "kind"); err != nil {
		return nil, err
	}
	if s.frameBytes, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "chargenet_frame_bytes_total",
		Help: "Payload bytes seen by the dispatcher",
	}, "direction"); err != nil {
		return nil, err
	}
	live := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chargenet_live_connections",
		Help: "Number of registered node connections",
	})
	if err := reg.Register(live); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		live = are.ExistingCollector.(prometheus.Gauge)
	}
	s.live = live
	return s, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec), nil
		}
		return nil, err
	}
	return c, nil
}

func registerHistogramVec(reg prometheus.Registerer, opts prometheus.HistogramOpts, labels ...string) (*prometheus.HistogramVec, error) {
	h := prometheus.NewHistogramVec(opts, labels)
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.HistogramVec), nil
		}
		return nil, err
	}
	return h, nil
}

// RecordConnection counts registry changes. Node identities are not used as
// labels to keep cardinality bounded.
func (s *PromSink) RecordConnection(ev coremetrics.ConnectionEvent) error {
	s.connections.WithLabelValues(string(ev.Action)).Inc()
	return nil
}

// RecordSend counts outbound frames and observes their latency.
func (s *PromSink) RecordSend(ev coremetrics.SendEvent) error {
	s.sends.WithLabelValues(ev.Result).Inc()
	s.sendLatency.WithLabelValues(ev.Result).Observe(ev.Latency.Seconds())
	return nil
}

func (s *PromSink) RecordAuthorization(ev coremetrics.AuthorizationEvent) error {
	s.authorization.WithLabelValues(ev.Operation, ev.BackendID, ev.Result).Inc()
	s.authLatency.WithLabelValues(ev.Operation, ev.BackendID).Observe(ev.Latency.Seconds())
	return nil
}

func (s *PromSink) RecordReservation(ev coremetrics.ReservationEvent) error {
	s.reservations.WithLabelValues(ev.Status.String()).Inc()
	return nil
}

// RecordLiveConnections sets the live connections gauge.
func (s *PromSink) RecordLiveConnections(n int) error {
	s.live.Set(float64(n))
	return nil
}

// RecordFrameTraffic counts frames and payload bytes per direction.
func (s *PromSink) RecordFrameTraffic(ev coremetrics.FrameTrafficEvent) error {
	s.frames.WithLabelValues(ev.Direction, ev.Kind).Inc()
	s.frameBytes.WithLabelValues(ev.Direction).Add(float64(ev.Bytes))
	return nil
}
