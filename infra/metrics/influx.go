package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/chargenet/core/logger"
	coremetrics "github.com/kilianp07/chargenet/core/metrics"
	infralogger "github.com/kilianp07/chargenet/infra/logger"
)

const writeTimeout = 5 * time.Second

// InfluxConfig selects the InfluxDB bucket the sink writes to.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes events to InfluxDB as points, one per event.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint. A URL ending in
// /api/v2/write is accepted and trimmed to the server base.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: writeTimeout}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback checks the server health and returns a NopSink
// when InfluxDB is unreachable, so a missing database never blocks startup.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Warnf("influx write failed: %v", err)
		return err
	}
	return nil
}

func (s *InfluxSink) RecordConnection(ev coremetrics.ConnectionEvent) error {
	p := write.NewPointWithMeasurement("connection_event").
		AddTag("node_id", ev.NodeID.String()).
		AddTag("action", string(ev.Action)).
		AddField("reason", ev.Reason).
		SetTime(eventTime(ev.Time))
	return s.write(p)
}

func (s *InfluxSink) RecordSend(ev coremetrics.SendEvent) error {
	p := write.NewPointWithMeasurement("send_event").
		AddTag("node_id", ev.NodeID.String()).
		AddTag("result", ev.Result).
		AddField("latency_ms", float64(ev.Latency.Microseconds())/1000).
		SetTime(eventTime(ev.Time))
	return s.write(p)
}

func (s *InfluxSink) RecordAuthorization(ev coremetrics.AuthorizationEvent) error {
	p := write.NewPointWithMeasurement("authorization_event").
		AddTag("operation", ev.Operation).
		AddTag("backend_id", ev.BackendID).
		AddTag("result", ev.Result).
		AddField("latency_ms", float64(ev.Latency.Microseconds())/1000).
		SetTime(eventTime(ev.Time))
	return s.write(p)
}

func (s *InfluxSink) RecordReservation(ev coremetrics.ReservationEvent) error {
	p := write.NewPointWithMeasurement("reservation_event").
		AddTag("provider_id", ev.ProviderID).
		AddTag("status", ev.Status.String()).
		AddField("reservation_id", ev.ReservationID).
		SetTime(eventTime(ev.Time))
	return s.write(p)
}

// RecordLiveConnections writes the current number of registered connections.
func (s *InfluxSink) RecordLiveConnections(n int) error {
	p := write.NewPointWithMeasurement("live_connections").
		AddField("count", n).
		SetTime(time.Now())
	return s.write(p)
}

func eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
