package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/chargenet/core/authz"
	"github.com/kilianp07/chargenet/core/factory"
	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/monitoring"
	infralogger "github.com/kilianp07/chargenet/infra/logger"
)

// Backend forwards authorization requests to a remote authority. Requests are
// published on <prefix>/request/<operation> and answered on
// <prefix>/response, correlated by request id.
type Backend struct {
	cfg Config
	cli pahoClient
	log logger.Logger

	mu      sync.Mutex
	pending map[string]chan response
	closed  bool
	done    chan struct{}
}

// NewBackend connects to the broker and subscribes to the response topic.
func NewBackend(cfg Config) (*Backend, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := infralogger.New("mqtt_backend")
	b := &Backend{cfg: cfg, log: log, pending: make(map[string]chan response), done: make(chan struct{})}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		if token := c.Subscribe(b.responseTopic(), cfg.qos("response"), b.onResponse); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	b.cli = c
	return b, nil
}

// ID returns the backend identifier.
func (b *Backend) ID() string { return b.cfg.ID }

func (b *Backend) responseTopic() string { return b.cfg.TopicPrefix + "/response" }

func (b *Backend) requestTopic(op string) string { return b.cfg.TopicPrefix + "/request/" + op }

func (b *Backend) onResponse(_ paho.Client, msg paho.Message) {
	r, err := decodeResponse(msg.Payload())
	if err != nil {
		b.log.Errorf("failed to decode response: %v", err)
		return
	}
	b.mu.Lock()
	ch, ok := b.pending[r.RequestID]
	if ok {
		delete(b.pending, r.RequestID)
	}
	b.mu.Unlock()
	if !ok {
		b.log.Debugf("response %s has no pending request", r.RequestID)
		return
	}
	ch <- r
}

// call publishes a request and waits for the matching response.
func (b *Backend) call(ctx context.Context, op string, payload any) (response, error) {
	id := uuid.NewString()
	body, err := json.Marshal(request{RequestID: id, Operation: op, SentAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return response{}, err
	}
	ch := make(chan response, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return response{}, ErrClosed
	}
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.publish(ctx, b.requestTopic(op), body); err != nil {
		monitoring.CaptureException(err, map[string]string{"module": "mqtt", "backend": b.cfg.ID, "operation": op})
		return response{}, err
	}

	timer := time.NewTimer(b.cfg.timeout())
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.Error != "" {
			return r, fmt.Errorf("%w: %s", ErrRemote, r.Error)
		}
		return r, nil
	case <-timer.C:
		return response{}, fmt.Errorf("%w: %s %s", ErrResponseTimeout, op, id)
	case <-b.done:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (b *Backend) publish(ctx context.Context, topic string, payload []byte) error {
	backoff := time.Duration(b.cfg.BackoffMS) * time.Millisecond
	var err error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		token := b.cli.Publish(topic, b.cfg.qos("request"), false, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			b.log.Debugf("published %s", topic)
			return nil
		}
		b.log.Errorf("publish attempt %d failed: %v", attempt+1, err)
		if attempt == b.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(1<<attempt)):
		}
	}
	return err
}

// AuthorizeStart asks the remote authority to start a session.
func (b *Backend) AuthorizeStart(ctx context.Context, req model.AuthStartRequest) (model.AuthStartResult, error) {
	r, err := b.call(ctx, opStart, req)
	if err != nil {
		return model.AuthStartResult{}, err
	}
	res, err := model.ParseAuthorizationResult(r.Result)
	if err != nil {
		return model.AuthStartResult{}, err
	}
	return model.AuthStartResult{Result: res, SessionID: model.SessionID(r.SessionID), BackendID: b.cfg.ID, Description: r.Description}, nil
}

// AuthorizeStop asks the remote authority to stop a session.
func (b *Backend) AuthorizeStop(ctx context.Context, req model.AuthStopRequest) (model.AuthStopResult, error) {
	r, err := b.call(ctx, opStop, req)
	if err != nil {
		return model.AuthStopResult{}, err
	}
	res, err := model.ParseAuthorizationResult(r.Result)
	if err != nil {
		return model.AuthStopResult{}, err
	}
	sid := model.SessionID(r.SessionID)
	if sid == "" {
		sid = req.SessionID
	}
	return model.AuthStopResult{Result: res, SessionID: sid, BackendID: b.cfg.ID, Description: r.Description}, nil
}

// SendChargeDetailRecord forwards a charge detail record.
func (b *Backend) SendChargeDetailRecord(ctx context.Context, cdr model.ChargeDetailRecord) (model.CDRResult, error) {
	r, err := b.call(ctx, opCDR, cdr)
	if err != nil {
		return model.CDRResult{}, err
	}
	st, err := model.ParseCDRStatus(r.Status)
	if err != nil {
		return model.CDRResult{}, err
	}
	return model.CDRResult{Status: st, SessionID: cdr.SessionID, BackendID: b.cfg.ID, Description: r.Description}, nil
}

// Close fails pending requests and disconnects from the broker.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	if b.cli != nil && b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
	return nil
}

func init() {
	_ = authz.RegisterBackend("mqtt", func(conf map[string]any) (authz.Backend, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewBackend(c)
	})
}
