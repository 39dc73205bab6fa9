package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/monitoring"
	"github.com/kilianp07/chargenet/internal/eventbus"
)

// SendStatus classifies the outcome of a send.
type SendStatus int

const (
	SendUnknown SendStatus = iota
	SendSuccess
	SendTimeout
	SendTransmissionFailed
	SendUnknownClient
	SendBroadcast
)

func (s SendStatus) String() string {
	switch s {
	case SendSuccess:
		return "success"
	case SendTimeout:
		return "timeout"
	case SendTransmissionFailed:
		return "transmission_failed"
	case SendUnknownClient:
		return "unknown_client"
	case SendBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// SendResult is the outcome of sending one frame to one connection.
type SendResult struct {
	Status       SendStatus
	NodeID       model.NodeID
	ConnectionID string
	// Cause is set for SendTimeout and SendTransmissionFailed.
	Cause error
}

// Delivered reports whether the frame reached the transport.
func (r SendResult) Delivered() bool {
	return r.Status == SendSuccess || r.Status == SendBroadcast
}

// Direction tells whether a frame was received or sent.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// FrameEvent is published to observers for every frame handled.
type FrameEvent struct {
	Direction    Direction
	NodeID       model.NodeID
	ConnectionID string
	Frame        Frame
	// Result is set for outbound frames.
	Result *SendResult
	Time   time.Time
}

// FrameHandler receives inbound frames. It is the hook used by protocol
// adapters.
type FrameHandler interface {
	HandleFrame(ctx context.Context, c Connection, f Frame)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(ctx context.Context, c Connection, f Frame)

func (fn FrameHandlerFunc) HandleFrame(ctx context.Context, c Connection, f Frame) { fn(ctx, c, f) }

// Dispatcher sends frames to connections and surfaces all traffic to
// observers.
type Dispatcher struct {
	routes  *RoutingTable
	timeout time.Duration
	bus     *eventbus.TypedBus[FrameEvent]
	log     logger.Logger
	metrics metrics.Sink

	mu      sync.RWMutex
	handler FrameHandler
}

// NewDispatcher creates a dispatcher. A non-positive timeout defaults to ten
// seconds.
func NewDispatcher(routes *RoutingTable, timeout time.Duration, log logger.Logger, sink metrics.Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		routes:  routes,
		timeout: timeout,
		bus:     eventbus.NewTyped[FrameEvent](),
		log:     logger.OrNop(log),
		metrics: metrics.OrNop(sink),
	}
}

// SetHandler installs the inbound frame handler.
func (d *Dispatcher) SetHandler(h FrameHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Send transmits f on c and classifies the outcome.
func (d *Dispatcher) Send(ctx context.Context, c Connection, f Frame) SendResult {
	if c == nil {
		return SendResult{Status: SendUnknownClient}
	}
	res := d.send(ctx, c, f)
	d.publish(FrameEvent{Direction: Outbound, NodeID: c.NodeID(), ConnectionID: c.ID(), Frame: f, Result: &res, Time: time.Now()})
	return res
}

func (d *Dispatcher) send(ctx context.Context, c Connection, f Frame) SendResult {
	res := SendResult{NodeID: c.NodeID(), ConnectionID: c.ID()}
	if !c.Alive() {
		res.Status = SendTransmissionFailed
		res.Cause = ErrConnectionClosed
		d.recordSend(res, 0)
		return res
	}
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()
	err := c.Send(sctx, f)
	res.Status, res.Cause = classify(err)
	d.recordSend(res, time.Since(start))
	if err != nil {
		d.log.Warnf("send to %s (%s) failed: %v", c.NodeID(), c.ID(), err)
	}
	return res
}

func classify(err error) (SendStatus, error) {
	switch {
	case err == nil:
		return SendSuccess, nil
	case errors.Is(err, context.DeadlineExceeded):
		return SendTimeout, err
	default:
		return SendTransmissionFailed, err
	}
}

// SendTo resolves dest and sends f to every resulting connection. A failure on
// one connection does not stop delivery to the others. A non-Zero destination
// without any live connection yields a single SendUnknownClient result and
// ErrUnknownDestination.
func (d *Dispatcher) SendTo(ctx context.Context, dest model.NodeID, f Frame) ([]SendResult, error) {
	if dest.IsZero() {
		return nil, nil
	}
	conns := d.routes.Resolve(dest)
	if len(conns) == 0 {
		res := SendResult{Status: SendUnknownClient, NodeID: dest}
		d.recordSend(res, 0)
		return []SendResult{res}, fmt.Errorf("%w: %s", ErrUnknownDestination, dest)
	}
	results := make([]SendResult, len(conns))
	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c Connection) {
			defer wg.Done()
			results[i] = d.Send(ctx, c, f)
		}(i, c)
	}
	wg.Wait()
	if dest.IsBroadcast() {
		for i := range results {
			if results[i].Status == SendSuccess {
				results[i].Status = SendBroadcast
			}
		}
	}
	return results, nil
}

// Receive hands an inbound frame to observers and to the frame handler. A
// panicking handler is recovered and logged.
func (d *Dispatcher) Receive(ctx context.Context, c Connection, f Frame) {
	d.publish(FrameEvent{Direction: Inbound, NodeID: c.NodeID(), ConnectionID: c.ID(), Frame: f, Time: time.Now()})
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := monitoring.CapturePanic(r, map[string]string{"module": "dispatcher", "node_id": string(c.NodeID())})
			d.log.Errorf("frame handler for %s: %v", c.NodeID(), err)
		}
	}()
	h.HandleFrame(ctx, c, f)
}

// Subscribe returns a channel receiving every frame event. Slow subscribers
// miss events instead of blocking the data path.
func (d *Dispatcher) Subscribe() <-chan FrameEvent { return d.bus.Subscribe() }

// Unsubscribe stops delivery to a channel returned by Subscribe.
func (d *Dispatcher) Unsubscribe(ch <-chan FrameEvent) { d.bus.Unsubscribe(ch) }

// Observe runs fn for every frame event on its own goroutine until the
// returned stop function is called or the dispatcher is closed. A panic in fn
// is recovered and logged; fn keeps receiving later events.
func (d *Dispatcher) Observe(name string, fn func(FrameEvent)) (stop func()) {
	return d.ObserveBuffered(name, 0, fn)
}

// ObserveBuffered is Observe with room for size pending events. Events that
// arrive while the buffer is full are counted by Dropped. A non-positive size
// selects the default buffer.
func (d *Dispatcher) ObserveBuffered(name string, size int, fn func(FrameEvent)) (stop func()) {
	ch := d.bus.SubscribeBuffered(size)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			d.observeOne(name, fn, ev)
		}
	}()
	return func() {
		d.bus.Unsubscribe(ch)
		<-done
	}
}

func (d *Dispatcher) observeOne(name string, fn func(FrameEvent), ev FrameEvent) {
	defer func() {
		if r := recover(); r != nil {
			err := monitoring.CapturePanic(r, map[string]string{"module": "dispatcher", "observer": name})
			d.log.Errorf("observer %s: %v", name, err)
		}
	}()
	fn(ev)
}

// Dropped returns the number of frame events observers missed.
func (d *Dispatcher) Dropped() uint64 { return d.bus.Dropped() }

// Close stops all observers.
func (d *Dispatcher) Close() { d.bus.Close() }

func (d *Dispatcher) publish(ev FrameEvent) { d.bus.Publish(ev) }

func (d *Dispatcher) recordSend(res SendResult, latency time.Duration) {
	ev := metrics.SendEvent{NodeID: res.NodeID, Result: res.Status.String(), Latency: latency, Time: time.Now()}
	if err := d.metrics.RecordSend(ev); err != nil {
		d.log.Errorf("send metrics error: %v", err)
	}
}
