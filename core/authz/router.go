package authz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/monitoring"
	"github.com/kilianp07/chargenet/core/reservation"
)

const (
	// DescNoPositiveResult is returned when no backend authorized the request.
	DescNoPositiveResult = "no authorization service returned a positive result"
	// DescNotForwarded is returned when no backend forwarded a charge detail record.
	DescNotForwarded = "no authorization service forwarded the record"

	opStart       = "authorize_start"
	opStop        = "authorize_stop"
	opCDR         = "charge_detail_record"
	routerBackend = "router"
)

var (
	// ErrDuplicatePriority is returned when registering a taken priority.
	ErrDuplicatePriority = errors.New("priority already registered")
	// ErrDuplicateBackend is returned when registering a backend id twice.
	ErrDuplicateBackend = errors.New("backend already registered")
	// ErrNilBackend is returned when registering a nil backend.
	ErrNilBackend = errors.New("nil backend")
)

type entry struct {
	priority int
	backend  Backend
}

// Router dispatches authorization calls across backends.
type Router struct {
	mu       sync.RWMutex
	backends []entry
	sticky   map[model.SessionID]Backend

	filterMu  sync.RWMutex
	cdrFilter CDRFilter

	reservations *reservation.Store
	callTimeout  time.Duration
	log          logger.Logger
	metrics      metrics.Sink
}

// NewRouter creates a router without backends. callTimeout bounds every single
// backend call; zero disables the bound.
func NewRouter(res *reservation.Store, callTimeout time.Duration, log logger.Logger, sink metrics.Sink) *Router {
	if res == nil {
		res = reservation.NewStore(0)
	}
	return &Router{
		sticky:       make(map[model.SessionID]Backend),
		reservations: res,
		callTimeout:  callTimeout,
		log:          logger.OrNop(log),
		metrics:      metrics.OrNop(sink),
	}
}

// Register adds a backend at the given priority. Lower values are asked
// first. Priorities and backend ids are unique.
func (r *Router) Register(priority int, b Backend) error {
	if b == nil {
		return ErrNilBackend
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.backends {
		if e.priority == priority {
			return fmt.Errorf("%w: %d (%s)", ErrDuplicatePriority, priority, e.backend.ID())
		}
		if e.backend.ID() == b.ID() {
			return fmt.Errorf("%w: %s", ErrDuplicateBackend, b.ID())
		}
	}
	r.backends = append(r.backends, entry{priority: priority, backend: b})
	sort.Slice(r.backends, func(i, j int) bool { return r.backends[i].priority < r.backends[j].priority })
	r.log.Infof("registered authorization backend %s at priority %d", b.ID(), priority)
	return nil
}

// Unregister removes the backend with the given id together with its session
// bindings.
func (r *Router) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.backends {
		if e.backend.ID() != id {
			continue
		}
		r.backends = append(r.backends[:i], r.backends[i+1:]...)
		for sid, b := range r.sticky {
			if b == e.backend {
				delete(r.sticky, sid)
			}
		}
		return true
	}
	return false
}

// Backends lists the registered backends in priority order.
func (r *Router) Backends() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BackendInfo, len(r.backends))
	for i, e := range r.backends {
		out[i] = BackendInfo{Priority: e.priority, ID: e.backend.ID()}
	}
	return out
}

// SetCDRFilter installs the hook consulted before any backend receives a
// charge detail record.
func (r *Router) SetCDRFilter(f CDRFilter) {
	r.filterMu.Lock()
	r.cdrFilter = f
	r.filterMu.Unlock()
}

// StickyBackend returns the id of the backend bound to a session.
func (r *Router) StickyBackend(id model.SessionID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.sticky[id]
	if !ok {
		return "", false
	}
	return b.ID(), true
}

// Close removes every backend and closes those holding resources such as
// broker connections.
func (r *Router) Close() error {
	r.mu.Lock()
	backends := r.backends
	r.backends = nil
	r.sticky = make(map[model.SessionID]Backend)
	r.mu.Unlock()

	var errs []error
	for _, e := range backends {
		if c, ok := e.backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", e.backend.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Reservations exposes the reservation store.
func (r *Router) Reservations() *reservation.Store { return r.reservations }

func (r *Router) snapshot() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, len(r.backends))
	for i, e := range r.backends {
		out[i] = e.backend
	}
	return out
}

func (r *Router) stickyFor(id model.SessionID) Backend {
	if id == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sticky[id]
}

// bind records the session owner unless b was unregistered meanwhile.
func (r *Router) bind(id model.SessionID, b Backend) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.backends {
		if e.backend == b {
			r.sticky[id] = b
			return true
		}
	}
	return false
}

func (r *Router) unbind(id model.SessionID) {
	r.mu.Lock()
	delete(r.sticky, id)
	r.mu.Unlock()
}

// AuthorizeStart asks backends in priority order. The first Authorized result
// binds its session to the backend; the first Blocked result is final.
func (r *Router) AuthorizeStart(ctx context.Context, req model.AuthStartRequest) model.AuthStartResult {
	start := time.Now()
	for _, b := range r.snapshot() {
		res, ok := r.callStart(ctx, b, req)
		if !ok || !res.Result.IsDecisive() {
			continue
		}
		if res.BackendID == "" {
			res.BackendID = b.ID()
		}
		if res.Result == model.Authorized {
			if res.SessionID == "" {
				res.SessionID = req.SessionID
			}
			if res.SessionID != "" {
				if !r.bind(res.SessionID, b) {
					r.log.Warnf("backend %s was removed before session %s could be bound", b.ID(), res.SessionID)
				}
			} else {
				r.log.Warnf("backend %s authorized token without session id", b.ID())
			}
		}
		res.Runtime = time.Since(start)
		r.record(opStart, res.BackendID, res.Result.String(), res.Runtime)
		return res
	}
	res := model.AuthStartResult{
		Result:      model.NotAuthorized,
		SessionID:   req.SessionID,
		BackendID:   routerBackend,
		Description: DescNoPositiveResult,
		Runtime:     time.Since(start),
	}
	r.record(opStart, res.BackendID, res.Result.String(), res.Runtime)
	return res
}

// AuthorizeStop asks the backend bound to the session first, then every other
// backend in priority order, returning the first Authorized or Blocked result.
func (r *Router) AuthorizeStop(ctx context.Context, req model.AuthStopRequest) model.AuthStopResult {
	start := time.Now()
	bound := r.stickyFor(req.SessionID)
	for _, b := range r.candidates(bound) {
		res, ok := r.callStop(ctx, b, req)
		if !ok || !res.Result.IsDecisive() {
			continue
		}
		if res.BackendID == "" {
			res.BackendID = b.ID()
		}
		if res.SessionID == "" {
			res.SessionID = req.SessionID
		}
		res.Runtime = time.Since(start)
		r.record(opStop, res.BackendID, res.Result.String(), res.Runtime)
		return res
	}
	res := model.AuthStopResult{
		Result:      model.NotAuthorized,
		SessionID:   req.SessionID,
		BackendID:   routerBackend,
		Description: DescNoPositiveResult,
		Runtime:     time.Since(start),
	}
	r.record(opStop, res.BackendID, res.Result.String(), res.Runtime)
	return res
}

// SendChargeDetailRecord lets the CDR filter answer first, then asks the bound
// backend and every other backend until one forwards the record. Forwarding
// removes the session binding.
func (r *Router) SendChargeDetailRecord(ctx context.Context, cdr model.ChargeDetailRecord) model.CDRResult {
	start := time.Now()
	r.filterMu.RLock()
	filter := r.cdrFilter
	r.filterMu.RUnlock()
	if filter != nil {
		if res, handled := filter(ctx, cdr); handled {
			if res.SessionID == "" {
				res.SessionID = cdr.SessionID
			}
			res.Runtime = time.Since(start)
			r.record(opCDR, "filter", res.Status.String(), res.Runtime)
			return res
		}
	}

	bound := r.stickyFor(cdr.SessionID)
	for _, b := range r.candidates(bound) {
		res, ok := r.callCDR(ctx, b, cdr)
		if !ok || res.Status != model.CDRForwarded {
			continue
		}
		r.unbind(cdr.SessionID)
		if res.BackendID == "" {
			res.BackendID = b.ID()
		}
		if res.SessionID == "" {
			res.SessionID = cdr.SessionID
		}
		res.Runtime = time.Since(start)
		r.record(opCDR, res.BackendID, res.Status.String(), res.Runtime)
		return res
	}
	res := model.CDRResult{
		Status:      model.CDRNotForwarded,
		SessionID:   cdr.SessionID,
		BackendID:   routerBackend,
		Description: DescNotForwarded,
		Runtime:     time.Since(start),
	}
	r.record(opCDR, res.BackendID, res.Status.String(), res.Runtime)
	return res
}

// SendReserveEVSE books a reservation. A taken id yields AlreadyInUse without
// touching the existing reservation.
func (r *Router) SendReserveEVSE(_ context.Context, req model.ReservationRequest) model.ReservationResult {
	var res model.ReservationResult
	stored, err := r.reservations.Reserve(req)
	switch {
	case errors.Is(err, reservation.ErrAlreadyInUse):
		res = model.ReservationResult{Status: model.ReservationAlreadyInUse, Description: err.Error()}
	case err != nil:
		res = model.ReservationResult{Status: model.ReservationError, Description: err.Error()}
	default:
		res = model.ReservationResult{Status: model.ReservationSuccess, Reservation: &stored}
	}
	ev := metrics.ReservationEvent{ReservationID: req.ReservationID, ProviderID: req.ProviderID, Status: res.Status, Time: time.Now()}
	if err := r.metrics.RecordReservation(ev); err != nil {
		r.log.Errorf("reservation metrics error: %v", err)
	}
	return res
}

// candidates returns bound first, then every other backend in priority order.
func (r *Router) candidates(bound Backend) []Backend {
	all := r.snapshot()
	if bound == nil {
		return all
	}
	out := make([]Backend, 0, len(all)+1)
	out = append(out, bound)
	for _, b := range all {
		if b != bound {
			out = append(out, b)
		}
	}
	return out
}

func (r *Router) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.callTimeout > 0 {
		return context.WithTimeout(ctx, r.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Router) callStart(ctx context.Context, b Backend, req model.AuthStartRequest) (res model.AuthStartResult, ok bool) {
	defer r.recoverBackend(b, opStart, &ok)
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	res, err := b.AuthorizeStart(cctx, req)
	if err != nil {
		r.backendError(b, opStart, err)
		return res, false
	}
	return res, true
}

func (r *Router) callStop(ctx context.Context, b Backend, req model.AuthStopRequest) (res model.AuthStopResult, ok bool) {
	defer r.recoverBackend(b, opStop, &ok)
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	res, err := b.AuthorizeStop(cctx, req)
	if err != nil {
		r.backendError(b, opStop, err)
		return res, false
	}
	return res, true
}

func (r *Router) callCDR(ctx context.Context, b Backend, cdr model.ChargeDetailRecord) (res model.CDRResult, ok bool) {
	defer r.recoverBackend(b, opCDR, &ok)
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	res, err := b.SendChargeDetailRecord(cctx, cdr)
	if err != nil {
		r.backendError(b, opCDR, err)
		return res, false
	}
	return res, true
}

func (r *Router) backendError(b Backend, op string, err error) {
	monitoring.CaptureException(err, map[string]string{"module": "authz", "backend": b.ID(), "operation": op})
	r.log.Errorw("authorization backend failed", map[string]any{"backend": b.ID(), "operation": op, "error": err})
}

func (r *Router) recoverBackend(b Backend, op string, ok *bool) {
	if rec := recover(); rec != nil {
		err := monitoring.CapturePanic(rec, map[string]string{"module": "authz", "backend": b.ID(), "operation": op})
		r.log.Errorw("authorization backend panicked", map[string]any{"backend": b.ID(), "operation": op, "error": err})
		*ok = false
	}
}

func (r *Router) record(op, backend, result string, latency time.Duration) {
	ev := metrics.AuthorizationEvent{Operation: op, BackendID: backend, Result: result, Latency: latency, Time: time.Now()}
	if err := r.metrics.RecordAuthorization(ev); err != nil {
		r.log.Errorf("authorization metrics error: %v", err)
	}
}
