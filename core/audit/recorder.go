package audit

import (
	"context"
	"time"

	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/network"
)

const appendTimeout = 2 * time.Second

// Buffer is the number of frame events queued for the store. The audit trail
// is best-effort: events arriving while the queue is full are not recorded and
// show up in the dispatcher's Dropped counter.
const Buffer = 4096

// Recorder writes dispatcher frame events to a Store.
type Recorder struct {
	store Store
	log   logger.Logger
}

// NewRecorder creates a recorder for store.
func NewRecorder(store Store, log logger.Logger) *Recorder {
	return &Recorder{store: store, log: logger.OrNop(log)}
}

// Attach observes d until the returned function is called.
func (r *Recorder) Attach(d *network.Dispatcher) (stop func()) {
	return d.ObserveBuffered("audit", Buffer, r.Record)
}

// Record persists one event. Failures are logged.
func (r *Recorder) Record(ev network.FrameEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := r.store.Append(ctx, RecordFromEvent(ev)); err != nil {
		r.log.Errorw("audit append failed", map[string]any{"node": ev.NodeID, "error": err})
	}
}
