package metrics

import (
	"github.com/kilianp07/chargenet/core/logger"
	coremetrics "github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/network"
)

// StartFrameCollector observes every frame handled by the dispatcher and
// records its size when the sink supports frame traffic. Recording errors are
// logged. The returned function stops the collector.
func StartFrameCollector(d *network.Dispatcher, sink coremetrics.Sink, log logger.Logger) (stop func()) {
	r, ok := sink.(coremetrics.FrameTrafficRecorder)
	if d == nil || !ok {
		return func() {}
	}
	log = logger.OrNop(log)
	return d.Observe("metrics", func(ev network.FrameEvent) {
		err := r.RecordFrameTraffic(coremetrics.FrameTrafficEvent{
			NodeID:    ev.NodeID,
			Direction: ev.Direction.String(),
			Kind:      ev.Frame.Kind.String(),
			Bytes:     len(ev.Frame.Data),
			Time:      ev.Time,
		})
		if err != nil {
			log.Errorf("frame traffic metrics error: %v", err)
		}
	})
}
