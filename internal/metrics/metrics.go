// Package metrics exposes dispatch outcome counters on the default
// prometheus registry, fed from the event bus so the dispatch engine
// stays free of metrics plumbing.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"wagate/internal/bus"
	"wagate/internal/status"
)

var (
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_messages_sent_total",
		Help: "Messages accepted by the transport.",
	})
	messagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_messages_failed_total",
		Help: "Messages rejected before or during transport send.",
	})
	phaseChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_session_phase_changes_total",
		Help: "Session phase transitions by target phase.",
	}, []string{"to"})
)

// Recorder consumes bus events and updates the counters.
type Recorder struct {
	bus    *bus.Bus
	cancel context.CancelFunc
}

// NewRecorder creates a recorder attached to the bus.
func NewRecorder(b *bus.Bus) *Recorder {
	return &Recorder{bus: b}
}

// Start subscribes to dispatch and session events until ctx is done or
// Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	dispatchCh, unsubDispatch := r.bus.Subscribe("dispatch.", 64)
	phaseCh, unsubPhase := r.bus.Subscribe("session.phase_changed", 64)

	go func() {
		defer unsubDispatch()
		defer unsubPhase()
		for {
			select {
			case evt := <-dispatchCh:
				switch evt.Kind {
				case "dispatch.sent":
					messagesSent.Inc()
				case "dispatch.failed":
					messagesFailed.Inc()
				}
			case evt := <-phaseCh:
				if change, ok := evt.Payload.(status.PhaseChange); ok {
					phaseChanges.WithLabelValues(string(change.To)).Inc()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the recorder goroutine.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
