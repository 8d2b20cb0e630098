package lockmgr

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// coordinatorMetrics groups the metrics of one coordinator in its own set so
// several coordinators (e.g. in tests) do not collide on metric names
type coordinatorMetrics struct {
	set *metrics.Set

	stealRequests   *metrics.Counter
	cleanupTimeouts *metrics.Counter
	droppedEvents   *metrics.Counter
	resolution      *metrics.Histogram
}

func newCoordinatorMetrics(activeDocuments, activeSessions func() float64) *coordinatorMetrics {
	set := metrics.NewSet()
	m := &coordinatorMetrics{
		set:             set,
		stealRequests:   set.NewCounter("dedit_steal_requests_total"),
		cleanupTimeouts: set.NewCounter("dedit_cleanup_timeouts_total"),
		droppedEvents:   set.NewCounter("dedit_dropped_events_total"),
		resolution:      set.NewHistogram("dedit_steal_resolution_seconds"),
	}
	set.NewGauge("dedit_active_documents", activeDocuments)
	set.NewGauge("dedit_active_sessions", activeSessions)
	return m
}

// outcome counts a finished steal request and records how long it took to resolve
func (m *coordinatorMetrics) outcome(status StealStatus, createdAt, now time.Time) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`dedit_steal_outcomes_total{outcome=%q}`, string(status))).Inc()
	if !createdAt.IsZero() {
		m.resolution.Update(now.Sub(createdAt).Seconds())
	}
}

// outcomeCount returns how many steal requests ended with status
func (m *coordinatorMetrics) outcomeCount(status StealStatus) uint64 {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`dedit_steal_outcomes_total{outcome=%q}`, string(status))).Get()
}

func (m *coordinatorMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
