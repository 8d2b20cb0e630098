package lockmgr

import (
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// NotificationBus delivers events to the sink of each connected session.
// Delivery never blocks: events for slow or vanished sessions are dropped.
type NotificationBus struct {
	sinks   *xsync.MapOf[string, Sink]
	metrics *coordinatorMetrics
	logger  logger.ILogger
}

func newNotificationBus(m *coordinatorMetrics, log logger.ILogger) *NotificationBus {
	return &NotificationBus{
		sinks:   xsync.NewMapOf[string, Sink](),
		metrics: m,
		logger:  log,
	}
}

// Attach registers the sink of a session, replacing any previous one
func (b *NotificationBus) Attach(sessionID string, sink Sink) {
	if sink == nil {
		return
	}
	b.sinks.Store(sessionID, sink)
}

func (b *NotificationBus) Detach(sessionID string) {
	b.sinks.Delete(sessionID)
}

// Send delivers ev to a single session and reports whether it was accepted
func (b *NotificationBus) Send(sessionID string, ev Event) bool {
	sink, ok := b.sinks.Load(sessionID)
	if !ok {
		b.logger.Debugf("dropping %s for %s: session has no sink", ev.Kind, sessionID)
		return false
	}
	if !sink.Deliver(ev) {
		b.metrics.droppedEvents.Inc()
		b.logger.Warningf("dropping %s for %s: outbox full", ev.Kind, sessionID)
		return false
	}
	return true
}

// Publish delivers ev to every session of the registry
func (b *NotificationBus) Publish(reg *SessionRegistry, ev Event) {
	for _, s := range reg.List() {
		b.Send(s.SessionID, ev)
	}
}
