package lockmgr

// EventKind names a coordinator to client event
type EventKind string

const (
	EventLockAcquired        EventKind = "lock-acquired"
	EventLockReleased        EventKind = "lock-released"
	EventStealRequested      EventKind = "steal-requested"
	EventStealPending        EventKind = "steal-pending"
	EventQueuePositionUpdate EventKind = "queue-position-update"
	EventStealRejected       EventKind = "steal-rejected"
	EventStealCleanup        EventKind = "steal-cleanup"
	EventStealWithdrawn      EventKind = "steal-withdrawn"
	EventStealExpired        EventKind = "steal-expired"
	EventCollabModeChanged   EventKind = "collab-mode-changed"
	EventError               EventKind = "error"
)

// Event is a notification for one session. Only the fields relevant for the
// kind are set.
type Event struct {
	Kind       EventKind `json:"kind"`
	DocumentID string    `json:"documentId"`

	HolderMembershipID    string `json:"holderMembershipId,omitempty"`
	RequesterMembershipID string `json:"requesterMembershipId,omitempty"`
	RequestID             string `json:"requestId,omitempty"`
	Mode                  Mode   `json:"mode,omitempty"`
	Role                  Role   `json:"role,omitempty"`
	Position              int    `json:"position"`
	CountdownSeconds      int    `json:"countdownSeconds,omitempty"`
	Reason                string `json:"reason,omitempty"`

	// error events
	Code Code   `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

// ErrorEvent converts err into an error event for the originating session
func ErrorEvent(documentID string, err error) Event {
	return Event{
		Kind:       EventError,
		DocumentID: documentID,
		Code:       CodeOf(err),
		Msg:        err.Error(),
	}
}

// --------------------------------------------------------------------------
// Sinks
// --------------------------------------------------------------------------

// Sink receives the events of one session. Deliver must not block; it returns
// false if the event was dropped.
type Sink interface {
	Deliver(ev Event) bool
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ev Event) bool

func (f SinkFunc) Deliver(ev Event) bool { return f(ev) }

// Outbox is a bounded per-session event buffer. Events that do not fit are
// dropped.
type Outbox struct {
	ch chan Event
}

// NewOutbox creates an outbox holding up to size events
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultConfig().OutboxSize
	}
	return &Outbox{ch: make(chan Event, size)}
}

func (o *Outbox) Deliver(ev Event) bool {
	select {
	case o.ch <- ev:
		return true
	default:
		return false
	}
}

// Events returns the channel the outbox is drained from
func (o *Outbox) Events() <-chan Event {
	return o.ch
}
