package lockmgr

import (
	"context"
	"time"
)

// ICoordinator is the entry point of the edit lock subsystem. Every operation
// is addressed to one document and runs on that document's actor; operations
// of different documents run in parallel.
type ICoordinator interface {
	// Connect registers a session for a document (client message requestEdit).
	// The first session of an unheld document becomes the holder, later sessions
	// join as viewers (standard mode) or co-editors (collab mode). Calling
	// Connect again for a connected session re-acquires an unheld lock.
	// Events for the session are delivered to sink.
	Connect(ctx context.Context, documentID, membershipID, sessionID string, sink Sink) (Snapshot, error)

	// Disconnect removes a session from its document and hands the lock over
	// if the session was the holder.
	Disconnect(ctx context.Context, sessionID string) error

	// RequestSteal asks the holder to hand over the lock. Returns the queue
	// position of the request, a repeated request returns the existing position.
	RequestSteal(ctx context.Context, documentID, sessionID string) (int, error)

	// AcceptSteal is sent by the holder to start the cleanup phase of the active request
	AcceptSteal(ctx context.Context, documentID, sessionID string) error

	// RejectSteal is sent by the holder to refuse the active request
	RejectSteal(ctx context.Context, documentID, sessionID, reason string) error

	// CancelSteal withdraws the request of the session. Not possible once cleanup started.
	CancelSteal(ctx context.Context, documentID, sessionID string) error

	// RequestCollabJoin switches the document to collab mode (or admits the
	// session as co-editor if it already is)
	RequestCollabJoin(ctx context.Context, documentID, sessionID string) error

	// RevertToStandard switches a collab document back to standard mode with the
	// initiator as sole holder
	RevertToStandard(ctx context.Context, documentID, initiatingMembershipID string) error

	// Status returns a snapshot of the document. Returns LockNotFound if the
	// document has no connected sessions.
	Status(ctx context.Context, documentID string) (Snapshot, error)

	// Close stops the coordinator. Pending operations are still answered.
	Close() error
}

// Config holds the timing and buffering parameters of a coordinator
type Config struct {
	// StealWindow is the time the holder has to answer a steal request
	StealWindow time.Duration
	// CleanupWindow bounds the hand-off phase
	CleanupWindow time.Duration
	// OutboxSize is the event buffer per session used by transports
	OutboxSize int
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		StealWindow:   30 * time.Second,
		CleanupWindow: 5 * time.Second,
		OutboxSize:    256,
	}
}
