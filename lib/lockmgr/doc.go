// Package lockmgr coordinates exclusive write access to shared documents.
//
// Every document with connected sessions has a lock that is either held by a
// single session (standard mode), shared by all editors (collab mode) or
// unheld. A session that wants to write while another one holds the lock
// sends a steal request. Requests are served strictly first come first served:
//
//	queued -> stealing -> cleanup -> granted
//	             |  \
//	             |   rejected (holder refused)
//	             cancelled    (requester withdrew before cleanup)
//
// While a request is stealing the holder has the steal window (30s by
// default) to answer. A holder that does not answer is treated as accepting:
// the request moves to cleanup, the outgoing holder's pending edits are
// flushed, and after the flush or the cleanup window the lock is handed over.
// This means a holder that is merely slow always loses the lock eventually.
//
// Concurrency Model:
//
//	Each active document is owned by one actor goroutine fed by an unbounded
//	mailbox (util.Mailbox). All operations of a document run one at a time in
//	arrival order, different documents run in parallel. Countdowns are
//	cancellable tasks of a util.Scheduler keyed by (document, request, phase);
//	a due task only posts an operation to the mailbox, which checks that the
//	request is still in that phase before acting.
//
//	Events are handed to a non-blocking Sink per session. A session whose
//	sink does not accept an event misses it; the event is counted as dropped.
//
// Usage Example:
//
//	coord := lockmgr.NewCoordinator(lockmgr.DefaultConfig(),
//	    lockmgr.WithAuthorizer(authz),
//	    lockmgr.WithFlusher(flusher),
//	)
//	defer coord.Close()
//
//	outbox := lockmgr.NewOutbox(256)
//	snap, err := coord.Connect(ctx, "doc-1", "alice", lockmgr.NewSessionID(), outbox)
//	if err != nil {
//	    // handle error
//	}
//	for ev := range outbox.Events() {
//	    // forward ev to the client
//	}
package lockmgr
