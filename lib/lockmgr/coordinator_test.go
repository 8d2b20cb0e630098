package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dEdit/lib/util"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

// recorder is a sink that keeps every event of one session
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Deliver(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// last returns the latest event of the given kind
func (r *recorder) last(kind EventKind) (Event, bool) {
	events := r.all()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return events[i], true
		}
	}
	return Event{}, false
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *util.ManualClock[TimerKey]
	coord *Coordinator
	sinks map[string]*recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clock := util.NewManualClock[TimerKey](testEpoch)
	coord := NewCoordinator(DefaultConfig(), append([]Option{WithScheduler(clock)}, opts...)...)
	t.Cleanup(func() { _ = coord.Close() })
	return &harness{
		t:     t,
		ctx:   context.Background(),
		clock: clock,
		coord: coord,
		sinks: make(map[string]*recorder),
	}
}

// connect connects a session and returns its recorder
func (h *harness) connect(doc, membership, session string) *recorder {
	h.t.Helper()
	rec := &recorder{}
	h.sinks[session] = rec
	_, err := h.coord.Connect(h.ctx, doc, membership, session, rec)
	require.NoError(h.t, err)
	return rec
}

func (h *harness) status(doc string) Snapshot {
	h.t.Helper()
	snap, err := h.coord.Status(h.ctx, doc)
	require.NoError(h.t, err)
	return snap
}

// advance moves the clock and waits until the document processed every
// operation the due timers posted
func (h *harness) advance(doc string, d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	_, _ = h.coord.Status(h.ctx, doc)
}

func (h *harness) role(doc, session string) Role {
	h.t.Helper()
	sess, ok := h.status(doc).Session(session)
	require.True(h.t, ok, "session %s not connected", session)
	return sess.Role
}

// lockInvariants returns the first violated invariant of a snapshot
func lockInvariants(snap Snapshot) error {
	editors := snap.Editors()
	switch snap.State {
	case StateHeldStandard:
		if len(editors) != 1 {
			return fmt.Errorf("%s: standard mode with %d holders", snap.DocumentID, len(editors))
		}
		if editors[0].SessionID != snap.HolderSessionID {
			return fmt.Errorf("%s: holder role on %s, lock held by %s", snap.DocumentID, editors[0].SessionID, snap.HolderSessionID)
		}
	case StateUnheld:
		if len(editors) != 0 || len(snap.Queue) != 0 {
			return fmt.Errorf("%s: unheld lock with %d editors and %d requests", snap.DocumentID, len(editors), len(snap.Queue))
		}
	}

	for i, req := range snap.Queue {
		if req.QueuePosition != i {
			return fmt.Errorf("%s: request at index %d has position %d", snap.DocumentID, i, req.QueuePosition)
		}
		if i > 0 && req.Status != StealQueued {
			return fmt.Errorf("%s: request at position %d is %s", snap.DocumentID, i, req.Status)
		}
	}
	return nil
}

func requireSingleHolder(t *testing.T, snap Snapshot) {
	t.Helper()
	require.NoError(t, lockInvariants(snap))
}

// flushTracked reports whether the document still waits for a flush result
func flushTracked(c *Coordinator, documentID string) bool {
	tracked, _ := call(context.Background(), c, documentID, false, func(d *document) (bool, error) {
		return d.steal.flushRequestID != "", nil
	})
	return tracked
}

// blockDocument stalls the actor of the document until the returned func is called
func blockDocument(t *testing.T, c *Coordinator, documentID string) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = call(context.Background(), c, documentID, false, func(d *document) (struct{}, error) {
			close(started)
			<-release
			return struct{}{}, nil
		})
	}()
	<-started
	return func() { close(release) }
}

func shortContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

// --------------------------------------------------------------------------
// Connect / Disconnect
// --------------------------------------------------------------------------

// TestConnectAcquiresUnheldLock tests that the first session becomes holder and later ones viewers
func TestConnectAcquiresUnheldLock(t *testing.T) {
	h := newHarness(t)

	holder := h.connect("doc", "alice", "s-alice")
	ev, ok := holder.last(EventLockAcquired)
	require.True(t, ok)
	require.Equal(t, "alice", ev.HolderMembershipID)
	require.Equal(t, ModeStandard, ev.Mode)
	require.Equal(t, RoleHolder, ev.Role)

	viewer := h.connect("doc", "bob", "s-bob")
	ev, ok = viewer.last(EventLockAcquired)
	require.True(t, ok)
	require.Equal(t, "alice", ev.HolderMembershipID)
	require.Equal(t, RoleViewer, ev.Role)

	snap := h.status("doc")
	require.Equal(t, StateHeldStandard, snap.State)
	require.Equal(t, "s-alice", snap.HolderSessionID)
	require.Equal(t, testEpoch, snap.AcquiredAt)
	require.Equal(t, RoleViewer, h.role("doc", "s-bob"))
	requireSingleHolder(t, snap)
}

// TestConnectTwiceToDifferentDocuments tests that a session belongs to one document
func TestConnectTwiceToDifferentDocuments(t *testing.T) {
	h := newHarness(t)
	h.connect("doc-a", "alice", "s-alice")

	_, err := h.coord.Connect(h.ctx, "doc-b", "alice", "s-alice", &recorder{})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

// TestHolderDisconnectWithEmptyQueueReleases tests release and re-acquire
func TestHolderDisconnectWithEmptyQueueReleases(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	viewer := h.connect("doc", "bob", "s-bob")

	require.NoError(t, h.coord.Disconnect(h.ctx, "s-alice"))
	require.Equal(t, 1, viewer.count(EventLockReleased))

	snap := h.status("doc")
	require.Equal(t, StateUnheld, snap.State)
	require.Len(t, snap.Sessions, 1)

	// requestEdit of the remaining viewer re-acquires the lock
	snap, err := h.coord.Connect(h.ctx, "doc", "bob", "s-bob", viewer)
	require.NoError(t, err)
	require.Equal(t, StateHeldStandard, snap.State)
	require.Equal(t, "s-bob", snap.HolderSessionID)
	ev, _ := viewer.last(EventLockAcquired)
	require.Equal(t, RoleHolder, ev.Role)
}

// TestDocumentRetiredAfterLastSession tests that empty documents leave the arena
func TestDocumentRetiredAfterLastSession(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	require.NoError(t, h.coord.Disconnect(h.ctx, "s-alice"))

	require.Eventually(t, func() bool {
		_, err := h.coord.Status(h.ctx, "doc")
		return errors.Is(err, ErrLockNotFound)
	}, time.Second, 5*time.Millisecond)

	err := h.coord.Disconnect(h.ctx, "s-alice")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// the document can be used again
	h.connect("doc", "bob", "s-bob")
	require.Equal(t, "s-bob", h.status("doc").HolderSessionID)
}

// TestClosedCoordinator tests that operations fail after Close
func TestClosedCoordinator(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	require.NoError(t, h.coord.Close())

	_, err := h.coord.Connect(h.ctx, "doc", "bob", "s-bob", &recorder{})
	require.ErrorIs(t, err, ErrCoordinatorClosed)
	require.Equal(t, CodeCoordinatorClosed, CodeOf(err))
}

// TestTimedOutConnectLeavesNoSession tests that a connect abandoned by its
// caller never registers the session
func TestTimedOutConnectLeavesNoSession(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")

	unblock := blockDocument(t, h.coord, "doc")
	late := &recorder{}
	_, err := h.coord.Connect(shortContext(t), "doc", "bob", "s-bob", late)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	unblock()

	snap := h.status("doc")
	require.Len(t, snap.Sessions, 1)
	_, ok := snap.Session("s-bob")
	require.False(t, ok)
	require.Empty(t, late.all())

	_, err = h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

// TestExpiredConnectOnNewDocument tests that a connect with an expired context
// does not leave a holder behind
func TestExpiredConnectOnNewDocument(t *testing.T) {
	h := newHarness(t)

	ctx := shortContext(t)
	<-ctx.Done()
	_, err := h.coord.Connect(ctx, "doc-new", "bob", "s-bob", &recorder{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = h.coord.Status(h.ctx, "doc-new")
	require.ErrorIs(t, err, ErrLockNotFound)
	err = h.coord.Disconnect(h.ctx, "s-bob")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

// TestTimedOutStealHasNoEffect tests that a steal request abandoned by its
// caller is never queued
func TestTimedOutStealHasNoEffect(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	unblock := blockDocument(t, h.coord, "doc")
	_, err := h.coord.RequestSteal(shortContext(t), "doc", "s-bob")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	unblock()

	snap := h.status("doc")
	require.Empty(t, snap.Queue)
	require.Equal(t, "s-alice", snap.HolderSessionID)
	require.Equal(t, 0, holder.count(EventStealRequested))
}

// TestTimedOutDisconnectStillRuns tests that a disconnect takes effect even if
// its caller stopped waiting
func TestTimedOutDisconnectStillRuns(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	unblock := blockDocument(t, h.coord, "doc")
	err := h.coord.Disconnect(shortContext(t), "s-bob")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	unblock()

	snap := h.status("doc")
	require.Len(t, snap.Sessions, 1)
	_, ok := snap.Session("s-bob")
	require.False(t, ok)
}

// TestConnectWithForeignMembershipKeepsSink tests that a rejected connect does
// not take over the events of the existing session
func TestConnectWithForeignMembershipKeepsSink(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	foreign := &recorder{}
	_, err := h.coord.Connect(h.ctx, "doc", "mallory", "s-alice", foreign)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.Equal(t, 1, holder.count(EventStealRequested))
	require.Empty(t, foreign.all())
}

// --------------------------------------------------------------------------
// Steal protocol
// --------------------------------------------------------------------------

// TestScenarioImplicitAcceptOnTimeout tests a holder that never answers
func TestScenarioImplicitAcceptOnTimeout(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")
	requester := h.connect("doc", "bob", "s-bob")

	pos, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.Equal(t, 0, pos)

	ev, ok := holder.last(EventStealRequested)
	require.True(t, ok)
	require.Equal(t, "bob", ev.RequesterMembershipID)
	ev, ok = requester.last(EventStealPending)
	require.True(t, ok)
	require.Equal(t, "alice", ev.HolderMembershipID)
	require.Equal(t, 30, ev.CountdownSeconds)
	require.Equal(t, RoleRequester, h.role("doc", "s-bob"))

	h.advance("doc", 29*time.Second)
	require.Equal(t, StealStealing, h.status("doc").Queue[0].Status)

	h.advance("doc", time.Second)
	snap := h.status("doc")
	require.Equal(t, StealCleanup, snap.Queue[0].Status)
	require.Equal(t, testEpoch.Add(35*time.Second), snap.Queue[0].Deadline)
	for _, rec := range []*recorder{holder, requester} {
		ev, ok := rec.last(EventStealCleanup)
		require.True(t, ok)
		require.Equal(t, 5, ev.CountdownSeconds)
	}

	h.advance("doc", 5*time.Second)
	snap = h.status("doc")
	require.Equal(t, "s-bob", snap.HolderSessionID)
	require.Equal(t, ModeStandard, snap.Mode)
	require.Empty(t, snap.Queue)
	require.Equal(t, RoleViewer, h.role("doc", "s-alice"))
	requireSingleHolder(t, snap)

	ev, ok = requester.last(EventLockAcquired)
	require.True(t, ok)
	require.Equal(t, "bob", ev.HolderMembershipID)
	require.Equal(t, RoleHolder, ev.Role)
	ev, _ = holder.last(EventLockAcquired)
	require.Equal(t, "bob", ev.HolderMembershipID)
	require.Equal(t, RoleViewer, ev.Role)

	require.Equal(t, uint64(1), h.coord.metrics.outcomeCount(StealGranted))
	require.Equal(t, uint64(0), h.coord.metrics.cleanupTimeouts.Get())
	require.Zero(t, h.clock.Pending())
}

// TestScenarioHolderRejects tests a rejection inside the steal window
func TestScenarioHolderRejects(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")
	requester := h.connect("doc", "bob", "s-bob")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	reqID := h.status("doc").Queue[0].ID

	h.advance("doc", 10*time.Second)
	require.NoError(t, h.coord.RejectSteal(h.ctx, "doc", "s-alice", "finishing a paragraph"))

	ev, ok := requester.last(EventStealRejected)
	require.True(t, ok)
	require.Equal(t, "finishing a paragraph", ev.Reason)
	require.Zero(t, holder.count(EventStealRejected))

	snap := h.status("doc")
	require.Equal(t, StateHeldStandard, snap.State)
	require.Equal(t, "s-alice", snap.HolderSessionID)
	require.Equal(t, testEpoch, snap.AcquiredAt)
	require.Empty(t, snap.Queue)
	require.Equal(t, RoleViewer, h.role("doc", "s-bob"))
	require.False(t, h.clock.Scheduled(TimerKey{DocumentID: "doc", RequestID: reqID, Phase: PhaseSteal}))

	// the cancelled countdown never fires
	h.advance("doc", time.Minute)
	require.Equal(t, "s-alice", h.status("doc").HolderSessionID)
	require.Equal(t, uint64(1), h.coord.metrics.outcomeCount(StealRejected))
}

// TestScenarioCancelPromotesNext tests that cancelling the active request promotes the next one
func TestScenarioCancelPromotesNext(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")
	second := h.connect("doc", "carol", "s-carol")

	pos, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.Equal(t, 0, pos)
	pos, err = h.coord.RequestSteal(h.ctx, "doc", "s-carol")
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	ev, ok := second.last(EventQueuePositionUpdate)
	require.True(t, ok)
	require.Equal(t, 1, ev.Position)

	snap := h.status("doc")
	require.Equal(t, StealStealing, snap.Queue[0].Status)
	require.Equal(t, StealQueued, snap.Queue[1].Status)
	requireSingleHolder(t, snap)

	h.advance("doc", 10*time.Second)
	require.NoError(t, h.coord.CancelSteal(h.ctx, "doc", "s-bob"))

	ev, ok = holder.last(EventStealWithdrawn)
	require.True(t, ok)
	require.Equal(t, "bob", ev.RequesterMembershipID)

	ev, ok = second.last(EventQueuePositionUpdate)
	require.True(t, ok)
	require.Equal(t, 0, ev.Position)
	ev, ok = second.last(EventStealPending)
	require.True(t, ok)
	require.Equal(t, 30, ev.CountdownSeconds)

	snap = h.status("doc")
	require.Len(t, snap.Queue, 1)
	require.Equal(t, "s-carol", snap.Queue[0].RequesterSessionID)
	require.Equal(t, StealStealing, snap.Queue[0].Status)
	require.Equal(t, testEpoch.Add(40*time.Second), snap.Queue[0].Deadline)
	require.Equal(t, RoleViewer, h.role("doc", "s-bob"))

	// the fresh countdown runs the full window
	h.advance("doc", 29*time.Second)
	require.Equal(t, StealStealing, h.status("doc").Queue[0].Status)
	h.advance("doc", time.Second)
	require.Equal(t, StealCleanup, h.status("doc").Queue[0].Status)
}

// TestScenarioHolderDisconnectGrantsHead tests the immediate hand-over to the queue head
func TestScenarioHolderDisconnectGrantsHead(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	first := h.connect("doc", "bob", "s-bob")
	second := h.connect("doc", "carol", "s-carol")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	_, err = h.coord.RequestSteal(h.ctx, "doc", "s-carol")
	require.NoError(t, err)

	require.NoError(t, h.coord.Disconnect(h.ctx, "s-alice"))

	snap := h.status("doc")
	require.Equal(t, "s-bob", snap.HolderSessionID)
	require.Equal(t, testEpoch, snap.AcquiredAt, "no countdown must run")
	ev, ok := first.last(EventLockAcquired)
	require.True(t, ok)
	require.Equal(t, "bob", ev.HolderMembershipID)

	// the next request now targets the new holder
	require.Len(t, snap.Queue, 1)
	require.Equal(t, StealStealing, snap.Queue[0].Status)
	ev, ok = second.last(EventStealPending)
	require.True(t, ok)
	require.Equal(t, "bob", ev.HolderMembershipID)
	ev, ok = first.last(EventStealRequested)
	require.True(t, ok)
	require.Equal(t, "carol", ev.RequesterMembershipID)
	requireSingleHolder(t, snap)
}

// TestDuplicateStealIsIdempotent tests that repeated requests keep their position
func TestDuplicateStealIsIdempotent(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")
	h.connect("doc", "carol", "s-carol")

	for i := 0; i < 3; i++ {
		pos, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
		require.NoError(t, err)
		require.Equal(t, 0, pos)
		pos, err = h.coord.RequestSteal(h.ctx, "doc", "s-carol")
		require.NoError(t, err)
		require.Equal(t, 1, pos)
	}

	require.Len(t, h.status("doc").Queue, 2)
	require.Equal(t, 1, holder.count(EventStealRequested))
	require.Equal(t, uint64(2), h.coord.metrics.stealRequests.Get())
}

// TestStealRequestValidation tests requests that are not allowed
func TestStealRequestValidation(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-alice")
	require.ErrorIs(t, err, ErrInvalidTransition, "holder cannot steal from itself")

	_, err = h.coord.RequestSteal(h.ctx, "doc", "s-nobody")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.ErrorIs(t, h.coord.AcceptSteal(h.ctx, "doc", "s-alice"), ErrInvalidTransition, "nothing to accept")
	require.ErrorIs(t, h.coord.CancelSteal(h.ctx, "doc", "s-bob"), ErrInvalidTransition, "nothing to cancel")

	_, err = h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.ErrorIs(t, h.coord.AcceptSteal(h.ctx, "doc", "s-bob"), ErrInvalidTransition, "only the holder answers")
	require.ErrorIs(t, h.coord.RejectSteal(h.ctx, "doc", "s-bob", ""), ErrInvalidTransition)
}

// TestAcceptWithFlusherGrantsOnFlush tests that a finished flush ends cleanup early
func TestAcceptWithFlusherGrantsOnFlush(t *testing.T) {
	flushed := make(chan string, 1)
	h := newHarness(t, WithFlusher(FlusherFunc(func(ctx context.Context, documentID, holder string) error {
		flushed <- holder
		return nil
	})))
	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.NoError(t, h.coord.AcceptSteal(h.ctx, "doc", "s-alice"))

	select {
	case holder := <-flushed:
		require.Equal(t, "alice", holder)
	case <-time.After(time.Second):
		t.Fatal("flusher was not called")
	}

	require.Eventually(t, func() bool {
		return h.status("doc").HolderSessionID == "s-bob"
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, h.clock.Pending(), "cleanup deadline must be cancelled")
}

// TestCleanupTimeoutWithStuckFlusher tests that a hanging flush does not block the transfer
func TestCleanupTimeoutWithStuckFlusher(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, WithFlusher(FlusherFunc(func(ctx context.Context, _, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})))
	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.NoError(t, h.coord.AcceptSteal(h.ctx, "doc", "s-alice"))
	<-started

	h.advance("doc", 5*time.Second)
	require.Equal(t, "s-bob", h.status("doc").HolderSessionID)
	require.Equal(t, uint64(1), h.coord.metrics.cleanupTimeouts.Get())
}

// TestFailedFlushWaitsForDeadline tests that a failing flush keeps the cleanup window
func TestFailedFlushWaitsForDeadline(t *testing.T) {
	done := make(chan struct{})
	h := newHarness(t, WithFlusher(FlusherFunc(func(context.Context, string, string) error {
		defer close(done)
		return errors.New("storage unavailable")
	})))
	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.NoError(t, h.coord.AcceptSteal(h.ctx, "doc", "s-alice"))
	<-done

	require.Eventually(t, func() bool {
		// the failure result has been processed once the flush is no longer tracked
		snap := h.status("doc")
		return snap.Queue[0].Status == StealCleanup && !flushTracked(h.coord, "doc")
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "s-alice", h.status("doc").HolderSessionID)

	h.advance("doc", 5*time.Second)
	require.Equal(t, "s-bob", h.status("doc").HolderSessionID)
	require.Equal(t, uint64(0), h.coord.metrics.cleanupTimeouts.Get())
}

// TestCancelDuringCleanupIsRejected tests that cleanup cannot be aborted
func TestCancelDuringCleanupIsRejected(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.NoError(t, h.coord.AcceptSteal(h.ctx, "doc", "s-alice"))

	err = h.coord.CancelSteal(h.ctx, "doc", "s-bob")
	require.ErrorIs(t, err, ErrInvalidTransition)
	err = h.coord.RequestCollabJoin(h.ctx, "doc", "s-alice")
	require.ErrorIs(t, err, ErrInvalidTransition)

	h.advance("doc", 5*time.Second)
	require.Equal(t, "s-bob", h.status("doc").HolderSessionID)
}

// TestRequesterDisconnectDuringCleanupExpires tests that the holder keeps the lock
func TestRequesterDisconnectDuringCleanupExpires(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")
	next := h.connect("doc", "carol", "s-carol")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	_, err = h.coord.RequestSteal(h.ctx, "doc", "s-carol")
	require.NoError(t, err)
	require.NoError(t, h.coord.AcceptSteal(h.ctx, "doc", "s-alice"))

	require.NoError(t, h.coord.Disconnect(h.ctx, "s-bob"))

	ev, ok := holder.last(EventStealExpired)
	require.True(t, ok)
	require.Equal(t, "bob", ev.RequesterMembershipID)

	snap := h.status("doc")
	require.Equal(t, "s-alice", snap.HolderSessionID)
	require.Len(t, snap.Queue, 1)
	require.Equal(t, StealStealing, snap.Queue[0].Status)
	_, ok = next.last(EventStealPending)
	require.True(t, ok)
	require.Equal(t, uint64(1), h.coord.metrics.outcomeCount(StealExpired))

	// the old cleanup deadline is gone
	h.advance("doc", 5*time.Second)
	require.Equal(t, "s-alice", h.status("doc").HolderSessionID)
}

// TestRequesterDisconnectWhileStealing tests that the holder is told the request is gone
func TestRequesterDisconnectWhileStealing(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	require.NoError(t, h.coord.Disconnect(h.ctx, "s-bob"))

	require.Equal(t, 1, holder.count(EventStealWithdrawn))
	require.Empty(t, h.status("doc").Queue)
	require.Zero(t, h.clock.Pending())
}

// --------------------------------------------------------------------------
// Collab mode
// --------------------------------------------------------------------------

// TestScenarioCollabJoin tests switching to collab mode and joining editors
func TestScenarioCollabJoin(t *testing.T) {
	h := newHarness(t)
	holder := h.connect("doc", "alice", "s-alice")

	require.NoError(t, h.coord.RequestCollabJoin(h.ctx, "doc", "s-alice"))
	ev, ok := holder.last(EventCollabModeChanged)
	require.True(t, ok)
	require.Equal(t, ModeCollab, ev.Mode)

	second := h.connect("doc", "bob", "s-bob")
	ev, ok = second.last(EventCollabModeChanged)
	require.True(t, ok)
	require.Equal(t, RoleHolder, ev.Role)

	snap := h.status("doc")
	require.Equal(t, StateHeldCollab, snap.State)
	require.Len(t, snap.Editors(), 2)
	require.Empty(t, snap.HolderSessionID)

	h.connect("doc", "carol", "s-carol")
	snap = h.status("doc")
	require.Len(t, snap.Editors(), 3)
	require.Empty(t, snap.Queue)

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-carol")
	require.ErrorIs(t, err, ErrInvalidTransition, "no queueing in collab mode")

	// joining again is harmless
	require.NoError(t, h.coord.RequestCollabJoin(h.ctx, "doc", "s-bob"))
	require.Len(t, h.status("doc").Editors(), 3)
}

// TestCollabJoinAdmitsPendingRequesters tests that the switch cancels the queue
func TestCollabJoinAdmitsPendingRequesters(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")
	h.connect("doc", "carol", "s-carol")
	h.connect("doc", "dave", "s-dave")

	_, err := h.coord.RequestSteal(h.ctx, "doc", "s-bob")
	require.NoError(t, err)
	_, err = h.coord.RequestSteal(h.ctx, "doc", "s-carol")
	require.NoError(t, err)

	require.NoError(t, h.coord.RequestCollabJoin(h.ctx, "doc", "s-alice"))

	snap := h.status("doc")
	require.Equal(t, StateHeldCollab, snap.State)
	require.Empty(t, snap.Queue)
	require.Equal(t, RoleHolder, h.role("doc", "s-bob"))
	require.Equal(t, RoleHolder, h.role("doc", "s-carol"))
	require.Equal(t, RoleViewer, h.role("doc", "s-dave"))
	require.Zero(t, h.clock.Pending())
	require.Equal(t, uint64(2), h.coord.metrics.outcomeCount(StealCancelled))
}

// TestCollabJoinOnUnheldLock tests that collab needs a held lock
func TestCollabJoinOnUnheldLock(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "bob", "s-bob")
	require.NoError(t, h.coord.Disconnect(h.ctx, "s-alice"))

	err := h.coord.RequestCollabJoin(h.ctx, "doc", "s-bob")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

// TestRevertToStandard tests the switch back to a single holder
func TestRevertToStandard(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	require.NoError(t, h.coord.RequestCollabJoin(h.ctx, "doc", "s-alice"))
	bob := h.connect("doc", "bob", "s-bob")
	h.connect("doc", "carol", "s-carol")

	require.ErrorIs(t, h.coord.RevertToStandard(h.ctx, "doc", "mallory"), ErrInvalidTransition)
	require.NoError(t, h.coord.RevertToStandard(h.ctx, "doc", "bob"))

	snap := h.status("doc")
	require.Equal(t, StateHeldStandard, snap.State)
	require.Equal(t, "s-bob", snap.HolderSessionID)
	require.Equal(t, RoleViewer, h.role("doc", "s-alice"))
	require.Equal(t, RoleViewer, h.role("doc", "s-carol"))
	requireSingleHolder(t, snap)

	ev, ok := bob.last(EventCollabModeChanged)
	require.True(t, ok)
	require.Equal(t, ModeStandard, ev.Mode)

	require.ErrorIs(t, h.coord.RevertToStandard(h.ctx, "doc", "bob"), ErrInvalidTransition)
}

// TestCollabEditorsLeave tests the mode change when editors disconnect
func TestCollabEditorsLeave(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("doc", "alice", "s-alice")
	require.NoError(t, h.coord.RequestCollabJoin(h.ctx, "doc", "s-alice"))
	h.connect("doc", "bob", "s-bob")
	alice.reset()

	require.NoError(t, h.coord.Disconnect(h.ctx, "s-bob"))
	snap := h.status("doc")
	require.Equal(t, StateHeldStandard, snap.State)
	require.Equal(t, "s-alice", snap.HolderSessionID)

	ev, ok := alice.last(EventCollabModeChanged)
	require.True(t, ok)
	require.Equal(t, ModeStandard, ev.Mode)
	ev, ok = alice.last(EventLockAcquired)
	require.True(t, ok)
	require.Equal(t, "alice", ev.HolderMembershipID)
}

// TestCollabLastEditorLeaves tests that viewers stay on an unheld lock
func TestCollabLastEditorLeaves(t *testing.T) {
	h := newHarness(t)
	h.connect("doc", "alice", "s-alice")
	viewer := h.connect("doc", "bob", "s-bob")
	require.NoError(t, h.coord.RequestCollabJoin(h.ctx, "doc", "s-alice"))
	require.Equal(t, RoleViewer, h.role("doc", "s-bob"))

	require.NoError(t, h.coord.Disconnect(h.ctx, "s-alice"))
	require.Equal(t, StateUnheld, h.status("doc").State)
	require.Equal(t, 1, viewer.count(EventLockReleased))
}

// --------------------------------------------------------------------------
// Authorization
// --------------------------------------------------------------------------

// TestAuthorizationDenied tests that unauthorized memberships never reach the document
func TestAuthorizationDenied(t *testing.T) {
	authz := NewStaticAuthorizer(map[string][]string{
		"doc": {"alice"},
		"*":   {"admin"},
	})
	h := newHarness(t, WithAuthorizer(authz))

	_, err := h.coord.Connect(h.ctx, "doc", "bob", "s-bob", &recorder{})
	require.ErrorIs(t, err, ErrAuthorizationDenied)
	_, err = h.coord.Status(h.ctx, "doc")
	require.ErrorIs(t, err, ErrLockNotFound, "a denied connect must not create the document")

	h.connect("doc", "alice", "s-alice")
	h.connect("doc", "admin", "s-admin")
	require.Len(t, h.status("doc").Sessions, 2)
}

// TestAuthorizerErrorIsWrapped tests that authorizer failures are reported as is
func TestAuthorizerErrorIsWrapped(t *testing.T) {
	boom := errors.New("acl service down")
	h := newHarness(t, WithAuthorizer(authorizerFunc(func(context.Context, string, string) (bool, error) {
		return false, boom
	})))

	_, err := h.coord.Connect(h.ctx, "doc", "alice", "s-alice", &recorder{})
	require.ErrorIs(t, err, boom)
	require.Equal(t, CodeInternal, CodeOf(err))
}

type authorizerFunc func(ctx context.Context, membershipID, documentID string) (bool, error)

func (f authorizerFunc) CanEdit(ctx context.Context, membershipID, documentID string) (bool, error) {
	return f(ctx, membershipID, documentID)
}

// --------------------------------------------------------------------------
// Invariants under concurrency
// --------------------------------------------------------------------------

// TestSingleHolderUnderConcurrency runs random operations against real timers
// and checks the lock invariants on every snapshot
func TestSingleHolderUnderConcurrency(t *testing.T) {
	coord := NewCoordinator(Config{
		StealWindow:   2 * time.Millisecond,
		CleanupWindow: time.Millisecond,
	}, WithFlusher(NoopFlusher{}))
	defer coord.Close()

	ctx := context.Background()
	docs := []string{"doc-1", "doc-2"}
	members := []string{"alice", "bob", "carol", "dave"}

	var wg sync.WaitGroup
	for i, member := range members {
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			sink := SinkFunc(func(Event) bool { return true })
			for round := 0; round < 200; round++ {
				doc := docs[(i+round)%len(docs)]
				session := member + "-" + doc
				switch round % 5 {
				case 0:
					_, _ = coord.Connect(ctx, doc, member, session, sink)
				case 1:
					_, _ = coord.RequestSteal(ctx, doc, session)
				case 2:
					_ = coord.AcceptSteal(ctx, doc, session)
				case 3:
					if round%3 == 0 {
						_ = coord.RequestCollabJoin(ctx, doc, session)
					} else {
						_ = coord.RejectSteal(ctx, doc, session, "")
					}
				case 4:
					if round%2 == 0 {
						_ = coord.Disconnect(ctx, session)
					} else {
						_ = coord.RevertToStandard(ctx, doc, member)
					}
				}
			}
		}(i, member)
	}

	stop := make(chan struct{})
	violations := make(chan error, 1)
	go func() {
		defer close(violations)
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, doc := range docs {
				snap, err := coord.Status(ctx, doc)
				if err != nil {
					continue
				}
				if err := lockInvariants(snap); err != nil {
					violations <- err
					return
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	require.NoError(t, <-violations)
}
