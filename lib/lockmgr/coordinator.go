package lockmgr

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/dEdit/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// operation is one unit of work for a document actor
type operation struct {
	fn func(d *document)
}

// slot is an entry of the document arena: the document state and the mailbox
// of the actor owning it
type slot struct {
	doc     *document
	mailbox *util.Mailbox[operation]
}

// sessionRef locates a session without asking its document actor
type sessionRef struct {
	documentID   string
	membershipID string
}

// Coordinator implements ICoordinator with one actor per document.
//
// Document slots are created by the first Connect and retired by their actor
// as soon as the document has no sessions and no pending requests. Creating,
// feeding and retiring a slot all happen inside arena.Compute for the document
// key, so an operation can never be pushed into a retired mailbox.
type Coordinator struct {
	config Config

	arena    *xsync.MapOf[string, *slot]
	sessions *xsync.MapOf[string, sessionRef]

	bus        *NotificationBus
	scheduler  util.Scheduler[TimerKey]
	wheel      *util.TimerWheel[TimerKey] // set if the coordinator owns the scheduler
	authorizer Authorizer
	flusher    ContentFlusher
	metrics    *coordinatorMetrics
	logger     logger.ILogger

	closed atomic.Bool
}

// Option configures a Coordinator
type Option func(c *Coordinator)

// WithAuthorizer sets the authorizer, the default permits everyone
func WithAuthorizer(a Authorizer) Option {
	return func(c *Coordinator) { c.authorizer = a }
}

// WithFlusher sets the content flusher used during cleanup. Without a flusher
// every hand-off waits for the full cleanup window.
func WithFlusher(f ContentFlusher) Option {
	return func(c *Coordinator) { c.flusher = f }
}

// WithScheduler replaces the timer wheel, e.g. by a util.ManualClock in tests
func WithScheduler(s util.Scheduler[TimerKey]) Option {
	return func(c *Coordinator) { c.scheduler = s }
}

// NewCoordinator creates a coordinator. Zero config values are replaced by
// the defaults.
func NewCoordinator(config Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if config.StealWindow <= 0 {
		config.StealWindow = def.StealWindow
	}
	if config.CleanupWindow <= 0 {
		config.CleanupWindow = def.CleanupWindow
	}
	if config.OutboxSize <= 0 {
		config.OutboxSize = def.OutboxSize
	}

	c := &Coordinator{
		config:     config,
		arena:      xsync.NewMapOf[string, *slot](),
		sessions:   xsync.NewMapOf[string, sessionRef](),
		authorizer: AllowAllAuthorizer{},
		logger:     logger.GetLogger("lockmgr"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scheduler == nil {
		c.wheel = util.NewTimerWheel[TimerKey]()
		c.scheduler = c.wheel
	}

	c.metrics = newCoordinatorMetrics(
		func() float64 { return float64(c.arena.Size()) },
		func() float64 { return float64(c.sessions.Size()) },
	)
	c.bus = newNotificationBus(c.metrics, c.logger)
	return c
}

// Config returns the effective configuration
func (c *Coordinator) Config() Config {
	return c.config
}

// WritePrometheus writes the coordinator metrics in prometheus text format
func (c *Coordinator) WritePrometheus(w io.Writer) {
	c.metrics.writePrometheus(w)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ICoordinator)
// --------------------------------------------------------------------------

func (c *Coordinator) Connect(ctx context.Context, documentID, membershipID, sessionID string, sink Sink) (Snapshot, error) {
	if documentID == "" || membershipID == "" || sessionID == "" {
		return Snapshot{}, newError(CodeInvalidTransition, "document, membership and session id are required")
	}
	ref, known := c.sessions.Load(sessionID)
	if known && ref.documentID != documentID {
		return Snapshot{}, newError(CodeInvalidTransition, "session %s is connected to %s", sessionID, ref.documentID)
	}
	if err := c.authorize(ctx, membershipID, documentID); err != nil {
		return Snapshot{}, err
	}

	// attach first, the lock-acquired event of the join goes to the sink. A
	// known session keeps its sink, d.connect rejects a foreign membership.
	if !known {
		c.bus.Attach(sessionID, sink)
	}
	snap, err := call(ctx, c, documentID, true, func(d *document) (Snapshot, error) {
		snap, err := d.connect(membershipID, sessionID)
		if err == nil {
			c.sessions.Store(sessionID, sessionRef{documentID: documentID, membershipID: membershipID})
		}
		return snap, err
	})
	if err != nil && !known {
		c.bus.Detach(sessionID)
	}
	return snap, err
}

func (c *Coordinator) Disconnect(ctx context.Context, sessionID string) error {
	ref, ok := c.sessions.Load(sessionID)
	if !ok {
		return newError(CodeSessionNotFound, "session %s is not connected", sessionID)
	}
	defer c.bus.Detach(sessionID)

	// a disconnect runs even if the caller stops waiting for it
	_, err := callDetached(ctx, c, ref.documentID, func(d *document) (struct{}, error) {
		c.sessions.Delete(sessionID)
		return struct{}{}, d.disconnect(sessionID)
	})
	if CodeOf(err) == CodeLockNotFound {
		c.sessions.Delete(sessionID)
	}
	return err
}

func (c *Coordinator) RequestSteal(ctx context.Context, documentID, sessionID string) (int, error) {
	ref, err := c.session(documentID, sessionID)
	if err != nil {
		return 0, err
	}
	if err := c.authorize(ctx, ref.membershipID, documentID); err != nil {
		return 0, err
	}
	return call(ctx, c, documentID, false, func(d *document) (int, error) {
		return d.requestSteal(sessionID)
	})
}

func (c *Coordinator) AcceptSteal(ctx context.Context, documentID, sessionID string) error {
	if _, err := c.session(documentID, sessionID); err != nil {
		return err
	}
	return c.exec(ctx, documentID, func(d *document) error {
		return d.acceptSteal(sessionID)
	})
}

func (c *Coordinator) RejectSteal(ctx context.Context, documentID, sessionID, reason string) error {
	if _, err := c.session(documentID, sessionID); err != nil {
		return err
	}
	return c.exec(ctx, documentID, func(d *document) error {
		return d.rejectSteal(sessionID, reason)
	})
}

func (c *Coordinator) CancelSteal(ctx context.Context, documentID, sessionID string) error {
	if _, err := c.session(documentID, sessionID); err != nil {
		return err
	}
	return c.exec(ctx, documentID, func(d *document) error {
		return d.cancelSteal(sessionID)
	})
}

func (c *Coordinator) RequestCollabJoin(ctx context.Context, documentID, sessionID string) error {
	ref, err := c.session(documentID, sessionID)
	if err != nil {
		return err
	}
	if err := c.authorize(ctx, ref.membershipID, documentID); err != nil {
		return err
	}
	return c.exec(ctx, documentID, func(d *document) error {
		return d.requestCollabJoin(sessionID)
	})
}

func (c *Coordinator) RevertToStandard(ctx context.Context, documentID, initiatingMembershipID string) error {
	return c.exec(ctx, documentID, func(d *document) error {
		return d.revertToStandard(initiatingMembershipID)
	})
}

func (c *Coordinator) Status(ctx context.Context, documentID string) (Snapshot, error) {
	return call(ctx, c, documentID, false, func(d *document) (Snapshot, error) {
		return d.snapshot(), nil
	})
}

func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.arena.Range(func(documentID string, _ *slot) bool {
		c.arena.Compute(documentID, func(s *slot, loaded bool) (*slot, bool) {
			if loaded {
				s.mailbox.Close()
			}
			return nil, true
		})
		return true
	})
	if c.wheel != nil {
		c.wheel.Stop()
	}
	c.logger.Infof("coordinator closed")
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// session resolves a connected session of the document
func (c *Coordinator) session(documentID, sessionID string) (sessionRef, error) {
	ref, ok := c.sessions.Load(sessionID)
	if !ok || ref.documentID != documentID {
		return sessionRef{}, newError(CodeSessionNotFound, "session %s is not connected to %s", sessionID, documentID)
	}
	return ref, nil
}

func (c *Coordinator) authorize(ctx context.Context, membershipID, documentID string) error {
	ok, err := c.authorizer.CanEdit(ctx, membershipID, documentID)
	if err != nil {
		return fmt.Errorf("authorization of %s for %s failed: %w", membershipID, documentID, err)
	}
	if !ok {
		return newError(CodeAuthorizationDenied, "%s may not edit %s", membershipID, documentID)
	}
	return nil
}

func (c *Coordinator) exec(ctx context.Context, documentID string, fn func(d *document) error) error {
	_, err := call(ctx, c, documentID, false, func(d *document) (struct{}, error) {
		return struct{}{}, fn(d)
	})
	return err
}

// post hands an internal operation (timer, flush result) to an existing document
func (c *Coordinator) post(documentID string, fn func(d *document)) {
	if err := c.dispatch(documentID, false, fn); err != nil {
		c.logger.Debugf("dropping internal operation for %s: %v", documentID, err)
	}
}

// dispatch pushes fn into the mailbox of the document. With create set a
// missing slot is created, otherwise LockNotFound is returned.
func (c *Coordinator) dispatch(documentID string, create bool, fn func(d *document)) error {
	if c.closed.Load() {
		return ErrCoordinatorClosed
	}
	var err error
	c.arena.Compute(documentID, func(s *slot, loaded bool) (*slot, bool) {
		if c.closed.Load() {
			err = ErrCoordinatorClosed
			return s, !loaded
		}
		if !loaded {
			if !create {
				err = newError(CodeLockNotFound, "%s has no connected sessions", documentID)
				return nil, true
			}
			s = c.spawn(documentID)
		}
		if !s.mailbox.Push(&operation{fn: fn}) {
			err = ErrCoordinatorClosed
		}
		return s, false
	})
	return err
}

// spawn creates a slot and starts its actor
func (c *Coordinator) spawn(documentID string) *slot {
	s := &slot{
		doc:     newDocument(documentID, c),
		mailbox: util.NewMailbox[operation](),
	}
	go c.run(s)
	c.logger.Debugf("document %s activated", documentID)
	return s
}

// run is the actor loop of a document
func (c *Coordinator) run(s *slot) {
	for op := range s.mailbox.Recv() {
		op.fn(s.doc)
		s.mailbox.Done()
		if s.doc.disposable() {
			c.retire(s)
		}
	}
}

// retire removes the slot from the arena if no operation is waiting for it.
// The actor loop ends once the closed mailbox is drained.
func (c *Coordinator) retire(s *slot) {
	c.arena.Compute(s.doc.id, func(cur *slot, loaded bool) (*slot, bool) {
		if !loaded || cur != s {
			return cur, !loaded
		}
		if s.mailbox.Pending() > 0 {
			return cur, false
		}
		s.mailbox.Close()
		c.logger.Debugf("document %s retired", s.doc.id)
		return nil, true
	})
}

// result is the reply of a document actor
type result[R any] struct {
	value R
	err   error
}

// call runs fn on the actor of the document and waits for its result.
//
// An operation either runs and its result is returned, or it never runs: when
// ctx ends before the actor picked the operation up, the operation is
// abandoned and ctx.Err() is returned. Once the actor started it, call waits
// for the result since document operations never block.
func call[R any](ctx context.Context, c *Coordinator, documentID string, create bool, fn func(d *document) (R, error)) (R, error) {
	var zero R
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var claim atomic.Int32 // claimFree, claimRunning or claimAbandoned
	reply := make(chan result[R], 1)
	err := c.dispatch(documentID, create, func(d *document) {
		if !claim.CompareAndSwap(claimFree, claimRunning) || ctx.Err() != nil {
			reply <- result[R]{err: ctx.Err()}
			return
		}
		v, err := fn(d)
		reply <- result[R]{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		if claim.CompareAndSwap(claimFree, claimAbandoned) {
			return zero, ctx.Err()
		}
		res := <-reply
		return res.value, res.err
	}
}

// callDetached runs fn on the actor of an existing document in any case and
// waits for its result until ctx ends
func callDetached[R any](ctx context.Context, c *Coordinator, documentID string, fn func(d *document) (R, error)) (R, error) {
	var zero R
	reply := make(chan result[R], 1)
	err := c.dispatch(documentID, false, func(d *document) {
		v, err := fn(d)
		reply <- result[R]{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

const (
	claimFree int32 = iota
	claimRunning
	claimAbandoned
)
