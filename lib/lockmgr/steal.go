package lockmgr

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dEdit/lib/util"
)

// stealCoordinator owns the countdowns and the content flush of the request
// running the steal protocol of one document. A document has at most one such
// request, it is always the head of the queue.
type stealCoordinator struct {
	documentID string
	scheduler  util.Scheduler[TimerKey]

	flushRequestID string
	flushCancel    context.CancelFunc
}

func newStealCoordinator(documentID string, scheduler util.Scheduler[TimerKey]) *stealCoordinator {
	return &stealCoordinator{
		documentID: documentID,
		scheduler:  scheduler,
	}
}

func (s *stealCoordinator) key(requestID string, phase Phase) TimerKey {
	return TimerKey{DocumentID: s.documentID, RequestID: requestID, Phase: phase}
}

// arm sets the deadline of req and schedules fire for it
func (s *stealCoordinator) arm(req *StealRequest, phase Phase, window time.Duration, fire func()) {
	req.Deadline = s.scheduler.Now().Add(window)
	s.scheduler.Schedule(s.key(req.ID, phase), req.Deadline, fire)
}

// disarm cancels everything running on behalf of req
func (s *stealCoordinator) disarm(req *StealRequest) {
	s.scheduler.Cancel(s.key(req.ID, PhaseSteal))
	s.scheduler.Cancel(s.key(req.ID, PhaseCleanup))
	if s.flushRequestID == req.ID {
		s.flushCancel()
		s.flushRequestID, s.flushCancel = "", nil
	}
}

// startFlush runs the flusher in its own goroutine and reports the result to done
func (s *stealCoordinator) startFlush(req *StealRequest, flusher ContentFlusher, holderMembershipID string, window time.Duration, done func(error)) {
	ctx, cancel := context.WithTimeout(context.Background(), window)
	s.flushRequestID, s.flushCancel = req.ID, cancel

	go func() {
		defer cancel()
		done(flusher.Flush(ctx, s.documentID, holderMembershipID))
	}()
}

// flushing reports whether the flush of the request is still running
func (s *stealCoordinator) flushing(requestID string) bool {
	return s.flushRequestID == requestID
}

func (s *stealCoordinator) flushFinished(requestID string) {
	if s.flushRequestID == requestID {
		s.flushCancel()
		s.flushRequestID, s.flushCancel = "", nil
	}
}

// --------------------------------------------------------------------------
// Protocol transitions (run on the document actor)
// --------------------------------------------------------------------------

// promote starts the countdown for the head of the queue if it is waiting
func (d *document) promote() {
	head, ok := d.queue.Head()
	if !ok || head.Status != StealQueued || d.lock.State() != StateHeldStandard {
		return
	}

	requestID := head.ID
	window := d.env.config.StealWindow
	head.Status = StealStealing
	d.steal.arm(head, PhaseSteal, window, func() {
		d.env.post(d.id, func(d *document) { d.onStealDeadline(requestID) })
	})

	d.env.bus.Send(d.lock.HolderSessionID, Event{
		Kind:                  EventStealRequested,
		DocumentID:            d.id,
		RequestID:             requestID,
		RequesterMembershipID: head.RequesterMembershipID,
		CountdownSeconds:      seconds(window),
	})
	d.env.bus.Send(head.RequesterSessionID, Event{
		Kind:               EventStealPending,
		DocumentID:         d.id,
		RequestID:          requestID,
		HolderMembershipID: d.lock.HolderMembershipID,
		CountdownSeconds:   seconds(window),
	})
}

// enterCleanup starts the hand-off of the active request
func (d *document) enterCleanup(req *StealRequest) {
	requestID := req.ID
	window := d.env.config.CleanupWindow

	d.steal.scheduler.Cancel(d.steal.key(requestID, PhaseSteal))
	req.Status = StealCleanup
	d.steal.arm(req, PhaseCleanup, window, func() {
		d.env.post(d.id, func(d *document) { d.onCleanupDeadline(requestID) })
	})

	d.env.bus.Publish(d.sessions, Event{
		Kind:                  EventStealCleanup,
		DocumentID:            d.id,
		RequestID:             requestID,
		HolderMembershipID:    d.lock.HolderMembershipID,
		RequesterMembershipID: req.RequesterMembershipID,
		CountdownSeconds:      seconds(window),
	})

	if d.env.flusher != nil {
		d.steal.startFlush(req, d.env.flusher, d.lock.HolderMembershipID, window, func(err error) {
			d.env.post(d.id, func(d *document) { d.onFlushDone(requestID, err) })
		})
	}
}

// inPhase returns the head request if it still is requestID in the given status.
// Timer and flush results that lost a race with another transition fail this check.
func (d *document) inPhase(requestID string, status StealStatus) (*StealRequest, bool) {
	head, ok := d.queue.Head()
	if !ok || head.ID != requestID || head.Status != status {
		return nil, false
	}
	return head, true
}

// onStealDeadline treats a holder that did not answer as accepting
func (d *document) onStealDeadline(requestID string) {
	req, ok := d.inPhase(requestID, StealStealing)
	if !ok {
		d.env.logger.Debugf("ignoring stale steal deadline of %s", requestID)
		return
	}
	d.env.logger.Infof("%s did not answer steal %s in time, starting hand-off", d.lock.HolderMembershipID, requestID)
	d.enterCleanup(req)
}

func (d *document) onCleanupDeadline(requestID string) {
	req, ok := d.inPhase(requestID, StealCleanup)
	if !ok {
		d.env.logger.Debugf("ignoring stale cleanup deadline of %s", requestID)
		return
	}
	if d.steal.flushing(requestID) {
		d.env.metrics.cleanupTimeouts.Inc()
		d.env.logger.Warningf("CleanupTimeout: flush of %s for %s did not finish, transferring anyway", d.id, d.lock.HolderMembershipID)
	}
	d.grant(req)
}

func (d *document) onFlushDone(requestID string, err error) {
	req, ok := d.inPhase(requestID, StealCleanup)
	if !ok || !d.steal.flushing(requestID) {
		return
	}
	d.steal.flushFinished(requestID)

	switch {
	case err == nil:
		d.grant(req)
	case errors.Is(err, context.DeadlineExceeded):
		d.env.metrics.cleanupTimeouts.Inc()
		d.env.logger.Warningf("CleanupTimeout: flush of %s for %s did not finish, transferring anyway", d.id, d.lock.HolderMembershipID)
		d.grant(req)
	default:
		d.env.logger.Warningf("flush of %s for %s failed, waiting for cleanup deadline: %v", d.id, d.lock.HolderMembershipID, err)
	}
}

// grant transfers the lock to the requester of the head request
func (d *document) grant(req *StealRequest) {
	d.steal.disarm(req)
	_, shifted, _ := d.queue.DequeueHead()

	// the previous holder may already be gone
	d.sessions.SetRole(d.lock.HolderSessionID, RoleViewer)
	d.sessions.SetRole(req.RequesterSessionID, RoleHolder)
	d.lock = &DocumentLock{
		DocumentID:         d.id,
		Mode:               ModeStandard,
		HolderSessionID:    req.RequesterSessionID,
		HolderMembershipID: req.RequesterMembershipID,
		AcquiredAt:         d.now(),
	}
	d.finish(req, StealGranted)

	d.publishLockAcquired()
	d.notifyPositions(shifted)
	d.promote()
}

// dropRequest ends the request of a requester that disconnected
func (d *document) dropRequest(req *StealRequest) {
	status := StealCancelled
	var notify EventKind
	switch req.Status {
	case StealCleanup:
		status, notify = StealExpired, EventStealExpired
	case StealStealing:
		notify = EventStealWithdrawn
	}

	d.steal.disarm(req)
	_, shifted, _ := d.queue.Remove(req.ID)
	d.finish(req, status)

	if notify != "" {
		d.env.bus.Send(d.lock.HolderSessionID, Event{
			Kind:                  notify,
			DocumentID:            d.id,
			RequestID:             req.ID,
			RequesterMembershipID: req.RequesterMembershipID,
		})
	}
	d.notifyPositions(shifted)
	d.promote()
}

// finish records the terminal status of a request that left the queue
func (d *document) finish(req *StealRequest, status StealStatus) {
	req.Status = status
	d.env.metrics.outcome(status, req.CreatedAt, d.now())
	d.env.logger.Infof("steal %s of %s by %s: %s", req.ID, d.id, req.RequesterMembershipID, status)
}
