package lockmgr

import (
	"time"
)

// document is the lock state of one document together with its sessions and
// steal queue. It is owned by the document actor: every method runs on the
// actor goroutine, one operation at a time.
type document struct {
	id       string
	lock     *DocumentLock // nil while unheld
	sessions *SessionRegistry
	queue    *QueueScheduler
	steal    *stealCoordinator
	env      *Coordinator
}

func newDocument(id string, env *Coordinator) *document {
	return &document{
		id:       id,
		sessions: newSessionRegistry(),
		queue:    newQueueScheduler(),
		steal:    newStealCoordinator(id, env.scheduler),
		env:      env,
	}
}

func (d *document) now() time.Time {
	return d.env.scheduler.Now()
}

// disposable reports whether the document slot can be retired
func (d *document) disposable() bool {
	return d.sessions.Len() == 0 && d.queue.Len() == 0
}

func (d *document) snapshot() Snapshot {
	snap := Snapshot{
		DocumentID: d.id,
		State:      d.lock.State(),
		Sessions:   d.sessions.List(),
		Queue:      d.queue.List(),
	}
	if d.lock != nil {
		snap.Mode = d.lock.Mode
		snap.HolderSessionID = d.lock.HolderSessionID
		snap.HolderMembershipID = d.lock.HolderMembershipID
		snap.AcquiredAt = d.lock.AcquiredAt
	}
	return snap
}

// --------------------------------------------------------------------------
// Sessions
// --------------------------------------------------------------------------

func (d *document) connect(membershipID, sessionID string) (Snapshot, error) {
	if existing, ok := d.sessions.Get(sessionID); ok {
		if existing.MembershipID != membershipID {
			return Snapshot{}, newError(CodeInvalidTransition, "session %s belongs to another membership", sessionID)
		}
		// requestEdit of a connected session: re-acquire an unheld lock
		if d.lock == nil {
			d.acquire(sessionID)
		}
		return d.snapshot(), nil
	}

	sess := EditSession{
		SessionID:    sessionID,
		MembershipID: membershipID,
		DocumentID:   d.id,
		ConnectedAt:  d.now(),
	}

	switch d.lock.State() {
	case StateUnheld:
		sess.Role = RoleHolder
		d.sessions.Add(sess)
		d.acquire(sessionID)

	case StateHeldStandard:
		sess.Role = RoleViewer
		d.sessions.Add(sess)
		d.env.bus.Send(sessionID, Event{
			Kind:               EventLockAcquired,
			DocumentID:         d.id,
			HolderMembershipID: d.lock.HolderMembershipID,
			Mode:               ModeStandard,
			Role:               RoleViewer,
		})

	case StateHeldCollab:
		sess.Role = RoleHolder
		d.sessions.Add(sess)
		d.env.bus.Send(sessionID, Event{
			Kind:       EventCollabModeChanged,
			DocumentID: d.id,
			Mode:       ModeCollab,
			Role:       RoleHolder,
		})
	}

	d.env.logger.Debugf("session %s (%s) joined %s as %s", sessionID, membershipID, d.id, sess.Role)
	return d.snapshot(), nil
}

func (d *document) disconnect(sessionID string) error {
	sess, ok := d.sessions.Remove(sessionID)
	if !ok {
		return newError(CodeSessionNotFound, "session %s is not connected to %s", sessionID, d.id)
	}
	d.env.logger.Debugf("session %s left %s", sessionID, d.id)

	if req, ok := d.queue.FindByRequester(sessionID); ok {
		d.dropRequest(req)
	}

	if d.lock == nil || sess.Role != RoleHolder {
		return nil
	}

	switch d.lock.Mode {
	case ModeStandard:
		// hand over without countdown, the holder is gone
		if head, ok := d.queue.Head(); ok {
			d.grant(head)
		} else {
			d.release()
		}
	case ModeCollab:
		d.editorLeft()
	}
	return nil
}

// editorLeft shrinks a collab lock after an editor disconnected
func (d *document) editorLeft() {
	editors := d.sessions.WithRole(RoleHolder)
	switch len(editors) {
	case 0:
		d.release()
	case 1:
		d.lock = &DocumentLock{
			DocumentID:         d.id,
			Mode:               ModeStandard,
			HolderSessionID:    editors[0].SessionID,
			HolderMembershipID: editors[0].MembershipID,
			AcquiredAt:         d.now(),
		}
		d.publishModeChanged()
		d.publishLockAcquired()
	}
}

// acquire makes a connected session the standard holder of the document
func (d *document) acquire(sessionID string) {
	sess, _ := d.sessions.Get(sessionID)
	for _, other := range d.sessions.WithRole(RoleHolder) {
		if other.SessionID != sessionID {
			d.sessions.SetRole(other.SessionID, RoleViewer)
		}
	}
	d.sessions.SetRole(sessionID, RoleHolder)
	d.lock = &DocumentLock{
		DocumentID:         d.id,
		Mode:               ModeStandard,
		HolderSessionID:    sessionID,
		HolderMembershipID: sess.MembershipID,
		AcquiredAt:         d.now(),
	}
	d.env.logger.Infof("%s acquired by %s", d.id, sess.MembershipID)
	d.publishLockAcquired()
}

// release drops the lock, remaining sessions stay connected as viewers
func (d *document) release() {
	d.lock = nil
	d.env.logger.Infof("%s released", d.id)
	d.env.bus.Publish(d.sessions, Event{Kind: EventLockReleased, DocumentID: d.id})
}

// --------------------------------------------------------------------------
// Steal requests
// --------------------------------------------------------------------------

func (d *document) requestSteal(sessionID string) (int, error) {
	sess, ok := d.sessions.Get(sessionID)
	if !ok {
		return 0, newError(CodeSessionNotFound, "session %s is not connected to %s", sessionID, d.id)
	}
	switch d.lock.State() {
	case StateUnheld:
		return 0, newError(CodeLockNotFound, "%s is not locked", d.id)
	case StateHeldCollab:
		return 0, newError(CodeInvalidTransition, "%s is in collab mode", d.id)
	}
	if d.lock.HolderSessionID == sessionID {
		return 0, newError(CodeInvalidTransition, "session %s already holds %s", sessionID, d.id)
	}

	// a repeated request keeps its place
	if req, ok := d.queue.FindByRequester(sessionID); ok {
		return req.QueuePosition, nil
	}

	req := &StealRequest{
		ID:                    newRequestID(),
		DocumentID:            d.id,
		RequesterSessionID:    sessionID,
		RequesterMembershipID: sess.MembershipID,
		Status:                StealQueued,
		CreatedAt:             d.now(),
	}
	pos := d.queue.Enqueue(req)
	d.sessions.SetRole(sessionID, RoleRequester)
	d.env.metrics.stealRequests.Inc()
	d.env.logger.Infof("%s requested %s from %s (position %d)", sess.MembershipID, d.id, d.lock.HolderMembershipID, pos)

	if pos == 0 {
		d.promote()
	} else {
		d.env.bus.Send(sessionID, Event{
			Kind:       EventQueuePositionUpdate,
			DocumentID: d.id,
			RequestID:  req.ID,
			Position:   pos,
		})
	}
	return pos, nil
}

// activeRequestFor returns the request awaiting an answer of the holder session
func (d *document) activeRequestFor(holderSessionID string) (*StealRequest, error) {
	switch d.lock.State() {
	case StateUnheld:
		return nil, newError(CodeLockNotFound, "%s is not locked", d.id)
	case StateHeldCollab:
		return nil, newError(CodeInvalidTransition, "%s is in collab mode", d.id)
	}
	if d.lock.HolderSessionID != holderSessionID {
		return nil, newError(CodeInvalidTransition, "session %s does not hold %s", holderSessionID, d.id)
	}
	head, ok := d.queue.Head()
	if !ok || head.Status != StealStealing {
		return nil, newError(CodeInvalidTransition, "no steal request of %s awaits an answer", d.id)
	}
	return head, nil
}

func (d *document) acceptSteal(sessionID string) error {
	req, err := d.activeRequestFor(sessionID)
	if err != nil {
		return err
	}
	d.env.logger.Infof("%s accepted steal %s", d.lock.HolderMembershipID, req.ID)
	d.enterCleanup(req)
	return nil
}

func (d *document) rejectSteal(sessionID, reason string) error {
	req, err := d.activeRequestFor(sessionID)
	if err != nil {
		return err
	}
	d.steal.disarm(req)
	_, shifted, _ := d.queue.DequeueHead()
	d.sessions.SetRole(req.RequesterSessionID, RoleViewer)
	d.finish(req, StealRejected)

	d.env.bus.Send(req.RequesterSessionID, Event{
		Kind:       EventStealRejected,
		DocumentID: d.id,
		RequestID:  req.ID,
		Reason:     reason,
	})
	d.notifyPositions(shifted)
	d.promote()
	return nil
}

func (d *document) cancelSteal(sessionID string) error {
	if _, ok := d.sessions.Get(sessionID); !ok {
		return newError(CodeSessionNotFound, "session %s is not connected to %s", sessionID, d.id)
	}
	req, ok := d.queue.FindByRequester(sessionID)
	if !ok {
		return newError(CodeInvalidTransition, "session %s has no steal request for %s", sessionID, d.id)
	}
	if req.Status == StealCleanup {
		return newError(CodeInvalidTransition, "hand-off of %s already started", d.id)
	}

	wasActive := req.Status == StealStealing
	d.steal.disarm(req)
	_, shifted, _ := d.queue.Remove(req.ID)
	d.sessions.SetRole(sessionID, RoleViewer)
	d.finish(req, StealCancelled)

	if wasActive {
		d.env.bus.Send(d.lock.HolderSessionID, Event{
			Kind:                  EventStealWithdrawn,
			DocumentID:            d.id,
			RequestID:             req.ID,
			RequesterMembershipID: req.RequesterMembershipID,
		})
	}
	d.notifyPositions(shifted)
	d.promote()
	return nil
}

// --------------------------------------------------------------------------
// Collab mode
// --------------------------------------------------------------------------

func (d *document) requestCollabJoin(sessionID string) error {
	sess, ok := d.sessions.Get(sessionID)
	if !ok {
		return newError(CodeSessionNotFound, "session %s is not connected to %s", sessionID, d.id)
	}

	switch d.lock.State() {
	case StateUnheld:
		return newError(CodeInvalidTransition, "%s is not locked", d.id)

	case StateHeldCollab:
		d.sessions.SetRole(sessionID, RoleHolder)
		d.env.bus.Send(sessionID, Event{
			Kind:       EventCollabModeChanged,
			DocumentID: d.id,
			Mode:       ModeCollab,
			Role:       RoleHolder,
		})
		return nil
	}

	if head, ok := d.queue.Head(); ok && head.Status == StealCleanup {
		return newError(CodeInvalidTransition, "hand-off of %s in progress", d.id)
	}

	// pending requesters get write access anyway
	for _, req := range d.queue.Clear() {
		d.steal.disarm(req)
		d.sessions.SetRole(req.RequesterSessionID, RoleHolder)
		d.finish(req, StealCancelled)
	}
	d.sessions.SetRole(sessionID, RoleHolder)
	d.lock = &DocumentLock{
		DocumentID: d.id,
		Mode:       ModeCollab,
		AcquiredAt: d.now(),
	}
	d.env.logger.Infof("%s switched to collab mode by %s", d.id, sess.MembershipID)
	d.publishModeChanged()
	return nil
}

func (d *document) revertToStandard(initiatingMembershipID string) error {
	if d.lock.State() != StateHeldCollab {
		return newError(CodeInvalidTransition, "%s is not in collab mode", d.id)
	}

	var initiator *EditSession
	editors := d.sessions.WithRole(RoleHolder)
	for i := range editors {
		if editors[i].MembershipID == initiatingMembershipID {
			initiator = &editors[i]
			break
		}
	}
	if initiator == nil {
		return newError(CodeInvalidTransition, "%s is not an editor of %s", initiatingMembershipID, d.id)
	}

	for _, e := range editors {
		if e.SessionID != initiator.SessionID {
			d.sessions.SetRole(e.SessionID, RoleViewer)
		}
	}
	d.lock = &DocumentLock{
		DocumentID:         d.id,
		Mode:               ModeStandard,
		HolderSessionID:    initiator.SessionID,
		HolderMembershipID: initiator.MembershipID,
		AcquiredAt:         d.now(),
	}
	d.env.logger.Infof("%s reverted to standard mode by %s", d.id, initiatingMembershipID)
	d.publishModeChanged()
	d.publishLockAcquired()
	return nil
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

// publishLockAcquired tells every session who holds the lock and its own role
func (d *document) publishLockAcquired() {
	for _, s := range d.sessions.List() {
		d.env.bus.Send(s.SessionID, Event{
			Kind:               EventLockAcquired,
			DocumentID:         d.id,
			HolderMembershipID: d.lock.HolderMembershipID,
			Mode:               d.lock.Mode,
			Role:               s.Role,
		})
	}
}

func (d *document) publishModeChanged() {
	for _, s := range d.sessions.List() {
		d.env.bus.Send(s.SessionID, Event{
			Kind:       EventCollabModeChanged,
			DocumentID: d.id,
			Mode:       d.lock.Mode,
			Role:       s.Role,
		})
	}
}

// notifyPositions informs requests whose queue position moved
func (d *document) notifyPositions(shifted []*StealRequest) {
	for _, req := range shifted {
		d.env.bus.Send(req.RequesterSessionID, Event{
			Kind:       EventQueuePositionUpdate,
			DocumentID: d.id,
			RequestID:  req.ID,
			Position:   req.QueuePosition,
		})
	}
}
