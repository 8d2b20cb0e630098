package lockmgr

import (
	"time"
)

// --------------------------------------------------------------------------
// Enumerations
// --------------------------------------------------------------------------

// Mode is the editing mode of a held lock
type Mode string

const (
	ModeStandard Mode = "standard" // single writer
	ModeCollab   Mode = "collab"   // every connected editor may write
)

// LockState is the state of the per-document lock state machine
type LockState string

const (
	StateUnheld       LockState = "unheld"
	StateHeldStandard LockState = "held-standard"
	StateHeldCollab   LockState = "held-collab"
)

// Role is the role of a session within its document
type Role string

const (
	RoleHolder    Role = "holder"    // may write (sole holder in standard mode, co-editor in collab mode)
	RoleViewer    Role = "viewer"    // read only
	RoleRequester Role = "requester" // read only with a pending steal request
)

// StealStatus is the status of a steal request
type StealStatus string

const (
	StealQueued    StealStatus = "queued"
	StealStealing  StealStatus = "stealing"
	StealCleanup   StealStatus = "cleanup"
	StealGranted   StealStatus = "granted"
	StealRejected  StealStatus = "rejected"
	StealExpired   StealStatus = "expired"
	StealCancelled StealStatus = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s StealStatus) Terminal() bool {
	switch s {
	case StealGranted, StealRejected, StealExpired, StealCancelled:
		return true
	default:
		return false
	}
}

// Phase identifies the timed phase a countdown belongs to
type Phase string

const (
	PhaseSteal   Phase = "steal"
	PhaseCleanup Phase = "cleanup"
)

// TimerKey identifies a scheduled countdown. A key is only ever valid for the
// phase of the request that scheduled it.
type TimerKey struct {
	DocumentID string
	RequestID  string
	Phase      Phase
}

// --------------------------------------------------------------------------
// Entities
// --------------------------------------------------------------------------

// DocumentLock is the lock of one document with at least one connected session.
// HolderSessionID and HolderMembershipID are empty in collab mode.
type DocumentLock struct {
	DocumentID         string    `json:"documentId"`
	Mode               Mode      `json:"mode"`
	HolderSessionID    string    `json:"holderSessionId,omitempty"`
	HolderMembershipID string    `json:"holderMembershipId,omitempty"`
	AcquiredAt         time.Time `json:"acquiredAt"`
}

// State returns the state machine state of the lock. A nil lock is unheld.
func (l *DocumentLock) State() LockState {
	switch {
	case l == nil:
		return StateUnheld
	case l.Mode == ModeCollab:
		return StateHeldCollab
	default:
		return StateHeldStandard
	}
}

// EditSession is one connected client
type EditSession struct {
	SessionID    string    `json:"sessionId"`
	MembershipID string    `json:"membershipId"`
	DocumentID   string    `json:"documentId"`
	Role         Role      `json:"role"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// StealRequest is a request to preempt the current holder.
// QueuePosition 0 is the request currently in the timeout protocol.
type StealRequest struct {
	ID                    string      `json:"id"`
	DocumentID            string      `json:"documentId"`
	RequesterSessionID    string      `json:"requesterSessionId"`
	RequesterMembershipID string      `json:"requesterMembershipId"`
	Status                StealStatus `json:"status"`
	QueuePosition         int         `json:"queuePosition"`
	Deadline              time.Time   `json:"deadline,omitempty"`
	CreatedAt             time.Time   `json:"createdAt"`
}

// Snapshot is a read-only copy of the state of one document
type Snapshot struct {
	DocumentID         string         `json:"documentId"`
	State              LockState      `json:"state"`
	Mode               Mode           `json:"mode,omitempty"`
	HolderSessionID    string         `json:"holderSessionId,omitempty"`
	HolderMembershipID string         `json:"holderMembershipId,omitempty"`
	AcquiredAt         time.Time      `json:"acquiredAt,omitempty"`
	Sessions           []EditSession  `json:"sessions"`
	Queue              []StealRequest `json:"queue"`
}

// Editors returns the sessions that currently may write
func (s Snapshot) Editors() []EditSession {
	var editors []EditSession
	for _, sess := range s.Sessions {
		if sess.Role == RoleHolder {
			editors = append(editors, sess)
		}
	}
	return editors
}

// Session returns the session with the given id
func (s Snapshot) Session(sessionID string) (EditSession, bool) {
	for _, sess := range s.Sessions {
		if sess.SessionID == sessionID {
			return sess, true
		}
	}
	return EditSession{}, false
}
