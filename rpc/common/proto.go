package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dEdit/lib/lockmgr"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for client requests, replies and
// coordinator events. Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Seq correlates a reply with its request. Events carry 0.
	Seq uint64 `json:"seq,omitempty"`

	// Addressing
	DocumentID   string `json:"documentId,omitempty"`   // Used for: all requests and events
	MembershipID string `json:"membershipId,omitempty"` // Used for: requestEdit, revertToStandard
	SessionID    string `json:"sessionId,omitempty"`    // Used for: requestEdit reply
	RequestID    string `json:"requestId,omitempty"`    // Used for: steal events

	// Event payload
	Reason                string `json:"reason,omitempty"`                // Used for: rejectSteal, steal-rejected
	Mode                  string `json:"mode,omitempty"`                  // Used for: lock-acquired, collab-mode-changed
	Role                  string `json:"role,omitempty"`                  // Used for: lock-acquired, collab-mode-changed
	HolderMembershipID    string `json:"holderMembershipId,omitempty"`    // Used for: lock-acquired, steal-pending
	RequesterMembershipID string `json:"requesterMembershipId,omitempty"` // Used for: steal-requested
	Position              int    `json:"position"`                        // Used for: requestSteal reply, queue-position-update
	CountdownSeconds      int    `json:"countdownSeconds,omitempty"`      // Used for: steal-pending, steal-cleanup

	// Error fields
	Code string `json:"code,omitempty"` // lockmgr error code
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message

	// Snapshot of the document, json encoded (requestEdit and status replies)
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

// --------------------------------------------------------------------------
// Request Factory Functions
// --------------------------------------------------------------------------

// NewRequestEditRequest creates a request to connect to a document
func NewRequestEditRequest(documentID, membershipID string) *Message {
	return &Message{
		MsgType:      MsgTRequestEdit,
		DocumentID:   documentID,
		MembershipID: membershipID,
	}
}

// NewRequestStealRequest creates a steal request
func NewRequestStealRequest(documentID string) *Message {
	return &Message{MsgType: MsgTRequestSteal, DocumentID: documentID}
}

// NewAcceptStealRequest creates the holder's acceptance of the active steal request
func NewAcceptStealRequest(documentID string) *Message {
	return &Message{MsgType: MsgTAcceptSteal, DocumentID: documentID}
}

// NewRejectStealRequest creates the holder's rejection of the active steal request
func NewRejectStealRequest(documentID, reason string) *Message {
	return &Message{MsgType: MsgTRejectSteal, DocumentID: documentID, Reason: reason}
}

// NewCancelStealRequest creates the requester's withdrawal of its steal request
func NewCancelStealRequest(documentID string) *Message {
	return &Message{MsgType: MsgTCancelSteal, DocumentID: documentID}
}

// NewRequestCollabJoinRequest creates a request to switch to or join collab mode
func NewRequestCollabJoinRequest(documentID string) *Message {
	return &Message{MsgType: MsgTRequestCollabJoin, DocumentID: documentID}
}

// NewRevertToStandardRequest creates a request to end collab mode
func NewRevertToStandardRequest(documentID string) *Message {
	return &Message{MsgType: MsgTRevertToStandard, DocumentID: documentID}
}

// NewStatusRequest creates a request for the snapshot of a document
func NewStatusRequest(documentID string) *Message {
	return &Message{MsgType: MsgTStatus, DocumentID: documentID}
}

// --------------------------------------------------------------------------
// Reply Factory Functions
// --------------------------------------------------------------------------

// NewSuccessResponse creates a positive reply to the request with sequence number seq
func NewSuccessResponse(seq uint64) *Message {
	return &Message{MsgType: MsgTSuccess, Seq: seq}
}

// NewSnapshotResponse creates a reply carrying a document snapshot
func NewSnapshotResponse(seq uint64, snap lockmgr.Snapshot) *Message {
	msg := &Message{
		MsgType:    MsgTSuccess,
		Seq:        seq,
		DocumentID: snap.DocumentID,
	}
	if data, err := json.Marshal(snap); err == nil {
		msg.Snapshot = data
	}
	return msg
}

// NewErrorResponse creates a new Error response. Coordinator errors keep their code.
func NewErrorResponse(seq uint64, documentID string, err error) *Message {
	return &Message{
		MsgType:    MsgTError,
		Seq:        seq,
		DocumentID: documentID,
		Code:       string(lockmgr.CodeOf(err)),
		Err:        err.Error(),
	}
}

// DecodeSnapshot decodes the snapshot of a reply
func (m *Message) DecodeSnapshot() (lockmgr.Snapshot, error) {
	var snap lockmgr.Snapshot
	if len(m.Snapshot) == 0 {
		return snap, fmt.Errorf("message carries no snapshot")
	}
	err := json.Unmarshal(m.Snapshot, &snap)
	return snap, err
}

// AsError returns the error carried by an error message, nil otherwise.
// Coordinator errors are restored as *lockmgr.Error.
func (m *Message) AsError() error {
	if m.MsgType != MsgTError {
		return nil
	}
	if m.Code != "" && m.Code != string(lockmgr.CodeInternal) {
		return &lockmgr.Error{Code: lockmgr.Code(m.Code), Msg: m.Err}
	}
	return fmt.Errorf("%s", m.Err)
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

var eventTypes = map[lockmgr.EventKind]MessageType{
	lockmgr.EventLockAcquired:        MsgTLockAcquired,
	lockmgr.EventLockReleased:        MsgTLockReleased,
	lockmgr.EventStealRequested:      MsgTStealRequested,
	lockmgr.EventStealPending:        MsgTStealPending,
	lockmgr.EventQueuePositionUpdate: MsgTQueuePositionUpdate,
	lockmgr.EventStealRejected:       MsgTStealRejected,
	lockmgr.EventStealCleanup:        MsgTStealCleanup,
	lockmgr.EventStealWithdrawn:      MsgTStealWithdrawn,
	lockmgr.EventStealExpired:        MsgTStealExpired,
	lockmgr.EventCollabModeChanged:   MsgTCollabModeChanged,
	lockmgr.EventError:               MsgTError,
}

// NewEventMessage converts a coordinator event into a message
func NewEventMessage(ev lockmgr.Event) *Message {
	msgType, ok := eventTypes[ev.Kind]
	if !ok {
		msgType = MsgTUnknown
	}
	return &Message{
		MsgType:               msgType,
		DocumentID:            ev.DocumentID,
		RequestID:             ev.RequestID,
		Reason:                ev.Reason,
		Mode:                  string(ev.Mode),
		Role:                  string(ev.Role),
		HolderMembershipID:    ev.HolderMembershipID,
		RequesterMembershipID: ev.RequesterMembershipID,
		Position:              ev.Position,
		CountdownSeconds:      ev.CountdownSeconds,
		Code:                  string(ev.Code),
		Err:                   ev.Msg,
	}
}

// Event converts an event message back into a coordinator event.
// Returns false for requests and replies.
func (m *Message) Event() (lockmgr.Event, bool) {
	if !m.MsgType.IsEvent() {
		return lockmgr.Event{}, false
	}
	var kind lockmgr.EventKind
	for k, t := range eventTypes {
		if t == m.MsgType {
			kind = k
			break
		}
	}
	return lockmgr.Event{
		Kind:                  kind,
		DocumentID:            m.DocumentID,
		RequestID:             m.RequestID,
		Reason:                m.Reason,
		Mode:                  lockmgr.Mode(m.Mode),
		Role:                  lockmgr.Role(m.Role),
		HolderMembershipID:    m.HolderMembershipID,
		RequesterMembershipID: m.RequesterMembershipID,
		Position:              m.Position,
		CountdownSeconds:      m.CountdownSeconds,
		Code:                  lockmgr.Code(m.Code),
		Msg:                   m.Err,
	}, true
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTUnknown:             "unknown",
	MsgTSuccess:             "success",
	MsgTError:               "error",
	MsgTRequestEdit:         "requestEdit",
	MsgTRequestSteal:        "requestSteal",
	MsgTAcceptSteal:         "acceptSteal",
	MsgTRejectSteal:         "rejectSteal",
	MsgTCancelSteal:         "cancelSteal",
	MsgTRequestCollabJoin:   "requestCollabJoin",
	MsgTRevertToStandard:    "revertToStandard",
	MsgTStatus:              "status",
	MsgTLockAcquired:        string(lockmgr.EventLockAcquired),
	MsgTLockReleased:        string(lockmgr.EventLockReleased),
	MsgTStealRequested:      string(lockmgr.EventStealRequested),
	MsgTStealPending:        string(lockmgr.EventStealPending),
	MsgTQueuePositionUpdate: string(lockmgr.EventQueuePositionUpdate),
	MsgTStealRejected:       string(lockmgr.EventStealRejected),
	MsgTStealCleanup:        string(lockmgr.EventStealCleanup),
	MsgTStealWithdrawn:      string(lockmgr.EventStealWithdrawn),
	MsgTStealExpired:        string(lockmgr.EventStealExpired),
	MsgTCollabModeChanged:   string(lockmgr.EventCollabModeChanged),
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsEvent reports whether messages of this type are pushed by the coordinator.
// Error messages are replies when Seq is set and events otherwise.
func (t MessageType) IsEvent() bool {
	return t == MsgTError || (t >= MsgTLockAcquired && t <= MsgTCollabModeChanged)
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Client requests

	MsgTRequestEdit       // Connect to a document (or re-acquire an unheld lock)
	MsgTRequestSteal      // Ask the holder for the lock
	MsgTAcceptSteal       // Holder accepts the active request
	MsgTRejectSteal       // Holder rejects the active request
	MsgTCancelSteal       // Requester withdraws its request
	MsgTRequestCollabJoin // Switch to or join collab mode
	MsgTRevertToStandard  // End collab mode
	MsgTStatus            // Read the document snapshot

	// Coordinator events

	MsgTLockAcquired
	MsgTLockReleased
	MsgTStealRequested
	MsgTStealPending
	MsgTQueuePositionUpdate
	MsgTStealRejected
	MsgTStealCleanup
	MsgTStealWithdrawn
	MsgTStealExpired
	MsgTCollabModeChanged
)
