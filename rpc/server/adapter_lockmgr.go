package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dEdit/lib/lockmgr"
	"github.com/ValentinKolb/dEdit/rpc/common"
)

// handle translates one request of the session into a coordinator call and
// returns the reply. It runs on the reading goroutine of the session.
func (s *session) handle(ctx context.Context, req *common.Message) *common.Message {
	coord := s.server.coordinator

	// requests other than requestEdit and status act on the bound session
	documentID := req.DocumentID
	if documentID == "" {
		documentID = s.documentID
	}

	switch req.MsgType {
	case common.MsgTRequestEdit:
		return s.requestEdit(ctx, req)

	case common.MsgTStatus:
		snap, err := coord.Status(ctx, documentID)
		if err != nil {
			return common.NewErrorResponse(req.Seq, documentID, err)
		}
		return common.NewSnapshotResponse(req.Seq, snap)
	}

	if err := s.bound(documentID); err != nil {
		return common.NewErrorResponse(req.Seq, documentID, err)
	}

	var err error
	switch req.MsgType {
	case common.MsgTRequestSteal:
		var position int
		position, err = coord.RequestSteal(ctx, documentID, s.id)
		if err == nil {
			resp := common.NewSuccessResponse(req.Seq)
			resp.DocumentID = documentID
			resp.Position = position
			return resp
		}
	case common.MsgTAcceptSteal:
		err = coord.AcceptSteal(ctx, documentID, s.id)
	case common.MsgTRejectSteal:
		err = coord.RejectSteal(ctx, documentID, s.id, req.Reason)
	case common.MsgTCancelSteal:
		err = coord.CancelSteal(ctx, documentID, s.id)
	case common.MsgTRequestCollabJoin:
		err = coord.RequestCollabJoin(ctx, documentID, s.id)
	case common.MsgTRevertToStandard:
		err = coord.RevertToStandard(ctx, documentID, s.membershipID)
	default:
		err = fmt.Errorf("unsupported message type: %s", req.MsgType)
	}

	if err != nil {
		return common.NewErrorResponse(req.Seq, documentID, err)
	}
	resp := common.NewSuccessResponse(req.Seq)
	resp.DocumentID = documentID
	return resp
}

// requestEdit connects the session to a document. The first requestEdit of a
// connection creates the session, later ones re-acquire an unheld lock.
func (s *session) requestEdit(ctx context.Context, req *common.Message) *common.Message {
	if s.id != "" && req.DocumentID != s.documentID {
		return common.NewErrorResponse(req.Seq, req.DocumentID, fmt.Errorf("%w: connection is bound to document %s",
			lockmgr.ErrInvalidTransition, s.documentID))
	}
	if s.id != "" && req.MembershipID != "" && req.MembershipID != s.membershipID {
		return common.NewErrorResponse(req.Seq, req.DocumentID, fmt.Errorf("%w: connection is bound to membership %s",
			lockmgr.ErrInvalidTransition, s.membershipID))
	}

	sessionID, membershipID, outbox := s.id, s.membershipID, s.outbox
	if sessionID == "" {
		sessionID = lockmgr.NewSessionID()
		membershipID = req.MembershipID
		outbox = lockmgr.NewOutbox(s.server.config.OutboxSize)
	}

	snap, err := s.server.coordinator.Connect(ctx, req.DocumentID, membershipID, sessionID, outbox)
	if err != nil {
		return common.NewErrorResponse(req.Seq, req.DocumentID, err)
	}

	if s.id == "" {
		s.id, s.documentID, s.membershipID, s.outbox = sessionID, req.DocumentID, membershipID, outbox
		s.server.metrics.sessions.Inc()
		Logger.Debugf("Session %s of %s connected to %s from %s", s.id, s.membershipID, s.documentID, s.conn.RemoteAddr())
	}

	resp := common.NewSnapshotResponse(req.Seq, snap)
	resp.SessionID = s.id
	return resp
}

// bound checks that the connection carries a session of the document
func (s *session) bound(documentID string) error {
	if s.id == "" {
		return fmt.Errorf("%w: send requestEdit first", lockmgr.ErrSessionNotFound)
	}
	if documentID != s.documentID {
		return fmt.Errorf("%w: connection is bound to document %s", lockmgr.ErrSessionNotFound, s.documentID)
	}
	return nil
}
