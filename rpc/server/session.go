package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/dEdit/lib/lockmgr"
	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/ValentinKolb/dEdit/rpc/transport"
)

// session binds one transport connection to at most one edit session.
// Requests are handled in order on the reading goroutine, events are pumped
// from the outbox by a second goroutine.
type session struct {
	server *RPCServer
	conn   transport.ISessionConn

	// set by the first successful requestEdit
	id           string
	documentID   string
	membershipID string
	outbox       *lockmgr.Outbox

	done        chan struct{}
	pumpRunning bool // only touched by the reading goroutine
	pumpWG      sync.WaitGroup
}

func newSession(server *RPCServer, conn transport.ISessionConn) *session {
	return &session{
		server: server,
		conn:   conn,
		done:   make(chan struct{}),
	}
}

// serve reads requests until the connection fails, then disconnects the edit session
func (s *session) serve() {
	defer s.close()

	for {
		data, err := s.conn.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, transport.ErrClosed) {
				Logger.Debugf("Reading from %s failed: %v", s.conn.RemoteAddr(), err)
			}
			return
		}

		var req common.Message
		if err := s.server.serializer.Deserialize(data, &req); err != nil {
			s.server.metrics.badRequests.Inc()
			s.send(common.NewErrorResponse(0, "", err))
			continue
		}

		start := time.Now()
		resp := s.call(&req)
		s.server.metrics.observe(req.MsgType, resp, start)

		if !s.send(resp) {
			return
		}

		// the reply to the first requestEdit precedes the events it caused
		if s.outbox != nil && !s.pumpRunning {
			s.pumpRunning = true
			s.pumpWG.Add(1)
			go s.pump()
		}
	}
}

// call runs the request with the configured timeout
func (s *session) call(req *common.Message) *common.Message {
	ctx := context.Background()
	if timeout := s.server.config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.handle(ctx, req)
}

// send serializes and writes a message. Returns false if the connection failed.
func (s *session) send(msg *common.Message) bool {
	data, err := s.server.serializer.Serialize(*msg)
	if err != nil {
		Logger.Errorf("Failed to serialize %s for %s: %v", msg.MsgType, s.conn.RemoteAddr(), err)
		return true
	}
	if err := s.conn.Send(data); err != nil {
		Logger.Debugf("Writing to %s failed: %v", s.conn.RemoteAddr(), err)
		return false
	}
	return true
}

// --------------------------------------------------------------------------
// Event pump
// --------------------------------------------------------------------------

// pump forwards coordinator events of the session to the connection
func (s *session) pump() {
	defer s.pumpWG.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.outbox.Events():
			if !s.send(common.NewEventMessage(ev)) {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// close disconnects the edit session and stops the pump
func (s *session) close() {
	close(s.done)
	s.pumpWG.Wait()

	if s.id == "" {
		return
	}
	s.server.metrics.sessions.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.coordinator.Disconnect(ctx, s.id); err != nil && !errors.Is(err, lockmgr.ErrCoordinatorClosed) {
		Logger.Warningf("Failed to disconnect session %s: %v", s.id, err)
	}
	Logger.Debugf("Session %s of %s left %s", s.id, s.membershipID, s.documentID)
}
