package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dEdit/lib/lockmgr"
	"github.com/ValentinKolb/dEdit/lib/util"
	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/ValentinKolb/dEdit/rpc/serializer"
	"github.com/ValentinKolb/dEdit/rpc/transport"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

// memConn is an in-memory transport.ISessionConn
type memConn struct {
	in     chan []byte // client to server
	out    chan []byte // server to client
	closed chan struct{}
	once   sync.Once
}

func newMemConn() *memConn {
	return &memConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *memConn) Recv() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *memConn) Send(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return transport.ErrClosed
	}
}

func (c *memConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) RemoteAddr() string { return "mem" }

// testClient drives one connection of the server
type testClient struct {
	t      *testing.T
	conn   *memConn
	ser    serializer.IRPCSerializer
	seq    uint64
	events []common.Message
}

func (c *testClient) read() common.Message {
	c.t.Helper()
	select {
	case data := <-c.conn.out:
		var msg common.Message
		require.NoError(c.t, c.ser.Deserialize(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for a message")
		return common.Message{}
	}
}

// call sends the request and returns its reply. Events read meanwhile are kept.
func (c *testClient) call(req *common.Message) common.Message {
	c.t.Helper()
	c.seq++
	req.Seq = c.seq
	data, err := c.ser.Serialize(*req)
	require.NoError(c.t, err)
	c.conn.in <- data

	for {
		msg := c.read()
		if msg.Seq == c.seq {
			return msg
		}
		c.events = append(c.events, msg)
	}
}

// event returns the next event of the given type
func (c *testClient) event(msgType common.MessageType) common.Message {
	c.t.Helper()
	for i, ev := range c.events {
		if ev.MsgType == msgType {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return ev
		}
	}
	for {
		msg := c.read()
		if msg.MsgType == msgType && msg.Seq == 0 {
			return msg
		}
		c.events = append(c.events, msg)
	}
}

type testServer struct {
	srv   *RPCServer
	coord *lockmgr.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	coord := lockmgr.NewCoordinator(lockmgr.DefaultConfig(),
		lockmgr.WithScheduler(util.NewManualClock[lockmgr.TimerKey](time.Now())))
	t.Cleanup(func() { _ = coord.Close() })

	srv := NewRPCServer(common.ServerConfig{Serializer: "json", TimeoutSecond: 2}, nil, serializer.NewJSONSerializer(), coord)
	return &testServer{srv: srv, coord: coord}
}

func (s *testServer) dial(t *testing.T) *testClient {
	conn := newMemConn()
	go s.srv.handleConnection(conn)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, ser: serializer.NewJSONSerializer()}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestRequestEditCreatesSession tests the first requestEdit of a connection
func TestRequestEditCreatesSession(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t)

	reply := alice.call(common.NewRequestEditRequest("doc", "alice"))
	require.Equal(t, common.MsgTSuccess, reply.MsgType, reply.Err)
	require.NotEmpty(t, reply.SessionID)

	snap, err := reply.DecodeSnapshot()
	require.NoError(t, err)
	require.Equal(t, lockmgr.StateHeldStandard, snap.State)
	require.Equal(t, reply.SessionID, snap.HolderSessionID)

	ev := alice.event(common.MsgTLockAcquired)
	require.Equal(t, "holder", ev.Role)
	require.Equal(t, "alice", ev.HolderMembershipID)

	// a repeated requestEdit keeps the session
	again := alice.call(common.NewRequestEditRequest("doc", "alice"))
	require.Equal(t, reply.SessionID, again.SessionID)

	// the connection is bound to its document
	other := alice.call(common.NewRequestEditRequest("other", "alice"))
	require.Equal(t, common.MsgTError, other.MsgType)
	require.Equal(t, string(lockmgr.CodeInvalidTransition), other.Code)
}

// TestStealOverRPC tests a steal request between two connections
func TestStealOverRPC(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t)
	bob := s.dial(t)

	alice.call(common.NewRequestEditRequest("doc", "alice"))
	reply := bob.call(common.NewRequestEditRequest("doc", "bob"))
	require.Equal(t, common.MsgTSuccess, reply.MsgType, reply.Err)
	require.Equal(t, "viewer", bob.event(common.MsgTLockAcquired).Role)

	steal := bob.call(common.NewRequestStealRequest("doc"))
	require.Equal(t, common.MsgTSuccess, steal.MsgType, steal.Err)
	require.Equal(t, 0, steal.Position)

	requested := alice.event(common.MsgTStealRequested)
	require.Equal(t, "bob", requested.RequesterMembershipID)
	require.Equal(t, 30, requested.CountdownSeconds)
	require.Equal(t, requested.RequestID, bob.event(common.MsgTStealPending).RequestID)

	reject := alice.call(common.NewRejectStealRequest("doc", "almost done"))
	require.Equal(t, common.MsgTSuccess, reject.MsgType, reject.Err)
	require.Equal(t, "almost done", bob.event(common.MsgTStealRejected).Reason)
}

// TestHolderDisconnectHandsOver tests that closing the holder's connection grants the requester
func TestHolderDisconnectHandsOver(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t)
	bob := s.dial(t)

	alice.call(common.NewRequestEditRequest("doc", "alice"))
	bob.call(common.NewRequestEditRequest("doc", "bob"))
	require.Equal(t, "viewer", bob.event(common.MsgTLockAcquired).Role)
	bob.call(common.NewRequestStealRequest("doc"))

	_ = alice.conn.Close()

	require.Eventually(t, func() bool {
		snap, err := s.coord.Status(context.Background(), "doc")
		return err == nil && snap.HolderMembershipID == "bob" && len(snap.Sessions) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "holder", bob.event(common.MsgTLockAcquired).Role)
}

// TestRequestWithoutSession tests requests sent before requestEdit
func TestRequestWithoutSession(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t)

	reply := c.call(common.NewRequestStealRequest("doc"))
	require.Equal(t, common.MsgTError, reply.MsgType)
	require.Equal(t, string(lockmgr.CodeSessionNotFound), reply.Code)
	require.ErrorIs(t, reply.AsError(), lockmgr.ErrSessionNotFound)

	status := c.call(common.NewStatusRequest("doc"))
	require.Equal(t, string(lockmgr.CodeLockNotFound), status.Code)
}

// TestMalformedRequest tests the reply to an undecodable payload
func TestMalformedRequest(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t)

	c.conn.in <- []byte("{not json")
	msg := c.read()
	require.Equal(t, common.MsgTError, msg.MsgType)
	require.NotEmpty(t, msg.Err)

	// the connection stays usable
	reply := c.call(common.NewRequestEditRequest("doc", "alice"))
	require.Equal(t, common.MsgTSuccess, reply.MsgType, reply.Err)
}

// TestMetricsHandler tests the prometheus output of server and coordinator
func TestMetricsHandler(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t)
	c.call(common.NewRequestEditRequest("doc", "alice"))

	rec := httptest.NewRecorder()
	s.srv.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(body, "dedit_rpc_connections_total 1"), body)
	require.True(t, strings.Contains(body, "dedit_active_documents"), body)
	require.True(t, strings.Contains(body, `dedit_rpc_request_duration_seconds_bucket{type="requestEdit"`), body)

	rec = httptest.NewRecorder()
	s.srv.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
