package ws

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/ValentinKolb/dEdit/rpc/serializer"
	"github.com/ValentinKolb/dEdit/rpc/transport"
	"github.com/gorilla/websocket"
)

// clientTransport implements transport.IRPCClientTransport over a websocket
type clientTransport struct {
	dialer *websocket.Dialer

	mu   sync.RWMutex
	conn *wsConn
}

// NewWSClientTransport creates a new websocket client transport
func NewWSClientTransport() transport.IRPCClientTransport {
	return &clientTransport{
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	s, ok := serializer.New(config.Serializer)
	if !ok {
		return fmt.Errorf("unknown serializer %q", config.Serializer)
	}

	_ = t.Close()

	attempts := config.RetryCount
	if attempts < 1 {
		attempts = 1
	}
	backoffMs := 50

	var lastErr error
	for i := 0; i < attempts; i++ {
		for _, endpoint := range config.Endpoints {
			conn, _, err := t.dialer.Dial(endpointURL(endpoint), nil)
			if err != nil {
				lastErr = err
				Logger.Debugf("Connect attempt %d/%d to %s failed: %v", i+1, attempts, endpoint, err)
				continue
			}

			t.mu.Lock()
			// the server pings, the default ping handler answers
			t.conn = newConn(conn, s.Text(), config.Timeout(), false)
			t.mu.Unlock()

			Logger.Infof("Connected to %s using ws transport", endpoint)
			return nil
		}

		if i < attempts-1 {
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}

	return fmt.Errorf("failed to connect after %d attempts: %v", attempts, lastErr)
}

func (t *clientTransport) Send(data []byte) error {
	conn := t.current()
	if conn == nil {
		return transport.ErrClosed
	}
	return conn.Send(data)
}

func (t *clientTransport) Recv() ([]byte, error) {
	conn := t.current()
	if conn == nil {
		return nil, transport.ErrClosed
	}
	return conn.Recv()
}

func (t *clientTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *clientTransport) current() *wsConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// endpointURL turns host:port into a websocket url, full urls are kept
func endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	return "ws://" + endpoint + Path
}
