package base

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/ValentinKolb/dEdit/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// IClientUpgrader is optionally implemented by connectors that apply
// protocol-specific settings to a dialed connection
type IClientUpgrader interface {
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig

	mu   sync.RWMutex
	conn *frameConn
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	t.config = config

	// Close an existing connection
	_ = t.Close()

	// We always try at least once
	attempts := config.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var lastErr error
	for i := 0; i < attempts; i++ {
		for _, endpoint := range config.Endpoints {
			conn, err := t.dial(endpoint)
			if err != nil {
				lastErr = err
				Logger.Debugf("Connect attempt %d/%d to %s failed: %v", i+1, attempts, endpoint, err)
				continue
			}

			t.mu.Lock()
			t.conn = newFrameConn(conn, config.Timeout())
			t.mu.Unlock()

			Logger.Infof("Connected to %s using %s transport", endpoint, t.connector.GetName())
			return nil
		}

		if i < attempts-1 {
			// Exponential backoff with a small random jitter (+-10%)
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

func (t *clientTransport) current() *frameConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// dial connects to the endpoint and applies protocol-specific settings
func (t *clientTransport) dial(endpoint string) (net.Conn, error) {
	conn, err := t.connector.Connect(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", endpoint, err)
	}

	if upgrader, ok := t.connector.(IClientUpgrader); ok {
		if err := upgrader.UpgradeConnection(conn, t.config); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to upgrade connection to %s: %v", endpoint, err)
		}
	}
	return conn, nil
}
