package transport

import (
	"errors"

	"github.com/ValentinKolb/dEdit/rpc/common"
)

// ErrClosed is returned by connections and transports after Close
var ErrClosed = errors.New("transport closed")

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// ISessionConn is one bidirectional message stream between a client and the
// server. Recv must only be called from one goroutine, Send is safe for
// concurrent use.
type ISessionConn interface {
	// Recv blocks until the next message arrives. Returns io.EOF once the
	// peer closed the connection.
	Recv() ([]byte, error)
	// Send writes one message
	Send(data []byte) error
	// Close closes the connection, a blocked Recv returns
	Close() error
	// RemoteAddr describes the peer for logging
	RemoteAddr() string
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerSessionFunc is called by a server transport in its own goroutine for
// every accepted connection. The connection is closed once the function returns.
type ServerSessionFunc func(conn ISessionConn)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers the function serving accepted connections
	RegisterHandler(handler ServerSessionFunc)
	// Listen starts the transport layer and blocks until Close is called
	Listen(config common.ServerConfig) error
	// Close stops accepting connections and closes the open ones
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect dials the first reachable endpoint of the configuration
	Connect(config common.ClientConfig) error
	// Send writes one message to the server
	Send(data []byte) error
	// Recv blocks until the server sends a message (reply or event)
	Recv() ([]byte, error)
	// Close closes the transport connection
	Close() error
}
