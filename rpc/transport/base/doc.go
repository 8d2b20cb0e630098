// Package base provides the foundation for stream based transports of dEdit,
// implementing the framing and connection handling independent of the network
// protocol (TCP, Unix sockets). Protocol packages only supply a connector.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations.
//     Connectors may additionally implement IClientUpgrader or IConnectionUpgrader
//     to tune dialed or accepted connections (socket options).
//
//   - frameConn: transport.ISessionConn over a net.Conn. Every message is written
//     as a frame with a 4 byte big endian length followed by the payload. Writes
//     are serialized by a mutex and bounded by the configured write timeout.
//
//   - serverTransport: Accepts connections and runs the registered handler for
//     each one in its own goroutine. Close stops the listener, closes all open
//     connections and lets Listen return once the handlers finished.
//
//   - clientTransport: Dials the configured endpoints in order with retries and
//     exponential backoff, and keeps a single connection.
//
// Thread Safety:
//
//	Send is safe for concurrent use. Recv must be called from a single goroutine
//	per connection, which is how both the server session and the client read loop
//	use it.
package base
