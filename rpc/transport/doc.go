// Package transport defines the interfaces and abstractions for RPC communication
// in dEdit. Every transport carries a bidirectional stream of messages per client:
// replies to requests and coordinator events share the same connection, so the
// server can push events at any time.
//
// Key Components:
//
//   - ISessionConn: One connection with a blocking Recv and a concurrency safe Send.
//
//   - IRPCServerTransport: Accepts connections and hands each one to the
//     registered ServerSessionFunc.
//
//   - IRPCClientTransport: Client side of a connection, dialing one of the
//     configured endpoints.
//
// Implementations live in the sub packages: base (length prefixed frames over
// any net.Conn), tcp and unix (connectors for base) and ws (websocket frames,
// used by browser clients).
package transport
