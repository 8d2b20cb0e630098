// Package rpc provides the communication layer between dEdit clients and the
// coordination server. A client connection is a long lived session: requests
// and their replies travel on the same stream as the lock events the
// coordinator pushes to the session.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (WebSocket, TCP, Unix sockets).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: EditClient, a session bound to one document that exposes the lock
//     operations as methods and the coordinator events as a channel.
//
//   - server: RPC server that binds every connection to a coordinator session,
//     relays its events and exposes metrics and health endpoints.
package rpc
