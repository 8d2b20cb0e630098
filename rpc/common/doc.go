// Package common provides core data structures and utilities shared across
// the dEdit RPC system. It defines the wire message, the configuration
// structures of server and client and the logging setup.
//
// Key Components:
//
//   - Message: Core data structure for all communication between client and
//     server. Requests, replies and coordinator events share one flat
//     structure, the MsgType decides which fields are used. Replies carry the
//     Seq of their request, events carry Seq 0.
//
//   - MessageType: Enumeration of all requests (requestEdit, requestSteal, ...),
//     the two reply types (success, error) and the coordinator events
//     (lock-acquired, steal-pending, ...). In JSON it is written as its name.
//
//   - ServerConfig / ClientConfig: Configuration of the server and client
//     components, bound to flags and environment variables by the cmd package.
//
//   - Logger: Custom logging implementation plugged into the dragonboat
//     logger registry, giving every component a named logger with a
//     consistent format.
package common
