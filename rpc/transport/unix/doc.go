// Package unix implements the transport of the dEdit RPC system over Unix
// domain sockets, for clients running on the same machine as the server
// (for example an application backend proxying its users).
//
// This package only supplies connectors; framing and connection handling
// come from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, removing a stale socket file first
package unix
