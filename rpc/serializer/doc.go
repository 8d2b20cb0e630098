// Package serializer provides message serialization for the dEdit RPC system.
// It defines a common interface and multiple implementations for encoding the
// requests, replies and coordinator events exchanged between client and server.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//     Text reports whether the encoding is printable, which decides the websocket
//     frame type.
//
//   - binarySerializerImpl: Custom binary format. A two byte flag field marks the
//     present fields so that only those are written. Events usually fill three or
//     four fields, which keeps them small.
//
//   - gobSerializerImpl: Implementation using Go's gob encoding. Larger payloads
//     and slower than binary, kept for compatibility with Go-only peers.
//
//   - jsonSerializerImpl: Implementation using JSON encoding. The message type is
//     written by name, which makes it the natural choice for browser clients
//     talking to the websocket transport.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, ok := serializer.New("binary")
//	data, err := s.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = s.Deserialize(receivedData, &receivedMsg)
package serializer
