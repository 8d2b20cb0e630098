// Package server implements the RPC server of dEdit. It exposes an edit lock
// coordinator over one of the transports and binds every transport connection
// to at most one edit session.
//
// Session Lifecycle:
//
//   - The first requestEdit of a connection creates a session id and an outbox
//     for the coordinator events and connects the session to the document. The
//     reply carries the session id and a snapshot of the document.
//
//   - All other requests act on the bound session. Requests for another
//     document fail with SessionNotFound, a requestEdit for another document
//     with InvalidTransition.
//
//   - Requests are handled in order. Replies carry the Seq of their request,
//     events are pushed as they occur with Seq 0. The reply of the first
//     requestEdit is written before any event of the session.
//
//   - When the connection closes the session is disconnected, which hands the
//     lock over or releases it if the session was the holder.
//
// Observability:
//
//	MetricsHandler serves the coordinator metrics together with request
//	counts and durations of the RPC layer in prometheus text format,
//	HealthHandler answers 503 once the server is closing. The websocket
//	transport mounts both on its own listener, the stream transports serve
//	them on MetricsEndpoint if configured.
//
// Usage Example:
//
//	coord := lockmgr.NewCoordinator(config.LockConfig(), lockmgr.WithFlusher(flusher))
//	s := server.NewRPCServer(config, ws.NewWSServerTransport(), serializer.NewJSONSerializer(), coord)
//	go func() {
//	  <-ctx.Done()
//	  _ = s.Close()
//	}()
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
package server
