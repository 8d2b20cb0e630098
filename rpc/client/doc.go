// Package client implements the RPC client of dEdit. An EditClient represents
// one edit session: it owns one transport connection, correlates replies to
// requests by sequence number and delivers the events pushed by the server on
// a channel.
//
// Key Components:
//
//   - EditClient: Lock operations of the session (RequestEdit, RequestSteal,
//     AcceptSteal, RejectSteal, CancelSteal, RequestCollabJoin,
//     RevertToStandard) and Status for any document. Coordinator errors are
//     returned as *lockmgr.Error and match the lockmgr sentinels with errors.Is.
//
//   - Events: Channel of lockmgr.Event. It is buffered; when the application
//     does not drain it, further events are dropped with a warning. The
//     channel is closed once the connection ends.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:8080"},
//	  Transport:     "ws",
//	  Serializer:    "json",
//	  Membership:    "alice",
//	  TimeoutSecond: 5,
//	}
//	c, err := client.NewEditClient(config, ws.NewWSClientTransport(), serializer.NewJSONSerializer())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	snap, err := c.RequestEdit(ctx, "spec-42")
//	for ev := range c.Events() {
//	  if ev.Kind == lockmgr.EventStealRequested {
//	    _ = c.AcceptSteal(ctx)
//	  }
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Requests of one client are
//	handled by the server in the order they were written.
package client
