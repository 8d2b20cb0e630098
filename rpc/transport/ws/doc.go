// Package ws implements the websocket transport of the dEdit RPC system using
// gorilla/websocket. It is the transport for browser clients: every session
// is one websocket on the /ws path, carrying requests, replies and events.
//
// Messages of the json serializer are sent as text frames, all others as
// binary frames. The server pings every 30 seconds and drops connections
// that stay silent for a minute, which disconnects their edit sessions.
//
// ServerTransport exposes Handle to mount further http handlers on the same
// listener; the server uses it for /metrics and /healthz. The origin check
// accepts requests without Origin header, same host requests and the
// configured AllowedOrigins.
package ws
