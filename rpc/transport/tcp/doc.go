// Package tcp implements the TCP socket transport of the dEdit RPC system by
// supplying connectors for the base package. Accepted connections get the
// configured TCP_NODELAY and keep-alive options.
package tcp
