package server

import (
	"io"
	"net/http"

	"github.com/ValentinKolb/dEdit/lib/lockmgr"
)

// ICoordinator is the coordinator served by the RPC server. Besides the lock
// operations it must expose its metrics.
type ICoordinator interface {
	lockmgr.ICoordinator
	// Config returns the effective coordinator configuration
	Config() lockmgr.Config
	// WritePrometheus writes the coordinator metrics in prometheus text format
	WritePrometheus(w io.Writer)
}

// httpMounter is implemented by transports that serve http themselves (ws).
// The server mounts its metrics and health handlers on them.
type httpMounter interface {
	Handle(pattern string, handler http.Handler)
}
