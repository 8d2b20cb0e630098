package server

import (
	"errors"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/ValentinKolb/dEdit/rpc/serializer"
	"github.com/ValentinKolb/dEdit/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// RPCServer exposes a coordinator over a transport. Every accepted connection
// can carry one edit session.
type RPCServer struct {
	config      common.ServerConfig
	transport   transport.IRPCServerTransport
	serializer  serializer.IRPCSerializer
	coordinator ICoordinator
	metrics     *serverMetrics

	closing       atomic.Bool
	metricsServer *http.Server
	closeOnce     sync.Once
}

// NewRPCServer creates a new RPC server
// It takes a config, transport, serializer and the coordinator as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		ws.NewWSServerTransport(),
//		serializer.NewJSONSerializer(),
//		lockmgr.NewCoordinator(config.LockConfig()),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	coordinator ICoordinator,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if config.OutboxSize <= 0 {
		config.OutboxSize = coordinator.Config().OutboxSize
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:      config,
		transport:   transport,
		serializer:  serializer,
		coordinator: coordinator,
		metrics:     newServerMetrics(),
	}
}

// Serve starts the transport and blocks until Close is called
func (s *RPCServer) Serve() error {
	s.transport.RegisterHandler(s.handleConnection)

	if mounter, ok := s.transport.(httpMounter); ok {
		// transports serving http get the handlers on their own listener
		mounter.Handle("/metrics", s.MetricsHandler())
		mounter.Handle("/healthz", s.HealthHandler())
	} else if s.config.MetricsEndpoint != "" {
		s.startMetricsServer()
	}

	return s.transport.Listen(s.config)
}

// Close stops the transport, which disconnects every session, then the coordinator
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.transport.Close()
		if s.metricsServer != nil {
			_ = s.metricsServer.Close()
		}
		err = errors.Join(err, s.coordinator.Close())
		Logger.Infof("RPC Server stopped")
	})
	return err
}

// MetricsHandler serves the coordinator and server metrics in prometheus text format
func (s *RPCServer) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.coordinator.WritePrometheus(w)
		s.metrics.writePrometheus(w)
	})
}

// HealthHandler answers 200 while the server runs and 503 once it is closing
func (s *RPCServer) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.closing.Load() {
			http.Error(w, "closing", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection serves one transport connection
func (s *RPCServer) handleConnection(conn transport.ISessionConn) {
	s.metrics.connections.Inc()
	newSession(s, conn).serve()
}

// startMetricsServer serves metrics and health on a separate endpoint
func (s *RPCServer) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.MetricsHandler())
	mux.Handle("/healthz", s.HealthHandler())

	s.metricsServer = &http.Server{
		Addr:              s.config.MetricsEndpoint,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		Logger.Infof("Serving metrics on %s", s.config.MetricsEndpoint)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics server failed: %v", err)
		}
	}()
}
