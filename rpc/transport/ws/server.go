package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/ValentinKolb/dEdit/rpc/serializer"
	"github.com/ValentinKolb/dEdit/rpc/transport"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// Path is the http path clients upgrade on
const Path = "/ws"

// ServerTransport serves sessions over websockets. Additional http handlers
// (metrics, health) can be mounted on the same listener with Handle.
type ServerTransport struct {
	handler transport.ServerSessionFunc
	config  common.ServerConfig
	mux     *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool
	conns  *xsync.MapOf[*wsConn, struct{}]
	wg     sync.WaitGroup
}

// NewWSServerTransport creates a new websocket server transport
func NewWSServerTransport() *ServerTransport {
	return &ServerTransport{
		mux:   http.NewServeMux(),
		conns: xsync.NewMapOf[*wsConn, struct{}](),
	}
}

// Handle mounts an additional http handler. Must be called before Listen.
func (t *ServerTransport) Handle(pattern string, handler http.Handler) {
	t.mux.Handle(pattern, handler)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *ServerTransport) RegisterHandler(handler transport.ServerSessionFunc) {
	t.handler = handler
}

func (t *ServerTransport) Listen(config common.ServerConfig) error {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create TCP socket: %v", err)
	}
	return t.Serve(listener, config)
}

// Serve is like Listen but accepts connections on an existing listener
func (t *ServerTransport) Serve(listener net.Listener, config common.ServerConfig) error {
	if t.handler == nil {
		_ = listener.Close()
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	s, ok := serializer.New(config.Serializer)
	if !ok {
		_ = listener.Close()
		return fmt.Errorf("unknown serializer %q", config.Serializer)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}

	if config.LogLevel == "debug" {
		t.mux.HandleFunc(Path, loggerMiddleware(t.upgradeHandler(upgrader, s.Text())))
	} else {
		t.mux.HandleFunc(Path, t.upgradeHandler(upgrader, s.Text()))
	}

	server := &http.Server{
		Handler:           t.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return transport.ErrClosed
	}
	t.server = server
	t.mu.Unlock()

	Logger.Infof("Starting websocket server on %s%s", listener.Addr(), Path)

	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		t.wg.Wait()
		return nil
	}
	return err
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	server := t.server
	t.mu.Unlock()

	var err error
	if server != nil {
		err = server.Close()
	}
	// hijacked connections are not closed by the http server
	t.conns.Range(func(c *wsConn, _ struct{}) bool {
		_ = c.Close()
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// upgradeHandler upgrades the request and runs the session handler on the connection
func (t *ServerTransport) upgradeHandler(upgrader websocket.Upgrader, text bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an http error
			Logger.Warningf("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}

		c := newConn(conn, text, t.config.Timeout(), true)
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = c.Close()
			return
		}
		t.wg.Add(1)
		t.conns.Store(c, struct{}{})
		t.mu.Unlock()
		defer func() {
			t.conns.Delete(c)
			_ = c.Close()
			t.wg.Done()
		}()

		Logger.Debugf("Accepted websocket connection from %s", c.RemoteAddr())
		t.handler(c)
		Logger.Debugf("Websocket connection from %s closed", c.RemoteAddr())
	}
}

// originChecker accepts requests without Origin header, same host requests
// and the configured origins ("*" accepts every origin)
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// loggerMiddleware is a middleware that logs http requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		Logger.Debugf("%s %s from %s took %s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	}
}
