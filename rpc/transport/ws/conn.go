package ws

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// pongWait is the time allowed to read the next pong from the peer
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait
	pingPeriod = 30 * time.Second
	// writeWait is the default time allowed to write a message
	writeWait = 10 * time.Second
	// maxMessageSize bounds a single incoming message
	maxMessageSize = 64 * 1024
)

// wsConn implements transport.ISessionConn on top of a websocket connection
type wsConn struct {
	conn         *websocket.Conn
	messageType  int // websocket.TextMessage or websocket.BinaryMessage
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// newConn wraps conn. With keepalive set the connection pings the peer and
// closes itself when no pong arrives within pongWait.
func newConn(conn *websocket.Conn, text bool, writeTimeout time.Duration, keepalive bool) *wsConn {
	c := &wsConn{
		conn:         conn,
		messageType:  websocket.BinaryMessage,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	if text {
		c.messageType = websocket.TextMessage
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = writeWait
	}

	conn.SetReadLimit(maxMessageSize)
	if keepalive {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.pingLoop()
	}
	return c
}

func (c *wsConn) Recv() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					Logger.Debugf("Websocket of %s closed unexpectedly: %v", c.RemoteAddr(), err)
				}
				return nil, io.EOF
			}
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(c.messageType, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// WriteControl may run concurrently with other writes
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// pingLoop pings the peer until the connection is closed
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				Logger.Debugf("Ping to %s failed: %v", c.RemoteAddr(), err)
				_ = c.Close()
				return
			}
		}
	}
}
