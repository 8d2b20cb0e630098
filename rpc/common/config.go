package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dEdit/lib/lockmgr"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a dEdit server.
type ServerConfig struct {
	// Transport settings
	Endpoint   string
	Transport  string // ws, tcp or unix
	Serializer string // json, gob or binary

	// write timeout of a connection, 0 disables it
	TimeoutSecond int64

	// TCP socket options
	TCPNoDelay      bool
	TCPKeepAliveSec int

	// Origins accepted by the websocket transport besides the server's own host
	AllowedOrigins []string

	// Lock coordination
	StealWindowSecond   int64
	CleanupWindowSecond int64
	OutboxSize          int

	// Collaborators
	FlushURL    string // webhook called during cleanup, empty disables flushing
	MembersFile string // static ACL, empty allows every membership

	// Observability
	MetricsEndpoint string // separate http endpoint for /metrics (tcp and unix transports)
	LogLevel        string
}

// LockConfig converts the server configuration into the coordinator configuration
func (c *ServerConfig) LockConfig() lockmgr.Config {
	return lockmgr.Config{
		StealWindow:   time.Duration(c.StealWindowSecond) * time.Second,
		CleanupWindow: time.Duration(c.CleanupWindowSecond) * time.Second,
		OutboxSize:    c.OutboxSize,
	}
}

// Timeout returns the write timeout of a connection
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	orNone := func(value string) string {
		if value == "" {
			return "-"
		}
		return value
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.Transport == "tcp" {
		addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	}
	if c.Transport == "ws" {
		addField("Allowed Origins", orNone(strings.Join(c.AllowedOrigins, ", ")))
	}

	// Lock settings
	addSection("Edit Locks")
	addField("Steal Window", fmt.Sprintf("%d sec", c.StealWindowSecond))
	addField("Cleanup Window", fmt.Sprintf("%d sec", c.CleanupWindowSecond))
	addField("Outbox Size", strconv.Itoa(c.OutboxSize))
	addField("Flush Webhook", orNone(c.FlushURL))
	addField("Members File", orNone(c.MembersFile))

	// Logging configuration
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	addField("Metrics Endpoint", orNone(c.MetricsEndpoint))

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	Transport     string
	Serializer    string
	Membership    string
	TimeoutSecond int
	RetryCount    int
}

// Timeout returns the timeout of a single request
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Membership", c.Membership)
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
