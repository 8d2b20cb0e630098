package unix

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"

	"github.com/ValentinKolb/dEdit/rpc/transport"
	"github.com/ValentinKolb/dEdit/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

// Connect dials the socket of a local dEdit server. The endpoint is a socket
// path, optionally written as unix:///path.
func (c *clientConnector) Connect(endpoint string) (net.Conn, error) {
	path := socketPath(endpoint)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no dEdit server socket at %s (is 'dedit serve --transport unix' running?)", path)
	}
	return net.Dial("unix", path)
}

// socketPath strips an optional unix:// scheme from the endpoint
func socketPath(endpoint string) string {
	return strings.TrimPrefix(endpoint, "unix://")
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewUnixClientTransport creates a new Unix client transport
func NewUnixClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}
