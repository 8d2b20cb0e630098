package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dEdit/lib/lockmgr"
	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/ValentinKolb/dEdit/rpc/serializer"
	"github.com/ValentinKolb/dEdit/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// defaultEventBuffer is used when the coordinator's outbox size is unknown
const defaultEventBuffer = 256

// EditClient is the client side of one edit session. It connects the
// transport on creation; RequestEdit binds the connection to a document and
// all other lock operations act on that document.
type EditClient struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer

	seq     atomic.Uint64
	pending *xsync.MapOf[uint64, chan *common.Message]
	events  chan lockmgr.Event

	mu         sync.RWMutex
	documentID string
	sessionID  string

	done      chan struct{}
	closeOnce sync.Once
	err       error // set before done is closed
}

// NewEditClient connects the transport and starts reading from it
//
// Usage:
//
//	c, err := client.NewEditClient(config, ws.NewWSClientTransport(), serializer.NewJSONSerializer())
//	snap, err := c.RequestEdit(ctx, "spec-42")
//	for ev := range c.Events() {
//		...
//	}
func NewEditClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*EditClient, error) {
	if config.Membership == "" {
		return nil, fmt.Errorf("membership id is required")
	}
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	c := &EditClient{
		config:     config,
		transport:  transport,
		serializer: serializer,
		pending:    xsync.NewMapOf[uint64, chan *common.Message](),
		events:     make(chan lockmgr.Event, defaultEventBuffer),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// --------------------------------------------------------------------------
// Session Operations
// --------------------------------------------------------------------------

// RequestEdit connects the session to a document (or re-acquires an unheld lock)
func (c *EditClient) RequestEdit(ctx context.Context, documentID string) (lockmgr.Snapshot, error) {
	resp, err := c.invoke(ctx, common.NewRequestEditRequest(documentID, c.config.Membership))
	if err != nil {
		return lockmgr.Snapshot{}, err
	}

	c.mu.Lock()
	c.documentID, c.sessionID = documentID, resp.SessionID
	c.mu.Unlock()

	return resp.DecodeSnapshot()
}

// RequestSteal asks the holder for the lock and returns the queue position
func (c *EditClient) RequestSteal(ctx context.Context) (int, error) {
	resp, err := c.invoke(ctx, common.NewRequestStealRequest(c.DocumentID()))
	if err != nil {
		return 0, err
	}
	return resp.Position, nil
}

// AcceptSteal hands the lock to the active requester
func (c *EditClient) AcceptSteal(ctx context.Context) error {
	_, err := c.invoke(ctx, common.NewAcceptStealRequest(c.DocumentID()))
	return err
}

// RejectSteal refuses the active request
func (c *EditClient) RejectSteal(ctx context.Context, reason string) error {
	_, err := c.invoke(ctx, common.NewRejectStealRequest(c.DocumentID(), reason))
	return err
}

// CancelSteal withdraws the own request
func (c *EditClient) CancelSteal(ctx context.Context) error {
	_, err := c.invoke(ctx, common.NewCancelStealRequest(c.DocumentID()))
	return err
}

// RequestCollabJoin switches the document to collab mode or joins it
func (c *EditClient) RequestCollabJoin(ctx context.Context) error {
	_, err := c.invoke(ctx, common.NewRequestCollabJoinRequest(c.DocumentID()))
	return err
}

// RevertToStandard ends collab mode with this client's membership as holder
func (c *EditClient) RevertToStandard(ctx context.Context) error {
	_, err := c.invoke(ctx, common.NewRevertToStandardRequest(c.DocumentID()))
	return err
}

// Status returns the snapshot of any document
func (c *EditClient) Status(ctx context.Context, documentID string) (lockmgr.Snapshot, error) {
	resp, err := c.invoke(ctx, common.NewStatusRequest(documentID))
	if err != nil {
		return lockmgr.Snapshot{}, err
	}
	return resp.DecodeSnapshot()
}

// Events returns the coordinator events of the session. The channel is
// closed when the connection ends.
func (c *EditClient) Events() <-chan lockmgr.Event {
	return c.events
}

// DocumentID returns the bound document, empty before RequestEdit
func (c *EditClient) DocumentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.documentID
}

// Membership returns the membership id the session acts as
func (c *EditClient) Membership() string {
	return c.config.Membership
}

// SessionID returns the session id assigned by the server
func (c *EditClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Done is closed when the connection ended
func (c *EditClient) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection, the server disconnects the session
func (c *EditClient) Close() error {
	err := c.transport.Close()
	<-c.done
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readLoop routes replies to their callers and events to the event channel
func (c *EditClient) readLoop() {
	defer close(c.events)

	for {
		data, err := c.transport.Recv()
		if err != nil {
			c.finish(err)
			return
		}

		msg := &common.Message{}
		if err := c.serializer.Deserialize(data, msg); err != nil {
			Logger.Warningf("Dropping undecodable message: %v", err)
			continue
		}

		if msg.Seq != 0 {
			if replyCh, ok := c.pending.Load(msg.Seq); ok {
				replyCh <- msg
			} else {
				Logger.Debugf("Reply %d to %s arrived after its caller gave up", msg.Seq, msg.DocumentID)
			}
			continue
		}

		ev, ok := msg.Event()
		if !ok {
			Logger.Warningf("Dropping message of type %s without sequence number", msg.MsgType)
			continue
		}
		select {
		case c.events <- ev:
		default:
			Logger.Warningf("Event buffer full, dropping %s for %s", ev.Kind, ev.DocumentID)
		}
	}
}

func (c *EditClient) finish(err error) {
	c.closeOnce.Do(func() {
		if errors.Is(err, io.EOF) {
			Logger.Infof("Server closed the connection")
		} else if !errors.Is(err, transport.ErrClosed) {
			Logger.Debugf("Connection ended: %v", err)
		}
		c.err = err
		close(c.done)
	})
}

func (c *EditClient) closeErr() error {
	<-c.done
	return c.err
}
