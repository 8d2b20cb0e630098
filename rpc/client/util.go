package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// invoke sends a request and waits for its reply. Error replies are returned
// as error, coordinator errors as *lockmgr.Error.
func (c *EditClient) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	if _, ok := ctx.Deadline(); !ok && c.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout())
		defer cancel()
	}

	// Register the reply channel before sending
	req.Seq = c.seq.Add(1)
	replyCh := make(chan *common.Message, 1)
	c.pending.Store(req.Seq, replyCh)
	defer c.pending.Delete(req.Seq)

	// Serialize the request
	reqBytes, err := c.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	if err := c.transport.Send(reqBytes); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.MsgType, err)
	}

	// Wait for the reply
	select {
	case resp := <-replyCh:
		if err := resp.AsError(); err != nil {
			return nil, err
		}
		if resp.MsgType != common.MsgTSuccess {
			return nil, fmt.Errorf("unexpected reply type %s to %s", resp.MsgType, req.MsgType)
		}
		return resp, nil
	case <-c.done:
		return nil, fmt.Errorf("connection closed while waiting for %s: %w", req.MsgType, c.closeErr())
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", req.MsgType, ctx.Err())
	}
}
