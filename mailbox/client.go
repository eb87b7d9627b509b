package mailbox

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/edgeorder/labelreader/ipc"
	"github.com/edgeorder/labelreader/types"
)

// Client is a worker-side Box backed by the supervisor's Mailbox.
//
// Transport failures are sticky: once the stream breaks every operation
// fails and Err reports the cause, so the worker can escalate.
type Client struct {
	mu  sync.Mutex
	enc *ipc.FrameEncoder
	dec *ipc.FrameDecoder
	err error
}

var _ Box = (*Client)(nil)

// NewClient creates a client reading replies from r and writing requests to w.
func NewClient(r io.Reader, w io.Writer) *Client {
	return &Client{
		enc: ipc.NewFrameEncoder(w),
		dec: ipc.NewFrameDecoder(r),
	}
}

func (c *Client) roundTrip(req ipc.Request) (ipc.Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return ipc.Reply{}, false
	}
	if err := c.enc.Encode(req); err != nil {
		c.err = fmt.Errorf("mailbox %s request: %w", req.Op, err)
		return ipc.Reply{}, false
	}

	var reply ipc.Reply
	if err := c.dec.Decode(&reply); err != nil {
		if errors.Is(err, io.EOF) || ipc.IsFatalFrameError(err) {
			c.err = fmt.Errorf("mailbox %s reply: %w", req.Op, err)
		}
		return ipc.Reply{}, false
	}
	if reply.Error == ErrClosed.Error() {
		c.err = ErrClosed
		return reply, false
	}
	return reply, reply.Error == ""
}

// Put sends frame to the mailbox.
func (c *Client) Put(frame types.Frame) bool {
	reply, ok := c.roundTrip(ipc.Request{Op: ipc.OpPut, Frame: &frame})
	return ok && reply.OK
}

// Take fetches the pending frame, if any.
func (c *Client) Take() (types.Frame, bool) {
	reply, ok := c.roundTrip(ipc.Request{Op: ipc.OpTake})
	if !ok || reply.Frame == nil {
		return types.Frame{}, false
	}
	return *reply.Frame, true
}

// IsEmpty reports whether the mailbox holds no frame.
// A failed request reports empty.
func (c *Client) IsEmpty() bool {
	reply, ok := c.roundTrip(ipc.Request{Op: ipc.OpIsEmpty})
	return !ok || reply.Empty
}

// Clear drops any pending frame.
func (c *Client) Clear() {
	c.roundTrip(ipc.Request{Op: ipc.OpClear})
}

// Err returns the transport error that disabled the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
