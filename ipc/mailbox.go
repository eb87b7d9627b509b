package ipc

import "github.com/edgeorder/labelreader/types"

// Op is a mailbox operation requested by a worker.
type Op string

// Mailbox operations.
const (
	OpPut     Op = "put"
	OpTake    Op = "take"
	OpIsEmpty Op = "is_empty"
	OpClear   Op = "clear"
)

// Request is sent by a worker to the supervisor-hosted mailbox.
type Request struct {
	Op    Op           `msgpack:"op"`
	Frame *types.Frame `msgpack:"frame,omitempty"`
}

// Reply answers exactly one Request.
//
// OK reports whether put succeeded. Empty reports is_empty, or that take
// found nothing (including lock timeout). Error is set when the mailbox is
// closed or the request was malformed.
type Reply struct {
	OK    bool         `msgpack:"ok"`
	Empty bool         `msgpack:"empty"`
	Frame *types.Frame `msgpack:"frame,omitempty"`
	Error string       `msgpack:"error,omitempty"`
}
