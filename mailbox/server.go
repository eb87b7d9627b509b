package mailbox

import (
	"context"
	"fmt"
	"io"

	"github.com/edgeorder/labelreader/ipc"
	"github.com/edgeorder/labelreader/log"
)

// Server answers one worker's mailbox requests against a shared Mailbox.
type Server struct {
	box    *Mailbox
	logger *log.Logger
}

// NewServer creates a server bound to box.
func NewServer(box *Mailbox, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	return &Server{box: box, logger: logger}
}

// Serve reads requests from r and writes one reply per request to w.
// It returns nil when r reaches EOF or ctx is done, and an error when the
// stream is corrupt or a reply cannot be written.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := ipc.NewFrameDecoder(r)
	enc := ipc.NewFrameEncoder(w)

	for {
		if ctx.Err() != nil {
			return nil
		}

		var req ipc.Request
		err := dec.Decode(&req)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				return fmt.Errorf("mailbox stream: %w", err)
			}
			s.logger.Warn("malformed mailbox request", map[string]any{"error": err.Error()})
			if err := enc.Encode(ipc.Reply{Empty: true, Error: err.Error()}); err != nil {
				return fmt.Errorf("mailbox reply: %w", err)
			}
			continue
		}

		if err := enc.Encode(s.handle(req)); err != nil {
			return fmt.Errorf("mailbox reply: %w", err)
		}
	}
}

func (s *Server) handle(req ipc.Request) ipc.Reply {
	if s.box.Closed() {
		return ipc.Reply{Empty: true, Error: ErrClosed.Error()}
	}

	switch req.Op {
	case ipc.OpPut:
		if req.Frame == nil {
			return ipc.Reply{Error: "put without frame"}
		}
		return ipc.Reply{OK: s.box.Put(*req.Frame)}
	case ipc.OpTake:
		frame, ok := s.box.Take()
		if !ok {
			return ipc.Reply{Empty: true}
		}
		return ipc.Reply{OK: true, Frame: &frame}
	case ipc.OpIsEmpty:
		return ipc.Reply{OK: true, Empty: s.box.IsEmpty()}
	case ipc.OpClear:
		s.box.Clear()
		return ipc.Reply{OK: true, Empty: true}
	default:
		return ipc.Reply{Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}
