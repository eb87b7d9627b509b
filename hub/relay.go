package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/gorilla/websocket"
)

// RelayErrorKind classifies relay failures.
type RelayErrorKind int

// Relay error kinds. Values are part of the wire text echoed to senders.
const (
	ConnectionClosed   RelayErrorKind = 1
	SendCancelled      RelayErrorKind = 2
	NoClientsConnected RelayErrorKind = 3
)

func (k RelayErrorKind) String() string {
	switch k {
	case ConnectionClosed:
		return "ConnectionClosed"
	case SendCancelled:
		return "SendCancelled"
	case NoClientsConnected:
		return "NoClientsConnected"
	default:
		return fmt.Sprintf("RelayErrorKind(%d)", int(k))
	}
}

// RelayError reports a relay that did not reach every recipient. Kind is
// the classification of the first failed write.
type RelayError struct {
	Kind      RelayErrorKind
	Failed    int
	Attempted int
	Err       error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %d of %d writes failed: %v", e.Kind, e.Failed, e.Attempted, e.Err)
	}
	return e.Kind.String()
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// relayFailureText is echoed back to a sender whose message could not be relayed.
func relayFailureText(kind RelayErrorKind) string {
	return fmt.Sprintf(" Error relaying the message to the client - %s", kind)
}

// classifyWriteError maps a write error to a relay error kind.
func classifyWriteError(err error) RelayErrorKind {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return SendCancelled
	case errors.Is(err, ErrConnClosed),
		errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, net.ErrClosed):
		return ConnectionClosed
	default:
		return ConnectionClosed
	}
}

// relay writes payload to every member of the target group. A failed write
// does not stop delivery to the rest.
func relay(registry *Registry, topic Topic, to Role, payload []byte, binary bool) ([]*Conn, error) {
	members := registry.Members(topic, to)
	if len(members) == 0 {
		return nil, &RelayError{Kind: NoClientsConnected}
	}

	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}

	var relayErr *RelayError
	var failed []*Conn
	for _, c := range members {
		if err := c.Write(messageType, payload); err != nil {
			failed = append(failed, c)
			if relayErr == nil {
				relayErr = &RelayError{Kind: classifyWriteError(err), Err: err}
			}
			relayErr.Failed++
		}
	}
	if relayErr != nil {
		relayErr.Attempted = len(members)
		return failed, relayErr
	}
	return nil, nil
}
