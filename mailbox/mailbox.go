// Package mailbox implements the depth-1, most-recent-wins frame mailbox
// shared by the producer and consumer workers.
//
// The supervisor owns the only real Mailbox. Workers reach it through a
// Client speaking the ipc request/reply protocol over their stdio, served by
// a Server in the supervisor. Both sides satisfy Box.
package mailbox

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/edgeorder/labelreader/types"
)

// DefaultLockTimeout bounds every lock acquisition.
const DefaultLockTimeout = time.Second

// ErrClosed is returned by operations on a closed mailbox.
var ErrClosed = errors.New("mailbox closed")

// Box is the mailbox contract shared by the local mailbox and the worker client.
type Box interface {
	// Put replaces any pending frame with frame. Returns false when the lock
	// could not be acquired in time or the mailbox is closed.
	Put(frame types.Frame) bool
	// Take removes the pending frame. Returns false when the mailbox is empty,
	// the lock timed out, or the mailbox is closed.
	Take() (types.Frame, bool)
	// IsEmpty reports whether no frame is pending.
	IsEmpty() bool
	// Clear drops any pending frame.
	Clear()
}

// Stats is a point-in-time view of mailbox counters.
type Stats struct {
	Puts     uint64
	Replaced uint64
	Rejected uint64
	Taken    uint64
}

// Mailbox holds at most one frame.
//
// The lock is a capacity-1 semaphore so acquisition can be bounded by a
// timeout. The slot itself is an atomic pointer: IsEmpty reads it without the
// lock, so a Take may observe non-empty and then find nothing once it holds
// the lock. That race only ever costs one poll.
type Mailbox struct {
	lock    chan struct{}
	timeout time.Duration
	slot    atomic.Pointer[types.Frame]
	closed  atomic.Bool

	puts     atomic.Uint64
	replaced atomic.Uint64
	rejected atomic.Uint64
	taken    atomic.Uint64
}

var _ Box = (*Mailbox)(nil)

// New creates an empty mailbox. A non-positive timeout uses DefaultLockTimeout.
func New(lockTimeout time.Duration) *Mailbox {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Mailbox{
		lock:    make(chan struct{}, 1),
		timeout: lockTimeout,
	}
}

func (m *Mailbox) acquire() bool {
	select {
	case m.lock <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case m.lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (m *Mailbox) release() {
	<-m.lock
}

// Put drains any pending frame and stores frame.
func (m *Mailbox) Put(frame types.Frame) bool {
	if m.closed.Load() {
		m.rejected.Add(1)
		return false
	}
	if !m.acquire() {
		m.rejected.Add(1)
		return false
	}
	defer m.release()

	if m.slot.Swap(&frame) != nil {
		m.replaced.Add(1)
	}
	m.puts.Add(1)
	return true
}

// Take removes and returns the pending frame.
func (m *Mailbox) Take() (types.Frame, bool) {
	if m.closed.Load() || m.IsEmpty() {
		return types.Frame{}, false
	}
	if !m.acquire() {
		return types.Frame{}, false
	}
	defer m.release()

	f := m.slot.Swap(nil)
	if f == nil {
		return types.Frame{}, false
	}
	m.taken.Add(1)
	return *f, true
}

// IsEmpty reports whether no frame is pending. It does not take the lock.
func (m *Mailbox) IsEmpty() bool {
	return m.slot.Load() == nil
}

// Clear drops any pending frame. It is a no-op if the lock times out.
func (m *Mailbox) Clear() {
	if !m.acquire() {
		return
	}
	defer m.release()
	m.slot.Store(nil)
}

// Close drops any pending frame and rejects every later operation.
func (m *Mailbox) Close() {
	m.closed.Store(true)
	m.slot.Store(nil)
}

// Closed reports whether Close was called.
func (m *Mailbox) Closed() bool {
	return m.closed.Load()
}

// Stats returns the current counters.
func (m *Mailbox) Stats() Stats {
	return Stats{
		Puts:     m.puts.Load(),
		Replaced: m.replaced.Load(),
		Rejected: m.rejected.Load(),
		Taken:    m.taken.Load(),
	}
}
