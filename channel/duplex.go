// Package channel provides Duplex, one logical websocket connection that
// survives transport churn by reconnecting in place.
package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgeorder/labelreader/log"
)

// State is the connection state of a Duplex.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Defaults.
const (
	DefaultReconnectInterval = 3 * time.Second
	DefaultLockTimeout       = 3 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	eventBuffer              = 64
)

// Config configures a Duplex.
type Config struct {
	URL string
	// ReconnectInterval is the pause between closing and reopening.
	ReconnectInterval time.Duration
	// LockTimeout bounds how long Open waits for a concurrent open.
	LockTimeout time.Duration
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration
	// EnableCompression requests per-message deflate.
	EnableCompression bool
	// Dialer overrides the websocket dialer (for testing).
	Dialer *websocket.Dialer
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventDown
)

// event is a transport event for the dispatch loop. gen identifies the
// connection it came from so events from replaced connections are ignored.
type event struct {
	kind eventKind
	gen  uint64
	data []byte
	err  error
}

// Duplex is a logical bidirectional connection.
//
// Writes are serialized. Inbound messages and transport failures are queued
// as events and handled by a single dispatch loop started with
// StartDispatch. Message order is preserved within one underlying
// connection but not across a reconnect.
type Duplex struct {
	config Config
	logger *log.Logger
	dialer *websocket.Dialer

	connectLock chan struct{}
	writeMu     sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	gen     uint64
	handler func([]byte)
	// rejoin is closed when the in-flight reconnect finishes. nil when
	// none is running.
	rejoin chan struct{}

	state       atomic.Int32
	reconnects  atomic.Uint64
	dispatching atomic.Bool

	events    chan event
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a disconnected Duplex for config.URL.
func New(config Config, logger *log.Logger) *Duplex {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = DefaultReconnectInterval
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultLockTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout:  5 * time.Second,
			EnableCompression: config.EnableCompression,
		}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Duplex{
		config:      config,
		logger:      logger,
		dialer:      dialer,
		connectLock: make(chan struct{}, 1),
		events:      make(chan event, eventBuffer),
		closed:      make(chan struct{}),
	}
}

// Open connects if not already connected. It returns false when the
// connect lock could not be acquired in time, the dial failed, or the
// channel is closed. Callers retry; a running dispatch loop retries on its own.
func (d *Duplex) Open() bool {
	if d.isClosed() {
		return false
	}

	timer := time.NewTimer(d.config.LockTimeout)
	defer timer.Stop()
	select {
	case d.connectLock <- struct{}{}:
	case <-timer.C:
		d.logger.Warn("connect lock timeout", map[string]any{"url": d.config.URL})
		return false
	}
	defer func() { <-d.connectLock }()

	if d.State() == StateConnected {
		return true
	}

	d.state.Store(int32(StateConnecting))
	conn, _, err := d.dialer.Dial(d.config.URL, nil)
	if err != nil {
		d.logger.Warn("websocket connect failed", map[string]any{"url": d.config.URL, "error": err.Error()})
		d.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected))
		d.post(event{kind: eventDown, gen: d.Generation(), err: err})
		return false
	}
	if d.isClosed() {
		_ = conn.Close()
		return false
	}

	d.mu.Lock()
	d.conn = conn
	d.gen++
	gen := d.gen
	d.state.Store(int32(StateConnected))
	d.mu.Unlock()

	go d.readPump(conn, gen)
	d.logger.Info("websocket connection opened", map[string]any{"url": d.config.URL, "generation": gen})
	return true
}

// readPump forwards inbound messages until the connection fails.
func (d *Duplex) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			d.markDown(gen)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.logger.Warn("websocket connection closed", map[string]any{"url": d.config.URL, "error": err.Error()})
			} else {
				d.logger.Warn("websocket connection error", map[string]any{"url": d.config.URL, "error": err.Error()})
			}
			d.post(event{kind: eventDown, gen: gen, err: err})
			return
		}
		if !d.post(event{kind: eventMessage, gen: gen, data: data}) {
			return
		}
	}
}

// post queues an event. Message events wait for room; down events are
// dropped when the queue is full since any queued down event triggers the
// same reconnect.
func (d *Duplex) post(ev event) bool {
	if ev.kind == eventDown {
		select {
		case d.events <- ev:
		default:
		}
		return true
	}
	select {
	case d.events <- ev:
		return true
	case <-d.closed:
		return false
	}
}

func (d *Duplex) markDown(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen {
		d.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected))
	}
}

// reconnect replaces the connection identified by gen. If another caller
// already replaced it, reconnect returns the current state without dialing.
// Callers arriving while a reconnect is in flight wait for its outcome
// instead of starting their own.
func (d *Duplex) reconnect(gen uint64) bool {
	if d.isClosed() {
		return false
	}

	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return d.State() == StateConnected
	}
	if wait := d.rejoin; wait != nil {
		d.mu.Unlock()
		select {
		case <-wait:
		case <-d.closed:
			return false
		}
		return d.State() == StateConnected
	}
	done := make(chan struct{})
	d.rejoin = done
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.rejoin = nil
		d.mu.Unlock()
		close(done)
	}()

	d.state.Store(int32(StateReconnecting))
	d.reconnects.Add(1)
	d.logger.Warn("websocket reconnecting", map[string]any{"url": d.config.URL, "generation": gen})

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "reconnecting")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			d.logger.Debug("close before reconnect failed", map[string]any{"url": d.config.URL, "error": err.Error()})
		}
		if err := conn.Close(); err != nil {
			d.logger.Debug("socket close failed", map[string]any{"url": d.config.URL, "error": err.Error()})
		}
	}
	d.state.CompareAndSwap(int32(StateReconnecting), int32(StateDisconnected))

	timer := time.NewTimer(d.config.ReconnectInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.closed:
		return false
	}

	return d.Open()
}

// Send writes payload as a text or binary message. A channel that is not
// connected reconnects first. Failures are reported as false, never raised.
func (d *Duplex) Send(payload []byte, binary bool) bool {
	if d.isClosed() {
		return false
	}

	d.mu.Lock()
	seen, up := d.gen, d.State() == StateConnected
	d.mu.Unlock()
	if !up {
		d.logger.Warn("websocket not connected", map[string]any{"url": d.config.URL})
		if !d.reconnect(seen) {
			return false
		}
	}

	d.mu.Lock()
	conn, gen := d.conn, d.gen
	d.mu.Unlock()
	if conn == nil {
		return false
	}

	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}

	d.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(d.config.WriteTimeout))
	err := conn.WriteMessage(messageType, payload)
	d.writeMu.Unlock()

	if err != nil {
		d.logger.Warn("websocket send failed", map[string]any{"url": d.config.URL, "error": err.Error()})
		d.markDown(gen)
		d.post(event{kind: eventDown, gen: gen, err: err})
		return false
	}
	return true
}

// OnMessage registers the inbound message callback. It is invoked from the
// dispatch loop only.
func (d *Duplex) OnMessage(fn func(data []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = fn
}

// StartDispatch starts the dispatch loop. Calls after the first are no-ops
// and return false.
func (d *Duplex) StartDispatch() bool {
	if !d.dispatching.CompareAndSwap(false, true) {
		return false
	}
	if d.State() != StateConnected {
		d.post(event{kind: eventDown, gen: d.Generation()})
	}
	go d.dispatchLoop()
	return true
}

func (d *Duplex) dispatchLoop() {
	for {
		if d.dispatch() {
			return
		}
		d.logger.Warn("websocket dispatcher restarting", map[string]any{"url": d.config.URL})
	}
}

// dispatch handles events until the channel closes (true) or a handler
// panics (false), in which case it reconnects first.
func (d *Duplex) dispatch() (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("websocket dispatcher panic", map[string]any{"url": d.config.URL, "panic": fmt.Sprint(r)})
			d.reconnect(d.Generation())
			stopped = false
		}
	}()

	for {
		select {
		case <-d.closed:
			return true
		case ev := <-d.events:
			d.handle(ev)
		}
	}
}

func (d *Duplex) handle(ev event) {
	switch ev.kind {
	case eventMessage:
		d.mu.Lock()
		fn := d.handler
		d.mu.Unlock()
		if fn != nil {
			fn(ev.data)
		}
	case eventDown:
		// A reconnect owned by a sender may fail while this loop waits on
		// it, so keep going until the connection is back or replaced.
		for ev.gen == d.Generation() && d.State() != StateConnected && !d.isClosed() {
			if d.reconnect(ev.gen) {
				return
			}
		}
	}
}

// Close shuts the channel down permanently.
func (d *Duplex) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		d.state.Store(int32(StateClosed))

		d.mu.Lock()
		conn := d.conn
		d.conn = nil
		d.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			err = conn.Close()
		}
	})
	return err
}

func (d *Duplex) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// State returns the current connection state.
func (d *Duplex) State() State {
	return State(d.state.Load())
}

// Generation identifies the current underlying connection. It increases
// on every successful open.
func (d *Duplex) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// Reconnects returns how many reconnects have been attempted.
func (d *Duplex) Reconnects() uint64 {
	return d.reconnects.Load()
}

// URL returns the endpoint this channel connects to.
func (d *Duplex) URL() string {
	return d.config.URL
}
