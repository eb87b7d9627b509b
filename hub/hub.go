package hub

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgeorder/labelreader/log"
	"github.com/edgeorder/labelreader/metrics"
	"github.com/edgeorder/labelreader/storage"
)

// Defaults.
const (
	DefaultWriteTimeout = 10 * time.Second
	compressionLevel    = 6
)

// Config configures a Hub.
type Config struct {
	// Compression enables per-message deflate for new connections.
	Compression bool
	// WriteTimeout bounds each write to a client.
	WriteTimeout time.Duration
	// Archive receives feedback frames and records. Nil disables archiving.
	Archive storage.Archive
	// Collector receives relay and feedback counters. May be nil.
	Collector *metrics.Collector
	// Now overrides the clock used for archive paths.
	Now func() time.Time
}

// Hub owns the connection registry and serves the websocket endpoints.
type Hub struct {
	registry     *Registry
	logger       *log.Logger
	collector    *metrics.Collector
	archive      storage.Archive
	writeTimeout time.Duration
	now          func() time.Time

	compression atomic.Bool
}

// New creates a Hub.
func New(cfg Config, logger *log.Logger) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.Nop()
	}
	h := &Hub{
		registry:     NewRegistry(),
		logger:       logger,
		collector:    cfg.Collector,
		archive:      cfg.Archive,
		writeTimeout: cfg.WriteTimeout,
		now:          cfg.Now,
	}
	h.compression.Store(cfg.Compression)
	return h
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// SetCompression toggles compression for connections opened afterwards.
func (h *Hub) SetCompression(enabled bool) {
	h.compression.Store(enabled)
}

// Register adds a connection to its group.
func (h *Hub) Register(c *Conn) {
	if h.registry.Register(c) {
		h.logger.Debug("client connected", map[string]any{
			"topic": string(c.Topic), "role": string(c.Role), "conn_id": c.ID, "remote": c.RemoteAddr,
		})
	}
}

// Unregister removes a connection from its group.
func (h *Hub) Unregister(c *Conn) {
	c.MarkClosed()
	if h.registry.Unregister(c) {
		h.logger.Debug("client removed", map[string]any{
			"topic": string(c.Topic), "role": string(c.Role), "conn_id": c.ID,
		})
	}
}

// Relay writes payload to every connection in the to group of topic. It
// returns a *RelayError when there are no recipients or any write failed.
func (h *Hub) Relay(topic Topic, to Role, payload []byte, binary bool) error {
	failed, err := relay(h.registry, topic, to, payload, binary)
	if err == nil {
		h.collector.IncRelayed(string(topic))
		return nil
	}

	h.collector.IncRelayFailure(string(topic))
	var relayErr *RelayError
	if errors.As(err, &relayErr) && relayErr.Kind == NoClientsConnected {
		h.logger.Debug("no connected clients", map[string]any{"topic": string(topic), "role": string(to)})
		return err
	}
	ids := make([]uint64, 0, len(failed))
	for _, c := range failed {
		ids = append(ids, c.ID)
	}
	h.logger.Error("error relaying message", map[string]any{
		"topic": string(topic), "role": string(to), "failed_conns": ids, "error": err.Error(),
	})
	return err
}

// Handler returns the HTTP handler serving every hub endpoint.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("root endpoint"))
	})
	for _, topic := range Topics {
		mux.HandleFunc(Path(topic, RoleExternal), h.serveWS(topic, RoleExternal))
		if topic != TopicFeedback {
			mux.HandleFunc(Path(topic, RoleInternal), h.serveWS(topic, RoleInternal))
		}
	}
	return mux
}

// Path returns the endpoint path for a topic and role.
func Path(topic Topic, role Role) string {
	if role == RoleInternal {
		return "/ws/" + string(topic) + "_internal"
	}
	return "/ws/" + string(topic)
}

// wsWriter applies the write deadline to each message.
type wsWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsWriter) WriteMessage(messageType int, data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, data)
}

func (h *Hub) serveWS(topic Topic, role Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		compression := h.compression.Load()
		upgrader := websocket.Upgrader{
			// Cross-origin clients are accepted.
			CheckOrigin:       func(*http.Request) bool { return true },
			EnableCompression: compression,
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", map[string]any{"topic": string(topic), "error": err.Error()})
			return
		}
		defer ws.Close()
		if compression {
			_ = ws.SetCompressionLevel(compressionLevel)
		}

		c := NewConn(topic, role, r.RemoteAddr, &wsWriter{conn: ws, timeout: h.writeTimeout})
		h.Register(c)
		defer h.Unregister(c)

		for {
			messageType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			h.onMessage(c, messageType, data)
		}
	}
}

func (h *Hub) onMessage(c *Conn, messageType int, data []byte) {
	switch {
	case c.Topic == TopicFeedback:
		h.handleFeedback(c, data)
	case c.Role == RoleInternal, c.Topic == TopicAdmin:
		h.forward(c, messageType, data)
	default:
		h.logger.Debug("ignoring message from UI client", map[string]any{"topic": string(c.Topic)})
	}
}

// forward relays a message to the sender's peer group with its original
// frame type and reports a failure back to the sender as a text message.
func (h *Hub) forward(from *Conn, messageType int, data []byte) {
	err := h.Relay(from.Topic, from.Role.Peer(), data, messageType == websocket.BinaryMessage)
	if err == nil {
		return
	}
	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		return
	}
	if werr := from.Write(websocket.TextMessage, []byte(relayFailureText(relayErr.Kind))); werr != nil {
		h.logger.Warn("failed to report relay error to sender", map[string]any{
			"topic": string(from.Topic), "conn_id": from.ID, "error": werr.Error(),
		})
	}
}
