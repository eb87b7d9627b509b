// Package hub relays messages between device-side and UI-side websocket
// clients. Each topic has an internal role group (the device component
// that produces it) and an external one (UI subscribers).
package hub

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Topic names a relay topic.
type Topic string

// Relay topics.
const (
	TopicStatus    Topic = "status"
	TopicOrderInfo Topic = "order_info"
	TopicAdmin     Topic = "admin"
	TopicVideo     Topic = "vid_stream"
	TopicFeedback  Topic = "feedback"
)

// Topics lists every relay topic.
var Topics = []Topic{TopicStatus, TopicOrderInfo, TopicAdmin, TopicVideo, TopicFeedback}

// Role is the side of a topic a connection belongs to.
type Role string

// Roles.
const (
	RoleInternal Role = "internal"
	RoleExternal Role = "external"
)

// Peer returns the role group messages from r are relayed to.
func (r Role) Peer() Role {
	if r == RoleInternal {
		return RoleExternal
	}
	return RoleInternal
}

// ErrConnClosed is returned when writing to a closed connection.
var ErrConnClosed = errors.New("connection closed")

// MessageWriter writes one websocket message. *websocket.Conn satisfies it.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

var connIDs atomic.Uint64

// Conn is a registered client connection. Writes are serialized.
type Conn struct {
	ID         uint64
	Topic      Topic
	Role       Role
	RemoteAddr string

	mu     sync.Mutex
	writer MessageWriter
	closed atomic.Bool
}

// NewConn wraps w as a connection on topic in role.
func NewConn(topic Topic, role Role, remoteAddr string, w MessageWriter) *Conn {
	return &Conn{
		ID:         connIDs.Add(1),
		Topic:      topic,
		Role:       role,
		RemoteAddr: remoteAddr,
		writer:     w,
	}
}

// Write sends one message.
func (c *Conn) Write(messageType int, payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer.WriteMessage(messageType, payload)
}

// MarkClosed makes further writes fail with ErrConnClosed.
func (c *Conn) MarkClosed() {
	c.closed.Store(true)
}

type group struct {
	topic Topic
	role  Role
}

// Registry holds the connection set of every topic and role. It is safe
// for concurrent use; Members returns a snapshot so relays tolerate
// concurrent unregister.
type Registry struct {
	mu   sync.RWMutex
	sets map[group]map[*Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[group]map[*Conn]struct{})}
}

// Register adds c to its topic and role group. It reports whether c was
// newly added.
func (r *Registry) Register(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := group{c.Topic, c.Role}
	set, ok := r.sets[g]
	if !ok {
		set = make(map[*Conn]struct{})
		r.sets[g] = set
	}
	if _, exists := set[c]; exists {
		return false
	}
	set[c] = struct{}{}
	return true
}

// Unregister removes c. It reports whether c was present.
func (r *Registry) Unregister(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.sets[group{c.Topic, c.Role}]
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	return true
}

// Members returns a snapshot of the connections in a group.
func (r *Registry) Members(topic Topic, role Role) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.sets[group{topic, role}]
	members := make([]*Conn, 0, len(set))
	for c := range set {
		members = append(members, c)
	}
	return members
}

// Count returns the number of connections in a group.
func (r *Registry) Count(topic Topic, role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets[group{topic, role}])
}
