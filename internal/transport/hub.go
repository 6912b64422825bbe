// Package transport tracks live client connections and delivers sync
// messages: targeted sends, interest-filtered broadcast, and a per-user
// offline queue replayed in order on reconnect.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

// DefaultQueueCap bounds each user's offline queue; the oldest message is
// dropped past the cap rather than growing without bound.
const DefaultQueueCap = 500

// sendBufSlack is extra outbound-channel capacity beyond the offline queue
// cap, so a full queue replay plus a burst of live traffic fits.
const sendBufSlack = 64

// Connection is one live client connection. Interests is the set of entity
// types the connection wants broadcasts for; empty means all.
type Connection struct {
	ID          string
	UserID      string
	DeviceID    string
	ConnectedAt time.Time
	Interests   map[model.EntityType]struct{}

	send    chan *model.Message
	closeFn func()

	mu       sync.Mutex
	lastSeen time.Time
	live     bool
}

// NewConnection builds a connection record. closeFn tears down the underlying
// socket and may be nil.
func NewConnection(id, userID, deviceID string, interests []model.EntityType, queueCap int, closeFn func()) *Connection {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	c := &Connection{
		ID:          id,
		UserID:      userID,
		DeviceID:    deviceID,
		ConnectedAt: time.Now().UTC(),
		send:        make(chan *model.Message, queueCap+sendBufSlack),
		closeFn:     closeFn,
		lastSeen:    time.Now().UTC(),
	}
	if len(interests) > 0 {
		c.Interests = make(map[model.EntityType]struct{}, len(interests))
		for _, et := range interests {
			c.Interests[et] = struct{}{}
		}
	}
	return c
}

// Outbound is the channel the connection's writer drains to the socket.
func (c *Connection) Outbound() <-chan *model.Message { return c.send }

// Touch refreshes the connection's last-seen time.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now().UTC()
	c.mu.Unlock()
}

// LastSeen returns the last inbound or keep-alive activity time.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Connection) isLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *Connection) setLive(v bool) {
	c.mu.Lock()
	c.live = v
	c.mu.Unlock()
}

// interested reports whether the connection wants events for et.
func (c *Connection) interested(et model.EntityType) bool {
	if len(c.Interests) == 0 {
		return true
	}
	_, ok := c.Interests[et]
	return ok
}

// Hub owns connection liveness and delivery queues. All methods are safe for
// concurrent use; a send failure on one connection never affects another.
type Hub struct {
	log      zerolog.Logger
	queueCap int

	mu      sync.Mutex
	conns   map[string]*Connection
	byUser  map[string]map[string]*Connection
	known   map[string]struct{}
	offline map[string][]*model.Message
}

// NewHub builds a Hub with the given offline-queue cap per user.
func NewHub(log zerolog.Logger, queueCap int) *Hub {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	return &Hub{
		log:      log,
		queueCap: queueCap,
		conns:    make(map[string]*Connection),
		byUser:   make(map[string]map[string]*Connection),
		known:    make(map[string]struct{}),
		offline:  make(map[string][]*model.Message),
	}
}

// Register adds c, replays the user's offline queue into c's outbound buffer
// in original enqueue order, and only then marks the connection live. The
// whole sequence runs under the hub lock so no live broadcast can slip in
// between the replay and the first fresh message. Replay uses the same
// non-blocking delivery as live traffic, so an outbound buffer smaller than
// the queue cap sheds messages instead of wedging the hub.
func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	h.conns[c.ID] = c
	if c.UserID != "" {
		h.known[c.UserID] = struct{}{}
		m := h.byUser[c.UserID]
		if m == nil {
			m = make(map[string]*Connection)
			h.byUser[c.UserID] = m
		}
		m[c.ID] = c

		for _, msg := range h.takeOfflineLocked(c.UserID) {
			h.deliverLocked(c, msg)
		}
	}
	c.setLive(true)
	total := len(h.conns)
	h.mu.Unlock()

	h.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", c.UserID).
		Str("device_id", c.DeviceID).
		Int("connections", total).
		Msg("connection registered")
}

// Unregister removes the connection and closes its outbound channel. Safe to
// call while a broadcast is in flight and safe to call twice.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	if c.UserID != "" {
		if m := h.byUser[c.UserID]; m != nil {
			delete(m, connID)
			if len(m) == 0 {
				delete(h.byUser, c.UserID)
			}
		}
	}
	c.setLive(false)
	close(c.send)
	h.mu.Unlock()

	if c.closeFn != nil {
		c.closeFn()
	}
	h.log.Info().Str("conn_id", connID).Str("user_id", c.UserID).Msg("connection unregistered")
}

// Broadcast fans msg out to every live connection interested in et, skipping
// excludeConnID (the originating connection already holds its optimistic
// local result). Known users with zero live connections get the message
// appended to their offline queue instead.
func (h *Hub) Broadcast(msg *model.Message, excludeConnID string, et model.EntityType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.conns {
		if id == excludeConnID || !c.isLive() || !c.interested(et) {
			continue
		}
		h.deliverLocked(c, msg)
	}
	for user := range h.known {
		if len(h.byUser[user]) == 0 {
			h.enqueueOfflineLocked(user, msg)
		}
	}
}

// SendToUser delivers msg to every live connection of one user, or queues it
// when the user is fully offline.
func (h *Hub) SendToUser(userID string, msg *model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.byUser[userID]
	if len(conns) == 0 {
		h.known[userID] = struct{}{}
		h.enqueueOfflineLocked(userID, msg)
		return
	}
	for _, c := range conns {
		if c.isLive() {
			h.deliverLocked(c, msg)
		}
	}
}

// SendTo delivers msg to one connection by id; used for sync_error and pong
// replies that must not fan out.
func (h *Hub) SendTo(connID string, msg *model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[connID]; ok {
		h.deliverLocked(c, msg)
	}
}

// DrainOfflineQueue removes and returns the user's queued messages in
// original enqueue order.
func (h *Hub) DrainOfflineQueue(userID string) []*model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.takeOfflineLocked(userID)
}

// OfflineQueueLen reports the user's current queue depth.
func (h *Hub) OfflineQueueLen(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.offline[userID])
}

// ConnectionCount reports the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ReapStale unregisters connections idle past timeout, checking every
// interval until ctx is done. Run it in its own goroutine.
func (h *Hub) ReapStale(ctx context.Context, timeout, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-timeout)
			h.mu.Lock()
			var stale []string
			for id, c := range h.conns {
				if c.LastSeen().Before(cutoff) {
					stale = append(stale, id)
				}
			}
			h.mu.Unlock()
			for _, id := range stale {
				h.log.Warn().Str("conn_id", id).Msg("keep-alive timeout, dropping connection")
				h.Unregister(id)
			}
		}
	}
}

// deliverLocked enqueues msg on c's outbound buffer. A full buffer means the
// client is not draining; the message is dropped for that connection only.
func (h *Hub) deliverLocked(c *Connection, msg *model.Message) {
	select {
	case c.send <- msg:
	default:
		h.log.Warn().
			Str("conn_id", c.ID).
			Str("user_id", c.UserID).
			Msg("outbound buffer full, dropping message")
	}
}

func (h *Hub) enqueueOfflineLocked(userID string, msg *model.Message) {
	q := append(h.offline[userID], msg)
	if len(q) > h.queueCap {
		q = q[len(q)-h.queueCap:]
	}
	h.offline[userID] = q
}

func (h *Hub) takeOfflineLocked(userID string) []*model.Message {
	q := h.offline[userID]
	delete(h.offline, userID)
	return q
}
