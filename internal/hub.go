package internal

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub fans presence transitions out to authenticated connections and owns the
// per-user personal rooms used for direct delivery. All membership changes and
// broadcasts run under one mutex, which is what serializes connect/disconnect
// handling for any single user.
type Hub struct {
	registry *Registry
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
	rooms map[string]map[*Conn]struct{}
}

func NewHub(registry *Registry, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		logger:   logger,
		conns:    make(map[*Conn]struct{}),
		rooms:    make(map[string]map[*Conn]struct{}),
	}
}

// Register adds an authenticated connection. If this was the user's first
// connection, a user-online event is broadcast to everyone else.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	cameOnline := h.registry.AddConnection(c.userID, c.id)
	if cameOnline {
		h.fanOutLocked(encodeEvent(userOnlineEvent(c.userID)), c.userID)
		presenceBroadcastsTotal.WithLabelValues("online").Inc()
	}
	usersOnline.Set(float64(h.registry.OnlineCount()))
}

// Unregister removes a connection after its transport closed. If this was the
// user's last connection, a user-offline event is broadcast to the rest.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
	h.leaveRoomLocked(c)
	wentOffline := h.registry.RemoveConnection(c.userID, c.id)
	if wentOffline {
		h.fanOutLocked(encodeEvent(userOfflineEvent(c.userID)), c.userID)
		presenceBroadcastsTotal.WithLabelValues("offline").Inc()
	}
	usersOnline.Set(float64(h.registry.OnlineCount()))
}

// JoinRoom places the connection in its user's personal room. Callers verify
// the identity before calling.
func (h *Hub) JoinRoom(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.userID]
	if !ok {
		room = make(map[*Conn]struct{})
		h.rooms[c.userID] = room
	}
	room[c] = struct{}{}
}

// SendToUser delivers a payload to every connection in the user's personal
// room and returns how many connections it reached. This is the hook the
// notification and chat features deliver through.
func (h *Hub) SendToUser(userID string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for c := range h.rooms[userID] {
		if c.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// SendSnapshot answers a get-online-users request on the requesting
// connection only.
func (h *Hub) SendSnapshot(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.enqueue(encodeEvent(onlineUsersEvent(h.registry.Snapshot())))
}

func (h *Hub) fanOutLocked(payload []byte, exceptUserID string) {
	for c := range h.conns {
		if c.userID == exceptUserID {
			// the subject's own tabs learn their state from their own
			// transitions; skip the redundant self-notification
			continue
		}
		if !c.enqueue(payload) {
			h.logger.Warn().Str("conn_id", c.id).Str("user", c.userID).Msg("dropping slow presence consumer")
		}
	}
}

func (h *Hub) leaveRoomLocked(c *Conn) {
	room, ok := h.rooms[c.userID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.userID)
	}
}
