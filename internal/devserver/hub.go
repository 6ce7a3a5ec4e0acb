package devserver

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub tracks live connections and the channels each one has joined.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]*Connection              // userID → connection
	rooms  map[string]map[*Connection]struct{} // channelID → joined connections

	svc               *Service
	log               *slog.Logger
	heartbeatInterval time.Duration
	presenceGrace     time.Duration
}

func newHub(log *slog.Logger, heartbeatInterval, presenceGrace time.Duration) *Hub {
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &Hub{
		byUser:            make(map[string]*Connection),
		rooms:             make(map[string]map[*Connection]struct{}),
		log:               log,
		heartbeatInterval: heartbeatInterval,
		presenceGrace:     presenceGrace,
	}
}

// register adds a connection, replacing any existing one for the same user.
func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	old, replaced := h.byUser[c.User.ID]
	h.byUser[c.User.ID] = c
	if replaced {
		h.leaveAllLocked(old)
	}
	h.mu.Unlock()

	if replaced {
		old.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.svc.connected(ctx, c)
}

// unregister removes a connection and its room memberships.
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(c)
	if existing, ok := h.byUser[c.User.ID]; ok && existing == c {
		delete(h.byUser, c.User.ID)
		go h.clearPresenceWithGrace(c.User)
	}
}

// clearPresenceWithGrace waits before marking the user offline, allowing a
// reconnect to keep them online.
func (h *Hub) clearPresenceWithGrace(user User) {
	if h.presenceGrace > 0 {
		time.Sleep(h.presenceGrace)
	}

	if h.Online(user.ID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.svc.disconnected(ctx, user)
}

// Online reports whether userID has a live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byUser[userID]
	return ok
}

func (h *Hub) join(c *Connection, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[channelID] == nil {
		h.rooms[channelID] = make(map[*Connection]struct{})
	}
	h.rooms[channelID][c] = struct{}{}
}

func (h *Hub) leave(c *Connection, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[channelID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, channelID)
		}
	}
}

func (h *Hub) leaveAllLocked(c *Connection) {
	for channelID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, channelID)
		}
	}
}

// RoomSize returns how many connections have joined channelID.
func (h *Hub) RoomSize(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channelID])
}

// DispatchToChannel sends an event to every connection that joined channelID.
func (h *Hub) DispatchToChannel(channelID, event string, data any) {
	h.DispatchToChannelExcept(channelID, "", event, data)
}

// DispatchToChannelExcept sends an event to channelID's connections except
// the given user's.
func (h *Hub) DispatchToChannelExcept(channelID, exceptUserID, event string, data any) {
	h.mu.RLock()
	members := h.rooms[channelID]
	conns := make([]*Connection, 0, len(members))
	for c := range members {
		if exceptUserID != "" && c.User.ID == exceptUserID {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.SendEvent(event, data)
	}
}

// DispatchToAll sends an event to every live connection.
func (h *Hub) DispatchToAll(event string, data any) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.byUser))
	for _, c := range h.byUser {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.SendEvent(event, data)
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.byUser))
	for _, c := range h.byUser {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) touchPresence(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.svc.touch(ctx, c)
}
