package collab

import "sync"

// Hub is the per-process broadcast grouping: which sessions receive a room's
// messages. It is deliberately separate from the presence roster, which lives
// in the shared store and answers who is present.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Session]struct{})}
}

// Join adds a session to a room's broadcast group.
func (h *Hub) Join(roomID string, session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.rooms[roomID]
	if !ok {
		group = make(map[*Session]struct{})
		h.rooms[roomID] = group
	}
	group[session] = struct{}{}
}

// Leave removes a session from a room's broadcast group.
func (h *Hub) Leave(roomID string, session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.rooms[roomID]
	if group == nil {
		return
	}
	delete(group, session)
	if len(group) == 0 {
		delete(h.rooms, roomID)
	}
}

// MemberCount returns the number of locally connected sessions in a room.
func (h *Hub) MemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Broadcast delivers a frame to every session in the room, optionally skipping
// one. Delivery is best effort: a session with a full send buffer drops the
// frame rather than blocking the caller.
func (h *Hub) Broadcast(roomID string, frame []byte, except *Session) {
	h.mu.RLock()
	recipients := make([]*Session, 0, len(h.rooms[roomID]))
	for session := range h.rooms[roomID] {
		if session != except {
			recipients = append(recipients, session)
		}
	}
	h.mu.RUnlock()

	for _, session := range recipients {
		session.enqueue(frame)
	}
}
