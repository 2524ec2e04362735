package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pairpen/backend/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	sendBufferSize = 64
)

// Session is one authenticated WebSocket connection. The identity is fixed at
// connection time; a session may join any number of rooms and its inbound
// events are processed sequentially by the read loop.
type Session struct {
	identity auth.Identity
	conn     *websocket.Conn
	service  *Service
	logger   *zap.Logger

	send chan []byte
	done chan struct{}

	roomsMu sync.Mutex
	rooms   map[string]struct{}
}

// NewSession wraps an upgraded connection carrying a verified identity.
func NewSession(service *Service, identity auth.Identity, conn *websocket.Conn) *Session {
	return &Session{
		identity: identity,
		conn:     conn,
		service:  service,
		logger:   service.logger,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

// Run drives the connection until it closes, then performs disconnect
// cleanup for every room the session had joined.
func (s *Session) Run(ctx context.Context) {
	go s.writeLoop()
	s.readLoop(ctx)

	close(s.done)
	s.service.Disconnect(context.WithoutCancel(ctx), s)
	_ = s.conn.Close()
}

func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("connection closed unexpectedly",
					zap.String("user", s.identity.UserID), zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, frame)
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// dispatch decodes one inbound frame and routes it. A failure is isolated to
// this event and this connection; it never tears down the room.
func (s *Session) dispatch(ctx context.Context, frame []byte) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		s.sendEvent(EventError, errorPayload{Message: "malformed message"})
		return
	}

	switch envelope.Type {
	case eventJoin:
		var payload joinPayload
		if !s.decode(envelope.Payload, &payload) {
			return
		}
		_ = s.service.Join(ctx, s, payload.RoomID)
	case eventLeave:
		var payload joinPayload
		if !s.decode(envelope.Payload, &payload) {
			return
		}
		_ = s.service.Leave(ctx, s, payload.RoomID)
	case eventEdit:
		var payload editPayload
		if !s.decode(envelope.Payload, &payload) {
			return
		}
		field, err := ParseField(payload.Field)
		if err != nil {
			s.sendEvent(EventError, errorPayload{Message: "unknown field"})
			return
		}
		_ = s.service.Edit(ctx, s, payload.RoomID, field, payload.Content, payload.Timestamp)
	case eventCursorMove:
		var payload cursorMovePayload
		if !s.decode(envelope.Payload, &payload) {
			return
		}
		field, err := ParseField(payload.Field)
		if err != nil {
			return
		}
		s.service.CursorMove(ctx, s, payload.RoomID, field, payload.Position)
	case eventTyping:
		var payload typingPayload
		if !s.decode(envelope.Payload, &payload) {
			return
		}
		field, err := ParseField(payload.Field)
		if err != nil {
			return
		}
		s.service.Typing(ctx, s, payload.RoomID, field)
	default:
		s.logger.Debug("ignoring unknown event type", zap.String("type", envelope.Type))
	}
}

func (s *Session) decode(raw json.RawMessage, target interface{}) bool {
	if err := json.Unmarshal(raw, target); err != nil {
		s.sendEvent(EventError, errorPayload{Message: "malformed payload"})
		return false
	}
	return true
}

func (s *Session) sendEvent(eventType string, payload interface{}) {
	frame, err := encodeEvent(eventType, payload)
	if err != nil {
		s.logger.Error("event encoding failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	s.enqueue(frame)
}

// enqueue hands a frame to the write loop without blocking; frames to a slow
// consumer are dropped rather than stalling a broadcast.
func (s *Session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
	}
}

func (s *Session) trackRoom(roomID string) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	s.rooms[roomID] = struct{}{}
}

func (s *Session) untrackRoom(roomID string) bool {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return false
	}
	delete(s.rooms, roomID)
	return true
}

func (s *Session) drainRooms() []string {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	joined := make([]string, 0, len(s.rooms))
	for roomID := range s.rooms {
		joined = append(joined, roomID)
	}
	s.rooms = make(map[string]struct{})
	return joined
}
