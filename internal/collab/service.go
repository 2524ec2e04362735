package collab

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/pairpen/backend/internal/presence"
)

const (
	defaultDebounceWindow = 200 * time.Millisecond
	defaultAutosavePeriod = 30 * time.Second

	flushTimeout = 5 * time.Second
)

// ServiceConfig describes the dependencies of the collaboration service.
type ServiceConfig struct {
	Presence       presence.Store
	Documents      DocumentStore
	Clock          func() time.Time
	Logger         *zap.Logger
	DebounceWindow time.Duration
	TypingThrottle time.Duration
	AutosavePeriod time.Duration
}

// Service handles session events for all rooms: it composes the
// synchronization engine, the per-room scheduling registry, and the broadcast
// hub. One Service instance serves the whole process.
type Service struct {
	engine   *Engine
	registry *Registry
	hub      *Hub
	logger   *zap.Logger
	clock    func() time.Time

	debounceWindow time.Duration
	autosavePeriod time.Duration
}

// NewService constructs the collaboration service.
func NewService(cfg ServiceConfig) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	engine, err := NewEngine(EngineConfig{
		Presence:       cfg.Presence,
		Documents:      cfg.Documents,
		Clock:          clock,
		Logger:         logger,
		TypingThrottle: cfg.TypingThrottle,
	})
	if err != nil {
		return nil, err
	}

	debounce := cfg.DebounceWindow
	if debounce <= 0 {
		debounce = defaultDebounceWindow
	}
	autosave := cfg.AutosavePeriod
	if autosave <= 0 {
		autosave = defaultAutosavePeriod
	}

	return &Service{
		engine:         engine,
		registry:       NewRegistry(),
		hub:            NewHub(),
		logger:         logger,
		clock:          clock,
		debounceWindow: debounce,
		autosavePeriod: autosave,
	}, nil
}

// Join admits a session into a room: the roster record is upserted, the
// session receives the full field snapshot, every member gets the refreshed
// roster, and the other members are told about the new arrival. Joining a
// room whose document does not exist emits an error event with no side
// effects.
func (s *Service) Join(ctx context.Context, session *Session, roomID string) error {
	exists, err := s.engine.DocumentExists(ctx, roomID)
	if err != nil {
		s.logger.Error("document lookup failed", zap.String("room", roomID), zap.Error(err))
		session.sendEvent(EventError, errorPayload{Message: "snippet lookup failed"})
		return err
	}
	if !exists {
		session.sendEvent(EventError, errorPayload{Message: "snippet not found"})
		return nil
	}

	record, err := s.engine.AddMember(ctx, roomID, session.identity)
	if err != nil {
		s.logger.Error("presence update failed", zap.String("room", roomID), zap.Error(err))
		session.sendEvent(EventError, errorPayload{Message: "presence unavailable"})
		return err
	}

	s.hub.Join(roomID, session)
	session.trackRoom(roomID)

	state, err := s.engine.FetchOrInitState(ctx, roomID)
	if err != nil {
		s.logger.Error("state fetch failed", zap.String("room", roomID), zap.Error(err))
		session.sendEvent(EventError, errorPayload{Message: "state unavailable"})
		return err
	}
	session.sendEvent(EventStateSnapshot, stateSnapshotPayload{
		Markup: state[FieldMarkup],
		Style:  state[FieldStyle],
		Script: state[FieldScript],
	})

	s.broadcastRoster(ctx, roomID)
	s.broadcast(roomID, EventUserJoined, userJoinedPayload(record), session)

	s.registry.EnsureAutosave(roomID, s.autosavePeriod, func() {
		s.flushRoom(roomID)
	})

	s.logger.Debug("session joined room",
		zap.String("room", roomID),
		zap.String("user", session.identity.UserID))
	return nil
}

// Leave removes a session from a room, refreshes the remaining members'
// roster, and tears the room down after the last local member departs.
func (s *Service) Leave(ctx context.Context, session *Session, roomID string) error {
	if !session.untrackRoom(roomID) {
		return nil
	}
	return s.leaveRoom(ctx, session, roomID)
}

// Edit applies a field edit under last-writer-wins and, when accepted,
// schedules the debounced broadcast. There is no acknowledgment to the
// sender; a stale edit is dropped silently as an expected race outcome.
func (s *Service) Edit(ctx context.Context, session *Session, roomID string, field Field, content string, timestampMillis int64) error {
	accepted, err := s.engine.ApplyEdit(ctx, roomID, field, content, timestampMillis)
	if err != nil {
		s.logger.Error("edit failed",
			zap.String("room", roomID),
			zap.String("field", string(field)),
			zap.Error(err))
		return err
	}
	if !accepted {
		return nil
	}

	s.registry.ScheduleBroadcast(roomID, field, s.debounceWindow, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		current, err := s.engine.FieldContent(flushCtx, roomID, field)
		if err != nil {
			s.logger.Error("debounced broadcast read failed",
				zap.String("room", roomID),
				zap.String("field", string(field)),
				zap.Error(err))
			return
		}
		s.broadcast(roomID, EventFieldUpdated, fieldUpdatedPayload{Field: field, Content: current}, session)
	})
	return nil
}

// CursorMove broadcasts a cursor position to the other members immediately;
// cursor freshness matters more than volume, so there is no debounce.
func (s *Service) CursorMove(_ context.Context, session *Session, roomID string, field Field, position json.RawMessage) {
	s.broadcast(roomID, EventCursorBroadcast, cursorBroadcastPayload{
		UserID:   session.identity.UserID,
		Name:     session.identity.DisplayName,
		Color:    ColorFor(session.identity.UserID),
		Field:    field,
		Position: position,
	}, session)
}

// Typing forwards a typing heartbeat to the other members, throttled per
// (user, room, field).
func (s *Service) Typing(_ context.Context, session *Session, roomID string, field Field) {
	if !s.engine.NoteTyping(session.identity.UserID, roomID, field) {
		return
	}
	s.broadcast(roomID, EventTypingBroadcast, typingBroadcastPayload{
		UserID:    session.identity.UserID,
		Name:      session.identity.DisplayName,
		Field:     field,
		Timestamp: s.clock().UnixMilli(),
	}, session)
}

// Disconnect performs leave cleanup for every room the session had joined,
// using its last known identity. Used for abrupt connection loss.
func (s *Service) Disconnect(ctx context.Context, session *Session) {
	for _, roomID := range session.drainRooms() {
		if err := s.leaveRoom(ctx, session, roomID); err != nil {
			s.logger.Error("disconnect cleanup failed",
				zap.String("room", roomID),
				zap.String("user", session.identity.UserID),
				zap.Error(err))
		}
	}
}

// Shutdown flushes every room with live scheduling state and discards the
// scheduling bookkeeping. Called once during process shutdown.
func (s *Service) Shutdown(ctx context.Context) {
	for _, roomID := range s.registry.RoomIDs() {
		s.registry.Remove(roomID)
		if err := s.engine.Flush(ctx, roomID); err != nil {
			s.logger.Error("shutdown flush failed", zap.String("room", roomID), zap.Error(err))
		}
	}
}

func (s *Service) leaveRoom(ctx context.Context, session *Session, roomID string) error {
	userID := session.identity.UserID
	if err := s.engine.RemoveMember(ctx, roomID, userID); err != nil {
		s.logger.Error("presence removal failed", zap.String("room", roomID), zap.Error(err))
	}
	s.engine.ClearTyping(userID, roomID)
	s.hub.Leave(roomID, session)

	s.broadcastRoster(ctx, roomID)
	s.broadcast(roomID, EventUserLeft, userLeftPayload{ID: userID}, session)

	if s.hub.MemberCount(roomID) == 0 {
		s.registry.Remove(roomID)
		if err := s.engine.Flush(ctx, roomID); err != nil {
			s.logger.Error("final flush failed", zap.String("room", roomID), zap.Error(err))
			return err
		}
	}
	return nil
}

func (s *Service) flushRoom(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.engine.Flush(ctx, roomID); err != nil {
		s.logger.Error("autosave flush failed", zap.String("room", roomID), zap.Error(err))
	}
}

func (s *Service) broadcastRoster(ctx context.Context, roomID string) {
	roster, err := s.engine.Roster(ctx, roomID)
	if err != nil {
		s.logger.Error("roster fetch failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	s.broadcast(roomID, EventRosterChanged, roster, nil)
}

func (s *Service) broadcast(roomID, eventType string, payload interface{}, except *Session) {
	frame, err := encodeEvent(eventType, payload)
	if err != nil {
		s.logger.Error("event encoding failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	s.hub.Broadcast(roomID, frame, except)
}
