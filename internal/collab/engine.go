package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pairpen/backend/internal/auth"
	"github.com/pairpen/backend/internal/presence"
)

// ErrDocumentNotFound indicates the durable store has no record for a room id.
var ErrDocumentNotFound = errors.New("collab: document not found")

var (
	errMissingPresenceStore = errors.New("collab: presence store is required")
	errMissingDocumentStore = errors.New("collab: document store is required")
)

const defaultTypingThrottle = 700 * time.Millisecond

// DocumentStore is the durable side of the checkpoint cycle. Implementations
// wrap the persistent snippet store; lookups for unknown ids return
// ErrDocumentNotFound.
type DocumentStore interface {
	Exists(ctx context.Context, roomID string) (bool, error)
	Fields(ctx context.Context, roomID string) (map[Field]string, error)
	SaveFields(ctx context.Context, roomID string, fields map[Field]string, savedAt time.Time) error
}

// EngineConfig describes the dependencies of the synchronization engine.
type EngineConfig struct {
	Presence       presence.Store
	Documents      DocumentStore
	Clock          func() time.Time
	Logger         *zap.Logger
	TypingThrottle time.Duration
}

// Engine owns the merge and presence logic shared by all sessions: lazy state
// seeding, last-writer-wins edit application, roster maintenance, typing
// throttling, and the durable flush. It keeps no per-room scheduling state and
// is safe for concurrent use from any number of sessions.
type Engine struct {
	presence  presence.Store
	documents DocumentStore
	clock     func() time.Time
	logger    *zap.Logger

	typingThrottle time.Duration
	typingMu       sync.Mutex
	lastTyping     map[string]time.Time
}

// NewEngine constructs the synchronization engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Presence == nil {
		return nil, errMissingPresenceStore
	}
	if cfg.Documents == nil {
		return nil, errMissingDocumentStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	throttle := cfg.TypingThrottle
	if throttle <= 0 {
		throttle = defaultTypingThrottle
	}
	return &Engine{
		presence:       cfg.Presence,
		documents:      cfg.Documents,
		clock:          clock,
		logger:         logger,
		typingThrottle: throttle,
		lastTyping:     make(map[string]time.Time),
	}, nil
}

// DocumentExists reports whether a room's durable record exists.
func (e *Engine) DocumentExists(ctx context.Context, roomID string) (bool, error) {
	return e.documents.Exists(ctx, roomID)
}

// FetchOrInitState returns the room's authoritative field contents. When the
// presence store has no entry for the room yet, the three fields are read from
// the durable store, stamped with the current time, and seeded into the
// presence store. This is the only path that reads the durable store.
func (e *Engine) FetchOrInitState(ctx context.Context, roomID string) (map[Field]string, error) {
	stored, err := e.presence.CodeState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		state := make(map[Field]string, 3)
		for _, field := range Fields() {
			state[field] = stored[string(field)]
		}
		return state, nil
	}

	fields, err := e.documents.Fields(ctx, roomID)
	if err != nil {
		return nil, err
	}

	nowMillis := e.clock().UnixMilli()
	seed := make(map[string]string, 6)
	state := make(map[Field]string, 3)
	for _, field := range Fields() {
		content := fields[field]
		state[field] = content
		seed[string(field)] = content
		seed[presence.StampKey(string(field))] = formatMillis(nowMillis)
	}
	if err := e.presence.SeedCodeState(ctx, roomID, seed); err != nil {
		return nil, err
	}
	return state, nil
}

// ApplyEdit applies a client edit under last-writer-wins: an edit stamped
// strictly before the stored stamp is rejected with no state change; ties are
// accepted, so the most recent claim wins. Acceptance is decided by the
// client-supplied timestamp, not arrival order, which makes concurrent
// same-field writes commute at the cost of trusting client clocks.
func (e *Engine) ApplyEdit(ctx context.Context, roomID string, field Field, content string, timestampMillis int64) (bool, error) {
	stored, err := e.presence.FieldStamp(ctx, roomID, string(field))
	if err != nil {
		return false, err
	}
	if timestampMillis < stored {
		return false, nil
	}
	if err := e.presence.SetField(ctx, roomID, string(field), content, timestampMillis); err != nil {
		return false, err
	}
	return true, nil
}

// FieldContent reads the current stored content of one field. Debounced
// broadcasts call this at fire time so a burst of edits only ever broadcasts
// the final value.
func (e *Engine) FieldContent(ctx context.Context, roomID string, field Field) (string, error) {
	stored, err := e.presence.CodeState(ctx, roomID)
	if err != nil {
		return "", err
	}
	return stored[string(field)], nil
}

// AddMember upserts the user's roster record for the room and returns it.
// Repeated joins by the same user collapse to a single record.
func (e *Engine) AddMember(ctx context.Context, roomID string, identity auth.Identity) (UserRecord, error) {
	record := UserRecord{
		ID:    identity.UserID,
		Name:  identity.DisplayName,
		Color: ColorFor(identity.UserID),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return UserRecord{}, err
	}
	if err := e.presence.AddUser(ctx, roomID, record.ID, encoded); err != nil {
		return UserRecord{}, err
	}
	return record, nil
}

// RemoveMember deletes the user's roster record for the room.
func (e *Engine) RemoveMember(ctx context.Context, roomID, userID string) error {
	return e.presence.RemoveUser(ctx, roomID, userID)
}

// Roster returns the room's presence roster ordered by user id.
func (e *Engine) Roster(ctx context.Context, roomID string) ([]UserRecord, error) {
	raw, err := e.presence.Users(ctx, roomID)
	if err != nil {
		return nil, err
	}
	roster := make([]UserRecord, 0, len(raw))
	for _, encoded := range raw {
		var record UserRecord
		if err := json.Unmarshal(encoded, &record); err != nil {
			e.logger.Warn("skipping malformed roster record", zap.Error(err))
			continue
		}
		roster = append(roster, record)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
	return roster, nil
}

// NoteTyping records a typing heartbeat for (user, room, field) and reports
// whether it should be broadcast. Heartbeats inside the throttle window are
// suppressed; this bounds volume and never affects correctness.
func (e *Engine) NoteTyping(userID, roomID string, field Field) bool {
	key := userID + ":" + roomID + ":" + string(field)
	now := e.clock()

	e.typingMu.Lock()
	defer e.typingMu.Unlock()
	if last, ok := e.lastTyping[key]; ok && now.Sub(last) < e.typingThrottle {
		return false
	}
	e.lastTyping[key] = now
	return true
}

// ClearTyping drops the throttle bookkeeping for a user leaving a room.
func (e *Engine) ClearTyping(userID, roomID string) {
	prefix := userID + ":" + roomID + ":"
	e.typingMu.Lock()
	defer e.typingMu.Unlock()
	for _, field := range Fields() {
		delete(e.lastTyping, prefix+string(field))
	}
}

// Flush copies the room's live field state into the durable store, stamping
// lastSavedAt with the current time. A room with no presence entry is a no-op.
// Flush is idempotent and safe to run concurrently with itself; racing flushes
// benignly overwrite each other with state read from the same source.
func (e *Engine) Flush(ctx context.Context, roomID string) error {
	stored, err := e.presence.CodeState(ctx, roomID)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return nil
	}
	fields := make(map[Field]string, 3)
	for _, field := range Fields() {
		fields[field] = stored[string(field)]
	}
	return e.documents.SaveFields(ctx, roomID, fields, e.clock())
}

func formatMillis(millis int64) string {
	return strconv.FormatInt(millis, 10)
}
