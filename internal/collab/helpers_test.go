package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pairpen/backend/internal/auth"
	"github.com/pairpen/backend/internal/presence"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type checkpoint struct {
	roomID  string
	fields  map[Field]string
	savedAt time.Time
}

type fakeDocuments struct {
	mu      sync.Mutex
	docs    map[string]map[Field]string
	saves   []checkpoint
	fetches int
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: make(map[string]map[Field]string)}
}

func (d *fakeDocuments) put(roomID string, fields map[Field]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[roomID] = fields
}

func (d *fakeDocuments) Exists(_ context.Context, roomID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.docs[roomID]
	return ok, nil
}

func (d *fakeDocuments) Fields(_ context.Context, roomID string) (map[Field]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fields, ok := d.docs[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, roomID)
	}
	d.fetches++
	copied := make(map[Field]string, len(fields))
	for field, content := range fields {
		copied[field] = content
	}
	return copied, nil
}

func (d *fakeDocuments) SaveFields(_ context.Context, roomID string, fields map[Field]string, savedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := make(map[Field]string, len(fields))
	for field, content := range fields {
		copied[field] = content
	}
	d.saves = append(d.saves, checkpoint{roomID: roomID, fields: copied, savedAt: savedAt})
	return nil
}

func (d *fakeDocuments) saveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.saves)
}

func (d *fakeDocuments) lastSave(t *testing.T) checkpoint {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.saves) == 0 {
		t.Fatalf("expected at least one checkpoint")
	}
	return d.saves[len(d.saves)-1]
}

func (d *fakeDocuments) fetchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetches
}

type testEnv struct {
	service   *Service
	store     *presence.MemoryStore
	documents *fakeDocuments
	clock     *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := presence.NewMemoryStore()
	documents := newFakeDocuments()
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	service, err := NewService(ServiceConfig{
		Presence:       store,
		Documents:      documents,
		Clock:          clock.Now,
		DebounceWindow: 25 * time.Millisecond,
		TypingThrottle: 700 * time.Millisecond,
		AutosavePeriod: 40 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return &testEnv{service: service, store: store, documents: documents, clock: clock}
}

func (e *testEnv) newSession(userID, name string) *Session {
	return NewSession(e.service, auth.Identity{UserID: userID, DisplayName: name}, nil)
}

func nextEvent(t *testing.T, session *Session) Envelope {
	t.Helper()
	select {
	case frame := <-session.send:
		var envelope Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("malformed outbound frame: %v", err)
		}
		return envelope
	case <-time.After(time.Second):
		t.Fatalf("expected an outbound event within deadline")
		return Envelope{}
	}
}

func decodePayload(t *testing.T, envelope Envelope, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		t.Fatalf("failed to decode %s payload: %v", envelope.Type, err)
	}
}

// waitForEvent discards frames until one of the wanted type arrives.
func waitForEvent(t *testing.T, session *Session, eventType string) Envelope {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case frame := <-session.send:
			var envelope Envelope
			if err := json.Unmarshal(frame, &envelope); err != nil {
				t.Fatalf("malformed outbound frame: %v", err)
			}
			if envelope.Type == eventType {
				return envelope
			}
		case <-deadline:
			t.Fatalf("expected %s event within deadline", eventType)
		}
	}
}

func drainEvents(session *Session) {
	for {
		select {
		case <-session.send:
		default:
			return
		}
	}
}

// collectEvents gathers every buffered outbound event of the given type after
// waiting out any pending timers.
func collectEvents(t *testing.T, session *Session, eventType string, settle time.Duration) []Envelope {
	t.Helper()
	time.Sleep(settle)
	var matched []Envelope
	for {
		select {
		case frame := <-session.send:
			var envelope Envelope
			if err := json.Unmarshal(frame, &envelope); err != nil {
				t.Fatalf("malformed outbound frame: %v", err)
			}
			if envelope.Type == eventType {
				matched = append(matched, envelope)
			}
		default:
			return matched
		}
	}
}
