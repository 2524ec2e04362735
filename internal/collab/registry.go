package collab

import (
	"sync"
	"time"
)

// roomSchedule is the in-process scheduling state for one occupied room: at
// most one pending broadcast timer per field and one autosave loop.
type roomSchedule struct {
	debounce     map[Field]*time.Timer
	autosaveStop chan struct{}
}

// Registry owns per-room ephemeral scheduling state. It lives only inside the
// service process; rooms are entered lazily and removed entry-by-entry when
// they fall vacant. The shared presence store, not this registry, remains the
// source of truth for room state.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*roomSchedule
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*roomSchedule)}
}

// ScheduleBroadcast arms the single-slot debounce timer for (room, field) with
// cancel-and-replace semantics: a pending timer is dropped and a fresh one
// armed for the full window. Bursts of accepted edits therefore collapse into
// one fire per window per field.
func (r *Registry) ScheduleBroadcast(roomID string, field Field, window time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule := r.ensure(roomID)
	if pending, ok := schedule.debounce[field]; ok {
		pending.Stop()
	}
	schedule.debounce[field] = time.AfterFunc(window, fire)
}

// EnsureAutosave starts the room's periodic flush loop if it is not already
// running. Idempotent.
func (r *Registry) EnsureAutosave(roomID string, period time.Duration, flush func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule := r.ensure(roomID)
	if schedule.autosaveStop != nil {
		return
	}
	stop := make(chan struct{})
	schedule.autosaveStop = stop
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				flush()
			case <-stop:
				return
			}
		}
	}()
}

// AutosaveRunning reports whether the room currently has an autosave loop.
func (r *Registry) AutosaveRunning(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.rooms[roomID]
	return ok && schedule.autosaveStop != nil
}

// Remove tears down a room's scheduling state: the autosave loop is stopped
// and any pending debounce timers are cancelled. Callers pair this with a
// final flush.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if schedule.autosaveStop != nil {
		close(schedule.autosaveStop)
	}
	for _, pending := range schedule.debounce {
		pending.Stop()
	}
	delete(r.rooms, roomID)
}

// RoomIDs returns the ids of rooms with live scheduling state.
func (r *Registry) RoomIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) ensure(roomID string) *roomSchedule {
	schedule, ok := r.rooms[roomID]
	if !ok {
		schedule = &roomSchedule{debounce: make(map[Field]*time.Timer)}
		r.rooms[roomID] = schedule
	}
	return schedule
}
