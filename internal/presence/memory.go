package presence

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store used by tests and single-node development.
// State is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hashes: make(map[string]map[string]string)}
}

func (s *MemoryStore) CodeState(_ context.Context, roomID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := make(map[string]string, len(s.hashes[codeKey(roomID)]))
	for key, value := range s.hashes[codeKey(roomID)] {
		state[key] = value
	}
	return state, nil
}

func (s *MemoryStore) SeedCodeState(_ context.Context, roomID string, state map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.ensure(codeKey(roomID))
	for key, value := range state {
		hash[key] = value
	}
	return nil
}

func (s *MemoryStore) FieldStamp(_ context.Context, roomID, field string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.hashes[codeKey(roomID)][StampKey(field)]
	if !ok {
		return 0, nil
	}
	stamp, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return stamp, nil
}

func (s *MemoryStore) SetField(_ context.Context, roomID, field, content string, stampMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.ensure(codeKey(roomID))
	hash[field] = content
	hash[StampKey(field)] = strconv.FormatInt(stampMillis, 10)
	return nil
}

func (s *MemoryStore) Users(_ context.Context, roomID string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([][]byte, 0, len(s.hashes[usersKey(roomID)]))
	for _, value := range s.hashes[usersKey(roomID)] {
		records = append(records, []byte(value))
	}
	return records, nil
}

func (s *MemoryStore) AddUser(_ context.Context, roomID, userID string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(usersKey(roomID))[userID] = string(record)
	return nil
}

func (s *MemoryStore) RemoveUser(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes[usersKey(roomID)], userID)
	return nil
}

func (s *MemoryStore) ensure(key string) map[string]string {
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	return hash
}
