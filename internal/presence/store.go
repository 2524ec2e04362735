// Package presence addresses the shared fast-access store that holds per-room
// live state: the code hash (field bodies plus per-field update stamps) and the
// connected-user hash. The store is external infrastructure; entries are passive
// caches with no explicit expiry.
package presence

import "context"

// StampSuffix is appended to a field name to form its update-stamp hash key.
const StampSuffix = "UpdatedAt"

// StampKey returns the hash key holding a field's update stamp in millis.
func StampKey(field string) string {
	return field + StampSuffix
}

// Store is the per-room hash contract shared by every service process.
// Implementations may be backed by Redis or by memory for tests.
type Store interface {
	// CodeState returns the raw code hash for a room; empty map when absent.
	CodeState(ctx context.Context, roomID string) (map[string]string, error)

	// SeedCodeState writes an initial code hash for a room in one operation.
	SeedCodeState(ctx context.Context, roomID string, state map[string]string) error

	// FieldStamp returns a field's stored update stamp in millis, 0 when absent.
	FieldStamp(ctx context.Context, roomID, field string) (int64, error)

	// SetField writes a field body and its update stamp in one operation.
	SetField(ctx context.Context, roomID, field, content string, stampMillis int64) error

	// Users returns the serialized user records present in a room.
	Users(ctx context.Context, roomID string) ([][]byte, error)

	// AddUser upserts a user's serialized record, keyed by user id.
	AddUser(ctx context.Context, roomID, userID string, record []byte) error

	// RemoveUser deletes a user's record from a room.
	RemoveUser(ctx context.Context, roomID, userID string) error
}

func codeKey(roomID string) string {
	return "snippet:" + roomID + ":code"
}

func usersKey(roomID string) string {
	return "snippet:" + roomID + ":users"
}
