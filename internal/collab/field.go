// Package collab implements the real-time collaborative synchronization core:
// room membership and presence, last-writer-wins merging of concurrent field
// edits, debounced broadcasts, typing throttling, and occupancy-driven durable
// checkpoints.
package collab

import (
	"errors"
	"fmt"
)

// Field names one of the three independently versioned snippet fields.
type Field string

const (
	FieldMarkup Field = "markup"
	FieldStyle  Field = "style"
	FieldScript Field = "script"
)

// ErrUnknownField indicates a field name outside the fixed set.
var ErrUnknownField = errors.New("collab: unknown field")

// Fields returns the fixed field set in canonical order.
func Fields() [3]Field {
	return [3]Field{FieldMarkup, FieldStyle, FieldScript}
}

// ParseField validates a wire-supplied field name.
func ParseField(raw string) (Field, error) {
	switch Field(raw) {
	case FieldMarkup, FieldStyle, FieldScript:
		return Field(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, raw)
	}
}

// FieldState is one field's live content and its update stamp.
// The stamp is monotonically non-decreasing across accepted writes.
type FieldState struct {
	Content         string
	UpdatedAtMillis int64
}

// UserRecord is the presence roster entry for one user in one room.
type UserRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}
