package collab

import "encoding/json"

// Inbound event types.
const (
	eventJoin       = "join"
	eventLeave      = "leave"
	eventEdit       = "edit"
	eventCursorMove = "cursorMove"
	eventTyping     = "typing"
)

// Outbound event types.
const (
	EventStateSnapshot   = "stateSnapshot"
	EventFieldUpdated    = "fieldUpdated"
	EventRosterChanged   = "rosterChanged"
	EventUserJoined      = "userJoined"
	EventUserLeft        = "userLeft"
	EventCursorBroadcast = "cursorBroadcast"
	EventTypingBroadcast = "typingBroadcast"
	EventError           = "error"
)

// Envelope is the wire frame for every message in either direction.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinPayload struct {
	RoomID string `json:"roomId"`
}

type editPayload struct {
	RoomID    string `json:"roomId"`
	Field     string `json:"field"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type cursorMovePayload struct {
	RoomID   string          `json:"roomId"`
	Field    string          `json:"field"`
	Position json.RawMessage `json:"position"`
}

type typingPayload struct {
	RoomID string `json:"roomId"`
	Field  string `json:"field"`
}

type stateSnapshotPayload struct {
	Markup string `json:"markup"`
	Style  string `json:"style"`
	Script string `json:"script"`
}

type fieldUpdatedPayload struct {
	Field   Field  `json:"field"`
	Content string `json:"content"`
}

type userJoinedPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type userLeftPayload struct {
	ID string `json:"id"`
}

type cursorBroadcastPayload struct {
	UserID   string          `json:"userId"`
	Name     string          `json:"name"`
	Color    string          `json:"color"`
	Field    Field           `json:"field"`
	Position json.RawMessage `json:"position"`
}

type typingBroadcastPayload struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Field     Field  `json:"field"`
	Timestamp int64  `json:"timestamp"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func encodeEvent(eventType string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: body})
}
