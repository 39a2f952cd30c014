package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// wireEvent is the JSON form of Event on the Kafka topic.
type wireEvent struct {
	ID           uuid.UUID         `json:"id"`
	Category     EventCategory     `json:"category"`
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	Subject      string            `json:"subject"`
	ActorID      string            `json:"actor_id,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Seq          uint64            `json:"seq,omitempty"`
	TransitionID string            `json:"transition_id,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Encode renders event as JSON for transport.
func Encode(event Event) ([]byte, error) {
	b, err := json.Marshal(wireEvent(event))
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	return b, nil
}

// Decode parses a transported event. Events without an ID or action are
// rejected since they cannot be stored idempotently.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode audit event: %w", err)
	}
	if w.ID == uuid.Nil {
		return Event{}, fmt.Errorf("decode audit event: missing id")
	}
	if w.Action == "" {
		return Event{}, fmt.Errorf("decode audit event %s: missing action", w.ID)
	}
	if w.Category == "" {
		w.Category = AuditEvent(w.Action).Category()
	}
	w.Timestamp = w.Timestamp.UTC()
	return Event(w), nil
}
