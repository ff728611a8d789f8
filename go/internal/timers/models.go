package timers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fury-esports/furybot/go/internal/fault"
	"github.com/google/uuid"
)

// ErrTimerNotFound is returned when a timer has already fired or been deleted.
var ErrTimerNotFound = fault.NotFound("timer not found")

// Event names the kind of work a timer triggers when it fires.
type Event string

func (e Event) String() string { return string(e) }

// CompletionName is the name listeners are logged under, e.g. "ping_timer_complete".
func (e Event) CompletionName() string { return string(e) + "_timer_complete" }

// Timer is a persisted request to fire an event at a future instant.
type Timer struct {
	ID        uuid.UUID       `json:"id"`
	Event     Event           `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Precise   bool            `json:"precise"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Decode unmarshals the timer payload into v.
func (t *Timer) Decode(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("timer %s (%s) has no payload", t.ID, t.Event)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", t.Event, err)
	}
	return nil
}

// InsertParams holds everything the store persists for a new timer.
type InsertParams struct {
	ID        uuid.UUID
	Event     Event
	Payload   json.RawMessage
	Precise   bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// normalize keeps every stored instant in naive UTC at the resolution Postgres keeps.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// before orders timers by expiry, then by id. Ids are UUIDv7 so id order is insertion order.
func before(a, b *Timer) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	return string(a.ID[:]) < string(b.ID[:])
}
