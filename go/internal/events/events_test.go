package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestKinds_AreUnique(t *testing.T) {
	seen := map[timers.Event]bool{}
	for _, k := range Kinds() {
		if seen[k] {
			t.Fatalf("duplicate event kind %s", k)
		}
		seen[k] = true
	}
}

func TestNewEnvelope_CarriesPayloadVerbatim(t *testing.T) {
	id := uuid.New()
	payload, _ := json.Marshal(ScrimPayload{GuildID: "123", ScrimID: id})
	now := time.Date(2025, 4, 2, 18, 0, 0, 0, time.UTC)

	env := NewEnvelope(&timers.Timer{
		ID:        id,
		Event:     ScrimReminder,
		Payload:   payload,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now,
	})

	want := Envelope{
		TimerID:   id.String(),
		Event:     "scrim_reminder",
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now,
		Payload:   payload,
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
	if got := DefaultPublisherConfig().Subject(ScrimReminder); got != "furybot.timers.scrim_reminder" {
		t.Fatalf("Subject = %q", got)
	}
}
