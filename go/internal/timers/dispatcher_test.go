package timers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) ReportListenerError(_ context.Context, _ *Timer, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

type votingPayload struct {
	GuildID   string    `json:"guild_id"`
	GamedayID uuid.UUID `json:"gameday_id"`
}

func TestDispatcher_PreciseTimerDecodesPayload(t *testing.T) {
	d := NewDispatcher(nil)
	gamedayID := uuid.New()

	var got votingPayload
	On(d, "gameday_voting_end", func(_ context.Context, p votingPayload) error {
		got = p
		return nil
	})

	raw, _ := json.Marshal(votingPayload{GuildID: "g1", GamedayID: gamedayID})
	d.Dispatch(context.Background(), &Timer{ID: uuid.New(), Event: "gameday_voting_end", Payload: raw, Precise: true})

	if got.GuildID != "g1" || got.GamedayID != gamedayID {
		t.Fatalf("payload not delivered: %+v", got)
	}
}

func TestDispatcher_ImpreciseTimerReceivesTimer(t *testing.T) {
	d := NewDispatcher(nil)
	id := uuid.New()

	var got *Timer
	d.OnTimer("ping", func(_ context.Context, tm *Timer) error {
		got = tm
		return nil
	})
	d.Dispatch(context.Background(), &Timer{ID: id, Event: "ping"})

	if got == nil || got.ID != id {
		t.Fatalf("listener did not receive the timer")
	}
}

func TestDispatcher_IsolatesFailures(t *testing.T) {
	rep := &recordingReporter{}
	d := NewDispatcher(rep)

	var calls []string
	d.OnTimer("boom", func(context.Context, *Timer) error { panic("kaboom") })
	d.OnTimer("boom", func(context.Context, *Timer) error {
		calls = append(calls, "second")
		return errors.New("listener failed")
	})
	d.OnTimer("boom", func(context.Context, *Timer) error {
		calls = append(calls, "third")
		return nil
	})
	d.Tap(func(context.Context, *Timer) error {
		calls = append(calls, "tap")
		return nil
	})

	d.Dispatch(context.Background(), &Timer{ID: uuid.New(), Event: "boom"})

	if strings.Join(calls, ",") != "second,third,tap" {
		t.Fatalf("calls = %v", calls)
	}
	if rep.count() != 2 {
		t.Fatalf("reported %d errors, want 2", rep.count())
	}
}

func TestDispatcher_ShapeMismatchIsReported(t *testing.T) {
	rep := &recordingReporter{}
	d := NewDispatcher(rep)
	On(d, "scrim_reminder", func(context.Context, votingPayload) error { return nil })

	d.Dispatch(context.Background(), &Timer{ID: uuid.New(), Event: "scrim_reminder", Precise: false})

	if rep.count() != 1 || !errors.Is(rep.errs[0], ErrListenerShape) {
		t.Fatalf("expected ErrListenerShape, got %v", rep.errs)
	}
}

func TestDispatcher_Validate(t *testing.T) {
	d := NewDispatcher(nil)
	d.OnTimer("a", func(context.Context, *Timer) error { return nil })

	if err := d.Validate("a"); err != nil {
		t.Fatalf("Validate(a) = %v", err)
	}
	err := d.Validate("a", "c", "b")
	if err == nil || !strings.Contains(err.Error(), "b, c") {
		t.Fatalf("Validate should name missing kinds, got %v", err)
	}
}
