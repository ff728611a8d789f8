package gameday

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
)

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		in   string
		want Weekday
		ok   bool
	}{
		{"friday", Friday, true},
		{"Fri", Friday, true},
		{" SUNDAY ", Sunday, true},
		{"mon", Monday, true},
		{"fr", 0, false},
		{"funday", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseWeekday(tt.in)
		if tt.ok != (err == nil) || got != tt.want {
			t.Errorf("ParseWeekday(%q) = %v, %v", tt.in, got, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidWeekday) {
			t.Errorf("ParseWeekday(%q) err = %v, want ErrInvalidWeekday", tt.in, err)
		}
	}
	if Sunday.String() != "sunday" || Weekday(9).Valid() {
		t.Fatal("weekday range is off")
	}
}

func TestNextOccurrence(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	at := func(day, hour, minute int) time.Time { return time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC) }

	tests := []struct {
		name    string
		weekday Weekday
		clock   time.Duration
		loc     *time.Location
		after   time.Time
		want    time.Time
	}{
		{"later this week", Friday, 19*time.Hour + 30*time.Minute, time.UTC, epoch, at(14, 19, 30)},
		{"later today", Monday, 13 * time.Hour, time.UTC, epoch, at(10, 13, 0)},
		{"earlier today rolls a week", Monday, 11 * time.Hour, time.UTC, epoch, at(17, 11, 0)},
		{"exactly now rolls a week", Monday, 12 * time.Hour, time.UTC, epoch, at(17, 12, 0)},
		{"sunday midnight", Sunday, 0, time.UTC, epoch, at(16, 0, 0)},
		{"eastern standard time", Saturday, 20 * time.Hour, newYork, at(1, 12, 0), at(2, 1, 0)},
		{"across the daylight saving change", Sunday, 20 * time.Hour, newYork, at(3, 12, 0), at(10, 0, 0)},
		// 02:00 UTC on Saturday is still Friday evening in New York.
		{"local weekday differs from utc", Friday, 23 * time.Hour, newYork, at(15, 2, 0), at(15, 3, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt := &GamedayTime{Weekday: tt.weekday, TimeOfDay: tt.clock}
			got := gt.NextOccurrence(tt.after, tt.loc)
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Fatalf("NextOccurrence = %v, want %v", got, tt.want)
			}
		})
	}
}

func utcHarness(t *testing.T) *harness {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	return newHarness(t, 3, cfg)
}

func (h *harness) weekly(weekday Weekday, clock time.Duration) (*GamedayTime, *Gameday) {
	h.t.Helper()
	gt, g, err := h.app.CreateGamedayTime(h.ctx, CreateGamedayTimeRequest{BucketID: h.bucket.ID, Weekday: weekday, TimeOfDay: clock})
	if err != nil {
		h.t.Fatalf("CreateGamedayTime: %v", err)
	}
	return gt, g
}

func (h *harness) upcoming(timeID uuid.UUID) []*Gameday {
	h.t.Helper()
	ids, err := h.repo.UpcomingForTime(h.ctx, timeID)
	if err != nil {
		h.t.Fatalf("UpcomingForTime: %v", err)
	}
	var out []*Gameday
	for _, id := range ids {
		out = append(out, h.snapshot(id))
	}
	return out
}

func TestCreateGamedayTimeSchedulesNextOccurrence(t *testing.T) {
	h := utcHarness(t)
	gt, g := h.weekly(Friday, 19*time.Hour+30*time.Minute)

	if want := time.Date(2025, 3, 14, 19, 30, 0, 0, time.UTC); !g.StartsAt.Equal(want) {
		t.Fatalf("StartsAt = %v, want %v", g.StartsAt, want)
	}
	if g.GamedayTimeID != (uuid.NullUUID{UUID: gt.ID, Valid: true}) {
		t.Fatalf("GamedayTimeID = %v, want %s", g.GamedayTimeID, gt.ID)
	}
	if stored, ok := h.repo.times[gt.ID]; !ok || stored.BucketID != h.bucket.ID || stored.TeamID != h.bucket.TeamID {
		t.Fatalf("stored time = %+v", stored)
	}
	h.timer(g.StartTimerID)
}

func TestCreateGamedayTimeRejectsBadInput(t *testing.T) {
	h := utcHarness(t)
	tests := []struct {
		weekday Weekday
		clock   time.Duration
		want    error
	}{
		{0, time.Hour, ErrInvalidWeekday},
		{8, time.Hour, ErrInvalidWeekday},
		{Friday, 24 * time.Hour, ErrInvalidTimeOfDay},
		{Friday, -time.Minute, ErrInvalidTimeOfDay},
		{Friday, 90 * time.Second, ErrInvalidTimeOfDay},
	}
	for _, tt := range tests {
		_, _, err := h.app.CreateGamedayTime(h.ctx, CreateGamedayTimeRequest{BucketID: h.bucket.ID, Weekday: tt.weekday, TimeOfDay: tt.clock})
		if !errors.Is(err, tt.want) {
			t.Errorf("(%d, %s) err = %v, want %v", tt.weekday, tt.clock, err, tt.want)
		}
	}
	if _, _, err := h.app.CreateGamedayTime(h.ctx, CreateGamedayTimeRequest{BucketID: uuid.New(), Weekday: Friday}); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("unknown bucket err = %v", err)
	}
	if len(h.repo.times) != 0 || len(h.repo.gamedays) != 0 {
		t.Fatalf("rejected requests stored %d times and %d gamedays", len(h.repo.times), len(h.repo.gamedays))
	}
}

func TestEndedWeeklyGamedaySchedulesNext(t *testing.T) {
	h := utcHarness(t)
	gt, g := h.weekly(Friday, 19*time.Hour+30*time.Minute)

	h.clock.Advance(g.StartsAt.Sub(h.clock.Now()))
	h.kickoff(g)
	if got := h.upcoming(gt.ID); len(got) != 0 {
		t.Fatalf("%d upcoming before the gameday ended", len(got))
	}
	if _, err := h.app.MarkComplete(h.ctx, g.ID, "alice"); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	end := h.endTimer()
	h.fire(end)

	next := h.upcoming(gt.ID)
	if len(next) != 1 {
		t.Fatalf("%d upcoming gamedays, want 1", len(next))
	}
	if want := time.Date(2025, 3, 21, 19, 30, 0, 0, time.UTC); !next[0].StartsAt.Equal(want) {
		t.Fatalf("next StartsAt = %v, want %v", next[0].StartsAt, want)
	}

	// A repeated end event does not add a second gameday.
	h.fire(end)
	if got := h.upcoming(gt.ID); len(got) != 1 {
		t.Fatalf("%d upcoming gamedays after a repeated end, want 1", len(got))
	}
}

func TestCancelledWeeklyGamedayIsReplaced(t *testing.T) {
	h := utcHarness(t)
	gt, g := h.weekly(Wednesday, 18*time.Hour)

	if err := h.app.CancelGameday(h.ctx, g.ID); err != nil {
		t.Fatalf("CancelGameday: %v", err)
	}
	next := h.upcoming(gt.ID)
	if len(next) != 1 || next[0].ID == g.ID {
		t.Fatalf("upcoming = %v", next)
	}
	if !next[0].StartsAt.Equal(g.StartsAt.AddDate(0, 0, 7)) {
		t.Fatalf("replacement StartsAt = %v, want a week after %v", next[0].StartsAt, g.StartsAt)
	}
}

func TestDeleteGamedayTimeCancelsUpcoming(t *testing.T) {
	h := utcHarness(t)
	gt, g := h.weekly(Friday, 20*time.Hour)
	other := h.create(72 * time.Hour)

	n, err := h.app.DeleteGamedayTime(h.ctx, gt.ID)
	if err != nil {
		t.Fatalf("DeleteGamedayTime: %v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled %d, want 1", n)
	}
	if _, err := h.app.GetGameday(h.ctx, g.ID); !errors.Is(err, ErrGamedayNotFound) {
		t.Fatalf("weekly gameday err = %v, want ErrGamedayNotFound", err)
	}
	if len(h.repo.gamedays) != 1 || h.repo.gamedays[other.ID] == nil {
		t.Fatalf("gamedays left = %d, want only the one-off", len(h.repo.gamedays))
	}
	pending, _ := h.mgr.ListTimers(h.ctx)
	if len(pending) != 3 {
		t.Fatalf("%d timers pending, want the one-off's 3", len(pending))
	}
	if _, err := h.app.DeleteGamedayTime(h.ctx, gt.ID); !errors.Is(err, ErrGamedayTimeNotFound) {
		t.Fatalf("second delete err = %v, want ErrGamedayTimeNotFound", err)
	}
}
