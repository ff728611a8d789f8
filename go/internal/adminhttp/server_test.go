package adminhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

type fakeDB struct{ err error }

func (f fakeDB) PingContext(context.Context) error { return f.err }

type fakeTimers struct {
	list     []timers.Timer
	err      error
	lastPoll time.Time
}

func (f fakeTimers) ListTimers(context.Context) ([]timers.Timer, error) { return f.list, f.err }
func (f fakeTimers) LastPoll() time.Time                                { return f.lastPoll }

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	polled := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		db       fakeDB
		lastPoll time.Time
		code     int
		want     HealthStatus
	}{
		{
			name:     "healthy",
			lastPoll: polled,
			code:     http.StatusOK,
			want:     HealthStatus{Healthy: true, DatabaseConnected: true, LoopRunning: true, LastPoll: polled, Errors: []string{}},
		},
		{
			name:     "database down",
			db:       fakeDB{err: errors.New("connection refused")},
			lastPoll: polled,
			code:     http.StatusServiceUnavailable,
			want: HealthStatus{LoopRunning: true, LastPoll: polled,
				Errors: []string{"database ping failed: connection refused"}},
		},
		{
			name: "loop not started",
			code: http.StatusServiceUnavailable,
			want: HealthStatus{DatabaseConnected: true, Errors: []string{"timer loop has not polled yet"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, New(tt.db, fakeTimers{lastPoll: tt.lastPoll}), "/health")
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			var got HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("health mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTimers(t *testing.T) {
	due := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	list := []timers.Timer{{ID: uuid.New(), Event: "scrim_reminder", Precise: true, ExpiresAt: due}}

	rec := get(t, New(fakeDB{}, fakeTimers{list: list}), "/timers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count  int            `json:"count"`
		Timers []timers.Timer `json:"timers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Timers[0].ID != list[0].ID || !body.Timers[0].ExpiresAt.Equal(due) {
		t.Fatalf("body = %+v", body)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestTimersStoreFailure(t *testing.T) {
	rec := get(t, New(fakeDB{}, fakeTimers{err: errors.New("boom")}), "/timers")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	rec := httptest.NewRecorder()
	New(fakeDB{}, fakeTimers{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/timers", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
