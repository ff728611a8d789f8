package timers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps timers in process memory for tests. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	pending  map[uuid.UUID]*Timer
	archived []Timer
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[uuid.UUID]*Timer)}
}

func (s *MemoryStore) Insert(_ context.Context, p InsertParams) (*Timer, error) {
	t := &Timer{
		ID:        p.ID,
		Event:     p.Event,
		Payload:   append([]byte(nil), p.Payload...),
		Precise:   p.Precise,
		CreatedAt: normalize(p.CreatedAt),
		ExpiresAt: normalize(p.ExpiresAt),
	}
	if len(p.Payload) == 0 {
		t.Payload = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) EarliestPending(_ context.Context, cutoff time.Time) (*Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Timer
	for _, t := range s.pending {
		if !t.ExpiresAt.Before(cutoff) {
			continue
		}
		if best == nil || before(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) (*Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[id]
	if !ok {
		return nil, ErrTimerNotFound
	}
	delete(s.pending, id)
	return t, nil
}

func (s *MemoryStore) Archive(_ context.Context, t *Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = append(s.archived, *t)
	return nil
}

func (s *MemoryStore) Fetch(_ context.Context, id uuid.UUID) (*Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[id]
	if !ok {
		return nil, ErrTimerNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Timer, 0, len(s.pending))
	for _, t := range s.pending {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return before(&out[i], &out[j]) })
	return out, nil
}

func (s *MemoryStore) UpdateExpiry(_ context.Context, id uuid.UUID, expires time.Time) (*Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[id]
	if !ok {
		return nil, ErrTimerNotFound
	}
	t.ExpiresAt = normalize(expires)
	cp := *t
	return &cp, nil
}

// Archived returns a copy of every archived timer, oldest first.
func (s *MemoryStore) Archived() []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Timer(nil), s.archived...)
}
