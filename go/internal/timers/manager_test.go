package timers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type harness struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	store  *MemoryStore
	disp   *Dispatcher
	mgr    *Manager
	fired  chan *Timer
	cancel context.CancelFunc
}

func newHarness(t *testing.T, store Store) *harness {
	t.Helper()
	mem := NewMemoryStore()
	if store == nil {
		store = mem
	}
	h := &harness{
		t:     t,
		clock: clockwork.NewFakeClockAt(epoch),
		store: mem,
		disp:  NewDispatcher(nil),
		fired: make(chan *Timer, 64),
	}
	h.disp.Tap(func(_ context.Context, tm *Timer) error {
		h.fired <- tm
		return nil
	})
	h.mgr = NewManager(store, h.disp, DefaultConfig(), WithClock(h.clock))
	return h
}

// run starts the loop; the ready gate is opened only when ready is true.
func (h *harness) run(ready bool) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := h.mgr.Run(ctx); err != nil {
			h.t.Errorf("Run returned %v", err)
		}
	}()
	if ready {
		h.mgr.MarkReady()
	}
	h.t.Cleanup(func() {
		cancel()
		<-done
	})
}

// blockUntilSleeping waits until the loop is parked on exactly one clock timer.
func (h *harness) blockUntilSleeping() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
		h.t.Fatalf("loop never went to sleep: %v", err)
	}
}

func (h *harness) create(ev Event, in time.Duration) *Timer {
	h.t.Helper()
	tm, err := h.mgr.CreateTimer(context.Background(), h.clock.Now().Add(in), ev, nil)
	if err != nil {
		h.t.Fatalf("CreateTimer(%s): %v", ev, err)
	}
	return tm
}

func (h *harness) expectFired(ev Event) *Timer {
	h.t.Helper()
	select {
	case tm := <-h.fired:
		if tm.Event != ev {
			h.t.Fatalf("fired %s, want %s", tm.Event, ev)
		}
		return tm
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting for %s", ev)
		return nil
	}
}

func (h *harness) expectNothing() {
	h.t.Helper()
	select {
	case tm := <-h.fired:
		h.t.Fatalf("unexpected dispatch of %s", tm.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_FiresAtExpiryAndNotBefore(t *testing.T) {
	h := newHarness(t, nil)
	h.create("ping", 2*time.Second)
	h.run(true)

	h.blockUntilSleeping()
	h.clock.Advance(1999 * time.Millisecond)
	h.expectNothing()

	h.clock.Advance(time.Millisecond)
	tm := h.expectFired("ping")

	if _, err := h.store.Fetch(context.Background(), tm.ID); !errors.Is(err, ErrTimerNotFound) {
		t.Fatalf("fired timer must be removed from the pending table")
	}
	if archived := h.store.Archived(); len(archived) != 1 || archived[0].ID != tm.ID {
		t.Fatalf("fired timer must be archived once, got %d", len(archived))
	}
}

func TestManager_EarlierInsertInterruptsSleep(t *testing.T) {
	h := newHarness(t, nil)
	h.create("slow", 10*time.Second)
	h.run(true)
	h.blockUntilSleeping()

	h.clock.Advance(time.Second)
	h.create("urgent", time.Second)
	h.clock.Advance(time.Second)
	h.expectFired("urgent")
	h.expectNothing()

	h.clock.Advance(8 * time.Second)
	h.expectFired("slow")
}

func TestManager_DispatchesInExpiryOrder(t *testing.T) {
	h := newHarness(t, nil)
	offsets := map[Event]time.Duration{
		"c": 30 * time.Minute,
		"a": 5 * time.Minute,
		"e": 50 * time.Minute,
		"b": 10 * time.Minute,
		"d": 40 * time.Minute,
	}
	for ev, in := range offsets {
		h.create(ev, in)
	}
	h.run(true)
	h.blockUntilSleeping()
	h.clock.Advance(time.Hour)

	for _, ev := range []Event{"a", "b", "c", "d", "e"} {
		h.expectFired(ev)
	}
}

func TestManager_EqualExpiriesFireInInsertionOrder(t *testing.T) {
	h := newHarness(t, nil)
	for _, ev := range []Event{"first", "second", "third"} {
		h.create(ev, time.Minute)
	}
	h.run(true)
	h.blockUntilSleeping()
	h.clock.Advance(time.Minute)

	h.expectFired("first")
	h.expectFired("second")
	h.expectFired("third")
}

func TestManager_RequeueImmediatelyFiresOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	tm := h.create("gameday_voting_end", time.Hour)
	h.run(true)
	h.blockUntilSleeping()

	// the loop is sleeping on this very timer
	if err := h.mgr.RequeueImmediately(ctx, tm.ID); err != nil {
		t.Fatalf("RequeueImmediately: %v", err)
	}
	h.expectFired("gameday_voting_end")

	if err := h.mgr.RequeueImmediately(ctx, tm.ID); err != nil {
		t.Fatalf("requeue of a fired timer must be a no-op, got %v", err)
	}
	h.blockUntilSleeping()
	h.clock.Advance(2 * time.Hour)
	h.expectNothing()

	if n := len(h.store.Archived()); n != 1 {
		t.Fatalf("archived %d times, want 1", n)
	}
}

func TestManager_RequeueOfNonHeadTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.create("head", 10*time.Minute)
	tail := h.create("tail", time.Hour)
	h.run(true)
	h.blockUntilSleeping()

	if err := h.mgr.RequeueImmediately(ctx, tail.ID); err != nil {
		t.Fatalf("RequeueImmediately: %v", err)
	}
	h.expectFired("tail")

	h.blockUntilSleeping()
	h.clock.Advance(10 * time.Minute)
	h.expectFired("head")

	h.blockUntilSleeping()
	h.clock.Advance(2 * time.Hour)
	h.expectNothing()
}

func TestManager_HorizonDefersFarTimers(t *testing.T) {
	h := newHarness(t, nil)
	h.create("far", 50*24*time.Hour)
	h.run(true)

	h.blockUntilSleeping()
	h.expectNothing()

	// the idle re-poll brings the timer inside the horizon
	h.clock.Advance(11 * 24 * time.Hour)
	h.blockUntilSleeping()
	h.expectNothing()

	h.clock.Advance(39 * 24 * time.Hour)
	h.expectFired("far")
}

func TestManager_DeletedTimerNeverFires(t *testing.T) {
	h := newHarness(t, nil)
	tm := h.create("cancelled", 5*time.Second)
	h.run(true)
	h.blockUntilSleeping()

	if err := h.mgr.DeleteTimer(context.Background(), tm.ID); err != nil {
		t.Fatalf("DeleteTimer: %v", err)
	}
	if err := h.mgr.DeleteTimer(context.Background(), tm.ID); !errors.Is(err, ErrTimerNotFound) {
		t.Fatalf("second delete err = %v, want ErrTimerNotFound", err)
	}

	h.clock.Advance(5 * time.Second)
	h.expectNothing()
	if n := len(h.store.Archived()); n != 0 {
		t.Fatalf("deleted timer was archived")
	}
}

func TestManager_WaitsForReadyGate(t *testing.T) {
	h := newHarness(t, nil)
	h.create("ping", 0)
	h.run(false)
	h.expectNothing()

	h.mgr.MarkReady()
	h.expectFired("ping")
}

func TestManager_ListenerFailureDoesNotStopLoop(t *testing.T) {
	h := newHarness(t, nil)
	h.disp.OnTimer("boom", func(context.Context, *Timer) error { panic("listener bug") })

	if _, err := h.mgr.CreateImpreciseTimer(context.Background(), h.clock.Now(), "boom", nil); err != nil {
		t.Fatalf("CreateImpreciseTimer: %v", err)
	}
	h.create("after", time.Second)
	h.run(true)

	h.expectFired("boom")
	h.blockUntilSleeping()
	h.clock.Advance(time.Second)
	h.expectFired("after")
}

type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) EarliestPending(ctx context.Context, cutoff time.Time) (*Timer, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.MemoryStore.EarliestPending(ctx, cutoff)
}

func TestManager_RetriesTransientStoreFailures(t *testing.T) {
	mem := NewMemoryStore()
	store := &flakyStore{MemoryStore: mem, failures: 2}
	h := newHarness(t, store)
	h.store = mem

	h.create("ping", 0)
	h.run(true)

	// first failure backs off 1s, the second 2s
	h.blockUntilSleeping()
	h.clock.Advance(time.Second)
	h.blockUntilSleeping()
	h.expectNothing()
	h.clock.Advance(2 * time.Second)
	h.expectFired("ping")
}
