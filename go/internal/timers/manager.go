package timers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Store defines what the manager needs from timer persistence.
type Store interface {
	Insert(ctx context.Context, p InsertParams) (*Timer, error)
	EarliestPending(ctx context.Context, cutoff time.Time) (*Timer, error)
	Delete(ctx context.Context, id uuid.UUID) (*Timer, error)
	Archive(ctx context.Context, t *Timer) error
	Fetch(ctx context.Context, id uuid.UUID) (*Timer, error)
	ListAll(ctx context.Context) ([]Timer, error)
	UpdateExpiry(ctx context.Context, id uuid.UUID, expires time.Time) (*Timer, error)
}

// Config tunes the scheduling loop.
type Config struct {
	// Horizon bounds how far ahead the loop looks; timers beyond it are picked up
	// by a later poll once they drift into range.
	Horizon        time.Duration `yaml:"horizon"`
	IdlePoll       time.Duration `yaml:"idle_poll"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	DispatchBuffer int           `yaml:"dispatch_buffer"`
	// HandlerTimeout bounds a single dispatch; zero means no limit.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Horizon:        40 * 24 * time.Hour,
		IdlePoll:       24 * time.Hour,
		RetryBackoff:   time.Second,
		MaxBackoff:     30 * time.Second,
		DispatchBuffer: 64,
	}
}

// Manager owns the single loop that turns persisted timers into dispatched events,
// once each, in expiry order.
type Manager struct {
	store      Store
	dispatcher *Dispatcher
	clock      Clock
	cfg        Config
	instanceID string // unique ID for this manager instance

	wakeCh    chan struct{}
	workCh    chan *Timer
	ready     chan struct{}
	readyOnce sync.Once

	// what the loop is currently blocked on, guarded by mu
	mu       sync.Mutex
	sleeping bool
	deadline time.Time // zero while idle
	lastPoll time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a timer manager. Run must be called once to start the loop.
func NewManager(store Store, dispatcher *Dispatcher, cfg Config, opts ...Option) *Manager {
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 1
	}
	m := &Manager{
		store:      store,
		dispatcher: dispatcher,
		clock:      clockwork.NewRealClock(),
		cfg:        cfg,
		instanceID: uuid.New().String()[:8], // short ID for logging
		wakeCh:     make(chan struct{}, 1),
		workCh:     make(chan *Timer, cfg.DispatchBuffer),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MarkReady opens the gate Run waits on before its first poll.
func (m *Manager) MarkReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

// Wake makes the loop re-read the store. It never blocks.
func (m *Manager) Wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// LastPoll returns when the loop last read the store successfully.
func (m *Manager) LastPoll() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPoll
}

// nudge wakes the loop unless it is already sleeping towards a deadline that is
// no later than expires.
func (m *Manager) nudge(expires time.Time) {
	m.mu.Lock()
	covered := m.sleeping && !m.deadline.IsZero() && !m.deadline.After(expires)
	m.mu.Unlock()
	if !covered {
		m.Wake()
	}
}

func (m *Manager) setSleeping(sleeping bool, deadline time.Time) {
	m.mu.Lock()
	m.sleeping = sleeping
	m.deadline = deadline
	m.mu.Unlock()
}

// CreateTimer schedules a precise timer: listeners receive payload decoded into
// their payload type. payload may be nil.
func (m *Manager) CreateTimer(ctx context.Context, when time.Time, event Event, payload any) (*Timer, error) {
	return m.createTimer(ctx, when, event, payload, true)
}

// CreateImpreciseTimer schedules a timer whose listeners receive the *Timer itself.
func (m *Manager) CreateImpreciseTimer(ctx context.Context, when time.Time, event Event, payload any) (*Timer, error) {
	return m.createTimer(ctx, when, event, payload, false)
}

func (m *Manager) createTimer(ctx context.Context, when time.Time, event Event, payload any, precise bool) (*Timer, error) {
	if event == "" {
		return nil, errors.New("timer event is required")
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		raw = b
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate timer id: %w", err)
	}

	t, err := m.store.Insert(ctx, InsertParams{
		ID:        id,
		Event:     event,
		Payload:   raw,
		Precise:   precise,
		CreatedAt: m.clock.Now(),
		ExpiresAt: when,
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("timer_id", t.ID.String()).
		Str("event", string(t.Event)).
		Time("expires", t.ExpiresAt).
		Msg("timer created")

	m.nudge(t.ExpiresAt)
	return t, nil
}

// FetchTimer returns a pending timer, or ErrTimerNotFound.
func (m *Manager) FetchTimer(ctx context.Context, id uuid.UUID) (*Timer, error) {
	return m.store.Fetch(ctx, id)
}

// ListTimers returns every pending timer in firing order.
func (m *Manager) ListTimers(ctx context.Context) ([]Timer, error) {
	return m.store.ListAll(ctx)
}

// DeleteTimer cancels a pending timer. It returns ErrTimerNotFound if it already fired.
func (m *Manager) DeleteTimer(ctx context.Context, id uuid.UUID) error {
	if _, err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	log.Debug().Str("timer_id", id.String()).Msg("timer deleted")
	return nil
}

// EditTimer moves a pending timer to a new expiry.
func (m *Manager) EditTimer(ctx context.Context, id uuid.UUID, expires time.Time) (*Timer, error) {
	t, err := m.store.UpdateExpiry(ctx, id, expires)
	if err != nil {
		return nil, err
	}
	m.nudge(t.ExpiresAt)
	return t, nil
}

// RequeueImmediately makes a pending timer due now. A timer that already fired or
// was deleted is left alone and no error is returned.
func (m *Manager) RequeueImmediately(ctx context.Context, id uuid.UUID) error {
	_, err := m.EditTimer(ctx, id, m.clock.Now())
	if errors.Is(err, ErrTimerNotFound) {
		log.Debug().Str("timer_id", id.String()).Msg("requeue skipped, timer already gone")
		return nil
	}
	return err
}

// Run loops until ctx is cancelled, sleeping until the earliest pending timer is
// due and handing it to the dispatch worker. Store failures are retried with a
// capped linear backoff and never end the loop.
func (m *Manager) Run(ctx context.Context) error {
	select {
	case <-m.ready:
	case <-ctx.Done():
		return nil
	}

	log.Info().
		Str("instance", m.instanceID).
		Dur("horizon", m.cfg.Horizon).
		Msg("timer manager started")

	// A single worker keeps dispatch in expiry order.
	var wg sync.WaitGroup
	wg.Add(1)
	go m.worker(ctx, &wg)

	defer func() {
		close(m.workCh)
		wg.Wait()
		log.Info().Str("instance", m.instanceID).Msg("timer manager stopped")
	}()

	retryCount := 0
	for {
		select {
		case <-m.wakeCh:
		default:
		}

		now := m.clock.Now()
		next, err := m.store.EarliestPending(ctx, now.Add(m.cfg.Horizon))
		if err == nil && next != nil && !next.ExpiresAt.After(now) {
			err = m.fire(ctx, next)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			retryCount++
			backoff := m.backoff(retryCount)
			log.Error().
				Err(err).
				Int("retry", retryCount).
				Dur("backoff", backoff).
				Str("instance", m.instanceID).
				Msg("timer store failed, retrying")
			if !m.pause(ctx, backoff) {
				return nil
			}
			continue
		}
		retryCount = 0

		m.mu.Lock()
		m.lastPoll = now
		m.mu.Unlock()

		switch {
		case next == nil:
			if !m.sleep(ctx, m.cfg.IdlePoll, time.Time{}) {
				log.Info().Str("instance", m.instanceID).Msg("shutdown during idle")
				return nil
			}
		case next.ExpiresAt.After(now):
			if !m.sleep(ctx, next.ExpiresAt.Sub(now), next.ExpiresAt) {
				log.Info().Str("instance", m.instanceID).Msg("shutdown during wait")
				return nil
			}
		}
	}
}

// sleep blocks for d, until woken, or until ctx ends. It returns false on shutdown.
func (m *Manager) sleep(ctx context.Context, d time.Duration, deadline time.Time) bool {
	timer := m.clock.NewTimer(d)
	defer stopAndDrainTimer(timer)

	m.setSleeping(true, deadline)
	defer m.setSleeping(false, time.Time{})

	select {
	case <-timer.Chan():
		return true
	case <-m.wakeCh:
		log.Debug().Str("instance", m.instanceID).Msg("woken up early")
		return true
	case <-ctx.Done():
		return false
	}
}

// pause is sleep without the wake channel; used while the store is failing.
func (m *Manager) pause(ctx context.Context, d time.Duration) bool {
	timer := m.clock.NewTimer(d)
	defer stopAndDrainTimer(timer)

	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.RetryBackoff * time.Duration(attempt)
	if m.cfg.MaxBackoff > 0 && d > m.cfg.MaxBackoff {
		d = m.cfg.MaxBackoff
	}
	return d
}

// fire claims a due timer by deleting it. Deletion is the single source of
// "already fired": if another path got there first the timer is skipped.
func (m *Manager) fire(ctx context.Context, t *Timer) error {
	claimed, err := m.store.Delete(ctx, t.ID)
	if errors.Is(err, ErrTimerNotFound) {
		log.Debug().Str("timer_id", t.ID.String()).Msg("timer already claimed, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.store.Archive(ctx, claimed); err != nil {
		log.Warn().Err(err).Str("timer_id", claimed.ID.String()).Msg("failed to archive fired timer")
	}

	select {
	case m.workCh <- claimed:
		log.Debug().
			Str("timer_id", claimed.ID.String()).
			Str("event", string(claimed.Event)).
			Msg("timer fired - enqueued for dispatch")
	case <-ctx.Done():
		log.Warn().Str("timer_id", claimed.ID.String()).Msg("shutdown before fired timer was dispatched")
	}
	return nil
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
