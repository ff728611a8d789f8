package timers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrListenerShape is reported when a timer's precise flag does not match the
// form its listener was registered with.
var ErrListenerShape = errors.New("listener does not accept this timer form")

// ErrorReporter receives listener failures. Dispatch never propagates them.
type ErrorReporter interface {
	ReportListenerError(ctx context.Context, t *Timer, err error)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(ctx context.Context, t *Timer, err error)

func (f ErrorReporterFunc) ReportListenerError(ctx context.Context, t *Timer, err error) {
	f(ctx, t, err)
}

// logReporter is the default reporter.
type logReporter struct{}

func (logReporter) ReportListenerError(_ context.Context, t *Timer, err error) {
	log.Error().
		Err(err).
		Str("timer_id", t.ID.String()).
		Str("event", t.Event.CompletionName()).
		Msg("timer listener failed")
}

type listener struct {
	// exactly one of these is set
	onPayload func(ctx context.Context, payload json.RawMessage) error
	onTimer   func(ctx context.Context, t *Timer) error
}

// Dispatcher maps event kinds to the listeners registered for them at startup.
// Every listener of an event receives the timer (fan-out); their order is not part
// of the contract.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Event][]listener
	taps      []func(ctx context.Context, t *Timer) error
	reporter  ErrorReporter
}

// NewDispatcher creates a dispatcher. A nil reporter logs failures.
func NewDispatcher(reporter ErrorReporter) *Dispatcher {
	if reporter == nil {
		reporter = logReporter{}
	}
	return &Dispatcher{
		listeners: make(map[Event][]listener),
		reporter:  reporter,
	}
}

// On registers a listener for precise timers of kind ev. The stored payload is
// decoded into P once, before fn runs.
func On[P any](d *Dispatcher, ev Event, fn func(ctx context.Context, payload P) error) {
	d.add(ev, listener{onPayload: func(ctx context.Context, raw json.RawMessage) error {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", ev, err)
		}
		return fn(ctx, p)
	}})
}

// OnTimer registers a listener for imprecise timers of kind ev; it receives the timer itself.
func (d *Dispatcher) OnTimer(ev Event, fn func(ctx context.Context, t *Timer) error) {
	d.add(ev, listener{onTimer: fn})
}

// Tap registers fn for every dispatched timer regardless of kind or form.
func (d *Dispatcher) Tap(fn func(ctx context.Context, t *Timer) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taps = append(d.taps, fn)
}

func (d *Dispatcher) add(ev Event, l listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[ev] = append(d.listeners[ev], l)
}

// Validate fails if any of the given kinds has no listener.
func (d *Dispatcher) Validate(kinds ...Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var missing []string
	for _, k := range kinds {
		if len(d.listeners[k]) == 0 {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("no listeners registered for: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Dispatch delivers t to its listeners, then to every tap. Failures and panics are
// isolated per listener and handed to the reporter.
func (d *Dispatcher) Dispatch(ctx context.Context, t *Timer) {
	d.mu.RLock()
	ls := append([]listener(nil), d.listeners[t.Event]...)
	taps := append([]func(context.Context, *Timer) error(nil), d.taps...)
	d.mu.RUnlock()

	if len(ls) == 0 {
		log.Warn().
			Str("timer_id", t.ID.String()).
			Str("event", t.Event.CompletionName()).
			Msg("no listeners for timer event")
	}

	for _, l := range ls {
		d.invoke(ctx, t, func(ctx context.Context) error {
			switch {
			case t.Precise && l.onPayload != nil:
				payload := t.Payload
				if len(payload) == 0 {
					payload = json.RawMessage("null")
				}
				return l.onPayload(ctx, payload)
			case !t.Precise && l.onTimer != nil:
				return l.onTimer(ctx, t)
			default:
				return fmt.Errorf("%s (precise=%t): %w", t.Event, t.Precise, ErrListenerShape)
			}
		})
	}
	for _, tap := range taps {
		d.invoke(ctx, t, func(ctx context.Context) error { return tap(ctx, t) })
	}
}

func (d *Dispatcher) invoke(ctx context.Context, t *Timer, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			d.reporter.ReportListenerError(ctx, t, fmt.Errorf("listener panic: %v", r))
		}
	}()
	if err := fn(ctx); err != nil {
		d.reporter.ReportListenerError(ctx, t, err)
	}
}
