package timers

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// worker dispatches fired timers until the work channel is closed.
func (m *Manager) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for t := range m.workCh {
		m.dispatch(ctx, t)
	}
}

func (m *Manager) dispatch(ctx context.Context, t *Timer) {
	if m.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.HandlerTimeout)
		defer cancel()
	}

	log.Info().
		Str("timer_id", t.ID.String()).
		Str("event", t.Event.CompletionName()).
		Str("instance", m.instanceID).
		Msg("dispatching timer")

	m.dispatcher.Dispatch(ctx, t)
}
