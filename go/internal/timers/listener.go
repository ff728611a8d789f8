package timers

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig configures the LISTEN/NOTIFY wake-up listener.
type ListenerConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel the timers trigger notifies on
	PingInterval  time.Duration // Keeps the dedicated connection alive
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "furybot_timers",
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// Waker is woken whenever another connection inserts or moves a timer.
type Waker interface {
	Wake()
}

// NotifyListener wakes the manager when a timer row changes in any process,
// for example a timer written by an operator tool or a second bot instance.
type NotifyListener struct {
	listener *pq.Listener
	waker    Waker
	cfg      ListenerConfig
}

func NewNotifyListener(cfg ListenerConfig, waker Waker) (*NotifyListener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("timer listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for timer notifications")

	return &NotifyListener{
		listener: l,
		waker:    waker,
		cfg:      cfg,
	}, nil
}

// Start relays notifications until ctx is cancelled.
func (l *NotifyListener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("timer listener shutting down")
			return l.listener.Close()
		case note := <-l.listener.Notify:
			// A nil notification means the connection was re-established and
			// notifications may have been missed, so wake either way.
			if note != nil {
				log.Debug().Str("timer_id", note.Extra).Msg("timer changed elsewhere")
			}
			l.waker.Wake()
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping timer listener")
			}
		}
	}
}
