package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// PublisherConfig configures where fired timers are mirrored.
type PublisherConfig struct {
	StreamName    string
	SubjectPrefix string
	MaxAge        time.Duration
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		StreamName:    "FURYBOT_TIMERS",
		SubjectPrefix: "furybot.timers",
		MaxAge:        7 * 24 * time.Hour,
	}
}

// Envelope is the message body published for each fired timer.
type Envelope struct {
	TimerID   string          `json:"timer_id"`
	Event     string          `json:"event"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds the published form of a fired timer.
func NewEnvelope(t *timers.Timer) Envelope {
	return Envelope{
		TimerID:   t.ID.String(),
		Event:     string(t.Event),
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
		Payload:   t.Payload,
	}
}

// Subject returns the subject a timer of kind ev is published on.
func (c PublisherConfig) Subject(ev timers.Event) string {
	return c.SubjectPrefix + "." + string(ev)
}

// NATSPublisher mirrors every fired timer to a JetStream stream so other services
// can follow gameday and scrim progress.
type NATSPublisher struct {
	js  jetstream.JetStream
	cfg PublisherConfig
}

// ConnectNATS dials NATS with reconnect handling suited to a long-running bot.
func ConnectNATS(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("furybot"),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewNATSPublisher ensures the stream exists and returns a publisher bound to it.
func NewNATSPublisher(ctx context.Context, nc *nats.Conn, cfg PublisherConfig) (*NATSPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		MaxAge:   cfg.MaxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
	}

	return &NATSPublisher{js: js, cfg: cfg}, nil
}

// Publish sends the timer envelope. The timer id doubles as the JetStream message
// id so a redelivered publish is de-duplicated by the server.
func (p *NATSPublisher) Publish(ctx context.Context, t *timers.Timer) error {
	body, err := json.Marshal(NewEnvelope(t))
	if err != nil {
		return fmt.Errorf("failed to marshal timer envelope: %w", err)
	}

	subject := p.cfg.Subject(t.Event)
	if _, err := p.js.Publish(ctx, subject, body, jetstream.WithMsgID(t.ID.String())); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Str("timer_id", t.ID.String()).
		Msg("published fired timer")
	return nil
}
