package scrim

import (
	"context"
	"errors"
	"fmt"

	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Register wires the scrim timer listeners into d.
func (a *App) Register(d *timers.Dispatcher) {
	timers.On(d, events.ScrimReminder, a.OnReminder)
	timers.On(d, events.ScrimScheduled, a.OnScheduled)
	timers.On(d, events.ScrimDelete, a.OnDelete)
}

// withScrim loads the scrim under its lock. A scrim that is already gone is skipped.
func (a *App) withScrim(ctx context.Context, p events.ScrimPayload, fn func(s *Scrim) error) error {
	unlock := a.locks.Lock(p.ScrimID)
	defer unlock()

	s, err := a.load(ctx, p.ScrimID)
	if errors.Is(err, ErrScrimNotFound) {
		log.Debug().Str("scrim_id", p.ScrimID.String()).Msg("timer for a removed scrim, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	return fn(s)
}

// OnReminder runs shortly before the scrim. A scrim the home team never confirmed is cancelled.
func (a *App) OnReminder(ctx context.Context, p events.ScrimPayload) error {
	return a.withScrim(ctx, p, func(s *Scrim) error {
		if s.Status == StatusPendingHost {
			return a.cancel(ctx, s, "the home team did not confirm in time")
		}

		home, err := a.teams.GetTeam(ctx, s.HomeTeamID)
		if err != nil {
			return a.cancel(ctx, s, "one of the teams has been deleted")
		}
		away, err := a.teams.GetTeam(ctx, s.AwayTeamID)
		if err != nil {
			return a.cancel(ctx, s, "one of the teams has been deleted")
		}

		next := s.clone()
		next.ReminderTimerID = uuid.NullUUID{}
		a.save(ctx, s, next)

		switch s.Status {
		case StatusPendingAway:
			content := fmt.Sprintf("The scrim starts %s and is still waiting on %d vote(s) from %s.",
				discordTime(s.ScheduledFor), s.PerTeam-len(s.AwayVoterIDs), away.Name)
			a.announce(ctx, home.TextChannelID, content)
			a.announce(ctx, away.TextChannelID, away.Mentions()+" "+content)
		case StatusScheduled:
			content := fmt.Sprintf("Reminder: the scrim between %s and %s starts %s. Be ready!",
				home.Name, away.Name, discordTime(s.ScheduledFor))
			a.announce(ctx, home.TextChannelID, home.Mentions()+" "+content)
			a.announce(ctx, away.TextChannelID, away.Mentions()+" "+content)
		}
		return nil
	})
}

// OnScheduled runs at the start time. An unconfirmed scrim is cancelled, a
// confirmed one is announced and kept around for the chat lifetime.
func (a *App) OnScheduled(ctx context.Context, p events.ScrimPayload) error {
	return a.withScrim(ctx, p, func(s *Scrim) error {
		if s.Status != StatusScheduled {
			return a.cancel(ctx, s, fmt.Sprintf("not enough votes to start (home %d/%d, away %d/%d)",
				len(s.HomeVoterIDs), s.PerTeam, len(s.AwayVoterIDs), s.PerTeam))
		}

		home, err := a.teams.GetTeam(ctx, s.HomeTeamID)
		if err != nil {
			return a.cancel(ctx, s, "one of the teams has been deleted")
		}
		away, err := a.teams.GetTeam(ctx, s.AwayTeamID)
		if err != nil {
			return a.cancel(ctx, s, "one of the teams has been deleted")
		}

		t, err := a.scheduler.CreateTimer(ctx, a.clock.Now().Add(a.cfg.ChatLifetime), events.ScrimDelete, s.payload())
		if err != nil {
			return fmt.Errorf("failed to create scrim delete timer: %w", err)
		}
		next := s.clone()
		next.ScheduledTimerID = uuid.NullUUID{}
		next.DeleteTimerID = uuid.NullUUID{UUID: t.ID, Valid: true}
		if err := a.repo.UpdateState(ctx, next); err != nil {
			a.deleteTimer(ctx, next.DeleteTimerID)
			return err
		}
		*s = *next

		content := fmt.Sprintf("%s vs %s is starting now! %s: %s. %s: %s.",
			home.Name, away.Name, home.Name, mentions(s.HomeVoterIDs), away.Name, mentions(s.AwayVoterIDs))
		a.announce(ctx, home.TextChannelID, content)
		a.announce(ctx, away.TextChannelID, content)
		return nil
	})
}

// OnDelete removes a finished scrim.
func (a *App) OnDelete(ctx context.Context, p events.ScrimPayload) error {
	return a.withScrim(ctx, p, func(s *Scrim) error {
		if err := a.repo.DeleteScrim(ctx, s.ID); err != nil && !errors.Is(err, ErrScrimNotFound) {
			return err
		}
		a.forget(s.ID)
		log.Info().Str("scrim_id", s.ID.String()).Msg("scrim finished and removed")
		return nil
	})
}
