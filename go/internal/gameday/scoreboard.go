package gameday

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxScoreReportLength = 2000

func scoreboardButtons(id uuid.UUID) []notify.Button {
	s := id.String()
	return []notify.Button{
		{CustomID: notify.CustomID(ActionWin, s), Label: "Add Win", Style: notify.StyleSuccess},
		{CustomID: notify.CustomID(ActionLoss, s), Label: "Add Loss", Style: notify.StyleDanger},
		{CustomID: notify.CustomID(ActionReport, s), Label: "Report Score", Style: notify.StylePrimary},
		{CustomID: notify.CustomID(ActionComplete, s), Label: "Mark Complete", Style: notify.StyleSecondary},
	}
}

func scoreboardText(g *Gameday, bestOf int) string {
	return fmt.Sprintf("Gameday in progress (best of %d). Wins: %d, Losses: %d.", bestOf, g.Wins, g.Losses)
}

// ongoing loads a gameday that a team member may score.
func (a *App) ongoing(ctx context.Context, gamedayID uuid.UUID, memberID string) (*Gameday, error) {
	g, err := a.load(ctx, gamedayID)
	if err != nil {
		return nil, err
	}
	if g.StartedAt == nil {
		return nil, ErrGamedayNotStarted
	}
	if g.EndedAt != nil {
		return nil, ErrGamedayEnded
	}
	if _, err := a.teams.RequireMember(ctx, g.TeamID, memberID); err != nil {
		return nil, err
	}
	return g, nil
}

// ReportScore stores the result a member typed. The text is kept as written.
func (a *App) ReportScore(ctx context.Context, gamedayID uuid.UUID, memberID, text string) (*Gameday, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrScoreRequired
	}
	if utf8.RuneCountInString(text) > maxScoreReportLength {
		return nil, ErrScoreTooLong
	}

	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, err := a.ongoing(ctx, gamedayID, memberID)
	if err != nil {
		return nil, err
	}

	sr := ScoreReport{ID: uuid.New(), Text: text, ReportedBy: memberID, ReportedAt: a.clock.Now().UTC()}
	if err := a.repo.AddScoreReport(ctx, g.ID, sr); err != nil {
		return nil, err
	}
	g.ScoreReports = append(g.ScoreReports, sr)

	log.Info().Str("gameday_id", g.ID.String()).Str("member_id", memberID).Msg("score reported")
	return g.clone(), nil
}

// RecordResult adds a win or a loss to the scoreboard. The result that gives
// either side a majority of the series ends the gameday.
func (a *App) RecordResult(ctx context.Context, gamedayID uuid.UUID, memberID string, won bool) (*Gameday, error) {
	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, err := a.ongoing(ctx, gamedayID, memberID)
	if err != nil {
		return nil, err
	}

	wins, losses := g.Wins, g.Losses
	if won {
		wins++
	} else {
		losses++
	}
	if err := a.repo.UpdateScore(ctx, g.ID, wins, losses); err != nil {
		return nil, err
	}
	g.Wins, g.Losses = wins, losses

	log.Info().
		Str("gameday_id", g.ID.String()).
		Str("member_id", memberID).
		Int("wins", wins).
		Int("losses", losses).
		Msg("gameday result recorded")

	need := a.cfg.winsNeeded()
	if wins >= need || losses >= need {
		if err := a.finish(ctx, g); err != nil {
			return nil, err
		}
	}
	return g.clone(), nil
}

// MarkComplete ends a gameday before the series is decided.
func (a *App) MarkComplete(ctx context.Context, gamedayID uuid.UUID, memberID string) (*Gameday, error) {
	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, err := a.ongoing(ctx, gamedayID, memberID)
	if err != nil {
		return nil, err
	}
	if err := a.finish(ctx, g); err != nil {
		return nil, err
	}
	return g.clone(), nil
}

// finish records the end and queues the gameday_end event that posts the
// final score. Callers hold the gameday lock.
func (a *App) finish(ctx context.Context, g *Gameday) error {
	now := a.clock.Now().UTC()
	t, err := a.scheduler.CreateImpreciseTimer(ctx, now, events.GamedayEnd, g.payload())
	if err != nil {
		return fmt.Errorf("failed to create %s timer: %w", events.GamedayEnd, err)
	}
	if err := a.repo.MarkEnded(ctx, g.ID, now); err != nil {
		a.deleteTimer(ctx, uuid.NullUUID{UUID: t.ID, Valid: true})
		return err
	}
	g.EndedAt = &now

	log.Info().Str("gameday_id", g.ID.String()).Int("wins", g.Wins).Int("losses", g.Losses).Msg("gameday ended")
	return nil
}

// EndGameday runs when the gameday_end timer fires. It swaps the scoreboard for
// the final score and schedules the next weekly gameday.
func (a *App) EndGameday(ctx context.Context, t *timers.Timer) error {
	var p events.GamedayPayload
	if err := t.Decode(&p); err != nil {
		return err
	}

	unlock := a.locks.Lock(p.GamedayID)
	defer unlock()

	g, err := a.load(ctx, p.GamedayID)
	if errors.Is(err, ErrGamedayNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if g.EndedAt == nil {
		log.Warn().Str("gameday_id", g.ID.String()).Str("timer_id", t.ID.String()).Msg("gameday end fired for a gameday still in progress")
		return nil
	}

	team, err := a.teams.GetTeam(ctx, g.TeamID)
	if err != nil {
		return err
	}
	a.retract(ctx, team.TextChannelID, g.ScoreboardMessageID)
	a.announce(ctx, team.TextChannelID, fmt.Sprintf("Gameday ended. Final score: %d wins, %d losses. %d score report(s) submitted.",
		g.Wins, g.Losses, len(g.ScoreReports)))

	if g.GamedayTimeID.Valid {
		if _, err := a.scheduleNext(ctx, g.GamedayTimeID.UUID, g.StartsAt); err != nil {
			return err
		}
	}
	return nil
}
