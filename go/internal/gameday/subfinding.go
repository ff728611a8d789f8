package gameday

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// subFindingWindow bounds a search that starts at now. The search ends at the
// earlier of the kickoff buffer and the max window.
func (c Config) subFindingWindow(kickoff, now time.Time) (time.Time, error) {
	if kickoff.Sub(now) < c.SubFindingMinLead {
		return time.Time{}, ErrTooCloseToKickoff
	}
	end := kickoff.Add(-c.SubFindingKickoffBuffer)
	if limit := now.Add(c.SubFindingMaxWindow); limit.Before(end) {
		end = limit
	}
	if end.Sub(now) < c.SubFindingMinWindow {
		return time.Time{}, ErrSubFindingWindowTooShort
	}
	return end, nil
}

// StartSubFinding starts a search by hand, e.g. when the gameday opted out of
// the automatic one.
func (a *App) StartSubFinding(ctx context.Context, gamedayID uuid.UUID) (*Gameday, error) {
	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, err := a.load(ctx, gamedayID)
	if err != nil {
		return nil, err
	}
	if g.Voting.State == VotingOpen || g.Voting.State == VotingNotStarted {
		return nil, ErrVotingStillOpen
	}
	b, err := a.bucket(ctx, g.BucketID)
	if err != nil {
		return nil, err
	}
	if err := a.startSubFinding(ctx, g, b); err != nil {
		return nil, err
	}
	return g.clone(), nil
}

// startSubFinding posts the sub panel and arms the search end timer. Callers hold the gameday lock.
func (a *App) startSubFinding(ctx context.Context, g *Gameday, b *Bucket) error {
	if g.SubFinding != nil && g.SubFinding.State == SubFindingSearching {
		return ErrSubFindingInProgress
	}
	if g.HasVotesNeeded(b.PerTeam) {
		return ErrSubFindingNotNeeded
	}
	if b.AutomaticSubFindingChannelID == "" {
		return ErrNoSubFindingChannel
	}

	now := a.clock.Now().UTC()
	end, err := a.cfg.subFindingWindow(g.StartsAt, now)
	if err != nil {
		return err
	}

	t, err := a.scheduler.CreateTimer(ctx, end, events.SubFindingEnd, g.payload())
	if err != nil {
		return fmt.Errorf("failed to create sub finding timer: %w", err)
	}

	sf := SubFinding{
		StartsAt:   now,
		EndsAt:     t.ExpiresAt,
		EndTimerID: uuid.NullUUID{UUID: t.ID, Valid: true},
		ChannelID:  b.AutomaticSubFindingChannelID,
		State:      SubFindingSearching,
	}

	messageID, err := a.notifier.Announce(ctx, notify.Announcement{
		ChannelID: sf.ChannelID,
		Content: fmt.Sprintf("Sub needed! %d player(s) are missing for a gameday starting %s. This search ends %s.",
			b.PerTeam-g.AttendingCount(), discordTime(g.StartsAt, "F"), discordTime(sf.EndsAt, "R")),
		Buttons: []notify.Button{
			{CustomID: notify.CustomID(ActionSub, g.ID.String()), Label: "I can sub", Style: notify.StyleSuccess},
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("gameday_id", g.ID.String()).Msg("failed to post sub finding panel")
	} else {
		sf.MessageIDs = []string{messageID}
	}

	if err := a.repo.SaveSubFinding(ctx, g.ID, sf); err != nil {
		a.deleteTimer(ctx, sf.EndTimerID)
		for _, mid := range sf.MessageIDs {
			a.retract(ctx, sf.ChannelID, mid)
		}
		return err
	}
	g.SubFinding = &sf

	log.Info().
		Str("gameday_id", g.ID.String()).
		Time("ends_at", sf.EndsAt).
		Msg("sub finding started")
	return nil
}

// AcceptSub records memberID as a temporary sub. The sub that fills the roster
// ends the search early.
func (a *App) AcceptSub(ctx context.Context, gamedayID uuid.UUID, memberID string) (*Gameday, error) {
	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, err := a.load(ctx, gamedayID)
	if err != nil {
		return nil, err
	}
	if g.SubFinding == nil || g.SubFinding.State != SubFindingSearching {
		return nil, ErrNotSearching
	}
	if _, ok := g.Members[memberID]; ok {
		return nil, ErrAlreadyResponded
	}
	b, err := a.bucket(ctx, g.BucketID)
	if err != nil {
		return nil, err
	}

	m := Member{MemberID: memberID, IsTemporarySub: true}
	change := StateChange{}
	filled := g.AttendingCount()+1 >= b.PerTeam
	var panels []string
	if filled {
		sf := *g.SubFinding
		sf.State = SubFindingFilled
		panels = sf.MessageIDs
		sf.MessageIDs = nil
		change.SubFinding = &sf
	}

	if err := a.repo.AddMember(ctx, g.ID, m, change); err != nil {
		return nil, err
	}
	g.Members[memberID] = &m
	if change.SubFinding != nil {
		g.SubFinding = change.SubFinding
	}

	log.Info().
		Str("gameday_id", g.ID.String()).
		Str("member_id", memberID).
		Bool("filled", filled).
		Msg("sub accepted")

	if filled {
		for _, mid := range panels {
			a.retract(ctx, g.SubFinding.ChannelID, mid)
		}
		if id := g.SubFinding.EndTimerID; id.Valid {
			if err := a.scheduler.RequeueImmediately(ctx, id.UUID); err != nil {
				log.Error().Err(err).Str("gameday_id", g.ID.String()).Msg("failed to requeue sub finding end")
			}
		}
	}
	return g.clone(), nil
}

// EndSubFinding runs when the search end timer fires. An unfilled search leaves
// the gameday understaffed and says so instead of blocking kickoff.
func (a *App) EndSubFinding(ctx context.Context, p events.GamedayPayload) error {
	unlock := a.locks.Lock(p.GamedayID)
	defer unlock()

	g, err := a.load(ctx, p.GamedayID)
	if errors.Is(err, ErrGamedayNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if g.SubFinding == nil || !g.SubFinding.EndTimerID.Valid {
		return nil
	}

	b, err := a.bucket(ctx, g.BucketID)
	if err != nil {
		return err
	}
	team, err := a.teams.GetTeam(ctx, g.TeamID)
	if err != nil {
		return err
	}

	sf := *g.SubFinding
	panels := sf.MessageIDs
	sf.EndTimerID = uuid.NullUUID{}
	sf.MessageIDs = nil
	if sf.State == SubFindingSearching {
		sf.State = SubFindingExpired
	}
	if err := a.repo.SaveSubFinding(ctx, g.ID, sf); err != nil {
		return err
	}
	g.SubFinding = &sf
	for _, mid := range panels {
		a.retract(ctx, sf.ChannelID, mid)
	}

	log.Info().
		Str("gameday_id", g.ID.String()).
		Str("state", string(sf.State)).
		Msg("sub finding ended")

	if sf.State == SubFindingFilled {
		a.announce(ctx, team.TextChannelID, fmt.Sprintf("%s Subs found, the roster for %s is full.",
			team.Mentions(), discordTime(g.StartsAt, "F")))
		return nil
	}
	a.announce(ctx, team.TextChannelID, fmt.Sprintf("%s Sub finding ended %d player(s) short. The gameday at %s will go ahead understaffed unless you find someone.",
		team.Mentions(), b.PerTeam-g.AttendingCount(), discordTime(g.StartsAt, "F")))
	return nil
}
