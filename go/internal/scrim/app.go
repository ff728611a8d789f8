package scrim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/fury-esports/furybot/go/internal/fault"
	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/fury-esports/furybot/go/internal/syncutil"
	"github.com/fury-esports/furybot/go/internal/teams"
	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Button actions routed back to the scrim app.
const (
	ActionVote      = "scrim_vote"
	ActionUnvote    = "scrim_unvote"
	ActionForce     = "scrim_force"
	ActionForceVote = "scrim_force_vote"
)

// ScrimRepository defines what the app layer needs from the repository
type ScrimRepository interface {
	CreateScrim(ctx context.Context, s *Scrim) error
	GetScrim(ctx context.Context, id uuid.UUID) (*Scrim, error)
	AddVoter(ctx context.Context, id uuid.UUID, v Vote) error
	RemoveVoter(ctx context.Context, id uuid.UUID, side Side, memberID string) error
	UpdateState(ctx context.Context, s *Scrim) error
	DeleteScrim(ctx context.Context, id uuid.UUID) error
}

// Vote is one confirmation and the status it moves the scrim to. AwayMessageID
// is only set on the vote that hands the scrim to the away team.
type Vote struct {
	Side          Side
	MemberID      string
	Status        Status
	AwayMessageID string
}

// Scheduler is the part of the timer manager scrims use.
type Scheduler interface {
	CreateTimer(ctx context.Context, when time.Time, event timers.Event, payload any) (*timers.Timer, error)
	DeleteTimer(ctx context.Context, id uuid.UUID) error
}

// TeamLookup resolves teams and roster membership.
type TeamLookup interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*teams.Team, error)
	RequireMember(ctx context.Context, teamID uuid.UUID, memberID string) (*teams.Team, error)
}

// Clock is the time source.
type Clock interface {
	Now() time.Time
}

// App runs the two team confirmation protocol. The home team confirms first,
// then the away team, either in full or through a force confirm vote.
type App struct {
	repo      ScrimRepository
	teams     TeamLookup
	scheduler Scheduler
	notifier  notify.Notifier
	clock     Clock
	cfg       Config

	locks *syncutil.KeyedMutex[uuid.UUID]

	mu     sync.RWMutex
	scrims map[uuid.UUID]*Scrim
}

// NewApp creates a new scrim App
func NewApp(repo ScrimRepository, teamLookup TeamLookup, scheduler Scheduler, notifier notify.Notifier, clock Clock, cfg Config) *App {
	return &App{
		repo:      repo,
		teams:     teamLookup,
		scheduler: scheduler,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
		locks:     syncutil.NewKeyedMutex[uuid.UUID](),
		scrims:    make(map[uuid.UUID]*Scrim),
	}
}

func (a *App) load(ctx context.Context, id uuid.UUID) (*Scrim, error) {
	a.mu.RLock()
	s, ok := a.scrims[id]
	a.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := a.repo.GetScrim(ctx, id)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.scrims[id] = s
	a.mu.Unlock()
	return s, nil
}

func (a *App) forget(id uuid.UUID) {
	a.mu.Lock()
	delete(a.scrims, id)
	a.mu.Unlock()
}

// GetScrim returns a snapshot of a scrim.
func (a *App) GetScrim(ctx context.Context, id uuid.UUID) (*Scrim, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	s, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.clone(), nil
}

// Create proposes a scrim and posts the home team's confirmation panel.
func (a *App) Create(ctx context.Context, req CreateScrimRequest) (*Scrim, error) {
	now := a.clock.Now().UTC()
	switch {
	case !req.ScheduledFor.After(now):
		return nil, ErrScrimInPast
	case req.HomeTeamID == req.AwayTeamID:
		return nil, ErrSameTeam
	case req.PerTeam < 1:
		return nil, ErrInvalidPerTeam
	}

	home, err := a.teams.RequireMember(ctx, req.HomeTeamID, req.CreatorID)
	if err != nil {
		return nil, err
	}
	away, err := a.teams.GetTeam(ctx, req.AwayTeamID)
	if err != nil {
		return nil, err
	}

	s := &Scrim{
		ID:           uuid.New(),
		GuildID:      req.GuildID,
		CreatorID:    req.CreatorID,
		HomeTeamID:   home.ID,
		AwayTeamID:   away.ID,
		PerTeam:      req.PerTeam,
		ScheduledFor: req.ScheduledFor.UTC(),
		Status:       StatusPendingHost,
		CreatedAt:    now,
	}

	unlock := a.locks.Lock(s.ID)
	defer unlock()

	t, err := a.scheduler.CreateTimer(ctx, s.ScheduledFor, events.ScrimScheduled, s.payload())
	if err != nil {
		return nil, fmt.Errorf("failed to create scrim timer: %w", err)
	}
	s.ScheduledTimerID = uuid.NullUUID{UUID: t.ID, Valid: true}

	if remindAt := s.ScheduledFor.Add(-a.cfg.ReminderLead); remindAt.After(now) {
		t, err := a.scheduler.CreateTimer(ctx, remindAt, events.ScrimReminder, s.payload())
		if err != nil {
			a.deleteTimer(ctx, s.ScheduledTimerID)
			return nil, fmt.Errorf("failed to create scrim reminder: %w", err)
		}
		s.ReminderTimerID = uuid.NullUUID{UUID: t.ID, Valid: true}
	}

	s.HomeMessageID = a.post(ctx, notify.Announcement{
		ChannelID: home.TextChannelID,
		Content: fmt.Sprintf("%s %s wants to scrim %s on %s. %d of you need to confirm before the invite goes to %s.",
			home.Mentions(), mention(s.CreatorID), away.Name, discordTime(s.ScheduledFor), s.PerTeam, away.Name),
		Buttons: voteButtons(s.ID, SideHome),
	})

	if err := a.repo.CreateScrim(ctx, s); err != nil {
		a.deleteTimer(ctx, s.ScheduledTimerID)
		a.deleteTimer(ctx, s.ReminderTimerID)
		a.retract(ctx, home.TextChannelID, s.HomeMessageID)
		return nil, err
	}

	a.mu.Lock()
	a.scrims[s.ID] = s
	a.mu.Unlock()

	log.Info().
		Str("scrim_id", s.ID.String()).
		Str("home_team_id", s.HomeTeamID.String()).
		Str("away_team_id", s.AwayTeamID.String()).
		Time("scheduled_for", s.ScheduledFor).
		Msg("scrim proposed")
	return s.clone(), nil
}

// AddVote confirms memberID for side. The vote that completes the home team
// sends the scrim to the away team; the one that completes the away team schedules it.
func (a *App) AddVote(ctx context.Context, scrimID uuid.UUID, side Side, memberID string) (*Scrim, error) {
	unlock := a.locks.Lock(scrimID)
	defer unlock()

	s, err := a.load(ctx, scrimID)
	if err != nil {
		return nil, err
	}
	teamID, err := voteGuard(s, side)
	if err != nil {
		return nil, err
	}
	if _, err := a.teams.RequireMember(ctx, teamID, memberID); err != nil {
		return nil, err
	}
	if s.HasVoted(side, memberID) {
		return nil, ErrAlreadyVoted
	}

	next := s.Status
	complete := len(s.Voters(side))+1 >= s.PerTeam
	var invite *awayInvite
	if complete {
		if side == SideHome {
			next = StatusPendingAway
			// The away panel goes up before the transition is stored so that a
			// pending_away scrim always has one.
			if invite, err = a.inviteAway(ctx, s); err != nil {
				return nil, err
			}
		} else {
			next = StatusScheduled
		}
	}

	vote := Vote{Side: side, MemberID: memberID, Status: next}
	if invite != nil {
		vote.AwayMessageID = invite.messageID
	}
	if err := a.repo.AddVoter(ctx, s.ID, vote); err != nil {
		if invite != nil {
			a.retract(ctx, invite.away.TextChannelID, invite.messageID)
		}
		return nil, err
	}
	s.setVoters(side, append(s.Voters(side), memberID))
	s.Status = next
	if invite != nil {
		s.AwayMessageID = invite.messageID
	}

	log.Info().
		Str("scrim_id", s.ID.String()).
		Str("side", string(side)).
		Str("member_id", memberID).
		Str("status", string(s.Status)).
		Msg("scrim vote recorded")

	switch {
	case invite != nil:
		a.announce(ctx, invite.home.TextChannelID, fmt.Sprintf("Your team confirmed the scrim against %s. Waiting on them now.", invite.away.Name))
	case complete:
		a.confirmed(ctx, s, false)
	}
	return s.clone(), nil
}

// RemoveVote withdraws memberID's confirmation while their side is still collecting votes.
func (a *App) RemoveVote(ctx context.Context, scrimID uuid.UUID, side Side, memberID string) (*Scrim, error) {
	unlock := a.locks.Lock(scrimID)
	defer unlock()

	s, err := a.load(ctx, scrimID)
	if err != nil {
		return nil, err
	}
	if _, err := voteGuard(s, side); err != nil {
		return nil, err
	}
	if !s.HasVoted(side, memberID) {
		return nil, ErrNotVoted
	}

	if err := a.repo.RemoveVoter(ctx, s.ID, side, memberID); err != nil {
		return nil, err
	}
	kept := make([]string, 0, len(s.Voters(side)))
	for _, id := range s.Voters(side) {
		if id != memberID {
			kept = append(kept, id)
		}
	}
	s.setVoters(side, kept)
	return s.clone(), nil
}

// voteGuard returns the team whose members may vote on side right now.
func voteGuard(s *Scrim, side Side) (uuid.UUID, error) {
	switch {
	case s.Status == StatusScheduled:
		return uuid.Nil, ErrAlreadyScheduled
	case side == SideHome && s.Status != StatusPendingHost:
		return uuid.Nil, ErrHomeVotingClosed
	case side == SideAway && s.Status != StatusPendingAway:
		return uuid.Nil, ErrAwayVotingNotOpen
	case side == SideHome:
		return s.HomeTeamID, nil
	case side == SideAway:
		return s.AwayTeamID, nil
	default:
		return uuid.Nil, fault.InvalidState(fmt.Sprintf("unknown scrim side %q", side))
	}
}

type awayInvite struct {
	home, away *teams.Team
	messageID  string
}

// inviteAway posts the away team's confirmation panel. It runs only on the
// pending_host to pending_away transition, so the panel exists at most once.
func (a *App) inviteAway(ctx context.Context, s *Scrim) (*awayInvite, error) {
	home, err := a.teams.GetTeam(ctx, s.HomeTeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load home team: %w", err)
	}
	away, err := a.teams.GetTeam(ctx, s.AwayTeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load away team: %w", err)
	}

	messageID, err := a.notifier.Announce(ctx, notify.Announcement{
		ChannelID: away.TextChannelID,
		Content: fmt.Sprintf("%s %s wants to scrim you on %s. %d of you need to confirm.",
			away.Mentions(), home.Name, discordTime(s.ScheduledFor), s.PerTeam),
		Buttons: append(voteButtons(s.ID, SideAway),
			notify.Button{CustomID: notify.CustomID(ActionForce, s.ID.String()), Label: "Force confirm", Style: notify.StyleSecondary}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post away panel: %w", err)
	}
	return &awayInvite{home: home, away: away, messageID: messageID}, nil
}

// confirmed takes down the voting panels of a scrim that just became scheduled.
func (a *App) confirmed(ctx context.Context, s *Scrim, forced bool) {
	home, herr := a.teams.GetTeam(ctx, s.HomeTeamID)
	away, aerr := a.teams.GetTeam(ctx, s.AwayTeamID)

	next := s.clone()
	if aerr == nil {
		a.retract(ctx, away.TextChannelID, s.AwayMessageID)
		a.retract(ctx, away.TextChannelID, s.ForceMessageID)
		next.AwayMessageID = ""
		next.ForceMessageID = ""
	}
	if herr == nil {
		a.retract(ctx, home.TextChannelID, s.HomeMessageID)
		next.HomeMessageID = ""
	}
	a.save(ctx, s, next)

	content := fmt.Sprintf("The scrim on %s is confirmed.", discordTime(s.ScheduledFor))
	if forced {
		content = fmt.Sprintf("The scrim on %s was force confirmed by %s.", discordTime(s.ScheduledFor), mentions(s.ForceVoterIDs))
	}
	if herr == nil {
		a.announce(ctx, home.TextChannelID, content)
	}
	if aerr == nil {
		a.announce(ctx, away.TextChannelID, content)
	}

	log.Info().Str("scrim_id", s.ID.String()).Bool("forced", forced).Msg("scrim scheduled")
}

// RequestForceConfirm opens a force confirm vote on the away team. The checks
// run in a fixed order so the caller always sees the first unmet one.
func (a *App) RequestForceConfirm(ctx context.Context, scrimID uuid.UUID, memberID string) (*Scrim, error) {
	unlock := a.locks.Lock(scrimID)
	defer unlock()

	s, err := a.load(ctx, scrimID)
	if err != nil {
		return nil, err
	}
	away, err := a.teams.RequireMember(ctx, s.AwayTeamID, memberID)
	if err != nil {
		return nil, err
	}

	switch {
	case s.Status != StatusPendingAway:
		return nil, ErrNotPendingAway
	case s.PerTeam < 2:
		return nil, ErrTeamTooSmall
	case s.ForceRequestedBy != "":
		return nil, ErrForceConfirmActive
	case len(s.AwayVoterIDs) < s.ForceQuota():
		return nil, ErrForceNotEnoughVotes
	case s.ScheduledFor.Sub(a.clock.Now()) > a.cfg.ForceConfirmLead:
		return nil, ErrForceTooEarly
	}

	next := s.clone()
	next.ForceRequestedBy = memberID
	next.ForceMessageID = a.post(ctx, notify.Announcement{
		ChannelID: away.TextChannelID,
		Content: fmt.Sprintf("%s would like to force confirm the scrim on %s. If %d of you vote, it goes ahead without a full team.",
			mention(memberID), discordTime(s.ScheduledFor), s.ForceQuota()),
		Buttons: []notify.Button{
			{CustomID: notify.CustomID(ActionForceVote, s.ID.String()), Label: "Force confirm", Style: notify.StyleSuccess},
		},
	})
	if err := a.repo.UpdateState(ctx, next); err != nil {
		a.retract(ctx, away.TextChannelID, next.ForceMessageID)
		return nil, err
	}
	*s = *next

	log.Info().Str("scrim_id", s.ID.String()).Str("member_id", memberID).Msg("force confirm requested")
	return s.clone(), nil
}

// AddForceConfirmVote records a force confirm vote. Reaching the force quota schedules the scrim.
func (a *App) AddForceConfirmVote(ctx context.Context, scrimID uuid.UUID, memberID string) (*Scrim, error) {
	unlock := a.locks.Lock(scrimID)
	defer unlock()

	s, err := a.load(ctx, scrimID)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusScheduled {
		return nil, ErrAlreadyScheduled
	}
	if s.Status != StatusPendingAway || s.ForceRequestedBy == "" {
		return nil, ErrNoForceConfirm
	}
	if _, err := a.teams.RequireMember(ctx, s.AwayTeamID, memberID); err != nil {
		return nil, err
	}
	if s.HasVoted(SideForce, memberID) {
		return nil, ErrAlreadyVoted
	}

	next := s.Status
	forced := len(s.ForceVoterIDs)+1 >= s.ForceQuota()
	if forced {
		next = StatusScheduled
	}
	if err := a.repo.AddVoter(ctx, s.ID, Vote{Side: SideForce, MemberID: memberID, Status: next}); err != nil {
		return nil, err
	}
	s.ForceVoterIDs = append(s.ForceVoterIDs, memberID)
	s.Status = next

	if forced {
		a.confirmed(ctx, s, true)
	}
	return s.clone(), nil
}

// Cancel removes a scrim with every timer and panel it owns.
func (a *App) Cancel(ctx context.Context, scrimID uuid.UUID, reason string) error {
	unlock := a.locks.Lock(scrimID)
	defer unlock()

	s, err := a.load(ctx, scrimID)
	if err != nil {
		return err
	}
	return a.cancel(ctx, s, reason)
}

func (a *App) cancel(ctx context.Context, s *Scrim, reason string) error {
	if err := a.repo.DeleteScrim(ctx, s.ID); err != nil && !errors.Is(err, ErrScrimNotFound) {
		return err
	}
	a.forget(s.ID)

	a.deleteTimer(ctx, s.ScheduledTimerID)
	a.deleteTimer(ctx, s.ReminderTimerID)
	a.deleteTimer(ctx, s.DeleteTimerID)

	content := "This scrim has been cancelled."
	if reason != "" {
		content = "This scrim has been cancelled: " + reason
	}
	if home, err := a.teams.GetTeam(ctx, s.HomeTeamID); err == nil {
		a.retract(ctx, home.TextChannelID, s.HomeMessageID)
		a.announce(ctx, home.TextChannelID, content)
	}
	if away, err := a.teams.GetTeam(ctx, s.AwayTeamID); err == nil {
		a.retract(ctx, away.TextChannelID, s.AwayMessageID)
		a.retract(ctx, away.TextChannelID, s.ForceMessageID)
		if s.Status != StatusPendingHost {
			a.announce(ctx, away.TextChannelID, content)
		}
	}

	log.Info().Str("scrim_id", s.ID.String()).Str("reason", reason).Msg("scrim cancelled")
	return nil
}

// save persists next and swaps it into the cache. Callers hold the scrim lock.
func (a *App) save(ctx context.Context, cur, next *Scrim) {
	if err := a.repo.UpdateState(ctx, next); err != nil {
		log.Error().Err(err).Str("scrim_id", cur.ID.String()).Msg("failed to save scrim panels")
		return
	}
	*cur = *next
}

func (a *App) post(ctx context.Context, ann notify.Announcement) string {
	id, err := a.notifier.Announce(ctx, ann)
	if err != nil {
		log.Warn().Err(err).Str("channel_id", ann.ChannelID).Msg("failed to post scrim panel")
	}
	return id
}

func (a *App) announce(ctx context.Context, channelID, content string) {
	a.post(ctx, notify.Announcement{ChannelID: channelID, Content: content})
}

func (a *App) retract(ctx context.Context, channelID, messageID string) {
	if messageID == "" {
		return
	}
	if err := a.notifier.Retract(ctx, channelID, messageID); err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("failed to retract scrim panel")
	}
}

func (a *App) deleteTimer(ctx context.Context, id uuid.NullUUID) {
	if !id.Valid {
		return
	}
	if err := a.scheduler.DeleteTimer(ctx, id.UUID); err != nil && !errors.Is(err, timers.ErrTimerNotFound) {
		log.Error().Err(err).Str("timer_id", id.UUID.String()).Msg("failed to delete scrim timer")
	}
}

func voteButtons(id uuid.UUID, side Side) []notify.Button {
	return []notify.Button{
		{CustomID: notify.CustomID(ActionVote, id.String(), string(side)), Label: "Confirm", Style: notify.StyleSuccess},
		{CustomID: notify.CustomID(ActionUnvote, id.String(), string(side)), Label: "Remove confirmation", Style: notify.StyleDanger},
	}
}

func mention(id string) string { return "<@" + id + ">" }

func mentions(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = mention(id)
	}
	return strings.Join(out, ", ")
}

func discordTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}
