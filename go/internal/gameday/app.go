package gameday

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
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

// Button actions routed back to the gameday app.
const (
	ActionAttend  = "gameday_attend"
	ActionDecline = "gameday_decline"
	ActionUnvote  = "gameday_unvote"
	ActionSub     = "gameday_sub"

	ActionWin      = "gameday_win"
	ActionLoss     = "gameday_loss"
	ActionReport   = "gameday_report"
	ActionComplete = "gameday_complete"
)

// StateChange is persisted in the same unit of work as a member change.
type StateChange struct {
	Voting     *Voting
	SubFinding *SubFinding
}

// GamedayRepository defines what the app layer needs from the repository
type GamedayRepository interface {
	GetBucket(ctx context.Context, id uuid.UUID) (*Bucket, error)
	CreateGameday(ctx context.Context, g *Gameday) error
	GetGameday(ctx context.Context, id uuid.UUID) (*Gameday, error)
	UpdateVoting(ctx context.Context, gamedayID uuid.UUID, v Voting) error
	AddMember(ctx context.Context, gamedayID uuid.UUID, m Member, change StateChange) error
	RemoveMember(ctx context.Context, gamedayID uuid.UUID, memberID string) error
	SaveSubFinding(ctx context.Context, gamedayID uuid.UUID, sf SubFinding) error
	MarkStarted(ctx context.Context, gamedayID uuid.UUID, at time.Time, scoreboardMessageID string) error
	DeleteGameday(ctx context.Context, gamedayID uuid.UUID) error

	AddScoreReport(ctx context.Context, gamedayID uuid.UUID, sr ScoreReport) error
	UpdateScore(ctx context.Context, gamedayID uuid.UUID, wins, losses int) error
	MarkEnded(ctx context.Context, gamedayID uuid.UUID, at time.Time) error

	CreateGamedayTime(ctx context.Context, gt *GamedayTime) error
	GetGamedayTime(ctx context.Context, id uuid.UUID) (*GamedayTime, error)
	DeleteGamedayTime(ctx context.Context, id uuid.UUID) error
	UpcomingForTime(ctx context.Context, gamedayTimeID uuid.UUID) ([]uuid.UUID, error)
}

// Scheduler is the part of the timer manager gamedays use.
type Scheduler interface {
	CreateTimer(ctx context.Context, when time.Time, event timers.Event, payload any) (*timers.Timer, error)
	CreateImpreciseTimer(ctx context.Context, when time.Time, event timers.Event, payload any) (*timers.Timer, error)
	DeleteTimer(ctx context.Context, id uuid.UUID) error
	RequeueImmediately(ctx context.Context, id uuid.UUID) error
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

// CreateGamedayRequest represents the data needed to schedule a gameday
type CreateGamedayRequest struct {
	BucketID uuid.UUID
	StartsAt time.Time
	// GamedayTimeID links the gameday to the weekly slot that created it.
	GamedayTimeID uuid.NullUUID
}

// App runs the attendance voting and sub-finding workflows. Every transition
// holds the gameday's lock across read, compare, persist and cache update, and
// the cache only changes after the write succeeded.
type App struct {
	repo      GamedayRepository
	teams     TeamLookup
	scheduler Scheduler
	notifier  notify.Notifier
	clock     Clock
	cfg       Config
	loc       *time.Location

	locks *syncutil.KeyedMutex[uuid.UUID]

	mu       sync.RWMutex
	gamedays map[uuid.UUID]*Gameday
	buckets  map[uuid.UUID]*Bucket
}

// NewApp creates a new gameday App
func NewApp(repo GamedayRepository, teamLookup TeamLookup, scheduler Scheduler, notifier notify.Notifier, clock Clock, cfg Config) *App {
	return &App{
		repo:      repo,
		teams:     teamLookup,
		scheduler: scheduler,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
		loc:       cfg.location(),
		locks:     syncutil.NewKeyedMutex[uuid.UUID](),
		gamedays:  make(map[uuid.UUID]*Gameday),
		buckets:   make(map[uuid.UUID]*Bucket),
	}
}

func (a *App) bucket(ctx context.Context, id uuid.UUID) (*Bucket, error) {
	a.mu.RLock()
	b, ok := a.buckets[id]
	a.mu.RUnlock()
	if ok {
		return b, nil
	}

	b, err := a.repo.GetBucket(ctx, id)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.buckets[id] = b
	a.mu.Unlock()
	return b, nil
}

// load returns the cached gameday, hydrating it on first use. Callers hold the gameday lock.
func (a *App) load(ctx context.Context, id uuid.UUID) (*Gameday, error) {
	a.mu.RLock()
	g, ok := a.gamedays[id]
	a.mu.RUnlock()
	if ok {
		return g, nil
	}

	g, err := a.repo.GetGameday(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Members == nil {
		g.Members = make(map[string]*Member)
	}
	a.mu.Lock()
	a.gamedays[id] = g
	a.mu.Unlock()
	return g, nil
}

func (a *App) forget(id uuid.UUID) {
	a.mu.Lock()
	delete(a.gamedays, id)
	a.mu.Unlock()
}

// GetGameday returns a snapshot of a gameday.
func (a *App) GetGameday(ctx context.Context, id uuid.UUID) (*Gameday, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	g, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.clone(), nil
}

// CreateGameday schedules a gameday and the timers that drive its voting.
func (a *App) CreateGameday(ctx context.Context, req CreateGamedayRequest) (*Gameday, error) {
	b, err := a.bucket(ctx, req.BucketID)
	if err != nil {
		return nil, err
	}

	times, err := ComputeVotingTimes(req.StartsAt, a.clock.Now())
	if err != nil {
		return nil, err
	}

	g := &Gameday{
		ID:                  uuid.New(),
		GuildID:             b.GuildID,
		TeamID:              b.TeamID,
		BucketID:            b.ID,
		StartsAt:            req.StartsAt.UTC(),
		AutomaticSubFinding: times.AutomaticSubFinding,
		GamedayTimeID:       req.GamedayTimeID,
		Voting: Voting{
			StartsAt: times.StartsAt,
			EndsAt:   times.EndsAt,
			State:    VotingNotStarted,
		},
		Members: make(map[string]*Member),
	}

	// Held until the row exists so an immediately due timer cannot see a half-built gameday.
	unlock := a.locks.Lock(g.ID)
	defer unlock()

	var created []uuid.UUID
	schedule := func(when time.Time, ev timers.Event) (uuid.NullUUID, error) {
		t, err := a.scheduler.CreateTimer(ctx, when, ev, g.payload())
		if err != nil {
			return uuid.NullUUID{}, fmt.Errorf("failed to create %s timer: %w", ev, err)
		}
		created = append(created, t.ID)
		return uuid.NullUUID{UUID: t.ID, Valid: true}, nil
	}

	if g.Voting.StartTimerID, err = schedule(times.StartsAt, events.GamedayVotingStart); err == nil {
		if g.Voting.EndTimerID, err = schedule(times.EndsAt, events.GamedayVotingEnd); err == nil {
			g.StartTimerID, err = schedule(g.StartsAt, events.GamedayStart)
		}
	}
	if err == nil {
		err = a.repo.CreateGameday(ctx, g)
	}
	if err != nil {
		for _, id := range created {
			a.deleteTimer(ctx, uuid.NullUUID{UUID: id, Valid: true})
		}
		return nil, err
	}

	a.mu.Lock()
	a.gamedays[g.ID] = g
	a.mu.Unlock()

	log.Info().
		Str("gameday_id", g.ID.String()).
		Str("team_id", g.TeamID.String()).
		Time("starts_at", g.StartsAt).
		Time("voting_starts_at", times.StartsAt).
		Time("voting_ends_at", times.EndsAt).
		Msg("gameday scheduled")
	return g.clone(), nil
}

// OpenVoting posts the attendance panel. It runs when the voting start timer fires.
func (a *App) OpenVoting(ctx context.Context, p events.GamedayPayload) error {
	unlock := a.locks.Lock(p.GamedayID)
	defer unlock()

	g, err := a.load(ctx, p.GamedayID)
	if errors.Is(err, ErrGamedayNotFound) {
		log.Info().Str("gameday_id", p.GamedayID.String()).Msg("voting start for a cancelled gameday, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if g.Voting.State != VotingNotStarted {
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

	id := g.ID.String()
	messageID, err := a.notifier.Announce(ctx, notify.Announcement{
		ChannelID: team.TextChannelID,
		Content: fmt.Sprintf("%s Attendance voting is open for the gameday on %s. %d players are needed. Voting closes %s.",
			team.Mentions(), discordTime(g.StartsAt, "F"), b.PerTeam, discordTime(g.Voting.EndsAt, "R")),
		Buttons: []notify.Button{
			{CustomID: notify.CustomID(ActionAttend, id), Label: "Attending", Style: notify.StyleSuccess},
			{CustomID: notify.CustomID(ActionDecline, id), Label: "Can't make it", Style: notify.StyleDanger},
			{CustomID: notify.CustomID(ActionUnvote, id), Label: "Remove vote", Style: notify.StyleSecondary},
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("gameday_id", id).Msg("failed to post voting panel")
	}

	v := g.Voting
	v.State = VotingOpen
	v.StartTimerID = uuid.NullUUID{}
	v.MessageID = messageID
	if err := a.repo.UpdateVoting(ctx, g.ID, v); err != nil {
		return err
	}
	g.Voting = v

	log.Info().Str("gameday_id", id).Msg("gameday voting opened")
	return nil
}

// CastAttendance records memberID as attending. The vote that reaches quorum
// makes the voting end timer due immediately.
func (a *App) CastAttendance(ctx context.Context, gamedayID uuid.UUID, memberID string) (*Gameday, error) {
	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, b, err := a.openForVoting(ctx, gamedayID, memberID)
	if err != nil {
		return nil, err
	}

	m := Member{MemberID: memberID}
	change := StateChange{}
	quorum := g.AttendingCount()+1 >= b.PerTeam
	if quorum {
		v := g.Voting
		v.State = VotingQuorumReached
		change.Voting = &v
	}

	if err := a.repo.AddMember(ctx, g.ID, m, change); err != nil {
		return nil, err
	}
	g.Members[memberID] = &m
	if change.Voting != nil {
		g.Voting = *change.Voting
	}

	log.Info().
		Str("gameday_id", g.ID.String()).
		Str("member_id", memberID).
		Int("attending", g.AttendingCount()).
		Int("needed", b.PerTeam).
		Msg("attendance recorded")

	if quorum && g.Voting.EndTimerID.Valid {
		if err := a.scheduler.RequeueImmediately(ctx, g.Voting.EndTimerID.UUID); err != nil {
			log.Error().Err(err).Str("gameday_id", g.ID.String()).Msg("failed to requeue voting end")
		}
	}
	return g.clone(), nil
}

// DeclineAttendance records memberID as not attending, with a reason.
func (a *App) DeclineAttendance(ctx context.Context, gamedayID uuid.UUID, memberID, reason string) (*Gameday, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, _, err := a.openForVoting(ctx, gamedayID, memberID)
	if err != nil {
		return nil, err
	}

	m := Member{MemberID: memberID, Reason: &reason}
	if err := a.repo.AddMember(ctx, g.ID, m, StateChange{}); err != nil {
		return nil, err
	}
	g.Members[memberID] = &m
	return g.clone(), nil
}

// RemoveVote withdraws a response while voting is still open.
func (a *App) RemoveVote(ctx context.Context, gamedayID uuid.UUID, memberID string) (*Gameday, error) {
	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, err := a.load(ctx, gamedayID)
	if err != nil {
		return nil, err
	}
	if err := votingGuard(g); err != nil {
		return nil, err
	}
	if _, ok := g.Members[memberID]; !ok {
		return nil, ErrNotVoted
	}

	if err := a.repo.RemoveMember(ctx, g.ID, memberID); err != nil {
		return nil, err
	}
	delete(g.Members, memberID)
	return g.clone(), nil
}

func (a *App) openForVoting(ctx context.Context, gamedayID uuid.UUID, memberID string) (*Gameday, *Bucket, error) {
	g, err := a.load(ctx, gamedayID)
	if err != nil {
		return nil, nil, err
	}
	if err := votingGuard(g); err != nil {
		return nil, nil, err
	}
	if _, err := a.teams.RequireMember(ctx, g.TeamID, memberID); err != nil {
		return nil, nil, err
	}
	if _, ok := g.Members[memberID]; ok {
		return nil, nil, ErrAlreadyVoted
	}
	b, err := a.bucket(ctx, g.BucketID)
	if err != nil {
		return nil, nil, err
	}
	return g, b, nil
}

func votingGuard(g *Gameday) error {
	switch g.Voting.State {
	case VotingOpen:
		return nil
	case VotingNotStarted:
		return ErrVotingNotOpen
	default:
		return ErrVotingClosed
	}
}

// CloseVoting runs when the voting end timer fires, either at the end of the
// window or early after quorum. Without quorum it starts sub-finding when allowed.
func (a *App) CloseVoting(ctx context.Context, p events.GamedayPayload) error {
	unlock := a.locks.Lock(p.GamedayID)
	defer unlock()

	g, err := a.load(ctx, p.GamedayID)
	if errors.Is(err, ErrGamedayNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !g.Voting.EndTimerID.Valid {
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

	v := g.Voting
	v.EndTimerID = uuid.NullUUID{}
	v.StartTimerID = uuid.NullUUID{}
	if g.HasVotesNeeded(b.PerTeam) {
		v.State = VotingQuorumReached
	} else {
		v.State = VotingClosedWithoutQuorum
	}
	v.MessageID = ""
	if err := a.repo.UpdateVoting(ctx, g.ID, v); err != nil {
		return err
	}
	a.retract(ctx, team.TextChannelID, g.Voting.MessageID)
	g.Voting = v

	log.Info().
		Str("gameday_id", g.ID.String()).
		Str("state", string(v.State)).
		Int("attending", g.AttendingCount()).
		Msg("gameday voting closed")

	if v.State == VotingQuorumReached {
		a.announce(ctx, team.TextChannelID, fmt.Sprintf("Voting is done: %d of %d players are in for the gameday on %s.",
			g.AttendingCount(), b.PerTeam, discordTime(g.StartsAt, "F")))
		return nil
	}

	missing := b.PerTeam - g.AttendingCount()
	if !g.AutomaticSubFinding || !b.AutomaticSubFindingIfPossible {
		a.announce(ctx, team.TextChannelID, fmt.Sprintf("Voting closed %d players short. Automatic sub finding is off for this gameday, please find substitutes manually.", missing))
		return nil
	}

	if err := a.startSubFinding(ctx, g, b); err != nil {
		msg, ok := fault.UserMessage(err)
		if !ok {
			log.Error().Err(err).Str("gameday_id", g.ID.String()).Msg("failed to start sub finding")
			msg = "internal error"
		}
		a.announce(ctx, team.TextChannelID, fmt.Sprintf("Voting closed %d players short and sub finding could not start: %s.", missing, msg))
		return nil
	}
	a.announce(ctx, team.TextChannelID, fmt.Sprintf("Voting closed %d players short. Looking for substitutes until %s.",
		missing, discordTime(g.SubFinding.EndsAt, "t")))
	return nil
}

// StartGameday announces kickoff with the final roster and posts the scoreboard.
func (a *App) StartGameday(ctx context.Context, p events.GamedayPayload) error {
	unlock := a.locks.Lock(p.GamedayID)
	defer unlock()

	g, err := a.load(ctx, p.GamedayID)
	if errors.Is(err, ErrGamedayNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if g.StartedAt != nil {
		return nil
	}

	team, err := a.teams.GetTeam(ctx, g.TeamID)
	if err != nil {
		return err
	}

	scoreboardID, err := a.notifier.Announce(ctx, notify.Announcement{
		ChannelID: team.TextChannelID,
		Content:   scoreboardText(g, a.cfg.BestOf),
		Buttons:   scoreboardButtons(g.ID),
	})
	if err != nil {
		log.Warn().Err(err).Str("gameday_id", g.ID.String()).Msg("failed to post scoreboard")
	}

	now := a.clock.Now().UTC()
	if err := a.repo.MarkStarted(ctx, g.ID, now, scoreboardID); err != nil {
		a.retract(ctx, team.TextChannelID, scoreboardID)
		return err
	}
	g.StartedAt = &now
	g.StartTimerID = uuid.NullUUID{}
	g.ScoreboardMessageID = scoreboardID

	var roster []string
	for _, id := range slices.Sorted(maps.Keys(g.Members)) {
		m := g.Members[id]
		if !m.Attending() {
			continue
		}
		entry := "<@" + m.MemberID + ">"
		if m.IsTemporarySub {
			entry += " (sub)"
		}
		roster = append(roster, entry)
	}
	a.announce(ctx, team.TextChannelID, fmt.Sprintf("The gameday is starting! Roster: %s. Report the score when you are done.", strings.Join(roster, ", ")))
	return nil
}

// CancelGameday removes a gameday that has not ended, with its timers and
// panels. A gameday from a weekly slot is replaced by the slot's next occurrence.
func (a *App) CancelGameday(ctx context.Context, gamedayID uuid.UUID) error {
	unlock := a.locks.Lock(gamedayID)
	defer unlock()

	g, err := a.load(ctx, gamedayID)
	if err != nil {
		return err
	}
	if g.EndedAt != nil {
		return ErrGamedayEnded
	}

	if err := a.repo.DeleteGameday(ctx, g.ID); err != nil {
		return err
	}
	a.forget(g.ID)

	a.deleteTimer(ctx, g.StartTimerID)
	a.deleteTimer(ctx, g.Voting.StartTimerID)
	a.deleteTimer(ctx, g.Voting.EndTimerID)
	if team, err := a.teams.GetTeam(ctx, g.TeamID); err == nil {
		a.retract(ctx, team.TextChannelID, g.Voting.MessageID)
		a.retract(ctx, team.TextChannelID, g.ScoreboardMessageID)
	}
	if sf := g.SubFinding; sf != nil {
		a.deleteTimer(ctx, sf.EndTimerID)
		for _, mid := range sf.MessageIDs {
			a.retract(ctx, sf.ChannelID, mid)
		}
	}

	log.Info().Str("gameday_id", g.ID.String()).Msg("gameday cancelled")

	if g.GamedayTimeID.Valid {
		if _, err := a.scheduleNext(ctx, g.GamedayTimeID.UUID, g.StartsAt); err != nil {
			log.Error().Err(err).Str("gameday_time_id", g.GamedayTimeID.UUID.String()).Msg("failed to schedule next weekly gameday")
		}
	}
	return nil
}

func (a *App) deleteTimer(ctx context.Context, id uuid.NullUUID) {
	if !id.Valid {
		return
	}
	if err := a.scheduler.DeleteTimer(ctx, id.UUID); err != nil && !errors.Is(err, timers.ErrTimerNotFound) {
		log.Error().Err(err).Str("timer_id", id.UUID.String()).Msg("failed to delete gameday timer")
	}
}

func (a *App) announce(ctx context.Context, channelID, content string) {
	if _, err := a.notifier.Announce(ctx, notify.Announcement{ChannelID: channelID, Content: content}); err != nil {
		log.Warn().Err(err).Str("channel_id", channelID).Msg("failed to post gameday notice")
	}
}

func (a *App) retract(ctx context.Context, channelID, messageID string) {
	if messageID == "" {
		return
	}
	if err := a.notifier.Retract(ctx, channelID, messageID); err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("failed to retract gameday panel")
	}
}

func discordTime(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}
