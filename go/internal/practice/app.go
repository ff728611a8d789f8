package practice

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fury-esports/furybot/go/internal/fault"
	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/fury-esports/furybot/go/internal/syncutil"
	"github.com/fury-esports/furybot/go/internal/teams"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ActionUnable is the button a member presses to opt out of a practice.
const ActionUnable = "practice_unable"

// PracticeRepository defines what the app layer needs from the repository
type PracticeRepository interface {
	CreatePractice(ctx context.Context, p *Practice) error
	GetPractice(ctx context.Context, id uuid.UUID) (*Practice, error)
	OngoingPracticeID(ctx context.Context, teamID uuid.UUID) (uuid.UUID, error)
	SaveMessageID(ctx context.Context, id uuid.UUID, messageID string) error
	AddMember(ctx context.Context, practiceID uuid.UUID, m Member) error
	OpenInterval(ctx context.Context, memberRowID uuid.UUID, iv Interval) error
	// CloseIntervals closes the given intervals at at and, when complete is set,
	// marks the practice completed at the same instant.
	CloseIntervals(ctx context.Context, practiceID uuid.UUID, intervalIDs []uuid.UUID, at time.Time, complete bool) error
}

// TeamLookup resolves teams, membership and voice channels.
type TeamLookup interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*teams.Team, error)
	RequireMember(ctx context.Context, teamID uuid.UUID, memberID string) (*teams.Team, error)
	TeamByVoiceChannel(ctx context.Context, channelID string) (*teams.Team, error)
}

// Clock is the time source.
type Clock interface {
	Now() time.Time
}

// App tracks practice sessions from voice channel presence. A session
// completes on its own once nobody is left in the channel.
type App struct {
	repo     PracticeRepository
	teams    TeamLookup
	notifier notify.Notifier
	clock    Clock

	locks *syncutil.KeyedMutex[uuid.UUID]

	mu        sync.RWMutex
	practices map[uuid.UUID]*Practice
	ongoing   map[uuid.UUID]uuid.UUID // team id -> practice id
}

// NewApp creates a new practice App
func NewApp(repo PracticeRepository, teamLookup TeamLookup, notifier notify.Notifier, clock Clock) *App {
	return &App{
		repo:      repo,
		teams:     teamLookup,
		notifier:  notifier,
		clock:     clock,
		locks:     syncutil.NewKeyedMutex[uuid.UUID](),
		practices: make(map[uuid.UUID]*Practice),
		ongoing:   make(map[uuid.UUID]uuid.UUID),
	}
}

func (a *App) load(ctx context.Context, id uuid.UUID) (*Practice, error) {
	a.mu.RLock()
	p, ok := a.practices[id]
	a.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := a.repo.GetPractice(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Members == nil {
		p.Members = make(map[string]*Member)
	}
	a.mu.Lock()
	a.practices[id] = p
	if p.Status == StatusOngoing {
		a.ongoing[p.TeamID] = p.ID
	}
	a.mu.Unlock()
	return p, nil
}

// ongoingID returns the id of the team's running practice.
func (a *App) ongoingID(ctx context.Context, teamID uuid.UUID) (uuid.UUID, error) {
	a.mu.RLock()
	id, ok := a.ongoing[teamID]
	a.mu.RUnlock()
	if ok {
		return id, nil
	}
	return a.repo.OngoingPracticeID(ctx, teamID)
}

// GetPractice returns a snapshot of a practice.
func (a *App) GetPractice(ctx context.Context, id uuid.UUID) (*Practice, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	p, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.clone(), nil
}

// OngoingPractice returns a snapshot of the team's running practice.
func (a *App) OngoingPractice(ctx context.Context, teamID uuid.UUID) (*Practice, error) {
	id, err := a.ongoingID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return a.GetPractice(ctx, id)
}

// Start opens a practice for teamID. present lists who is in the team's voice
// channel right now; startedBy must be one of them.
func (a *App) Start(ctx context.Context, teamID uuid.UUID, startedBy string, present []string) (*Practice, error) {
	unlock := a.locks.Lock(teamID)
	defer unlock()

	team, err := a.teams.RequireMember(ctx, teamID, startedBy)
	if err != nil {
		return nil, err
	}
	if team.VoiceChannelID == "" {
		return nil, ErrNoVoiceChannel
	}
	if !slices.Contains(present, startedBy) {
		return nil, ErrNotInVoiceChannel
	}
	if _, err := a.ongoingID(ctx, teamID); err == nil {
		return nil, ErrPracticeInProgress
	} else if !errors.Is(err, ErrNoOngoingPractice) {
		return nil, err
	}

	now := a.when(time.Time{})
	p := &Practice{
		ID:        uuid.New(),
		GuildID:   team.GuildID,
		TeamID:    team.ID,
		ChannelID: team.VoiceChannelID,
		StartedBy: startedBy,
		StartedAt: now,
		Status:    StatusOngoing,
		Members:   make(map[string]*Member),
	}
	for _, id := range present {
		if !team.HasMember(id) || p.Members[id] != nil {
			continue
		}
		p.Members[id] = &Member{
			ID:        uuid.New(),
			MemberID:  id,
			Attending: true,
			History:   []Interval{{ID: uuid.New(), JoinedAt: now}},
		}
	}

	if err := a.repo.CreatePractice(ctx, p); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.practices[p.ID] = p
	a.ongoing[team.ID] = p.ID
	a.mu.Unlock()

	messageID, err := a.notifier.Announce(ctx, notify.Announcement{
		ChannelID: team.TextChannelID,
		Content: fmt.Sprintf("%s <@%s> started a practice. Join <#%s> to attend; your time is recorded when you leave.",
			team.Mentions(), startedBy, team.VoiceChannelID),
		Buttons: []notify.Button{
			{CustomID: notify.CustomID(ActionUnable, p.ID.String()), Label: "I can't attend", Style: notify.StyleDanger},
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("practice_id", p.ID.String()).Msg("failed to post practice panel")
	} else if err := a.repo.SaveMessageID(ctx, p.ID, messageID); err != nil {
		log.Error().Err(err).Str("practice_id", p.ID.String()).Msg("failed to save practice panel id")
	} else {
		p.MessageID = messageID
	}

	log.Info().
		Str("practice_id", p.ID.String()).
		Str("team_id", team.ID.String()).
		Int("present", len(p.Members)).
		Msg("practice started")
	return p.clone(), nil
}

// HandleJoin opens a new interval for memberID.
func (a *App) HandleJoin(ctx context.Context, practiceID uuid.UUID, memberID string, at time.Time) error {
	unlock := a.locks.Lock(practiceID)
	defer unlock()

	p, err := a.load(ctx, practiceID)
	if err != nil {
		return err
	}
	if p.Status == StatusCompleted {
		return ErrPracticeCompleted
	}
	if _, err := a.teams.RequireMember(ctx, p.TeamID, memberID); err != nil {
		return err
	}

	at = a.when(at)
	iv := Interval{ID: uuid.New(), JoinedAt: at}
	m, ok := p.Members[memberID]
	switch {
	case !ok:
		m = &Member{ID: uuid.New(), MemberID: memberID, Attending: true, History: []Interval{iv}}
		if err := a.repo.AddMember(ctx, p.ID, *m); err != nil {
			return err
		}
		p.Members[memberID] = m
	case !m.Attending:
		return ErrMemberNotAttending
	case m.Practicing():
		return ErrMemberAlreadyInPractice
	default:
		if err := a.repo.OpenInterval(ctx, m.ID, iv); err != nil {
			return err
		}
		m.History = append(m.History, iv)
	}

	log.Debug().Str("practice_id", p.ID.String()).Str("member_id", memberID).Msg("member joined practice")
	return nil
}

// HandleLeave closes memberID's open interval. The leave that empties the
// channel completes the practice.
func (a *App) HandleLeave(ctx context.Context, practiceID uuid.UUID, memberID string, at time.Time) error {
	unlock := a.locks.Lock(practiceID)
	defer unlock()

	p, err := a.load(ctx, practiceID)
	if err != nil {
		return err
	}
	if p.Status == StatusCompleted {
		return ErrPracticeCompleted
	}
	if _, err := a.teams.RequireMember(ctx, p.TeamID, memberID); err != nil {
		return err
	}
	m, ok := p.Members[memberID]
	switch {
	case !ok:
		return ErrMemberNotInPractice
	case !m.Attending:
		return ErrMemberNotAttending
	case !m.Practicing():
		return ErrNotPracticing
	}

	at = a.when(at)
	iv := m.open()
	complete := p.OpenIntervals() == 1
	if err := a.repo.CloseIntervals(ctx, p.ID, []uuid.UUID{iv.ID}, at, complete); err != nil {
		return err
	}
	iv.LeftAt = &at

	log.Debug().Str("practice_id", p.ID.String()).Str("member_id", memberID).Msg("member left practice")

	if complete {
		a.completed(ctx, p, at)
	}
	return nil
}

// MarkUnableToAttend records that memberID opted out. Members who already
// joined cannot opt out afterwards.
func (a *App) MarkUnableToAttend(ctx context.Context, practiceID uuid.UUID, memberID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}

	unlock := a.locks.Lock(practiceID)
	defer unlock()

	p, err := a.load(ctx, practiceID)
	if err != nil {
		return err
	}
	if p.Status == StatusCompleted {
		return ErrPracticeCompleted
	}
	if _, err := a.teams.RequireMember(ctx, p.TeamID, memberID); err != nil {
		return err
	}
	if _, ok := p.Members[memberID]; ok {
		return ErrMemberAlreadyInPractice
	}

	m := &Member{ID: uuid.New(), MemberID: memberID, Reason: &reason}
	if err := a.repo.AddMember(ctx, p.ID, *m); err != nil {
		return err
	}
	p.Members[memberID] = m
	return nil
}

// End stops a practice by hand, closing every open interval now.
func (a *App) End(ctx context.Context, practiceID uuid.UUID) (*Practice, error) {
	unlock := a.locks.Lock(practiceID)
	defer unlock()

	p, err := a.load(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusCompleted {
		return nil, ErrPracticeCompleted
	}

	at := a.when(time.Time{})
	var open []*Interval
	var ids []uuid.UUID
	for _, m := range p.Members {
		if iv := m.open(); iv != nil {
			open = append(open, iv)
			ids = append(ids, iv.ID)
		}
	}
	if err := a.repo.CloseIntervals(ctx, p.ID, ids, at, true); err != nil {
		return nil, err
	}
	for _, iv := range open {
		iv.LeftAt = &at
	}

	a.completed(ctx, p, at)
	return p.clone(), nil
}

// completed applies a persisted completion to the cache and posts the summary.
// Callers hold the practice lock.
func (a *App) completed(ctx context.Context, p *Practice, at time.Time) {
	p.Status = StatusCompleted
	p.EndedAt = &at

	a.mu.Lock()
	if a.ongoing[p.TeamID] == p.ID {
		delete(a.ongoing, p.TeamID)
	}
	a.mu.Unlock()

	d, _ := p.Duration()
	points, _ := p.TotalPoints()
	log.Info().
		Str("practice_id", p.ID.String()).
		Dur("duration", d).
		Float64("points", points).
		Msg("practice completed")

	team, err := a.teams.GetTeam(ctx, p.TeamID)
	if err != nil {
		return
	}
	if p.MessageID != "" {
		if err := a.notifier.Retract(ctx, team.TextChannelID, p.MessageID); err != nil {
			log.Warn().Err(err).Str("practice_id", p.ID.String()).Msg("failed to retract practice panel")
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Practice ended after %s and scored %.2f points.", d.Round(time.Minute), points)
	if p.AttendingMembers() == 1 {
		b.WriteString(" Only one member attended this practice.")
	}
	for _, id := range slices.Sorted(maps.Keys(p.Members)) {
		m := p.Members[id]
		if m.Attending {
			fmt.Fprintf(&b, "\n<@%s>: %s", m.MemberID, m.TotalTime().Round(time.Minute))
		} else {
			fmt.Fprintf(&b, "\n<@%s>: could not attend", m.MemberID)
		}
	}
	if _, err := a.notifier.Announce(ctx, notify.Announcement{ChannelID: team.TextChannelID, Content: b.String()}); err != nil {
		log.Warn().Err(err).Str("practice_id", p.ID.String()).Msg("failed to post practice summary")
	}
}

// VoiceStateChange is a member moving between voice channels. An empty
// channel means not connected.
type VoiceStateChange struct {
	MemberID string
	Before   string
	After    string
	At       time.Time
}

// HandleVoiceState turns a voice channel move into practice leaves and joins.
// Moves that do not touch a running practice, and presence the practice rejects,
// are ignored.
func (a *App) HandleVoiceState(ctx context.Context, ch VoiceStateChange) error {
	if ch.Before == ch.After {
		return nil
	}
	if ch.Before != "" {
		if err := a.onPresence(ctx, ch.Before, ch.MemberID, ch.At, a.HandleLeave); err != nil {
			return err
		}
	}
	if ch.After != "" {
		if err := a.onPresence(ctx, ch.After, ch.MemberID, ch.At, a.HandleJoin); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) onPresence(ctx context.Context, channelID, memberID string, at time.Time,
	fn func(ctx context.Context, practiceID uuid.UUID, memberID string, at time.Time) error) error {
	team, err := a.teams.TeamByVoiceChannel(ctx, channelID)
	if fault.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	id, err := a.ongoingID(ctx, team.ID)
	if fault.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	err = fn(ctx, id, memberID, at)
	if fault.IsInvalidState(err) || fault.IsNotFound(err) {
		log.Debug().Err(err).Str("practice_id", id.String()).Str("member_id", memberID).Msg("ignoring voice presence")
		return nil
	}
	return err
}

// TotalPracticeTime returns the closed time memberID spent in the practice.
func (a *App) TotalPracticeTime(ctx context.Context, practiceID uuid.UUID, memberID string) (time.Duration, error) {
	p, err := a.GetPractice(ctx, practiceID)
	if err != nil {
		return 0, err
	}
	m, ok := p.Members[memberID]
	if !ok {
		return 0, ErrMemberNotInPractice
	}
	return m.TotalTime(), nil
}

// TotalPoints returns the leaderboard score of an ended practice.
func (a *App) TotalPoints(ctx context.Context, practiceID uuid.UUID) (float64, error) {
	p, err := a.GetPractice(ctx, practiceID)
	if err != nil {
		return 0, err
	}
	points, ok := p.TotalPoints()
	if !ok {
		return 0, ErrPracticeNotEnded
	}
	return points, nil
}

func (a *App) when(at time.Time) time.Time {
	if at.IsZero() {
		at = a.clock.Now()
	}
	return at.UTC().Truncate(time.Microsecond)
}
