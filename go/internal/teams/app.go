package teams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fury-esports/furybot/go/internal/fault"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrTeamNotFound    = fault.NotFound("that team no longer exists")
	ErrMemberNotOnTeam = fault.InvalidState("you are not a member of this team")
)

// TeamsRepository defines what the app layer needs from the repository
type TeamsRepository interface {
	CreateTeam(ctx context.Context, req CreateTeamRequest) (*Team, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*Team, error)
	GetTeamByVoiceChannel(ctx context.Context, channelID string) (*Team, error)
	AddMember(ctx context.Context, teamID uuid.UUID, m Member) error
	RemoveMember(ctx context.Context, teamID uuid.UUID, memberID string) error
}

// App handles teams business logic and keeps a lazily filled cache of teams.
type App struct {
	repo TeamsRepository

	mu    sync.RWMutex
	cache map[uuid.UUID]*Team
}

// NewApp creates a new teams App
func NewApp(repo TeamsRepository) *App {
	return &App{
		repo:  repo,
		cache: make(map[uuid.UUID]*Team),
	}
}

// CreateTeam creates a new team with validation
func (a *App) CreateTeam(ctx context.Context, req CreateTeamRequest) (*Team, error) {
	if err := validateCreateTeamRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	team, err := a.repo.CreateTeam(ctx, req)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[team.ID] = team
	a.mu.Unlock()

	log.Info().Str("team_id", team.ID.String()).Str("name", team.Name).Msg("created team")
	return team, nil
}

// GetTeam returns a team, loading it on first use.
func (a *App) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	a.mu.RLock()
	team, ok := a.cache[id]
	a.mu.RUnlock()
	if ok {
		return team, nil
	}

	team, err := a.repo.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[id] = team
	a.mu.Unlock()
	return team, nil
}

// TeamByVoiceChannel returns the team owning a voice channel, or ErrTeamNotFound.
func (a *App) TeamByVoiceChannel(ctx context.Context, channelID string) (*Team, error) {
	a.mu.RLock()
	for _, t := range a.cache {
		if t.VoiceChannelID == channelID {
			a.mu.RUnlock()
			return t, nil
		}
	}
	a.mu.RUnlock()

	team, err := a.repo.GetTeamByVoiceChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[team.ID] = team
	a.mu.Unlock()
	return team, nil
}

// RequireMember returns ErrMemberNotOnTeam unless memberID is on the team.
func (a *App) RequireMember(ctx context.Context, teamID uuid.UUID, memberID string) (*Team, error) {
	team, err := a.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !team.HasMember(memberID) {
		return nil, ErrMemberNotOnTeam
	}
	return team, nil
}

// AddMember adds a member and refreshes the cached roster.
func (a *App) AddMember(ctx context.Context, teamID uuid.UUID, m Member) error {
	team, err := a.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if err := a.repo.AddMember(ctx, teamID, m); err != nil {
		return err
	}

	updated := *team
	updated.Members = nil
	for _, existing := range team.Members {
		if existing.MemberID != m.MemberID {
			updated.Members = append(updated.Members, existing)
		}
	}
	updated.Members = append(updated.Members, m)

	a.mu.Lock()
	a.cache[teamID] = &updated
	a.mu.Unlock()
	return nil
}

// RemoveMember removes a member and refreshes the cached roster.
func (a *App) RemoveMember(ctx context.Context, teamID uuid.UUID, memberID string) error {
	team, err := a.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if err := a.repo.RemoveMember(ctx, teamID, memberID); err != nil {
		return err
	}

	updated := *team
	updated.Members = nil
	for _, existing := range team.Members {
		if existing.MemberID != memberID {
			updated.Members = append(updated.Members, existing)
		}
	}

	a.mu.Lock()
	a.cache[teamID] = &updated
	a.mu.Unlock()
	return nil
}

func validateCreateTeamRequest(req CreateTeamRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if req.GuildID == "" {
		return errors.New("guild_id is required")
	}
	if req.TextChannelID == "" || req.VoiceChannelID == "" {
		return errors.New("text and voice channels are required")
	}
	return nil
}
