package teams

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fury-esports/furybot/go/internal/sqlutil"
	"github.com/google/uuid"
)

// Repository implements team data access operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new teams repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// queries is the statement set shared by the plain and transactional paths.
type queries struct {
	db sqlutil.DBTX
}

func newQueries(db sqlutil.DBTX) *queries {
	return &queries{db: db}
}

// CreateTeam creates a team and its roster in one transaction
func (r *Repository) CreateTeam(ctx context.Context, req CreateTeamRequest) (*Team, error) {
	team := &Team{
		ID:             uuid.New(),
		GuildID:        req.GuildID,
		Name:           req.Name,
		TextChannelID:  req.TextChannelID,
		VoiceChannelID: req.VoiceChannelID,
		Members:        req.Members,
	}

	err := sqlutil.Run(ctx, r.db, newQueries, func(q *queries) error {
		err := q.db.QueryRowContext(ctx, `
			INSERT INTO teams (id, guild_id, name, text_channel_id, voice_channel_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at`,
			team.ID, team.GuildID, team.Name, team.TextChannelID, team.VoiceChannelID,
		).Scan(&team.CreatedAt)
		if err != nil {
			return err
		}
		for _, m := range team.Members {
			if err := q.addMember(ctx, team.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}
	return team, nil
}

// GetTeam retrieves a team and its roster by ID
func (r *Repository) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	q := newQueries(r.db)
	row := q.db.QueryRowContext(ctx, `
		SELECT id, guild_id, name, text_channel_id, voice_channel_id, created_at
		FROM teams WHERE id = $1`, id)
	return q.hydrate(ctx, row)
}

// GetTeamByVoiceChannel retrieves the team that owns a voice channel
func (r *Repository) GetTeamByVoiceChannel(ctx context.Context, channelID string) (*Team, error) {
	q := newQueries(r.db)
	row := q.db.QueryRowContext(ctx, `
		SELECT id, guild_id, name, text_channel_id, voice_channel_id, created_at
		FROM teams WHERE voice_channel_id = $1`, channelID)
	return q.hydrate(ctx, row)
}

// AddMember adds a member to a team's roster
func (r *Repository) AddMember(ctx context.Context, teamID uuid.UUID, m Member) error {
	if err := newQueries(r.db).addMember(ctx, teamID, m); err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// RemoveMember removes a member from a team's roster
func (r *Repository) RemoveMember(ctx context.Context, teamID uuid.UUID, memberID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1 AND member_id = $2`, teamID, memberID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotOnTeam
	}
	return nil
}

func (q *queries) addMember(ctx context.Context, teamID uuid.UUID, m Member) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, member_id, is_sub) VALUES ($1, $2, $3)
		ON CONFLICT (team_id, member_id) DO UPDATE SET is_sub = EXCLUDED.is_sub`,
		teamID, m.MemberID, m.IsSub,
	)
	return err
}

func (q *queries) hydrate(ctx context.Context, row *sql.Row) (*Team, error) {
	var t Team
	err := row.Scan(&t.ID, &t.GuildID, &t.Name, &t.TextChannelID, &t.VoiceChannelID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT member_id, is_sub FROM team_members WHERE team_id = $1 ORDER BY member_id`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.MemberID, &m.IsSub); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		t.Members = append(t.Members, m)
	}
	return &t, rows.Err()
}
