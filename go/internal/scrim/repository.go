package scrim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fury-esports/furybot/go/internal/sqlutil"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository implements scrim data access operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new scrim repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const scrimColumns = `
	id, guild_id, creator_id, home_team_id, away_team_id, per_team, scheduled_for, status,
	home_voter_ids, away_voter_ids, force_voter_ids,
	home_message_id, away_message_id, force_message_id, force_requested_by,
	scheduled_timer_id, reminder_timer_id, delete_timer_id, created_at`

// voterColumn whitelists the array column for a side.
func voterColumn(side Side) (string, error) {
	switch side {
	case SideHome:
		return "home_voter_ids", nil
	case SideAway:
		return "away_voter_ids", nil
	case SideForce:
		return "force_voter_ids", nil
	default:
		return "", fmt.Errorf("unknown scrim side %q", side)
	}
}

// CreateScrim stores a new scrim
func (r *Repository) CreateScrim(ctx context.Context, s *Scrim) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scrims (`+scrimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		s.ID, s.GuildID, s.CreatorID, s.HomeTeamID, s.AwayTeamID, s.PerTeam, s.ScheduledFor.UTC(), s.Status,
		pq.Array(nonNil(s.HomeVoterIDs)), pq.Array(nonNil(s.AwayVoterIDs)), pq.Array(nonNil(s.ForceVoterIDs)),
		sqlutil.NullIfEmpty(s.HomeMessageID), sqlutil.NullIfEmpty(s.AwayMessageID),
		sqlutil.NullIfEmpty(s.ForceMessageID), sqlutil.NullIfEmpty(s.ForceRequestedBy),
		s.ScheduledTimerID, s.ReminderTimerID, s.DeleteTimerID, s.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create scrim: %w", err)
	}
	return nil
}

// GetScrim retrieves a scrim by ID
func (r *Repository) GetScrim(ctx context.Context, id uuid.UUID) (*Scrim, error) {
	var (
		s                                  Scrim
		homeMsg, awayMsg, forceMsg, forced sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+scrimColumns+` FROM scrims WHERE id = $1`, id).Scan(
		&s.ID, &s.GuildID, &s.CreatorID, &s.HomeTeamID, &s.AwayTeamID, &s.PerTeam, &s.ScheduledFor, &s.Status,
		pq.Array(&s.HomeVoterIDs), pq.Array(&s.AwayVoterIDs), pq.Array(&s.ForceVoterIDs),
		&homeMsg, &awayMsg, &forceMsg, &forced,
		&s.ScheduledTimerID, &s.ReminderTimerID, &s.DeleteTimerID, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScrimNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scrim: %w", err)
	}
	s.ScheduledFor = s.ScheduledFor.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.HomeMessageID = homeMsg.String
	s.AwayMessageID = awayMsg.String
	s.ForceMessageID = forceMsg.String
	s.ForceRequestedBy = forced.String
	return &s, nil
}

// AddVoter appends the voter to a side's list and sets the status in one
// statement. A vote that carries the away panel id stores it as well.
func (r *Repository) AddVoter(ctx context.Context, id uuid.UUID, v Vote) error {
	col, err := voterColumn(v.Side)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE scrims SET `+col+` = array_append(`+col+`, $2), status = $3,
			away_message_id = COALESCE($4, away_message_id)
		WHERE id = $1 AND NOT ($2 = ANY(`+col+`))`, id, v.MemberID, v.Status, sqlutil.NullIfEmpty(v.AwayMessageID))
	if err != nil {
		return fmt.Errorf("failed to add scrim voter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyVoted
	}
	return nil
}

// RemoveVoter removes memberID from a side's voter list
func (r *Repository) RemoveVoter(ctx context.Context, id uuid.UUID, side Side, memberID string) error {
	col, err := voterColumn(side)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE scrims SET `+col+` = array_remove(`+col+`, $2)
		WHERE id = $1 AND $2 = ANY(`+col+`)`, id, memberID)
	if err != nil {
		return fmt.Errorf("failed to remove scrim voter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotVoted
	}
	return nil
}

// UpdateState persists status, panels and timer ids. Voter lists are only
// touched through AddVoter and RemoveVoter.
func (r *Repository) UpdateState(ctx context.Context, s *Scrim) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scrims SET
			status = $2,
			home_message_id = $3, away_message_id = $4, force_message_id = $5, force_requested_by = $6,
			scheduled_timer_id = $7, reminder_timer_id = $8, delete_timer_id = $9
		WHERE id = $1`,
		s.ID, s.Status,
		sqlutil.NullIfEmpty(s.HomeMessageID), sqlutil.NullIfEmpty(s.AwayMessageID),
		sqlutil.NullIfEmpty(s.ForceMessageID), sqlutil.NullIfEmpty(s.ForceRequestedBy),
		s.ScheduledTimerID, s.ReminderTimerID, s.DeleteTimerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scrim: %w", err)
	}
	return nil
}

// DeleteScrim removes a scrim
func (r *Repository) DeleteScrim(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scrims WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scrim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScrimNotFound
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
