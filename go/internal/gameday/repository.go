package gameday

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fury-esports/furybot/go/internal/sqlutil"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository implements gameday data access operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new gameday repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type queries struct {
	db sqlutil.DBTX
}

func newQueries(db sqlutil.DBTX) *queries {
	return &queries{db: db}
}

// CreateBucket stores a bucket. Used by seeding and admin tooling.
func (r *Repository) CreateBucket(ctx context.Context, b *Bucket) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gameday_buckets (id, guild_id, team_id, per_team, automatic_sub_finding_if_possible, automatic_sub_finding_channel_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.GuildID, b.TeamID, b.PerTeam, b.AutomaticSubFindingIfPossible, sqlutil.NullIfEmpty(b.AutomaticSubFindingChannelID),
	)
	if err != nil {
		return fmt.Errorf("failed to create gameday bucket: %w", err)
	}
	return nil
}

// GetBucket retrieves a bucket by ID
func (r *Repository) GetBucket(ctx context.Context, id uuid.UUID) (*Bucket, error) {
	var (
		b       Bucket
		channel sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, guild_id, team_id, per_team, automatic_sub_finding_if_possible, automatic_sub_finding_channel_id
		FROM gameday_buckets WHERE id = $1`, id,
	).Scan(&b.ID, &b.GuildID, &b.TeamID, &b.PerTeam, &b.AutomaticSubFindingIfPossible, &channel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBucketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gameday bucket: %w", err)
	}
	b.AutomaticSubFindingChannelID = channel.String
	return &b, nil
}

// CreateGameday stores a new gameday along with its timer ids
func (r *Repository) CreateGameday(ctx context.Context, g *Gameday) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gamedays (
			id, guild_id, team_id, bucket_id, starts_at, automatic_sub_finding, start_timer_id,
			voting_starts_at, voting_ends_at, voting_start_timer_id, voting_end_timer_id, voting_state,
			gameday_time_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		g.ID, g.GuildID, g.TeamID, g.BucketID, g.StartsAt.UTC(), g.AutomaticSubFinding, g.StartTimerID,
		g.Voting.StartsAt.UTC(), g.Voting.EndsAt.UTC(), g.Voting.StartTimerID, g.Voting.EndTimerID, g.Voting.State,
		g.GamedayTimeID,
	)
	if err != nil {
		return fmt.Errorf("failed to create gameday: %w", err)
	}
	return nil
}

// GetGameday hydrates a gameday with its members and sub finding
func (r *Repository) GetGameday(ctx context.Context, id uuid.UUID) (*Gameday, error) {
	q := newQueries(r.db)

	var (
		g            Gameday
		messageID    sql.NullString
		startedAt    sql.NullTime
		scoreboardID sql.NullString
		endedAt      sql.NullTime
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, guild_id, team_id, bucket_id, starts_at, automatic_sub_finding, start_timer_id,
		       voting_starts_at, voting_ends_at, voting_start_timer_id, voting_end_timer_id,
		       voting_message_id, voting_state, started_at,
		       gameday_time_id, wins, losses, scoreboard_message_id, ended_at
		FROM gamedays WHERE id = $1`, id,
	).Scan(
		&g.ID, &g.GuildID, &g.TeamID, &g.BucketID, &g.StartsAt, &g.AutomaticSubFinding, &g.StartTimerID,
		&g.Voting.StartsAt, &g.Voting.EndsAt, &g.Voting.StartTimerID, &g.Voting.EndTimerID,
		&messageID, &g.Voting.State, &startedAt,
		&g.GamedayTimeID, &g.Wins, &g.Losses, &scoreboardID, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGamedayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gameday: %w", err)
	}
	g.StartsAt = g.StartsAt.UTC()
	g.Voting.StartsAt = g.Voting.StartsAt.UTC()
	g.Voting.EndsAt = g.Voting.EndsAt.UTC()
	g.Voting.MessageID = messageID.String
	g.StartedAt = sqlutil.FromSqlTime(startedAt)
	g.ScoreboardMessageID = scoreboardID.String
	g.EndedAt = sqlutil.FromSqlTime(endedAt)

	if g.Members, err = q.members(ctx, g.ID); err != nil {
		return nil, err
	}
	if g.SubFinding, err = q.subFinding(ctx, g.ID); err != nil {
		return nil, err
	}
	if g.ScoreReports, err = q.scoreReports(ctx, g.ID); err != nil {
		return nil, err
	}
	return &g, nil
}

// UpdateVoting persists the voting sub-state
func (r *Repository) UpdateVoting(ctx context.Context, gamedayID uuid.UUID, v Voting) error {
	if err := newQueries(r.db).updateVoting(ctx, gamedayID, v); err != nil {
		return fmt.Errorf("failed to update gameday voting: %w", err)
	}
	return nil
}

// AddMember records a response and any state change it caused in one transaction
func (r *Repository) AddMember(ctx context.Context, gamedayID uuid.UUID, m Member, change StateChange) error {
	err := sqlutil.Run(ctx, r.db, newQueries, func(q *queries) error {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO gameday_members (gameday_id, member_id, reason, is_temporary_sub)
			VALUES ($1, $2, $3, $4)`,
			gamedayID, m.MemberID, sqlutil.ToSqlString(m.Reason), m.IsTemporarySub,
		)
		if err != nil {
			return err
		}
		if change.Voting != nil {
			if err := q.updateVoting(ctx, gamedayID, *change.Voting); err != nil {
				return err
			}
		}
		if change.SubFinding != nil {
			if err := q.saveSubFinding(ctx, gamedayID, *change.SubFinding); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add gameday member: %w", err)
	}
	return nil
}

// RemoveMember deletes a response
func (r *Repository) RemoveMember(ctx context.Context, gamedayID uuid.UUID, memberID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gameday_members WHERE gameday_id = $1 AND member_id = $2`, gamedayID, memberID)
	if err != nil {
		return fmt.Errorf("failed to remove gameday member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotVoted
	}
	return nil
}

// SaveSubFinding upserts the sub finding sub-state
func (r *Repository) SaveSubFinding(ctx context.Context, gamedayID uuid.UUID, sf SubFinding) error {
	if err := newQueries(r.db).saveSubFinding(ctx, gamedayID, sf); err != nil {
		return fmt.Errorf("failed to save sub finding: %w", err)
	}
	return nil
}

// MarkStarted records kickoff and the scoreboard panel, and clears the start timer id
func (r *Repository) MarkStarted(ctx context.Context, gamedayID uuid.UUID, at time.Time, scoreboardMessageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE gamedays SET started_at = $2, start_timer_id = NULL, scoreboard_message_id = $3 WHERE id = $1`,
		gamedayID, at.UTC(), sqlutil.NullIfEmpty(scoreboardMessageID),
	)
	if err != nil {
		return fmt.Errorf("failed to mark gameday started: %w", err)
	}
	return nil
}

// AddScoreReport stores a member's score report
func (r *Repository) AddScoreReport(ctx context.Context, gamedayID uuid.UUID, sr ScoreReport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gameday_score_reports (id, gameday_id, reported_by, text, reported_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sr.ID, gamedayID, sr.ReportedBy, sr.Text, sr.ReportedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add score report: %w", err)
	}
	return nil
}

// UpdateScore sets the scoreboard tally of a gameday that has not ended
func (r *Repository) UpdateScore(ctx context.Context, gamedayID uuid.UUID, wins, losses int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE gamedays SET wins = $2, losses = $3 WHERE id = $1 AND ended_at IS NULL`, gamedayID, wins, losses)
	if err != nil {
		return fmt.Errorf("failed to update gameday score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGamedayEnded
	}
	return nil
}

// MarkEnded records the end of a gameday. It fails if the gameday already ended.
func (r *Repository) MarkEnded(ctx context.Context, gamedayID uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE gamedays SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`,
		gamedayID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark gameday ended: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGamedayEnded
	}
	return nil
}

// CreateGamedayTime stores a weekly gameday slot
func (r *Repository) CreateGamedayTime(ctx context.Context, gt *GamedayTime) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gameday_times (id, guild_id, team_id, bucket_id, weekday, minute_of_day)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		gt.ID, gt.GuildID, gt.TeamID, gt.BucketID, int(gt.Weekday), int(gt.TimeOfDay/time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to create gameday time: %w", err)
	}
	return nil
}

// GetGamedayTime retrieves a weekly gameday slot by ID
func (r *Repository) GetGamedayTime(ctx context.Context, id uuid.UUID) (*GamedayTime, error) {
	var (
		gt      GamedayTime
		weekday int
		minutes int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, guild_id, team_id, bucket_id, weekday, minute_of_day FROM gameday_times WHERE id = $1`, id,
	).Scan(&gt.ID, &gt.GuildID, &gt.TeamID, &gt.BucketID, &weekday, &minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGamedayTimeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gameday time: %w", err)
	}
	gt.Weekday = Weekday(weekday)
	gt.TimeOfDay = time.Duration(minutes) * time.Minute
	return &gt, nil
}

// DeleteGamedayTime removes a weekly slot; gamedays created from it keep existing
func (r *Repository) DeleteGamedayTime(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gameday_times WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete gameday time: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGamedayTimeNotFound
	}
	return nil
}

// UpcomingForTime lists the gamedays of a weekly slot that have not kicked off
func (r *Repository) UpcomingForTime(ctx context.Context, gamedayTimeID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM gamedays WHERE gameday_time_id = $1 AND started_at IS NULL ORDER BY starts_at`, gamedayTimeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming gamedays: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan gameday id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteGameday removes a gameday; members and sub finding cascade
func (r *Repository) DeleteGameday(ctx context.Context, gamedayID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gamedays WHERE id = $1`, gamedayID)
	if err != nil {
		return fmt.Errorf("failed to delete gameday: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGamedayNotFound
	}
	return nil
}

func (q *queries) updateVoting(ctx context.Context, gamedayID uuid.UUID, v Voting) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE gamedays
		SET voting_start_timer_id = $2, voting_end_timer_id = $3, voting_message_id = $4, voting_state = $5
		WHERE id = $1`,
		gamedayID, v.StartTimerID, v.EndTimerID, sqlutil.NullIfEmpty(v.MessageID), v.State,
	)
	return err
}

func (q *queries) saveSubFinding(ctx context.Context, gamedayID uuid.UUID, sf SubFinding) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO gameday_sub_findings (gameday_id, starts_at, ends_at, end_timer_id, channel_id, message_ids, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (gameday_id) DO UPDATE SET
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			end_timer_id = EXCLUDED.end_timer_id,
			channel_id = EXCLUDED.channel_id,
			message_ids = EXCLUDED.message_ids,
			state = EXCLUDED.state`,
		gamedayID, sf.StartsAt.UTC(), sf.EndsAt.UTC(), sf.EndTimerID, sf.ChannelID, pq.Array(nonNil(sf.MessageIDs)), sf.State,
	)
	return err
}

func (q *queries) members(ctx context.Context, gamedayID uuid.UUID) (map[string]*Member, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT member_id, reason, is_temporary_sub FROM gameday_members WHERE gameday_id = $1`, gamedayID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gameday members: %w", err)
	}
	defer rows.Close()

	members := make(map[string]*Member)
	for rows.Next() {
		var (
			m      Member
			reason sql.NullString
		)
		if err := rows.Scan(&m.MemberID, &reason, &m.IsTemporarySub); err != nil {
			return nil, fmt.Errorf("failed to scan gameday member: %w", err)
		}
		m.Reason = sqlutil.FromSqlStringPtr(reason)
		members[m.MemberID] = &m
	}
	return members, rows.Err()
}

func (q *queries) subFinding(ctx context.Context, gamedayID uuid.UUID) (*SubFinding, error) {
	var sf SubFinding
	err := q.db.QueryRowContext(ctx, `
		SELECT starts_at, ends_at, end_timer_id, channel_id, message_ids, state
		FROM gameday_sub_findings WHERE gameday_id = $1`, gamedayID,
	).Scan(&sf.StartsAt, &sf.EndsAt, &sf.EndTimerID, &sf.ChannelID, pq.Array(&sf.MessageIDs), &sf.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sub finding: %w", err)
	}
	sf.StartsAt = sf.StartsAt.UTC()
	sf.EndsAt = sf.EndsAt.UTC()
	return &sf, nil
}

func (q *queries) scoreReports(ctx context.Context, gamedayID uuid.UUID) ([]ScoreReport, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, reported_by, text, reported_at FROM gameday_score_reports
		WHERE gameday_id = $1 ORDER BY reported_at`, gamedayID)
	if err != nil {
		return nil, fmt.Errorf("failed to list score reports: %w", err)
	}
	defer rows.Close()

	var reports []ScoreReport
	for rows.Next() {
		var sr ScoreReport
		if err := rows.Scan(&sr.ID, &sr.ReportedBy, &sr.Text, &sr.ReportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score report: %w", err)
		}
		sr.ReportedAt = sr.ReportedAt.UTC()
		reports = append(reports, sr)
	}
	return reports, rows.Err()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
