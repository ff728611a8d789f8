package practice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fury-esports/furybot/go/internal/sqlutil"
	"github.com/google/uuid"
)

// Repository implements practice data access operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new practice repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type queries struct {
	db sqlutil.DBTX
}

func newQueries(db sqlutil.DBTX) *queries {
	return &queries{db: db}
}

// CreatePractice stores a practice with the members present at its start
func (r *Repository) CreatePractice(ctx context.Context, p *Practice) error {
	err := sqlutil.Run(ctx, r.db, newQueries, func(q *queries) error {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO practices (id, guild_id, team_id, channel_id, started_by, started_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.GuildID, p.TeamID, p.ChannelID, p.StartedBy, p.StartedAt.UTC(), p.Status,
		)
		if err != nil {
			return err
		}
		for _, m := range p.Members {
			if err := q.addMember(ctx, p.ID, *m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create practice: %w", err)
	}
	return nil
}

// GetPractice hydrates a practice with its members and their history
func (r *Repository) GetPractice(ctx context.Context, id uuid.UUID) (*Practice, error) {
	var (
		p         Practice
		endedAt   sql.NullTime
		messageID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, guild_id, team_id, channel_id, started_by, started_at, ended_at, status, message_id
		FROM practices WHERE id = $1`, id,
	).Scan(&p.ID, &p.GuildID, &p.TeamID, &p.ChannelID, &p.StartedBy, &p.StartedAt, &endedAt, &p.Status, &messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPracticeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get practice: %w", err)
	}
	p.StartedAt = p.StartedAt.UTC()
	p.EndedAt = sqlutil.FromSqlTime(endedAt)
	p.MessageID = messageID.String

	if p.Members, err = r.members(ctx, p.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

// OngoingPracticeID returns the id of the team's running practice
func (r *Repository) OngoingPracticeID(ctx context.Context, teamID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM practices WHERE team_id = $1 AND status = $2`, teamID, StatusOngoing,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrNoOngoingPractice
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get ongoing practice: %w", err)
	}
	return id, nil
}

// SaveMessageID stores the id of the practice panel
func (r *Repository) SaveMessageID(ctx context.Context, id uuid.UUID, messageID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE practices SET message_id = $2 WHERE id = $1`, id, sqlutil.NullIfEmpty(messageID))
	if err != nil {
		return fmt.Errorf("failed to save practice message: %w", err)
	}
	return nil
}

// AddMember stores a member and any history it starts with
func (r *Repository) AddMember(ctx context.Context, practiceID uuid.UUID, m Member) error {
	err := sqlutil.Run(ctx, r.db, newQueries, func(q *queries) error {
		return q.addMember(ctx, practiceID, m)
	})
	if err != nil {
		return fmt.Errorf("failed to add practice member: %w", err)
	}
	return nil
}

// OpenInterval starts a new history interval for a member
func (r *Repository) OpenInterval(ctx context.Context, memberRowID uuid.UUID, iv Interval) error {
	if err := newQueries(r.db).openInterval(ctx, memberRowID, iv); err != nil {
		return fmt.Errorf("failed to open practice interval: %w", err)
	}
	return nil
}

// CloseIntervals closes intervals and optionally completes the practice in one transaction
func (r *Repository) CloseIntervals(ctx context.Context, practiceID uuid.UUID, intervalIDs []uuid.UUID, at time.Time, complete bool) error {
	err := sqlutil.Run(ctx, r.db, newQueries, func(q *queries) error {
		for _, id := range intervalIDs {
			res, err := q.db.ExecContext(ctx, `
				UPDATE practice_member_history SET left_at = $2 WHERE id = $1 AND left_at IS NULL`, id, at.UTC())
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrNotPracticing
			}
		}
		if !complete {
			return nil
		}
		res, err := q.db.ExecContext(ctx, `
			UPDATE practices SET status = $2, ended_at = $3 WHERE id = $1 AND status = $4`,
			practiceID, StatusCompleted, at.UTC(), StatusOngoing)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPracticeCompleted
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to close practice intervals: %w", err)
	}
	return nil
}

func (q *queries) addMember(ctx context.Context, practiceID uuid.UUID, m Member) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO practice_members (id, practice_id, member_id, attending, reason)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, practiceID, m.MemberID, m.Attending, sqlutil.ToSqlString(m.Reason),
	)
	if err != nil {
		return err
	}
	for _, iv := range m.History {
		if err := q.openInterval(ctx, m.ID, iv); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) openInterval(ctx context.Context, memberRowID uuid.UUID, iv Interval) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO practice_member_history (id, practice_member_id, joined_at, left_at)
		VALUES ($1, $2, $3, $4)`,
		iv.ID, memberRowID, iv.JoinedAt.UTC(), sqlutil.ToSqlTime(iv.LeftAt),
	)
	return err
}

func (r *Repository) members(ctx context.Context, practiceID uuid.UUID) (map[string]*Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.member_id, m.attending, m.reason, h.id, h.joined_at, h.left_at
		FROM practice_members m
		LEFT JOIN practice_member_history h ON h.practice_member_id = m.id
		WHERE m.practice_id = $1
		ORDER BY m.member_id, h.joined_at`, practiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list practice members: %w", err)
	}
	defer rows.Close()

	members := make(map[string]*Member)
	for rows.Next() {
		var (
			m        Member
			reason   sql.NullString
			ivID     uuid.NullUUID
			joinedAt sql.NullTime
			leftAt   sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.MemberID, &m.Attending, &reason, &ivID, &joinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("failed to scan practice member: %w", err)
		}
		cur, ok := members[m.MemberID]
		if !ok {
			m.Reason = sqlutil.FromSqlStringPtr(reason)
			cur = &m
			members[m.MemberID] = cur
		}
		if ivID.Valid {
			cur.History = append(cur.History, Interval{
				ID:       ivID.UUID,
				JoinedAt: joinedAt.Time.UTC(),
				LeftAt:   sqlutil.FromSqlTime(leftAt),
			})
		}
	}
	return members, rows.Err()
}
