package timers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fury-esports/furybot/go/internal/sqlutil"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const timerColumns = `id, event, extra, precise, created, expires`

// Repository is the Postgres timer store. It is the only code that touches the
// timers and timer_storage tables.
type Repository struct {
	db sqlutil.DBTX
}

// NewRepository creates a new timer repository
func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimer(row rowScanner) (*Timer, error) {
	var (
		t     Timer
		extra pqtype.NullRawMessage
	)
	if err := row.Scan(&t.ID, &t.Event, &extra, &t.Precise, &t.CreatedAt, &t.ExpiresAt); err != nil {
		return nil, err
	}
	if extra.Valid {
		t.Payload = extra.RawMessage
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

func nullPayload(p []byte) pqtype.NullRawMessage {
	return pqtype.NullRawMessage{RawMessage: p, Valid: len(p) > 0}
}

// Insert stores a new timer and returns the stored row.
func (r *Repository) Insert(ctx context.Context, p InsertParams) (*Timer, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO timers (id, event, extra, precise, created, expires)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+timerColumns,
		p.ID, string(p.Event), nullPayload(p.Payload), p.Precise, normalize(p.CreatedAt), normalize(p.ExpiresAt),
	)
	t, err := scanTimer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert timer: %w", err)
	}
	return t, nil
}

// EarliestPending returns the timer with the smallest expiry before the cutoff, or nil.
func (r *Repository) EarliestPending(ctx context.Context, cutoff time.Time) (*Timer, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+timerColumns+`
		FROM timers
		WHERE expires < $1
		ORDER BY expires, id
		LIMIT 1`,
		normalize(cutoff),
	)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch earliest timer: %w", err)
	}
	return t, nil
}

// Delete removes a timer and returns the removed row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (*Timer, error) {
	row := r.db.QueryRowContext(ctx, `DELETE FROM timers WHERE id = $1 RETURNING `+timerColumns, id)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTimerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete timer: %w", err)
	}
	return t, nil
}

// Archive copies a fired timer into timer_storage.
func (r *Repository) Archive(ctx context.Context, t *Timer) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timer_storage (id, event, extra, precise, created, expires)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, string(t.Event), nullPayload(t.Payload), t.Precise, normalize(t.CreatedAt), normalize(t.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to archive timer: %w", err)
	}
	return nil
}

// Fetch returns a pending timer by id.
func (r *Repository) Fetch(ctx context.Context, id uuid.UUID) (*Timer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+timerColumns+` FROM timers WHERE id = $1`, id)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTimerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch timer: %w", err)
	}
	return t, nil
}

// ListAll returns every pending timer in firing order.
func (r *Repository) ListAll(ctx context.Context) ([]Timer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+timerColumns+` FROM timers ORDER BY expires, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list timers: %w", err)
	}
	defer rows.Close()

	var out []Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateExpiry moves a pending timer to a new expiry.
func (r *Repository) UpdateExpiry(ctx context.Context, id uuid.UUID, expires time.Time) (*Timer, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE timers SET expires = $2 WHERE id = $1
		RETURNING `+timerColumns,
		id, normalize(expires),
	)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTimerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update timer expiry: %w", err)
	}
	return t, nil
}
