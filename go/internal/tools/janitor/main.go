package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/fury-esports/furybot/go/internal/dbconfig"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultRetention = 30 * 24 * time.Hour

// Result is what one janitor run cleaned up.
type Result struct {
	ArchivedTimersPruned int64 `json:"archived_timers_pruned"`
	IntervalsClosed      int64 `json:"intervals_closed"`
}

func retention() time.Duration {
	if d, err := time.ParseDuration(os.Getenv("TIMER_RETENTION")); err == nil && d > 0 {
		return d
	}
	return defaultRetention
}

// handler prunes old fired timers and closes intervals left open on practices
// that already completed, for example after a crash between writes.
func handler(ctx context.Context) (Result, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = dbconfig.NewConfigFromEnv().DSN()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return Result{}, fmt.Errorf("parse: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("pool: %w", err)
	}
	defer pool.Close()

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var res Result
	cutoff := time.Now().UTC().Add(-retention())
	tag, err := pool.Exec(cctx, `DELETE FROM timer_storage WHERE archived_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("prune timer_storage: %w", err)
	}
	res.ArchivedTimersPruned = tag.RowsAffected()

	tag, err = pool.Exec(cctx, `
UPDATE practice_member_history h
SET left_at = p.ended_at
FROM practice_members m
JOIN practices p ON p.id = m.practice_id
WHERE h.practice_member_id = m.id
  AND h.left_at IS NULL
  AND p.status = 'completed'
  AND p.ended_at IS NOT NULL;`)
	if err != nil {
		return res, fmt.Errorf("close stale intervals: %w", err)
	}
	res.IntervalsClosed = tag.RowsAffected()

	log.Info().
		Int64("timers_pruned", res.ArchivedTimersPruned).
		Int64("intervals_closed", res.IntervalsClosed).
		Msg("janitor run complete")
	return res, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lambda.Start(handler)
}
