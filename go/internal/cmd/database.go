package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fury-esports/furybot/go/internal/dbconfig"
	"github.com/fury-esports/furybot/go/internal/migrations"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// setupDatabase connects, applies the pool limits and runs pending migrations.
func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*sql.DB, error) {
	database, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	cfg.Apply(database)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Up(database); err != nil {
		database.Close()
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")
	return database, nil
}
