package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fury-esports/furybot/go/internal/dbconfig"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Team mirrors the seed JSON structure
type Team struct {
	ID             string   `json:"id"`
	GuildID        string   `json:"guild_id"`
	Name           string   `json:"name"`
	TextChannelID  string   `json:"text_channel_id"`
	VoiceChannelID string   `json:"voice_channel_id"`
	Members        []Member `json:"members"`
	Buckets        []Bucket `json:"buckets"`
}

type Member struct {
	MemberID string `json:"member_id"`
	IsSub    bool   `json:"is_sub"`
}

type Bucket struct {
	ID                  string `json:"id"`
	PerTeam             int    `json:"per_team"`
	AutomaticSubFinding bool   `json:"automatic_sub_finding"`
	SubFindingChannelID string `json:"sub_finding_channel_id"`
}

func main() {
	path := "go/internal/assets/teams.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var teams []Team
	if err := json.Unmarshal(data, &teams); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert each team with its roster and buckets, and count
	var (
		total    = len(teams)
		inserted int
		skipped  int
		errs     int
	)

	for _, t := range teams {
		created, err := seedTeam(ctx, pool, t)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error seeding team %s: %v\n", t.Name, err)
			errs++
			continue
		}
		if created {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Teams seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}

// seedTeam writes one team in a transaction. Existing teams are left alone, but
// missing roster spots and buckets are still added.
func seedTeam(ctx context.Context, pool *pgxpool.Pool, t Team) (bool, error) {
	id, err := uuid.Parse(t.ID)
	if err != nil {
		return false, fmt.Errorf("bad team id: %w", err)
	}

	var created bool
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            INSERT INTO teams (id, guild_id, name, text_channel_id, voice_channel_id)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (guild_id, name) DO NOTHING
        `, id, t.GuildID, t.Name, t.TextChannelID, t.VoiceChannelID)
		if err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		created = tag.RowsAffected() == 1

		for _, m := range t.Members {
			if _, err := tx.Exec(ctx, `
                INSERT INTO team_members (team_id, member_id, is_sub)
                VALUES ($1, $2, $3)
                ON CONFLICT (team_id, member_id) DO NOTHING
            `, id, m.MemberID, m.IsSub); err != nil {
				return fmt.Errorf("insert member %s: %w", m.MemberID, err)
			}
		}

		for _, b := range t.Buckets {
			bucketID, err := uuid.Parse(b.ID)
			if err != nil {
				return fmt.Errorf("bad bucket id: %w", err)
			}
			var channel *string
			if b.SubFindingChannelID != "" {
				channel = &b.SubFindingChannelID
			}
			if _, err := tx.Exec(ctx, `
                INSERT INTO gameday_buckets (
                  id, guild_id, team_id, per_team,
                  automatic_sub_finding_if_possible, automatic_sub_finding_channel_id
                ) VALUES ($1, $2, $3, $4, $5, $6)
                ON CONFLICT (id) DO NOTHING
            `, bucketID, t.GuildID, id, b.PerTeam, b.AutomaticSubFinding, channel); err != nil {
				return fmt.Errorf("insert bucket %s: %w", b.ID, err)
			}
		}
		return nil
	})
	return created, err
}
