package gameday

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the sub-finding limits and the scoreboard and weekly schedule settings.
type Config struct {
	// SubFindingMinLead is the least time before kickoff a search may start.
	SubFindingMinLead time.Duration `yaml:"sub_finding_min_lead"`
	// SubFindingKickoffBuffer is how long before kickoff a search must end.
	SubFindingKickoffBuffer time.Duration `yaml:"sub_finding_kickoff_buffer"`
	SubFindingMaxWindow     time.Duration `yaml:"sub_finding_max_window"`
	SubFindingMinWindow     time.Duration `yaml:"sub_finding_min_window"`

	// Timezone is where weekly gameday times are read, e.g. "America/New_York".
	Timezone string `yaml:"timezone"`
	// BestOf is the series length the scoreboard tracks. The first side to a
	// majority ends the gameday.
	BestOf int `yaml:"best_of"`
}

func DefaultConfig() Config {
	return Config{
		SubFindingMinLead:       time.Hour,
		SubFindingKickoffBuffer: 30 * time.Minute,
		SubFindingMaxWindow:     6 * time.Hour,
		SubFindingMinWindow:     15 * time.Minute,
		Timezone:                "America/New_York",
		BestOf:                  3,
	}
}

func (c Config) location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", c.Timezone).Msg("unknown gameday timezone, using UTC")
		return time.UTC
	}
	return loc
}

// winsNeeded is the majority of a best-of series.
func (c Config) winsNeeded() int {
	if c.BestOf < 1 {
		return 1
	}
	return c.BestOf/2 + 1
}
