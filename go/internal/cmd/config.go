package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fury-esports/furybot/go/internal/gameday"
	"github.com/fury-esports/furybot/go/internal/scrim"
	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the bot configuration: scheduling knobs from furybot.yaml, then
// connection settings from the environment.
type Config struct {
	Timers  timers.Config  `yaml:"timers"`
	Gameday gameday.Config `yaml:"gameday"`
	Scrim   scrim.Config   `yaml:"scrim"`

	LogLevel string `yaml:"log_level"`

	DiscordToken   string `yaml:"-"`
	DiscordGuildID string `yaml:"-"`
	NATSURL        string `yaml:"-"`
	HTTPAddr       string `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		Timers:   timers.DefaultConfig(),
		Gameday:  gameday.DefaultConfig(),
		Scrim:    scrim.DefaultConfig(),
		LogLevel: "info",
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
// ${VAR} references in the file are expanded from the environment.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		config.LogLevel = lvl
	}
	config.DiscordToken = os.Getenv("DISCORD_TOKEN")
	config.DiscordGuildID = os.Getenv("DISCORD_GUILD_ID")
	config.NATSURL = os.Getenv("NATS_URL")
	config.HTTPAddr = getEnv("HTTP_ADDR", ":8082")
	return &config, nil
}

// level parses LogLevel, falling back to info.
func (c *Config) level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
