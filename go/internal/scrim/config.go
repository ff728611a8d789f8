package scrim

import "time"

// Config holds the scrim timing knobs.
type Config struct {
	// ForceConfirmLead is how close to the start a force confirm may be requested.
	ForceConfirmLead time.Duration `yaml:"force_confirm_lead"`
	ReminderLead     time.Duration `yaml:"reminder_lead"`
	// ChatLifetime is how long a scheduled scrim is kept after it starts.
	ChatLifetime time.Duration `yaml:"chat_lifetime"`
}

func DefaultConfig() Config {
	return Config{
		ForceConfirmLead: 30 * time.Minute,
		ReminderLead:     30 * time.Minute,
		ChatLifetime:     4 * time.Hour,
	}
}
