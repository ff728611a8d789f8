package events

import (
	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/google/uuid"
)

// Timer event kinds. Every kind here must have a listener at startup.
const (
	GamedayVotingStart timers.Event = "gameday_voting_start"
	GamedayVotingEnd   timers.Event = "gameday_voting_end"
	GamedayStart       timers.Event = "gameday_start"
	GamedayEnd         timers.Event = "gameday_end"
	SubFindingEnd      timers.Event = "sub_finding_end"
	ScrimScheduled     timers.Event = "scrim_scheduled"
	ScrimReminder      timers.Event = "scrim_reminder"
	ScrimDelete        timers.Event = "scrim_delete"
)

// Kinds lists every event kind the bot schedules.
func Kinds() []timers.Event {
	return []timers.Event{
		GamedayVotingStart,
		GamedayVotingEnd,
		GamedayStart,
		GamedayEnd,
		SubFindingEnd,
		ScrimScheduled,
		ScrimReminder,
		ScrimDelete,
	}
}

// GamedayPayload is the payload for every gameday and sub-finding timer
type GamedayPayload struct {
	GuildID   string    `json:"guild_id"`
	TeamID    uuid.UUID `json:"team_id"`
	BucketID  uuid.UUID `json:"bucket_id"`
	GamedayID uuid.UUID `json:"gameday_id"`
}

// ScrimPayload is the payload for every scrim timer
type ScrimPayload struct {
	GuildID string    `json:"guild_id"`
	ScrimID uuid.UUID `json:"scrim_id"`
}
