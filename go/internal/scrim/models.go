package scrim

import (
	"time"

	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/google/uuid"
)

// Status is the confirmation stage of a scrim.
type Status string

const (
	StatusPendingHost Status = "pending_host"
	StatusPendingAway Status = "pending_away"
	StatusScheduled   Status = "scheduled"
)

// Side names which voter list a vote lands in.
type Side string

const (
	SideHome  Side = "home"
	SideAway  Side = "away"
	SideForce Side = "force"
)

// Scrim is a practice match negotiated between a home and an away team.
type Scrim struct {
	ID           uuid.UUID `json:"id"`
	GuildID      string    `json:"guild_id"`
	CreatorID    string    `json:"creator_id"`
	HomeTeamID   uuid.UUID `json:"home_team_id"`
	AwayTeamID   uuid.UUID `json:"away_team_id"`
	PerTeam      int       `json:"per_team"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Status       Status    `json:"status"`

	HomeVoterIDs  []string `json:"home_voter_ids"`
	AwayVoterIDs  []string `json:"away_voter_ids"`
	ForceVoterIDs []string `json:"force_voter_ids"`

	HomeMessageID  string `json:"home_message_id,omitempty"`
	AwayMessageID  string `json:"away_message_id,omitempty"`
	ForceMessageID string `json:"force_message_id,omitempty"`
	// ForceRequestedBy is set while a force confirm vote is outstanding.
	ForceRequestedBy string `json:"force_requested_by,omitempty"`

	ScheduledTimerID uuid.NullUUID `json:"scheduled_timer_id"`
	ReminderTimerID  uuid.NullUUID `json:"reminder_timer_id"`
	DeleteTimerID    uuid.NullUUID `json:"delete_timer_id"`

	CreatedAt time.Time `json:"created_at"`
}

// ForceQuota is the number of force confirm votes that schedule the scrim, half
// the per-team count rounded up.
func (s *Scrim) ForceQuota() int {
	return (s.PerTeam + 1) / 2
}

// Voters returns the voter list for side.
func (s *Scrim) Voters(side Side) []string {
	switch side {
	case SideHome:
		return s.HomeVoterIDs
	case SideAway:
		return s.AwayVoterIDs
	default:
		return s.ForceVoterIDs
	}
}

func (s *Scrim) setVoters(side Side, ids []string) {
	switch side {
	case SideHome:
		s.HomeVoterIDs = ids
	case SideAway:
		s.AwayVoterIDs = ids
	default:
		s.ForceVoterIDs = ids
	}
}

// HasVoted reports whether memberID is in the side's voter list.
func (s *Scrim) HasVoted(side Side, memberID string) bool {
	for _, id := range s.Voters(side) {
		if id == memberID {
			return true
		}
	}
	return false
}

func (s *Scrim) payload() events.ScrimPayload {
	return events.ScrimPayload{GuildID: s.GuildID, ScrimID: s.ID}
}

func (s *Scrim) clone() *Scrim {
	cp := *s
	cp.HomeVoterIDs = append([]string(nil), s.HomeVoterIDs...)
	cp.AwayVoterIDs = append([]string(nil), s.AwayVoterIDs...)
	cp.ForceVoterIDs = append([]string(nil), s.ForceVoterIDs...)
	return &cp
}

// CreateScrimRequest represents the data needed to propose a scrim
type CreateScrimRequest struct {
	GuildID      string
	CreatorID    string
	HomeTeamID   uuid.UUID
	AwayTeamID   uuid.UUID
	PerTeam      int
	ScheduledFor time.Time
}
