package teams

import (
	"time"

	"github.com/google/uuid"
)

// Team is an esports roster with its own text and voice channels.
type Team struct {
	ID             uuid.UUID `json:"id"`
	GuildID        string    `json:"guild_id"`
	Name           string    `json:"name"`
	TextChannelID  string    `json:"text_channel_id"`
	VoiceChannelID string    `json:"voice_channel_id"`
	Members        []Member  `json:"members"`
	CreatedAt      time.Time `json:"created_at"`
}

// Member is one roster spot. Subs are on the team but outside the main roster.
type Member struct {
	MemberID string `json:"member_id"`
	IsSub    bool   `json:"is_sub"`
}

// HasMember reports whether memberID is on the team, subs included.
func (t *Team) HasMember(memberID string) bool {
	for _, m := range t.Members {
		if m.MemberID == memberID {
			return true
		}
	}
	return false
}

// MainRoster returns the members that are not subs.
func (t *Team) MainRoster() []Member {
	out := make([]Member, 0, len(t.Members))
	for _, m := range t.Members {
		if !m.IsSub {
			out = append(out, m)
		}
	}
	return out
}

// Mentions renders every main roster member as a chat mention.
func (t *Team) Mentions() string {
	s := ""
	for i, m := range t.MainRoster() {
		if i > 0 {
			s += " "
		}
		s += "<@" + m.MemberID + ">"
	}
	return s
}

// CreateTeamRequest represents the data needed to create a new team
type CreateTeamRequest struct {
	GuildID        string
	Name           string
	TextChannelID  string
	VoiceChannelID string
	Members        []Member
}
