package practice

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle stage of a practice session.
type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
)

// Each additional attending member adds this much, on a log10 scale, to the hours scored.
const bonusStrength = 0.2

// Interval is one stretch of time a member spent in the practice voice channel.
type Interval struct {
	ID       uuid.UUID  `json:"id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Member is one member's attendance record for a practice.
type Member struct {
	ID        uuid.UUID  `json:"id"`
	MemberID  string     `json:"member_id"`
	Attending bool       `json:"attending"`
	Reason    *string    `json:"reason,omitempty"`
	History   []Interval `json:"history"`
}

// open returns the member's open interval, if any.
func (m *Member) open() *Interval {
	if n := len(m.History); n > 0 && m.History[n-1].LeftAt == nil {
		return &m.History[n-1]
	}
	return nil
}

// Practicing reports whether the member is in the channel right now.
func (m *Member) Practicing() bool { return m.open() != nil }

// TotalTime sums the member's closed intervals.
func (m *Member) TotalTime() time.Duration {
	var d time.Duration
	for _, iv := range m.History {
		if iv.LeftAt != nil {
			d += iv.LeftAt.Sub(iv.JoinedAt)
		}
	}
	return d
}

// Practice is a team practice session tracked from voice channel presence.
type Practice struct {
	ID        uuid.UUID          `json:"id"`
	GuildID   string             `json:"guild_id"`
	TeamID    uuid.UUID          `json:"team_id"`
	ChannelID string             `json:"channel_id"`
	StartedBy string             `json:"started_by"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	Status    Status             `json:"status"`
	MessageID string             `json:"message_id,omitempty"`
	Members   map[string]*Member `json:"members"`
}

// OpenIntervals counts members currently in the channel.
func (p *Practice) OpenIntervals() int {
	n := 0
	for _, m := range p.Members {
		if m.Practicing() {
			n++
		}
	}
	return n
}

// AttendingMembers counts members who did not opt out.
func (p *Practice) AttendingMembers() int {
	n := 0
	for _, m := range p.Members {
		if m.Attending {
			n++
		}
	}
	return n
}

// Duration is how long the practice ran. It is false until the practice ends.
func (p *Practice) Duration() (time.Duration, bool) {
	if p.EndedAt == nil {
		return 0, false
	}
	return p.EndedAt.Sub(p.StartedAt), true
}

// TotalPoints scores the practice for the team leaderboard: hours, boosted by
// the number of attending members. A solo practice scores nothing.
func (p *Practice) TotalPoints() (float64, bool) {
	d, ok := p.Duration()
	if !ok {
		return 0, false
	}
	n := p.AttendingMembers()
	if n <= 1 {
		return 0, true
	}
	return d.Hours() * (1 + bonusStrength*math.Log10(float64(n))), true
}

func (p *Practice) clone() *Practice {
	cp := *p
	if p.EndedAt != nil {
		t := *p.EndedAt
		cp.EndedAt = &t
	}
	cp.Members = make(map[string]*Member, len(p.Members))
	for k, m := range p.Members {
		mc := *m
		mc.History = append([]Interval(nil), m.History...)
		cp.Members[k] = &mc
	}
	return &cp
}
