package gameday

import (
	"fmt"
	"strings"
	"time"

	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/google/uuid"
)

// VotingState is where attendance voting stands for a gameday.
type VotingState string

const (
	VotingNotStarted          VotingState = "not_started"
	VotingOpen                VotingState = "voting_open"
	VotingQuorumReached       VotingState = "quorum_reached"
	VotingClosedWithoutQuorum VotingState = "voting_closed_without_quorum"
)

// SubFindingState is where the search for substitutes stands.
type SubFindingState string

const (
	SubFindingSearching SubFindingState = "searching"
	SubFindingFilled    SubFindingState = "filled_early"
	SubFindingExpired   SubFindingState = "search_window_expired"
)

// Bucket is the per-team gameday policy.
type Bucket struct {
	ID                            uuid.UUID `json:"id"`
	GuildID                       string    `json:"guild_id"`
	TeamID                        uuid.UUID `json:"team_id"`
	PerTeam                       int       `json:"per_team"`
	AutomaticSubFindingIfPossible bool      `json:"automatic_sub_finding_if_possible"`
	AutomaticSubFindingChannelID  string    `json:"automatic_sub_finding_channel_id,omitempty"`
}

// Member is one response to a gameday. A nil Reason means the member is attending.
type Member struct {
	MemberID       string  `json:"member_id"`
	Reason         *string `json:"reason,omitempty"`
	IsTemporarySub bool    `json:"is_temporary_sub"`
}

func (m Member) Attending() bool { return m.Reason == nil }

// Voting is the attendance vote sub-state. A cleared EndTimerID after the vote
// left voting_open means the closing logic already ran.
type Voting struct {
	StartsAt     time.Time     `json:"starts_at"`
	EndsAt       time.Time     `json:"ends_at"`
	StartTimerID uuid.NullUUID `json:"start_timer_id"`
	EndTimerID   uuid.NullUUID `json:"end_timer_id"`
	MessageID    string        `json:"message_id,omitempty"`
	State        VotingState   `json:"state"`
}

// SubFinding is a time-boxed search for substitutes.
type SubFinding struct {
	StartsAt   time.Time       `json:"starts_at"`
	EndsAt     time.Time       `json:"ends_at"`
	EndTimerID uuid.NullUUID   `json:"end_timer_id"`
	ChannelID  string          `json:"channel_id"`
	MessageIDs []string        `json:"message_ids"`
	State      SubFindingState `json:"state"`
}

// Weekday numbers the days of the week from Monday (1) to Sunday (7).
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// ParseWeekday reads a day name such as "friday" or "Fri".
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for i, name := range weekdayNames[1:] {
			if strings.HasPrefix(name, s) {
				return Weekday(i + 1), nil
			}
		}
	}
	return 0, ErrInvalidWeekday
}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

func (w Weekday) stdlib() time.Weekday { return time.Weekday(int(w) % 7) }

// GamedayTime is a weekly slot in a bucket. Every gameday created from it
// schedules the next occurrence once it ends or is cancelled.
type GamedayTime struct {
	ID       uuid.UUID `json:"id"`
	GuildID  string    `json:"guild_id"`
	TeamID   uuid.UUID `json:"team_id"`
	BucketID uuid.UUID `json:"bucket_id"`
	Weekday  Weekday   `json:"weekday"`
	// TimeOfDay is the kickoff's offset from local midnight, at minute resolution.
	TimeOfDay time.Duration `json:"time_of_day"`
}

// NextOccurrence returns the first kickoff strictly after the given instant,
// reading the weekday and time of day in loc.
func (gt *GamedayTime) NextOccurrence(after time.Time, loc *time.Location) time.Time {
	local := after.In(loc)
	hour := int(gt.TimeOfDay / time.Hour)
	minute := int(gt.TimeOfDay % time.Hour / time.Minute)
	days := (int(gt.Weekday.stdlib()) - int(local.Weekday()) + 7) % 7

	next := time.Date(local.Year(), local.Month(), local.Day()+days, hour, minute, 0, 0, loc)
	if !next.After(after) {
		next = time.Date(local.Year(), local.Month(), local.Day()+days+7, hour, minute, 0, 0, loc)
	}
	return next.UTC()
}

// ScoreReport is the free-text result a member submits for a gameday.
type ScoreReport struct {
	ID         uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	ReportedBy string    `json:"reported_by"`
	ReportedAt time.Time `json:"reported_at"`
}

// Gameday is one scheduled match for a team.
type Gameday struct {
	ID                  uuid.UUID          `json:"id"`
	GuildID             string             `json:"guild_id"`
	TeamID              uuid.UUID          `json:"team_id"`
	BucketID            uuid.UUID          `json:"bucket_id"`
	StartsAt            time.Time          `json:"starts_at"`
	AutomaticSubFinding bool               `json:"automatic_sub_finding"`
	StartTimerID        uuid.NullUUID      `json:"start_timer_id"`
	Voting              Voting             `json:"voting"`
	SubFinding          *SubFinding        `json:"sub_finding,omitempty"`
	Members             map[string]*Member `json:"members"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`

	GamedayTimeID       uuid.NullUUID `json:"gameday_time_id"`
	Wins                int           `json:"wins"`
	Losses              int           `json:"losses"`
	ScoreboardMessageID string        `json:"scoreboard_message_id,omitempty"`
	ScoreReports        []ScoreReport `json:"score_reports,omitempty"`
	EndedAt             *time.Time    `json:"ended_at,omitempty"`
}


// AttendingCount counts members who said they will play, subs included.
func (g *Gameday) AttendingCount() int {
	n := 0
	for _, m := range g.Members {
		if m.Attending() {
			n++
		}
	}
	return n
}

// HasVotesNeeded reports whether the attending count meets the bucket's team size.
func (g *Gameday) HasVotesNeeded(perTeam int) bool {
	return g.AttendingCount() >= perTeam
}

func (g *Gameday) payload() events.GamedayPayload {
	return events.GamedayPayload{
		GuildID:   g.GuildID,
		TeamID:    g.TeamID,
		BucketID:  g.BucketID,
		GamedayID: g.ID,
	}
}

// clone returns a deep copy safe to hand outside the entity lock.
func (g *Gameday) clone() *Gameday {
	cp := *g
	cp.Members = make(map[string]*Member, len(g.Members))
	for k, m := range g.Members {
		mc := *m
		cp.Members[k] = &mc
	}
	if g.SubFinding != nil {
		sf := *g.SubFinding
		sf.MessageIDs = append([]string(nil), g.SubFinding.MessageIDs...)
		cp.SubFinding = &sf
	}
	cp.ScoreReports = append([]ScoreReport(nil), g.ScoreReports...)
	return &cp
}
