package gameday

import "time"

const (
	// Voting for a gameday under a day away closes this long before kickoff.
	shortNoticeVotingLead = time.Hour
	// Voting for a gameday under six hours away closes this long before kickoff.
	lastMinuteVotingLead = 5 * time.Minute

	// Default window: opens at 15:00 UTC the day before and stays open five hours.
	defaultVotingOpensBeforeMidnight = 9 * time.Hour
	defaultVotingWindow              = 5 * time.Hour
)

// VotingTimes is the attendance voting window picked for a gameday.
type VotingTimes struct {
	StartsAt time.Time
	EndsAt   time.Time
	// AutomaticSubFinding is false when kickoff is too close for a search to help.
	AutomaticSubFinding bool
}

// ComputeVotingTimes picks a voting window for a gameday starting at startsAt.
// The window shrinks as kickoff approaches and never ends before now.
func ComputeVotingTimes(startsAt, now time.Time) (VotingTimes, error) {
	startsAt, now = startsAt.UTC(), now.UTC()
	if !startsAt.After(now) {
		return VotingTimes{}, ErrGamedayInPast
	}

	until := startsAt.Sub(now)
	if until < 24*time.Hour {
		if until < 6*time.Hour {
			lead := lastMinuteVotingLead
			if startsAt.Add(-lead).Before(now) {
				lead = until
			}
			return VotingTimes{StartsAt: now, EndsAt: startsAt.Add(-lead)}, nil
		}
		return VotingTimes{StartsAt: now, EndsAt: startsAt.Add(-shortNoticeVotingLead)}, nil
	}

	midnight := time.Date(startsAt.Year(), startsAt.Month(), startsAt.Day(), 0, 0, 0, 0, time.UTC)
	opens := midnight.Add(-defaultVotingOpensBeforeMidnight)
	if opens.After(now) {
		return VotingTimes{StartsAt: opens, EndsAt: opens.Add(defaultVotingWindow), AutomaticSubFinding: true}, nil
	}
	return VotingTimes{StartsAt: now, EndsAt: now.Add(defaultVotingWindow), AutomaticSubFinding: true}, nil
}
