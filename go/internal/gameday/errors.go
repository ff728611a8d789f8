package gameday

import "github.com/fury-esports/furybot/go/internal/fault"

var (
	ErrGamedayNotFound = fault.NotFound("that gameday no longer exists")
	ErrBucketNotFound  = fault.NotFound("that gameday bucket no longer exists")

	ErrGamedayInPast  = fault.InvalidState("a gameday cannot start in the past")
	ErrVotingNotOpen  = fault.InvalidState("voting for this gameday has not opened yet")
	ErrVotingClosed   = fault.InvalidState("voting for this gameday has already closed")
	ErrAlreadyVoted   = fault.InvalidState("you have already voted for this gameday")
	ErrNotVoted       = fault.InvalidState("you have not voted for this gameday")
	ErrReasonRequired = fault.InvalidState("please give a reason for missing the gameday")

	ErrVotingStillOpen          = fault.InvalidState("voting for this gameday is still open")
	ErrSubFindingNotNeeded      = fault.InvalidState("this gameday does not need substitutes")
	ErrSubFindingInProgress     = fault.InvalidState("sub finding is already in progress for this gameday")
	ErrNoSubFindingChannel      = fault.InvalidState("this bucket has no sub finding channel configured")
	ErrTooCloseToKickoff        = fault.InvalidState("it is too close to kickoff to look for substitutes")
	ErrSubFindingWindowTooShort = fault.InvalidState("there is not enough time left to find a substitute")
	ErrNotSearching             = fault.InvalidState("this gameday is not looking for substitutes")
	ErrAlreadyResponded         = fault.InvalidState("you have already responded to this gameday")

	ErrGamedayTimeNotFound = fault.NotFound("that weekly gameday time no longer exists")
	ErrInvalidWeekday      = fault.InvalidState("the weekday must be a day name such as friday")
	ErrInvalidTimeOfDay    = fault.InvalidState("the time must be between 00:00 and 23:59")
	ErrGamedayNotStarted   = fault.InvalidState("this gameday has not started yet")
	ErrGamedayEnded        = fault.InvalidState("this gameday has already ended")
	ErrScoreRequired       = fault.InvalidState("please enter the score")
	ErrScoreTooLong        = fault.InvalidState("score reports are limited to 2000 characters")
)
