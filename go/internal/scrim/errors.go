package scrim

import "github.com/fury-esports/furybot/go/internal/fault"

var (
	ErrScrimNotFound = fault.NotFound("that scrim no longer exists")

	ErrScrimInPast         = fault.InvalidState("a scrim cannot be scheduled in the past")
	ErrSameTeam            = fault.InvalidState("a team cannot scrim itself")
	ErrInvalidPerTeam      = fault.InvalidState("a scrim needs at least one player per team")
	ErrHomeVotingClosed    = fault.InvalidState("the home team has already confirmed this scrim")
	ErrAwayVotingNotOpen   = fault.InvalidState("the home team has not confirmed this scrim yet")
	ErrAlreadyScheduled    = fault.InvalidState("this scrim is already scheduled")
	ErrAlreadyVoted        = fault.InvalidState("you have already voted for this scrim")
	ErrNotVoted            = fault.InvalidState("you have not voted for this scrim")
	ErrNotPendingAway      = fault.InvalidState("this scrim is not waiting on the away team")
	ErrTeamTooSmall        = fault.InvalidState("force confirming needs at least two players per team")
	ErrForceConfirmActive  = fault.InvalidState("a force confirm vote is already in progress")
	ErrForceNotEnoughVotes = fault.InvalidState("at least half of the away team must confirm before forcing the scrim")
	ErrForceTooEarly       = fault.InvalidState("a scrim can only be force confirmed shortly before it starts")
	ErrNoForceConfirm      = fault.InvalidState("there is no force confirm vote for this scrim")
)
