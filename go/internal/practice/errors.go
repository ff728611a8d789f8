package practice

import "github.com/fury-esports/furybot/go/internal/fault"

var (
	ErrPracticeNotFound  = fault.NotFound("that practice no longer exists")
	ErrNoOngoingPractice = fault.NotFound("this team has no practice running")

	ErrPracticeInProgress      = fault.InvalidState("there is already an active practice for this team")
	ErrPracticeCompleted       = fault.InvalidState("this practice has already ended")
	ErrPracticeNotEnded        = fault.InvalidState("this practice has not ended yet")
	ErrNoVoiceChannel          = fault.InvalidState("this team does not have a voice channel")
	ErrNotInVoiceChannel       = fault.InvalidState("you must be in the team's voice channel to start a practice")
	ErrMemberNotInPractice     = fault.InvalidState("you are not in this practice")
	ErrMemberAlreadyInPractice = fault.InvalidState("you are already registered for this practice")
	ErrMemberNotAttending      = fault.InvalidState("you said you cannot attend this practice")
	ErrNotPracticing           = fault.InvalidState("you are not currently practicing")
	ErrReasonRequired          = fault.InvalidState("please give a reason for missing practice")
)
