package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/fury-esports/furybot/go/internal/fault"
	"github.com/fury-esports/furybot/go/internal/gameday"
	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/fury-esports/furybot/go/internal/practice"
	"github.com/fury-esports/furybot/go/internal/scrim"
	"github.com/fury-esports/furybot/go/internal/teams"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const genericFailure = "Something went wrong, please try again later."

// GamedayActions is what the router calls on the gameday app.
type GamedayActions interface {
	CreateGameday(ctx context.Context, req gameday.CreateGamedayRequest) (*gameday.Gameday, error)
	CastAttendance(ctx context.Context, gamedayID uuid.UUID, memberID string) (*gameday.Gameday, error)
	DeclineAttendance(ctx context.Context, gamedayID uuid.UUID, memberID, reason string) (*gameday.Gameday, error)
	RemoveVote(ctx context.Context, gamedayID uuid.UUID, memberID string) (*gameday.Gameday, error)
	AcceptSub(ctx context.Context, gamedayID uuid.UUID, memberID string) (*gameday.Gameday, error)
	CancelGameday(ctx context.Context, gamedayID uuid.UUID) error
	ReportScore(ctx context.Context, gamedayID uuid.UUID, memberID, text string) (*gameday.Gameday, error)
	RecordResult(ctx context.Context, gamedayID uuid.UUID, memberID string, won bool) (*gameday.Gameday, error)
	MarkComplete(ctx context.Context, gamedayID uuid.UUID, memberID string) (*gameday.Gameday, error)
	CreateGamedayTime(ctx context.Context, req gameday.CreateGamedayTimeRequest) (*gameday.GamedayTime, *gameday.Gameday, error)
	DeleteGamedayTime(ctx context.Context, id uuid.UUID) (int, error)
}

// ScrimActions is what the router calls on the scrim app.
type ScrimActions interface {
	Create(ctx context.Context, req scrim.CreateScrimRequest) (*scrim.Scrim, error)
	AddVote(ctx context.Context, scrimID uuid.UUID, side scrim.Side, memberID string) (*scrim.Scrim, error)
	RemoveVote(ctx context.Context, scrimID uuid.UUID, side scrim.Side, memberID string) (*scrim.Scrim, error)
	RequestForceConfirm(ctx context.Context, scrimID uuid.UUID, memberID string) (*scrim.Scrim, error)
	AddForceConfirmVote(ctx context.Context, scrimID uuid.UUID, memberID string) (*scrim.Scrim, error)
	Cancel(ctx context.Context, scrimID uuid.UUID, reason string) error
}

// PracticeActions is what the router calls on the practice app.
type PracticeActions interface {
	Start(ctx context.Context, teamID uuid.UUID, startedBy string, present []string) (*practice.Practice, error)
	OngoingPractice(ctx context.Context, teamID uuid.UUID) (*practice.Practice, error)
	End(ctx context.Context, practiceID uuid.UUID) (*practice.Practice, error)
	MarkUnableToAttend(ctx context.Context, practiceID uuid.UUID, memberID, reason string) error
	HandleVoiceState(ctx context.Context, ch practice.VoiceStateChange) error
}

// TeamLookup resolves the team a command refers to.
type TeamLookup interface {
	RequireMember(ctx context.Context, teamID uuid.UUID, memberID string) (*teams.Team, error)
}

// PresenceFunc lists the members connected to a voice channel.
type PresenceFunc func(channelID string) []string

// Modal asks the member for a free-text reason before the action runs.
type Modal struct {
	CustomID string
	Title    string
	Label    string
	// MaxLength caps the input; zero means the default reason length.
	MaxLength int
}

// Response is what the member sees after an interaction: an ephemeral reply or a modal.
type Response struct {
	Content string
	Modal   *Modal
}

func reply(format string, args ...any) Response {
	return Response{Content: fmt.Sprintf(format, args...)}
}

// Router turns chat interactions into calls on the domain apps. It knows nothing
// about the gateway connection, so it can be driven directly.
type Router struct {
	gamedays  GamedayActions
	scrims    ScrimActions
	practices PracticeActions
	teams     TeamLookup
	presence  PresenceFunc
}

func NewRouter(g GamedayActions, s ScrimActions, p PracticeActions, t TeamLookup, presence PresenceFunc) *Router {
	return &Router{gamedays: g, scrims: s, practices: p, teams: t, presence: presence}
}

// failure converts an error into the reply shown to the member. Domain errors
// carry their own text; anything else is logged and hidden.
func failure(err error, action string) Response {
	if msg, ok := fault.UserMessage(err); ok {
		return Response{Content: msg}
	}
	log.Error().Err(err).Str("action", action).Msg("interaction failed")
	return Response{Content: genericFailure}
}

func invalidButton(customID string) Response {
	log.Warn().Str("custom_id", customID).Msg("malformed button id")
	return Response{Content: "That button is no longer valid."}
}

// Component handles a button press.
func (r *Router) Component(ctx context.Context, memberID, customID string) Response {
	action, args := notify.ParseCustomID(customID)
	if len(args) == 0 {
		return invalidButton(customID)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return invalidButton(customID)
	}

	switch action {
	case gameday.ActionAttend:
		if _, err := r.gamedays.CastAttendance(ctx, id, memberID); err != nil {
			return failure(err, action)
		}
		return reply("You're marked as attending.")
	case gameday.ActionDecline:
		return Response{Modal: &Modal{CustomID: customID, Title: "Can't make it", Label: "Why can't you attend?"}}
	case gameday.ActionUnvote:
		if _, err := r.gamedays.RemoveVote(ctx, id, memberID); err != nil {
			return failure(err, action)
		}
		return reply("Your vote was removed.")
	case gameday.ActionSub:
		if _, err := r.gamedays.AcceptSub(ctx, id, memberID); err != nil {
			return failure(err, action)
		}
		return reply("Thanks! You're subbing in.")
	case gameday.ActionWin, gameday.ActionLoss:
		g, err := r.gamedays.RecordResult(ctx, id, memberID, action == gameday.ActionWin)
		if err != nil {
			return failure(err, action)
		}
		if g.EndedAt != nil {
			return reply("Final score %d-%d. The gameday is over.", g.Wins, g.Losses)
		}
		return reply("Score is now %d-%d.", g.Wins, g.Losses)
	case gameday.ActionReport:
		return Response{Modal: &Modal{CustomID: customID, Title: "Report score", Label: "Enter the score in any format", MaxLength: 2000}}
	case gameday.ActionComplete:
		if _, err := r.gamedays.MarkComplete(ctx, id, memberID); err != nil {
			return failure(err, action)
		}
		return reply("The gameday is marked as complete.")

	case scrim.ActionVote, scrim.ActionUnvote:
		if len(args) < 2 {
			return invalidButton(customID)
		}
		side := scrim.Side(args[1])
		if side != scrim.SideHome && side != scrim.SideAway {
			return invalidButton(customID)
		}
		if action == scrim.ActionVote {
			if _, err := r.scrims.AddVote(ctx, id, side, memberID); err != nil {
				return failure(err, action)
			}
			return reply("You confirmed for this scrim.")
		}
		if _, err := r.scrims.RemoveVote(ctx, id, side, memberID); err != nil {
			return failure(err, action)
		}
		return reply("Your confirmation was removed.")
	case scrim.ActionForce:
		s, err := r.scrims.RequestForceConfirm(ctx, id, memberID)
		if err != nil {
			return failure(err, action)
		}
		return reply("Force confirm requested. %d vote(s) from the away team will schedule the scrim.", s.ForceQuota())
	case scrim.ActionForceVote:
		if _, err := r.scrims.AddForceConfirmVote(ctx, id, memberID); err != nil {
			return failure(err, action)
		}
		return reply("Your force confirm vote was counted.")

	case practice.ActionUnable:
		return Response{Modal: &Modal{CustomID: customID, Title: "Can't attend practice", Label: "Why can't you attend?"}}
	}
	return invalidButton(customID)
}

// ModalSubmit handles the text a member typed after pressing a button that asks for one.
func (r *Router) ModalSubmit(ctx context.Context, memberID, customID, reason string) Response {
	action, args := notify.ParseCustomID(customID)
	if len(args) == 0 {
		return invalidButton(customID)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return invalidButton(customID)
	}

	switch action {
	case gameday.ActionDecline:
		if _, err := r.gamedays.DeclineAttendance(ctx, id, memberID, reason); err != nil {
			return failure(err, action)
		}
		return reply("Got it, you're marked as not attending.")
	case gameday.ActionReport:
		if _, err := r.gamedays.ReportScore(ctx, id, memberID, reason); err != nil {
			return failure(err, action)
		}
		return reply("Your score report was submitted.")
	case practice.ActionUnable:
		if err := r.practices.MarkUnableToAttend(ctx, id, memberID, reason); err != nil {
			return failure(err, action)
		}
		return reply("Got it, you're excused from this practice.")
	}
	return invalidButton(customID)
}

// VoiceState forwards a voice channel move to practice tracking.
func (r *Router) VoiceState(ctx context.Context, memberID, before, after string, at time.Time) {
	err := r.practices.HandleVoiceState(ctx, practice.VoiceStateChange{MemberID: memberID, Before: before, After: after, At: at})
	if err != nil {
		log.Error().Err(err).Str("member_id", memberID).Msg("failed to track voice state")
	}
}
