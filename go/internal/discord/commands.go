package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fury-esports/furybot/go/internal/gameday"
	"github.com/fury-esports/furybot/go/internal/scrim"
	"github.com/google/uuid"
)

// Commands are registered in the bot's guild on startup.
var Commands = []*discordgo.ApplicationCommand{
	{
		Name:        "gameday",
		Description: "Gameday voting",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Schedule a gameday for a bucket",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "bucket", Description: "Bucket id", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "starts_at", Description: "Kickoff, RFC 3339", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "schedule",
				Description: "Add a weekly gameday time to a bucket",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "bucket", Description: "Bucket id", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "weekday", Description: "Day of the week, e.g. friday", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "time", Description: "Kickoff time, HH:MM", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "unschedule",
				Description: "Remove a weekly gameday time",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "time", Description: "Gameday time id", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "cancel",
				Description: "Cancel a gameday",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "gameday", Description: "Gameday id", Required: true},
				},
			},
		},
	},
	{
		Name:        "scrim",
		Description: "Scrims between two teams",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Propose a scrim",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "home", Description: "Your team id", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "away", Description: "Opponent team id", Required: true},
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "per_team", Description: "Players per team", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "at", Description: "Start, RFC 3339", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "cancel",
				Description: "Cancel a scrim",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "scrim", Description: "Scrim id", Required: true},
				},
			},
		},
	},
	{
		Name:        "practice",
		Description: "Track team practice",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start a practice in your team's voice channel",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "team", Description: "Team id", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "end",
				Description: "End your team's practice",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "team", Description: "Team id", Required: true},
				},
			},
		},
	},
}

// Command is a parsed slash command: "/scrim create home:... away:..." becomes
// Name "scrim", Sub "create" and the options by name.
type Command struct {
	Name    string
	Sub     string
	Options map[string]string
	GuildID string
}

func (c Command) id(name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Options[name]))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be an id", name)
	}
	return id, nil
}

func (c Command) instant(name string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Options[name]))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must look like 2025-03-10T19:00:00Z", name)
	}
	return t, nil
}

func (c Command) timeOfDay(name string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.Options[name]))
	if err != nil {
		return 0, fmt.Errorf("%s must look like 19:30", name)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Command handles a slash command.
func (r *Router) Command(ctx context.Context, memberID string, cmd Command) Response {
	switch cmd.Name + " " + cmd.Sub {
	case "gameday create":
		bucketID, err := cmd.id("bucket")
		if err != nil {
			return Response{Content: err.Error()}
		}
		startsAt, err := cmd.instant("starts_at")
		if err != nil {
			return Response{Content: err.Error()}
		}
		g, err := r.gamedays.CreateGameday(ctx, gameday.CreateGamedayRequest{BucketID: bucketID, StartsAt: startsAt})
		if err != nil {
			return failure(err, "gameday create")
		}
		return reply("Gameday %s scheduled for <t:%d:F>.", g.ID, g.StartsAt.Unix())

	case "gameday schedule":
		bucketID, err := cmd.id("bucket")
		if err != nil {
			return Response{Content: err.Error()}
		}
		weekday, err := gameday.ParseWeekday(cmd.Options["weekday"])
		if err != nil {
			return failure(err, "gameday schedule")
		}
		at, err := cmd.timeOfDay("time")
		if err != nil {
			return Response{Content: err.Error()}
		}
		gt, g, err := r.gamedays.CreateGamedayTime(ctx, gameday.CreateGamedayTimeRequest{BucketID: bucketID, Weekday: weekday, TimeOfDay: at})
		if err != nil {
			return failure(err, "gameday schedule")
		}
		return reply("Gamedays now repeat every %s (time %s). The first one is <t:%d:F>.", weekday, gt.ID, g.StartsAt.Unix())

	case "gameday unschedule":
		id, err := cmd.id("time")
		if err != nil {
			return Response{Content: err.Error()}
		}
		n, err := r.gamedays.DeleteGamedayTime(ctx, id)
		if err != nil {
			return failure(err, "gameday unschedule")
		}
		return reply("Weekly gameday time removed. %d upcoming gameday(s) cancelled.", n)

	case "gameday cancel":
		id, err := cmd.id("gameday")
		if err != nil {
			return Response{Content: err.Error()}
		}
		if err := r.gamedays.CancelGameday(ctx, id); err != nil {
			return failure(err, "gameday cancel")
		}
		return reply("Gameday cancelled.")

	case "scrim create":
		home, err := cmd.id("home")
		if err != nil {
			return Response{Content: err.Error()}
		}
		away, err := cmd.id("away")
		if err != nil {
			return Response{Content: err.Error()}
		}
		at, err := cmd.instant("at")
		if err != nil {
			return Response{Content: err.Error()}
		}
		var perTeam int
		if _, err := fmt.Sscan(cmd.Options["per_team"], &perTeam); err != nil {
			return Response{Content: "per_team must be a number"}
		}
		s, err := r.scrims.Create(ctx, scrim.CreateScrimRequest{
			GuildID:      cmd.GuildID,
			CreatorID:    memberID,
			HomeTeamID:   home,
			AwayTeamID:   away,
			PerTeam:      perTeam,
			ScheduledFor: at,
		})
		if err != nil {
			return failure(err, "scrim create")
		}
		return reply("Scrim %s proposed for <t:%d:F>. Your team needs %d confirmations.", s.ID, s.ScheduledFor.Unix(), s.PerTeam)

	case "scrim cancel":
		id, err := cmd.id("scrim")
		if err != nil {
			return Response{Content: err.Error()}
		}
		if err := r.scrims.Cancel(ctx, id, fmt.Sprintf("cancelled by <@%s>", memberID)); err != nil {
			return failure(err, "scrim cancel")
		}
		return reply("Scrim cancelled.")

	case "practice start":
		teamID, err := cmd.id("team")
		if err != nil {
			return Response{Content: err.Error()}
		}
		team, err := r.teams.RequireMember(ctx, teamID, memberID)
		if err != nil {
			return failure(err, "practice start")
		}
		var present []string
		if team.VoiceChannelID != "" {
			present = r.presence(team.VoiceChannelID)
		}
		if _, err := r.practices.Start(ctx, teamID, memberID, present); err != nil {
			return failure(err, "practice start")
		}
		return reply("Practice started. Time is tracked while you're in <#%s>.", team.VoiceChannelID)

	case "practice end":
		teamID, err := cmd.id("team")
		if err != nil {
			return Response{Content: err.Error()}
		}
		if _, err := r.teams.RequireMember(ctx, teamID, memberID); err != nil {
			return failure(err, "practice end")
		}
		p, err := r.practices.OngoingPractice(ctx, teamID)
		if err != nil {
			return failure(err, "practice end")
		}
		if _, err := r.practices.End(ctx, p.ID); err != nil {
			return failure(err, "practice end")
		}
		return reply("Practice ended.")
	}
	return reply("Unknown command.")
}
