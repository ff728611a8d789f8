// Package discord connects the bot to Discord: it posts and retracts panels and
// routes button presses, modals, slash commands and voice moves to the domain apps.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/rs/zerolog/log"
)

const (
	interactionTimeout = 10 * time.Second
	reasonInputID      = "reason"
)

// Bot owns the gateway session. It implements notify.Notifier.
type Bot struct {
	s       *discordgo.Session
	guildID string
}

// New creates a session for token. Open must be called before use.
func New(token, guildID string) (*Bot, error) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(strings.ToLower(token), "bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	return &Bot{s: s, guildID: guildID}, nil
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.s.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	log.Info().Str("user", b.s.State.User.Username).Str("guild_id", b.guildID).Msg("connected to discord")
	return nil
}

func (b *Bot) Close() error {
	return b.s.Close()
}

// Announce posts a message with its buttons in a single action row.
func (b *Bot) Announce(ctx context.Context, a notify.Announcement) (string, error) {
	msg, err := b.s.ChannelMessageSendComplex(a.ChannelID, &discordgo.MessageSend{
		Content:    a.Content,
		Components: components(a.Buttons),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to post message: %w", err)
	}
	return msg.ID, nil
}

// Retract deletes a message. A message that is already gone counts as retracted.
func (b *Bot) Retract(ctx context.Context, channelID, messageID string) error {
	err := b.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func components(buttons []notify.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, btn := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: btn.CustomID,
			Label:    btn.Label,
			Style:    buttonStyle(btn.Style),
		})
	}
	return []discordgo.MessageComponent{row}
}

func buttonStyle(s notify.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case notify.StyleSecondary:
		return discordgo.SecondaryButton
	case notify.StyleSuccess:
		return discordgo.SuccessButton
	case notify.StyleDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

// Register overwrites the guild's slash commands and installs the event handlers.
func (b *Bot) Register(r *Router) error {
	if _, err := b.s.ApplicationCommandBulkOverwrite(b.s.State.User.ID, b.guildID, Commands); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	b.s.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		b.onInteraction(r, ic)
	})
	b.s.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if vs.GuildID != b.guildID {
			return
		}
		before := ""
		if vs.BeforeUpdate != nil {
			before = vs.BeforeUpdate.ChannelID
		}
		ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
		defer cancel()
		r.VoiceState(ctx, vs.UserID, before, vs.ChannelID, time.Now())
	})
	return nil
}

// Presence lists the members in a voice channel from the session state.
func (b *Bot) Presence(channelID string) []string {
	g, err := b.s.State.Guild(b.guildID)
	if err != nil {
		return nil
	}
	var ids []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			ids = append(ids, vs.UserID)
		}
	}
	return ids
}

func (b *Bot) onInteraction(r *Router, ic *discordgo.InteractionCreate) {
	memberID := interactionUser(ic)
	if memberID == "" {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("member_id", memberID).Msg("panic handling interaction")
			b.respond(ic, Response{Content: genericFailure})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	var res Response
	switch ic.Type {
	case discordgo.InteractionApplicationCommand:
		res = r.Command(ctx, memberID, parseCommand(ic))
	case discordgo.InteractionMessageComponent:
		res = r.Component(ctx, memberID, ic.MessageComponentData().CustomID)
	case discordgo.InteractionModalSubmit:
		data := ic.ModalSubmitData()
		res = r.ModalSubmit(ctx, memberID, data.CustomID, modalValue(data, reasonInputID))
	default:
		return
	}
	b.respond(ic, res)
}

func (b *Bot) respond(ic *discordgo.InteractionCreate, res Response) {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: res.Content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
	if res.Modal != nil {
		maxLength := res.Modal.MaxLength
		if maxLength == 0 {
			maxLength = 300
		}
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: &discordgo.InteractionResponseData{
				CustomID: res.Modal.CustomID,
				Title:    res.Modal.Title,
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:  reasonInputID,
							Label:     res.Modal.Label,
							Style:     discordgo.TextInputParagraph,
							Required:  true,
							MaxLength: maxLength,
						},
					}},
				},
			},
		}
	}
	if err := b.s.InteractionRespond(ic.Interaction, resp); err != nil {
		log.Error().Err(err).Msg("failed to respond to interaction")
	}
}

func interactionUser(ic *discordgo.InteractionCreate) string {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID
	}
	if ic.User != nil {
		return ic.User.ID
	}
	return ""
}

func parseCommand(ic *discordgo.InteractionCreate) Command {
	data := ic.ApplicationCommandData()
	cmd := Command{Name: data.Name, Options: make(map[string]string), GuildID: ic.GuildID}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		cmd.Sub = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		cmd.Options[o.Name] = fmt.Sprint(o.Value)
	}
	return cmd
}

func modalValue(data discordgo.ModalSubmitInteractionData, inputID string) string {
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rc := range row.Components {
			if in, ok := rc.(*discordgo.TextInput); ok && in.CustomID == inputID {
				return in.Value
			}
		}
	}
	return ""
}
