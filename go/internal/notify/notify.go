// Package notify defines how domain workflows post and take down chat panels.
package notify

import (
	"context"
	"strings"
)

// ButtonStyle mirrors the chat platform's button colours.
type ButtonStyle int

const (
	StylePrimary ButtonStyle = iota
	StyleSecondary
	StyleSuccess
	StyleDanger
)

// Button is an interactive control attached to an announcement. CustomID is routed
// back to the owning workflow when pressed.
type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
}

// Announcement is a message posted to a channel.
type Announcement struct {
	ChannelID string
	Content   string
	Buttons   []Button
}

// Notifier posts and retracts announcements.
type Notifier interface {
	Announce(ctx context.Context, a Announcement) (messageID string, err error)
	Retract(ctx context.Context, channelID, messageID string) error
}

const customIDSep = ":"

// CustomID joins an action and its arguments into a button id, e.g. "scrim_vote:<scrim>:<team>".
func CustomID(action string, args ...string) string {
	return strings.Join(append([]string{action}, args...), customIDSep)
}

// ParseCustomID splits a button id built by CustomID.
func ParseCustomID(id string) (action string, args []string) {
	parts := strings.Split(id, customIDSep)
	return parts[0], parts[1:]
}
