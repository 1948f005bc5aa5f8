// Package notify delivers log-channel announcements and direct
// messages. Every delivery is fire-and-forget: a closed DM or a
// missing channel is logged and never fails the calling operation.
package notify

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Notifier sends to the configured log channel and to user DMs.
type Notifier struct {
	s            *discordgo.Session
	logChannelID string
}

// New creates a Notifier bound to the guild's log channel.
func New(s *discordgo.Session, logChannelID string) *Notifier {
	return &Notifier{s: s, logChannelID: logChannelID}
}

// Announce posts a plain message to the log channel.
func (n *Notifier) Announce(msg string) {
	if n.logChannelID == "" {
		return
	}
	if _, err := n.s.ChannelMessageSend(n.logChannelID, msg); err != nil {
		slog.Warn("Failed to send log channel message", "error", err)
	}
}

// AnnounceEmbed posts an embed to the log channel.
func (n *Notifier) AnnounceEmbed(embed *discordgo.MessageEmbed) {
	if n.logChannelID == "" {
		return
	}
	if _, err := n.s.ChannelMessageSendEmbed(n.logChannelID, embed); err != nil {
		slog.Warn("Failed to send log channel embed", "error", err)
	}
}

// DirectMessage DMs a user. It reports whether delivery succeeded;
// failure (DMs disabled) is not an error.
func (n *Notifier) DirectMessage(userID, msg string) bool {
	ch, err := n.s.UserChannelCreate(userID)
	if err != nil {
		slog.Debug("Failed to open DM channel", "user", userID, "error", err)
		return false
	}
	if _, err := n.s.ChannelMessageSend(ch.ID, msg); err != nil {
		slog.Debug("Failed to deliver DM", "user", userID, "error", err)
		return false
	}
	return true
}

// DirectMessageEmbed DMs a user an embed, reporting success.
func (n *Notifier) DirectMessageEmbed(userID string, embed *discordgo.MessageEmbed) bool {
	ch, err := n.s.UserChannelCreate(userID)
	if err != nil {
		slog.Debug("Failed to open DM channel", "user", userID, "error", err)
		return false
	}
	if _, err := n.s.ChannelMessageSendEmbed(ch.ID, embed); err != nil {
		slog.Debug("Failed to deliver DM embed", "user", userID, "error", err)
		return false
	}
	return true
}
