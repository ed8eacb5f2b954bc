package telegram

import (
	"strings"

	"github.com/go-telegram/bot/models"
)

// FullName joins first and last name.
func FullName(u *models.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsPrivate reports a one-to-one chat with the bot.
func IsPrivate(c models.Chat) bool { return c.Type == models.ChatTypePrivate }

// HasMedia reports whether the message carries a captionable attachment.
func HasMedia(m *models.Message) bool {
	return len(m.Photo) > 0 || m.Document != nil || m.Video != nil ||
		m.Audio != nil || m.Voice != nil || m.Animation != nil
}

// Content is the text, or the caption for media.
func Content(m *models.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// FirstEmoji returns the first emoji reaction, or "" when cleared.
func FirstEmoji(r *models.MessageReactionUpdated) string {
	for _, rt := range r.NewReaction {
		if rt.Type == models.ReactionTypeTypeEmoji && rt.ReactionTypeEmoji != nil {
			return rt.ReactionTypeEmoji.Emoji
		}
	}
	return ""
}
