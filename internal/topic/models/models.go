package models

import (
	"fmt"
	"time"

	"relaygate/pkg/domain"
)

// Topic is a sub-conversation in the operator space. Every user owns at most
// one; the spam-holding topic has no owner.
type Topic struct {
	ID          domain.TopicID
	UserID      domain.UserID
	Title       string
	SpamHolding bool
	CreatedAt   time.Time
}

// HasOwner reports whether the topic belongs to a user.
func (t *Topic) HasOwner() bool {
	return t.UserID != 0
}

// SpamTopicTitle is the title of the spam-holding topic.
const SpamTopicTitle = "Spam"

// maxTitleLen is the platform limit for topic names.
const maxTitleLen = 128

// UserTitle builds the topic title for a user from the display name and
// username, falling back to the id.
func UserTitle(id domain.UserID, fullName, username string) string {
	title := fullName
	if username != "" {
		if title != "" {
			title += " "
		}
		title += "@" + username
	}
	if title == "" {
		title = fmt.Sprintf("User %d", id)
	}
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}
	return title
}
