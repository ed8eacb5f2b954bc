// Package transport defines what the relay needs from the messaging platform.
// The Bot API adapter lives in transport/telegram; tests use transport/fake or
// the generated mocks.
package transport

//go:generate mockgen -source=transport.go -destination=mocks/mocks.go -package=mocks Transport

import (
	"context"
	"fmt"
	"strings"

	"relaygate/pkg/domain"
	"relaygate/pkg/platform/sentinel"
)

var (
	// ErrMessageNotFound means the target message was already deleted or
	// never existed on the platform.
	ErrMessageNotFound = fmt.Errorf("message not found: %w", sentinel.ErrNotFound)
	// ErrTopicNotFound means the destination sub-conversation was deleted
	// outside the relay.
	ErrTopicNotFound = fmt.Errorf("topic not found: %w", sentinel.ErrNotFound)
	// ErrForbidden means the bot lacks a permission or was blocked by the user.
	ErrForbidden = fmt.Errorf("forbidden: %w", sentinel.ErrInvalidState)
)

// Destination is where a new message goes: a chat and, inside the operator
// space, a topic. Topic zero means the chat's main thread.
type Destination struct {
	Chat  domain.ChatID
	Topic domain.TopicID
}

// Capabilities describes what the bot may do in the operator space.
type Capabilities struct {
	BotID             int64
	BotUsername       string
	IsForum           bool
	IsAdmin           bool
	CanManageTopics   bool
	CanDeleteMessages bool
	CanPinMessages    bool
	// ReadsAllMessages is false when the bot runs in privacy mode and would
	// not see operator replies.
	ReadsAllMessages bool
}

// Missing lists the requirements the relay cannot run without.
func (c *Capabilities) Missing() []string {
	var missing []string
	if !c.IsForum {
		missing = append(missing, "operator space is not a forum")
	}
	if !c.IsAdmin {
		missing = append(missing, "bot is not an administrator")
	}
	if !c.CanManageTopics {
		missing = append(missing, "bot cannot manage topics")
	}
	if !c.ReadsAllMessages {
		missing = append(missing, "bot privacy mode is enabled")
	}
	return missing
}

// Check returns an error naming every missing requirement.
func (c *Capabilities) Check() error {
	if m := c.Missing(); len(m) > 0 {
		return fmt.Errorf("%w: %s", ErrForbidden, strings.Join(m, "; "))
	}
	return nil
}

// Transport is the messaging-platform collaborator.
type Transport interface {
	// SendText posts a text message. replyTo zero means no reply reference.
	SendText(ctx context.Context, to Destination, text string, replyTo domain.MessageID) (domain.MessageID, error)
	// SendPhoto posts an image with a caption (challenge delivery).
	SendPhoto(ctx context.Context, to Destination, image []byte, caption string) (domain.MessageID, error)
	// CopyMessage re-posts any kind of message without a forward header.
	CopyMessage(ctx context.Context, to Destination, from domain.Endpoint, replyTo domain.MessageID) (domain.MessageID, error)
	// EditText replaces the text, or the caption when caption is true.
	EditText(ctx context.Context, at domain.Endpoint, text string, caption bool) error
	DeleteMessage(ctx context.Context, at domain.Endpoint) error
	SetReaction(ctx context.Context, at domain.Endpoint, emoji string) error
	Pin(ctx context.Context, at domain.Endpoint) error
	Unpin(ctx context.Context, at domain.Endpoint) error
	CreateTopic(ctx context.Context, space domain.ChatID, title string) (domain.TopicID, error)
	Capabilities(ctx context.Context, space domain.ChatID) (*Capabilities, error)
}
