package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// UserID is the platform identity of an end-user. It doubles as the chat id
// of the user's private conversation with the bot.
type UserID int64

// ChatID identifies a conversation on the transport (a private chat or the
// operator space).
type ChatID int64

// TopicID identifies a sub-conversation (forum thread) inside the operator space.
type TopicID int64

// MessageID identifies a message within a single chat.
type MessageID int64

// ParseUserID parses a decimal user id received at a trust boundary.
// Zero and negative values are rejected: negative ids are groups, not users.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("user id is required")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid user id %q: must be positive", s)
	}
	return UserID(v), nil
}

// Int64 exposes the raw id for attribute extraction and SQL arguments.
func (id UserID) Int64() int64 { return int64(id) }

// Chat returns the private chat the bot shares with the user.
func (id UserID) Chat() ChatID { return ChatID(id) }

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id ChatID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id TopicID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id MessageID) String() string { return strconv.FormatInt(int64(id), 10) }

// IsNil reports whether the topic id is unset.
func (id TopicID) IsNil() bool { return id == 0 }

// Side names which half of the relay a message lives on.
type Side string

const (
	// SideUser is the user's private conversation with the bot.
	SideUser Side = "user"
	// SideTopic is a sub-conversation inside the operator space.
	SideTopic Side = "topic"
)

// IsValid reports whether s is a known side.
func (s Side) IsValid() bool {
	return s == SideUser || s == SideTopic
}

// Endpoint identifies one concrete message: the side it lives on, the chat
// holding it and its id within that chat.
type Endpoint struct {
	Side    Side
	Chat    ChatID
	Message MessageID
}

func (e Endpoint) String() string {
	return string(e.Side) + ":" + e.Chat.String() + ":" + e.Message.String()
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Message == 0
}
