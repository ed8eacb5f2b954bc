package telegram

import (
	"bytes"
	"context"
	"errors"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"relaygate/internal/transport"
	"relaygate/pkg/domain"
)

var _ transport.Transport = (*Client)(nil)

func replyTo(id domain.MessageID) *models.ReplyParameters {
	if id == 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: int(id), AllowSendingWithoutReply: true}
}

func (c *Client) SendText(ctx context.Context, to transport.Destination, text string, reply domain.MessageID) (domain.MessageID, error) {
	msg, err := do(ctx, c, "sendMessage", func(ctx context.Context) (*models.Message, error) {
		return c.bot.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:          int64(to.Chat),
			MessageThreadID: int(to.Topic),
			Text:            text,
			ReplyParameters: replyTo(reply),
		})
	})
	if err != nil {
		return 0, err
	}
	return domain.MessageID(msg.ID), nil
}

func (c *Client) SendPhoto(ctx context.Context, to transport.Destination, image []byte, caption string) (domain.MessageID, error) {
	msg, err := do(ctx, c, "sendPhoto", func(ctx context.Context) (*models.Message, error) {
		return c.bot.SendPhoto(ctx, &tgbot.SendPhotoParams{
			ChatID:          int64(to.Chat),
			MessageThreadID: int(to.Topic),
			Photo:           &models.InputFileUpload{Filename: "challenge.png", Data: bytes.NewReader(image)},
			Caption:         caption,
		})
	})
	if err != nil {
		return 0, err
	}
	return domain.MessageID(msg.ID), nil
}

func (c *Client) CopyMessage(ctx context.Context, to transport.Destination, from domain.Endpoint, reply domain.MessageID) (domain.MessageID, error) {
	res, err := do(ctx, c, "copyMessage", func(ctx context.Context) (*models.MessageID, error) {
		return c.bot.CopyMessage(ctx, &tgbot.CopyMessageParams{
			ChatID:          int64(to.Chat),
			MessageThreadID: int(to.Topic),
			FromChatID:      int64(from.Chat),
			MessageID:       int(from.Message),
			ReplyParameters: replyTo(reply),
		})
	})
	if err != nil {
		return 0, err
	}
	return domain.MessageID(res.ID), nil
}

func (c *Client) EditText(ctx context.Context, at domain.Endpoint, text string, caption bool) error {
	var err error
	if caption {
		_, err = do(ctx, c, "editMessageCaption", func(ctx context.Context) (*models.Message, error) {
			return c.bot.EditMessageCaption(ctx, &tgbot.EditMessageCaptionParams{
				ChatID:    int64(at.Chat),
				MessageID: int(at.Message),
				Caption:   text,
			})
		})
	} else {
		_, err = do(ctx, c, "editMessageText", func(ctx context.Context) (*models.Message, error) {
			return c.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
				ChatID:    int64(at.Chat),
				MessageID: int(at.Message),
				Text:      text,
			})
		})
	}
	if notModified(err) {
		return nil
	}
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, at domain.Endpoint) error {
	_, err := do(ctx, c, "deleteMessage", func(ctx context.Context) (bool, error) {
		return c.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: int64(at.Chat), MessageID: int(at.Message)})
	})
	return err
}

// SetReaction replaces the bot's reaction; an empty emoji clears it.
func (c *Client) SetReaction(ctx context.Context, at domain.Endpoint, emoji string) error {
	reaction := []models.ReactionType{}
	if emoji != "" {
		reaction = append(reaction, models.ReactionType{
			Type:              models.ReactionTypeTypeEmoji,
			ReactionTypeEmoji: &models.ReactionTypeEmoji{Type: models.ReactionTypeTypeEmoji, Emoji: emoji},
		})
	}
	_, err := do(ctx, c, "setMessageReaction", func(ctx context.Context) (bool, error) {
		return c.bot.SetMessageReaction(ctx, &tgbot.SetMessageReactionParams{
			ChatID:    int64(at.Chat),
			MessageID: int(at.Message),
			Reaction:  reaction,
		})
	})
	return err
}

func (c *Client) Pin(ctx context.Context, at domain.Endpoint) error {
	_, err := do(ctx, c, "pinChatMessage", func(ctx context.Context) (bool, error) {
		return c.bot.PinChatMessage(ctx, &tgbot.PinChatMessageParams{
			ChatID:              int64(at.Chat),
			MessageID:           int(at.Message),
			DisableNotification: true,
		})
	})
	return err
}

func (c *Client) Unpin(ctx context.Context, at domain.Endpoint) error {
	_, err := do(ctx, c, "unpinChatMessage", func(ctx context.Context) (bool, error) {
		return c.bot.UnpinChatMessage(ctx, &tgbot.UnpinChatMessageParams{ChatID: int64(at.Chat), MessageID: int(at.Message)})
	})
	return err
}

func (c *Client) CreateTopic(ctx context.Context, space domain.ChatID, title string) (domain.TopicID, error) {
	topic, err := do(ctx, c, "createForumTopic", func(ctx context.Context) (*models.ForumTopic, error) {
		return c.bot.CreateForumTopic(ctx, &tgbot.CreateForumTopicParams{ChatID: int64(space), Name: title})
	})
	if err != nil {
		return 0, err
	}
	return domain.TopicID(topic.MessageThreadID), nil
}

// Capabilities combines getMe, getChat and the bot's own getChatMember.
func (c *Client) Capabilities(ctx context.Context, space domain.ChatID) (*transport.Capabilities, error) {
	me, err := c.GetMe(ctx)
	if err != nil {
		return nil, err
	}
	chat, err := do(ctx, c, "getChat", func(ctx context.Context) (*models.ChatFullInfo, error) {
		return c.bot.GetChat(ctx, &tgbot.GetChatParams{ChatID: int64(space)})
	})
	if err != nil {
		return nil, err
	}
	member, err := do(ctx, c, "getChatMember", func(ctx context.Context) (*models.ChatMember, error) {
		return c.bot.GetChatMember(ctx, &tgbot.GetChatMemberParams{ChatID: int64(space), UserID: me.ID})
	})
	if err != nil {
		return nil, err
	}

	caps := &transport.Capabilities{
		BotID:            me.ID,
		BotUsername:      me.Username,
		IsForum:          chat.IsForum,
		ReadsAllMessages: me.CanReadAllGroupMessages,
	}
	switch member.Type {
	case models.ChatMemberTypeOwner:
		caps.IsAdmin = true
		caps.CanManageTopics = true
		caps.CanDeleteMessages = true
		caps.CanPinMessages = true
	case models.ChatMemberTypeAdministrator:
		if admin := member.Administrator; admin != nil {
			caps.IsAdmin = true
			caps.CanManageTopics = admin.CanManageTopics
			caps.CanDeleteMessages = admin.CanDeleteMessages
			caps.CanPinMessages = admin.CanPinMessages
		}
	}
	return caps, nil
}

func (c *Client) GetMe(ctx context.Context) (*models.User, error) {
	me, err := do(ctx, c, "getMe", c.bot.GetMe)
	if err != nil {
		return nil, err
	}
	if me == nil || me.ID == 0 {
		return nil, errors.New("telegram getMe: empty bot identity")
	}
	return me, nil
}
