package telegram

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	tgbot "github.com/go-telegram/bot"

	"relaygate/internal/transport"
)

// wrap names the method and attaches the transport error kind, so callers
// can use errors.Is against both the kind and the library's own errors.
func (c *Client) wrap(method string, err error) error {
	if err == nil {
		return nil
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		// the request URL carries the bot token
		err = uerr.Err
	}
	if strings.Contains(err.Error(), c.token) {
		err = errors.New(strings.ReplaceAll(err.Error(), c.token, "<token>"))
	}
	if kind := classify(err); kind != nil {
		return fmt.Errorf("telegram %s: %w: %w", method, kind, err)
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

// classify maps a Bot API failure to a transport error kind, or nil.
func classify(err error) error {
	desc := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, tgbot.ErrorForbidden):
		return transport.ErrForbidden
	case strings.Contains(desc, "thread not found"), strings.Contains(desc, "topic_deleted"),
		strings.Contains(desc, "topic_id_invalid"), strings.Contains(desc, "topic_closed"):
		return transport.ErrTopicNotFound
	case strings.Contains(desc, "message_id_invalid"),
		strings.Contains(desc, "message") && strings.Contains(desc, "not found"),
		strings.Contains(desc, "message can't be deleted"):
		return transport.ErrMessageNotFound
	case strings.Contains(desc, "not enough rights"), strings.Contains(desc, "chat_admin_required"),
		strings.Contains(desc, "have no rights"):
		return transport.ErrForbidden
	}
	return nil
}

// notModified is the harmless answer to an edit with unchanged content.
func notModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}
