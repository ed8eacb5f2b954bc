// Package bot turns platform updates into relay calls: it decides which side
// a message came from, parses commands and renders their replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	accessmodels "relaygate/internal/access/models"
	accessservice "relaygate/internal/access/service"
	mappingmodels "relaygate/internal/mapping/models"
	mappingstore "relaygate/internal/mapping/store"
	"relaygate/internal/relay"
	topicservice "relaygate/internal/topic/service"
	"relaygate/internal/transport"
	"relaygate/internal/transport/telegram"
	"relaygate/pkg/domain"
	"relaygate/pkg/requestcontext"
)

// Relay is the orchestrator surface the dispatcher drives.
type Relay interface {
	RelayInbound(ctx context.Context, in relay.InboundMessage) (*relay.Outcome, error)
	RelayReply(ctx context.Context, r relay.ReplyMessage) (*relay.Outcome, error)
	RelayEdit(ctx context.Context, ed relay.EditMessage) (*relay.Outcome, error)
	MirrorReaction(ctx context.Context, at domain.Endpoint, emoji string) error
	Retract(ctx context.Context, e domain.Endpoint) (*relay.RetractResult, error)
	Ban(ctx context.Context, user domain.UserID, reason accessmodels.BanReason) (*accessmodels.User, error)
	Unban(ctx context.Context, user domain.UserID) (*accessmodels.User, error)
	Verify(ctx context.Context, user domain.UserID, verified bool) (*accessmodels.User, error)
	Stats(ctx context.Context) (*relay.Stats, error)
	UserInfo(ctx context.Context, topic domain.TopicID) (*accessmodels.User, error)
	MessageInfo(ctx context.Context, e domain.Endpoint) (*mappingmodels.Mapping, error)
}

// Notifier posts the dispatcher's own replies.
type Notifier interface {
	SendText(ctx context.Context, to transport.Destination, text string, replyTo domain.MessageID) (domain.MessageID, error)
}

type Dispatcher struct {
	relay       Relay
	notifier    Notifier
	space       domain.ChatID
	botID       int64
	botUsername string
	operators   map[int64]bool
	logger      *slog.Logger
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithBotIdentity lets the dispatcher ignore its own reactions and accept
// commands addressed as /cmd@username.
func WithBotIdentity(id int64, username string) Option {
	return func(d *Dispatcher) {
		d.botID = id
		d.botUsername = username
	}
}

// WithOperators restricts the operator space to the given accounts. Anything
// others post, edit or react there is ignored. No ids means everyone in the
// space is an operator.
func WithOperators(ids ...int64) Option {
	return func(d *Dispatcher) {
		for _, id := range ids {
			if id != 0 {
				if d.operators == nil {
					d.operators = make(map[int64]bool)
				}
				d.operators[id] = true
			}
		}
	}
}

func (d *Dispatcher) isOperator(u *models.User) bool {
	if len(d.operators) == 0 {
		return true
	}
	return u != nil && d.operators[u.ID]
}

func New(r Relay, n Notifier, space domain.ChatID, opts ...Option) (*Dispatcher, error) {
	if r == nil {
		return nil, errors.New("relay is required")
	}
	if n == nil {
		return nil, errors.New("notifier is required")
	}
	if space == 0 {
		return nil, errors.New("operator space is required")
	}
	d := &Dispatcher{relay: r, notifier: n, space: space, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Handle processes one update. Errors and panics are logged and posted to
// the operator space's general thread; they never reach the poller.
func (d *Dispatcher) Handle(ctx context.Context, u *models.Update) {
	ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
	ctx = requestcontext.WithUpdateID(ctx, u.ID)
	ctx = requestcontext.WithTime(ctx, time.Now())

	defer func() {
		if v := recover(); v != nil {
			d.logger.ErrorContext(ctx, "panic while handling update", "update_id", u.ID, "panic", v)
			d.alert(ctx, renderPanic(u.ID, v))
		}
	}()

	if err := d.route(ctx, u); err != nil {
		d.logger.ErrorContext(ctx, "failed to handle update", "update_id", u.ID, "error", err)
		d.alert(ctx, renderAlert(u.ID, err))
	}
}

func (d *Dispatcher) alert(ctx context.Context, text string) {
	if _, err := d.notifier.SendText(ctx, transport.Destination{Chat: d.space}, text, 0); err != nil {
		d.logger.ErrorContext(ctx, "failed to post operator alert", "error", err)
	}
}

func (d *Dispatcher) reply(ctx context.Context, to transport.Destination, text string, replyTo domain.MessageID) {
	if _, err := d.notifier.SendText(ctx, to, text, replyTo); err != nil {
		d.logger.WarnContext(ctx, "failed to send reply", "chat_id", to.Chat, "error", err)
	}
}

func (d *Dispatcher) route(ctx context.Context, u *models.Update) error {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.From.IsBot {
			return nil
		}
		if telegram.IsPrivate(m.Chat) {
			return d.private(ctx, m)
		}
		if domain.ChatID(m.Chat.ID) == d.space && d.isOperator(m.From) {
			return d.operator(ctx, m)
		}
	case u.EditedMessage != nil:
		return d.edit(ctx, u.EditedMessage)
	case u.MessageReaction != nil:
		return d.reaction(ctx, u.MessageReaction)
	}
	return nil
}

type command struct {
	name string
	args []string
}

// parseCommand recognizes "/name args" and "/name@bot args". Commands
// addressed to another bot are not ours.
func (d *Dispatcher) parseCommand(text string) (command, bool) {
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	fields := strings.Fields(text)
	name, target, addressed := strings.Cut(fields[0], "@")
	if addressed && d.botUsername != "" && !strings.EqualFold(target, d.botUsername) {
		return command{}, false
	}
	return command{name: strings.ToLower(name), args: fields[1:]}, true
}

func profileOf(u *models.User) accessmodels.Profile {
	return accessmodels.Profile{
		Username:     u.Username,
		FullName:     telegram.FullName(u),
		LanguageCode: u.LanguageCode,
		IsPremium:    u.IsPremium,
	}
}

func (d *Dispatcher) private(ctx context.Context, m *models.Message) error {
	user := domain.UserID(m.From.ID)
	in := relay.InboundMessage{
		User:    user,
		Profile: profileOf(m.From),
		Message: domain.MessageID(m.ID),
		Text:    telegram.Content(m),
	}
	if m.ReplyToMessage != nil {
		in.ReplyTo = domain.MessageID(m.ReplyToMessage.ID)
	}

	if cmd, ok := d.parseCommand(m.Text); ok {
		switch cmd.name {
		case "/start":
			in.Start = true
		case "/d":
			return d.userRetract(ctx, user, m)
		}
	}
	_, err := d.relay.RelayInbound(ctx, in)
	return err
}

func (d *Dispatcher) userRetract(ctx context.Context, user domain.UserID, m *models.Message) error {
	here := transport.Destination{Chat: user.Chat()}
	if m.ReplyToMessage == nil {
		d.reply(ctx, here, textRetractUsage, domain.MessageID(m.ID))
		return nil
	}
	at := domain.Endpoint{Side: domain.SideUser, Chat: user.Chat(), Message: domain.MessageID(m.ReplyToMessage.ID)}
	return d.retract(ctx, here, at, domain.MessageID(m.ID))
}

func (d *Dispatcher) retract(ctx context.Context, here transport.Destination, at domain.Endpoint, cmdMsg domain.MessageID) error {
	res, err := d.relay.Retract(ctx, at)
	switch {
	case err == nil:
		text := textRetracted
		switch {
		case res.AlreadyGone():
			text = textRetractGone
		case !res.OK():
			text = textRetractPartial
		}
		d.reply(ctx, here, text, 0)
		return nil
	case errors.Is(err, mappingstore.ErrMappingNotFound), errors.Is(err, mappingstore.ErrAlreadyRetracted):
		d.reply(ctx, here, textCannotUndo, cmdMsg)
		return nil
	}
	return err
}

// topicReplyTo returns the replied-to message inside a topic. Messages that
// are not replies still point at the topic's creation message.
func topicReplyTo(m *models.Message) domain.MessageID {
	r := m.ReplyToMessage
	if r == nil || r.ForumTopicCreated != nil || r.ID == m.MessageThreadID {
		return 0
	}
	return domain.MessageID(r.ID)
}

func (d *Dispatcher) operator(ctx context.Context, m *models.Message) error {
	ctx = requestcontext.WithActor(ctx, domain.UserID(m.From.ID))
	general := transport.Destination{Chat: d.space}
	if !m.IsTopicMessage || m.MessageThreadID == 0 {
		cmd, ok := d.parseCommand(m.Text)
		if !ok {
			return nil
		}
		switch cmd.name {
		case "/info":
			st, err := d.relay.Stats(ctx)
			if err != nil {
				return err
			}
			d.reply(ctx, general, renderStats(st), domain.MessageID(m.ID))
		case "/help":
			d.reply(ctx, general, textHelp, domain.MessageID(m.ID))
		}
		return nil
	}

	topic := domain.TopicID(m.MessageThreadID)
	here := transport.Destination{Chat: d.space, Topic: topic}
	msg := domain.MessageID(m.ID)
	replyTo := topicReplyTo(m)

	cmd, ok := d.parseCommand(m.Text)
	if ok {
		handled, err := d.operatorCommand(ctx, cmd, here, msg, replyTo)
		if handled || err != nil {
			return err
		}
	}

	_, err := d.relay.RelayReply(ctx, relay.ReplyMessage{Space: d.space, Topic: topic, Message: msg, ReplyTo: replyTo})
	if errors.Is(err, relay.ErrReplyNotRoutable) || errors.Is(err, relay.ErrUserUnreachable) {
		// the relay already told the operator
		return nil
	}
	return err
}

// operatorCommand runs a topic command. Unknown commands are not handled and
// get relayed like any other operator message.
func (d *Dispatcher) operatorCommand(ctx context.Context, cmd command, here transport.Destination, msg, replyTo domain.MessageID) (bool, error) {
	switch cmd.name {
	case "/help":
		d.reply(ctx, here, textHelp, msg)
		return true, nil
	case "/d":
		if replyTo == 0 {
			d.reply(ctx, here, textRetractUsage, msg)
			return true, nil
		}
		at := domain.Endpoint{Side: domain.SideTopic, Chat: d.space, Message: replyTo}
		return true, d.retract(ctx, here, at, msg)
	case "/info":
		if replyTo != 0 {
			m, err := d.relay.MessageInfo(ctx, domain.Endpoint{Side: domain.SideTopic, Chat: d.space, Message: replyTo})
			if errors.Is(err, mappingstore.ErrMappingNotFound) {
				d.reply(ctx, here, textNoMessageRecord, msg)
				return true, nil
			}
			if err != nil {
				return true, err
			}
			d.reply(ctx, here, renderMapping(m), msg)
			return true, nil
		}
		u, ok, err := d.topicUser(ctx, here, msg)
		if !ok {
			return true, err
		}
		d.reply(ctx, here, renderUser(u), msg)
		return true, nil
	case "/ban", "/unban", "/verify":
		u, ok, err := d.topicUser(ctx, here, msg)
		if !ok {
			return true, err
		}
		return true, d.moderate(ctx, cmd, u.ID, here, msg)
	}
	return false, nil
}

func (d *Dispatcher) topicUser(ctx context.Context, here transport.Destination, msg domain.MessageID) (*accessmodels.User, bool, error) {
	u, err := d.relay.UserInfo(ctx, here.Topic)
	if errors.Is(err, topicservice.ErrTopicUnknown) || errors.Is(err, topicservice.ErrSpamHoldingTopic) || errors.Is(err, accessservice.ErrUserNotFound) {
		d.reply(ctx, here, textNoUser, msg)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (d *Dispatcher) moderate(ctx context.Context, cmd command, user domain.UserID, here transport.Destination, msg domain.MessageID) error {
	var text string
	switch cmd.name {
	case "/ban":
		_, err := d.relay.Ban(ctx, user, accessmodels.BanReasonOperator)
		switch {
		case errors.Is(err, accessservice.ErrAlreadyBanned):
			text = textAlreadyBanned
		case err != nil:
			return err
		default:
			text = textBanned
		}
	case "/unban":
		_, err := d.relay.Unban(ctx, user)
		switch {
		case errors.Is(err, accessservice.ErrNotBanned):
			text = textNotBanned
		case err != nil:
			return err
		default:
			text = textUnbanned
		}
	case "/verify":
		verified, ok := parseBool(cmd.args)
		if !ok {
			text = textVerifyUsage
			break
		}
		_, err := d.relay.Verify(ctx, user, verified)
		switch {
		case errors.Is(err, accessservice.ErrUserBanned):
			text = textBannedNoVerify
		case err != nil:
			return err
		case verified:
			text = textVerified
		default:
			text = textUnverified
		}
	default:
		return fmt.Errorf("unexpected moderation command %q", cmd.name)
	}
	d.reply(ctx, here, text, msg)
	return nil
}

func parseBool(args []string) (bool, bool) {
	if len(args) != 1 {
		return false, false
	}
	switch strings.ToLower(args[0]) {
	case "true", "yes", "on", "1":
		return true, true
	case "false", "no", "off", "0":
		return false, true
	}
	return false, false
}

func (d *Dispatcher) edit(ctx context.Context, m *models.Message) error {
	var at domain.Endpoint
	switch {
	case telegram.IsPrivate(m.Chat):
		at = domain.Endpoint{Side: domain.SideUser, Chat: domain.ChatID(m.Chat.ID), Message: domain.MessageID(m.ID)}
	case domain.ChatID(m.Chat.ID) == d.space && m.IsTopicMessage && d.isOperator(m.From):
		at = domain.Endpoint{Side: domain.SideTopic, Chat: d.space, Message: domain.MessageID(m.ID)}
	default:
		return nil
	}
	_, err := d.relay.RelayEdit(ctx, relay.EditMessage{At: at, Text: telegram.Content(m), Caption: telegram.HasMedia(m)})
	return err
}

func (d *Dispatcher) reaction(ctx context.Context, r *models.MessageReactionUpdated) error {
	if r.User != nil && r.User.ID == d.botID {
		return nil
	}
	var at domain.Endpoint
	switch {
	case telegram.IsPrivate(r.Chat):
		at = domain.Endpoint{Side: domain.SideUser, Chat: domain.ChatID(r.Chat.ID), Message: domain.MessageID(r.MessageID)}
	case domain.ChatID(r.Chat.ID) == d.space && d.isOperator(r.User):
		at = domain.Endpoint{Side: domain.SideTopic, Chat: d.space, Message: domain.MessageID(r.MessageID)}
	default:
		return nil
	}
	err := d.relay.MirrorReaction(ctx, at, telegram.FirstEmoji(r))
	if errors.Is(err, mappingstore.ErrMappingNotFound) {
		return nil
	}
	return err
}
