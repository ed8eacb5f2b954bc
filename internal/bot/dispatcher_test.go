package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	accessmodels "relaygate/internal/access/models"
	accessservice "relaygate/internal/access/service"
	accessstore "relaygate/internal/access/store"
	mappingstore "relaygate/internal/mapping/store"
	"relaygate/internal/platform/config"
	"relaygate/internal/platform/metrics"
	"relaygate/internal/ratelimit/store/bucket"
	"relaygate/internal/relay"
	"relaygate/internal/spam"
	topicservice "relaygate/internal/topic/service"
	topicstore "relaygate/internal/topic/store"
	"relaygate/internal/transport"
	"relaygate/internal/transport/fake"
	"relaygate/pkg/domain"
)

const space domain.ChatID = -100500

type fixedRenderer struct{}

func (fixedRenderer) Render() (string, []byte, error) { return "AB12", []byte("png"), nil }

type DispatcherSuite struct {
	suite.Suite
	transport *fake.Transport
	topics    *topicservice.Directory
	relay     *relay.Service
	d         *Dispatcher
	nextMsg   int64
	nextUpd   int64
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.transport = fake.New()
	s.nextMsg = 1
	m := metrics.New(prometheus.NewRegistry())

	access, err := accessservice.New(accessstore.NewInMemory(),
		accessservice.WithRenderer(fixedRenderer{}),
		accessservice.WithPolicy(config.Default().Access),
		accessservice.WithFloodCounter(bucket.New()),
		accessservice.WithMetrics(m),
	)
	s.Require().NoError(err)

	topics, err := topicservice.New(topicstore.NewInMemory(), s.transport, space)
	s.Require().NoError(err)
	s.topics = topics

	pipeline := spam.NewPipeline([]spam.Strategy{spam.NewKeyword([]string{"cheap followers"})})
	r, err := relay.New(access, topics, mappingstore.NewInMemory(), pipeline, s.transport)
	s.Require().NoError(err)
	s.relay = r

	d, err := New(r, s.transport, space, WithBotIdentity(1, "relay_bot"))
	s.Require().NoError(err)
	s.d = d
}

func (s *DispatcherSuite) update() *models.Update {
	s.nextUpd++
	return &models.Update{ID: s.nextUpd}
}

// fromUser delivers a private message and returns its id.
func (s *DispatcherSuite) fromUser(user int64, text string, replyTo int64) int64 {
	s.nextMsg++
	id := s.nextMsg
	s.transport.Put(domain.ChatID(user), domain.MessageID(id), text)
	msg := &models.Message{
		ID:   int(id),
		From: &models.User{ID: user, FirstName: "Ann", Username: "ann"},
		Chat: models.Chat{ID: user, Type: models.ChatTypePrivate},
		Text: text,
	}
	if replyTo != 0 {
		msg.ReplyToMessage = &models.Message{ID: int(replyTo)}
	}
	u := s.update()
	u.Message = msg
	s.d.Handle(context.Background(), u)
	return id
}

// fromOperator posts into a topic (or General when topic is zero).
func (s *DispatcherSuite) fromOperator(topic domain.TopicID, text string, replyTo int64) int64 {
	s.nextMsg++
	id := 5000 + s.nextMsg
	s.transport.Put(space, domain.MessageID(id), text)
	msg := &models.Message{
		ID:   int(id),
		From: &models.User{ID: 900, FirstName: "Op"},
		Chat: models.Chat{ID: int64(space), Type: models.ChatTypeSupergroup, IsForum: true},
		Text: text,
	}
	if topic != 0 {
		msg.IsTopicMessage = true
		msg.MessageThreadID = int(topic)
		if replyTo == 0 {
			msg.ReplyToMessage = &models.Message{ID: int(topic), ForumTopicCreated: &models.ForumTopicCreated{Name: "x"}}
		} else {
			msg.ReplyToMessage = &models.Message{ID: int(replyTo)}
		}
	}
	u := s.update()
	u.Message = msg
	s.d.Handle(context.Background(), u)
	return id
}

func (s *DispatcherSuite) verified(user int64) domain.TopicID {
	s.fromUser(user, "/start", 0)
	s.fromUser(user, "ab12", 0)
	topic, err := s.topics.Lookup(context.Background(), domain.UserID(user))
	s.Require().NoError(err)
	return topic
}

func (s *DispatcherSuite) last(dest transport.Destination) fake.Message {
	msgs := s.transport.Sent(dest)
	s.Require().NotEmpty(msgs)
	return msgs[len(msgs)-1]
}

func (s *DispatcherSuite) userState(user int64) accessmodels.State {
	st, err := s.relay.Gate(context.Background(), domain.UserID(user))
	s.Require().NoError(err)
	return st
}

func (s *DispatcherSuite) TestNewValidates() {
	_, err := New(nil, s.transport, space)
	s.Error(err)
	_, err = New(s.relay, nil, space)
	s.Error(err)
	_, err = New(s.relay, s.transport, 0)
	s.Error(err)
}

func (s *DispatcherSuite) TestUserVerificationAndRelay() {
	topic := s.verified(42)
	s.Equal(accessmodels.StateVerified, s.userState(42))
	s.Equal("Ann @ann", s.transport.Topics()[topic])

	s.fromUser(42, "hello operators", 0)
	s.Equal("hello operators", s.last(transport.Destination{Chat: space, Topic: topic}).Text)
}

func (s *DispatcherSuite) TestOperatorReplyReachesUser() {
	topic := s.verified(42)
	s.fromUser(42, "question", 0)

	s.fromOperator(topic, "answer", 0)
	got := s.last(transport.Destination{Chat: 42})
	s.Equal("answer", got.Text)
	s.Zero(got.ReplyTo)
}

func (s *DispatcherSuite) TestCommandForAnotherBotIsRelayed() {
	topic := s.verified(42)
	s.fromOperator(topic, "/ban@other_bot", 0)
	s.Equal(accessmodels.StateVerified, s.userState(42))
	s.Equal("/ban@other_bot", s.last(transport.Destination{Chat: 42}).Text)
}

func (s *DispatcherSuite) TestModerationCommands() {
	topic := s.verified(42)
	here := transport.Destination{Chat: space, Topic: topic}

	s.fromOperator(topic, "/ban", 0)
	s.Equal(textBanned, s.last(here).Text)
	s.Equal(accessmodels.StateBanned, s.userState(42))

	s.fromOperator(topic, "/ban@relay_bot", 0)
	s.Equal(textAlreadyBanned, s.last(here).Text)

	s.fromOperator(topic, "/verify true", 0)
	s.Equal(textBannedNoVerify, s.last(here).Text)

	s.fromOperator(topic, "/unban", 0)
	s.Equal(textUnbanned, s.last(here).Text)
	s.Equal(accessmodels.StateUnverified, s.userState(42))

	s.fromOperator(topic, "/unban", 0)
	s.Equal(textNotBanned, s.last(here).Text)

	s.fromOperator(topic, "/verify maybe", 0)
	s.Equal(textVerifyUsage, s.last(here).Text)

	s.fromOperator(topic, "/verify true", 0)
	s.Equal(textVerified, s.last(here).Text)
	s.Equal(accessmodels.StateVerified, s.userState(42))
}

func (s *DispatcherSuite) TestInfo() {
	topic := s.verified(42)
	here := transport.Destination{Chat: space, Topic: topic}
	s.fromUser(42, "hello", 0)
	relayed := s.last(here)

	s.fromOperator(topic, "/info", 0)
	card := s.last(here).Text
	s.Contains(card, "User ID: 42")
	s.Contains(card, "State: verified")

	s.fromOperator(topic, "/info", int64(relayed.ID))
	s.Contains(s.last(here).Text, "Direction: to_topic")

	s.fromOperator(0, "/info", 0)
	stats := s.last(transport.Destination{Chat: space}).Text
	s.Contains(stats, "1 verified")
	s.Contains(stats, "Topics: 1")

	s.fromOperator(0, "/help", 0)
	s.Equal(textHelp, s.last(transport.Destination{Chat: space}).Text)
}

func (s *DispatcherSuite) TestCommandsInSpamTopic() {
	s.verified(42)
	s.fromUser(42, "cheap followers here", 0)
	spamTopic, err := s.topics.SpamTopic(context.Background())
	s.Require().NoError(err)

	s.fromOperator(spamTopic, "/ban", 0)
	s.Equal(textNoUser, s.last(transport.Destination{Chat: space, Topic: spamTopic}).Text)
	s.Equal(accessmodels.StateVerified, s.userState(42))
}

func (s *DispatcherSuite) TestUserRetract() {
	topic := s.verified(42)
	msg := s.fromUser(42, "oops", 0)
	copied := s.last(transport.Destination{Chat: space, Topic: topic})

	s.fromUser(42, "/d", msg)
	s.Equal(textRetracted, s.last(transport.Destination{Chat: 42}).Text)
	gone, _ := s.transport.Get(space, copied.ID)
	s.True(gone.Deleted)

	s.fromUser(42, "/d", msg)
	s.Equal(textCannotUndo, s.last(transport.Destination{Chat: 42}).Text)

	s.fromUser(42, "/d", 0)
	s.Equal(textRetractUsage, s.last(transport.Destination{Chat: 42}).Text)

	again := s.fromUser(42, "again", 0)
	copied = s.last(transport.Destination{Chat: space, Topic: topic})
	s.Require().NoError(s.transport.DeleteMessage(context.Background(),
		domain.Endpoint{Side: domain.SideTopic, Chat: space, Message: copied.ID}))
	s.fromUser(42, "/d", again)
	s.Equal(textRetractGone, s.last(transport.Destination{Chat: 42}).Text)
}

func (s *DispatcherSuite) TestOperatorRetract() {
	topic := s.verified(42)
	s.fromUser(42, "question", 0)
	op := s.fromOperator(topic, "wrong answer", 0)
	delivered := s.last(transport.Destination{Chat: 42})

	s.fromOperator(topic, "/d", op)
	s.Equal(textRetracted, s.last(transport.Destination{Chat: space, Topic: topic}).Text)
	gone, _ := s.transport.Get(42, delivered.ID)
	s.True(gone.Deleted)
}

func (s *DispatcherSuite) TestEditAndReaction() {
	topic := s.verified(42)
	msg := s.fromUser(42, "helo", 0)
	copied := s.last(transport.Destination{Chat: space, Topic: topic})

	u := s.update()
	u.EditedMessage = &models.Message{ID: int(msg), Chat: models.Chat{ID: 42, Type: models.ChatTypePrivate}, Text: "hello"}
	s.d.Handle(context.Background(), u)
	edited, _ := s.transport.Get(space, copied.ID)
	s.Equal("hello", edited.Text)

	u = s.update()
	u.MessageReaction = &models.MessageReactionUpdated{
		Chat:      models.Chat{ID: int64(space), Type: models.ChatTypeSupergroup},
		MessageID: int(copied.ID),
		User:      &models.User{ID: 900},
		NewReaction: []models.ReactionType{{
			Type:              models.ReactionTypeTypeEmoji,
			ReactionTypeEmoji: &models.ReactionTypeEmoji{Type: models.ReactionTypeTypeEmoji, Emoji: "🔥"},
		}},
	}
	s.d.Handle(context.Background(), u)
	src, _ := s.transport.Get(42, domain.MessageID(msg))
	s.Equal("🔥", src.Reaction)
}

type failingRelay struct {
	Relay
	err      error
	panicked bool
}

func (f *failingRelay) RelayInbound(context.Context, relay.InboundMessage) (*relay.Outcome, error) {
	if f.panicked {
		panic("nil map write")
	}
	return nil, f.err
}

func (s *DispatcherSuite) TestErrorsBecomeOperatorAlerts() {
	general := transport.Destination{Chat: space}

	s.Run("error", func() {
		d, err := New(&failingRelay{err: errors.New("db down")}, s.transport, space)
		s.Require().NoError(err)
		s.d = d
		s.fromUser(42, "hi", 0)
		alert := s.last(general).Text
		s.True(strings.HasPrefix(alert, "Relay error while handling update"))
		s.Contains(alert, "db down")
	})

	s.Run("panic", func() {
		d, err := New(&failingRelay{panicked: true}, s.transport, space)
		s.Require().NoError(err)
		s.d = d
		s.NotPanics(func() { s.fromUser(42, "hi", 0) })
		s.Contains(s.last(general).Text, "nil map write")
	})
}

func TestParseCommand(t *testing.T) {
	d := &Dispatcher{botUsername: "relay_bot"}
	cases := []struct {
		text string
		name string
		args int
		ok   bool
	}{
		{"/start", "/start", 0, true},
		{"/Verify true", "/verify", 1, true},
		{"/ban@relay_bot", "/ban", 0, true},
		{"/ban@other_bot", "", 0, false},
		{"hello /ban", "", 0, false},
	}
	for _, c := range cases {
		cmd, ok := d.parseCommand(c.text)
		if ok != c.ok || cmd.name != c.name || len(cmd.args) != c.args {
			t.Errorf("parseCommand(%q) = %+v, %v", c.text, cmd, ok)
		}
	}
}

func (s *DispatcherSuite) TestOnlyConfiguredOperatorsAreHeard() {
	d, err := New(s.relay, s.transport, space, WithBotIdentity(1, "relay_bot"), WithOperators(900))
	s.Require().NoError(err)
	s.d = d
	topic := s.verified(42)

	// fromOperator posts as 900
	s.fromOperator(topic, "from the owner", 0)
	s.Equal("from the owner", s.last(transport.Destination{Chat: 42}).Text)

	s.nextMsg++
	stranger := &models.Message{
		ID:              int(7000 + s.nextMsg),
		From:            &models.User{ID: 901, FirstName: "Eve"},
		Chat:            models.Chat{ID: int64(space), Type: models.ChatTypeSupergroup, IsForum: true},
		IsTopicMessage:  true,
		MessageThreadID: int(topic),
		Text:            "/ban",
	}
	u := s.update()
	u.Message = stranger
	s.d.Handle(context.Background(), u)

	s.Equal(accessmodels.StateVerified, s.userState(42))
	s.Equal("from the owner", s.last(transport.Destination{Chat: 42}).Text)
}
