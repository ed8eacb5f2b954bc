// Package fake is an in-memory Transport for tests: it stores every message it
// is asked to post and lets tests inject failures per method.
package fake

import (
	"context"
	"sync"

	"relaygate/internal/transport"
	"relaygate/pkg/domain"
)

// Message is a message the fake has seen.
type Message struct {
	ID       domain.MessageID
	Dest     transport.Destination
	Text     string
	Image    []byte
	CopyOf   domain.Endpoint
	ReplyTo  domain.MessageID
	Deleted  bool
	Pinned   bool
	Reaction string
}

// Transport records calls in memory. The zero value is not usable; call New.
type Transport struct {
	mu       sync.Mutex
	nextMsg  domain.MessageID
	nextTop  domain.TopicID
	messages map[domain.ChatID]map[domain.MessageID]*Message
	topics   map[domain.TopicID]string
	gone     map[domain.TopicID]bool
	failures map[string]error
	caps     transport.Capabilities
	calls    map[string]int
}

func New() *Transport {
	return &Transport{
		nextMsg:  1000,
		nextTop:  100,
		messages: make(map[domain.ChatID]map[domain.MessageID]*Message),
		topics:   make(map[domain.TopicID]string),
		gone:     make(map[domain.TopicID]bool),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		caps: transport.Capabilities{
			BotID:             1,
			BotUsername:       "relay_bot",
			IsForum:           true,
			IsAdmin:           true,
			CanManageTopics:   true,
			CanDeleteMessages: true,
			CanPinMessages:    true,
			ReadsAllMessages:  true,
		},
	}
}

// Fail makes every later call to method return err. Pass nil to clear.
func (t *Transport) Fail(method string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, method)
		return
	}
	t.failures[method] = err
}

// SetCapabilities replaces what Capabilities reports.
func (t *Transport) SetCapabilities(c transport.Capabilities) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.caps = c
}

// DeleteTopicExternally simulates an operator deleting a topic by hand.
func (t *Transport) DeleteTopicExternally(topic domain.TopicID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gone[topic] = true
}

// Put seeds a message as if the user or operator had written it.
func (t *Transport) Put(chat domain.ChatID, id domain.MessageID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store(&Message{ID: id, Dest: transport.Destination{Chat: chat}, Text: text})
}

// Calls returns how often method was invoked.
func (t *Transport) Calls(method string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[method]
}

// Topics returns created topics by title.
func (t *Transport) Topics() map[domain.TopicID]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[domain.TopicID]string, len(t.topics))
	for k, v := range t.topics {
		out[k] = v
	}
	return out
}

// Get returns a copy of a stored message.
func (t *Transport) Get(chat domain.ChatID, id domain.MessageID) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.messages[chat][id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Sent returns live (non-deleted) messages posted to dest, oldest first.
func (t *Transport) Sent(dest transport.Destination) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Message
	for id := domain.MessageID(1); id <= t.nextMsg; id++ {
		m, ok := t.messages[dest.Chat][id]
		if ok && !m.Deleted && m.Dest == dest {
			out = append(out, *m)
		}
	}
	return out
}

func (t *Transport) begin(method string) error {
	t.calls[method]++
	return t.failures[method]
}

func (t *Transport) store(m *Message) {
	if t.messages[m.Dest.Chat] == nil {
		t.messages[m.Dest.Chat] = make(map[domain.MessageID]*Message)
	}
	t.messages[m.Dest.Chat][m.ID] = m
}

func (t *Transport) post(to transport.Destination, m *Message) (domain.MessageID, error) {
	if !to.Topic.IsNil() && t.gone[to.Topic] {
		return 0, transport.ErrTopicNotFound
	}
	t.nextMsg++
	m.ID = t.nextMsg
	m.Dest = to
	t.store(m)
	return m.ID, nil
}

func (t *Transport) lookup(at domain.Endpoint) (*Message, error) {
	m, ok := t.messages[at.Chat][at.Message]
	if !ok || m.Deleted {
		return nil, transport.ErrMessageNotFound
	}
	return m, nil
}

func (t *Transport) SendText(_ context.Context, to transport.Destination, text string, replyTo domain.MessageID) (domain.MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("SendText"); err != nil {
		return 0, err
	}
	return t.post(to, &Message{Text: text, ReplyTo: replyTo})
}

func (t *Transport) SendPhoto(_ context.Context, to transport.Destination, image []byte, caption string) (domain.MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("SendPhoto"); err != nil {
		return 0, err
	}
	return t.post(to, &Message{Text: caption, Image: image})
}

func (t *Transport) CopyMessage(_ context.Context, to transport.Destination, from domain.Endpoint, replyTo domain.MessageID) (domain.MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("CopyMessage"); err != nil {
		return 0, err
	}
	text := ""
	if src, ok := t.messages[from.Chat][from.Message]; ok {
		text = src.Text
	}
	return t.post(to, &Message{Text: text, CopyOf: from, ReplyTo: replyTo})
}

func (t *Transport) EditText(_ context.Context, at domain.Endpoint, text string, _ bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("EditText"); err != nil {
		return err
	}
	m, err := t.lookup(at)
	if err != nil {
		return err
	}
	m.Text = text
	return nil
}

func (t *Transport) DeleteMessage(_ context.Context, at domain.Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("DeleteMessage"); err != nil {
		return err
	}
	m, err := t.lookup(at)
	if err != nil {
		return err
	}
	m.Deleted = true
	return nil
}

func (t *Transport) SetReaction(_ context.Context, at domain.Endpoint, emoji string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("SetReaction"); err != nil {
		return err
	}
	m, err := t.lookup(at)
	if err != nil {
		return err
	}
	m.Reaction = emoji
	return nil
}

func (t *Transport) Pin(_ context.Context, at domain.Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("Pin"); err != nil {
		return err
	}
	m, err := t.lookup(at)
	if err != nil {
		return err
	}
	m.Pinned = true
	return nil
}

func (t *Transport) Unpin(_ context.Context, at domain.Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("Unpin"); err != nil {
		return err
	}
	m, err := t.lookup(at)
	if err != nil {
		return err
	}
	m.Pinned = false
	return nil
}

func (t *Transport) CreateTopic(_ context.Context, _ domain.ChatID, title string) (domain.TopicID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("CreateTopic"); err != nil {
		return 0, err
	}
	t.nextTop++
	t.topics[t.nextTop] = title
	return t.nextTop, nil
}

func (t *Transport) Capabilities(_ context.Context, _ domain.ChatID) (*transport.Capabilities, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("Capabilities"); err != nil {
		return nil, err
	}
	c := t.caps
	return &c, nil
}

var _ transport.Transport = (*Transport)(nil)
