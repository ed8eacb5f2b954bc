package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygate/internal/transport"
	"relaygate/pkg/domain"
)

const testToken = "123:secret"

// botAPI routes requests by method name and records their form fields.
type botAPI struct {
	mu       sync.Mutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	forms    map[string][]map[string]string
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  map[string]int  `json:"parameters,omitempty"`
}

func newBotAPI(t *testing.T, opts ...Option) (*botAPI, *Client) {
	t.Helper()
	api := &botAPI{
		handlers: make(map[string]func(http.ResponseWriter, *http.Request)),
		forms:    make(map[string][]map[string]string),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)
		form := map[string]string{}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				form[k] = v[0]
			}
		}
		api.mu.Lock()
		api.forms[method] = append(api.forms[method], form)
		h, ok := api.handlers[method]
		api.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "Not Found: method not found")
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	opts = append([]Option{WithAPIURL(srv.URL + "/"), WithRateLimit(1000, 100)}, opts...)
	c, err := New(testToken, opts...)
	require.NoError(t, err)
	return api, c
}

func (a *botAPI) on(method string, h func(w http.ResponseWriter, r *http.Request)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[method] = h
}

func (a *botAPI) ok(method string, result string) {
	a.on(method, func(w http.ResponseWriter, _ *http.Request) { writeResult(w, result) })
}

func (a *botAPI) lastForm(method string) map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := a.forms[method]
	if len(f) == 0 {
		return nil
	}
	return f[len(f)-1]
}

func writeResult(w http.ResponseWriter, result string) {
	_ = json.NewEncoder(w).Encode(envelope{OK: true, Result: json.RawMessage(result)})
}

func writeError(w http.ResponseWriter, code int, desc string) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{ErrorCode: code, Description: desc})
}

func writeTooMany(w http.ResponseWriter) {
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(envelope{
		ErrorCode:   http.StatusTooManyRequests,
		Description: "Too Many Requests: retry after 0",
		Parameters:  map[string]int{"retry_after": 0},
	})
}

const sentMessage = `{"message_id":77,"date":0,"chat":{"id":-100,"type":"supergroup"}}`

func TestNewRequiresToken(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSendText(t *testing.T) {
	api, c := newBotAPI(t)
	api.ok("sendMessage", sentMessage)

	id, err := c.SendText(context.Background(), transport.Destination{Chat: -100, Topic: 5}, "hello", 12)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(77), id)

	form := api.lastForm("sendMessage")
	assert.Equal(t, "-100", form["chat_id"])
	assert.Equal(t, "5", form["message_thread_id"])
	assert.Equal(t, "hello", form["text"])

	var reply map[string]any
	require.NoError(t, json.Unmarshal([]byte(form["reply_parameters"]), &reply))
	assert.Equal(t, float64(12), reply["message_id"])
	assert.Equal(t, true, reply["allow_sending_without_reply"])

	_, err = c.SendText(context.Background(), transport.Destination{Chat: 42}, "hi", 0)
	require.NoError(t, err)
	assert.NotContains(t, api.lastForm("sendMessage"), "reply_parameters")
}

func TestCopyMessage(t *testing.T) {
	api, c := newBotAPI(t)
	api.ok("copyMessage", `{"message_id":9}`)

	from := domain.Endpoint{Side: domain.SideUser, Chat: 42, Message: 3}
	id, err := c.CopyMessage(context.Background(), transport.Destination{Chat: -100, Topic: 5}, from, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(9), id)

	form := api.lastForm("copyMessage")
	assert.Equal(t, "42", form["from_chat_id"])
	assert.Equal(t, "3", form["message_id"])
	assert.Equal(t, "-100", form["chat_id"])
}

func TestSendPhotoUploadsMultipart(t *testing.T) {
	api, c := newBotAPI(t)
	var gotImage []byte
	api.on("sendPhoto", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("photo")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Bad Request: "+err.Error())
			return
		}
		gotImage, _ = io.ReadAll(f)
		writeResult(w, `{"message_id":5,"date":0,"chat":{"id":42,"type":"private"}}`)
	})

	id, err := c.SendPhoto(context.Background(), transport.Destination{Chat: 42}, []byte("png-bytes"), "type the code")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(5), id)
	assert.Equal(t, []byte("png-bytes"), gotImage)
	form := api.lastForm("sendPhoto")
	assert.Equal(t, "type the code", form["caption"])
	assert.Equal(t, "42", form["chat_id"])
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		code int
		desc string
		want error
	}{
		{403, "Forbidden: bot was blocked by the user", transport.ErrForbidden},
		{400, "Bad Request: message to delete not found", transport.ErrMessageNotFound},
		{400, "Bad Request: message to edit not found", transport.ErrMessageNotFound},
		{400, "Bad Request: MESSAGE_ID_INVALID", transport.ErrMessageNotFound},
		{400, "Bad Request: message thread not found", transport.ErrTopicNotFound},
		{400, "Bad Request: TOPIC_DELETED", transport.ErrTopicNotFound},
		{400, "Bad Request: not enough rights to manage topics", transport.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			api, c := newBotAPI(t)
			api.on("deleteMessage", func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, tt.code, tt.desc)
			})
			err := c.DeleteMessage(context.Background(), domain.Endpoint{Chat: 1, Message: 2})
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "telegram deleteMessage")
		})
	}

	t.Run("unknown errors carry no kind", func(t *testing.T) {
		api, c := newBotAPI(t)
		api.on("deleteMessage", func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusBadRequest, "Bad Request: chat not found")
		})
		err := c.DeleteMessage(context.Background(), domain.Endpoint{Chat: 1, Message: 2})
		require.Error(t, err)
		assert.NotErrorIs(t, err, transport.ErrMessageNotFound)
		assert.NotErrorIs(t, err, transport.ErrTopicNotFound)
		assert.NotErrorIs(t, err, transport.ErrForbidden)
	})

	t.Run("forbidden keeps the library error", func(t *testing.T) {
		api, c := newBotAPI(t)
		api.on("sendMessage", func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusForbidden, "Forbidden: bot was blocked by the user")
		})
		_, err := c.SendText(context.Background(), transport.Destination{Chat: 42}, "x", 0)
		assert.ErrorIs(t, err, tgbot.ErrorForbidden)
	})
}

func TestEditUnchangedIsNotAnError(t *testing.T) {
	api, c := newBotAPI(t)
	api.on("editMessageCaption", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusBadRequest, "Bad Request: message is not modified")
	})
	require.NoError(t, c.EditText(context.Background(), domain.Endpoint{Chat: 1, Message: 2}, "same", true))
	assert.Equal(t, "same", api.lastForm("editMessageCaption")["caption"])
}

func TestRetriesAfterTooManyRequests(t *testing.T) {
	api, c := newBotAPI(t)
	var calls atomic.Int32
	api.on("pinChatMessage", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			writeTooMany(w)
			return
		}
		writeResult(w, "true")
	})
	require.NoError(t, c.Pin(context.Background(), domain.Endpoint{Chat: 1, Message: 2}))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "true", api.lastForm("pinChatMessage")["disable_notification"])
}

func TestRetriesAreBounded(t *testing.T) {
	api, c := newBotAPI(t)
	var calls atomic.Int32
	api.on("unpinChatMessage", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeTooMany(w)
	})
	err := c.Unpin(context.Background(), domain.Endpoint{Chat: 1, Message: 2})
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestTransportErrorsDoNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(testToken, WithAPIURL(srv.URL), WithHTTPClient(&http.Client{Timeout: time.Second}))
	require.NoError(t, err)

	_, err = c.SendText(context.Background(), transport.Destination{Chat: 1}, "x", 0)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestHTTPTimeoutOutlastsLongPoll(t *testing.T) {
	c, err := New(testToken, WithPollTimeout(50*time.Second))
	require.NoError(t, err)
	assert.Greater(t, c.http.Timeout, 50*time.Second)
}

func TestSetReaction(t *testing.T) {
	api, c := newBotAPI(t)
	api.ok("setMessageReaction", "true")

	require.NoError(t, c.SetReaction(context.Background(), domain.Endpoint{Chat: 1, Message: 2}, "👍"))
	var reaction []map[string]any
	require.NoError(t, json.Unmarshal([]byte(api.lastForm("setMessageReaction")["reaction"]), &reaction))
	require.Len(t, reaction, 1)
	assert.Equal(t, "emoji", reaction[0]["type"])
	assert.Equal(t, "👍", reaction[0]["emoji"])

	require.NoError(t, c.SetReaction(context.Background(), domain.Endpoint{Chat: 1, Message: 2}, ""))
}

func TestCreateTopic(t *testing.T) {
	api, c := newBotAPI(t)
	api.ok("createForumTopic", `{"message_thread_id":321,"name":"Alice","icon_color":7322096}`)
	id, err := c.CreateTopic(context.Background(), -100, "Alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TopicID(321), id)
	assert.Equal(t, "Alice", api.lastForm("createForumTopic")["name"])
}

func TestCapabilities(t *testing.T) {
	api, c := newBotAPI(t)
	api.ok("getMe", `{"id":7,"is_bot":true,"first_name":"Relay","username":"relay_bot","can_read_all_group_messages":true}`)
	api.ok("getChat", `{"id":-100,"type":"supergroup","title":"ops","is_forum":true}`)
	api.ok("getChatMember", `{"status":"administrator","user":{"id":7,"is_bot":true,"first_name":"Relay"},`+
		`"can_manage_topics":true,"can_delete_messages":true}`)

	caps, err := c.Capabilities(context.Background(), -100)
	require.NoError(t, err)
	assert.Equal(t, int64(7), caps.BotID)
	assert.Equal(t, "relay_bot", caps.BotUsername)
	assert.True(t, caps.IsForum)
	assert.True(t, caps.IsAdmin)
	assert.True(t, caps.CanManageTopics)
	assert.False(t, caps.CanPinMessages)
	assert.NoError(t, caps.Check())
	assert.Equal(t, "7", api.lastForm("getChatMember")["user_id"])

	t.Run("plain member fails the check", func(t *testing.T) {
		api.ok("getChatMember", `{"status":"member","user":{"id":7,"is_bot":true,"first_name":"Relay"}}`)
		caps, err := c.Capabilities(context.Background(), -100)
		require.NoError(t, err)
		assert.ErrorIs(t, caps.Check(), transport.ErrForbidden)
		assert.Contains(t, caps.Missing(), "bot is not an administrator")
	})
}

func TestRunDispatchesUntilCancelled(t *testing.T) {
	api, c := newBotAPI(t, WithPollTimeout(time.Second))
	var served atomic.Bool
	api.on("getUpdates", func(w http.ResponseWriter, _ *http.Request) {
		if served.CompareAndSwap(false, true) {
			writeResult(w, `[`+
				`{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"hi"}},`+
				`{"update_id":2,"edited_message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"hi!"}},`+
				`{"update_id":3,"message":{"message_id":2,"date":0,"chat":{"id":42,"type":"private"},"text":"bye"}}]`)
			return
		}
		time.Sleep(10 * time.Millisecond)
		writeResult(w, `[]`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	var handled sync.Map
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, u *models.Update) { handled.Store(u.ID, u) })
	}()

	require.Eventually(t, func() bool {
		n := 0
		handled.Range(func(_, _ any) bool { n++; return true })
		return n == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	first, _ := handled.Load(int64(1))
	assert.Equal(t, "hi", Content(first.(*models.Update).Message))
	edited, _ := handled.Load(int64(2))
	assert.Equal(t, "hi!", edited.(*models.Update).EditedMessage.Text)
}
