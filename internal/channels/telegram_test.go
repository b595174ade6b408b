package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/botrelay/internal/domain"
)

const testToken = "123:ABC"

// fakeBotAPI serves a scripted Bot API. Each getUpdates call pops the next
// batch; once batches run out it blocks until the request is cancelled.
type fakeBotAPI struct {
	mu       sync.Mutex
	batches  []string
	requests []apiRequest
	failWith map[string]string
}

type apiRequest struct {
	Method string
	Params map[string]any
}

func (f *fakeBotAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)
		params := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&params)

		f.mu.Lock()
		f.requests = append(f.requests, apiRequest{Method: method, Params: params})
		failure, failing := f.failWith[method]
		var batch string
		if method == "getUpdates" && len(f.batches) > 0 {
			batch, f.batches = f.batches[0], f.batches[1:]
		}
		f.mu.Unlock()

		if failing {
			_, _ = w.Write([]byte(failure))
			return
		}
		switch method {
		case "getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"username":"relay_bot","first_name":"Relay"}}`))
		case "getUpdates":
			if batch == "" {
				<-r.Context().Done()
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":` + batch + `}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
		}
	})
}

func (f *fakeBotAPI) sent(method string) []apiRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiRequest
	for _, r := range f.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func newTestTelegram(t *testing.T, api *fakeBotAPI) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewTelegram(testToken, TelegramConfig{
		APIBase:     srv.URL,
		PollTimeout: time.Second,
		RetryDelay:  10 * time.Millisecond,
	}, zerolog.Nop())
}

func TestTelegram_Connect(t *testing.T) {
	tg := newTestTelegram(t, &fakeBotAPI{})
	info, err := tg.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BotInfo{ID: 42, Username: "relay_bot", FirstName: "Relay"}, info)
}

func TestTelegram_ConnectRejectedToken(t *testing.T) {
	api := &fakeBotAPI{failWith: map[string]string{"getMe": `{"ok":false,"error_code":401,"description":"Unauthorized"}`}}
	_, err := newTestTelegram(t, api).Connect(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Fatal())
}

func TestTelegram_SendText(t *testing.T) {
	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)

	require.NoError(t, tg.SendText(context.Background(), "-100222", "hello", 0))
	require.NoError(t, tg.SendText(context.Background(), "-100111", "reply", 7))

	reqs := api.sent("sendMessage")
	require.Len(t, reqs, 2)
	assert.Equal(t, map[string]any{"chat_id": "-100222", "text": "hello"}, reqs[0].Params)
	assert.Equal(t, float64(7), reqs[1].Params["reply_to_message_id"])
}

func TestTelegram_CopyMessage(t *testing.T) {
	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)
	caption := "new caption"

	require.NoError(t, tg.CopyMessage(context.Background(), "-1", 9, "-2", &caption))
	require.NoError(t, tg.CopyMessage(context.Background(), "-1", 10, "-2", nil))

	reqs := api.sent("copyMessage")
	require.Len(t, reqs, 2)
	assert.Equal(t, "-2", reqs[0].Params["chat_id"])
	assert.Equal(t, "-1", reqs[0].Params["from_chat_id"])
	assert.Equal(t, float64(9), reqs[0].Params["message_id"])
	assert.Equal(t, "new caption", reqs[0].Params["caption"])
	assert.NotContains(t, reqs[1].Params, "caption")
}

func TestTelegram_SendRejected(t *testing.T) {
	api := &fakeBotAPI{failWith: map[string]string{"copyMessage": `{"ok":false,"error_code":400,"description":"Bad Request: message can't be copied"}`}}
	err := newTestTelegram(t, api).CopyMessage(context.Background(), "-1", 1, "-2", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.False(t, apiErr.Fatal())
}

func TestTelegram_PollParsesUpdates(t *testing.T) {
	api := &fakeBotAPI{batches: []string{`[
		{"update_id": 10, "message": {"message_id": 1, "from": {"id": 111}, "chat": {"id": -100111}, "text": "hello"}},
		{"update_id": 11, "message": {"message_id": 2, "from": {"id": 111}, "chat": {"id": -100111}, "caption": "pic", "photo": [{"file_id": "x"}]}},
		{"update_id": 12, "message": {"message_id": 3, "from": {"id": 111}, "chat": {"id": -100111}, "sticker": {"file_id": "s"}}},
		{"update_id": 13, "message": {"message_id": 4, "from": {"id": 111}, "chat": {"id": -100111}, "text": "/start@relay_bot now",
			"entities": [{"type": "bot_command", "offset": 0, "length": 16}]}},
		{"update_id": 14, "edited_message": {"message_id": 1}}
	]`}}
	tg := newTestTelegram(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	got := map[int64]Update{}
	done := make(chan error, 1)
	go func() {
		done <- tg.Poll(ctx, func(_ context.Context, u Update) error {
			mu.Lock()
			defer mu.Unlock()
			got[u.ID] = u
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, UpdateMessage, got[10].Kind)
	assert.Equal(t, &domain.InboundMessage{ChatID: "-100111", UserID: "111", MessageID: 1, Text: "hello", Kind: domain.KindText}, got[10].Message)

	photo := got[11].Message
	require.NotNil(t, photo)
	assert.Equal(t, "pic", photo.Text)
	assert.Equal(t, domain.KindPhoto, photo.Kind)
	assert.True(t, photo.HasMedia)
	assert.True(t, photo.HasCaption)

	sticker := got[12].Message
	require.NotNil(t, sticker)
	assert.Empty(t, sticker.Text)
	assert.Equal(t, domain.KindSticker, sticker.Kind)
	assert.True(t, sticker.HasMedia)
	assert.False(t, sticker.HasCaption)

	assert.Equal(t, UpdateCommand, got[13].Kind)
	assert.Equal(t, "start", got[13].Command)

	assert.Equal(t, UpdateOther, got[14].Kind)
	assert.Nil(t, got[14].Message)

	polls := api.sent("getUpdates")
	require.GreaterOrEqual(t, len(polls), 2)
	assert.Equal(t, float64(15), polls[1].Params["offset"])
}

func TestTelegram_CommandForOtherBotIgnored(t *testing.T) {
	api := &fakeBotAPI{batches: []string{`[
		{"update_id": 1, "message": {"message_id": 1, "chat": {"id": -1}, "text": "/start@other_bot",
			"entities": [{"type": "bot_command", "offset": 0, "length": 16}]}},
		{"update_id": 2, "message": {"message_id": 2, "chat": {"id": -1}, "text": "/start@Relay_Bot",
			"entities": [{"type": "bot_command", "offset": 0, "length": 16}]}},
		{"update_id": 3, "message": {"message_id": 3, "chat": {"id": -1}, "text": "/start",
			"entities": [{"type": "bot_command", "offset": 0, "length": 6}]}}
	]`}}
	tg := newTestTelegram(t, api)
	_, err := tg.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	got := map[int64]Update{}
	done := make(chan error, 1)
	go func() {
		done <- tg.Poll(ctx, func(_ context.Context, u Update) error {
			mu.Lock()
			defer mu.Unlock()
			got[u.ID] = u
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, UpdateOther, got[1].Kind)
	assert.Empty(t, got[1].Command)
	assert.Equal(t, UpdateCommand, got[2].Kind)
	assert.Equal(t, "start", got[2].Command)
	assert.Equal(t, UpdateCommand, got[3].Kind)
	assert.Equal(t, "start", got[3].Command)
}

func TestTelegram_PollHandlerPanicIsContained(t *testing.T) {
	api := &fakeBotAPI{batches: []string{
		`[{"update_id": 1, "message": {"message_id": 1, "chat": {"id": 1}, "text": "a"}}]`,
		`[{"update_id": 2, "message": {"message_id": 2, "chat": {"id": 1}, "text": "b"}}]`,
	}}
	tg := newTestTelegram(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := make(chan int64, 2)
	go func() {
		_ = tg.Poll(ctx, func(_ context.Context, u Update) error {
			seen <- u.ID
			if u.ID == 1 {
				panic("boom")
			}
			return errors.New("handler error")
		})
	}()

	ids := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-seen:
			ids[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for updates")
		}
	}
	assert.Equal(t, map[int64]bool{1: true, 2: true}, ids)
}

func TestTelegram_PollStopsOnFatalError(t *testing.T) {
	api := &fakeBotAPI{failWith: map[string]string{"getUpdates": `{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`}}
	err := newTestTelegram(t, api).Poll(context.Background(), func(context.Context, Update) error { return nil })
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Code)
}

func TestTelegram_PollRetriesTransientError(t *testing.T) {
	api := &fakeBotAPI{failWith: map[string]string{"getUpdates": `{"ok":false,"error_code":502,"description":"Bad Gateway"}`}}
	tg := newTestTelegram(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Poll(ctx, func(context.Context, Update) error { return nil }) }()

	require.Eventually(t, func() bool { return len(api.sent("getUpdates")) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestTelegram_TokenRedactedFromTransportErrors(t *testing.T) {
	tg := NewTelegram(testToken, TelegramConfig{APIBase: "http://127.0.0.1:1"}, zerolog.Nop())
	err := tg.SendText(context.Background(), "-1", "x", 0)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
}
