package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dayuer/botrelay/internal/domain"
)

// DefaultAPIBase is the public Telegram Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// TelegramConfig tunes the Telegram transport.
type TelegramConfig struct {
	APIBase     string
	PollTimeout time.Duration
	SendRPS     float64
	SendBurst   int
	RetryDelay  time.Duration
}

// Telegram implements Transport over the Bot API using long polling.
type Telegram struct {
	token   string
	cfg     TelegramConfig
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	// username is set by Connect and scopes /command@name updates.
	username string
}

// NewTelegram creates a transport for the bot identified by token.
func NewTelegram(token string, cfg TelegramConfig, log zerolog.Logger) *Telegram {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	limit := rate.Inf
	if cfg.SendRPS > 0 {
		limit = rate.Limit(cfg.SendRPS)
	}
	return &Telegram{
		token:   token,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.PollTimeout + 30*time.Second},
		limiter: rate.NewLimiter(limit, cfg.SendBurst),
		log:     log,
	}
}

// Connect calls getMe and remembers the bot's username.
func (t *Telegram) Connect(ctx context.Context) (BotInfo, error) {
	var info BotInfo
	if err := t.apiCall(ctx, "getMe", nil, &info); err != nil {
		return BotInfo{}, err
	}
	t.username = info.Username
	return info, nil
}

// Poll long-polls getUpdates until ctx is cancelled. Fatal API errors end the
// loop; anything else is logged and retried after RetryDelay. Poll waits for
// in-flight handlers before returning.
func (t *Telegram) Poll(ctx context.Context, handler UpdateHandler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		var updates []tgUpdate
		err := t.apiCall(ctx, "getUpdates", map[string]any{
			"offset":  offset,
			"timeout": int(t.cfg.PollTimeout / time.Second),
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Fatal() {
				return err
			}
			t.log.Warn().Err(err).Msg("getUpdates failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(t.cfg.RetryDelay):
			}
			continue
		}

		for _, raw := range updates {
			offset = raw.UpdateID + 1
			u := raw.toUpdate(t.username)
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.dispatch(ctx, handler, u)
			}()
		}
	}
}

// dispatch is the per-update boundary: handler errors and panics stop here.
func (t *Telegram) dispatch(ctx context.Context, handler UpdateHandler, u Update) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Int64("update_id", u.ID).Interface("panic", r).Msg("update handler panicked")
		}
	}()
	if err := handler(ctx, u); err != nil {
		t.log.Error().Err(err).Int64("update_id", u.ID).Str("kind", string(u.Kind)).Msg("update handler failed")
	}
}

// SendText calls sendMessage.
func (t *Telegram) SendText(ctx context.Context, chatID, text string, replyTo int64) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if replyTo != 0 {
		params["reply_to_message_id"] = replyTo
	}
	return t.apiCall(ctx, "sendMessage", params, nil)
}

// CopyMessage calls copyMessage.
func (t *Telegram) CopyMessage(ctx context.Context, fromChatID string, messageID int64, toChatID string, caption *string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	params := map[string]any{
		"chat_id":      toChatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
	}
	if caption != nil {
		params["caption"] = *caption
	}
	return t.apiCall(ctx, "copyMessage", params, nil)
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

func (t *Telegram) apiCall(ctx context.Context, method string, params map[string]any, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", t.cfg.APIBase, t.token, method)
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The token is part of the URL; keep it out of logs.
		return fmt.Errorf("%s: %w", method, redact(err, t.token))
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: HTTP %d: invalid response: %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: env.Description}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}

// Bot API payloads. Only the fields the relay reads are declared.

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgUser struct {
	ID int64 `json:"id"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

type tgMessage struct {
	MessageID int64           `json:"message_id"`
	From      *tgUser         `json:"from"`
	Chat      tgChat          `json:"chat"`
	Text      string          `json:"text"`
	Caption   *string         `json:"caption"`
	Entities  []tgEntity      `json:"entities"`
	Photo     []any           `json:"photo"`
	Video     json.RawMessage `json:"video"`
	Document  json.RawMessage `json:"document"`
	Audio     json.RawMessage `json:"audio"`
	Voice     json.RawMessage `json:"voice"`
	Sticker   json.RawMessage `json:"sticker"`
	Animation json.RawMessage `json:"animation"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func (m *tgMessage) kind() domain.MessageKind {
	switch {
	case m.Text != "":
		return domain.KindText
	case len(m.Photo) > 0:
		return domain.KindPhoto
	case present(m.Video):
		return domain.KindVideo
	case present(m.Document):
		return domain.KindDocument
	case present(m.Audio):
		return domain.KindAudio
	case present(m.Voice):
		return domain.KindVoice
	case present(m.Sticker):
		return domain.KindSticker
	case present(m.Animation):
		return domain.KindAnimation
	}
	return domain.KindOther
}

func (m *tgMessage) hasMedia() bool {
	return len(m.Photo) > 0 || present(m.Video) || present(m.Document) || present(m.Audio) ||
		present(m.Voice) || present(m.Animation) || present(m.Sticker)
}

// command returns the bot command the message starts with, if any, and the
// bot it is addressed to (empty for a bare /command).
func (m *tgMessage) command() (cmd, target string, ok bool) {
	if len(m.Entities) == 0 || m.Entities[0].Type != "bot_command" || m.Entities[0].Offset != 0 {
		return "", "", false
	}
	// Entity offsets count UTF-16 units; a command is ASCII so bytes match.
	end := m.Entities[0].Length
	if end > len(m.Text) {
		end = len(m.Text)
	}
	cmd = strings.TrimPrefix(m.Text[:end], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd, target = cmd[:i], cmd[i+1:]
	}
	return cmd, target, true
}

// toUpdate converts a raw update. A command addressed to a bot other than
// username becomes UpdateOther; an empty username accepts any address.
func (u tgUpdate) toUpdate(username string) Update {
	if u.Message == nil {
		return Update{ID: u.UpdateID, Kind: UpdateOther}
	}
	m := u.Message
	in := &domain.InboundMessage{
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		MessageID:  m.MessageID,
		Text:       m.Text,
		Kind:       m.kind(),
		HasMedia:   m.hasMedia(),
		HasCaption: m.Caption != nil,
	}
	if m.From != nil {
		in.UserID = strconv.FormatInt(m.From.ID, 10)
	}
	if in.Text == "" && m.Caption != nil {
		in.Text = *m.Caption
	}
	if cmd, target, ok := m.command(); ok {
		if target != "" && username != "" && !strings.EqualFold(target, username) {
			return Update{ID: u.UpdateID, Kind: UpdateOther, Message: in}
		}
		return Update{ID: u.UpdateID, Kind: UpdateCommand, Message: in, Command: cmd}
	}
	return Update{ID: u.UpdateID, Kind: UpdateMessage, Message: in}
}
