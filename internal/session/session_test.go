package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/botrelay/internal/action"
	"github.com/dayuer/botrelay/internal/channels"
	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/lookup"
)

// memStore serves rules and records heartbeats and audit entries.
type memStore struct {
	mu         sync.Mutex
	rules      []domain.Rule
	ruleReads  int
	heartbeats []int64
	logs       []domain.AuditLogEntry
	hbErr      error
}

func (s *memStore) ListEnabledRules(_ context.Context, botID int64) ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ruleReads++
	var out []domain.Rule
	for _, r := range s.rules {
		if r.BotID == botID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) AppendLog(_ context.Context, e domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
	return nil
}

func (s *memStore) UpsertHeartbeat(_ context.Context, botID int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, botID)
	return s.hbErr
}

type sentText struct {
	chatID  string
	text    string
	replyTo int64
}

// scriptedTransport replays updates synchronously from Poll.
type scriptedTransport struct {
	updates    []channels.Update
	connectErr error
	pollErr    error
	sent       []sentText
	handlerErr []error
}

func (t *scriptedTransport) Connect(context.Context) (channels.BotInfo, error) {
	if t.connectErr != nil {
		return channels.BotInfo{}, t.connectErr
	}
	return channels.BotInfo{ID: 1, Username: "relay_bot"}, nil
}

func (t *scriptedTransport) Poll(ctx context.Context, h channels.UpdateHandler) error {
	for _, u := range t.updates {
		t.handlerErr = append(t.handlerErr, h(ctx, u))
	}
	return t.pollErr
}

func (t *scriptedTransport) SendText(_ context.Context, chatID, text string, replyTo int64) error {
	t.sent = append(t.sent, sentText{chatID, text, replyTo})
	return nil
}

func (t *scriptedTransport) CopyMessage(context.Context, string, int64, string, *string) error {
	return nil
}

type stubLookup struct{ res lookup.Result }

func (s stubLookup) Lookup(context.Context, string, string) lookup.Result { return s.res }

var bot = domain.BotCredential{ID: 5, Name: "Relay", Token: "t", Enabled: true}

func newSession(st *memStore, tr *scriptedTransport, lk action.Lookuper) *Session {
	exec := action.NewExecutor(lk, zerolog.Nop())
	d := NewDispatcher(bot.ID, st, exec, st, zerolog.Nop())
	return New(bot, tr, d, st, zerolog.Nop())
}

func message(id int64, text string) channels.Update {
	return channels.Update{ID: id, Kind: channels.UpdateMessage, Message: &domain.InboundMessage{
		ChatID: "-100111", UserID: "111", MessageID: id, Text: text, Kind: domain.KindText,
	}}
}

func editSendRule(id int64) domain.Rule {
	return domain.Rule{
		ID: id, BotID: bot.ID, Action: domain.ActionEditSend, SourceChatID: "-100111", TargetChatID: "-100222",
		AllowedUserIDs: domain.ParseUserIDs("111,222", ""), Keywords: domain.ParseKeywords("*"), AppendText: "Processed",
	}
}

func TestSession_ScenarioA_EditSend(t *testing.T) {
	st := &memStore{rules: []domain.Rule{editSendRule(1)}}
	tr := &scriptedTransport{updates: []channels.Update{message(10, "Hello")}}

	require.NoError(t, newSession(st, tr, nil).Run(context.Background()))

	assert.Equal(t, []sentText{{"-100222", "Hello\n\nProcessed", 0}}, tr.sent)
	require.Len(t, st.logs, 1)
	assert.Equal(t, "Hello\n\nProcessed", st.logs[0].Text)
	assert.Equal(t, int64(1), *st.logs[0].RuleID)
	assert.Equal(t, domain.KindText, st.logs[0].Kind)
}

func TestSession_ScenarioC_AutoReplyTerminates(t *testing.T) {
	st := &memStore{rules: []domain.Rule{
		{ID: 9, BotID: bot.ID, Action: domain.ActionAutoReply, SourceChatID: "-100111",
			Keywords: domain.ParseKeywords("帮助"), ReplyText: "收到，请稍等"},
		editSendRule(3),
	}}
	tr := &scriptedTransport{updates: []channels.Update{message(10, "帮助")}}

	require.NoError(t, newSession(st, tr, nil).Run(context.Background()))

	assert.Equal(t, []sentText{{"-100111", "收到，请稍等", 10}}, tr.sent)
	require.Len(t, st.logs, 1)
	assert.Equal(t, int64(9), *st.logs[0].RuleID)
}

func TestSession_LookupMissFallsThrough(t *testing.T) {
	st := &memStore{rules: []domain.Rule{
		{ID: 9, BotID: bot.ID, Action: domain.ActionLookupReplace, SourceChatID: "-100111", TargetChatID: "-100333",
			Keywords: domain.ParseKeywords("*"), LookupURL: "http://lookup.invalid/q"},
		editSendRule(3),
	}}
	tr := &scriptedTransport{updates: []channels.Update{message(10, "no order number")}}

	require.NoError(t, newSession(st, tr, stubLookup{}).Run(context.Background()))

	assert.Equal(t, []sentText{{"-100222", "no order number\n\nProcessed", 0}}, tr.sent)
	require.Len(t, st.logs, 1)
	assert.Equal(t, int64(3), *st.logs[0].RuleID)
}

func TestSession_LookupReplace_ScenarioB(t *testing.T) {
	st := &memStore{rules: []domain.Rule{
		{ID: 9, BotID: bot.ID, Action: domain.ActionLookupReplace, SourceChatID: "-100111", TargetChatID: "-100333",
			Keywords: domain.ParseKeywords("*"), LookupURL: "http://lookup.invalid/q",
			LookupRegex: `商户订单号[:：]\s*([A-Za-z0-9_-]+)`, ReplaceTemplate: "支付订单号：{{pay}}"},
	}}
	tr := &scriptedTransport{updates: []channels.Update{message(10, "商户订单号:ABC123 请查收")}}

	require.NoError(t, newSession(st, tr, stubLookup{lookup.Result{PayOrderID: "PAY999"}}).Run(context.Background()))

	assert.Equal(t, []sentText{{"-100333", "支付订单号：PAY999 请查收", 0}}, tr.sent)
	require.Len(t, st.logs, 1)
}

func TestSession_NoMatchWritesNothing(t *testing.T) {
	st := &memStore{rules: []domain.Rule{editSendRule(1)}}
	up := message(10, "hi")
	up.Message.ChatID = "-100999"
	tr := &scriptedTransport{updates: []channels.Update{up}}

	require.NoError(t, newSession(st, tr, nil).Run(context.Background()))
	assert.Empty(t, tr.sent)
	assert.Empty(t, st.logs)
}

func TestSession_HeartbeatOnConnectAndEveryUpdate(t *testing.T) {
	st := &memStore{}
	tr := &scriptedTransport{updates: []channels.Update{
		message(1, "a"),
		{ID: 2, Kind: channels.UpdateOther},
		message(3, "b"),
	}}

	require.NoError(t, newSession(st, tr, nil).Run(context.Background()))
	assert.Equal(t, []int64{5, 5, 5, 5}, st.heartbeats)
	assert.Equal(t, 2, st.ruleReads)
}

func TestSession_HeartbeatFailureDoesNotStopDispatch(t *testing.T) {
	st := &memStore{rules: []domain.Rule{editSendRule(1)}, hbErr: errors.New("database is locked")}
	tr := &scriptedTransport{updates: []channels.Update{message(1, "a")}}

	require.NoError(t, newSession(st, tr, nil).Run(context.Background()))
	assert.Len(t, tr.sent, 1)
}

func TestSession_StartCommandReplies(t *testing.T) {
	st := &memStore{rules: []domain.Rule{editSendRule(1)}}
	start := message(7, "/start")
	start.Kind = channels.UpdateCommand
	start.Command = "start"
	other := message(8, "/help")
	other.Kind = channels.UpdateCommand
	other.Command = "help"
	tr := &scriptedTransport{updates: []channels.Update{start, other}}

	require.NoError(t, newSession(st, tr, nil).Run(context.Background()))

	assert.Equal(t, []sentText{{"-100111", "✅ Relay 已启动（bot_id=5）", 7}}, tr.sent)
	assert.Empty(t, st.logs)
	assert.Zero(t, st.ruleReads)
}

func TestSession_ActionErrorReachesTransportBoundary(t *testing.T) {
	st := &memStore{rules: []domain.Rule{
		{ID: 9, BotID: bot.ID, Action: domain.ActionLookupReplace, SourceChatID: "-100111",
			Keywords: domain.ParseKeywords("*"), LookupURL: "http://x", LookupRegex: "(["},
	}}
	tr := &scriptedTransport{updates: []channels.Update{message(1, "a")}}

	require.NoError(t, newSession(st, tr, stubLookup{}).Run(context.Background()))
	require.Len(t, tr.handlerErr, 1)
	assert.ErrorIs(t, tr.handlerErr[0], action.ErrBadRegex)
	assert.Empty(t, st.logs)
}

func TestSession_ConnectFailure(t *testing.T) {
	st := &memStore{}
	tr := &scriptedTransport{connectErr: &channels.APIError{Method: "getMe", Code: 401, Description: "Unauthorized"}}

	err := newSession(st, tr, nil).Run(context.Background())
	var apiErr *channels.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Empty(t, st.heartbeats)
}

func TestSession_PollErrorReturned(t *testing.T) {
	tr := &scriptedTransport{pollErr: errors.New("conflict")}
	err := newSession(&memStore{}, tr, nil).Run(context.Background())
	assert.ErrorContains(t, err, "conflict")
}
