// Package action runs the action of a matched routing rule.
package action

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/lookup"
	"github.com/dayuer/botrelay/internal/metrics"
)

const (
	DefaultReplyText       = "✅ 已收到"
	DefaultLookupRegex     = `商户订单号[:：]\s*([A-Za-z0-9_-]+)`
	DefaultReplaceTemplate = "支付订单号：{{pay}}"

	missingURLSuffix = "\n\n⚠️ 规则未配置 lookup_url（查询接口URL）"
)

// ErrBadRegex marks a lookup rule whose pattern does not compile or has no
// capture group.
var ErrBadRegex = errors.New("invalid lookup regex")

// Result tells the dispatch loop what to do after an action.
type Result int

const (
	// Terminate: the message was delivered and no further rules apply.
	Terminate Result = iota
	// ContinueMatching: the action declined the message; try the next rule.
	ContinueMatching
	// TerminateWithError: a degraded message carrying a warning was delivered.
	TerminateWithError
)

func (r Result) String() string {
	switch r {
	case Terminate:
		return "terminate"
	case ContinueMatching:
		return "continue"
	case TerminateWithError:
		return "terminate_with_error"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Outcome is the result of one action. Text is what should be written to the
// audit log on terminal results.
type Outcome struct {
	Result Result
	Text   string
}

// Lookuper resolves merchant order numbers.
type Lookuper interface {
	Lookup(ctx context.Context, mchOrderNo, baseURL string) lookup.Result
}

// Executor runs rule actions.
type Executor struct {
	lookup Lookuper
	log    zerolog.Logger
}

// NewExecutor creates an executor using lk for lookup_replace rules.
func NewExecutor(lk Lookuper, log zerolog.Logger) *Executor {
	return &Executor{lookup: lk, log: log}
}

// Execute runs m.Rule's action for msg. A returned error means the outbound
// message could not be sent at all, or the rule is misconfigured.
func (e *Executor) Execute(ctx context.Context, s Sender, msg domain.InboundMessage, m domain.MatchResult) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch m.Rule.Action {
	case domain.ActionAutoReply:
		out, err = e.autoReply(ctx, s, msg, m)
	case domain.ActionEditSend:
		out, err = e.editSend(ctx, s, msg, m.Rule)
	case domain.ActionLookupReplace:
		out, err = e.lookupReplace(ctx, s, msg, m.Rule)
	default:
		e.log.Warn().Int64("rule_id", m.Rule.ID).Str("action", string(m.Rule.Action)).Msg("unknown action, skipping rule")
		out = Outcome{Result: ContinueMatching}
	}

	result := out.Result.String()
	if err != nil {
		result = "failed"
	}
	metrics.Actions.WithLabelValues(actionLabel(m.Rule.Action), result).Inc()
	return out, err
}

func (e *Executor) autoReply(ctx context.Context, s Sender, msg domain.InboundMessage, m domain.MatchResult) (Outcome, error) {
	reply := strings.TrimSpace(m.Rule.ReplyText)
	if reply == "" {
		reply = DefaultReplyText
	}

	if err := s.SendText(ctx, msg.ChatID, reply, msg.MessageID); err != nil {
		e.log.Warn().Err(err).Str("chat_id", msg.ChatID).Msg("threaded reply failed, sending plain")
		if err := s.SendText(ctx, msg.ChatID, reply, 0); err != nil {
			return Outcome{}, fmt.Errorf("auto reply to %s: %w", msg.ChatID, err)
		}
	}

	text := fmt.Sprintf("[自动回复] 用户:%s kw:%s\n%s", msg.UserID, m.MatchedKeyword(), reply)
	return Outcome{Result: Terminate, Text: text}, nil
}

func (e *Executor) editSend(ctx context.Context, s Sender, msg domain.InboundMessage, r domain.Rule) (Outcome, error) {
	text := Merge(msg.Text, r.AppendText)
	if err := e.deliver(ctx, s, msg, r.TargetChatID, text); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: Terminate, Text: text}, nil
}

func (e *Executor) lookupReplace(ctx context.Context, s Sender, msg domain.InboundMessage, r domain.Rule) (Outcome, error) {
	baseURL := strings.TrimSpace(r.LookupURL)
	if baseURL == "" {
		text := msg.Text + missingURLSuffix
		if err := e.deliver(ctx, s, msg, r.TargetChatID, text); err != nil {
			return Outcome{}, err
		}
		return Outcome{Result: TerminateWithError, Text: text}, nil
	}

	re, err := compileLookupRegex(r.LookupRegex)
	if err != nil {
		return Outcome{}, fmt.Errorf("rule %d: %w", r.ID, err)
	}
	loc := re.FindStringSubmatchIndex(msg.Text)
	if loc == nil || loc[2] < 0 {
		return Outcome{Result: ContinueMatching}, nil
	}
	orderNo := msg.Text[loc[2]:loc[3]]

	res := e.lookup.Lookup(ctx, orderNo, baseURL)
	if !res.Found() {
		e.log.Warn().Int64("rule_id", r.ID).Str("mch_order_no", orderNo).Str("diagnostic", res.Diagnostic).Msg("pay order lookup failed")
		text := fmt.Sprintf("%s\n\n⚠️ 未查询到支付订单号（商户订单号：%s）\n调试：%s", msg.Text, orderNo, res.Diagnostic)
		if err := e.deliver(ctx, s, msg, r.TargetChatID, text); err != nil {
			return Outcome{}, err
		}
		return Outcome{Result: TerminateWithError, Text: text}, nil
	}

	tpl := r.ReplaceTemplate
	if tpl == "" {
		tpl = DefaultReplaceTemplate
	}
	replacement := ApplyTemplate(strings.TrimSpace(tpl), res.PayOrderID)
	text := msg.Text[:loc[0]] + replacement + msg.Text[loc[1]:]

	if err := e.deliver(ctx, s, msg, r.TargetChatID, text); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: Terminate, Text: text}, nil
}

func (e *Executor) deliver(ctx context.Context, s Sender, msg domain.InboundMessage, chatID, text string) error {
	if err := Deliver(ctx, s, msg, chatID, text, e.log); err != nil {
		return fmt.Errorf("deliver to %s: %w", chatID, err)
	}
	return nil
}

func compileLookupRegex(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultLookupRegex
	}
	re, err := regexp.Compile(widenWhitespace(pattern))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRegex, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("%w: %q has no capture group", ErrBadRegex, pattern)
	}
	return re, nil
}

// widenWhitespace makes \s also match Unicode spaces such as U+3000 and
// U+00A0, which RE2 leaves out of \s. Escapes and POSIX classes are copied
// as-is.
func widenWhitespace(pattern string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			i++
			if pattern[i] == 's' {
				if inClass {
					b.WriteString(`\s\p{Z}`)
				} else {
					b.WriteString(`[\s\p{Z}]`)
				}
				continue
			}
			b.WriteByte(c)
			b.WriteByte(pattern[i])
			continue
		case c == '[' && !inClass:
			inClass = true
			b.WriteByte(c)
			// A leading ] (after an optional ^) is a literal member.
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				i++
				b.WriteByte('^')
			}
			if i+1 < len(pattern) && pattern[i+1] == ']' {
				i++
				b.WriteByte(']')
			}
			continue
		case c == '[' && inClass && strings.HasPrefix(pattern[i:], "[:"):
			if end := strings.Index(pattern[i+2:], ":]"); end >= 0 {
				n := i + 2 + end + 2
				b.WriteString(pattern[i:n])
				i = n - 1
				continue
			}
		case c == ']' && inClass:
			inClass = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// actionLabel keeps metric label values bounded.
func actionLabel(k domain.ActionKind) string {
	if k.Known() {
		return string(k)
	}
	return "unknown"
}
