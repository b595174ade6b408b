package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dayuer/botrelay/internal/action"
	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/rules"
)

// RuleSource reads a bot's enabled rules, highest id first.
type RuleSource interface {
	ListEnabledRules(ctx context.Context, botID int64) ([]domain.Rule, error)
}

// AuditLog appends audit entries.
type AuditLog interface {
	AppendLog(ctx context.Context, e domain.AuditLogEntry) error
}

// Executor runs the action of a matched rule.
type Executor interface {
	Execute(ctx context.Context, s action.Sender, msg domain.InboundMessage, m domain.MatchResult) (action.Outcome, error)
}

// Dispatcher routes one bot's inbound messages through its rules.
type Dispatcher struct {
	botID int64
	rules RuleSource
	exec  Executor
	audit AuditLog
	log   zerolog.Logger
}

// NewDispatcher creates a dispatcher for botID.
func NewDispatcher(botID int64, src RuleSource, exec Executor, audit AuditLog, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{botID: botID, rules: src, exec: exec, audit: audit, log: log}
}

// Dispatch matches msg against the bot's current rules and runs the first
// matching action. When an action declines the message, matching resumes
// with the rules after it. A terminal outcome writes exactly one audit entry.
func (d *Dispatcher) Dispatch(ctx context.Context, s action.Sender, msg domain.InboundMessage) error {
	ctx, span := otel.Tracer("botrelay/session").Start(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("bot.id", d.botID),
		attribute.String("message.kind", string(msg.Kind)),
	)

	err := d.dispatch(ctx, s, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, s action.Sender, msg domain.InboundMessage) error {
	candidates, err := d.rules.ListEnabledRules(ctx, d.botID)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	for {
		m, ok := rules.Match(msg, candidates)
		if !ok {
			return nil
		}

		out, err := d.exec.Execute(ctx, s, msg, m)
		if err != nil {
			return fmt.Errorf("rule %d (%s): %w", m.Rule.ID, m.Rule.Action, err)
		}
		if out.Result == action.ContinueMatching {
			candidates = candidates[m.Index+1:]
			continue
		}

		ev := d.log.Info()
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ev = ev.Str("trace_id", sc.TraceID().String())
		}
		ev.Int64("rule_id", m.Rule.ID).
			Str("action", string(m.Rule.Action)).
			Str("keyword", m.MatchedKeyword()).
			Str("result", out.Result.String()).
			Msg("rule fired")

		ruleID := m.Rule.ID
		if err := d.audit.AppendLog(ctx, domain.AuditLogEntry{
			BotID:  d.botID,
			RuleID: &ruleID,
			Kind:   msg.Kind,
			Text:   out.Text,
		}); err != nil {
			return fmt.Errorf("audit rule %d: %w", ruleID, err)
		}
		return nil
	}
}
