// Package session runs one bot's connection: it records heartbeats for every
// update and routes chat messages through the bot's rules.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dayuer/botrelay/internal/channels"
	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/metrics"
)

// Heartbeater records bot liveness.
type Heartbeater interface {
	UpsertHeartbeat(ctx context.Context, botID int64, at time.Time) error
}

// Session is a live connection for one bot credential.
type Session struct {
	bot        domain.BotCredential
	transport  channels.Transport
	dispatcher *Dispatcher
	heartbeat  Heartbeater
	log        zerolog.Logger
	now        func() time.Time
}

// New creates a session. The dispatcher must belong to the same bot.
func New(bot domain.BotCredential, t channels.Transport, d *Dispatcher, hb Heartbeater, log zerolog.Logger) *Session {
	return &Session{
		bot:        bot,
		transport:  t,
		dispatcher: d,
		heartbeat:  hb,
		log:        log,
		now:        time.Now,
	}
}

// Run connects, records a heartbeat and then polls until ctx is cancelled or
// the transport gives up.
func (s *Session) Run(ctx context.Context) error {
	info, err := s.transport.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect bot %d: %w", s.bot.ID, err)
	}
	s.beat(ctx)
	s.log.Info().Str("username", info.Username).Msg("bot connected")

	if err := s.transport.Poll(ctx, s.handle); err != nil {
		return fmt.Errorf("poll bot %d: %w", s.bot.ID, err)
	}
	return nil
}

func (s *Session) handle(ctx context.Context, u channels.Update) error {
	metrics.Updates.WithLabelValues(string(u.Kind)).Inc()
	s.beat(ctx)

	switch u.Kind {
	case channels.UpdateCommand:
		if u.Command == "start" && u.Message != nil {
			text := fmt.Sprintf("✅ %s 已启动（bot_id=%d）", s.bot.Name, s.bot.ID)
			return s.transport.SendText(ctx, u.Message.ChatID, text, u.Message.MessageID)
		}
	case channels.UpdateMessage:
		if u.Message != nil {
			return s.dispatcher.Dispatch(ctx, s.transport, *u.Message)
		}
	}
	return nil
}

func (s *Session) beat(ctx context.Context) {
	if err := s.heartbeat.UpsertHeartbeat(ctx, s.bot.ID, s.now()); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat write failed")
	}
}
