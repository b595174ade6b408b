// Package supervisor keeps exactly one running session per enabled bot.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/metrics"
)

// DefaultInterval is the reconciliation period.
const DefaultInterval = 5 * time.Second

// BotSource lists the bots that should be running.
type BotSource interface {
	ListEnabledBots(ctx context.Context) ([]domain.BotCredential, error)
}

// Runner is a bot session. Run blocks until ctx is cancelled or the session
// fails.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds a session for bot.
type Factory func(bot domain.BotCredential) Runner

// SessionInfo describes one supervised session.
type SessionInfo struct {
	BotID     int64     `json:"bot_id"`
	Name      string    `json:"name"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
	LastError string    `json:"last_error,omitempty"`
}

type handle struct {
	bot     domain.BotCredential
	runID   string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	err     error // valid once done is closed
}

func (h *handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor reconciles running sessions against the enabled-bot list.
type Supervisor struct {
	src      BotSource
	factory  Factory
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	handles map[int64]*handle
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithInterval overrides the reconciliation period.
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New creates a supervisor.
func New(src BotSource, factory Factory, log zerolog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		src:      src,
		factory:  factory,
		interval: DefaultInterval,
		log:      log,
		handles:  make(map[int64]*handle),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run reconciles immediately and then every interval until ctx is cancelled.
// All sessions are stopped before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.Stop()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Reconcile(ctx); err != nil {
			s.log.Error().Err(err).Msg("reconcile failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile runs one pass: start sessions for enabled bots that have none or
// whose session has exited, and cancel sessions of bots no longer enabled.
// Sessions are children of ctx.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	bots, err := s.src.ListEnabledBots(ctx)
	if err != nil {
		return fmt.Errorf("list enabled bots: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := make(map[int64]struct{}, len(bots))
	for _, b := range bots {
		enabled[b.ID] = struct{}{}

		prev, exists := s.handles[b.ID]
		if exists && !prev.finished() {
			continue
		}
		b.Token = strings.TrimSpace(b.Token)
		b.Name = strings.TrimSpace(b.Name)
		if b.Token == "" {
			s.log.Warn().Int64("bot_id", b.ID).Msg("bot token is empty, skipping")
			continue
		}

		reason := "start"
		if exists {
			reason = "restart"
			s.log.Warn().Int64("bot_id", b.ID).Err(prev.err).Msg("session exited, restarting")
		}
		s.handles[b.ID] = s.launch(ctx, b)
		metrics.SessionStarts.WithLabelValues(reason).Inc()
	}

	for id, h := range s.handles {
		if _, ok := enabled[id]; ok {
			continue
		}
		h.cancel()
		delete(s.handles, id)
		s.log.Info().Int64("bot_id", id).Msg("bot disabled, session stopped")
	}
	return nil
}

func (s *Supervisor) launch(parent context.Context, bot domain.BotCredential) *handle {
	ctx, cancel := context.WithCancel(parent)
	h := &handle{
		bot:     bot,
		runID:   uuid.NewString(),
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	log := s.log.With().Int64("bot_id", bot.ID).Str("run_id", h.runID).Logger()
	log.Info().Str("name", bot.Name).Msg("starting bot session")

	metrics.SessionsRunning.Inc()
	go func() {
		defer close(h.done)
		defer metrics.SessionsRunning.Dec()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("session panic: %v", r)
				log.Error().Interface("panic", r).Msg("bot session panicked")
			}
		}()

		h.err = s.factory(bot).Run(ctx)
		if h.err != nil && ctx.Err() == nil {
			log.Error().Err(h.err).Msg("bot session failed")
		}
	}()
	return h
}

// Snapshot returns the supervised sessions ordered by bot id.
func (s *Supervisor) Snapshot() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SessionInfo, 0, len(s.handles))
	for _, h := range s.handles {
		info := SessionInfo{
			BotID:     h.bot.ID,
			Name:      h.bot.Name,
			RunID:     h.runID,
			StartedAt: h.started,
			Running:   !h.finished(),
		}
		if !info.Running && h.err != nil {
			info.LastError = h.err.Error()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out
}

// Stop cancels every session and waits for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.handles))
	for id, h := range s.handles {
		h.cancel()
		handles = append(handles, h)
		delete(s.handles, id)
	}
	s.mu.Unlock()

	for _, h := range handles {
		<-h.done
	}
}
