package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dayuer/botrelay/internal/action"
	"github.com/dayuer/botrelay/internal/channels"
	"github.com/dayuer/botrelay/internal/config"
	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/lookup"
	"github.com/dayuer/botrelay/internal/observability"
	"github.com/dayuer/botrelay/internal/redis"
	"github.com/dayuer/botrelay/internal/server"
	"github.com/dayuer/botrelay/internal/session"
	"github.com/dayuer/botrelay/internal/store"
	"github.com/dayuer/botrelay/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"start"},
	Short:   "Run the relay in the foreground",
	Long: `Start the supervisor. Every enabled bot in the database gets its own
Telegram session; the bot list is re-read every five seconds so bots added
in the admin panel come online without a restart.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := acquirePID(cfg.DataDir); err != nil {
		return err
	}
	defer removePID(cfg.DataDir)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOTel(sctx)
		}()
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var hb session.Heartbeater = st
	if redis.Init(redis.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB}) {
		defer redis.Close()
		hb = redis.MirrorHeartbeats(st, cfg.Redis.HeartbeatTTL)
	}

	lk := lookup.NewClient(cfg.Lookup.SecretKey,
		lookup.WithLogger(logger.With().Str("component", "lookup").Logger()))
	exec := action.NewExecutor(lk, logger.With().Str("component", "action").Logger())

	sup := supervisor.New(st, sessionFactory(cfg.Telegram, st, exec, hb, logger),
		logger.With().Str("component", "supervisor").Logger())

	if cfg.Status.Addr != "" {
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		slog := logger.With().Str("component", "status").Logger()
		router := server.NewRouter(sup, st, cfg.OTEL.ServiceName, slog)
		go func() {
			if err := server.Serve(ctx, cfg.Status.Addr, router, slog); err != nil {
				slog.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	logger.Info().
		Str("version", Version).
		Str("db", cfg.DatabasePath()).
		Int("pid", os.Getpid()).
		Bool("redis", redis.IsAvailable()).
		Msg("relay started")

	err = sup.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info().Msg("relay stopped")
	return err
}

// sessionFactory builds one Telegram session per bot credential.
func sessionFactory(tc config.TelegramConfig, st *store.Store, exec *action.Executor, hb session.Heartbeater, logger zerolog.Logger) supervisor.Factory {
	tgCfg := channels.TelegramConfig{
		APIBase:     tc.APIBase,
		PollTimeout: tc.PollTimeout,
		SendRPS:     tc.SendRPS,
		SendBurst:   tc.SendBurst,
	}
	return func(bot domain.BotCredential) supervisor.Runner {
		log := logger.With().Str("component", "session").Int64("bot_id", bot.ID).Logger()
		tr := channels.NewTelegram(bot.Token, tgCfg, log)
		d := session.NewDispatcher(bot.ID, st, exec, st, log)
		return session.New(bot, tr, d, hb, log)
	}
}
