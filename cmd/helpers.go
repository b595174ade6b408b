package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dayuer/botrelay/internal/config"
	"github.com/dayuer/botrelay/internal/observability"
	"github.com/dayuer/botrelay/internal/store"
)

// loadConfig resolves configuration from the .env file, the YAML file and
// the environment.
func loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg config.Config) zerolog.Logger {
	return observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)
}

// openStore opens the database and makes sure the schema exists.
func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
