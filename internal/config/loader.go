package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable holding the YAML config path.
const EnvConfigPath = "BOTRELAY_CONFIG"

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration. path names a YAML file; when empty,
// BOTRELAY_CONFIG is consulted, and with neither set only defaults and
// environment variables apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "warning" {
		cfg.Log.Level = "warn"
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return &ConfigError{Field: "log.level", Msg: "must be one of: debug, info, warn, error, fatal, panic"}
	}
	if strings.TrimSpace(c.DatabasePath()) == "" {
		return &ConfigError{Field: "db_path", Msg: "must not be empty"}
	}
	if c.Telegram.PollTimeout < time.Second {
		return &ConfigError{Field: "telegram.poll_timeout", Msg: "must be at least 1s"}
	}
	if c.Telegram.SendRPS < 0 {
		return &ConfigError{Field: "telegram.send_rps", Msg: "must be >= 0"}
	}
	if c.Telegram.SendBurst < 1 {
		return &ConfigError{Field: "telegram.send_burst", Msg: "must be >= 1"}
	}
	if c.Redis.HeartbeatTTL <= 0 {
		return &ConfigError{Field: "redis.heartbeat_ttl", Msg: "must be > 0"}
	}
	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return &ConfigError{Field: "otel.sample_ratio", Msg: "must be in [0,1]"}
	}
	return nil
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	key   string
	apply func(v string) error
}

func applyEnv(cfg *Config) error {
	overrides := []envOverride{
		{"DATA_DIR", setString(&cfg.DataDir)},
		{"DB_PATH", setString(&cfg.DBPath)},
		{"ROBOT_SECRET_KEY", setString(&cfg.Lookup.SecretKey)},
		{"TELEGRAM_API_BASE", setString(&cfg.Telegram.APIBase)},
		{"TELEGRAM_POLL_TIMEOUT", setDuration(&cfg.Telegram.PollTimeout)},
		{"TELEGRAM_SEND_RPS", setFloat(&cfg.Telegram.SendRPS)},
		{"TELEGRAM_SEND_BURST", setInt(&cfg.Telegram.SendBurst)},
		{"REDIS_URL", setString(&cfg.Redis.URL)},
		{"REDIS_PASSWORD", setString(&cfg.Redis.Password)},
		{"REDIS_DB", setInt(&cfg.Redis.DB)},
		{"HEARTBEAT_TTL", setDuration(&cfg.Redis.HeartbeatTTL)},
		{"STATUS_ADDR", setString(&cfg.Status.Addr)},
		{"LOG_LEVEL", setString(&cfg.Log.Level)},
		{"LOG_PRETTY", setBool(&cfg.Log.Pretty)},
		{"OTEL_ENABLED", setBool(&cfg.OTEL.Enabled)},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", setString(&cfg.OTEL.Endpoint)},
		{"OTEL_EXPORTER_OTLP_INSECURE", setBool(&cfg.OTEL.Insecure)},
		{"OTEL_SERVICE_NAME", setString(&cfg.OTEL.ServiceName)},
		{"OTEL_TRACES_SAMPLER_ARG", setFloat(&cfg.OTEL.SampleRatio)},
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(o.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(strings.TrimSpace(v)); err != nil {
			return &ConfigError{Field: o.key, Msg: err.Error()}
		}
	}
	return nil
}

// ---- setters ----

func setString(p *string) func(string) error {
	return func(v string) error {
		*p = v
		return nil
	}
}

func setInt(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*p = n
		return nil
	}
}

func setFloat(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", v)
		}
		*p = f
		return nil
	}
}

func setBool(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*p = b
		return nil
	}
}

// setDuration accepts Go durations ("30s") or a bare number of seconds.
func setDuration(p *time.Duration) func(string) error {
	return func(v string) error {
		if d, err := time.ParseDuration(v); err == nil {
			*p = d
			return nil
		}
		if secs, err := strconv.Atoi(v); err == nil {
			*p = time.Duration(secs) * time.Second
			return nil
		}
		return fmt.Errorf("invalid duration %q", v)
	}
}
