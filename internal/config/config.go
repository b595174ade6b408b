// Package config holds the relay's settings: defaults, an optional YAML file,
// a .env file and environment variable overrides, in that order of precedence.
package config

import (
	"path/filepath"
	"time"

	"github.com/dayuer/botrelay/internal/utils"
)

// Config is the top-level relay configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	DBPath   string         `yaml:"db_path"` // defaults to <data_dir>/bot.db
	Lookup   LookupConfig   `yaml:"lookup"`
	Telegram TelegramConfig `yaml:"telegram"`
	Redis    RedisConfig    `yaml:"redis"`
	Status   StatusConfig   `yaml:"status"`
	Log      LogConfig      `yaml:"log"`
	OTEL     OTELConfig     `yaml:"otel"`
}

// LookupConfig configures the order-lookup client.
type LookupConfig struct {
	SecretKey string `yaml:"secret_key"` // ROBOT_SECRET_KEY
}

// TelegramConfig tunes the Bot API transport.
type TelegramConfig struct {
	APIBase     string        `yaml:"api_base"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	SendRPS     float64       `yaml:"send_rps"` // 0 = unlimited
	SendBurst   int           `yaml:"send_burst"`
}

// RedisConfig enables the optional heartbeat mirror. Empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	HeartbeatTTL time.Duration `yaml:"heartbeat_ttl"`
}

// StatusConfig configures the read-only status server. Empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"` // debug|info|warn|error|fatal|panic
	Pretty bool   `yaml:"pretty"`
}

// OTELConfig defines OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool    `yaml:"enabled"`      // OTEL_ENABLED
	Endpoint    string  `yaml:"endpoint"`     // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    `yaml:"insecure"`     // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  `yaml:"service_name"` // OTEL_SERVICE_NAME
	SampleRatio float64 `yaml:"sample_ratio"` // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir: "data",
		Lookup: LookupConfig{
			SecretKey: "RobotSecret123456",
		},
		Telegram: TelegramConfig{
			APIBase:     "https://api.telegram.org",
			PollTimeout: 30 * time.Second,
			SendRPS:     25,
			SendBurst:   5,
		},
		Redis: RedisConfig{
			HeartbeatTTL: 5 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
		OTEL: OTELConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "botrelay",
			SampleRatio: 1.0,
		},
	}
}

// DatabasePath returns DBPath, or bot.db inside DataDir when unset. A leading
// "~" is expanded.
func (c Config) DatabasePath() string {
	if c.DBPath != "" {
		return utils.ExpandHome(c.DBPath)
	}
	return filepath.Join(utils.ExpandHome(c.DataDir), "bot.db")
}
