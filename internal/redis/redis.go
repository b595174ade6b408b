// Package redis holds the optional Redis connection used to mirror bot
// heartbeats with an expiry, so liveness can be read without the database.
//
// Graceful fallback: if Redis is unavailable, operations silently return
// zero values instead of blocking the relay.
package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// KeyHeartbeat prefixes per-bot heartbeat keys.
const KeyHeartbeat = "hb:"

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port
	Password string
	DB       int
}

var (
	client    *redis.Client
	connected bool
	mu        sync.RWMutex
)

// Init initializes the Redis connection. Returns true if connected.
func Init(cfg Config) bool {
	logger := log.With().Str("component", "redis").Logger()
	if cfg.URL == "" {
		logger.Debug().Msg("URL not configured, skipping init")
		return false
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		logger.Error().Err(err).Msg("invalid URL")
		return false
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("connection failed, heartbeat mirror disabled")
		_ = c.Close()
		return false
	}

	mu.Lock()
	client = c
	connected = true
	mu.Unlock()

	logger.Info().Str("addr", opts.Addr).Msg("connected")
	return true
}

// Close closes the Redis connection.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if client != nil {
		_ = client.Close()
		client = nil
		connected = false
		log.Debug().Str("component", "redis").Msg("connection closed")
	}
}

// Client returns the Redis client. Returns nil if not available.
func Client() *redis.Client {
	mu.RLock()
	defer mu.RUnlock()
	if connected {
		return client
	}
	return nil
}

// IsAvailable checks if Redis is connected.
func IsAvailable() bool {
	mu.RLock()
	defer mu.RUnlock()
	return connected && client != nil
}

// --- Cache operations (with graceful fallback) ---

// CacheGet reads a string value. Returns "" if unavailable.
func CacheGet(ctx context.Context, key string) string {
	c := Client()
	if c == nil {
		return ""
	}
	val, err := c.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return ""
	}
	return val
}

// CacheSet writes a string value with TTL. Returns false on failure.
func CacheSet(ctx context.Context, key, value string, ttl time.Duration) bool {
	c := Client()
	if c == nil {
		return false
	}
	if err := c.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis set failed")
		return false
	}
	return true
}

// HeartbeatKey returns the Redis key for a bot's heartbeat.
func HeartbeatKey(botID int64) string {
	return KeyHeartbeat + strconv.FormatInt(botID, 10)
}
