package redis

import (
	"context"
	"strconv"
	"time"
)

// HeartbeatWriter records that a bot was seen at a point in time.
type HeartbeatWriter interface {
	UpsertHeartbeat(ctx context.Context, botID int64, at time.Time) error
}

// Mirror forwards heartbeats to the primary writer and, when Redis is
// connected, also stores them under hb:<bot_id> with a TTL. Redis failures
// never fail the heartbeat.
type Mirror struct {
	next HeartbeatWriter
	ttl  time.Duration
}

// MirrorHeartbeats wraps next with a Redis mirror.
func MirrorHeartbeats(next HeartbeatWriter, ttl time.Duration) *Mirror {
	return &Mirror{next: next, ttl: ttl}
}

// UpsertHeartbeat implements HeartbeatWriter.
func (m *Mirror) UpsertHeartbeat(ctx context.Context, botID int64, at time.Time) error {
	if err := m.next.UpsertHeartbeat(ctx, botID, at); err != nil {
		return err
	}
	CacheSet(ctx, HeartbeatKey(botID), strconv.FormatInt(at.Unix(), 10), m.ttl)
	return nil
}

// LastSeen returns the mirrored heartbeat for botID. ok is false when Redis
// is unavailable or the key has expired.
func LastSeen(ctx context.Context, botID int64) (at time.Time, ok bool) {
	raw := CacheGet(ctx, HeartbeatKey(botID))
	if raw == "" {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
