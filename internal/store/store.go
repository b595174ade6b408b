// Package store implements the relay's view of the configuration store,
// backed by GORM over pure-Go SQLite. The relay reads bots and rules and
// writes only heartbeat rows and audit log rows.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/utils"
)

const (
	// HeartbeatKey is the status key written by bot sessions.
	HeartbeatKey = "bot_last_seen"
	// MaxLogText caps the stored message_text length in characters.
	MaxLogText = 5000
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=10000;",
}

// Store reads and writes the relay's tables.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and applies PRAGMAs.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	return &Store{db: db}, nil
}

// New wraps an existing GORM handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListEnabledBots returns enabled bots ordered by id ascending.
func (s *Store) ListEnabledBots(ctx context.Context) ([]domain.BotCredential, error) {
	var rows []botRow
	if err := s.db.WithContext(ctx).Where("enabled = 1").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled bots: %w", err)
	}
	return botsToDomain(rows), nil
}

// ListBots returns every bot, newest first.
func (s *Store) ListBots(ctx context.Context) ([]domain.BotCredential, error) {
	var rows []botRow
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	return botsToDomain(rows), nil
}

// ListEnabledRules returns a bot's enabled rules, highest id first.
func (s *Store) ListEnabledRules(ctx context.Context, botID int64) ([]domain.Rule, error) {
	var rows []ruleRow
	err := s.db.WithContext(ctx).
		Where("enabled = 1 AND bot_id = ?", botID).
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for bot %d: %w", botID, err)
	}
	out := make([]domain.Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpsertHeartbeat records at as the bot's last-seen time.
func (s *Store) UpsertHeartbeat(ctx context.Context, botID int64, at time.Time) error {
	row := statusRow{BotID: botID, Key: HeartbeatKey, Value: utils.FormatTimestamp(at)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat for bot %d: %w", botID, err)
	}
	return nil
}

// ListHeartbeats returns every recorded heartbeat. Rows with unparseable
// values are skipped.
func (s *Store) ListHeartbeats(ctx context.Context) ([]domain.HeartbeatRecord, error) {
	var rows []statusRow
	if err := s.db.WithContext(ctx).Where("key = ?", HeartbeatKey).Order("bot_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	out := make([]domain.HeartbeatRecord, 0, len(rows))
	for _, r := range rows {
		t, err := utils.ParseTimestamp(r.Value)
		if err != nil {
			continue
		}
		out = append(out, domain.HeartbeatRecord{BotID: r.BotID, LastSeen: t})
	}
	return out, nil
}

// AppendLog inserts one audit row. The text is cut to MaxLogText characters.
func (s *Store) AppendLog(ctx context.Context, e domain.AuditLogEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := logRow{
		Ts:          utils.FormatTimestamp(ts),
		BotID:       e.BotID,
		RuleID:      e.RuleID,
		MessageType: string(e.Kind),
		MessageText: utils.TruncateRunes(e.Text, MaxLogText),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append log for bot %d: %w", e.BotID, err)
	}
	return nil
}

func botsToDomain(rows []botRow) []domain.BotCredential {
	out := make([]domain.BotCredential, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}
