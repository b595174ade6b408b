package store

import (
	"context"
	"fmt"
	"strings"
)

// schema matches the tables created by the admin surface.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		token TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bot_id INTEGER NOT NULL,
		action_type TEXT DEFAULT 'edit_send',
		source_group_id TEXT NOT NULL,
		target_group_id TEXT NOT NULL,
		user_id TEXT DEFAULT '',
		user_ids TEXT DEFAULT '',
		keyword TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		append_text TEXT DEFAULT '',
		merchant_regex TEXT DEFAULT '',
		lookup_url TEXT DEFAULT '',
		replace_template TEXT DEFAULT '',
		reply_text TEXT DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		bot_id INTEGER,
		rule_id INTEGER,
		message_type TEXT,
		message_text TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS status (
		bot_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT DEFAULT '',
		PRIMARY KEY (bot_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS tg_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS tg_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_bot_enabled ON rules(bot_id, enabled)`,
}

// Columns added to rules over time. Databases created by early versions of
// the admin surface lack some of them.
var ruleColumns = []string{
	`action_type TEXT DEFAULT 'edit_send'`,
	`user_ids TEXT DEFAULT ''`,
	`append_text TEXT DEFAULT ''`,
	`merchant_regex TEXT DEFAULT ''`,
	`lookup_url TEXT DEFAULT ''`,
	`replace_template TEXT DEFAULT ''`,
	`reply_text TEXT DEFAULT ''`,
}

// Migrate creates missing tables and columns. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	for _, col := range ruleColumns {
		err := db.Exec("ALTER TABLE rules ADD COLUMN " + col).Error
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return fmt.Errorf("failed to add rules column %q: %w", col, err)
		}
	}
	return nil
}
