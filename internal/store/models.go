package store

import (
	"github.com/dayuer/botrelay/internal/domain"
)

// Row types mirror the tables owned by the admin surface. Text columns are
// pointers because older databases created them without defaults.

type botRow struct {
	ID      int64   `gorm:"column:id;primaryKey"`
	Name    *string `gorm:"column:name"`
	Token   *string `gorm:"column:token"`
	Enabled int     `gorm:"column:enabled"`
}

func (botRow) TableName() string { return "bots" }

type ruleRow struct {
	ID              int64   `gorm:"column:id;primaryKey"`
	BotID           int64   `gorm:"column:bot_id"`
	ActionType      *string `gorm:"column:action_type"`
	SourceGroupID   *string `gorm:"column:source_group_id"`
	TargetGroupID   *string `gorm:"column:target_group_id"`
	UserID          *string `gorm:"column:user_id"`
	UserIDs         *string `gorm:"column:user_ids"`
	Keyword         *string `gorm:"column:keyword"`
	Enabled         int     `gorm:"column:enabled"`
	AppendText      *string `gorm:"column:append_text"`
	MerchantRegex   *string `gorm:"column:merchant_regex"`
	LookupURL       *string `gorm:"column:lookup_url"`
	ReplaceTemplate *string `gorm:"column:replace_template"`
	ReplyText       *string `gorm:"column:reply_text"`
}

func (ruleRow) TableName() string { return "rules" }

type statusRow struct {
	BotID int64  `gorm:"column:bot_id;primaryKey"`
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value"`
}

func (statusRow) TableName() string { return "status" }

type logRow struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Ts          string `gorm:"column:ts"`
	BotID       int64  `gorm:"column:bot_id"`
	RuleID      *int64 `gorm:"column:rule_id"`
	MessageType string `gorm:"column:message_type"`
	MessageText string `gorm:"column:message_text"`
}

func (logRow) TableName() string { return "logs" }

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (r botRow) toDomain() domain.BotCredential {
	return domain.BotCredential{
		ID:      r.ID,
		Name:    str(r.Name),
		Token:   str(r.Token),
		Enabled: r.Enabled != 0,
	}
}

// Source and target ids are kept verbatim; matching compares them untrimmed.
func (r ruleRow) toDomain() domain.Rule {
	return domain.Rule{
		ID:              r.ID,
		BotID:           r.BotID,
		Action:          domain.ParseActionKind(str(r.ActionType)),
		SourceChatID:    str(r.SourceGroupID),
		TargetChatID:    str(r.TargetGroupID),
		AllowedUserIDs:  domain.ParseUserIDs(str(r.UserIDs), str(r.UserID)),
		Keywords:        domain.ParseKeywords(str(r.Keyword)),
		Enabled:         r.Enabled != 0,
		AppendText:      str(r.AppendText),
		LookupRegex:     str(r.MerchantRegex),
		LookupURL:       str(r.LookupURL),
		ReplaceTemplate: str(r.ReplaceTemplate),
		ReplyText:       str(r.ReplyText),
	}
}
