// Package domain holds the relay's data model: bot credentials, routing rules,
// inbound messages, and the records the relay writes back to the store.
package domain

import "time"

// ActionKind selects what a matched rule does with a message.
type ActionKind string

const (
	ActionEditSend      ActionKind = "edit_send"      // Merge append text, forward to target.
	ActionLookupReplace ActionKind = "lookup_replace" // Swap the merchant order number for the pay order id.
	ActionAutoReply     ActionKind = "auto_reply"     // Threaded reply in the source chat.
)

// ParseActionKind maps a stored action_type value to an ActionKind.
// An empty value means ActionEditSend; unknown values are returned as-is.
func ParseActionKind(s string) ActionKind {
	switch k := ActionKind(trim(s)); k {
	case "":
		return ActionEditSend
	default:
		return k
	}
}

// Known reports whether k is one of the three supported actions.
func (k ActionKind) Known() bool {
	switch k {
	case ActionEditSend, ActionLookupReplace, ActionAutoReply:
		return true
	}
	return false
}

// MessageKind classifies an inbound message by its payload.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindPhoto     MessageKind = "photo"
	KindVideo     MessageKind = "video"
	KindDocument  MessageKind = "document"
	KindAudio     MessageKind = "audio"
	KindVoice     MessageKind = "voice"
	KindSticker   MessageKind = "sticker"
	KindAnimation MessageKind = "animation"
	KindOther     MessageKind = "other"
)

// BotCredential is one row of the bots table.
type BotCredential struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Token   string `json:"-"`
	Enabled bool   `json:"enabled"`
}

// InboundMessage is a chat message received by a bot session.
// Chat and user ids are kept as opaque strings.
type InboundMessage struct {
	ChatID     string      `json:"chat_id"`
	UserID     string      `json:"user_id"`
	MessageID  int64       `json:"message_id"`
	Text       string      `json:"text"` // text, or caption for media messages
	Kind       MessageKind `json:"kind"`
	HasMedia   bool        `json:"has_media"`
	HasCaption bool        `json:"has_caption"`
}

// MatchResult pairs the first matching rule with the keyword that matched.
// Index is the rule's position in the candidate slice passed to the matcher.
type MatchResult struct {
	Rule     Rule
	Keyword  string
	Wildcard bool
	Index    int
}

// MatchedKeyword returns the keyword for logging, "*" for wildcard matches.
func (m MatchResult) MatchedKeyword() string {
	if m.Wildcard {
		return Wildcard
	}
	return m.Keyword
}

// HeartbeatRecord is the last time a bot's session saw any update.
type HeartbeatRecord struct {
	BotID    int64     `json:"bot_id"`
	LastSeen time.Time `json:"last_seen"`
}

// AuditLogEntry is appended after every executed action.
type AuditLogEntry struct {
	Timestamp time.Time   `json:"ts"`
	BotID     int64       `json:"bot_id"`
	RuleID    *int64      `json:"rule_id,omitempty"`
	Kind      MessageKind `json:"message_type"`
	Text      string      `json:"message_text"`
}
