package domain

import "strings"

// Wildcard is the keyword field value that matches every message.
const Wildcard = "*"

// Keywords is a rule's parsed keyword field.
type Keywords struct {
	Wildcard bool
	Terms    []string
}

// Rule is one routing rule of a bot, already normalized from its row.
type Rule struct {
	ID              int64
	BotID           int64
	Action          ActionKind
	SourceChatID    string
	TargetChatID    string
	AllowedUserIDs  map[string]struct{} // empty = any user
	Keywords        Keywords
	Enabled         bool
	AppendText      string
	LookupRegex     string
	LookupURL       string
	ReplaceTemplate string
	ReplyText       string
}

// AllowsUser reports whether userID may trigger the rule.
func (r Rule) AllowsUser(userID string) bool {
	if len(r.AllowedUserIDs) == 0 {
		return true
	}
	_, ok := r.AllowedUserIDs[userID]
	return ok
}

// SplitList splits a comma separated field. Full-width commas count as
// separators; items are trimmed and empty items dropped.
func SplitList(s string) []string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "，", ","))
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseUserIDs builds the allowed-user set from the multi-user field, falling
// back to the legacy single-user field when the former is blank.
func ParseUserIDs(multi, legacy string) map[string]struct{} {
	set := make(map[string]struct{})
	if ids := SplitList(multi); len(ids) > 0 {
		for _, id := range ids {
			set[id] = struct{}{}
		}
		return set
	}
	if old := trim(legacy); old != "" {
		set[old] = struct{}{}
	}
	return set
}

// ParseKeywords parses a rule's keyword field.
func ParseKeywords(field string) Keywords {
	if trim(field) == Wildcard {
		return Keywords{Wildcard: true}
	}
	terms := SplitList(field)
	if len(terms) == 1 && terms[0] == Wildcard {
		return Keywords{Wildcard: true}
	}
	return Keywords{Terms: terms}
}

func trim(s string) string { return strings.TrimSpace(s) }
