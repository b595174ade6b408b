// Package rules selects the routing rule that applies to an inbound message.
package rules

import (
	"strings"

	"github.com/dayuer/botrelay/internal/domain"
)

// Match returns the first candidate whose source chat, allowed users and
// keywords all accept msg. Candidates must already be ordered highest id
// first. The returned MatchResult.Index is the rule's position in candidates.
func Match(msg domain.InboundMessage, candidates []domain.Rule) (domain.MatchResult, bool) {
	for i, r := range candidates {
		if msg.ChatID != r.SourceChatID {
			continue
		}
		if !r.AllowsUser(msg.UserID) {
			continue
		}
		if r.Keywords.Wildcard {
			return domain.MatchResult{Rule: r, Wildcard: true, Index: i}, true
		}
		if kw, ok := firstKeyword(msg.Text, r.Keywords.Terms); ok {
			return domain.MatchResult{Rule: r, Keyword: kw, Index: i}, true
		}
	}
	return domain.MatchResult{}, false
}

func firstKeyword(text string, terms []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, t := range terms {
		if strings.Contains(text, t) {
			return t, true
		}
	}
	return "", false
}
