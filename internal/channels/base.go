// Package channels defines the chat transport used by bot sessions and its
// Telegram Bot API implementation.
package channels

import (
	"context"
	"fmt"

	"github.com/dayuer/botrelay/internal/domain"
)

// Transport is one bot's connection to a chat platform.
type Transport interface {
	// Connect verifies the credential and returns the bot's identity.
	Connect(ctx context.Context) (BotInfo, error)

	// Poll receives updates and hands each one to handler in its own
	// goroutine. Blocks until ctx is cancelled or the credential is rejected.
	Poll(ctx context.Context, handler UpdateHandler) error

	// SendText sends a plain text message. replyTo threads the message under
	// an existing one when non-zero.
	SendText(ctx context.Context, chatID, text string, replyTo int64) error

	// CopyMessage re-sends an existing message into toChatID. A non-nil
	// caption replaces the original caption.
	CopyMessage(ctx context.Context, fromChatID string, messageID int64, toChatID string, caption *string) error
}

// BotInfo identifies the connected bot account.
type BotInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// UpdateKind classifies an update.
type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateCommand UpdateKind = "command"
	UpdateOther   UpdateKind = "other"
)

// Update is one event received from the platform. Message is set for message
// and command updates; Command holds the command name without the leading
// slash or @botname suffix.
type Update struct {
	ID      int64
	Kind    UpdateKind
	Message *domain.InboundMessage
	Command string
}

// UpdateHandler processes one update. Errors are logged by the transport.
type UpdateHandler func(ctx context.Context, u Update) error

// APIError is an error reported by the platform API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Method, e.Code, e.Description)
}

// Fatal reports whether retrying cannot succeed: the token was rejected or
// another process is polling with it.
func (e *APIError) Fatal() bool {
	switch e.Code {
	case 401, 404, 409:
		return true
	}
	return false
}
