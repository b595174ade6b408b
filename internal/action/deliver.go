package action

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dayuer/botrelay/internal/domain"
)

// Sender is the outbound half of a chat transport.
type Sender interface {
	SendText(ctx context.Context, chatID, text string, replyTo int64) error
	CopyMessage(ctx context.Context, fromChatID string, messageID int64, toChatID string, caption *string) error
}

// Deliver sends text to chatID, carrying msg's media along when it has any.
// Media with a caption is copied with text as the new caption; media without
// one is copied as-is and text follows as its own message. If copying fails,
// text is sent as plain text instead. Only the final plain-text send can
// produce an error.
func Deliver(ctx context.Context, s Sender, msg domain.InboundMessage, chatID, text string, log zerolog.Logger) error {
	if !msg.HasMedia {
		return s.SendText(ctx, chatID, text, 0)
	}

	if msg.HasCaption {
		caption := text
		err := s.CopyMessage(ctx, msg.ChatID, msg.MessageID, chatID, &caption)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("chat_id", chatID).Msg("copy with caption failed, sending text")
		return s.SendText(ctx, chatID, text, 0)
	}

	if err := s.CopyMessage(ctx, msg.ChatID, msg.MessageID, chatID, nil); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("media copy failed, sending text")
	}
	return s.SendText(ctx, chatID, text, 0)
}
