package repository

import (
	"context"

	"chatsync/internal/domain/entity"
)

// MessageListener receives the current newest-first window of a chat, or a
// terminal error after which no further calls are made.
type MessageListener func(messages []*entity.Message, err error)

// SummaryListener receives the current chat list of a user.
type SummaryListener func(summaries []*entity.ChatSummary, err error)

type ChatRepository interface {
	// CreateMessage inserts the message and merges the chat summary
	// (preview fields plus an atomic unread increment for the receiver) in a
	// single atomic write. The store assigns ID and CreatedAt.
	CreateMessage(ctx context.Context, chatID string, message *entity.Message) (string, error)
	GetMessage(ctx context.Context, chatID, messageID string) (*entity.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// ListMessages returns up to limit messages ordered newest first,
	// strictly older than before when it is non-nil.
	ListMessages(ctx context.Context, chatID string, before *entity.Cursor, limit int) ([]*entity.Message, error)
	ListAllMessages(ctx context.Context, chatID string) ([]*entity.Message, error)
	ListenMessages(ctx context.Context, chatID string, limit int, fn MessageListener) (stop func(), err error)

	ListUnreadMessageIDs(ctx context.Context, chatID, userID string) ([]string, error)
	// MarkMessagesRead flips the listed messages to read and clears the
	// user's unread counter in one atomic write.
	MarkMessagesRead(ctx context.Context, chatID, userID string, messageIDs []string) error

	// SetSummaryLast overwrites the preview fields from last, or resets them
	// to empty/null when last is nil.
	SetSummaryLast(ctx context.Context, chatID string, last *entity.Message) error
	// DeleteMessages removes the listed messages and resets the summary,
	// zeroing the unread counters of clearUnreadFor.
	DeleteMessages(ctx context.Context, chatID string, messageIDs []string, clearUnreadFor []string) error

	GetSummary(ctx context.Context, chatID string) (*entity.ChatSummary, error)
	ListenSummaries(ctx context.Context, userID string, fn SummaryListener) (stop func(), err error)
}
