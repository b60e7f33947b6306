package repository

import (
	"context"

	"chatsync/internal/domain/entity"
)

type AttachmentRepository interface {
	Create(ctx context.Context, attachment *entity.Attachment) error
	GetByPath(ctx context.Context, path string) (*entity.Attachment, error)
	// MarkOrphaned flags the blob at path as needing cleanup, creating the
	// entry if the upload was never recorded.
	MarkOrphaned(ctx context.Context, chatID, messageID, path string, cause error) error
	ListOrphaned(ctx context.Context, limit int) ([]*entity.Attachment, error)
	DeleteByPath(ctx context.Context, path string) error
}
