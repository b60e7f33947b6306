package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const attachmentsCollection = "attachments"

type firestoreAttachmentRepository struct {
	client *firestore.Client
}

func NewFirestoreAttachmentRepository(client *firestore.Client) repository.AttachmentRepository {
	return &firestoreAttachmentRepository{
		client: client,
	}
}

func (r *firestoreAttachmentRepository) Create(ctx context.Context, attachment *entity.Attachment) error {
	if attachment.ID == "" {
		attachment.ID = uuid.NewString()
	}
	now := time.Now()
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = now
	}
	attachment.UpdatedAt = now

	_, err := r.client.Collection(attachmentsCollection).Doc(attachment.ID).Set(ctx, attachment)
	if err != nil {
		return errors.Internal("Failed to record attachment", err)
	}
	return nil
}

func (r *firestoreAttachmentRepository) findByPath(ctx context.Context, path string) (*firestore.DocumentSnapshot, error) {
	iter := r.client.Collection(attachmentsCollection).Where("path", "==", path).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return nil, errors.NotFound("Attachment", nil)
		}
		return nil, errors.Internal("Failed to query attachments", err)
	}
	return doc, nil
}

func (r *firestoreAttachmentRepository) GetByPath(ctx context.Context, path string) (*entity.Attachment, error) {
	doc, err := r.findByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	var attachment entity.Attachment
	if err := doc.DataTo(&attachment); err != nil {
		return nil, errors.Internal("Failed to parse attachment", err)
	}
	return &attachment, nil
}

func (r *firestoreAttachmentRepository) MarkOrphaned(ctx context.Context, chatID, messageID, path string, cause error) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	doc, err := r.findByPath(ctx, path)
	if errors.Is(err, errors.CodeNotFound) {
		return r.Create(ctx, &entity.Attachment{
			ChatID:    chatID,
			Path:      path,
			Orphaned:  true,
			MessageID: messageID,
			LastError: lastError,
			Attempts:  1,
		})
	}
	if err != nil {
		return err
	}

	_, err = doc.Ref.Update(ctx, []firestore.Update{
		{Path: "orphaned", Value: true},
		{Path: "messageId", Value: messageID},
		{Path: "lastError", Value: lastError},
		{Path: "attempts", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return errors.Internal("Failed to mark attachment orphaned", err)
	}
	return nil
}

func (r *firestoreAttachmentRepository) ListOrphaned(ctx context.Context, limit int) ([]*entity.Attachment, error) {
	query := r.client.Collection(attachmentsCollection).Where("orphaned", "==", true)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var attachments []*entity.Attachment
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Internal("Failed to iterate attachments", err)
		}

		var attachment entity.Attachment
		if err := doc.DataTo(&attachment); err != nil {
			logger.Error("Failed to parse attachment %s: %v", doc.Ref.ID, err)
			continue
		}
		attachments = append(attachments, &attachment)
	}

	return attachments, nil
}

func (r *firestoreAttachmentRepository) DeleteByPath(ctx context.Context, path string) error {
	doc, err := r.findByPath(ctx, path)
	if err != nil {
		return err
	}

	if _, err := doc.Ref.Delete(ctx); err != nil {
		return errors.Internal("Failed to delete attachment", err)
	}
	return nil
}
