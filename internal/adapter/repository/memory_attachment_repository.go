package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
)

type MemoryAttachmentRepository struct {
	mu     sync.Mutex
	byPath map[string]*entity.Attachment
}

var _ repository.AttachmentRepository = (*MemoryAttachmentRepository)(nil)

func NewMemoryAttachmentRepository() *MemoryAttachmentRepository {
	return &MemoryAttachmentRepository{byPath: make(map[string]*entity.Attachment)}
}

func (r *MemoryAttachmentRepository) Create(ctx context.Context, attachment *entity.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if attachment.ID == "" {
		attachment.ID = uuid.NewString()
	}
	now := time.Now()
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = now
	}
	attachment.UpdatedAt = now

	stored := *attachment
	r.byPath[attachment.Path] = &stored
	return nil
}

func (r *MemoryAttachmentRepository) GetByPath(ctx context.Context, path string) (*entity.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byPath[path]
	if !ok {
		return nil, errors.NotFound("Attachment", nil)
	}
	c := *a
	return &c, nil
}

func (r *MemoryAttachmentRepository) MarkOrphaned(ctx context.Context, chatID, messageID, path string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byPath[path]
	if !ok {
		a = &entity.Attachment{ID: uuid.NewString(), ChatID: chatID, Path: path, CreatedAt: time.Now()}
		r.byPath[path] = a
	}
	a.Orphaned = true
	a.MessageID = messageID
	a.Attempts++
	a.UpdatedAt = time.Now()
	if cause != nil {
		a.LastError = cause.Error()
	}
	return nil
}

func (r *MemoryAttachmentRepository) ListOrphaned(ctx context.Context, limit int) ([]*entity.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.Attachment
	for _, a := range r.byPath {
		if a.Orphaned {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryAttachmentRepository) DeleteByPath(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPath[path]; !ok {
		return errors.NotFound("Attachment", nil)
	}
	delete(r.byPath, path)
	return nil
}
