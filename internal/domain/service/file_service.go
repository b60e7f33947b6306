package service

import (
	"context"
	"errors"
	"io"

	"chatsync/internal/domain/entity"
)

// BlobStore holds chat attachments.
type BlobStore interface {
	Upload(ctx context.Context, file io.Reader, fileType, fileName, folder string) (*entity.FileData, error)
	Delete(ctx context.Context, path string) error
	// PathFromURL maps a public download URL back to its storage path.
	PathFromURL(fileURL string) (string, error)
	Close() error
}

// ErrBlobNotFound is returned by Delete when nothing is stored at the path.
var ErrBlobNotFound = errors.New("blob not found")
