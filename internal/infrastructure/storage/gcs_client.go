package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/service"
)

type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
}

var _ service.BlobStore = (*CloudStorageClient)(nil)

func NewCloudStorageClient(ctx context.Context, bucketName string, opts ...option.ClientOption) (*CloudStorageClient, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("storage bucket is not configured")
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Upload stores the attachment under folder and returns a Firebase-style
// download URL together with the canonical object path.
func (c *CloudStorageClient) Upload(ctx context.Context, file io.Reader, fileType, fileName, folder string) (*entity.FileData, error) {
	objectName := ObjectName(folder, fileName, fileType)
	token := uuid.NewString()

	obj := c.client.Bucket(c.bucketName).Object(objectName)
	wc := obj.NewWriter(ctx)
	wc.ContentType = fileType
	wc.CacheControl = "public, max-age=86400"
	wc.Metadata = map[string]string{
		"firebaseStorageDownloadTokens": token,
	}

	size, err := io.Copy(wc, file)
	if err != nil {
		wc.Close()
		return nil, fmt.Errorf("failed to copy file to GCS: %w", err)
	}

	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return &entity.FileData{
		DownloadURL: DownloadURL(c.bucketName, objectName, token),
		Name:        fileName,
		Type:        fileType,
		Size:        size,
		Path:        objectName,
	}, nil
}

func (c *CloudStorageClient) Delete(ctx context.Context, objectName string) error {
	if objectName == "" {
		return fmt.Errorf("empty object path")
	}

	err := c.client.Bucket(c.bucketName).Object(objectName).Delete(ctx)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotExist) {
			return service.ErrBlobNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func (c *CloudStorageClient) PathFromURL(fileURL string) (string, error) {
	return ObjectPathFromURL(c.bucketName, fileURL)
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}

const (
	firebaseStoragePrefix = "https://firebasestorage.googleapis.com/v0/b/"
	gcsPublicPrefix       = "https://storage.googleapis.com/"
)

// ObjectName builds a unique object path for an upload:
// <folder>/<uuid>-<timestamp><ext>.
func ObjectName(folder, fileName, fileType string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = "chat-attachments"
	}

	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		switch fileType {
		case "image/jpeg", "image/jpg":
			ext = ".jpg"
		case "image/png":
			ext = ".png"
		case "image/gif":
			ext = ".gif"
		case "image/webp":
			ext = ".webp"
		default:
			ext = ".bin"
		}
	}

	return fmt.Sprintf("%s/%s-%s%s", folder, uuid.NewString(), time.Now().UTC().Format("20060102150405"), ext)
}

// DownloadURL renders the public Firebase Storage URL of an object.
func DownloadURL(bucket, objectName, token string) string {
	u := firebaseStoragePrefix + bucket + "/o/" + url.PathEscape(objectName) + "?alt=media"
	if token != "" {
		u += "&token=" + url.QueryEscape(token)
	}
	return u
}

// ObjectPathFromURL reverses DownloadURL (and plain public GCS URLs) into the
// object path inside bucket. It only exists for messages stored before the
// canonical filePath was recorded.
func ObjectPathFromURL(bucket, fileURL string) (string, error) {
	switch {
	case strings.HasPrefix(fileURL, firebaseStoragePrefix):
		rest := strings.TrimPrefix(fileURL, firebaseStoragePrefix)
		parts := strings.SplitN(rest, "/o/", 2)
		if len(parts) != 2 || parts[0] != bucket {
			return "", fmt.Errorf("invalid storage URL format or bucket mismatch")
		}
		escaped, _, _ := strings.Cut(parts[1], "?")
		objectName, err := url.PathUnescape(escaped)
		if err != nil {
			return "", fmt.Errorf("invalid storage URL escape: %w", err)
		}
		if objectName == "" {
			return "", fmt.Errorf("storage URL has no object path")
		}
		return objectName, nil

	case strings.HasPrefix(fileURL, gcsPublicPrefix):
		rest := strings.TrimPrefix(fileURL, gcsPublicPrefix)
		rest, _, _ = strings.Cut(rest, "?")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] != bucket || parts[1] == "" {
			return "", fmt.Errorf("invalid GCS URL format or bucket mismatch")
		}
		objectName, err := url.PathUnescape(parts[1])
		if err != nil {
			return "", fmt.Errorf("invalid GCS URL escape: %w", err)
		}
		return objectName, nil
	}

	return "", fmt.Errorf("unrecognized storage URL")
}
