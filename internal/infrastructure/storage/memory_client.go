package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/service"
)

const memoryBucket = "local"

// MemoryStorageClient keeps blobs in process memory and hands out
// Firebase-shaped URLs for bucket "local".
type MemoryStorageClient struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

var _ service.BlobStore = (*MemoryStorageClient)(nil)

func NewMemoryStorageClient() *MemoryStorageClient {
	return &MemoryStorageClient{objects: make(map[string]memoryObject)}
}

func (c *MemoryStorageClient) Upload(ctx context.Context, file io.Reader, fileType, fileName, folder string) (*entity.FileData, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	objectName := ObjectName(folder, fileName, fileType)

	c.mu.Lock()
	c.objects[objectName] = memoryObject{data: data, contentType: fileType}
	c.mu.Unlock()

	return &entity.FileData{
		DownloadURL: DownloadURL(memoryBucket, objectName, ""),
		Name:        fileName,
		Type:        fileType,
		Size:        int64(len(data)),
		Path:        objectName,
	}, nil
}

// Put stores raw bytes at objectName.
func (c *MemoryStorageClient) Put(objectName string, data []byte) {
	c.mu.Lock()
	c.objects[objectName] = memoryObject{data: data}
	c.mu.Unlock()
}

func (c *MemoryStorageClient) Exists(objectName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.objects[objectName]
	return ok
}

func (c *MemoryStorageClient) Delete(ctx context.Context, objectName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.objects[objectName]; !ok {
		return service.ErrBlobNotFound
	}
	delete(c.objects, objectName)
	return nil
}

func (c *MemoryStorageClient) PathFromURL(fileURL string) (string, error) {
	return ObjectPathFromURL(memoryBucket, fileURL)
}

func (c *MemoryStorageClient) Close() error { return nil }
