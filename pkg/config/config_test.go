package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryBackendDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("MESSAGE_PAGE_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 30, cfg.MessagePageSize)
	assert.Equal(t, 30, cfg.SendRatePerMinute)
	assert.Equal(t, 4, cfg.BlobDeleteWorkers)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FirestoreNeedsProjectAndBucket(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("STORE_BACKEND", BackendFirestore)
	t.Setenv("FIREBASE_PROJECT_ID", "")
	t.Setenv("STORAGE_BUCKET", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("FIREBASE_PROJECT_ID", "demo")
	t.Setenv("STORAGE_BUCKET", "demo.appspot.com")
	t.Setenv("MESSAGE_PAGE_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MessagePageSize)
}

func TestLoad_MemoryBackendOnlyInDevelopment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("STORE_BACKEND", BackendMemory)

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("ENVIRONMENT", "development")
	_, err = Load()
	assert.Error(t, err)
}
