package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

type Config struct {
	ServerPort         string
	FirebaseProject    string
	StorageBucket      string
	Environment        string
	StoreBackend       string
	ServiceAccountJSON string
	ServiceAccountPath string
	MessagePageSize    int
	SendRatePerMinute  int
	BlobDeleteWorkers  int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		FirebaseProject:    getEnv("FIREBASE_PROJECT_ID", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", ""),
		Environment:        getEnv("ENVIRONMENT", "development"),
		StoreBackend:       getEnv("STORE_BACKEND", BackendFirestore),
		ServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		MessagePageSize:    getEnvAsInt("MESSAGE_PAGE_SIZE", 30),
		SendRatePerMinute:  getEnvAsInt("SEND_RATE_PER_MINUTE", 30),
		BlobDeleteWorkers:  getEnvAsInt("BLOB_DELETE_WORKERS", 4),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendFirestore:
		if c.FirebaseProject == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the %s backend", BackendFirestore)
		}
		if c.StorageBucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required for the %s backend", BackendFirestore)
		}
	case BackendMemory:
		if !c.IsDevelopment() {
			return fmt.Errorf("the %s backend is only available when ENVIRONMENT=development", BackendMemory)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}
