package firebase

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

// Clients bundles everything backed by the Firebase project.
type Clients struct {
	Firestore *firestore.Client
	Auth      *FirebaseAuthClient
	Option    option.ClientOption
}

func (c *Clients) Close() error {
	return c.Firestore.Close()
}

// CredentialOption picks the service account from the environment (inline
// JSON wins over a file path).
func CredentialOption(cfg *config.Config) (option.ClientOption, error) {
	if cfg.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)), nil
	}

	if cfg.ServiceAccountPath == "" {
		return nil, fmt.Errorf("FIREBASE_SERVICE_ACCOUNT_JSON or FIREBASE_SERVICE_ACCOUNT_PATH is required")
	}
	if _, err := os.Stat(cfg.ServiceAccountPath); err != nil {
		return nil, fmt.Errorf("service account file %s: %w", cfg.ServiceAccountPath, err)
	}

	logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
	return option.WithCredentialsFile(cfg.ServiceAccountPath), nil
}

func NewClients(ctx context.Context, cfg *config.Config) (*Clients, error) {
	opt, err := CredentialOption(cfg)
	if err != nil {
		return nil, err
	}

	app, err := fbapp.NewApp(ctx, &fbapp.Config{
		ProjectID:     cfg.FirebaseProject,
		StorageBucket: cfg.StorageBucket,
	}, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase Auth: %w", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &Clients{
		Firestore: firestoreClient,
		Auth:      NewFirebaseAuthClient(authClient),
		Option:    opt,
	}, nil
}
