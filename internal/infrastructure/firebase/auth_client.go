package firebase

import (
	"context"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/auth"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", err
	}

	return result.UID, nil
}

// DevTokenVerifier accepts "dev-<uid>" (or a bare uid) as a token. Only wired
// with the memory backend in development.
type DevTokenVerifier struct{}

func (DevTokenVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	uid := strings.TrimPrefix(strings.TrimSpace(token), "dev-")
	if uid == "" || strings.ContainsAny(uid, " /_") {
		return "", fmt.Errorf("invalid development token")
	}
	return uid, nil
}
