package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// TokenVerifier validates Firebase ID tokens issued to the mobile clients
// and resolves them to a user ID.
type TokenVerifier struct {
	client *fbauth.Client
}

// NewTokenVerifier initializes the Firebase app and its auth client.
// credentialsFile may be empty to use application default credentials.
func NewTokenVerifier(ctx context.Context, projectID, credentialsFile string) (*TokenVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init Firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth client: %w", err)
	}
	return &TokenVerifier{client: client}, nil
}

// Verify checks the ID token and returns the user ID it was issued for.
func (v *TokenVerifier) Verify(ctx context.Context, idToken string) (string, error) {
	tok, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", fmt.Errorf("invalid ID token: %w", err)
	}
	return tok.UID, nil
}

// SignInWithToken verifies the token and, on success, signs the session in
// as the token's user.
func SignInWithToken(ctx context.Context, v *TokenVerifier, s *MemorySession, idToken string) error {
	uid, err := v.Verify(ctx, idToken)
	if err != nil {
		return err
	}
	s.SignIn(uid)
	return nil
}
