package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// NewFirebaseApp initializes the Firebase app shared by token validation and Firestore storage.
func NewFirebaseApp(ctx context.Context, projectID, credJSON string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	return app, nil
}

// FirebaseTokenValidator verifies Firebase ID tokens.
type FirebaseTokenValidator struct {
	authClient *auth.Client
}

func NewFirebaseTokenValidator(ctx context.Context, app *firebase.App) (*FirebaseTokenValidator, error) {
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firebase Auth client: %w", err)
	}

	return &FirebaseTokenValidator{
		authClient: authClient,
	}, nil
}

// ValidateToken returns the Firebase UID of a verified ID token.
func (f *FirebaseTokenValidator) ValidateToken(tokenString string) (string, error) {
	token, err := f.authClient.VerifyIDToken(context.Background(), tokenString)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if token.UID != "" {
		return token.UID, nil
	}

	if sub, ok := token.Claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}

	return "", fmt.Errorf("%w: no user ID found in Firebase token", ErrInvalidToken)
}
