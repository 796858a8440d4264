// README: Firebase Admin SDK initialisation: Firestore, Realtime Database, FCM and token verifier.
package infra

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseToken holds the verified token data used by downstream middleware.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw Firebase ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// Firebase bundles the clients built from one Admin SDK app.
type Firebase struct {
	App       *firebase.App
	Firestore *firestore.Client
	Database  *db.Client
	Messaging *messaging.Client
	Auth      *auth.Client
}

// NewFirebase initialises the app and its clients. If credentialsFile is
// empty, application-default credentials are used. The Realtime Database
// client is only created when databaseURL is set.
func NewFirebase(ctx context.Context, projectID, credentialsFile, databaseURL string) (*Firebase, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	fb := &Firebase{App: app}
	if fb.Auth, err = app.Auth(ctx); err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	if fb.Firestore, err = app.Firestore(ctx); err != nil {
		return nil, fmt.Errorf("firebase app.Firestore: %w", err)
	}
	if fb.Messaging, err = app.Messaging(ctx); err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	if databaseURL != "" {
		if fb.Database, err = app.Database(ctx); err != nil {
			return nil, fmt.Errorf("firebase app.Database: %w", err)
		}
	}
	return fb, nil
}

func (f *Firebase) Close() error {
	if f.Firestore != nil {
		return f.Firestore.Close()
	}
	return nil
}

// Verifier returns a TokenVerifier backed by the app's auth client.
func (f *Firebase) Verifier() TokenVerifier {
	return &firebaseVerifier{client: f.Auth}
}

type firebaseVerifier struct {
	client *auth.Client
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}
