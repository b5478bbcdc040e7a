package services

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var ErrFirebaseDisabled = errors.New("firebase credentials not configured")

// InitFirebase returns an auth client used to verify Firebase ID tokens.
func InitFirebase(ctx context.Context, credPath string) (*auth.Client, error) {
	if credPath == "" {
		return nil, ErrFirebaseDisabled
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credPath))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app.Auth(ctx)
}
