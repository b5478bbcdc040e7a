package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Context keys set for authenticated requests.
const (
	ContextUserUID   = "userUID"
	ContextUserEmail = "userEmail"
)

var errNoVerifier = errors.New("no token verifier configured")

// IDTokenVerifier is the subset of the Firebase auth client used here.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AuthConfig selects how bearer tokens are checked. Supabase access tokens
// (HS256 signed with the project JWT secret) are tried first, then Firebase
// ID tokens.
type AuthConfig struct {
	JWTSecret []byte
	Firebase  IDTokenVerifier
	Log       *zap.Logger
}

type supabaseClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's uid and email on the context.
func RequireAuth(cfg AuthConfig) echo.MiddlewareFunc {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("auth")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			uid, email, err := verify(c.Request().Context(), cfg, token)
			if err != nil {
				log.Debug("token rejected", zap.Error(err))
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set(ContextUserUID, uid)
			if email != "" {
				c.Set(ContextUserEmail, email)
			}
			return next(c)
		}
	}
}

// UserUID returns the authenticated user id, or "".
func UserUID(c echo.Context) string {
	uid, _ := c.Get(ContextUserUID).(string)
	return uid
}

// UserEmail returns the authenticated user's email, or "".
func UserEmail(c echo.Context) string {
	email, _ := c.Get(ContextUserEmail).(string)
	return email
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(echo.HeaderAuthorization)
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func verify(ctx context.Context, cfg AuthConfig, token string) (string, string, error) {
	var jwtErr error
	if len(cfg.JWTSecret) > 0 {
		uid, email, err := verifySupabase(cfg.JWTSecret, token)
		if err == nil {
			return uid, email, nil
		}
		jwtErr = err
	}

	if cfg.Firebase != nil {
		decoded, err := cfg.Firebase.VerifyIDToken(ctx, token)
		if err != nil {
			return "", "", errors.Join(jwtErr, err)
		}
		email, _ := decoded.Claims["email"].(string)
		return decoded.UID, email, nil
	}

	if jwtErr != nil {
		return "", "", jwtErr
	}
	return "", "", errNoVerifier
}

func verifySupabase(secret []byte, token string) (string, string, error) {
	claims := &supabaseClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}
	if claims.Subject == "" {
		return "", "", errors.New("token has no subject")
	}
	return claims.Subject, claims.Email, nil
}
