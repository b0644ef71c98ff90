// Package auth guards internal endpoints with a shared secret or a service
// token signed with that secret.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SecretHeader carries the shared secret on internal calls.
const SecretHeader = "x-internal-secret"

const issuer = "pow"

type contextKey string

const callerContextKey contextKey = "caller"

// ErrNoSecret is returned when no internal secret is configured.
var ErrNoSecret = errors.New("internal secret not configured")

// Claims identify the calling service.
type Claims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

// GenerateToken issues an HS256 service token.
func GenerateToken(service, secret string, duration time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken verifies a service token and returns the service name.
func ValidateToken(tokenString, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Service == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Service, nil
}

// Authenticate checks the request's shared secret header, then its bearer
// token, and returns the caller name.
func Authenticate(r *http.Request, secret string) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}

	if provided := r.Header.Get(SecretHeader); provided != "" {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1 {
			return "internal", nil
		}
		return "", errors.New("invalid secret")
	}

	authHeader := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return "", errors.New("missing credentials")
	}
	return ValidateToken(tokenString, secret)
}

// Middleware rejects requests that fail Authenticate with 401.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := Authenticate(r, secret)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns the authenticated caller.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerContextKey).(string)
	return caller, ok
}
