package http

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"kesefly/internal/core"
	"kesefly/internal/log"
)

// UserStore resolves API keys to users.
type UserStore interface {
	UserByAPIKeyHash(ctx context.Context, hash string) (core.User, error)
}

type userKey struct{}

// HashAPIKey is the digest stored for a key; keys are never stored.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new random key with the "kf_" prefix.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "kf_" + hex.EncodeToString(b), nil
}

// requireUser authenticates the request by API key and stores the user's
// ID in the context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := APIKey(r)
		if key == "" {
			writeError(w, r, fmt.Errorf("missing api key: %w", core.ErrUnauthorized))
			return
		}
		user, err := s.users.UserByAPIKeyHash(r.Context(), HashAPIKey(key))
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, r, fmt.Errorf("invalid api key: %w", core.ErrUnauthorized))
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, user.ID)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}
