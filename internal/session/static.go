// Package session resolves the signed-in user for the engine.
package session

import (
	"context"
	"os"
	"strings"
	"sync"
)

// UserIDEnv overrides the configured user id.
const UserIDEnv = "CAPTUR_USER_ID"

// Static returns a fixed user id. Sign-in lives outside this daemon; the
// id is handed over through config or the environment.
type Static struct {
	mu     sync.RWMutex
	userID string
}

// NewStatic creates a provider for the given user. An empty id means signed out.
func NewStatic(userID string) *Static {
	return &Static{userID: strings.TrimSpace(userID)}
}

// FromEnv prefers CAPTUR_USER_ID over fallback.
func FromEnv(fallback string) *Static {
	if v := os.Getenv(UserIDEnv); v != "" {
		return NewStatic(v)
	}
	return NewStatic(fallback)
}

// CurrentUserID returns the user id or "" when signed out.
func (s *Static) CurrentUserID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, nil
}

// Switch replaces the user, e.g. after re-authentication in the UI.
func (s *Static) Switch(userID string) {
	s.mu.Lock()
	s.userID = strings.TrimSpace(userID)
	s.mu.Unlock()
}
