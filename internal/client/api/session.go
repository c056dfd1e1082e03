package api

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"familyhub/internal/auth"
	"familyhub/internal/client/connection"
)

// ErrTokenExpired is returned by Session.Token once the bearer token lapsed.
var ErrTokenExpired = errors.New("token expired")

// Session holds the bearer token of the signed-in user. The token is only
// decoded, never verified; the server does that.
type Session struct {
	UserID    uint64
	Name      string
	ExpiresAt time.Time

	mu    sync.RWMutex
	token string
	now   func() time.Time
}

// NewSession decodes the user id, name and expiry from token.
func NewSession(token string) (*Session, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return nil, fmt.Errorf("decode token: invalid subject %q", claims.Subject)
	}
	s := &Session{UserID: userID, Name: claims.Name, token: token, now: time.Now}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Token implements connection.Credentials.
func (s *Session) Token() (string, error) {
	if s == nil {
		return "", connection.ErrMissingCredential
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", connection.ErrMissingCredential
	}
	if !s.ExpiresAt.IsZero() && !s.now().Before(s.ExpiresAt) {
		return "", ErrTokenExpired
	}
	return s.token, nil
}

// Clear forgets the token, for example on sign-out.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

var _ connection.Credentials = (*Session)(nil)
