// Package session implements cookie-bound server sessions and the RBAC
// evaluation every request goes through. The raw cookie value never touches
// storage; only its sha256 does.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/identity"
)

// Manager issues, validates, and revokes sessions.
type Manager struct {
	store      Store
	identities identity.Store
	ttl        time.Duration
	cookieName string
	secure     bool

	now func() time.Time // overridable in tests
}

func NewManager(store Store, identities identity.Store, ttl time.Duration, cookieName string, secure bool) *Manager {
	return &Manager{
		store:      store,
		identities: identities,
		ttl:        ttl,
		cookieName: cookieName,
		secure:     secure,
		now:        time.Now,
	}
}

// HashCookieValue maps a raw cookie value to the stored 64-hex lookup key.
func HashCookieValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Login verifies nothing itself — the identity service has already checked
// the password. It mints the cookie value and the session row.
func (m *Manager) Login(ctx context.Context, user *identity.User, siteID string) (cookieValue string, s *Session, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, apperr.Internal(fmt.Errorf("generate session token: %w", err))
	}
	cookieValue = hex.EncodeToString(raw)

	now := m.now().UTC()
	s = &Session{
		SessionID:       uuid.NewString(),
		UserID:          user.ID,
		SessionHash:     HashCookieValue(cookieValue),
		TenantID:        user.TenantID,
		SiteID:          siteID,
		IsPlatformScope: user.IsPlatform,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return "", nil, apperr.Internal(fmt.Errorf("persist session: %w", err))
	}
	return cookieValue, s, nil
}

// Validate resolves a cookie value to a SessionContext. Expired or revoked
// sessions fail closed with AUTH_REQUIRED.
func (m *Manager) Validate(ctx context.Context, cookieValue string) (*SessionContext, error) {
	if cookieValue == "" {
		return nil, apperr.AuthRequired()
	}
	s, err := m.store.GetByHash(ctx, HashCookieValue(cookieValue))
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("session lookup: %w", err))
	}
	if s == nil || s.RevokedAt != nil || !m.now().Before(s.ExpiresAt) {
		return nil, apperr.AuthRequired()
	}

	user, err := m.identities.GetUser(ctx, s.UserID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("session user lookup: %w", err))
	}
	if user == nil {
		return nil, apperr.AuthRequired()
	}

	return &SessionContext{
		SessionID:       s.SessionID,
		User:            user,
		TenantID:        s.TenantID,
		SiteID:          s.SiteID,
		IsPlatformScope: s.IsPlatformScope,
		Permissions:     identity.ResolveAll(user.Roles),
	}, nil
}

// Revoke invalidates a session (logout).
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if err := m.store.Revoke(ctx, sessionID, m.now().UTC()); err != nil {
		return apperr.Internal(fmt.Errorf("revoke session: %w", err))
	}
	return nil
}

// Cookie builds the Set-Cookie value. In production the name carries the
// __Host- prefix, which forbids Domain and requires Secure + Path=/.
func (m *Manager) Cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie() *http.Cookie {
	c := m.Cookie("", time.Unix(0, 0))
	c.MaxAge = -1
	return c
}

// CookieName exposes the configured cookie name to the middleware.
func (m *Manager) CookieName() string { return m.cookieName }

// RequirePermission enforces RBAC for a capability key.
func RequirePermission(sc *SessionContext, key string) error {
	if sc == nil {
		return apperr.AuthRequired()
	}
	if !sc.HasPermission(key) {
		return apperr.Forbidden(fmt.Sprintf("missing permission %s", key))
	}
	return nil
}
