package session

import (
	"context"
	"errors"

	"github.com/solvereign/backend/internal/identity"
)

// SessionContext is the authenticated caller identity bound to a request.
// Tenant is always taken from here, never from request headers.
type SessionContext struct {
	SessionID       string          `json:"session_id"`
	User            *identity.User  `json:"user"`
	TenantID        string          `json:"tenant_id,omitempty"`
	SiteID          string          `json:"site_id,omitempty"`
	IsPlatformScope bool            `json:"is_platform_scope"`
	Permissions     map[string]bool `json:"permissions"`
}

// HasPermission applies the RBAC rule: platform scope and platform_admin
// bypass; everyone else needs catalog membership.
func (sc *SessionContext) HasPermission(key string) bool {
	if sc.IsPlatformScope || identity.HasRole(sc.User.Roles, identity.RolePlatformAdmin) {
		return true
	}
	return sc.Permissions[key]
}

type contextKey string

const sessionCtxKey contextKey = "session_context"

// WithSession injects the session context into a request context.
func WithSession(ctx context.Context, sc *SessionContext) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sc)
}

// FromContext extracts the session context.
func FromContext(ctx context.Context) (*SessionContext, error) {
	sc, ok := ctx.Value(sessionCtxKey).(*SessionContext)
	if !ok || sc == nil {
		return nil, errors.New("session context missing")
	}
	return sc, nil
}
