package handlers

import (
	"net/http"

	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/middleware"
	"github.com/solvereign/backend/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	SiteID   string `json:"site_id,omitempty"`
}

type loginResponse struct {
	UserID          string   `json:"user_id"`
	Email           string   `json:"email"`
	TenantID        string   `json:"tenant_id,omitempty"`
	Roles           []string `json:"roles"`
	IsPlatformScope bool     `json:"is_platform_scope"`
	ExpiresAt       string   `json:"expires_at"`
}

// HandleLogin verifies credentials and issues the session cookie.
func HandleLogin(identities *identity.Service, sessions *session.Manager, audit *auditlog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}

		user, err := identities.VerifyPassword(r.Context(), req.Email, req.Password)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}

		cookieValue, s, err := sessions.Login(r.Context(), user, req.SiteID)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		http.SetCookie(w, sessions.Cookie(cookieValue, s.ExpiresAt))

		if audit != nil {
			audit.Log(r.Context(), &auditlog.Event{
				TenantID:   user.TenantID,
				UserID:     user.ID,
				EventType:  auditlog.EventLogin,
				EntityType: "session",
				EntityID:   s.SessionID,
				Severity:   auditlog.SeverityInfo,
			})
		}

		writeJSON(w, http.StatusOK, loginResponse{
			UserID:          user.ID,
			Email:           user.Email,
			TenantID:        user.TenantID,
			Roles:           user.Roles,
			IsPlatformScope: user.IsPlatform,
			ExpiresAt:       s.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
}

// HandleLogout revokes the session and clears the cookie.
func HandleLogout(sessions *session.Manager, audit *auditlog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		if err := sessions.Revoke(r.Context(), sc.SessionID); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		http.SetCookie(w, sessions.ClearCookie())

		if audit != nil {
			audit.Log(r.Context(), &auditlog.Event{
				TenantID:   sc.TenantID,
				UserID:     sc.User.ID,
				EventType:  auditlog.EventLogout,
				EntityType: "session",
				EntityID:   sc.SessionID,
				Severity:   auditlog.SeverityInfo,
			})
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	}
}

// HandleMe describes the calling session.
func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}
