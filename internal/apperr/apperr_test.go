package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		code   string
		status int
	}{
		{AuthRequired(), "AUTH_REQUIRED", http.StatusUnauthorized},
		{Forbidden(""), "FORBIDDEN", http.StatusForbidden},
		{NotFound("plan"), "NOT_FOUND", http.StatusNotFound},
		{AlreadyLocked(), "ALREADY_LOCKED", http.StatusConflict},
		{KillSwitchActive("incident"), "KILL_SWITCH_ACTIVE", http.StatusForbidden},
		{ViolationsBlockPublish(nil), "VIOLATIONS_BLOCK_PUBLISH", http.StatusConflict},
		{ApprovalRequired("req-1"), "APPROVAL_REQUIRED", http.StatusConflict},
		{SessionAlreadyExists("s-1"), "SESSION_ALREADY_EXISTS", http.StatusConflict},
		{SessionExpired(), "SESSION_EXPIRED", http.StatusGone},
		{SessionNotFound(), "SESSION_NOT_FOUND", http.StatusNotFound},
		{PreviewStale(), "PREVIEW_STALE", http.StatusConflict},
		{IdempotencyConflict(), "IDEMPOTENCY_CONFLICT", http.StatusConflict},
		{SessionBusy(), "SESSION_BUSY", http.StatusServiceUnavailable},
		{RateLimited(), "RATE_LIMITED", http.StatusTooManyRequests},
		{ReasonTooShort(10), "REASON_TOO_SHORT", http.StatusBadRequest},
		{InputTooLarge(1000), "INPUT_TOO_LARGE", http.StatusBadRequest},
		{Internal(errors.New("boom")), "INTERNAL", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.Status)
		})
	}
}

func TestAsExtractsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("publish plan: %w", AlreadyLocked())
	ae, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "ALREADY_LOCKED", ae.Code)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Internal(cause)

	// The cause is reachable for logging but never in the client message.
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal error", err.Message)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithDetailsCopies(t *testing.T) {
	base := NotFound("plan")
	detailed := base.WithDetails(map[string]string{"plan_id": "p-1"})

	assert.Nil(t, base.Details)
	require.NotNil(t, detailed.Details)
	assert.Equal(t, base.Code, detailed.Code)
}

func TestGateDetails(t *testing.T) {
	err := ApprovalRequired("req-42")
	details, ok := err.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "req-42", details["approval_request_id"])

	err = SessionAlreadyExists("sess-7")
	details, ok = err.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "sess-7", details["session_id"])
}
