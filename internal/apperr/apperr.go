// Package apperr defines the error taxonomy shared by every HTTP handler and
// service. Each error carries a stable machine-readable code, a taxonomy
// kind, and the HTTP status it maps to. Handlers never invent status codes;
// they translate an *Error through the respond helper.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind buckets errors by recovery semantics.
type Kind string

const (
	KindAuth       Kind = "AUTH"       // missing/expired/revoked session
	KindAuthz      Kind = "AUTHZ"      // permission denied, tenant mismatch
	KindState      Kind = "STATE"      // precondition violations
	KindValidation Kind = "VALIDATION" // schema/format/range
	KindConflict   Kind = "CONFLICT"   // concurrent mutation, duplicate key
	KindGate       Kind = "GATE"       // business gate refusals
	KindResource   Kind = "RESOURCE"   // advisory lock busy, queue full
	KindDependency Kind = "DEPENDENCY" // storage/solver failure
	KindRate       Kind = "RATE"       // rate-limit exhaustion
)

// Error is the canonical application error.
type Error struct {
	Code    string      `json:"error_code"`
	Kind    Kind        `json:"-"`
	Status  int         `json:"-"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetails returns a copy carrying structured details.
func (e *Error) WithDetails(details interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// New constructs an application error.
func New(kind Kind, code string, status int, message string) *Error {
	return &Error{Code: code, Kind: kind, Status: status, Message: message}
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ============================================================================
// CONSTRUCTORS — one per stable error code
// ============================================================================

func AuthRequired() *Error {
	return New(KindAuth, "AUTH_REQUIRED", http.StatusUnauthorized, "authentication required")
}

func Forbidden(message string) *Error {
	if message == "" {
		message = "permission denied"
	}
	return New(KindAuthz, "FORBIDDEN", http.StatusForbidden, message)
}

// NotFound is also the cross-tenant answer: existence never leaks.
func NotFound(entity string) *Error {
	return New(KindState, "NOT_FOUND", http.StatusNotFound, entity+" not found")
}

func AlreadyLocked() *Error {
	return New(KindState, "ALREADY_LOCKED", http.StatusConflict, "plan is locked and refuses all mutation")
}

func KillSwitchActive(reason string) *Error {
	e := New(KindState, "KILL_SWITCH_ACTIVE", http.StatusForbidden, "capability disabled by kill switch")
	if reason != "" {
		e.Details = map[string]string{"reason": reason}
	}
	return e
}

func SiteNotEnabled() *Error {
	return New(KindState, "SITE_NOT_ENABLED", http.StatusForbidden, "site is not enabled for this capability")
}

func ReasonTooShort(min int) *Error {
	return New(KindValidation, "REASON_TOO_SHORT", http.StatusBadRequest,
		fmt.Sprintf("reason must be at least %d characters", min))
}

func InputTooLarge(limit int) *Error {
	return New(KindValidation, "INPUT_TOO_LARGE", http.StatusBadRequest,
		fmt.Sprintf("input exceeds maximum of %d items", limit))
}

func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION_FAILED", http.StatusBadRequest, message)
}

func ViolationsBlockPublish(details interface{}) *Error {
	e := New(KindGate, "VIOLATIONS_BLOCK_PUBLISH", http.StatusConflict,
		"plan has blocking violations and cannot be published")
	e.Details = details
	return e
}

func ApprovalRequired(requestID string) *Error {
	e := New(KindGate, "APPROVAL_REQUIRED", http.StatusConflict, "action requires approval before proceeding")
	if requestID != "" {
		e.Details = map[string]string{"approval_request_id": requestID}
	}
	return e
}

func SessionAlreadyExists(sessionID string) *Error {
	e := New(KindConflict, "SESSION_ALREADY_EXISTS", http.StatusConflict,
		"an open repair session already exists for this plan")
	if sessionID != "" {
		e.Details = map[string]string{"session_id": sessionID}
	}
	return e
}

func SessionExpired() *Error {
	return New(KindState, "SESSION_EXPIRED", http.StatusGone, "repair session has expired")
}

func SessionNotFound() *Error {
	return New(KindState, "SESSION_NOT_FOUND", http.StatusNotFound, "repair session not found")
}

func PreviewStale() *Error {
	return New(KindConflict, "PREVIEW_STALE", http.StatusConflict,
		"plan changed since preview was computed; recreate the session")
}

func IdempotencyConflict() *Error {
	return New(KindConflict, "IDEMPOTENCY_CONFLICT", http.StatusConflict,
		"idempotency key was already used with a different request body")
}

// SessionBusy reports advisory-lock contention on the repair path.
func SessionBusy() *Error {
	return New(KindResource, "SESSION_BUSY", http.StatusServiceUnavailable,
		"another repair operation is in progress for this plan")
}

func ResourceBusy() *Error {
	return New(KindResource, "RESOURCE_BUSY", http.StatusServiceUnavailable,
		"resource is busy; retry with the same idempotency key")
}

func RateLimited() *Error {
	return New(KindRate, "RATE_LIMITED", http.StatusTooManyRequests, "rate limit exceeded")
}

func TenantCodeExists(code string) *Error {
	return New(KindConflict, "TENANT_CODE_EXISTS", http.StatusConflict,
		fmt.Sprintf("tenant code %q already exists", code))
}

func UserEmailExists(email string) *Error {
	return New(KindConflict, "USER_EMAIL_EXISTS", http.StatusConflict,
		fmt.Sprintf("user email %q already exists", email))
}

func UnknownRole(role string) *Error {
	return New(KindValidation, "UNKNOWN_ROLE", http.StatusBadRequest,
		fmt.Sprintf("unknown role %q", role))
}

func Conflict(message string) *Error {
	return New(KindConflict, "CONFLICT", http.StatusConflict, message)
}

// Internal wraps a dependency failure. The cause is logged server-side and
// never serialized to the client.
func Internal(cause error) *Error {
	e := New(KindDependency, "INTERNAL", http.StatusInternalServerError, "internal error")
	e.cause = cause
	return e
}
