// Package middleware holds the HTTP request pipeline: trace ids, session
// authentication, rate limiting, idempotency replay, and metrics. Order
// matters and is fixed by the router: trace → metrics → auth → rate limit →
// idempotency → handler, with the limiter wrapping /auth/login directly.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/solvereign/backend/internal/apperr"
)

type traceKey struct{}

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// Trace assigns every request a trace id, honoring one supplied by the
// caller, and echoes it on the response.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(TraceHeader, traceID)
		ctx := context.WithValue(r.Context(), traceKey{}, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceID extracts the request trace id; empty when the pipeline did not run.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	TraceID   string      `json:"trace_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

// WriteError serializes an application error. Non-apperr errors collapse to
// INTERNAL without leaking their cause.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Internal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	if ae.Status == http.StatusServiceUnavailable {
		// Busy resources clear quickly; advisory locks are held for at
		// most a couple of seconds.
		w.Header().Set("Retry-After", "2")
	}
	w.WriteHeader(ae.Status)
	json.NewEncoder(w).Encode(errorBody{
		ErrorCode: ae.Code,
		Message:   ae.Message,
		TraceID:   TraceID(r.Context()),
		Details:   ae.Details,
	})
}
