package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/solvereign/backend/internal/idempotency"
	"github.com/solvereign/backend/internal/session"
)

// IdempotencyHeader carries the client-chosen key for mutating requests.
const IdempotencyHeader = "Idempotency-Key"

// ReplayHeader marks a response served from the idempotency store.
const ReplayHeader = "X-Idempotency-Replay"

// recorder buffers the response so a completed execution can be stored.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// Idempotency replays completed mutations and records new ones. A key is
// marked in flight while its first execution runs; duplicates during that
// window get RESOURCE_BUSY. Requests without the key header pass through
// untouched. Only successful responses (2xx) are stored; failures abandon
// the marker and may be retried with the same key.
func Idempotency(svc *idempotency.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if svc == nil || key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete) {
				next.ServeHTTP(w, r)
				return
			}
			sc, err := session.FromContext(r.Context())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			actionKey := r.Method + " " + r.URL.Path + " " + key
			replay, err := svc.Check(r.Context(), sc.TenantID, actionKey, sc.User.ID, body)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			if replay != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(replay.StatusCode)
				w.Write(replay.ResponseBody)
				return
			}

			// Mark the key in flight so a concurrent duplicate gets
			// RESOURCE_BUSY instead of a second execution.
			if err := svc.Begin(r.Context(), sc.TenantID, actionKey, sc.User.ID, body); err != nil {
				WriteError(w, r, err)
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				_ = svc.Record(r.Context(), sc.TenantID, actionKey, sc.User.ID,
					body, rec.status, rec.body.Bytes())
			} else {
				svc.Abandon(r.Context(), sc.TenantID, actionKey, sc.User.ID)
			}
		})
	}
}
