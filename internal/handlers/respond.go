// Package handlers implements the HTTP surface. Each handler decodes its
// request, pulls the SessionContext the middleware injected, delegates to a
// service, and serializes the outcome. Handlers never invent status codes;
// errors flow through the apperr taxonomy.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/middleware"
	"github.com/solvereign/backend/internal/session"
)

// maxBodyBytes bounds request bodies; solver inputs are the largest payload.
const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("malformed request body")
	}
	return nil
}

// mustSession returns the injected session context; the auth middleware
// guarantees it exists on protected routes.
func mustSession(w http.ResponseWriter, r *http.Request) (*session.SessionContext, bool) {
	sc, err := session.FromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, apperr.AuthRequired())
		return nil, false
	}
	return sc, true
}
