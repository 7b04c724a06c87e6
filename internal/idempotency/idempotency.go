// Package idempotency gives mutating operations at-most-one-effect semantics.
// A key is scoped by (tenant, action, user); the first completed execution
// stores the response, and replays within the TTL return it verbatim.
// Replays with a different request body are refused.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solvereign/backend/internal/apperr"
)

// Record is a stored idempotency outcome.
type Record struct {
	TenantID            string
	ActionKey           string
	UserID              string
	RequestFingerprint  string
	ResponseFingerprint string
	ResponseBody        []byte
	StatusCode          int
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Completed reports whether a response has been recorded yet.
func (r *Record) Completed() bool { return r.StatusCode != 0 }

// Store persists records.
type Store interface {
	Get(ctx context.Context, tenantID, actionKey, userID string) (*Record, error)
	Put(ctx context.Context, r *Record) error
	Delete(ctx context.Context, tenantID, actionKey, userID string) error
}

// Fingerprint hashes the canonical form of a JSON body. Canonicalization is
// decode-then-encode: encoding/json sorts map keys, so byte-level formatting
// differences wash out.
func Fingerprint(body []byte) string {
	if len(body) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		// Non-JSON bodies hash as-is.
		sum := sha256.Sum256(body)
		return hex.EncodeToString(sum[:])
	}
	canonical, _ := json.Marshal(v)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Service evaluates and records idempotency keys.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl, now: time.Now}
}

// Check looks up a key before the handler runs.
// Returns (replay, nil) when a completed record with a matching body exists;
// (nil, nil) when the handler should execute; an IDEMPOTENCY_CONFLICT error
// when the key was used with a different body.
func (s *Service) Check(ctx context.Context, tenantID, actionKey, userID string, requestBody []byte) (*Record, error) {
	if actionKey == "" {
		return nil, nil
	}
	rec, err := s.store.Get(ctx, tenantID, actionKey, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("idempotency lookup: %w", err))
	}
	if rec == nil {
		return nil, nil
	}
	if s.now().After(rec.ExpiresAt) {
		// Expired keys behave as unseen.
		_ = s.store.Delete(ctx, tenantID, actionKey, userID)
		return nil, nil
	}
	if rec.RequestFingerprint != Fingerprint(requestBody) {
		return nil, apperr.IdempotencyConflict()
	}
	if !rec.Completed() {
		// Begin marker without a recorded response: the first execution
		// is still in flight.
		return nil, apperr.ResourceBusy()
	}
	return rec, nil
}

// Begin persists an in-flight marker before the handler runs, so a concurrent
// retry with the same key gets RESOURCE_BUSY instead of a second execution.
// The marker is overwritten by Record or removed by Abandon.
func (s *Service) Begin(ctx context.Context, tenantID, actionKey, userID string, requestBody []byte) error {
	if actionKey == "" {
		return nil
	}
	now := s.now().UTC()
	rec := &Record{
		TenantID:           tenantID,
		ActionKey:          actionKey,
		UserID:             userID,
		RequestFingerprint: Fingerprint(requestBody),
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return apperr.Internal(fmt.Errorf("idempotency begin: %w", err))
	}
	return nil
}

// Abandon drops the in-flight marker after a failed execution so the key can
// be retried.
func (s *Service) Abandon(ctx context.Context, tenantID, actionKey, userID string) {
	if actionKey == "" {
		return
	}
	_ = s.store.Delete(ctx, tenantID, actionKey, userID)
}

// Record stores the response of a completed execution.
func (s *Service) Record(ctx context.Context, tenantID, actionKey, userID string, requestBody []byte, statusCode int, responseBody []byte) error {
	if actionKey == "" {
		return nil
	}
	now := s.now().UTC()
	rec := &Record{
		TenantID:            tenantID,
		ActionKey:           actionKey,
		UserID:              userID,
		RequestFingerprint:  Fingerprint(requestBody),
		ResponseFingerprint: Fingerprint(responseBody),
		ResponseBody:        responseBody,
		StatusCode:          statusCode,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return apperr.Internal(fmt.Errorf("idempotency record: %w", err))
	}
	return nil
}
