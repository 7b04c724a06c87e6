package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

type scopeKey struct {
	tenantID, actionKey, userID string
}

// MemoryStore is the in-memory Store for tests and dev mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[scopeKey]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[scopeKey]*Record)}
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, actionKey, userID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[scopeKey{tenantID, actionKey, userID}]
	if !ok {
		return nil, nil
	}
	cp := *r
	cp.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return &cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.ResponseBody = append([]byte(nil), r.ResponseBody...)
	m.records[scopeKey{r.TenantID, r.ActionKey, r.UserID}] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, tenantID, actionKey, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, scopeKey{tenantID, actionKey, userID})
	return nil
}

// PostgresStore is the durable Store. user_id uses the zero UUID for
// user-agnostic keys so the unique index has a single shape.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const zeroUUID = "00000000-0000-0000-0000-000000000000"

func userScope(userID string) string {
	if userID == "" {
		return zeroUUID
	}
	return userID
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, actionKey, userID string) (*Record, error) {
	r := &Record{}
	var uid, body string
	err := p.db.QueryRowContext(ctx,
		`SELECT tenant_id, action_key, COALESCE(user_id, $4::uuid), request_fingerprint,
		        response_fingerprint, COALESCE(response_body::text, ''), status_code, created_at, expires_at
		 FROM idempotency_keys
		 WHERE tenant_id = $1 AND action_key = $2
		   AND COALESCE(user_id, $4::uuid) = $3::uuid`,
		tenantID, actionKey, userScope(userID), zeroUUID).
		Scan(&r.TenantID, &r.ActionKey, &uid, &r.RequestFingerprint,
			&r.ResponseFingerprint, &body, &r.StatusCode, &r.CreatedAt, &r.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	if uid != zeroUUID {
		r.UserID = uid
	}
	r.ResponseBody = []byte(body)
	return r, nil
}

func (p *PostgresStore) Put(ctx context.Context, r *Record) error {
	var uid interface{}
	if r.UserID != "" {
		uid = r.UserID
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys
		 (tenant_id, action_key, user_id, request_fingerprint, response_fingerprint,
		  response_body, status_code, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
		 ON CONFLICT (tenant_id, action_key, COALESCE(user_id, '00000000-0000-0000-0000-000000000000'::uuid))
		 DO UPDATE SET response_fingerprint = EXCLUDED.response_fingerprint,
		               response_body = EXCLUDED.response_body,
		               status_code = EXCLUDED.status_code`,
		r.TenantID, r.ActionKey, uid, r.RequestFingerprint, r.ResponseFingerprint,
		nullableJSON(r.ResponseBody), r.StatusCode, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put idempotency key: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (p *PostgresStore) Delete(ctx context.Context, tenantID, actionKey, userID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys
		 WHERE tenant_id = $1 AND action_key = $2
		   AND COALESCE(user_id, $4::uuid) = $3::uuid`,
		tenantID, actionKey, userScope(userID), zeroUUID)
	return err
}
