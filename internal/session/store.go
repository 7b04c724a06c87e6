package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Session is a server-side session row. Lookup is always by SessionHash.
type Session struct {
	SessionID       string
	UserID          string
	SessionHash     string // 64-hex sha256 of the cookie value
	TenantID        string
	SiteID          string
	IsPlatformScope bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
	RevokedAt       *time.Time
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	GetByHash(ctx context.Context, hash string) (*Session, error)
	Revoke(ctx context.Context, sessionID string, at time.Time) error
}

// MemoryStore is the in-memory Store used by tests and dev mode.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*Session
	byID   map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Session),
		byID:   make(map[string]*Session),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.byHash[s.SessionHash] = &cp
	m.byID[s.SessionID] = &cp
	return nil
}

func (m *MemoryStore) GetByHash(ctx context.Context, hash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok {
		return nil
	}
	s.RevokedAt = &at
	return nil
}

// PostgresStore is the durable Store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	var tenantID, siteID interface{}
	if s.TenantID != "" {
		tenantID = s.TenantID
	}
	if s.SiteID != "" {
		siteID = s.SiteID
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, session_hash, tenant_id, site_id,
		                       is_platform_scope, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.SessionID, s.UserID, s.SessionHash, tenantID, siteID,
		s.IsPlatformScope, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*Session, error) {
	s := &Session{}
	var tenantID, siteID sql.NullString
	var revokedAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, session_hash, tenant_id, site_id,
		        is_platform_scope, created_at, expires_at, revoked_at
		 FROM sessions WHERE session_hash = $1`, hash).
		Scan(&s.SessionID, &s.UserID, &s.SessionHash, &tenantID, &siteID,
			&s.IsPlatformScope, &s.CreatedAt, &s.ExpiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.TenantID = tenantID.String
	s.SiteID = siteID.String
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return s, nil
}

func (p *PostgresStore) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE session_id = $1 AND revoked_at IS NULL`,
		sessionID, at)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
