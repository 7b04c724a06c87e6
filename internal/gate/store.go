package gate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/solvereign/backend/internal/core"
)

// CacheEntry is one row of the violations cache. Freshness is judged by
// comparing OutputHash against the plan's current output hash; a stale entry
// is never trusted by the publish gate.
type CacheEntry struct {
	PlanVersionID string
	TenantID      string
	OutputHash    string
	BlockCount    int
	WarnCount     int
	Details       []core.Violation
	ComputedAt    time.Time
}

// CacheStore persists evaluation results per plan version.
type CacheStore interface {
	Get(ctx context.Context, planVersionID string) (*CacheEntry, error)
	Put(ctx context.Context, e *CacheEntry) error
}

// MemoryCache is the in-memory CacheStore for tests and dev mode.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CacheEntry)}
}

func (m *MemoryCache) Get(ctx context.Context, planVersionID string) (*CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[planVersionID]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Details = append([]core.Violation(nil), e.Details...)
	return &cp, nil
}

func (m *MemoryCache) Put(ctx context.Context, e *CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.Details = append([]core.Violation(nil), e.Details...)
	m.entries[e.PlanVersionID] = &cp
	return nil
}

// PostgresCache is the durable CacheStore.
type PostgresCache struct {
	db *sql.DB
}

func NewPostgresCache(db *sql.DB) *PostgresCache {
	return &PostgresCache{db: db}
}

func (p *PostgresCache) Get(ctx context.Context, planVersionID string) (*CacheEntry, error) {
	e := &CacheEntry{}
	var details string
	err := p.db.QueryRowContext(ctx,
		`SELECT plan_version_id, tenant_id, output_hash, block_count, warn_count, details::text, computed_at
		 FROM violations_cache WHERE plan_version_id = $1`, planVersionID).
		Scan(&e.PlanVersionID, &e.TenantID, &e.OutputHash, &e.BlockCount, &e.WarnCount, &details, &e.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get violations cache: %w", err)
	}
	if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
		return nil, fmt.Errorf("decode violation details: %w", err)
	}
	return e, nil
}

func (p *PostgresCache) Put(ctx context.Context, e *CacheEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode violation details: %w", err)
	}
	if e.Details == nil {
		details = []byte("[]")
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO violations_cache (plan_version_id, tenant_id, output_hash, block_count, warn_count, details, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		 ON CONFLICT (plan_version_id)
		 DO UPDATE SET output_hash = EXCLUDED.output_hash,
		               block_count = EXCLUDED.block_count,
		               warn_count = EXCLUDED.warn_count,
		               details = EXCLUDED.details,
		               computed_at = EXCLUDED.computed_at`,
		e.PlanVersionID, e.TenantID, e.OutputHash, e.BlockCount, e.WarnCount, string(details), e.ComputedAt)
	if err != nil {
		return fmt.Errorf("put violations cache: %w", err)
	}
	return nil
}
