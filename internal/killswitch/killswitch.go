// Package killswitch gates the publish and lock capabilities per
// (tenant, site). Switch state is durable; reads go through a short-TTL
// cache so a toggle becomes visible to every gate check within seconds
// without a database round trip per request.
package killswitch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/solvereign/backend/internal/core"
)

// TenantWideSite marks a switch that applies to every site of the tenant.
const TenantWideSite = "00000000-0000-0000-0000-000000000000"

// Switch is one gate row.
type Switch struct {
	TenantID   string          `json:"tenant_id"`
	SiteID     string          `json:"site_id"`
	Capability core.Capability `json:"capability"`
	Active     bool            `json:"active"`
	Reason     string          `json:"reason"`
	UpdatedBy  string          `json:"updated_by,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Store persists switches.
type Store interface {
	Set(ctx context.Context, s *Switch) error
	Get(ctx context.Context, tenantID, siteID string, capability core.Capability) (*Switch, error)
	ListActive(ctx context.Context, tenantID string) ([]*Switch, error)
}

type switchKey struct {
	tenantID, siteID string
	capability       core.Capability
}

// MemoryStore is the in-memory Store for tests and dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	switches map[switchKey]*Switch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{switches: make(map[switchKey]*Switch)}
}

func (m *MemoryStore) Set(ctx context.Context, s *Switch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.switches[switchKey{s.TenantID, s.SiteID, s.Capability}] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, siteID string, capability core.Capability) (*Switch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.switches[switchKey{tenantID, siteID, capability}]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListActive(ctx context.Context, tenantID string) ([]*Switch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Switch
	for _, s := range m.switches {
		if s.TenantID == tenantID && s.Active {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PostgresStore is the durable Store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Set(ctx context.Context, s *Switch) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO kill_switches (tenant_id, site_id, capability, active, reason, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, site_id, capability)
		 DO UPDATE SET active = EXCLUDED.active,
		               reason = EXCLUDED.reason,
		               updated_by = EXCLUDED.updated_by,
		               updated_at = EXCLUDED.updated_at`,
		s.TenantID, s.SiteID, string(s.Capability), s.Active, s.Reason, nullable(s.UpdatedBy), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, siteID string, capability core.Capability) (*Switch, error) {
	s := &Switch{}
	var capText string
	var updatedBy sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT tenant_id, site_id, capability, active, reason, updated_by, updated_at
		 FROM kill_switches
		 WHERE tenant_id = $1 AND site_id = $2 AND capability = $3`,
		tenantID, siteID, string(capability)).
		Scan(&s.TenantID, &s.SiteID, &capText, &s.Active, &s.Reason, &updatedBy, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get kill switch: %w", err)
	}
	s.Capability = core.Capability(capText)
	s.UpdatedBy = updatedBy.String
	return s, nil
}

func (p *PostgresStore) ListActive(ctx context.Context, tenantID string) ([]*Switch, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT tenant_id, site_id, capability, active, reason, updated_by, updated_at
		 FROM kill_switches WHERE tenant_id = $1 AND active`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list kill switches: %w", err)
	}
	defer rows.Close()

	var out []*Switch
	for rows.Next() {
		s := &Switch{}
		var capText string
		var updatedBy sql.NullString
		if err := rows.Scan(&s.TenantID, &s.SiteID, &capText, &s.Active, &s.Reason, &updatedBy, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Capability = core.Capability(capText)
		s.UpdatedBy = updatedBy.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
