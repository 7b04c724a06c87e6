package resolver

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/lib/pq"
)

type tupleKey struct {
	tenantID, system, entityType, externalID string
}

// MemoryStore is the in-memory Store for tests and dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	mappings map[tupleKey]*Mapping
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mappings: make(map[tupleKey]*Mapping)}
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, system, entityType, externalID string) (*Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.mappings[tupleKey{tenantID, system, entityType, externalID}]
	if !ok {
		return nil, nil
	}
	cp := *mp
	return &cp, nil
}

func (m *MemoryStore) Create(ctx context.Context, mapping *Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tupleKey{mapping.TenantID, mapping.ExternalSystem, mapping.EntityType, mapping.ExternalID}
	if _, ok := m.mappings[key]; ok {
		return ErrConflict
	}
	cp := *mapping
	m.mappings[key] = &cp
	return nil
}

func (m *MemoryStore) GetBulk(ctx context.Context, tenantID, system, entityType string, externalIDs []string) (map[string]*Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Mapping)
	for _, extID := range externalIDs {
		if mp, ok := m.mappings[tupleKey{tenantID, system, entityType, extID}]; ok {
			cp := *mp
			out[extID] = &cp
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

func (p *PostgresStore) Get(ctx context.Context, tenantID, system, entityType, externalID string) (*Mapping, error) {
	m := &Mapping{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, external_system, entity_type, external_id, internal_uuid, sync_status, created_at
		 FROM external_mappings
		 WHERE tenant_id = $1 AND external_system = $2 AND entity_type = $3 AND external_id = $4`,
		tenantID, system, entityType, externalID).
		Scan(&m.ID, &m.TenantID, &m.ExternalSystem, &m.EntityType, &m.ExternalID,
			&m.InternalUUID, &m.SyncStatus, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

func (p *PostgresStore) Create(ctx context.Context, m *Mapping) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO external_mappings
		 (id, tenant_id, external_system, entity_type, external_id, internal_uuid, sync_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.TenantID, m.ExternalSystem, m.EntityType, m.ExternalID,
		m.InternalUUID, m.SyncStatus, m.CreatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (p *PostgresStore) GetBulk(ctx context.Context, tenantID, system, entityType string, externalIDs []string) (map[string]*Mapping, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tenant_id, external_system, entity_type, external_id, internal_uuid, sync_status, created_at
		 FROM external_mappings
		 WHERE tenant_id = $1 AND external_system = $2 AND entity_type = $3 AND external_id = ANY($4)`,
		tenantID, system, entityType, pq.Array(externalIDs))
	if err != nil {
		return nil, fmt.Errorf("bulk get mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Mapping)
	for rows.Next() {
		m := &Mapping{}
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ExternalSystem, &m.EntityType,
			&m.ExternalID, &m.InternalUUID, &m.SyncStatus, &m.CreatedAt); err != nil {
			return nil, err
		}
		out[m.ExternalID] = m
	}
	return out, rows.Err()
}
