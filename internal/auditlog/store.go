package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps per-tenant chains in memory. Tests and dev mode.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]*Event // tenantID → chain
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]*Event)}
}

func (m *MemoryStore) Append(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.events[e.TenantID]
	prev := GenesisHash
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}
	m.nextID++
	e.ID = m.nextID
	e.PrevHash = prev
	e.Hash = ChainHash(prev, e)

	cp := *e
	m.events[e.TenantID] = append(chain, &cp)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, tenantID string, afterID int64, limit int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Event
	for _, e := range m.events[tenantID] {
		if e.ID <= afterID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PostgresStore is the durable Store. Appends serialize on the tenant's last
// row via a transaction-scoped advisory lock so the chain never forks.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, e *Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Serialize appends per tenant for the duration of this tx.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('audit:' || COALESCE($1, '')))`, nullable(e.TenantID)); err != nil {
		return fmt.Errorf("chain lock: %w", err)
	}

	prev := GenesisHash
	err = tx.QueryRowContext(ctx,
		`SELECT hash FROM audit_events
		 WHERE tenant_id IS NOT DISTINCT FROM $1
		 ORDER BY id DESC LIMIT 1`, nullable(e.TenantID)).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("last hash: %w", err)
	}

	e.PrevHash = prev
	e.Hash = ChainHash(prev, e)

	var details interface{}
	if e.Details != nil {
		b, _ := json.Marshal(e.Details)
		details = string(b)
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO audit_events
		 (ts, tenant_id, user_id, event_type, entity_type, entity_id, severity, details, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
		 RETURNING id`,
		e.TS, nullable(e.TenantID), nullable(e.UserID), e.EventType, e.EntityType,
		e.EntityID, e.Severity, details, e.PrevHash, e.Hash).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) List(ctx context.Context, tenantID string, afterID int64, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, ts, COALESCE(tenant_id::text, ''), COALESCE(user_id::text, ''),
		        event_type, entity_type, entity_id, severity, COALESCE(details::text, ''), prev_hash, hash
		 FROM audit_events
		 WHERE tenant_id IS NOT DISTINCT FROM $1 AND id > $2
		 ORDER BY id ASC LIMIT $3`,
		nullable(tenantID), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var details string
		if err := rows.Scan(&e.ID, &e.TS, &e.TenantID, &e.UserID, &e.EventType,
			&e.EntityType, &e.EntityID, &e.Severity, &details, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		if details != "" {
			json.Unmarshal([]byte(details), &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
