package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Store persists approval requests and their decisions.
type Store interface {
	CreateRequest(ctx context.Context, r *Request) error
	// GetRequest loads a request with its decisions; nil when absent or
	// owned by another tenant.
	GetRequest(ctx context.Context, tenantID, requestID string) (*Request, error)
	// LatestByEntity returns the newest request for (action, entityID), any
	// status; nil when none exists.
	LatestByEntity(ctx context.Context, tenantID, action, entityID string) (*Request, error)
	ListPending(ctx context.Context, tenantID string) ([]*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error
	// AddDecision inserts one approver's verdict. A second verdict from the
	// same approver is a caller bug; the store rejects it.
	AddDecision(ctx context.Context, d *Decision) error
}

// ============================================================================
// IN-MEMORY STORE — dev mode and tests
// ============================================================================

type MemoryStore struct {
	mu        sync.Mutex
	requests  map[string]*Request
	decisions map[string][]Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*Request),
		decisions: make(map[string][]Decision),
	}
}

func (m *MemoryStore) copyRequest(r *Request) *Request {
	cp := *r
	if r.ReviewDueAt != nil {
		t := *r.ReviewDueAt
		cp.ReviewDueAt = &t
	}
	cp.Decisions = append([]Decision(nil), m.decisions[r.ID]...)
	return &cp
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return errors.New("approval request already exists")
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, tenantID, requestID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	return m.copyRequest(r), nil
}

func (m *MemoryStore) LatestByEntity(ctx context.Context, tenantID, action, entityID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Request
	for _, r := range m.requests {
		if r.TenantID != tenantID || r.Action != action || r.EntityID != entityID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return m.copyRequest(latest), nil
}

func (m *MemoryStore) ListPending(ctx context.Context, tenantID string) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.requests {
		if r.TenantID == tenantID && r.Status == StatusPending {
			out = append(out, m.copyRequest(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.requests[r.ID]
	if !ok || existing.TenantID != r.TenantID {
		return errors.New("approval request not found")
	}
	cp := *r
	cp.Decisions = nil
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) AddDecision(ctx context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.decisions[d.RequestID] {
		if existing.ApproverID == d.ApproverID {
			return errors.New("approver already decided")
		}
	}
	m.decisions[d.RequestID] = append(m.decisions[d.RequestID], *d)
	return nil
}

// ============================================================================
// POSTGRES STORE
// ============================================================================

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *Request) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO approval_requests
		 (id, tenant_id, action, entity_type, entity_id, risk_level, required_approvals, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.TenantID, r.Action, r.EntityType, r.EntityID,
		string(r.RiskLevel), r.RequiredApprovals, r.Status, r.CreatedBy, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

const requestColumns = `id, tenant_id, action, entity_type, entity_id,
	risk_level, required_approvals, status, created_by, created_at, review_due_at`

func scanRequest(row interface{ Scan(...interface{}) error }) (*Request, error) {
	r := &Request{}
	var risk string
	var reviewDue sql.NullTime
	err := row.Scan(&r.ID, &r.TenantID, &r.Action, &r.EntityType, &r.EntityID,
		&risk, &r.RequiredApprovals, &r.Status, &r.CreatedBy, &r.CreatedAt, &reviewDue)
	if err != nil {
		return nil, err
	}
	r.RiskLevel = RiskLevel(risk)
	if reviewDue.Valid {
		t := reviewDue.Time
		r.ReviewDueAt = &t
	}
	return r, nil
}

func (p *PostgresStore) loadDecisions(ctx context.Context, r *Request) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT request_id, approver_id, decision, reason, decided_at
		 FROM approval_decisions WHERE request_id = $1 ORDER BY decided_at`,
		r.ID)
	if err != nil {
		return fmt.Errorf("load approval decisions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.RequestID, &d.ApproverID, &d.Decision, &d.Reason, &d.DecidedAt); err != nil {
			return err
		}
		r.Decisions = append(r.Decisions, d)
	}
	return rows.Err()
}

func (p *PostgresStore) GetRequest(ctx context.Context, tenantID, requestID string) (*Request, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE tenant_id = $1 AND id = $2`,
		tenantID, requestID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	if err := p.loadDecisions(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) LatestByEntity(ctx context.Context, tenantID, action, entityID string) (*Request, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests
		 WHERE tenant_id = $1 AND action = $2 AND entity_id = $3
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, action, entityID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest approval request: %w", err)
	}
	if err := p.loadDecisions(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) ListPending(ctx context.Context, tenantID string) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests
		 WHERE tenant_id = $1 AND status = 'PENDING' ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()
	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, r := range out {
		if err := p.loadDecisions(ctx, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, r *Request) error {
	var reviewDue interface{}
	if r.ReviewDueAt != nil {
		reviewDue = *r.ReviewDueAt
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = $3, review_due_at = $4
		 WHERE tenant_id = $1 AND id = $2`,
		r.TenantID, r.ID, r.Status, reviewDue)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("approval request not found")
	}
	return nil
}

func (p *PostgresStore) AddDecision(ctx context.Context, d *Decision) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO approval_decisions (request_id, approver_id, decision, reason, decided_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.RequestID, d.ApproverID, d.Decision, d.Reason, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("add approval decision: %w", err)
	}
	return nil
}
