package repair

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"github.com/solvereign/backend/internal/core"
)

// ErrOpenExists mirrors the partial unique index: at most one OPEN session
// per plan version.
var ErrOpenExists = errors.New("an open session already exists for this plan")

// Store persists repair sessions.
type Store interface {
	// Create inserts an OPEN session; ErrOpenExists when the plan already
	// has one.
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, tenantID, sessionID string) (*Session, error)
	GetOpenByPlan(ctx context.Context, tenantID, planID string) (*Session, error)
	Update(ctx context.Context, s *Session) error
}

// ============================================================================
// IN-MEMORY STORE — dev mode and tests
// ============================================================================

// MemoryStore enforces the one-OPEN invariant the way the database index
// does: atomically at insert time.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func copySession(s *Session) *Session {
	cp := *s
	if s.Preview != nil {
		p := *s.Preview
		cp.Preview = &p
	}
	if s.Undo != nil {
		u := *s.Undo
		u.Assignments = append([]core.Assignment(nil), s.Undo.Assignments...)
		u.Pins = append([]core.Pin(nil), s.Undo.Pins...)
		cp.Undo = &u
	}
	if s.AppliedAt != nil {
		t := *s.AppliedAt
		cp.AppliedAt = &t
	}
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.PlanVersionID == s.PlanVersionID && existing.Status == core.RepairOpen {
			return ErrOpenExists
		}
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	return copySession(s), nil
}

func (m *MemoryStore) GetOpenByPlan(ctx context.Context, tenantID, planID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.PlanVersionID == planID && s.Status == core.RepairOpen {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[s.ID]
	if !ok || existing.TenantID != s.TenantID {
		return errors.New("session not found")
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

// ============================================================================
// POSTGRES STORE
// ============================================================================

// PostgresStore is the durable Store. The repair_sessions_one_open partial
// unique index turns concurrent creates into a unique violation, which maps
// to ErrOpenExists.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	preview, err := encodeJSON(s.Preview)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO repair_sessions
		 (id, tenant_id, plan_version_id, user_id, status, preview_payload, idempotency_key, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`,
		s.ID, s.TenantID, s.PlanVersionID, s.UserID, string(s.Status),
		preview, nullable(s.IdempotencyKey), s.CreatedAt, s.ExpiresAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrOpenExists
	}
	if err != nil {
		return fmt.Errorf("create repair session: %w", err)
	}
	return nil
}

const sessionColumns = `id, tenant_id, plan_version_id, user_id, status,
	COALESCE(preview_payload::text, ''), COALESCE(undo_payload::text, ''),
	COALESCE(result_plan_version_id::text, ''), COALESCE(idempotency_key, ''),
	created_at, expires_at, applied_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*Session, error) {
	s := &Session{}
	var status, preview, undo string
	var appliedAt sql.NullTime
	err := row.Scan(&s.ID, &s.TenantID, &s.PlanVersionID, &s.UserID, &status,
		&preview, &undo, &s.ResultPlanVersionID, &s.IdempotencyKey,
		&s.CreatedAt, &s.ExpiresAt, &appliedAt)
	if err != nil {
		return nil, err
	}
	s.Status = core.RepairStatus(status)
	if preview != "" {
		s.Preview = &Preview{}
		if err := json.Unmarshal([]byte(preview), s.Preview); err != nil {
			return nil, fmt.Errorf("decode preview payload: %w", err)
		}
	}
	if undo != "" {
		s.Undo = &UndoPayload{}
		if err := json.Unmarshal([]byte(undo), s.Undo); err != nil {
			return nil, fmt.Errorf("decode undo payload: %w", err)
		}
	}
	if appliedAt.Valid {
		t := appliedAt.Time
		s.AppliedAt = &t
	}
	return s, nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM repair_sessions WHERE tenant_id = $1 AND id = $2`,
		tenantID, sessionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repair session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) GetOpenByPlan(ctx context.Context, tenantID, planID string) (*Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM repair_sessions
		 WHERE tenant_id = $1 AND plan_version_id = $2 AND status = 'OPEN'`,
		tenantID, planID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open repair session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) Update(ctx context.Context, s *Session) error {
	preview, err := encodeJSON(s.Preview)
	if err != nil {
		return err
	}
	undo, err := encodeJSON(s.Undo)
	if err != nil {
		return err
	}
	var appliedAt interface{}
	if s.AppliedAt != nil {
		appliedAt = *s.AppliedAt
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE repair_sessions
		 SET status = $3, preview_payload = $4::jsonb, undo_payload = $5::jsonb,
		     result_plan_version_id = $6, applied_at = $7
		 WHERE tenant_id = $1 AND id = $2`,
		s.TenantID, s.ID, string(s.Status), preview, undo,
		nullable(s.ResultPlanVersionID), appliedAt)
	if err != nil {
		return fmt.Errorf("update repair session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("repair session not found")
	}
	return nil
}

func encodeJSON(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case *Preview:
		if val == nil {
			return nil, nil
		}
	case *UndoPayload:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode session payload: %w", err)
	}
	return string(data), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
