package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/solver"
)

// PostgresStore is the durable Store. The schema-level triggers enforce
// snapshot immutability and the LOCKED-plan row guard independently of the
// service layer.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const planColumns = `id, tenant_id, site_id, forecast_version_id, state, seed, inputs::text,
	input_hash, output_hash, policy_hash, block_count, warn_count,
	COALESCE(current_snapshot_id::text, ''), publish_count, freeze_until,
	COALESCE(repair_source_snapshot_id::text, ''), COALESCE(failure_reason, ''), created_at`

func scanPlan(row interface{ Scan(...interface{}) error }) (*PlanVersion, error) {
	p := &PlanVersion{}
	var state, inputs string
	var freezeUntil sql.NullTime
	err := row.Scan(&p.ID, &p.TenantID, &p.SiteID, &p.ForecastVersionID, &state, &p.Seed, &inputs,
		&p.InputHash, &p.OutputHash, &p.PolicyHash, &p.BlockCount, &p.WarnCount,
		&p.CurrentSnapshotID, &p.PublishCount, &freezeUntil,
		&p.RepairSourceSnapshotID, &p.FailureReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.State = core.PlanState(state)
	if freezeUntil.Valid {
		t := freezeUntil.Time
		p.FreezeUntil = &t
	}
	var in solver.Inputs
	if err := json.Unmarshal([]byte(inputs), &in); err != nil {
		return nil, fmt.Errorf("decode plan inputs: %w", err)
	}
	p.Inputs = in
	return p, nil
}

func (s *PostgresStore) CreatePlan(ctx context.Context, p *PlanVersion) error {
	inputs, err := json.Marshal(p.Inputs)
	if err != nil {
		return fmt.Errorf("encode plan inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plan_versions
		 (id, tenant_id, site_id, forecast_version_id, state, seed, inputs, input_hash,
		  output_hash, policy_hash, block_count, warn_count, publish_count,
		  repair_source_snapshot_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.TenantID, p.SiteID, p.ForecastVersionID, string(p.State), p.Seed, string(inputs),
		p.InputHash, p.OutputHash, p.PolicyHash, p.BlockCount, p.WarnCount, p.PublishCount,
		nullableUUID(p.RepairSourceSnapshotID), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, tenantID, planID string) (*PlanVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plan_versions WHERE tenant_id = $1 AND id = $2`,
		tenantID, planID)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPlans(ctx context.Context, tenantID string, f ListFilter) ([]*PlanVersion, error) {
	query := `SELECT ` + planColumns + ` FROM plan_versions WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if f.SiteID != "" {
		args = append(args, f.SiteID)
		query += fmt.Sprintf(" AND site_id = $%d", len(args))
	}
	if f.State != "" {
		args = append(args, string(f.State))
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []*PlanVersion
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePlan(ctx context.Context, p *PlanVersion) error {
	var freezeUntil interface{}
	if p.FreezeUntil != nil {
		freezeUntil = *p.FreezeUntil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_versions
		 SET state = $3, input_hash = $4, output_hash = $5, policy_hash = $6,
		     block_count = $7, warn_count = $8, current_snapshot_id = $9,
		     publish_count = $10, freeze_until = $11, failure_reason = $12
		 WHERE tenant_id = $1 AND id = $2`,
		p.TenantID, p.ID, string(p.State), p.InputHash, p.OutputHash, p.PolicyHash,
		p.BlockCount, p.WarnCount, nullableUUID(p.CurrentSnapshotID),
		p.PublishCount, freezeUntil, nullableText(p.FailureReason))
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update plan: not found")
	}
	return nil
}

func (s *PostgresStore) ReplaceAssignments(ctx context.Context, tenantID, planID string, assignments []core.Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM plan_assignments WHERE tenant_id = $1 AND plan_version_id = $2`,
		tenantID, planID); err != nil {
		return fmt.Errorf("clear assignments: %w", err)
	}
	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plan_assignments (id, plan_version_id, tenant_id, tour_id, driver_id, start_time, end_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), planID, tenantID, a.TourID, a.DriverID, a.StartTime, a.EndTime); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetAssignments(ctx context.Context, tenantID, planID string) ([]core.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tour_id, driver_id, start_time, end_time
		 FROM plan_assignments
		 WHERE tenant_id = $1 AND plan_version_id = $2
		 ORDER BY start_time, tour_id`, tenantID, planID)
	if err != nil {
		return nil, fmt.Errorf("get assignments: %w", err)
	}
	defer rows.Close()

	var out []core.Assignment
	for rows.Next() {
		var a core.Assignment
		if err := rows.Scan(&a.TourID, &a.DriverID, &a.StartTime, &a.EndTime); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddPin(ctx context.Context, pin *core.Pin) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_pins (id, plan_version_id, tenant_id, pin_type, pin_key, driver_id, tour_id, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pin.ID, pin.PlanVersionID, pin.TenantID, pin.PinType, pin.PinKey,
		nullableText(pin.DriverID), nullableText(pin.TourID), pin.CreatedBy, pin.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("add pin: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePin(ctx context.Context, tenantID, planID, pinID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM plan_pins WHERE tenant_id = $1 AND plan_version_id = $2 AND id = $3`,
		tenantID, planID, pinID)
	if err != nil {
		return false, fmt.Errorf("delete pin: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) ListPins(ctx context.Context, tenantID, planID string) ([]core.Pin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plan_version_id, tenant_id, pin_type, pin_key,
		        COALESCE(driver_id, ''), COALESCE(tour_id, ''), created_by, created_at
		 FROM plan_pins
		 WHERE tenant_id = $1 AND plan_version_id = $2
		 ORDER BY created_at, id`, tenantID, planID)
	if err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}
	defer rows.Close()

	var out []core.Pin
	for rows.Next() {
		var p core.Pin
		if err := rows.Scan(&p.ID, &p.PlanVersionID, &p.TenantID, &p.PinType, &p.PinKey,
			&p.DriverID, &p.TourID, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *Snapshot) error {
	assignments, err := json.Marshal(snap.Assignments)
	if err != nil {
		return fmt.Errorf("encode assignments snapshot: %w", err)
	}
	audits, err := json.Marshal(snap.AuditResults)
	if err != nil {
		return fmt.Errorf("encode audit snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plan_snapshots
		 (snapshot_id, plan_version_id, tenant_id, version_number, published_at, published_by,
		  publish_reason, freeze_until, input_hash, matrix_hash, output_hash, evidence_hash,
		  policy_hash, assignments_snapshot, audit_results_snapshot, evidence_pack, snapshot_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15::jsonb, $16::jsonb, $17)`,
		snap.SnapshotID, snap.PlanVersionID, snap.TenantID, snap.VersionNumber, snap.PublishedAt,
		snap.PublishedBy, snap.PublishReason, snap.FreezeUntil, snap.InputHash, snap.MatrixHash,
		snap.OutputHash, snap.EvidenceHash, snap.PolicyHash, string(assignments), string(audits),
		string(snap.EvidencePack), string(snap.Status))
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `snapshot_id, plan_version_id, tenant_id, version_number, published_at,
	published_by, publish_reason, freeze_until, input_hash, matrix_hash, output_hash,
	evidence_hash, policy_hash, assignments_snapshot::text, audit_results_snapshot::text,
	evidence_pack::text, snapshot_status`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*Snapshot, error) {
	s := &Snapshot{}
	var assignments, audits, pack, status string
	err := row.Scan(&s.SnapshotID, &s.PlanVersionID, &s.TenantID, &s.VersionNumber, &s.PublishedAt,
		&s.PublishedBy, &s.PublishReason, &s.FreezeUntil, &s.InputHash, &s.MatrixHash, &s.OutputHash,
		&s.EvidenceHash, &s.PolicyHash, &assignments, &audits, &pack, &status)
	if err != nil {
		return nil, err
	}
	s.Status = core.SnapshotStatus(status)
	if err := json.Unmarshal([]byte(assignments), &s.Assignments); err != nil {
		return nil, fmt.Errorf("decode assignments snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(audits), &s.AuditResults); err != nil {
		return nil, fmt.Errorf("decode audit snapshot: %w", err)
	}
	s.EvidencePack = json.RawMessage(pack)
	return s, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, tenantID, snapshotID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM plan_snapshots WHERE tenant_id = $1 AND snapshot_id = $2`,
		tenantID, snapshotID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, tenantID, planID string) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM plan_snapshots
		 WHERE tenant_id = $1 AND plan_version_id = $2
		 ORDER BY version_number`, tenantID, planID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MaxVersionNumber(ctx context.Context, tenantID, planID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM plan_snapshots
		 WHERE tenant_id = $1 AND plan_version_id = $2`, tenantID, planID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) SupersedeActiveSnapshots(ctx context.Context, tenantID, planID, exceptSnapshotID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plan_snapshots SET snapshot_status = 'SUPERSEDED'
		 WHERE tenant_id = $1 AND plan_version_id = $2
		   AND snapshot_id <> $3 AND snapshot_status = 'ACTIVE'`,
		tenantID, planID, exceptSnapshotID)
	if err != nil {
		return fmt.Errorf("supersede snapshots: %w", err)
	}
	return nil
}

// PlanExistsAnyTenant supports the tenant-isolation audit trail.
func (s *PostgresStore) PlanExistsAnyTenant(ctx context.Context, planID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM plan_versions WHERE id = $1)`, planID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("plan existence check: %w", err)
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullableUUID(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableText(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
