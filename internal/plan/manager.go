package plan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/events"
	"github.com/solvereign/backend/internal/evidence"
	"github.com/solvereign/backend/internal/gate"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/locks"
	"github.com/solvereign/backend/internal/session"
	"github.com/solvereign/backend/internal/solver"
)

// lifecycleLockPurpose serializes every state transition of one plan.
const lifecycleLockPurpose = "lifecycle"

// CapabilityGate is the kill-switch surface the manager consults. Nil-safe:
// a nil gate permits everything.
type CapabilityGate interface {
	Check(ctx context.Context, tenantID, siteID string, capability core.Capability) error
}

// ApprovalGate is the approval-policy surface. Nil-safe.
type ApprovalGate interface {
	EnsureApproved(ctx context.Context, tenantID, action, entityID string) error
}

// existenceChecker is an optional store capability used to tell a genuinely
// missing plan apart from a cross-tenant probe.
type existenceChecker interface {
	PlanExistsAnyTenant(ctx context.Context, planID string) (bool, error)
}

// Options tunes the manager. Zero values fall back to defaults.
type Options struct {
	Killswitch          CapabilityGate
	Approvals           ApprovalGate
	FreezeDuration      time.Duration
	PublishReasonMinLen int
	PublishDeadline     time.Duration
	LockWait            time.Duration
}

// Manager drives the plan lifecycle.
type Manager struct {
	store  Store
	gates  *gate.Service
	engine solver.Solver
	pool   *solver.Pool
	locker locks.Locker
	audit  *auditlog.Logger
	bus    *events.Bus
	opts   Options
	logger *log.Logger
	now    func() time.Time
}

func NewManager(store Store, gates *gate.Service, engine solver.Solver, pool *solver.Pool,
	locker locks.Locker, audit *auditlog.Logger, bus *events.Bus, opts Options) *Manager {
	if opts.FreezeDuration == 0 {
		opts.FreezeDuration = 12 * time.Hour
	}
	if opts.PublishReasonMinLen == 0 {
		opts.PublishReasonMinLen = 10
	}
	if opts.PublishDeadline == 0 {
		opts.PublishDeadline = 10 * time.Second
	}
	if opts.LockWait == 0 {
		opts.LockWait = 2 * time.Second
	}
	return &Manager{
		store:  store,
		gates:  gates,
		engine: engine,
		pool:   pool,
		locker: locker,
		audit:  audit,
		bus:    bus,
		opts:   opts,
		logger: log.New(log.Writer(), "[PLAN] ", log.LstdFlags),
		now:    time.Now,
	}
}

// CreateDraftRequest carries the inputs for a new plan version.
type CreateDraftRequest struct {
	SiteID            string        `json:"site_id"`
	ForecastVersionID string        `json:"forecast_version_id"`
	Seed              int64         `json:"seed"`
	Inputs            solver.Inputs `json:"inputs"`
}

// CreateDraft creates a DRAFT plan version.
func (m *Manager) CreateDraft(ctx context.Context, sc *session.SessionContext, req CreateDraftRequest) (*PlanVersion, error) {
	if !sc.HasPermission(identity.PermPlanCreate) {
		return nil, apperr.Forbidden("")
	}
	if req.SiteID == "" || req.ForecastVersionID == "" {
		return nil, apperr.Validation("site_id and forecast_version_id are required")
	}
	p := &PlanVersion{
		ID:                uuid.NewString(),
		TenantID:          sc.TenantID,
		SiteID:            req.SiteID,
		ForecastVersionID: req.ForecastVersionID,
		State:             core.PlanDraft,
		Seed:              req.Seed,
		Inputs:            req.Inputs,
		InputHash:         InputHash(req.Inputs),
		CreatedAt:         m.now().UTC(),
	}
	if err := m.store.CreatePlan(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	m.logAudit(ctx, sc, auditlog.EventPlanCreated, p.ID, auditlog.SeverityInfo, map[string]interface{}{
		"site_id": p.SiteID, "forecast_version_id": p.ForecastVersionID, "seed": p.Seed,
	})
	m.publishEvent(events.TypePlanTransition, p, map[string]interface{}{"state": string(p.State)})
	return p, nil
}

// StartSolve transitions DRAFT → SOLVING and hands the plan to the solver
// pool. The call waits for the worker up to the request deadline; the worker
// finishes the transition regardless of whether the caller is still there.
func (m *Manager) StartSolve(ctx context.Context, sc *session.SessionContext, planID string) (*PlanVersion, error) {
	if !sc.HasPermission(identity.PermPlanSolve) {
		return nil, apperr.Forbidden("")
	}
	release, err := m.acquireLifecycle(ctx, sc.TenantID, planID)
	if err != nil {
		return nil, err
	}

	p, err := m.loadPlan(ctx, sc, planID)
	if err != nil {
		release()
		return nil, err
	}
	if !p.State.CanTransition(core.PlanSolving) {
		release()
		return nil, apperr.Conflict(fmt.Sprintf("plan in state %s cannot start solving", p.State))
	}
	p.State = core.PlanSolving
	p.PolicyHash = m.gates.Policy().Hash()
	if err := m.store.UpdatePlan(ctx, p); err != nil {
		release()
		return nil, apperr.Internal(err)
	}
	m.logAudit(ctx, sc, auditlog.EventPlanSolveStarted, p.ID, auditlog.SeverityInfo, nil)
	m.publishEvent(events.TypePlanTransition, p, map[string]interface{}{"state": string(p.State)})

	tenantID := sc.TenantID
	handle, err := m.pool.Submit(func(workerCtx context.Context) error {
		defer release()
		return m.runSolve(workerCtx, tenantID, planID)
	})
	if err != nil {
		// Queue full: roll the transition back so the plan can be retried.
		release()
		p.State = core.PlanDraft
		if uerr := m.store.UpdatePlan(ctx, p); uerr != nil {
			m.logger.Printf("rollback to DRAFT failed for plan %s: %v", planID, uerr)
		}
		return nil, apperr.ResourceBusy()
	}

	// Wait for completion up to the caller's deadline; a disconnect leaves
	// the worker running to completion.
	_ = handle.Wait(ctx)

	fresh, err := m.store.GetPlan(context.Background(), tenantID, planID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return fresh, nil
}

// runSolve executes on a pool worker. Uses the pool context so a caller
// disconnect never truncates the mutation.
func (m *Manager) runSolve(ctx context.Context, tenantID, planID string) error {
	p, err := m.store.GetPlan(ctx, tenantID, planID)
	if err != nil || p == nil {
		return fmt.Errorf("reload plan %s: %w", planID, err)
	}

	result, solveErr := m.engine.Solve(ctx, p.Inputs, p.Seed, m.gates.Policy())
	if solveErr != nil {
		p.State = core.PlanFailed
		p.FailureReason = solveErr.Error()
		if errors.Is(solveErr, context.Canceled) || errors.Is(solveErr, context.DeadlineExceeded) {
			p.FailureReason = "CANCELLED"
		}
		// Persist the terminal state even when the worker context is gone.
		if err := m.store.UpdatePlan(context.Background(), p); err != nil {
			return fmt.Errorf("mark plan FAILED: %w", err)
		}
		m.logAudit(context.Background(), nil, auditlog.EventPlanSolveFailed, p.ID, auditlog.SeverityWarning,
			map[string]interface{}{"tenant_id": tenantID, "reason": p.FailureReason})
		m.publishEvent(events.TypePlanTransition, p, map[string]interface{}{"state": string(p.State), "reason": p.FailureReason})
		return nil
	}

	if err := m.store.ReplaceAssignments(ctx, tenantID, planID, result.Assignments); err != nil {
		return fmt.Errorf("store assignments: %w", err)
	}
	p.OutputHash = OutputHash(result.Assignments)

	report, err := m.gates.Evaluate(ctx, tenantID, planID, p.OutputHash, requiredTours(p.Inputs), result.Assignments)
	if err != nil {
		return fmt.Errorf("evaluate violations: %w", err)
	}
	p.BlockCount = report.BlockCount
	p.WarnCount = report.WarnCount
	p.State = core.PlanSolved
	if err := m.store.UpdatePlan(ctx, p); err != nil {
		return fmt.Errorf("mark plan SOLVED: %w", err)
	}
	m.logAudit(context.Background(), nil, auditlog.EventPlanSolved, p.ID, auditlog.SeverityInfo,
		map[string]interface{}{"tenant_id": tenantID, "output_hash": p.OutputHash,
			"block_count": p.BlockCount, "warn_count": p.WarnCount})
	m.publishEvent(events.TypePlanTransition, p, map[string]interface{}{"state": string(p.State)})
	return nil
}

// PublishRequest carries the publish parameters.
type PublishRequest struct {
	PlanID      string `json:"plan_id"`
	Reason      string `json:"reason"`
	ForceReason string `json:"force_reason,omitempty"`
}

// Publish runs the gated publish. Preconditions are evaluated in a fixed
// order so each failure mode surfaces its own error code deterministically.
func (m *Manager) Publish(ctx context.Context, sc *session.SessionContext, req PublishRequest) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.PublishDeadline)
	defer cancel()

	release, err := m.acquireLifecycle(ctx, sc.TenantID, req.PlanID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := m.loadPlan(ctx, sc, req.PlanID)
	if err != nil {
		return nil, err
	}

	// 1. Locked plans refuse everything.
	if p.State == core.PlanLocked {
		return nil, apperr.AlreadyLocked()
	}
	if p.State != core.PlanSolved {
		return nil, apperr.Conflict(fmt.Sprintf("plan in state %s cannot be published", p.State))
	}

	// 2. Kill switch and site enablement.
	if m.opts.Killswitch != nil {
		if err := m.opts.Killswitch.Check(ctx, sc.TenantID, p.SiteID, core.CapabilityPublish); err != nil {
			return nil, err
		}
	}

	// 3. Approver permission.
	if !sc.HasPermission(identity.PermPlanPublish) {
		return nil, apperr.Forbidden("")
	}

	// 4. Reason length.
	if len(req.Reason) < m.opts.PublishReasonMinLen {
		return nil, apperr.ReasonTooShort(m.opts.PublishReasonMinLen)
	}

	// 5. Fresh BLOCK gate over the current output.
	assignments, err := m.store.GetAssignments(ctx, sc.TenantID, p.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	report, err := m.gates.CheckPublishAllowed(ctx, sc.TenantID, p.ID, p.OutputHash, requiredTours(p.Inputs), assignments)
	if err != nil {
		return nil, err
	}

	// Approval policy sits between the gate and the write.
	if m.opts.Approvals != nil {
		if err := m.opts.Approvals.EnsureApproved(ctx, sc.TenantID, identity.PermPlanPublish, p.ID); err != nil {
			return nil, err
		}
	}

	// 6. Freeze window of this plan or its repair source.
	if err := m.checkFreeze(ctx, sc, p, req.ForceReason); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	versionNumber, err := m.store.MaxVersionNumber(ctx, sc.TenantID, p.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	versionNumber++

	freezeUntil := now.Add(m.opts.FreezeDuration)
	policy := m.gates.Policy()
	matrixHash := MatrixHash(assignments)

	pack, packBytes, err := evidence.Build(evidence.Pack{
		PlanVersionID: p.ID,
		TenantID:      p.TenantID,
		Seed:          p.Seed,
		InputHash:     p.InputHash,
		MatrixHash:    matrixHash,
		OutputHash:    p.OutputHash,
		PolicyHash:    policy.Hash(),
		Policy:        policy.Canonical(),
		Assignments:   assignments,
		AuditResults:  report,
		PublishedAt:   now,
		Approver:      evidence.ApproverInfo{UserID: sc.User.ID, Email: sc.User.Email, Reason: req.Reason},
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	snap := &Snapshot{
		SnapshotID:    uuid.NewString(),
		PlanVersionID: p.ID,
		TenantID:      p.TenantID,
		VersionNumber: versionNumber,
		PublishedAt:   now,
		PublishedBy:   sc.User.ID,
		PublishReason: req.Reason,
		FreezeUntil:   freezeUntil,
		InputHash:     p.InputHash,
		MatrixHash:    matrixHash,
		OutputHash:    p.OutputHash,
		EvidenceHash:  pack.EvidenceHash,
		PolicyHash:    pack.PolicyHash,
		Assignments:   assignments,
		AuditResults:  report,
		EvidencePack:  packBytes,
		Status:        core.SnapshotActive,
	}
	if err := m.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, apperr.Internal(err)
	}
	if err := m.store.SupersedeActiveSnapshots(ctx, sc.TenantID, p.ID, snap.SnapshotID); err != nil {
		return nil, apperr.Internal(err)
	}

	p.State = core.PlanPublished
	p.CurrentSnapshotID = snap.SnapshotID
	p.PublishCount++
	p.FreezeUntil = &freezeUntil
	if err := m.store.UpdatePlan(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}

	m.logAudit(ctx, sc, auditlog.EventPlanPublished, p.ID, auditlog.SeverityInfo, map[string]interface{}{
		"snapshot_id": snap.SnapshotID, "version_number": versionNumber,
		"evidence_hash": snap.EvidenceHash, "reason": req.Reason,
	})
	m.publishEvent(events.TypePlanPublished, p, map[string]interface{}{
		"snapshot_id": snap.SnapshotID, "version_number": versionNumber,
	})
	return snap, nil
}

// checkFreeze applies the soft freeze gate: inside a freeze window the
// publish needs an explicit force reason and logs a WARNING audit event.
func (m *Manager) checkFreeze(ctx context.Context, sc *session.SessionContext, p *PlanVersion, forceReason string) error {
	frozenUntil := p.FreezeUntil
	if p.RepairSourceSnapshotID != "" {
		src, err := m.store.GetSnapshot(ctx, sc.TenantID, p.RepairSourceSnapshotID)
		if err != nil {
			return apperr.Internal(err)
		}
		if src != nil && (frozenUntil == nil || src.FreezeUntil.After(*frozenUntil)) {
			frozenUntil = &src.FreezeUntil
		}
	}
	if frozenUntil == nil || !m.now().Before(*frozenUntil) {
		return nil
	}
	if forceReason == "" {
		return apperr.New(apperr.KindState, "FREEZE_ACTIVE", http.StatusConflict,
			fmt.Sprintf("plan is frozen until %s; provide force_reason to override", frozenUntil.UTC().Format(time.RFC3339)))
	}
	m.logAudit(ctx, sc, auditlog.EventFreezeOverride, p.ID, auditlog.SeverityWarning,
		map[string]interface{}{"force_reason": forceReason, "freeze_until": frozenUntil.UTC()})
	return nil
}

// Lock makes a PUBLISHED plan irreversibly immutable.
func (m *Manager) Lock(ctx context.Context, sc *session.SessionContext, planID, reason string, confirm bool) (*PlanVersion, error) {
	if !confirm {
		return nil, apperr.Validation("lock requires confirm=true")
	}
	release, err := m.acquireLifecycle(ctx, sc.TenantID, planID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := m.loadPlan(ctx, sc, planID)
	if err != nil {
		return nil, err
	}
	if p.State == core.PlanLocked {
		return nil, apperr.AlreadyLocked()
	}
	if p.State != core.PlanPublished {
		return nil, apperr.Conflict(fmt.Sprintf("plan in state %s cannot be locked", p.State))
	}
	if m.opts.Killswitch != nil {
		if err := m.opts.Killswitch.Check(ctx, sc.TenantID, p.SiteID, core.CapabilityLock); err != nil {
			return nil, err
		}
	}
	if !sc.HasPermission(identity.PermPlanLock) {
		return nil, apperr.Forbidden("")
	}
	if len(reason) < m.opts.PublishReasonMinLen {
		return nil, apperr.ReasonTooShort(m.opts.PublishReasonMinLen)
	}

	p.State = core.PlanLocked
	if err := m.store.UpdatePlan(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	m.logAudit(ctx, sc, auditlog.EventPlanLocked, p.ID, auditlog.SeverityWarning,
		map[string]interface{}{"reason": reason})
	m.publishEvent(events.TypePlanLocked, p, nil)
	return p, nil
}

// RepairFromSnapshot roots a new DRAFT plan version at a published snapshot.
// The snapshot itself stays untouched.
func (m *Manager) RepairFromSnapshot(ctx context.Context, sc *session.SessionContext, snapshotID, reason string) (*PlanVersion, error) {
	if !sc.HasPermission(identity.PermPlanCreate) {
		return nil, apperr.Forbidden("")
	}
	snap, err := m.store.GetSnapshot(ctx, sc.TenantID, snapshotID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if snap == nil {
		return nil, apperr.NotFound("snapshot")
	}
	source, err := m.loadPlan(ctx, sc, snap.PlanVersionID)
	if err != nil {
		return nil, err
	}

	p := &PlanVersion{
		ID:                     uuid.NewString(),
		TenantID:               sc.TenantID,
		SiteID:                 source.SiteID,
		ForecastVersionID:      source.ForecastVersionID,
		State:                  core.PlanDraft,
		Seed:                   source.Seed,
		Inputs:                 source.Inputs,
		InputHash:              source.InputHash,
		RepairSourceSnapshotID: snapshotID,
		CreatedAt:              m.now().UTC(),
	}
	if err := m.store.CreatePlan(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	m.logAudit(ctx, sc, auditlog.EventPlanCreated, p.ID, auditlog.SeverityInfo, map[string]interface{}{
		"repair_source_snapshot_id": snapshotID, "reason": reason,
	})
	m.publishEvent(events.TypePlanTransition, p, map[string]interface{}{"state": string(p.State)})
	return p, nil
}

// AddPin attaches an operator pin to a plan.
func (m *Manager) AddPin(ctx context.Context, sc *session.SessionContext, planID string, pin core.Pin) (*core.Pin, error) {
	if !sc.HasPermission(identity.PermPlanPin) {
		return nil, apperr.Forbidden("")
	}
	p, err := m.loadPlan(ctx, sc, planID)
	if err != nil {
		return nil, err
	}
	if p.State == core.PlanLocked {
		return nil, apperr.AlreadyLocked()
	}
	if pin.PinType == "" || pin.PinKey == "" {
		return nil, apperr.Validation("pin_type and pin_key are required")
	}
	pin.ID = uuid.NewString()
	pin.PlanVersionID = planID
	pin.TenantID = sc.TenantID
	pin.CreatedBy = sc.User.ID
	pin.CreatedAt = m.now().UTC()
	if err := m.store.AddPin(ctx, &pin); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("pin already exists for this key")
		}
		return nil, apperr.Internal(err)
	}
	return &pin, nil
}

// RemovePin deletes a pin from a plan.
func (m *Manager) RemovePin(ctx context.Context, sc *session.SessionContext, planID, pinID string) error {
	if !sc.HasPermission(identity.PermPlanPin) {
		return apperr.Forbidden("")
	}
	p, err := m.loadPlan(ctx, sc, planID)
	if err != nil {
		return err
	}
	if p.State == core.PlanLocked {
		return apperr.AlreadyLocked()
	}
	found, err := m.store.DeletePin(ctx, sc.TenantID, planID, pinID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !found {
		return apperr.NotFound("pin")
	}
	return nil
}

// Get returns a plan, tenant-scoped.
func (m *Manager) Get(ctx context.Context, sc *session.SessionContext, planID string) (*PlanVersion, error) {
	if !sc.HasPermission(identity.PermPlanView) {
		return nil, apperr.Forbidden("")
	}
	return m.loadPlan(ctx, sc, planID)
}

// List returns the tenant's plans, optionally filtered.
func (m *Manager) List(ctx context.Context, sc *session.SessionContext, f ListFilter) ([]*PlanVersion, error) {
	if !sc.HasPermission(identity.PermPlanView) {
		return nil, apperr.Forbidden("")
	}
	plans, err := m.store.ListPlans(ctx, sc.TenantID, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return plans, nil
}

// Violations returns the current BLOCK/WARN report for a plan.
func (m *Manager) Violations(ctx context.Context, sc *session.SessionContext, planID string) (gate.Report, error) {
	if !sc.HasPermission(identity.PermPlanView) {
		return gate.Report{}, apperr.Forbidden("")
	}
	p, err := m.loadPlan(ctx, sc, planID)
	if err != nil {
		return gate.Report{}, err
	}
	assignments, err := m.store.GetAssignments(ctx, sc.TenantID, planID)
	if err != nil {
		return gate.Report{}, apperr.Internal(err)
	}
	return m.gates.Violations(ctx, sc.TenantID, planID, p.OutputHash, requiredTours(p.Inputs), assignments)
}

// GetMatrix returns the derived driver view of a plan's assignments.
func (m *Manager) GetMatrix(ctx context.Context, sc *session.SessionContext, planID string) (Matrix, error) {
	if !sc.HasPermission(identity.PermPlanView) {
		return Matrix{}, apperr.Forbidden("")
	}
	if _, err := m.loadPlan(ctx, sc, planID); err != nil {
		return Matrix{}, err
	}
	assignments, err := m.store.GetAssignments(ctx, sc.TenantID, planID)
	if err != nil {
		return Matrix{}, apperr.Internal(err)
	}
	return BuildMatrix(assignments), nil
}

// GetSnapshot returns a snapshot, tenant-scoped.
func (m *Manager) GetSnapshot(ctx context.Context, sc *session.SessionContext, snapshotID string) (*Snapshot, error) {
	snap, err := m.store.GetSnapshot(ctx, sc.TenantID, snapshotID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if snap == nil {
		return nil, apperr.NotFound("snapshot")
	}
	return snap, nil
}

// ============================================================================
// INTERNAL HELPERS
// ============================================================================

func (m *Manager) acquireLifecycle(ctx context.Context, tenantID, planID string) (func(), error) {
	release, err := m.locker.TryAcquire(ctx, locks.Key(tenantID, planID, lifecycleLockPurpose), m.opts.LockWait)
	if err != nil {
		if errors.Is(err, locks.ErrBusy) {
			return nil, apperr.ResourceBusy()
		}
		return nil, apperr.Internal(err)
	}
	return release, nil
}

// loadPlan is the tenant-scoped read. A cross-tenant probe answers NOT_FOUND
// (existence never leaks) and leaves a HIGH-severity audit trace when the
// plan does exist under another tenant.
func (m *Manager) loadPlan(ctx context.Context, sc *session.SessionContext, planID string) (*PlanVersion, error) {
	p, err := m.store.GetPlan(ctx, sc.TenantID, planID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if p != nil {
		return p, nil
	}
	if checker, ok := m.store.(existenceChecker); ok && !sc.IsPlatformScope {
		if exists, cerr := checker.PlanExistsAnyTenant(ctx, planID); cerr == nil && exists {
			m.logAudit(ctx, sc, auditlog.EventTenantIsolationAttempt, planID, auditlog.SeverityHigh,
				map[string]interface{}{"entity": "plan"})
		}
	}
	return nil, apperr.NotFound("plan")
}

func (m *Manager) logAudit(ctx context.Context, sc *session.SessionContext, eventType, entityID, severity string, details map[string]interface{}) {
	if m.audit == nil {
		return
	}
	e := &auditlog.Event{
		EventType:  eventType,
		EntityType: "plan",
		EntityID:   entityID,
		Severity:   severity,
		Details:    details,
	}
	if sc != nil {
		e.TenantID = sc.TenantID
		e.UserID = sc.User.ID
	} else if details != nil {
		if t, ok := details["tenant_id"].(string); ok {
			e.TenantID = t
		}
	}
	if err := m.audit.Log(ctx, e); err != nil {
		m.logger.Printf("audit log failed for %s on %s: %v", eventType, entityID, err)
	}
}

func (m *Manager) publishEvent(eventType string, p *PlanVersion, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:     eventType,
		TenantID: p.TenantID,
		EntityID: p.ID,
		Payload:  payload,
	})
}

// requiredTours extracts the coverage demand from the solve inputs.
func requiredTours(in solver.Inputs) []string {
	tours := make([]string, 0, len(in.Tours))
	for _, t := range in.Tours {
		tours = append(tours, t.ID)
	}
	return tours
}
