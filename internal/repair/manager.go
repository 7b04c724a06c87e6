package repair

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/events"
	"github.com/solvereign/backend/internal/gate"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/locks"
	"github.com/solvereign/backend/internal/plan"
	"github.com/solvereign/backend/internal/session"
	"github.com/solvereign/backend/internal/solver"
)

// repairLockPurpose serializes create/apply/undo per plan.
const repairLockPurpose = "repair"

// Options tunes the manager. Zero values fall back to defaults.
type Options struct {
	TTL      time.Duration
	LockWait time.Duration
}

// Manager drives repair sessions. Plan rows are read and written through the
// plan store so the LOCKED guard and tenant scoping apply identically.
type Manager struct {
	sessions Store
	plans    plan.Store
	gates    *gate.Service
	locker   locks.Locker
	audit    *auditlog.Logger
	bus      *events.Bus
	opts     Options
	logger   *log.Logger
	now      func() time.Time
}

func NewManager(sessions Store, plans plan.Store, gates *gate.Service, locker locks.Locker,
	audit *auditlog.Logger, bus *events.Bus, opts Options) *Manager {
	if opts.TTL == 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.LockWait == 0 {
		opts.LockWait = 2 * time.Second
	}
	return &Manager{
		sessions: sessions,
		plans:    plans,
		gates:    gates,
		locker:   locker,
		audit:    audit,
		bus:      bus,
		opts:     opts,
		logger:   log.New(log.Writer(), "[REPAIR] ", log.LstdFlags),
		now:      time.Now,
	}
}

// Create opens a session: computes the preview against the live plan state
// without persisting any plan change.
func (m *Manager) Create(ctx context.Context, sc *session.SessionContext, planID string, changes []Change, idempotencyKey string) (*Session, error) {
	if !sc.HasPermission(identity.PermRepairCreate) {
		return nil, apperr.Forbidden("")
	}
	if len(changes) == 0 {
		return nil, apperr.Validation("at least one change is required")
	}

	release, err := m.acquireRepair(ctx, sc.TenantID, planID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := m.plans.GetPlan(ctx, sc.TenantID, planID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if p == nil {
		return nil, apperr.NotFound("plan")
	}
	if p.State == core.PlanLocked {
		return nil, apperr.AlreadyLocked()
	}

	if existing, err := m.sessions.GetOpenByPlan(ctx, sc.TenantID, planID); err != nil {
		return nil, apperr.Internal(err)
	} else if existing != nil {
		if existing.Expired(m.now()) {
			existing.Status = core.RepairExpired
			if err := m.sessions.Update(ctx, existing); err != nil {
				return nil, apperr.Internal(err)
			}
		} else {
			return nil, apperr.SessionAlreadyExists(existing.ID)
		}
	}

	assignments, err := m.plans.GetAssignments(ctx, sc.TenantID, planID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	pins, err := m.plans.ListPins(ctx, sc.TenantID, planID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	_, _, diff, err := applyChanges(assignments, pins, changes)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	now := m.now().UTC()
	s := &Session{
		ID:            uuid.NewString(),
		TenantID:      sc.TenantID,
		PlanVersionID: planID,
		UserID:        sc.User.ID,
		Status:        core.RepairOpen,
		Preview: &Preview{
			Changes:        changes,
			Diff:           diff,
			BaseOutputHash: p.OutputHash,
			BasePinsHash:   pinsHash(pins),
		},
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.opts.TTL),
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		if errors.Is(err, ErrOpenExists) {
			return nil, apperr.SessionAlreadyExists("")
		}
		return nil, apperr.Internal(err)
	}

	m.logAudit(ctx, sc, auditlog.EventRepairCreated, s, auditlog.SeverityInfo,
		map[string]interface{}{"plan_version_id": planID, "changes": len(changes)})
	m.publishEvent(s, "OPEN")
	return s, nil
}

// Get reads a session, lazily expiring stale OPEN ones.
func (m *Manager) Get(ctx context.Context, sc *session.SessionContext, sessionID string) (*Session, error) {
	s, err := m.sessions.Get(ctx, sc.TenantID, sessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if s == nil {
		return nil, apperr.SessionNotFound()
	}
	if s.Expired(m.now()) {
		s.Status = core.RepairExpired
		if err := m.sessions.Update(ctx, s); err != nil {
			return nil, apperr.Internal(err)
		}
		return nil, apperr.SessionExpired()
	}
	return s, nil
}

// Apply persists the previewed changes as a new DRAFT plan version derived
// from the source plan, which stays untouched. Re-runs the drift check under
// the repair lock: if the source's assignments or pins moved since the
// preview, the apply is refused with PREVIEW_STALE.
func (m *Manager) Apply(ctx context.Context, sc *session.SessionContext, sessionID string) (*Session, error) {
	if !sc.HasPermission(identity.PermRepairApply) {
		return nil, apperr.Forbidden("")
	}
	s, err := m.Get(ctx, sc, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != core.RepairOpen {
		return nil, apperr.Conflict(fmt.Sprintf("session in state %s cannot be applied", s.Status))
	}

	release, err := m.acquireRepair(ctx, sc.TenantID, s.PlanVersionID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := m.plans.GetPlan(ctx, sc.TenantID, s.PlanVersionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if p == nil {
		return nil, apperr.NotFound("plan")
	}
	if p.State == core.PlanLocked {
		return nil, apperr.AlreadyLocked()
	}

	assignments, err := m.plans.GetAssignments(ctx, sc.TenantID, s.PlanVersionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	pins, err := m.plans.ListPins(ctx, sc.TenantID, s.PlanVersionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	// Drift check against the preview's base state.
	if p.OutputHash != s.Preview.BaseOutputHash || pinsHash(pins) != s.Preview.BasePinsHash {
		return nil, apperr.PreviewStale()
	}

	nextAssignments, nextPins, _, err := applyChanges(assignments, pins, s.Preview.Changes)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	s.Undo = &UndoPayload{
		Assignments: assignments,
		Pins:        pins,
		OutputHash:  p.OutputHash,
		BlockCount:  p.BlockCount,
		WarnCount:   p.WarnCount,
	}

	now := m.now().UTC()
	result := &plan.PlanVersion{
		ID:                uuid.NewString(),
		TenantID:          sc.TenantID,
		SiteID:            p.SiteID,
		ForecastVersionID: p.ForecastVersionID,
		State:             core.PlanDraft,
		Seed:              p.Seed,
		Inputs:            p.Inputs,
		InputHash:         p.InputHash,
		CreatedAt:         now,
	}
	if err := m.plans.CreatePlan(ctx, result); err != nil {
		return nil, apperr.Internal(err)
	}
	// The result version starts empty, so every pin in the target set is
	// materialized as a fresh row.
	if err := m.writePlanState(ctx, sc, result, nextAssignments, nil, nextPins); err != nil {
		return nil, err
	}

	s.ResultPlanVersionID = result.ID
	s.Status = core.RepairApplied
	s.AppliedAt = &now
	if err := m.sessions.Update(ctx, s); err != nil {
		return nil, apperr.Internal(err)
	}

	m.logAudit(ctx, sc, auditlog.EventRepairApplied, s, auditlog.SeverityInfo,
		map[string]interface{}{"plan_version_id": s.PlanVersionID, "result_plan_version_id": result.ID})
	m.publishEvent(s, "APPLIED")
	return s, nil
}

// Undo reverts the result version minted by apply back to the exact
// pre-apply state of the affected entities and marks the session UNDONE.
func (m *Manager) Undo(ctx context.Context, sc *session.SessionContext, sessionID string) (*Session, error) {
	if !sc.HasPermission(identity.PermRepairUndo) {
		return nil, apperr.Forbidden("")
	}
	s, err := m.sessions.Get(ctx, sc.TenantID, sessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if s == nil {
		return nil, apperr.SessionNotFound()
	}
	if s.Status != core.RepairApplied {
		return nil, apperr.Conflict(fmt.Sprintf("session in state %s cannot be undone", s.Status))
	}

	release, err := m.acquireRepair(ctx, sc.TenantID, s.PlanVersionID)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := m.plans.GetPlan(ctx, sc.TenantID, s.ResultPlanVersionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if result == nil {
		return nil, apperr.NotFound("plan")
	}
	if result.State == core.PlanLocked {
		return nil, apperr.AlreadyLocked()
	}

	currentPins, err := m.plans.ListPins(ctx, sc.TenantID, result.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := m.writePlanState(ctx, sc, result, s.Undo.Assignments, currentPins, s.Undo.Pins); err != nil {
		return nil, err
	}

	s.Status = core.RepairUndone
	if err := m.sessions.Update(ctx, s); err != nil {
		return nil, apperr.Internal(err)
	}

	m.logAudit(ctx, sc, auditlog.EventRepairUndone, s, auditlog.SeverityInfo,
		map[string]interface{}{"plan_version_id": s.PlanVersionID, "result_plan_version_id": s.ResultPlanVersionID})
	m.publishEvent(s, "UNDONE")
	return s, nil
}

// Abort cancels an OPEN session without touching the plan.
func (m *Manager) Abort(ctx context.Context, sc *session.SessionContext, sessionID string) (*Session, error) {
	s, err := m.Get(ctx, sc, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != core.RepairOpen {
		return nil, apperr.Conflict(fmt.Sprintf("session in state %s cannot be aborted", s.Status))
	}
	s.Status = core.RepairAborted
	if err := m.sessions.Update(ctx, s); err != nil {
		return nil, apperr.Internal(err)
	}
	m.logAudit(ctx, sc, auditlog.EventRepairAborted, s, auditlog.SeverityInfo, nil)
	m.publishEvent(s, "ABORTED")
	return s, nil
}

// writePlanState replaces assignments and reconciles pins, then refreshes
// the plan's output hash and violation counts.
func (m *Manager) writePlanState(ctx context.Context, sc *session.SessionContext, p *plan.PlanVersion,
	assignments []core.Assignment, currentPins, targetPins []core.Pin) error {

	if err := m.plans.ReplaceAssignments(ctx, sc.TenantID, p.ID, assignments); err != nil {
		return apperr.Internal(err)
	}

	// Reconcile pins: remove rows not in the target set, add missing ones.
	targetKeys := make(map[string]core.Pin, len(targetPins))
	for _, pin := range targetPins {
		targetKeys[pin.PinType+"/"+pin.PinKey] = pin
	}
	currentKeys := make(map[string]bool, len(currentPins))
	for _, pin := range currentPins {
		key := pin.PinType + "/" + pin.PinKey
		currentKeys[key] = true
		if _, keep := targetKeys[key]; !keep {
			if _, err := m.plans.DeletePin(ctx, sc.TenantID, p.ID, pin.ID); err != nil {
				return apperr.Internal(err)
			}
		}
	}
	for key, pin := range targetKeys {
		if currentKeys[key] {
			continue
		}
		newPin := core.Pin{
			ID:            uuid.NewString(),
			PlanVersionID: p.ID,
			TenantID:      sc.TenantID,
			PinType:       pin.PinType,
			PinKey:        pin.PinKey,
			DriverID:      pin.DriverID,
			TourID:        pin.TourID,
			CreatedBy:     sc.User.ID,
			CreatedAt:     m.now().UTC(),
		}
		if err := m.plans.AddPin(ctx, &newPin); err != nil {
			return apperr.Internal(err)
		}
	}

	p.OutputHash = plan.OutputHash(assignments)
	report, err := m.gates.Evaluate(ctx, sc.TenantID, p.ID, p.OutputHash, requiredTours(p.Inputs), assignments)
	if err != nil {
		return apperr.Internal(err)
	}
	p.BlockCount = report.BlockCount
	p.WarnCount = report.WarnCount
	if err := m.plans.UpdatePlan(ctx, p); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (m *Manager) acquireRepair(ctx context.Context, tenantID, planID string) (func(), error) {
	release, err := m.locker.TryAcquire(ctx, locks.Key(tenantID, planID, repairLockPurpose), m.opts.LockWait)
	if err != nil {
		if errors.Is(err, locks.ErrBusy) {
			return nil, apperr.SessionBusy()
		}
		return nil, apperr.Internal(err)
	}
	return release, nil
}

func (m *Manager) logAudit(ctx context.Context, sc *session.SessionContext, eventType string, s *Session, severity string, details map[string]interface{}) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, &auditlog.Event{
		TenantID:   sc.TenantID,
		UserID:     sc.User.ID,
		EventType:  eventType,
		EntityType: "repair_session",
		EntityID:   s.ID,
		Severity:   severity,
		Details:    details,
	}); err != nil {
		m.logger.Printf("audit log failed for %s on %s: %v", eventType, s.ID, err)
	}
}

func (m *Manager) publishEvent(s *Session, status string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:     events.TypeRepairSession,
		TenantID: s.TenantID,
		EntityID: s.ID,
		Payload:  map[string]interface{}{"plan_version_id": s.PlanVersionID, "status": status},
	})
}

func requiredTours(in solver.Inputs) []string {
	tours := make([]string, 0, len(in.Tours))
	for _, t := range in.Tours {
		tours = append(tours, t.ID)
	}
	return tours
}
