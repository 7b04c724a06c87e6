package approval

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/session"
)

// reviewWindow is how long after an emergency override the mandatory review
// must happen.
const reviewWindow = 24 * time.Hour

// minJustificationLen applies to override justifications.
const minJustificationLen = 10

// ContextFunc computes the risk context for a request the gate opens itself,
// e.g. by loading the plan and counting affected drivers. Nil means LOW risk.
type ContextFunc func(ctx context.Context, tenantID, action, entityID string) Context

// Service drives the approval workflow and doubles as the publish path's
// approval gate.
type Service struct {
	store  Store
	audit  *auditlog.Logger
	assess ContextFunc
	logger *log.Logger
	now    func() time.Time
}

func NewService(store Store, audit *auditlog.Logger, assess ContextFunc) *Service {
	return &Service{
		store:  store,
		audit:  audit,
		assess: assess,
		logger: log.New(log.Writer(), "[APPROVAL] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Request opens an approval request for (action, entity). When a PENDING
// request for the same entity already exists it is returned as-is, so
// repeated requests are idempotent.
func (s *Service) Request(ctx context.Context, sc *session.SessionContext, action, entityType, entityID string, rctx Context) (*Request, error) {
	existing, err := s.store.LatestByEntity(ctx, sc.TenantID, action, entityID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if existing != nil && existing.Status == StatusPending {
		return existing, nil
	}

	level, required := AssessRisk(rctx)
	r := &Request{
		ID:                uuid.NewString(),
		TenantID:          sc.TenantID,
		Action:            action,
		EntityType:        entityType,
		EntityID:          entityID,
		RiskLevel:         level,
		RequiredApprovals: required,
		Status:            StatusPending,
		CreatedBy:         sc.User.ID,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.CreateRequest(ctx, r); err != nil {
		return nil, apperr.Internal(err)
	}

	s.logAudit(ctx, sc.TenantID, sc.User.ID, auditlog.EventApprovalRequested, r.ID, auditlog.SeverityInfo,
		map[string]interface{}{
			"action": action, "entity_id": entityID,
			"risk_level": string(level), "required_approvals": required,
		})
	return r, nil
}

// Get loads a request for the caller's tenant.
func (s *Service) Get(ctx context.Context, sc *session.SessionContext, requestID string) (*Request, error) {
	r, err := s.store.GetRequest(ctx, sc.TenantID, requestID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if r == nil {
		return nil, apperr.NotFound("approval request")
	}
	return r, nil
}

// ListPending returns the tenant's open requests.
func (s *Service) ListPending(ctx context.Context, sc *session.SessionContext) ([]*Request, error) {
	out, err := s.store.ListPending(ctx, sc.TenantID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// Decide records one approver's verdict. Idempotent per approver: repeating
// the same verdict returns the current state, flipping it is a conflict. A
// single REJECT terminates the request.
func (s *Service) Decide(ctx context.Context, sc *session.SessionContext, requestID, decision, reason string) (*Request, error) {
	if !sc.HasPermission(identity.PermPlanApprove) {
		return nil, apperr.Forbidden("")
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, apperr.Validation(fmt.Sprintf("decision must be %s or %s", DecisionApprove, DecisionReject))
	}

	r, err := s.Get(ctx, sc, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, apperr.Conflict(fmt.Sprintf("approval request is %s", r.Status))
	}

	if prior := r.DecisionBy(sc.User.ID); prior != nil {
		if prior.Decision == decision {
			return r, nil
		}
		return nil, apperr.Conflict("approver already decided differently")
	}

	d := &Decision{
		RequestID:  requestID,
		ApproverID: sc.User.ID,
		Decision:   decision,
		Reason:     reason,
		DecidedAt:  s.now().UTC(),
	}
	if err := s.store.AddDecision(ctx, d); err != nil {
		return nil, apperr.Internal(err)
	}
	r.Decisions = append(r.Decisions, *d)

	severity := auditlog.SeverityInfo
	if decision == DecisionReject {
		r.Status = StatusRejected
		severity = auditlog.SeverityWarning
	} else if r.Approvals() >= r.RequiredApprovals {
		r.Status = StatusApproved
	}
	if r.Status != StatusPending {
		if err := s.store.UpdateRequest(ctx, r); err != nil {
			return nil, apperr.Internal(err)
		}
	}

	s.logAudit(ctx, sc.TenantID, sc.User.ID, auditlog.EventApprovalDecided, r.ID, severity,
		map[string]interface{}{
			"decision": decision, "status": r.Status,
			"approvals": r.Approvals(), "required_approvals": r.RequiredApprovals,
		})
	return r, nil
}

// EmergencyOverride bypasses the approval threshold. The override is audited
// at HIGH severity and a mandatory review is scheduled within 24 hours.
func (s *Service) EmergencyOverride(ctx context.Context, sc *session.SessionContext, requestID, justification string) (*Request, error) {
	if !sc.HasPermission(identity.PermPlanApprove) {
		return nil, apperr.Forbidden("")
	}
	if len(justification) < minJustificationLen {
		return nil, apperr.ReasonTooShort(minJustificationLen)
	}

	r, err := s.Get(ctx, sc, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, apperr.Conflict(fmt.Sprintf("approval request is %s", r.Status))
	}

	reviewDue := s.now().UTC().Add(reviewWindow)
	r.Status = StatusOverridden
	r.ReviewDueAt = &reviewDue
	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return nil, apperr.Internal(err)
	}

	s.logAudit(ctx, sc.TenantID, sc.User.ID, auditlog.EventEmergencyOverride, r.ID, auditlog.SeverityHigh,
		map[string]interface{}{
			"action": r.Action, "entity_id": r.EntityID,
			"justification": justification,
			"review_due_at": reviewDue.Format(time.RFC3339),
		})
	return r, nil
}

// EnsureApproved is the gate consulted on publish. A satisfied (APPROVED or
// OVERRIDDEN) request passes; a PENDING one refuses with its id; a REJECTED
// one refuses outright. When no request exists yet the gate opens one from
// the assessed risk context — or passes immediately when the risk is LOW.
func (s *Service) EnsureApproved(ctx context.Context, tenantID, action, entityID string) error {
	r, err := s.store.LatestByEntity(ctx, tenantID, action, entityID)
	if err != nil {
		return apperr.Internal(err)
	}
	if r != nil {
		switch r.Status {
		case StatusApproved, StatusOverridden:
			return nil
		case StatusRejected:
			return apperr.Forbidden("action was rejected by an approver")
		default:
			return apperr.ApprovalRequired(r.ID)
		}
	}

	var rctx Context
	if s.assess != nil {
		rctx = s.assess(ctx, tenantID, action, entityID)
	}
	level, required := AssessRisk(rctx)
	if level == RiskLow {
		return nil
	}

	r = &Request{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Action:            action,
		EntityType:        "plan_version",
		EntityID:          entityID,
		RiskLevel:         level,
		RequiredApprovals: required,
		Status:            StatusPending,
		CreatedBy:         SystemUserID,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.CreateRequest(ctx, r); err != nil {
		return apperr.Internal(err)
	}
	s.logAudit(ctx, tenantID, SystemUserID, auditlog.EventApprovalRequested, r.ID, auditlog.SeverityInfo,
		map[string]interface{}{
			"action": action, "entity_id": entityID,
			"risk_level": string(level), "required_approvals": required,
		})
	return apperr.ApprovalRequired(r.ID)
}

func (s *Service) logAudit(ctx context.Context, tenantID, userID, eventType, entityID, severity string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, &auditlog.Event{
		TenantID:   tenantID,
		UserID:     userID,
		EventType:  eventType,
		EntityType: "approval_request",
		EntityID:   entityID,
		Severity:   severity,
		Details:    details,
	}); err != nil {
		s.logger.Printf("audit log failed for %s on %s: %v", eventType, entityID, err)
	}
}
