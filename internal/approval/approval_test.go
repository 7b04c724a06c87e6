package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/session"
)

const approvalTenant = "cccccccc-0000-0000-0000-000000000001"

func approverSession(userID string) *session.SessionContext {
	roles := []string{identity.RoleOperatorAdmin}
	return &session.SessionContext{
		User:        &identity.User{ID: userID, TenantID: approvalTenant, Roles: roles},
		TenantID:    approvalTenant,
		Permissions: identity.ResolveAll(roles),
	}
}

func dispatcherSession(userID string) *session.SessionContext {
	roles := []string{identity.RoleDispatcher}
	return &session.SessionContext{
		User:        &identity.User{ID: userID, TenantID: approvalTenant, Roles: roles},
		TenantID:    approvalTenant,
		Permissions: identity.ResolveAll(roles),
	}
}

func newService() (*Service, *auditlog.MemoryStore) {
	auditStore := auditlog.NewMemoryStore()
	return NewService(NewMemoryStore(), auditlog.NewLogger(auditStore), nil), auditStore
}

func TestAssessRisk(t *testing.T) {
	cases := []struct {
		name     string
		ctx      Context
		level    RiskLevel
		required int
	}{
		{"quiet", Context{}, RiskLow, 1},
		{"few drivers", Context{AffectedDrivers: 5}, RiskMedium, 1},
		{"many drivers", Context{AffectedDrivers: 25}, RiskHigh, 2},
		{"freeze plus rest proximity", Context{NearRestLimit: true, FreezeActive: true}, RiskHigh, 2},
		{"everything at once", Context{
			AffectedDrivers: 30, NearRestLimit: true, FreezeActive: true, TimeToDeadline: time.Hour,
		}, RiskCritical, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			level, required := AssessRisk(tc.ctx)
			assert.Equal(t, tc.level, level)
			assert.Equal(t, tc.required, required)
		})
	}
}

func TestSingleApproverFlow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	requester := approverSession("11111111-0000-0000-0000-000000000001")
	approver := approverSession("11111111-0000-0000-0000-000000000002")

	r, err := svc.Request(ctx, requester, "plan.publish", "plan_version", "plan-1",
		Context{AffectedDrivers: 5})
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, r.RiskLevel)
	assert.Equal(t, 1, r.RequiredApprovals)
	assert.Equal(t, StatusPending, r.Status)

	decided, err := svc.Decide(ctx, approver, r.ID, DecisionApprove, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)

	assert.NoError(t, svc.EnsureApproved(ctx, approvalTenant, "plan.publish", "plan-1"))
}

func TestTwoOfMFlow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	requester := approverSession("11111111-0000-0000-0000-000000000001")
	first := approverSession("11111111-0000-0000-0000-000000000002")
	second := approverSession("11111111-0000-0000-0000-000000000003")

	r, err := svc.Request(ctx, requester, "plan.publish", "plan_version", "plan-2",
		Context{AffectedDrivers: 25})
	require.NoError(t, err)
	require.Equal(t, 2, r.RequiredApprovals)

	after1, err := svc.Decide(ctx, first, r.ID, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, after1.Status)

	// Gate still refuses with the pending request id.
	err = svc.EnsureApproved(ctx, approvalTenant, "plan.publish", "plan-2")
	ae, _ := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "APPROVAL_REQUIRED", ae.Code)
	assert.Equal(t, map[string]string{"approval_request_id": r.ID}, ae.Details)

	after2, err := svc.Decide(ctx, second, r.ID, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, after2.Status)
	assert.NoError(t, svc.EnsureApproved(ctx, approvalTenant, "plan.publish", "plan-2"))
}

func TestDecideIdempotentPerApprover(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	requester := approverSession("11111111-0000-0000-0000-000000000001")
	approver := approverSession("11111111-0000-0000-0000-000000000002")

	r, err := svc.Request(ctx, requester, "plan.publish", "plan_version", "plan-3",
		Context{AffectedDrivers: 25})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, approver, r.ID, DecisionApprove, "")
	require.NoError(t, err)

	// Same verdict again: no-op, still one approval.
	again, err := svc.Decide(ctx, approver, r.ID, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Approvals())
	assert.Equal(t, StatusPending, again.Status)

	// Flipping the verdict is a conflict.
	_, err = svc.Decide(ctx, approver, r.ID, DecisionReject, "changed my mind")
	ae, _ := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "CONFLICT", ae.Code)
}

func TestRejectIsTerminal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	requester := approverSession("11111111-0000-0000-0000-000000000001")
	rejecter := approverSession("11111111-0000-0000-0000-000000000002")
	late := approverSession("11111111-0000-0000-0000-000000000003")

	r, err := svc.Request(ctx, requester, "plan.publish", "plan_version", "plan-4",
		Context{AffectedDrivers: 25})
	require.NoError(t, err)

	rejected, err := svc.Decide(ctx, rejecter, r.ID, DecisionReject, "roster unsafe")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	_, err = svc.Decide(ctx, late, r.ID, DecisionApprove, "")
	ae, _ := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "CONFLICT", ae.Code)

	err = svc.EnsureApproved(ctx, approvalTenant, "plan.publish", "plan-4")
	ae, _ = apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "FORBIDDEN", ae.Code)
}

func TestEmergencyOverride(t *testing.T) {
	ctx := context.Background()
	svc, auditStore := newService()
	requester := approverSession("11111111-0000-0000-0000-000000000001")
	overrider := approverSession("11111111-0000-0000-0000-000000000002")

	r, err := svc.Request(ctx, requester, "plan.publish", "plan_version", "plan-5",
		Context{AffectedDrivers: 25})
	require.NoError(t, err)

	_, err = svc.EmergencyOverride(ctx, overrider, r.ID, "short")
	ae, _ := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "REASON_TOO_SHORT", ae.Code)

	overridden, err := svc.EmergencyOverride(ctx, overrider, r.ID, "depot outage, roster must go out now")
	require.NoError(t, err)
	assert.Equal(t, StatusOverridden, overridden.Status)
	require.NotNil(t, overridden.ReviewDueAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *overridden.ReviewDueAt, time.Minute)

	assert.NoError(t, svc.EnsureApproved(ctx, approvalTenant, "plan.publish", "plan-5"))

	events, err := auditStore.List(ctx, approvalTenant, 0, 100)
	require.NoError(t, err)
	found := false
	for _, e := range events {
		if e.EventType == auditlog.EventEmergencyOverride {
			found = true
			assert.Equal(t, auditlog.SeverityHigh, e.Severity)
		}
	}
	assert.True(t, found, "expected an EMERGENCY_OVERRIDE audit event")
}

func TestEnsureApprovedOpensRequestForRiskyAction(t *testing.T) {
	ctx := context.Background()
	assess := func(ctx context.Context, tenantID, action, entityID string) Context {
		return Context{AffectedDrivers: 25, FreezeActive: true}
	}
	svc := NewService(NewMemoryStore(), auditlog.NewLogger(auditlog.NewMemoryStore()), assess)

	err := svc.EnsureApproved(ctx, approvalTenant, "plan.publish", "plan-6")
	ae, _ := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "APPROVAL_REQUIRED", ae.Code)

	// A second check returns the same pending request, not a new one.
	err2 := svc.EnsureApproved(ctx, approvalTenant, "plan.publish", "plan-6")
	ae2, _ := apperr.As(err2)
	require.NotNil(t, ae2)
	assert.Equal(t, ae.Details, ae2.Details)

	pending, err := svc.ListPending(ctx, approverSession("11111111-0000-0000-0000-000000000001"))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, SystemUserID, pending[0].CreatedBy)
}

func TestEnsureApprovedPassesLowRisk(t *testing.T) {
	svc, _ := newService()
	assert.NoError(t, svc.EnsureApproved(context.Background(), approvalTenant, "plan.publish", "plan-7"))
}

func TestDecideRequiresApprovePermission(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	requester := approverSession("11111111-0000-0000-0000-000000000001")

	r, err := svc.Request(ctx, requester, "plan.publish", "plan_version", "plan-8",
		Context{AffectedDrivers: 25})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, dispatcherSession("11111111-0000-0000-0000-000000000009"), r.ID, DecisionApprove, "")
	ae, _ := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "FORBIDDEN", ae.Code)
}
