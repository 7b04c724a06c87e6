package plan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/evidence"
	"github.com/solvereign/backend/internal/gate"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/locks"
	"github.com/solvereign/backend/internal/session"
	"github.com/solvereign/backend/internal/solver"
)

const (
	tenant1 = "aaaaaaaa-0000-0000-0000-000000000001"
	tenant2 = "aaaaaaaa-0000-0000-0000-000000000002"
	site1   = "bbbbbbbb-0000-0000-0000-000000000001"
)

type fixture struct {
	manager    *Manager
	store      *MemoryStore
	auditStore *auditlog.MemoryStore
	pool       *solver.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	auditStore := auditlog.NewMemoryStore()
	pool := solver.NewPool(2, 8)
	t.Cleanup(pool.Stop)

	m := NewManager(
		store,
		gate.NewService(gate.NewMemoryCache(), gate.DefaultPolicy()),
		solver.NewGreedy(),
		pool,
		locks.NewMemoryLocker(),
		auditlog.NewLogger(auditStore),
		nil,
		Options{},
	)
	return &fixture{manager: m, store: store, auditStore: auditStore, pool: pool}
}

func operatorSession(tenantID string) *session.SessionContext {
	roles := []string{identity.RoleOperatorAdmin, identity.RoleDispatcher}
	return &session.SessionContext{
		SessionID:   "s1",
		User:        &identity.User{ID: "cccccccc-0000-0000-0000-000000000001", Email: "op@example.com", TenantID: tenantID, Roles: roles},
		TenantID:    tenantID,
		Permissions: identity.ResolveAll(roles),
	}
}

func readonlySession(tenantID string) *session.SessionContext {
	roles := []string{identity.RoleOpsReadonly}
	return &session.SessionContext{
		SessionID:   "s2",
		User:        &identity.User{ID: "cccccccc-0000-0000-0000-000000000002", TenantID: tenantID, Roles: roles},
		TenantID:    tenantID,
		Permissions: identity.ResolveAll(roles),
	}
}

func feasibleInputs() solver.Inputs {
	at := func(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }
	return solver.Inputs{
		Tours: []solver.Tour{
			{ID: "T1", SiteID: site1, StartTime: at(2, 8), EndTime: at(2, 12)},
			{ID: "T2", SiteID: site1, StartTime: at(2, 9), EndTime: at(2, 13)},
			{ID: "T3", SiteID: site1, StartTime: at(3, 8), EndTime: at(3, 12)},
		},
		Drivers: []solver.Driver{{ID: "D1"}, {ID: "D2"}},
	}
}

// Two simultaneous tours with one driver: coverage violation guaranteed.
func blockedInputs() solver.Inputs {
	at := func(h int) time.Time { return time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC) }
	return solver.Inputs{
		Tours: []solver.Tour{
			{ID: "T1", StartTime: at(8), EndTime: at(12)},
			{ID: "T2", StartTime: at(8), EndTime: at(12)},
		},
		Drivers: []solver.Driver{{ID: "D1"}},
	}
}

func (f *fixture) solvedPlan(t *testing.T, sc *session.SessionContext, in solver.Inputs) *PlanVersion {
	t.Helper()
	ctx := context.Background()
	draft, err := f.manager.CreateDraft(ctx, sc, CreateDraftRequest{
		SiteID: site1, ForecastVersionID: "fc-w10", Seed: 42, Inputs: in,
	})
	require.NoError(t, err)
	solved, err := f.manager.StartSolve(ctx, sc, draft.ID)
	require.NoError(t, err)
	return solved
}

func TestLifecycleHappyPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)

	solved := f.solvedPlan(t, sc, feasibleInputs())
	assert.Equal(t, core.PlanSolved, solved.State)
	assert.NotEmpty(t, solved.OutputHash)
	assert.Zero(t, solved.BlockCount)

	snap, err := f.manager.Publish(ctx, sc, PublishRequest{
		PlanID: solved.ID, Reason: "Weekly plan W10 approved",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.VersionNumber)
	assert.Equal(t, core.SnapshotActive, snap.Status)
	assert.Len(t, snap.EvidenceHash, 64)

	// Evidence pack is self-verifying.
	pack, ok, err := evidence.Verify(snap.EvidencePack)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, snap.EvidenceHash, pack.EvidenceHash)

	published, err := f.manager.Get(ctx, sc, solved.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanPublished, published.State)
	assert.Equal(t, snap.SnapshotID, published.CurrentSnapshotID)
	require.NotNil(t, published.FreezeUntil)
	assert.WithinDuration(t, time.Now().Add(12*time.Hour), *published.FreezeUntil, time.Minute)
}

func TestPublishBlockGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)

	solved := f.solvedPlan(t, sc, blockedInputs())
	require.Greater(t, solved.BlockCount, 0)

	_, err := f.manager.Publish(ctx, sc, PublishRequest{PlanID: solved.ID, Reason: "attempting anyway"})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "VIOLATIONS_BLOCK_PUBLISH", ae.Code)

	// No state change.
	p, err := f.manager.Get(ctx, sc, solved.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanSolved, p.State)
	assert.Empty(t, p.CurrentSnapshotID)
}

func TestPublishPreconditionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)

	t.Run("reason too short", func(t *testing.T) {
		solved := f.solvedPlan(t, sc, feasibleInputs())
		_, err := f.manager.Publish(ctx, sc, PublishRequest{PlanID: solved.ID, Reason: "short"})
		ae, _ := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "REASON_TOO_SHORT", ae.Code)
	})

	t.Run("missing permission", func(t *testing.T) {
		solved := f.solvedPlan(t, sc, feasibleInputs())
		_, err := f.manager.Publish(ctx, readonlySession(tenant1), PublishRequest{PlanID: solved.ID, Reason: "long enough reason"})
		ae, _ := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "FORBIDDEN", ae.Code)
	})

	t.Run("wrong state", func(t *testing.T) {
		draft, err := f.manager.CreateDraft(ctx, sc, CreateDraftRequest{
			SiteID: site1, ForecastVersionID: "fc", Inputs: feasibleInputs(),
		})
		require.NoError(t, err)
		_, err = f.manager.Publish(ctx, sc, PublishRequest{PlanID: draft.ID, Reason: "long enough reason"})
		ae, _ := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "CONFLICT", ae.Code)
	})
}

func TestConcurrentPublishSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)
	solved := f.solvedPlan(t, sc, feasibleInputs())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Publish(ctx, sc, PublishRequest{PlanID: solved.ID, Reason: "Weekly plan W10 approved"})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one publish must win")

	snaps, err := f.store.ListSnapshots(ctx, tenant1, solved.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestLockIrreversibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)
	solved := f.solvedPlan(t, sc, feasibleInputs())

	_, err := f.manager.Publish(ctx, sc, PublishRequest{PlanID: solved.ID, Reason: "Weekly plan W10 approved"})
	require.NoError(t, err)

	t.Run("lock requires confirm", func(t *testing.T) {
		_, err := f.manager.Lock(ctx, sc, solved.ID, "locking after review", false)
		ae, _ := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "VALIDATION_FAILED", ae.Code)
	})

	locked, err := f.manager.Lock(ctx, sc, solved.ID, "locking after review", true)
	require.NoError(t, err)
	assert.Equal(t, core.PlanLocked, locked.State)

	t.Run("second lock refused", func(t *testing.T) {
		_, err := f.manager.Lock(ctx, sc, solved.ID, "locking again", true)
		ae, _ := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "ALREADY_LOCKED", ae.Code)
	})

	t.Run("pin mutations refused", func(t *testing.T) {
		_, err := f.manager.AddPin(ctx, sc, solved.ID, core.Pin{PinType: "driver_tour", PinKey: "T1"})
		ae, _ := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "ALREADY_LOCKED", ae.Code)

		err = f.manager.RemovePin(ctx, sc, solved.ID, "any")
		ae, _ = apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "ALREADY_LOCKED", ae.Code)
	})

	t.Run("publish refused", func(t *testing.T) {
		_, err := f.manager.Publish(ctx, sc, PublishRequest{PlanID: solved.ID, Reason: "publishing a locked plan"})
		ae, _ := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "ALREADY_LOCKED", ae.Code)
	})
}

func TestPins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)
	solved := f.solvedPlan(t, sc, feasibleInputs())

	pin, err := f.manager.AddPin(ctx, sc, solved.ID, core.Pin{
		PinType: "driver_tour", PinKey: "T1", DriverID: "D1", TourID: "T1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pin.ID)
	assert.Equal(t, sc.User.ID, pin.CreatedBy)

	// Same uniqueness key refused.
	_, err = f.manager.AddPin(ctx, sc, solved.ID, core.Pin{PinType: "driver_tour", PinKey: "T1", DriverID: "D2"})
	ae, _ := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "CONFLICT", ae.Code)

	require.NoError(t, f.manager.RemovePin(ctx, sc, solved.ID, pin.ID))
	err = f.manager.RemovePin(ctx, sc, solved.ID, pin.ID)
	ae, _ = apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "NOT_FOUND", ae.Code)
}

func TestRepairFromSnapshotAndFreeze(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)
	solved := f.solvedPlan(t, sc, feasibleInputs())

	snap, err := f.manager.Publish(ctx, sc, PublishRequest{PlanID: solved.ID, Reason: "Weekly plan W10 approved"})
	require.NoError(t, err)

	repaired, err := f.manager.RepairFromSnapshot(ctx, sc, snap.SnapshotID, "driver swap needed")
	require.NoError(t, err)
	assert.Equal(t, core.PlanDraft, repaired.State)
	assert.Equal(t, snap.SnapshotID, repaired.RepairSourceSnapshotID)
	assert.Equal(t, solved.InputHash, repaired.InputHash)

	repairedSolved, err := f.manager.StartSolve(ctx, sc, repaired.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanSolved, repairedSolved.State)

	t.Run("publish inside source freeze needs force_reason", func(t *testing.T) {
		_, err := f.manager.Publish(ctx, sc, PublishRequest{PlanID: repaired.ID, Reason: "replacement plan W10"})
		ae, _ := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, "FREEZE_ACTIVE", ae.Code)
	})

	t.Run("force override publishes and audits", func(t *testing.T) {
		_, err := f.manager.Publish(ctx, sc, PublishRequest{
			PlanID: repaired.ID, Reason: "replacement plan W10", ForceReason: "driver unavailable",
		})
		require.NoError(t, err)

		events, err := f.auditStore.List(ctx, tenant1, 0, 100)
		require.NoError(t, err)
		var found bool
		for _, e := range events {
			if e.EventType == auditlog.EventFreezeOverride {
				found = true
				assert.Equal(t, auditlog.SeverityWarning, e.Severity)
			}
		}
		assert.True(t, found, "expected a FREEZE_OVERRIDE audit event")
	})
}

func TestCrossTenantDenial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := operatorSession(tenant1)
	intruder := operatorSession(tenant2)

	solved := f.solvedPlan(t, owner, feasibleInputs())

	_, err := f.manager.Get(ctx, intruder, solved.ID)
	ae, _ := apperr.As(err)
	require.NotNil(t, ae)
	// 404, never 403: existence must not leak.
	assert.Equal(t, "NOT_FOUND", ae.Code)

	events, err := f.auditStore.List(ctx, tenant2, 0, 100)
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.EventType == auditlog.EventTenantIsolationAttempt {
			found = true
			assert.Equal(t, auditlog.SeverityHigh, e.Severity)
		}
	}
	assert.True(t, found, "expected a TENANT_ISOLATION_ATTEMPT audit event")
}

func TestSolveFailureIsAPlanState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)

	// Replace the engine with one that always fails.
	f.manager.engine = failingSolver{}

	draft, err := f.manager.CreateDraft(ctx, sc, CreateDraftRequest{
		SiteID: site1, ForecastVersionID: "fc", Inputs: feasibleInputs(),
	})
	require.NoError(t, err)

	p, err := f.manager.StartSolve(ctx, sc, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PlanFailed, p.State)
	assert.Equal(t, "no feasible roster", p.FailureReason)
}

type failingSolver struct{}

func (failingSolver) Solve(ctx context.Context, in solver.Inputs, seed int64, policy gate.Policy) (*solver.Result, error) {
	return nil, errors.New("no feasible roster")
}

func TestMatrixAndViolationsViews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := operatorSession(tenant1)
	solved := f.solvedPlan(t, sc, feasibleInputs())

	matrix, err := f.manager.GetMatrix(ctx, sc, solved.ID)
	require.NoError(t, err)
	total := 0
	for _, duties := range matrix.Drivers {
		total += len(duties)
	}
	assert.Equal(t, 3, total)

	report, err := f.manager.Violations(ctx, sc, solved.ID)
	require.NoError(t, err)
	assert.Zero(t, report.BlockCount)
}
