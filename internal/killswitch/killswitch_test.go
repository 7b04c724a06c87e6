package killswitch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/identity"
)

const (
	testTenant = "11111111-0000-0000-0000-000000000001"
	testSite   = "11111111-0000-0000-0000-000000000002"
)

func newTestService(t *testing.T) (*Service, *identity.MemoryStore, *auditlog.MemoryStore) {
	t.Helper()
	sites := identity.NewMemoryStore()
	require.NoError(t, sites.CreateSite(context.Background(), &identity.Site{
		ID: testSite, TenantID: testTenant, SiteCode: "BER-01", Name: "Berlin",
		PublishEnabled: true, LockEnabled: true,
	}))
	auditStore := auditlog.NewMemoryStore()
	svc := NewService(NewMemoryStore(), NewMemoryCache(), sites, auditlog.NewLogger(auditStore), 5*time.Second)
	return svc, sites, auditStore
}

func TestCheckPassesByDefault(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.NoError(t, svc.Check(context.Background(), testTenant, testSite, core.CapabilityPublish))
	assert.NoError(t, svc.Check(context.Background(), testTenant, testSite, core.CapabilityLock))
}

func TestActivateBlocksCapability(t *testing.T) {
	ctx := context.Background()
	svc, _, auditStore := newTestService(t)

	require.NoError(t, svc.Activate(ctx, "admin-1", testTenant, testSite, core.CapabilityPublish, "incident 4711"))

	err := svc.Check(ctx, testTenant, testSite, core.CapabilityPublish)
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "KILL_SWITCH_ACTIVE", ae.Code)

	// Lock capability is unaffected.
	assert.NoError(t, svc.Check(ctx, testTenant, testSite, core.CapabilityLock))

	events, err := auditStore.List(ctx, testTenant, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, auditlog.EventKillSwitchActivated, events[0].EventType)
	assert.Equal(t, "admin-1", events[0].UserID)
}

func TestDeactivateObservableImmediately(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	require.NoError(t, svc.Activate(ctx, "admin-1", testTenant, testSite, core.CapabilityPublish, "incident"))
	require.Error(t, svc.Check(ctx, testTenant, testSite, core.CapabilityPublish))

	// The toggle path updates the cache, so no TTL wait is needed.
	require.NoError(t, svc.Deactivate(ctx, "admin-1", testTenant, testSite, core.CapabilityPublish, "resolved"))
	assert.NoError(t, svc.Check(ctx, testTenant, testSite, core.CapabilityPublish))
}

func TestTenantWideSwitch(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	require.NoError(t, svc.Activate(ctx, "admin-1", testTenant, "", core.CapabilityPublish, "tenant stop"))

	err := svc.Check(ctx, testTenant, testSite, core.CapabilityPublish)
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, "KILL_SWITCH_ACTIVE", ae.Code)
}

func TestSiteDisabledCapability(t *testing.T) {
	ctx := context.Background()
	sites := identity.NewMemoryStore()
	require.NoError(t, sites.CreateSite(ctx, &identity.Site{
		ID: testSite, TenantID: testTenant, SiteCode: "BER-01",
		PublishEnabled: false, LockEnabled: true,
	}))
	svc := NewService(NewMemoryStore(), NewMemoryCache(), sites, nil, 5*time.Second)

	err := svc.Check(ctx, testTenant, testSite, core.CapabilityPublish)
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, "SITE_NOT_ENABLED", ae.Code)

	assert.NoError(t, svc.Check(ctx, testTenant, testSite, core.CapabilityLock))
}

func TestUnknownSiteRefused(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Check(context.Background(), testTenant, "99999999-0000-0000-0000-000000000009", core.CapabilityPublish)
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, "SITE_NOT_ENABLED", ae.Code)
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	require.NoError(t, svc.Activate(ctx, "admin-1", testTenant, testSite, core.CapabilityPublish, "incident"))
	require.NoError(t, svc.Activate(ctx, "admin-1", testTenant, testSite, core.CapabilityLock, "incident"))
	require.NoError(t, svc.Deactivate(ctx, "admin-1", testTenant, testSite, core.CapabilityLock, "resolved"))

	active, err := svc.ListActive(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, core.CapabilityPublish, active[0].Capability)
}

func TestCacheServesWithinTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cache := NewMemoryCache()
	svc := NewService(store, cache, nil, nil, 5*time.Second)

	// First check populates the cache as inactive.
	require.NoError(t, svc.Check(ctx, testTenant, testSite, core.CapabilityPublish))

	// A direct store write (bypassing the service) stays invisible until the
	// cache entry expires.
	require.NoError(t, store.Set(ctx, &Switch{
		TenantID: testTenant, SiteID: testSite, Capability: core.CapabilityPublish,
		Active: true, Reason: "backdoor",
	}))
	assert.NoError(t, svc.Check(ctx, testTenant, testSite, core.CapabilityPublish))

	// Force expiry by rewinding the cache clock.
	cache.now = func() time.Time { return time.Now().Add(10 * time.Second) }
	assert.Error(t, svc.Check(ctx, testTenant, testSite, core.CapabilityPublish))
}
