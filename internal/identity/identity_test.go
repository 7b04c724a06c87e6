package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvereign/backend/internal/apperr"
)

func TestResolvePermissions(t *testing.T) {
	t.Run("dispatcher can create but not publish", func(t *testing.T) {
		perms := ResolvePermissions(RoleDispatcher)
		assert.True(t, perms[PermPlanCreate])
		assert.True(t, perms[PermRepairCreate])
		assert.False(t, perms[PermPlanPublish])
		assert.False(t, perms[PermPlanApprove])
	})

	t.Run("ops_readonly is view only", func(t *testing.T) {
		perms := ResolvePermissions(RoleOpsReadonly)
		assert.True(t, perms[PermPlanView])
		assert.True(t, perms[PermAuditView])
		assert.False(t, perms[PermPlanSolve])
		assert.False(t, perms[PermRepairApply])
	})

	t.Run("unknown role resolves empty", func(t *testing.T) {
		assert.Empty(t, ResolvePermissions("no_such_role"))
	})
}

func TestResolveAllUnionsRoles(t *testing.T) {
	perms := ResolveAll([]string{RoleDispatcher, RoleOpsReadonly})
	assert.True(t, perms[PermPlanCreate]) // from dispatcher
	assert.True(t, perms[PermAuditView])  // from ops_readonly
	assert.False(t, perms[PermPlanPublish])
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ops@example.com", NormalizeEmail("  Ops@Example.COM "))
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects unknown role", func(t *testing.T) {
		svc := NewService(NewMemoryStore())
		_, err := svc.CreateUser(ctx, "a@example.com", "secret", "tenant-1", []string{"superuser"})
		ae, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, "UNKNOWN_ROLE", ae.Code)
	})

	t.Run("platform_admin must not be tenant scoped", func(t *testing.T) {
		svc := NewService(NewMemoryStore())
		_, err := svc.CreateUser(ctx, "a@example.com", "secret", "tenant-1", []string{RolePlatformAdmin})
		ae, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, "VALIDATION_FAILED", ae.Code)
	})

	t.Run("derives platform scope from empty tenant", func(t *testing.T) {
		svc := NewService(NewMemoryStore())
		u, err := svc.CreateUser(ctx, "root@example.com", "secret", "", []string{RolePlatformAdmin})
		require.NoError(t, err)
		assert.True(t, u.IsPlatform)

		u2, err := svc.CreateUser(ctx, "disp@example.com", "secret", "tenant-1", []string{RoleDispatcher})
		require.NoError(t, err)
		assert.False(t, u2.IsPlatform)
	})

	t.Run("duplicate email refused", func(t *testing.T) {
		svc := NewService(NewMemoryStore())
		_, err := svc.CreateUser(ctx, "Dup@Example.com", "secret", "tenant-1", []string{RoleDispatcher})
		require.NoError(t, err)
		_, err = svc.CreateUser(ctx, "dup@example.com", "other", "tenant-1", []string{RoleDispatcher})
		ae, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, "USER_EMAIL_EXISTS", ae.Code)
	})
}

func TestVerifyPassword(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	created, err := svc.CreateUser(ctx, "disp@example.com", "correct horse", "tenant-1", []string{RoleDispatcher})
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		u, err := svc.VerifyPassword(ctx, "Disp@Example.com", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, created.ID, u.ID)
	})

	t.Run("wrong password and unknown user both say AUTH_REQUIRED", func(t *testing.T) {
		_, err := svc.VerifyPassword(ctx, "disp@example.com", "battery staple")
		ae, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, "AUTH_REQUIRED", ae.Code)

		_, err = svc.VerifyPassword(ctx, "nobody@example.com", "whatever")
		ae, ok = apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, "AUTH_REQUIRED", ae.Code)
	})
}

func TestCreateTenantDuplicateCode(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	_, err := svc.CreateTenant(ctx, "acme", "Acme Logistics")
	require.NoError(t, err)
	_, err = svc.CreateTenant(ctx, "acme", "Acme Again")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "TENANT_CODE_EXISTS", ae.Code)
}

func TestMemoryStoreSiteScoping(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSite(ctx, &Site{
		ID: "site-1", TenantID: "tenant-a", SiteCode: "BER-01",
	}))

	s, err := store.GetSite(ctx, "tenant-a", "site-1")
	require.NoError(t, err)
	require.NotNil(t, s)

	// Another tenant asking for the same id sees nothing.
	s, err = store.GetSite(ctx, "tenant-b", "site-1")
	require.NoError(t, err)
	assert.Nil(t, s)
}
