// Package identity maintains the canonical tenant/site/user catalog and the
// seeded role→permission mapping.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/solvereign/backend/internal/apperr"
)

// ErrDuplicate is returned by stores on unique-key collisions; the service
// maps it to the caller-facing code for the entity involved.
var ErrDuplicate = errors.New("duplicate key")

// Service exposes the identity catalog operations.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Store() Store { return s.store }

// CreateTenant registers a new tenant. Platform-scope only; the caller is
// responsible for the permission check.
func (s *Service) CreateTenant(ctx context.Context, code, name string) (*Tenant, error) {
	if code == "" || name == "" {
		return nil, apperr.Validation("tenant code and name are required")
	}
	t := &Tenant{
		ID:        uuid.NewString(),
		Code:      code,
		Name:      name,
		Status:    "ACTIVE",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.TenantCodeExists(code)
		}
		return nil, apperr.Internal(fmt.Errorf("create tenant: %w", err))
	}
	return t, nil
}

// CreateSite registers a depot under a tenant.
func (s *Service) CreateSite(ctx context.Context, tenantID, siteCode, name string) (*Site, error) {
	if siteCode == "" {
		return nil, apperr.Validation("site code is required")
	}
	site := &Site{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		SiteCode:       siteCode,
		Name:           name,
		PublishEnabled: true,
		LockEnabled:    true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateSite(ctx, site); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict(fmt.Sprintf("site code %q already exists in tenant", siteCode))
		}
		return nil, apperr.Internal(fmt.Errorf("create site: %w", err))
	}
	return site, nil
}

// CreateUser registers a user. tenantID empty means platform scope; the
// is_platform flag is derived, never passed, so the two cannot disagree.
func (s *Service) CreateUser(ctx context.Context, email, password, tenantID string, roles []string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}
	for _, r := range roles {
		if !KnownRole(r) {
			return nil, apperr.UnknownRole(r)
		}
	}
	if HasRole(roles, RolePlatformAdmin) && tenantID != "" {
		return nil, apperr.Validation("platform_admin users must not be tenant-scoped")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		TenantID:     tenantID,
		IsPlatform:   tenantID == "",
		Roles:        roles,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.UserEmailExists(email)
		}
		return nil, apperr.Internal(fmt.Errorf("create user: %w", err))
	}
	return u, nil
}

// VerifyPassword checks credentials with bcrypt's constant-time compare.
func (s *Service) VerifyPassword(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("lookup user: %w", err))
	}
	if u == nil {
		// Burn a compare anyway so missing users cost the same as bad passwords.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return nil, apperr.AuthRequired()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.AuthRequired()
	}
	return u, nil
}
