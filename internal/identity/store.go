package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Tenant is a customer organization. All scoped data hangs off its ID.
type Tenant struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Site is a depot/location within a tenant.
type Site struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	SiteCode       string    `json:"site_code"`
	Name           string    `json:"name"`
	PublishEnabled bool      `json:"publish_enabled"`
	LockEnabled    bool      `json:"lock_enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// User is an authenticatable principal. TenantID is empty exactly when
// IsPlatform is true.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	TenantID     string    `json:"tenant_id,omitempty"`
	IsPlatform   bool      `json:"is_platform"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence contract for the identity catalog.
type Store interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantByCode(ctx context.Context, code string) (*Tenant, error)

	CreateSite(ctx context.Context, s *Site) error
	GetSite(ctx context.Context, tenantID, siteID string) (*Site, error)

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// NormalizeEmail case-folds and trims an email for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ============================================================================
// IN-MEMORY STORE — dev mode and tests
// ============================================================================

// MemoryStore is an in-memory Store. Safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	tenants       map[string]*Tenant
	tenantsByCode map[string]*Tenant
	sites         map[string]*Site
	users         map[string]*User
	usersByEmail  map[string]*User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:       make(map[string]*Tenant),
		tenantsByCode: make(map[string]*Tenant),
		sites:         make(map[string]*Site),
		users:         make(map[string]*User),
		usersByEmail:  make(map[string]*User),
	}
}

func (m *MemoryStore) CreateTenant(ctx context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenantsByCode[t.Code]; ok {
		return ErrDuplicate
	}
	cp := *t
	m.tenants[t.ID] = &cp
	m.tenantsByCode[t.Code] = &cp
	return nil
}

func (m *MemoryStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTenantByCode(ctx context.Context, code string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenantsByCode[code]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateSite(ctx context.Context, s *Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sites {
		if existing.TenantID == s.TenantID && existing.SiteCode == s.SiteCode {
			return ErrDuplicate
		}
	}
	cp := *s
	m.sites[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSite(ctx context.Context, tenantID, siteID string) (*Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sites[siteID]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usersByEmail[u.Email]; ok {
		return ErrDuplicate
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	m.users[u.ID] = &cp
	m.usersByEmail[u.Email] = &cp
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.usersByEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp, nil
}
