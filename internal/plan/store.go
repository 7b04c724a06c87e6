package plan

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/solvereign/backend/internal/core"
)

// ErrDuplicate is returned when a pin's uniqueness key is already taken.
var ErrDuplicate = errors.New("duplicate key")

// ListFilter narrows plan listings.
type ListFilter struct {
	SiteID string
	State  core.PlanState
}

// Store is the persistence contract for plans, assignments, pins, and
// snapshots. All reads are tenant-scoped; a wrong tenant behaves like a
// missing row.
type Store interface {
	CreatePlan(ctx context.Context, p *PlanVersion) error
	GetPlan(ctx context.Context, tenantID, planID string) (*PlanVersion, error)
	ListPlans(ctx context.Context, tenantID string, f ListFilter) ([]*PlanVersion, error)
	UpdatePlan(ctx context.Context, p *PlanVersion) error

	ReplaceAssignments(ctx context.Context, tenantID, planID string, assignments []core.Assignment) error
	GetAssignments(ctx context.Context, tenantID, planID string) ([]core.Assignment, error)

	AddPin(ctx context.Context, pin *core.Pin) error
	DeletePin(ctx context.Context, tenantID, planID, pinID string) (bool, error)
	ListPins(ctx context.Context, tenantID, planID string) ([]core.Pin, error)

	CreateSnapshot(ctx context.Context, s *Snapshot) error
	GetSnapshot(ctx context.Context, tenantID, snapshotID string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, tenantID, planID string) ([]*Snapshot, error)
	MaxVersionNumber(ctx context.Context, tenantID, planID string) (int, error)
	SupersedeActiveSnapshots(ctx context.Context, tenantID, planID, exceptSnapshotID string) error
}

// ============================================================================
// IN-MEMORY STORE — dev mode and tests
// ============================================================================

// MemoryStore is the in-memory Store. It mirrors the storage-layer guards:
// snapshots are immutable and rows of a LOCKED plan refuse mutation.
type MemoryStore struct {
	mu          sync.RWMutex
	plans       map[string]*PlanVersion
	assignments map[string][]core.Assignment
	pins        map[string][]core.Pin
	snapshots   map[string]*Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:       make(map[string]*PlanVersion),
		assignments: make(map[string][]core.Assignment),
		pins:        make(map[string][]core.Pin),
		snapshots:   make(map[string]*Snapshot),
	}
}

func copyPlan(p *PlanVersion) *PlanVersion {
	cp := *p
	if p.FreezeUntil != nil {
		t := *p.FreezeUntil
		cp.FreezeUntil = &t
	}
	return &cp
}

func copySnapshot(s *Snapshot) *Snapshot {
	cp := *s
	cp.Assignments = append([]core.Assignment(nil), s.Assignments...)
	cp.EvidencePack = append([]byte(nil), s.EvidencePack...)
	return &cp
}

func (m *MemoryStore) CreatePlan(ctx context.Context, p *PlanVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = copyPlan(p)
	return nil
}

func (m *MemoryStore) GetPlan(ctx context.Context, tenantID, planID string) (*PlanVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, nil
	}
	return copyPlan(p), nil
}

func (m *MemoryStore) ListPlans(ctx context.Context, tenantID string, f ListFilter) ([]*PlanVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PlanVersion
	for _, p := range m.plans {
		if p.TenantID != tenantID {
			continue
		}
		if f.SiteID != "" && p.SiteID != f.SiteID {
			continue
		}
		if f.State != "" && p.State != f.State {
			continue
		}
		out = append(out, copyPlan(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) UpdatePlan(ctx context.Context, p *PlanVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.plans[p.ID]
	if !ok || existing.TenantID != p.TenantID {
		return errors.New("plan not found")
	}
	m.plans[p.ID] = copyPlan(p)
	return nil
}

func (m *MemoryStore) ReplaceAssignments(ctx context.Context, tenantID, planID string, assignments []core.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(tenantID, planID); err != nil {
		return err
	}
	m.assignments[planID] = append([]core.Assignment(nil), assignments...)
	return nil
}

func (m *MemoryStore) GetAssignments(ctx context.Context, tenantID, planID string) ([]core.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, nil
	}
	return append([]core.Assignment(nil), m.assignments[planID]...), nil
}

func (m *MemoryStore) AddPin(ctx context.Context, pin *core.Pin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(pin.TenantID, pin.PlanVersionID); err != nil {
		return err
	}
	for _, existing := range m.pins[pin.PlanVersionID] {
		if existing.PinType == pin.PinType && existing.PinKey == pin.PinKey {
			return ErrDuplicate
		}
	}
	m.pins[pin.PlanVersionID] = append(m.pins[pin.PlanVersionID], *pin)
	return nil
}

func (m *MemoryStore) DeletePin(ctx context.Context, tenantID, planID, pinID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(tenantID, planID); err != nil {
		return false, err
	}
	pins := m.pins[planID]
	for i, p := range pins {
		if p.ID == pinID && p.TenantID == tenantID {
			m.pins[planID] = append(pins[:i:i], pins[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListPins(ctx context.Context, tenantID, planID string) ([]core.Pin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, nil
	}
	return append([]core.Pin(nil), m.pins[planID]...), nil
}

func (m *MemoryStore) CreateSnapshot(ctx context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.SnapshotID] = copySnapshot(s)
	return nil
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, tenantID, snapshotID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[snapshotID]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	return copySnapshot(s), nil
}

func (m *MemoryStore) ListSnapshots(ctx context.Context, tenantID, planID string) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Snapshot
	for _, s := range m.snapshots {
		if s.TenantID == tenantID && s.PlanVersionID == planID {
			out = append(out, copySnapshot(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (m *MemoryStore) MaxVersionNumber(ctx context.Context, tenantID, planID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, s := range m.snapshots {
		if s.TenantID == tenantID && s.PlanVersionID == planID && s.VersionNumber > max {
			max = s.VersionNumber
		}
	}
	return max, nil
}

func (m *MemoryStore) SupersedeActiveSnapshots(ctx context.Context, tenantID, planID, exceptSnapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots {
		if s.TenantID == tenantID && s.PlanVersionID == planID &&
			s.SnapshotID != exceptSnapshotID && s.Status == core.SnapshotActive {
			s.Status = core.SnapshotSuperseded
		}
	}
	return nil
}

// PlanExistsAnyTenant supports the tenant-isolation audit trail: it reports
// whether the plan exists at all, regardless of tenant.
func (m *MemoryStore) PlanExistsAnyTenant(ctx context.Context, planID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.plans[planID]
	return ok, nil
}

// guardLocked mirrors the database trigger refusing row mutation on LOCKED
// plans. Callers hold m.mu.
func (m *MemoryStore) guardLocked(tenantID, planID string) error {
	p, ok := m.plans[planID]
	if ok && p.TenantID == tenantID && p.State == core.PlanLocked {
		return errors.New("plan is LOCKED; row mutation refused")
	}
	return nil
}
