// Package resolver maps external identifiers to canonical internal UUIDs.
// The 4-tuple (tenant, external_system, entity_type, external_id) is unique;
// repeated resolves are idempotent and always land on the same UUID.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solvereign/backend/internal/apperr"
)

// MaxBulkSize caps resolve_bulk input per call.
const MaxBulkSize = 1000

// ErrConflict signals a concurrent create raced on the same 4-tuple.
var ErrConflict = errors.New("mapping conflict")

// Mapping is one external→internal identity row. Deprecated rows keep their
// place with SyncStatus "deprecated"; they are never physically deleted.
type Mapping struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ExternalSystem string    `json:"external_system"`
	EntityType     string    `json:"entity_type"`
	ExternalID     string    `json:"external_id"`
	InternalUUID   string    `json:"internal_uuid"`
	SyncStatus     string    `json:"sync_status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists mappings.
type Store interface {
	Get(ctx context.Context, tenantID, system, entityType, externalID string) (*Mapping, error)
	// Create fails with ErrConflict if the 4-tuple already exists.
	Create(ctx context.Context, m *Mapping) error
	// GetBulk returns existing mappings for the given external ids, keyed by
	// external id. Missing ids are simply absent from the result.
	GetBulk(ctx context.Context, tenantID, system, entityType string, externalIDs []string) (map[string]*Mapping, error)
}

// CreatePayload carries the canonical-entity attributes for create-on-miss.
type CreatePayload struct {
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Result is one resolve outcome.
type Result struct {
	ExternalID string `json:"ext_id"`
	InternalID string `json:"internal_id,omitempty"`
	Found      bool   `json:"found"`
	Created    bool   `json:"created,omitempty"`
}

// Service implements resolve and resolve_bulk.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Resolve returns the mapping for the 4-tuple, creating the canonical entity
// and mapping atomically when a create payload is supplied. A lost race on
// create is retried once by re-reading the winner's row.
func (s *Service) Resolve(ctx context.Context, tenantID, system, entityType, externalID string, create *CreatePayload) (*Result, error) {
	if tenantID == "" || system == "" || entityType == "" || externalID == "" {
		return nil, apperr.Validation("tenant, system, entity type and external id are required")
	}

	m, err := s.store.Get(ctx, tenantID, system, entityType, externalID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("mapping lookup: %w", err))
	}
	if m != nil {
		return &Result{ExternalID: externalID, InternalID: m.InternalUUID, Found: true}, nil
	}
	if create == nil {
		return nil, apperr.NotFound("mapping")
	}

	candidate := &Mapping{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ExternalSystem: system,
		EntityType:     entityType,
		ExternalID:     externalID,
		InternalUUID:   uuid.NewString(),
		SyncStatus:     "active",
		CreatedAt:      time.Now().UTC(),
	}
	err = s.store.Create(ctx, candidate)
	if errors.Is(err, ErrConflict) {
		// Another writer won; their UUID is canonical now.
		winner, gerr := s.store.Get(ctx, tenantID, system, entityType, externalID)
		if gerr != nil || winner == nil {
			return nil, apperr.Internal(fmt.Errorf("mapping conflict re-read: %v", gerr))
		}
		return &Result{ExternalID: externalID, InternalID: winner.InternalUUID, Found: true}, nil
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("mapping create: %w", err))
	}
	return &Result{ExternalID: externalID, InternalID: candidate.InternalUUID, Found: true, Created: true}, nil
}

// ResolveBulk resolves up to MaxBulkSize external ids in one round trip.
// Output order mirrors input order.
func (s *Service) ResolveBulk(ctx context.Context, tenantID, system, entityType string, externalIDs []string) ([]Result, error) {
	if len(externalIDs) > MaxBulkSize {
		return nil, apperr.InputTooLarge(MaxBulkSize)
	}
	if len(externalIDs) == 0 {
		return []Result{}, nil
	}

	found, err := s.store.GetBulk(ctx, tenantID, system, entityType, externalIDs)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("bulk mapping lookup: %w", err))
	}

	results := make([]Result, 0, len(externalIDs))
	for _, extID := range externalIDs {
		if m, ok := found[extID]; ok {
			results = append(results, Result{ExternalID: extID, InternalID: m.InternalUUID, Found: true})
		} else {
			results = append(results, Result{ExternalID: extID, Found: false})
		}
	}
	return results, nil
}
