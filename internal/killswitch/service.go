package killswitch

import (
	"context"
	"fmt"
	"time"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/identity"
)

// SiteReader is the slice of the identity store the gate needs.
type SiteReader interface {
	GetSite(ctx context.Context, tenantID, siteID string) (*identity.Site, error)
}

// Service is the capability gate consulted by publish and lock. Audit is
// optional; when nil, toggles are not logged.
type Service struct {
	store Store
	cache Cache
	sites SiteReader
	audit *auditlog.Logger
	ttl   time.Duration
	now   func() time.Time
}

func NewService(store Store, cache Cache, sites SiteReader, audit *auditlog.Logger, cacheTTL time.Duration) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Service{store: store, cache: cache, sites: sites, audit: audit, ttl: cacheTTL, now: time.Now}
}

// Check refuses when a kill switch is active for the capability or the site
// has it disabled. Kill switch wins over site flags so an emergency stop is
// reported as such.
func (s *Service) Check(ctx context.Context, tenantID, siteID string, capability core.Capability) error {
	for _, scope := range []string{siteID, TenantWideSite} {
		active, reason, err := s.activeFor(ctx, tenantID, scope, capability)
		if err != nil {
			return apperr.Internal(err)
		}
		if active {
			return apperr.KillSwitchActive(reason)
		}
	}

	if s.sites != nil {
		site, err := s.sites.GetSite(ctx, tenantID, siteID)
		if err != nil {
			return apperr.Internal(fmt.Errorf("load site: %w", err))
		}
		if site == nil {
			return apperr.SiteNotEnabled()
		}
		switch capability {
		case core.CapabilityPublish:
			if !site.PublishEnabled {
				return apperr.SiteNotEnabled()
			}
		case core.CapabilityLock:
			if !site.LockEnabled {
				return apperr.SiteNotEnabled()
			}
		}
	}
	return nil
}

func (s *Service) activeFor(ctx context.Context, tenantID, siteID string, capability core.Capability) (bool, string, error) {
	key := cacheKey(tenantID, siteID, string(capability))
	if val, ok := s.cache.Get(ctx, key); ok {
		if len(val) > 0 && val[0] == '1' {
			return true, val[1:], nil
		}
		return false, "", nil
	}

	sw, err := s.store.Get(ctx, tenantID, siteID, capability)
	if err != nil {
		return false, "", err
	}
	if sw != nil && sw.Active {
		s.cache.Set(ctx, key, "1"+sw.Reason, s.ttl)
		return true, sw.Reason, nil
	}
	s.cache.Set(ctx, key, "0", s.ttl)
	return false, "", nil
}

// Activate flips a switch on. Caller identity and reason land in the audit
// log; the cache is updated immediately so the toggle is observable without
// waiting for expiry.
func (s *Service) Activate(ctx context.Context, actorID, tenantID, siteID string, capability core.Capability, reason string) error {
	return s.toggle(ctx, actorID, tenantID, siteID, capability, reason, true)
}

// Deactivate flips a switch off.
func (s *Service) Deactivate(ctx context.Context, actorID, tenantID, siteID string, capability core.Capability, reason string) error {
	return s.toggle(ctx, actorID, tenantID, siteID, capability, reason, false)
}

func (s *Service) toggle(ctx context.Context, actorID, tenantID, siteID string, capability core.Capability, reason string, active bool) error {
	if siteID == "" {
		siteID = TenantWideSite
	}
	sw := &Switch{
		TenantID:   tenantID,
		SiteID:     siteID,
		Capability: capability,
		Active:     active,
		Reason:     reason,
		UpdatedBy:  actorID,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.store.Set(ctx, sw); err != nil {
		return apperr.Internal(err)
	}

	key := cacheKey(tenantID, siteID, string(capability))
	if active {
		s.cache.Set(ctx, key, "1"+reason, s.ttl)
	} else {
		s.cache.Set(ctx, key, "0", s.ttl)
	}

	if s.audit != nil {
		eventType := auditlog.EventKillSwitchActivated
		severity := auditlog.SeverityWarning
		if !active {
			eventType = auditlog.EventKillSwitchDeactivated
			severity = auditlog.SeverityInfo
		}
		_ = s.audit.Log(ctx, &auditlog.Event{
			TenantID:   tenantID,
			UserID:     actorID,
			EventType:  eventType,
			EntityType: "kill_switch",
			EntityID:   fmt.Sprintf("%s/%s", siteID, capability),
			Severity:   severity,
			Details:    map[string]interface{}{"reason": reason},
		})
	}
	return nil
}

// ListActive returns the tenant's active switches.
func (s *Service) ListActive(ctx context.Context, tenantID string) ([]*Switch, error) {
	return s.store.ListActive(ctx, tenantID)
}
