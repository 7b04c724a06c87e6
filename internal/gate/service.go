package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/core"
)

// maxPublishDetails caps how many violations a refused publish reports back.
const maxPublishDetails = 10

// Service evaluates plans against the active policy and answers the publish
// gate. Results are cached per plan version, keyed by output hash, so
// repeated gate checks over an unchanged plan skip re-evaluation.
type Service struct {
	cache  CacheStore
	policy Policy
	now    func() time.Time
}

func NewService(cache CacheStore, policy Policy) *Service {
	return &Service{cache: cache, policy: policy, now: time.Now}
}

// Policy returns the profile currently in effect.
func (s *Service) Policy() Policy { return s.policy }

// Evaluate recomputes violations for a plan version and refreshes the cache.
func (s *Service) Evaluate(ctx context.Context, tenantID, planVersionID, outputHash string, requiredTours []string, assignments []core.Assignment) (Report, error) {
	report := Evaluate(s.policy, requiredTours, assignments)
	entry := &CacheEntry{
		PlanVersionID: planVersionID,
		TenantID:      tenantID,
		OutputHash:    outputHash,
		BlockCount:    report.BlockCount,
		WarnCount:     report.WarnCount,
		Details:       report.Details,
		ComputedAt:    s.now().UTC(),
	}
	if err := s.cache.Put(ctx, entry); err != nil {
		return Report{}, fmt.Errorf("cache violations: %w", err)
	}
	return report, nil
}

// Violations returns the current report for a plan version, recomputing when
// the cache is missing or stale against outputHash.
func (s *Service) Violations(ctx context.Context, tenantID, planVersionID, outputHash string, requiredTours []string, assignments []core.Assignment) (Report, error) {
	entry, err := s.cache.Get(ctx, planVersionID)
	if err != nil {
		return Report{}, err
	}
	if entry != nil && entry.OutputHash == outputHash {
		return Report{BlockCount: entry.BlockCount, WarnCount: entry.WarnCount, Details: entry.Details}, nil
	}
	return s.Evaluate(ctx, tenantID, planVersionID, outputHash, requiredTours, assignments)
}

// CheckPublishAllowed enforces the BLOCK gate: any blocking violation over
// the plan's current output refuses the publish. WARN findings pass.
func (s *Service) CheckPublishAllowed(ctx context.Context, tenantID, planVersionID, outputHash string, requiredTours []string, assignments []core.Assignment) (Report, error) {
	report, err := s.Violations(ctx, tenantID, planVersionID, outputHash, requiredTours, assignments)
	if err != nil {
		return Report{}, err
	}
	if report.BlockCount > 0 {
		details := make([]core.Violation, 0, maxPublishDetails)
		for _, v := range report.Details {
			if v.Severity != core.SeverityBlock {
				continue
			}
			details = append(details, v)
			if len(details) == maxPublishDetails {
				break
			}
		}
		return report, apperr.ViolationsBlockPublish(map[string]interface{}{
			"block_count": report.BlockCount,
			"violations":  details,
		})
	}
	return report, nil
}
