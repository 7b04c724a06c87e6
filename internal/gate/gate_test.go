package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/core"
)

func day(d int, hour, min int) time.Time {
	return time.Date(2026, 3, d, hour, min, 0, 0, time.UTC)
}

func duty(tour, driver string, start, end time.Time) core.Assignment {
	return core.Assignment{TourID: tour, DriverID: driver, StartTime: start, EndTime: end}
}

func TestEvaluateCoverage(t *testing.T) {
	report := Evaluate(DefaultPolicy(),
		[]string{"T1", "T2", "T3"},
		[]core.Assignment{
			duty("T1", "D1", day(2, 8, 0), day(2, 12, 0)),
			duty("T3", "D2", day(2, 8, 0), day(2, 12, 0)),
		})

	require.Equal(t, 1, report.BlockCount)
	assert.Equal(t, RuleCoverage, report.Details[0].Rule)
	assert.Equal(t, "T2", report.Details[0].TourID)
}

func TestEvaluateOverlapAndRest(t *testing.T) {
	t.Run("overlapping duties block", func(t *testing.T) {
		report := Evaluate(DefaultPolicy(), nil, []core.Assignment{
			duty("T1", "D1", day(2, 8, 0), day(2, 14, 0)),
			duty("T2", "D1", day(2, 13, 0), day(2, 18, 0)),
		})
		require.Equal(t, 1, report.BlockCount)
		assert.Equal(t, RuleOverlap, report.Details[0].Rule)
	})

	t.Run("short overnight rest blocks", func(t *testing.T) {
		// Ends 22:00, starts 05:00 next day: 7h rest against an 11h minimum.
		report := Evaluate(DefaultPolicy(), nil, []core.Assignment{
			duty("T1", "D1", day(2, 14, 0), day(2, 22, 0)),
			duty("T2", "D1", day(3, 5, 0), day(3, 10, 0)),
		})
		require.Equal(t, 1, report.BlockCount)
		assert.Equal(t, RuleRest, report.Details[0].Rule)
	})

	t.Run("sufficient rest passes", func(t *testing.T) {
		report := Evaluate(DefaultPolicy(), nil, []core.Assignment{
			duty("T1", "D1", day(2, 8, 0), day(2, 16, 0)),
			duty("T2", "D1", day(3, 8, 0), day(3, 16, 0)),
		})
		assert.Zero(t, report.BlockCount)
		assert.Zero(t, report.WarnCount)
	})
}

func TestEvaluateSpanWarns(t *testing.T) {
	// 6:00 to 20:30 is a 14.5h span with a legal midday break.
	report := Evaluate(DefaultPolicy(), nil, []core.Assignment{
		duty("T1", "D1", day(2, 6, 0), day(2, 10, 0)),
		duty("T2", "D1", day(2, 16, 0), day(2, 20, 30)),
	})
	assert.Zero(t, report.BlockCount)
	require.Equal(t, 1, report.WarnCount)
	assert.Equal(t, RuleSpan, report.Details[0].Rule)
	assert.Equal(t, core.SeverityWarn, report.Details[0].Severity)
}

func TestEvaluateWeeklyHours(t *testing.T) {
	// Six 10h days: 60h against a 55h maximum.
	var duties []core.Assignment
	for d := 0; d < 6; d++ {
		duties = append(duties, duty("T", "D1", day(2+d, 6, 0), day(2+d, 16, 0)))
	}
	report := Evaluate(DefaultPolicy(), nil, duties)

	var found bool
	for _, v := range report.Details {
		if v.Rule == RuleWeeklyHours {
			found = true
			assert.Equal(t, core.SeverityBlock, v.Severity)
		}
	}
	assert.True(t, found, "expected a weekly_hours violation")
}

func TestEvaluateFatigue(t *testing.T) {
	// Eight consecutive working days with short duties.
	var duties []core.Assignment
	for d := 0; d < 8; d++ {
		duties = append(duties, duty("T", "D1", day(2+d, 8, 0), day(2+d, 12, 0)))
	}
	report := Evaluate(DefaultPolicy(), nil, duties)

	var fatigue int
	for _, v := range report.Details {
		if v.Rule == RuleFatigue {
			fatigue++
		}
	}
	assert.Equal(t, 1, fatigue)
}

func TestEvaluateDeterministic(t *testing.T) {
	duties := []core.Assignment{
		duty("T2", "D2", day(2, 8, 0), day(2, 12, 0)),
		duty("T1", "D1", day(2, 8, 0), day(2, 14, 0)),
		duty("T3", "D1", day(2, 13, 0), day(2, 18, 0)),
	}
	first := Evaluate(DefaultPolicy(), []string{"T1", "T2", "T3", "T4"}, duties)
	second := Evaluate(DefaultPolicy(), []string{"T1", "T2", "T3", "T4"}, duties)
	assert.Equal(t, first, second)
}

func TestPolicyHashStable(t *testing.T) {
	a := DefaultPolicy()
	b := DefaultPolicy()
	assert.Equal(t, a.Hash(), b.Hash())

	b.MinRestHours = 9
	assert.NotEqual(t, a.Hash(), b.Hash())

	parsed, err := ParsePolicy(a.Canonical())
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), parsed.Hash())
}

func TestCheckPublishAllowed(t *testing.T) {
	ctx := context.Background()

	t.Run("warns pass, blocks refuse", func(t *testing.T) {
		svc := NewService(NewMemoryCache(), DefaultPolicy())

		// WARN only: long span.
		_, err := svc.CheckPublishAllowed(ctx, "t1", "p1", "h1", nil, []core.Assignment{
			duty("T1", "D1", day(2, 6, 0), day(2, 10, 0)),
			duty("T2", "D1", day(2, 16, 0), day(2, 20, 30)),
		})
		assert.NoError(t, err)

		// BLOCK: uncovered tour.
		_, err = svc.CheckPublishAllowed(ctx, "t1", "p2", "h2", []string{"T9"}, nil)
		require.Error(t, err)
		ae, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, "VIOLATIONS_BLOCK_PUBLISH", ae.Code)
	})

	t.Run("stale cache is recomputed", func(t *testing.T) {
		cache := NewMemoryCache()
		svc := NewService(cache, DefaultPolicy())

		// Seed a stale entry claiming blocks under an old output hash.
		require.NoError(t, cache.Put(ctx, &CacheEntry{
			PlanVersionID: "p1", TenantID: "t1", OutputHash: "old",
			BlockCount: 3,
		}))

		report, err := svc.Violations(ctx, "t1", "p1", "new", nil, []core.Assignment{
			duty("T1", "D1", day(2, 8, 0), day(2, 12, 0)),
		})
		require.NoError(t, err)
		assert.Zero(t, report.BlockCount)

		entry, err := cache.Get(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "new", entry.OutputHash)
	})

	t.Run("fresh cache is reused", func(t *testing.T) {
		cache := NewMemoryCache()
		svc := NewService(cache, DefaultPolicy())

		require.NoError(t, cache.Put(ctx, &CacheEntry{
			PlanVersionID: "p1", TenantID: "t1", OutputHash: "h1",
			BlockCount: 0, WarnCount: 2,
		}))

		// Assignments that would block are ignored because the cache is fresh.
		report, err := svc.Violations(ctx, "t1", "p1", "h1", []string{"T-missing"}, nil)
		require.NoError(t, err)
		assert.Zero(t, report.BlockCount)
		assert.Equal(t, 2, report.WarnCount)
	})
}
