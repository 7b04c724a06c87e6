package gate

import (
	"fmt"
	"sort"
	"time"

	"github.com/solvereign/backend/internal/core"
)

// Rule names as they appear in violation details and the evidence pack.
const (
	RuleCoverage    = "coverage"
	RuleOverlap     = "overlap"
	RuleRest        = "rest"
	RuleSpan        = "span"
	RuleFatigue     = "fatigue"
	RuleWeeklyHours = "weekly_hours"
)

// Report is the outcome of one evaluation run.
type Report struct {
	BlockCount int              `json:"block_count"`
	WarnCount  int              `json:"warn_count"`
	Details    []core.Violation `json:"details"`
}

func (r *Report) add(v core.Violation) {
	if v.Severity == core.SeverityBlock {
		r.BlockCount++
	} else {
		r.WarnCount++
	}
	r.Details = append(r.Details, v)
}

// Evaluate runs the full rule set over a plan's assignments. requiredTours is
// the set of tours the plan's forecast demands coverage for; assignments are
// the solver output. Deterministic: the same inputs produce the same report
// in the same order.
func Evaluate(policy Policy, requiredTours []string, assignments []core.Assignment) Report {
	var report Report

	assigned := make(map[string]bool, len(assignments))
	byDriver := make(map[string][]core.Assignment)
	for _, a := range assignments {
		assigned[a.TourID] = true
		byDriver[a.DriverID] = append(byDriver[a.DriverID], a)
	}

	for _, tour := range requiredTours {
		if !assigned[tour] {
			report.add(core.Violation{
				Rule:     RuleCoverage,
				Severity: core.SeverityBlock,
				TourID:   tour,
				Message:  fmt.Sprintf("tour %s has no assigned driver", tour),
			})
		}
	}

	drivers := make([]string, 0, len(byDriver))
	for d := range byDriver {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)

	for _, driver := range drivers {
		duties := byDriver[driver]
		sort.Slice(duties, func(i, j int) bool {
			if duties[i].StartTime.Equal(duties[j].StartTime) {
				return duties[i].TourID < duties[j].TourID
			}
			return duties[i].StartTime.Before(duties[j].StartTime)
		})
		checkOverlapAndRest(policy, driver, duties, &report)
		checkDailySpan(policy, driver, duties, &report)
		checkFatigue(policy, driver, duties, &report)
		checkWeeklyHours(policy, driver, duties, &report)
	}

	return report
}

// checkOverlapAndRest walks consecutive duties of one driver. Overlapping
// duties are always BLOCK; a rest gap below the minimum between distinct
// duties is BLOCK as well.
func checkOverlapAndRest(policy Policy, driver string, duties []core.Assignment, report *Report) {
	for i := 1; i < len(duties); i++ {
		prev, cur := duties[i-1], duties[i]
		if cur.StartTime.Before(prev.EndTime) {
			report.add(core.Violation{
				Rule:     RuleOverlap,
				Severity: core.SeverityBlock,
				TourID:   cur.TourID,
				DriverID: driver,
				Message:  fmt.Sprintf("tours %s and %s overlap for driver %s", prev.TourID, cur.TourID, driver),
			})
			continue
		}
		gap := cur.StartTime.Sub(prev.EndTime)
		// Only duty changes across a daily boundary count as rest periods.
		if !sameDay(prev.EndTime, cur.StartTime) && gap < hours(policy.MinRestHours) {
			report.add(core.Violation{
				Rule:     RuleRest,
				Severity: core.SeverityBlock,
				TourID:   cur.TourID,
				DriverID: driver,
				Message: fmt.Sprintf("driver %s rests %.1fh before tour %s, minimum is %.1fh",
					driver, gap.Hours(), cur.TourID, policy.MinRestHours),
			})
		}
	}
}

// checkDailySpan flags days where first-start to last-end exceeds the
// allowed duty span. Advisory: long spans are legal with breaks, so WARN.
func checkDailySpan(policy Policy, driver string, duties []core.Assignment, report *Report) {
	type bounds struct{ first, last time.Time }
	days := make(map[string]*bounds)
	var keys []string
	for _, a := range duties {
		key := a.StartTime.UTC().Format("2006-01-02")
		b, ok := days[key]
		if !ok {
			days[key] = &bounds{first: a.StartTime, last: a.EndTime}
			keys = append(keys, key)
			continue
		}
		if a.EndTime.After(b.last) {
			b.last = a.EndTime
		}
	}
	for _, key := range keys {
		b := days[key]
		if span := b.last.Sub(b.first); span > hours(policy.MaxSpanHours) {
			report.add(core.Violation{
				Rule:     RuleSpan,
				Severity: core.SeverityWarn,
				DriverID: driver,
				Message: fmt.Sprintf("driver %s duty span %.1fh on %s exceeds %.1fh",
					driver, span.Hours(), key, policy.MaxSpanHours),
			})
		}
	}
}

// checkFatigue counts consecutive working days.
func checkFatigue(policy Policy, driver string, duties []core.Assignment, report *Report) {
	seen := make(map[string]bool)
	var days []time.Time
	for _, a := range duties {
		day := a.StartTime.UTC().Truncate(24 * time.Hour)
		key := day.Format("2006-01-02")
		if !seen[key] {
			seen[key] = true
			days = append(days, day)
		}
	}
	run := 1
	for i := 1; i < len(days); i++ {
		if days[i].Sub(days[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run == policy.MaxConsecutiveDays+1 {
			report.add(core.Violation{
				Rule:     RuleFatigue,
				Severity: core.SeverityWarn,
				DriverID: driver,
				Message: fmt.Sprintf("driver %s works more than %d consecutive days",
					driver, policy.MaxConsecutiveDays),
			})
		}
	}
}

// checkWeeklyHours sums duty time across the plan window.
func checkWeeklyHours(policy Policy, driver string, duties []core.Assignment, report *Report) {
	var total time.Duration
	for _, a := range duties {
		total += a.EndTime.Sub(a.StartTime)
	}
	if total > hours(policy.MaxWeeklyHours) {
		report.add(core.Violation{
			Rule:     RuleWeeklyHours,
			Severity: core.SeverityBlock,
			DriverID: driver,
			Message: fmt.Sprintf("driver %s totals %.1fh, weekly maximum is %.1fh",
				driver, total.Hours(), policy.MaxWeeklyHours),
		})
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
