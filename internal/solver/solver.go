// Package solver defines the contract to the external optimization engine
// and runs invocations on a bounded worker pool. The engine itself is a
// collaborator: a pure function of (inputs, seed, policy). The package ships
// a deterministic greedy implementation used in dev mode and tests.
package solver

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/gate"
)

// Tour is one unit of work demanding a driver.
type Tour struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Driver is an assignable resource.
type Driver struct {
	ID string `json:"id"`
}

// Inputs is the canonical solve request. Pins are hard constraints the
// engine must honor.
type Inputs struct {
	Tours   []Tour     `json:"tours"`
	Drivers []Driver   `json:"drivers"`
	Pins    []core.Pin `json:"pins,omitempty"`
}

// Result is the engine's output. Assignments are ordered by tour start time.
type Result struct {
	Assignments []core.Assignment `json:"assignments"`
	Unassigned  []string          `json:"unassigned,omitempty"`
}

// Solver is the engine contract. Implementations must be deterministic for a
// fixed (inputs, seed, policy) triple and must honor ctx cancellation.
type Solver interface {
	Solve(ctx context.Context, in Inputs, seed int64, policy gate.Policy) (*Result, error)
}

// Greedy is the built-in engine: earliest-start-first tour order, drivers
// tried in a seed-shuffled rotation, pins honored, overlaps and rest
// shortfalls avoided. Not optimal, but deterministic and feasible-first.
type Greedy struct{}

func NewGreedy() *Greedy { return &Greedy{} }

func (g *Greedy) Solve(ctx context.Context, in Inputs, seed int64, policy gate.Policy) (*Result, error) {
	tours := append([]Tour(nil), in.Tours...)
	sort.Slice(tours, func(i, j int) bool {
		if tours[i].StartTime.Equal(tours[j].StartTime) {
			return tours[i].ID < tours[j].ID
		}
		return tours[i].StartTime.Before(tours[j].StartTime)
	})

	order := make([]string, len(in.Drivers))
	for i, d := range in.Drivers {
		order[i] = d.ID
	}
	sort.Strings(order)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	pinned := make(map[string]string) // tourID → driverID
	for _, p := range in.Pins {
		if p.TourID != "" && p.DriverID != "" {
			pinned[p.TourID] = p.DriverID
		}
	}

	schedule := make(map[string][]core.Assignment)
	result := &Result{}
	next := 0

	for _, tour := range tours {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if driver, ok := pinned[tour.ID]; ok {
			assign(result, schedule, tour, driver)
			continue
		}

		placed := false
		for i := 0; i < len(order); i++ {
			driver := order[(next+i)%len(order)]
			if fits(policy, schedule[driver], tour) {
				assign(result, schedule, tour, driver)
				next = (next + i + 1) % len(order)
				placed = true
				break
			}
		}
		if !placed {
			result.Unassigned = append(result.Unassigned, tour.ID)
		}
	}
	return result, nil
}

func assign(result *Result, schedule map[string][]core.Assignment, tour Tour, driver string) {
	a := core.Assignment{
		TourID:    tour.ID,
		DriverID:  driver,
		SiteID:    tour.SiteID,
		StartTime: tour.StartTime,
		EndTime:   tour.EndTime,
	}
	result.Assignments = append(result.Assignments, a)
	schedule[driver] = append(schedule[driver], a)
}

// fits rejects placements that would overlap an existing duty or cut the
// overnight rest below the policy minimum.
func fits(policy Policy, duties []core.Assignment, tour Tour) bool {
	minRest := time.Duration(policy.MinRestHours * float64(time.Hour))
	for _, d := range duties {
		if tour.StartTime.Before(d.EndTime) && d.StartTime.Before(tour.EndTime) {
			return false
		}
		if crossesDay(d.EndTime, tour.StartTime) && tour.StartTime.Sub(d.EndTime) < minRest && tour.StartTime.After(d.EndTime) {
			return false
		}
		if crossesDay(tour.EndTime, d.StartTime) && d.StartTime.Sub(tour.EndTime) < minRest && d.StartTime.After(tour.EndTime) {
			return false
		}
	}
	return true
}

func crossesDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay != by || am != bm || ad != bd
}

// Policy aliases the gate profile so callers can pass one value through.
type Policy = gate.Policy
