// Package core holds the domain vocabulary shared across services: plan
// lifecycle states, repair session statuses, violation severities, and the
// assignment records that plans carry. Keeping these here avoids import
// cycles between the lifecycle, gate, and repair packages.
package core

import "time"

// PlanState is the lifecycle state of a plan version.
type PlanState string

const (
	PlanDraft     PlanState = "DRAFT"
	PlanSolving   PlanState = "SOLVING"
	PlanSolved    PlanState = "SOLVED"
	PlanFailed    PlanState = "FAILED"
	PlanPublished PlanState = "PUBLISHED"
	PlanLocked    PlanState = "LOCKED" // terminal
)

// CanTransition reports whether the lifecycle machine allows s → next.
func (s PlanState) CanTransition(next PlanState) bool {
	switch s {
	case PlanDraft:
		return next == PlanSolving
	case PlanSolving:
		return next == PlanSolved || next == PlanFailed
	case PlanSolved:
		return next == PlanPublished
	case PlanPublished:
		return next == PlanLocked
	default: // FAILED and LOCKED are terminal
		return false
	}
}

// SnapshotStatus tracks the only mutable column on a snapshot row.
type SnapshotStatus string

const (
	SnapshotActive     SnapshotStatus = "ACTIVE"
	SnapshotSuperseded SnapshotStatus = "SUPERSEDED"
	SnapshotArchived   SnapshotStatus = "ARCHIVED"
)

// RepairStatus is the state of a repair session.
type RepairStatus string

const (
	RepairOpen    RepairStatus = "OPEN"
	RepairApplied RepairStatus = "APPLIED"
	RepairAborted RepairStatus = "ABORTED"
	RepairExpired RepairStatus = "EXPIRED"
	RepairUndone  RepairStatus = "UNDONE"
)

// Severity tags a violation as publish-blocking or advisory.
type Severity string

const (
	SeverityBlock Severity = "BLOCK"
	SeverityWarn  Severity = "WARN"
)

// Capability names a gateable site capability.
type Capability string

const (
	CapabilityPublish Capability = "publish"
	CapabilityLock    Capability = "lock"
)

// Assignment binds a driver to a tour within a plan's output.
type Assignment struct {
	TourID    string    `json:"tour_id"`
	DriverID  string    `json:"driver_id"`
	SiteID    string    `json:"site_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Pin is an operator-declared constraint bound to a plan, e.g. fixing a
// driver to a tour. PinKey is unique within the plan.
type Pin struct {
	ID            string    `json:"id"`
	PlanVersionID string    `json:"plan_version_id"`
	TenantID      string    `json:"tenant_id"`
	PinType       string    `json:"pin_type"` // e.g. "driver_tour"
	PinKey        string    `json:"pin_key"`  // uniqueness key within the plan
	DriverID      string    `json:"driver_id,omitempty"`
	TourID        string    `json:"tour_id,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Violation is one constraint-rule finding over a plan's assignments.
type Violation struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	TourID   string   `json:"tour_id,omitempty"`
	DriverID string   `json:"driver_id,omitempty"`
	Message  string   `json:"message"`
}
