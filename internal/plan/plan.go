// Package plan owns the plan lifecycle: draft creation, solve orchestration,
// the gated publish with immutable snapshots, the irreversible lock, pins,
// and repair-from-snapshot. All state transitions on one plan serialize
// through an advisory lock keyed by (tenant, plan).
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/gate"
	"github.com/solvereign/backend/internal/solver"
)

// PlanVersion is one row of the lifecycle table.
type PlanVersion struct {
	ID                     string         `json:"id"`
	TenantID               string         `json:"tenant_id"`
	SiteID                 string         `json:"site_id"`
	ForecastVersionID      string         `json:"forecast_version_id"`
	State                  core.PlanState `json:"state"`
	Seed                   int64          `json:"seed"`
	Inputs                 solver.Inputs  `json:"-"`
	InputHash              string         `json:"input_hash,omitempty"`
	OutputHash             string         `json:"output_hash,omitempty"`
	PolicyHash             string         `json:"policy_hash,omitempty"`
	BlockCount             int            `json:"block_count"`
	WarnCount              int            `json:"warn_count"`
	CurrentSnapshotID      string         `json:"current_snapshot_id,omitempty"`
	PublishCount           int            `json:"publish_count"`
	FreezeUntil            *time.Time     `json:"freeze_until,omitempty"`
	RepairSourceSnapshotID string         `json:"repair_source_snapshot_id,omitempty"`
	FailureReason          string         `json:"failure_reason,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
}

// Snapshot is the immutable publish-time record. Only Status may change
// after creation (ACTIVE → SUPERSEDED → ARCHIVED).
type Snapshot struct {
	SnapshotID    string              `json:"snapshot_id"`
	PlanVersionID string              `json:"plan_version_id"`
	TenantID      string              `json:"tenant_id"`
	VersionNumber int                 `json:"version_number"`
	PublishedAt   time.Time           `json:"published_at"`
	PublishedBy   string              `json:"published_by"`
	PublishReason string              `json:"publish_reason"`
	FreezeUntil   time.Time           `json:"freeze_until"`
	InputHash     string              `json:"input_hash"`
	MatrixHash    string              `json:"matrix_hash"`
	OutputHash    string              `json:"output_hash"`
	EvidenceHash  string              `json:"evidence_hash"`
	PolicyHash    string              `json:"policy_hash"`
	Assignments   []core.Assignment   `json:"assignments"`
	AuditResults  gate.Report         `json:"audit_results"`
	EvidencePack  json.RawMessage     `json:"evidence_pack,omitempty"`
	Status        core.SnapshotStatus `json:"snapshot_status"`
}

// Matrix is the derived driver-by-day view of a plan's assignments.
type Matrix struct {
	Drivers map[string][]core.Assignment `json:"drivers"`
}

// BuildMatrix groups assignments per driver, ordered by start time. The
// grouping is deterministic so the matrix hash is stable.
func BuildMatrix(assignments []core.Assignment) Matrix {
	m := Matrix{Drivers: make(map[string][]core.Assignment)}
	for _, a := range assignments {
		m.Drivers[a.DriverID] = append(m.Drivers[a.DriverID], a)
	}
	return m
}

// canonicalHash hashes the canonical JSON of v. encoding/json sorts map
// keys, so equal values always produce equal hashes.
func canonicalHash(v interface{}) string {
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// InputHash content-addresses a solve request.
func InputHash(in solver.Inputs) string { return canonicalHash(in) }

// OutputHash content-addresses a solver result's assignments.
func OutputHash(assignments []core.Assignment) string { return canonicalHash(assignments) }

// MatrixHash content-addresses the derived matrix view.
func MatrixHash(assignments []core.Assignment) string {
	return canonicalHash(BuildMatrix(assignments))
}
