// Package evidence builds the content-addressed pack persisted with every
// published snapshot: inputs, outputs, audit results, the policy profile in
// effect, and the approver. The pack is self-verifying: rebuilding the hash
// from the stored bytes must reproduce evidence_hash exactly.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/gate"
)

// ApproverInfo identifies who authorized the publish.
type ApproverInfo struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason"`
}

// Pack is the canonical evidence bundle. EvidenceHash covers every other
// field; the policy profile is embedded as bytes so the pack verifies
// without external lookups.
type Pack struct {
	PlanVersionID string            `json:"plan_version_id"`
	TenantID      string            `json:"tenant_id"`
	Seed          int64             `json:"seed"`
	InputHash     string            `json:"input_hash"`
	MatrixHash    string            `json:"matrix_hash"`
	OutputHash    string            `json:"output_hash"`
	PolicyHash    string            `json:"policy_hash"`
	Policy        json.RawMessage   `json:"policy"`
	Assignments   []core.Assignment `json:"assignments"`
	AuditResults  gate.Report       `json:"audit_results"`
	PublishedAt   time.Time         `json:"published_at"`
	Approver      ApproverInfo      `json:"approver"`
	EvidenceHash  string            `json:"evidence_hash"`
}

// canonical serializes the pack without its own hash. Field order is fixed
// by the struct; map-free content keeps the bytes deterministic.
func canonical(p *Pack) ([]byte, error) {
	cp := *p
	cp.EvidenceHash = ""
	data, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("canonicalize evidence pack: %w", err)
	}
	return data, nil
}

// Build finalizes a pack: computes EvidenceHash and returns the pack with
// its serialized bytes (hash included) for persistence.
func Build(p Pack) (*Pack, []byte, error) {
	p.PublishedAt = p.PublishedAt.UTC().Truncate(time.Microsecond)
	data, err := canonical(&p)
	if err != nil {
		return nil, nil, err
	}
	sum := sha256.Sum256(data)
	p.EvidenceHash = hex.EncodeToString(sum[:])

	stored, err := json.Marshal(&p)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize evidence pack: %w", err)
	}
	return &p, stored, nil
}

// Verify decodes stored pack bytes and recomputes the hash. Returns the
// decoded pack and whether the embedded hash matches.
func Verify(stored []byte) (*Pack, bool, error) {
	var p Pack
	if err := json.Unmarshal(stored, &p); err != nil {
		return nil, false, fmt.Errorf("decode evidence pack: %w", err)
	}
	data, err := canonical(&p)
	if err != nil {
		return nil, false, err
	}
	sum := sha256.Sum256(data)
	return &p, hex.EncodeToString(sum[:]) == p.EvidenceHash, nil
}
