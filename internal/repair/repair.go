// Package repair implements server-authoritative repair sessions: preview a
// set of incremental plan changes, apply them onto a freshly minted DRAFT
// plan version under an advisory lock with drift detection, and undo an
// applied session by reverting that result version to the exact pre-apply
// state. The source plan version is never mutated. At most one session is
// OPEN per plan at any time.
package repair

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/solvereign/backend/internal/core"
)

// Change operations accepted by a session.
const (
	OpReassign  = "reassign"
	OpAddPin    = "add_pin"
	OpRemovePin = "remove_pin"
)

// Change is one requested plan modification.
type Change struct {
	Op       string `json:"op"`
	TourID   string `json:"tour_id,omitempty"`
	DriverID string `json:"driver_id,omitempty"`
	PinID    string `json:"pin_id,omitempty"`
	PinType  string `json:"pin_type,omitempty"`
	PinKey   string `json:"pin_key,omitempty"`
}

// DiffEntry describes one effect of a change, shown in the preview.
type DiffEntry struct {
	Kind      string `json:"kind"` // "assignment" | "pin"
	TourID    string `json:"tour_id,omitempty"`
	OldDriver string `json:"old_driver,omitempty"`
	NewDriver string `json:"new_driver,omitempty"`
	PinKey    string `json:"pin_key,omitempty"`
	Action    string `json:"action,omitempty"` // "added" | "removed"
}

// Preview is the stored dry-run result. The base hashes anchor drift
// detection: apply refuses when the plan moved since the preview.
type Preview struct {
	Changes        []Change    `json:"changes"`
	Diff           []DiffEntry `json:"diff"`
	BaseOutputHash string      `json:"base_output_hash"`
	BasePinsHash   string      `json:"base_pins_hash"`
}

// UndoPayload captures the source plan's state at apply time. Undo writes
// it back onto the result version.
type UndoPayload struct {
	Assignments []core.Assignment `json:"assignments"`
	Pins        []core.Pin        `json:"pins"`
	OutputHash  string            `json:"output_hash"`
	BlockCount  int               `json:"block_count"`
	WarnCount   int               `json:"warn_count"`
}

// Session is one repair workflow object. ResultPlanVersionID is the DRAFT
// plan version minted by apply; empty until the session is APPLIED.
type Session struct {
	ID                  string            `json:"id"`
	TenantID            string            `json:"tenant_id"`
	PlanVersionID       string            `json:"plan_version_id"`
	UserID              string            `json:"user_id"`
	Status              core.RepairStatus `json:"status"`
	Preview             *Preview          `json:"preview,omitempty"`
	Undo                *UndoPayload      `json:"-"`
	ResultPlanVersionID string            `json:"result_plan_version_id,omitempty"`
	IdempotencyKey      string            `json:"idempotency_key,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	ExpiresAt           time.Time         `json:"expires_at"`
	AppliedAt           *time.Time        `json:"applied_at,omitempty"`
}

// Expired reports whether an OPEN session has passed its TTL.
func (s *Session) Expired(now time.Time) bool {
	return s.Status == core.RepairOpen && !now.Before(s.ExpiresAt)
}

// applyChanges computes the effect of changes on copies of the current
// assignments and pins. Pure: inputs are never mutated.
func applyChanges(assignments []core.Assignment, pins []core.Pin, changes []Change) ([]core.Assignment, []core.Pin, []DiffEntry, error) {
	nextAssignments := append([]core.Assignment(nil), assignments...)
	nextPins := append([]core.Pin(nil), pins...)
	var diff []DiffEntry

	for _, c := range changes {
		switch c.Op {
		case OpReassign:
			found := false
			for i := range nextAssignments {
				if nextAssignments[i].TourID == c.TourID {
					diff = append(diff, DiffEntry{
						Kind: "assignment", TourID: c.TourID,
						OldDriver: nextAssignments[i].DriverID, NewDriver: c.DriverID,
					})
					nextAssignments[i].DriverID = c.DriverID
					found = true
					break
				}
			}
			if !found {
				return nil, nil, nil, fmt.Errorf("tour %s has no assignment to reassign", c.TourID)
			}
		case OpAddPin:
			if c.PinType == "" || c.PinKey == "" {
				return nil, nil, nil, fmt.Errorf("add_pin requires pin_type and pin_key")
			}
			for _, p := range nextPins {
				if p.PinType == c.PinType && p.PinKey == c.PinKey {
					return nil, nil, nil, fmt.Errorf("pin %s/%s already exists", c.PinType, c.PinKey)
				}
			}
			nextPins = append(nextPins, core.Pin{
				PinType: c.PinType, PinKey: c.PinKey, DriverID: c.DriverID, TourID: c.TourID,
			})
			diff = append(diff, DiffEntry{Kind: "pin", PinKey: c.PinKey, Action: "added"})
		case OpRemovePin:
			found := false
			for i, p := range nextPins {
				if p.ID == c.PinID || (c.PinKey != "" && p.PinKey == c.PinKey && p.PinType == c.PinType) {
					nextPins = append(nextPins[:i:i], nextPins[i+1:]...)
					diff = append(diff, DiffEntry{Kind: "pin", PinKey: p.PinKey, Action: "removed"})
					found = true
					break
				}
			}
			if !found {
				return nil, nil, nil, fmt.Errorf("pin to remove not found")
			}
		default:
			return nil, nil, nil, fmt.Errorf("unknown change op %q", c.Op)
		}
	}
	return nextAssignments, nextPins, diff, nil
}

// pinsHash content-addresses a pin set by its uniqueness keys and bindings;
// row ids and timestamps do not participate, so a logically identical set
// hashes identically.
func pinsHash(pins []core.Pin) string {
	type key struct {
		PinType  string `json:"pin_type"`
		PinKey   string `json:"pin_key"`
		DriverID string `json:"driver_id"`
		TourID   string `json:"tour_id"`
	}
	keys := make([]key, 0, len(pins))
	for _, p := range pins {
		keys = append(keys, key{p.PinType, p.PinKey, p.DriverID, p.TourID})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PinType != keys[j].PinType {
			return keys[i].PinType < keys[j].PinType
		}
		return keys[i].PinKey < keys[j].PinKey
	})
	data, _ := json.Marshal(keys)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
