// Package auditlog is the append-only, hash-chained event log. Every
// governance-relevant action lands here; each event's hash covers the
// previous event's hash, so any tampering breaks the chain at a detectable
// point. Storage-level triggers additionally reject UPDATE/DELETE.
package auditlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash anchors the first event of every tenant chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Well-known event types. Free-form types are allowed; these are the ones
// the core emits itself.
const (
	EventLogin                  = "LOGIN"
	EventLogout                 = "LOGOUT"
	EventPlanCreated            = "PLAN_CREATED"
	EventPlanSolveStarted       = "PLAN_SOLVE_STARTED"
	EventPlanSolved             = "PLAN_SOLVED"
	EventPlanSolveFailed        = "PLAN_SOLVE_FAILED"
	EventPlanPublished          = "PLAN_PUBLISHED"
	EventPlanLocked             = "PLAN_LOCKED"
	EventFreezeOverride         = "FREEZE_OVERRIDE"
	EventRepairCreated          = "REPAIR_SESSION_CREATED"
	EventRepairApplied          = "REPAIR_SESSION_APPLIED"
	EventRepairUndone           = "REPAIR_SESSION_UNDONE"
	EventRepairAborted          = "REPAIR_SESSION_ABORTED"
	EventApprovalRequested      = "APPROVAL_REQUESTED"
	EventApprovalDecided        = "APPROVAL_DECIDED"
	EventEmergencyOverride      = "EMERGENCY_OVERRIDE"
	EventKillSwitchActivated    = "KILL_SWITCH_ACTIVATED"
	EventKillSwitchDeactivated  = "KILL_SWITCH_DEACTIVATED"
	EventTenantIsolationAttempt = "TENANT_ISOLATION_ATTEMPT"
)

// Severity levels for events.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityHigh    = "HIGH"
)

// Event is one audit record. PrevHash/Hash are filled by the logger.
type Event struct {
	ID         int64                  `json:"id"`
	TS         time.Time              `json:"ts"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	EventType  string                 `json:"event_type"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Severity   string                 `json:"severity"`
	Details    map[string]interface{} `json:"details,omitempty"`
	PrevHash   string                 `json:"prev_hash"`
	Hash       string                 `json:"hash"`
}

// canonical serializes the event without its hash fields and DB id; the
// chain hash covers exactly these bytes.
func canonical(e *Event) []byte {
	cp := struct {
		TS         time.Time              `json:"ts"`
		TenantID   string                 `json:"tenant_id,omitempty"`
		UserID     string                 `json:"user_id,omitempty"`
		EventType  string                 `json:"event_type"`
		EntityType string                 `json:"entity_type"`
		EntityID   string                 `json:"entity_id"`
		Severity   string                 `json:"severity"`
		Details    map[string]interface{} `json:"details,omitempty"`
	}{e.TS, e.TenantID, e.UserID, e.EventType, e.EntityType, e.EntityID, e.Severity, e.Details}
	data, _ := json.Marshal(cp)
	return data
}

// ChainHash computes H(prev_hash || canonical(event)).
func ChainHash(prevHash string, e *Event) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical(e))
	return hex.EncodeToString(h.Sum(nil))
}

// Store persists events. Append must serialize per tenant chain so PrevHash
// linkage stays consistent under concurrency.
type Store interface {
	// Append fills PrevHash and Hash, assigns the id, and persists.
	Append(ctx context.Context, e *Event) error
	// List returns events for a tenant ordered by id ascending.
	List(ctx context.Context, tenantID string, afterID int64, limit int) ([]*Event, error)
}

// Logger is the service surface other components use.
type Logger struct {
	store Store
	now   func() time.Time
}

func NewLogger(store Store) *Logger {
	return &Logger{store: store, now: time.Now}
}

// Log appends an event to the tenant chain.
func (l *Logger) Log(ctx context.Context, e *Event) error {
	if e.TS.IsZero() {
		e.TS = l.now().UTC()
	}
	// Postgres stores microseconds; truncate so verification over re-read
	// rows recomputes the same canonical bytes.
	e.TS = e.TS.Truncate(time.Microsecond)
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if err := l.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// List pages through a tenant's events.
func (l *Logger) List(ctx context.Context, tenantID string, afterID int64, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.List(ctx, tenantID, afterID, limit)
}

// VerifyChain recomputes the chain and returns (-1, true) when intact, or
// the index of the first broken link and false.
func VerifyChain(events []*Event) (int, bool) {
	prev := GenesisHash
	for i, e := range events {
		if e.PrevHash != prev {
			return i, false
		}
		if e.Hash != ChainHash(e.PrevHash, e) {
			return i, false
		}
		prev = e.Hash
	}
	return -1, true
}

// Verify loads a tenant's full chain and validates it.
func (l *Logger) Verify(ctx context.Context, tenantID string) (int, bool, error) {
	var all []*Event
	var after int64
	for {
		page, err := l.store.List(ctx, tenantID, after, 500)
		if err != nil {
			return 0, false, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		after = page[len(page)-1].ID
	}
	idx, ok := VerifyChain(all)
	return idx, ok, nil
}
