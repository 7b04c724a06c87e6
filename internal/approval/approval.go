// Package approval implements the human-approval policy: risky actions need
// one or two approvers depending on a computed risk level, a single REJECT is
// terminal, and an emergency override bypasses the threshold at the cost of a
// high-severity audit trail and a mandatory post-hoc review.
package approval

import "time"

// RiskLevel buckets a request by blast radius.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Request statuses. REJECTED and OVERRIDDEN are terminal.
const (
	StatusPending    = "PENDING"
	StatusApproved   = "APPROVED"
	StatusRejected   = "REJECTED"
	StatusOverridden = "OVERRIDDEN"
)

// Decision verdicts.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// SystemUserID marks requests opened by the publish gate itself rather than
// by an operator.
const SystemUserID = "00000000-0000-0000-0000-000000000000"

// Context carries the signals the risk assessment is computed from.
type Context struct {
	AffectedDrivers int           `json:"affected_drivers"`
	NearRestLimit   bool          `json:"near_rest_limit"`
	FreezeActive    bool          `json:"freeze_active"`
	TimeToDeadline  time.Duration `json:"time_to_deadline"`
}

// Request is one approval workflow object.
type Request struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	Action            string     `json:"action"`
	EntityType        string     `json:"entity_type"`
	EntityID          string     `json:"entity_id"`
	RiskLevel         RiskLevel  `json:"risk_level"`
	RequiredApprovals int        `json:"required_approvals"`
	Status            string     `json:"status"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	ReviewDueAt       *time.Time `json:"review_due_at,omitempty"`
	Decisions         []Decision `json:"decisions,omitempty"`
}

// Decision is one approver's verdict on a request. At most one row per
// approver per request.
type Decision struct {
	RequestID  string    `json:"request_id"`
	ApproverID string    `json:"approver_id"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Approvals counts the APPROVE decisions recorded so far.
func (r *Request) Approvals() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Decision == DecisionApprove {
			n++
		}
	}
	return n
}

// DecisionBy returns the approver's existing decision, if any.
func (r *Request) DecisionBy(approverID string) *Decision {
	for i := range r.Decisions {
		if r.Decisions[i].ApproverID == approverID {
			return &r.Decisions[i]
		}
	}
	return nil
}

// AssessRisk scores a request context. Each signal contributes independently;
// the sum selects the tier.
func AssessRisk(c Context) (RiskLevel, int) {
	score := 0
	switch {
	case c.AffectedDrivers >= 20:
		score += 2
	case c.AffectedDrivers >= 5:
		score++
	}
	if c.NearRestLimit {
		score++
	}
	if c.FreezeActive {
		score++
	}
	if c.TimeToDeadline > 0 && c.TimeToDeadline < 2*time.Hour {
		score++
	}

	var level RiskLevel
	switch {
	case score >= 4:
		level = RiskCritical
	case score >= 2:
		level = RiskHigh
	case score == 1:
		level = RiskMedium
	default:
		level = RiskLow
	}
	return level, RequiredApprovals(level)
}

// RequiredApprovals maps a risk tier to its approver quorum.
func RequiredApprovals(level RiskLevel) int {
	if level == RiskHigh || level == RiskCritical {
		return 2
	}
	return 1
}
