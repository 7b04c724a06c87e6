// Package gate computes constraint violations over a plan's assignments and
// enforces the BLOCK gate on publish. The rule set is parameterized by a
// policy profile; the profile bytes are content-addressed so the exact rules
// in effect at publish time can be proven later.
package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Policy is the constraint profile a plan is audited against. All durations
// are hours. The zero value is not usable; start from DefaultPolicy.
type Policy struct {
	Version            string  `json:"version"`
	MinRestHours       float64 `json:"min_rest_hours"`
	MaxSpanHours       float64 `json:"max_span_hours"`
	MaxWeeklyHours     float64 `json:"max_weekly_hours"`
	MaxConsecutiveDays int     `json:"max_consecutive_days"`
}

// DefaultPolicy is the baseline EU-driving-time shaped profile.
func DefaultPolicy() Policy {
	return Policy{
		Version:            "2025.1",
		MinRestHours:       11,
		MaxSpanHours:       13,
		MaxWeeklyHours:     55,
		MaxConsecutiveDays: 6,
	}
}

// Canonical returns the canonical JSON bytes of the policy. The same policy
// value always yields the same bytes.
func (p Policy) Canonical() []byte {
	data, _ := json.Marshal(p)
	return data
}

// Hash content-addresses the policy profile.
func (p Policy) Hash() string {
	sum := sha256.Sum256(p.Canonical())
	return hex.EncodeToString(sum[:])
}

// ParsePolicy decodes a stored policy profile.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, err
	}
	return p, nil
}
