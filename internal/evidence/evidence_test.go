package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/gate"
)

func samplePack() Pack {
	policy := gate.DefaultPolicy()
	return Pack{
		PlanVersionID: "4f3a2a6e-0000-0000-0000-000000000001",
		TenantID:      "4f3a2a6e-0000-0000-0000-000000000002",
		Seed:          42,
		InputHash:     "aa11",
		MatrixHash:    "bb22",
		OutputHash:    "cc33",
		PolicyHash:    policy.Hash(),
		Policy:        policy.Canonical(),
		Assignments: []core.Assignment{{
			TourID: "T1", DriverID: "D1",
			StartTime: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
			EndTime:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		}},
		AuditResults: gate.Report{WarnCount: 1, Details: []core.Violation{
			{Rule: gate.RuleSpan, Severity: core.SeverityWarn, DriverID: "D1", Message: "long span"},
		}},
		PublishedAt: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC),
		Approver:    ApproverInfo{UserID: "u1", Reason: "Weekly plan W10 approved"},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	first, firstBytes, err := Build(samplePack())
	require.NoError(t, err)
	second, secondBytes, err := Build(samplePack())
	require.NoError(t, err)

	assert.Equal(t, first.EvidenceHash, second.EvidenceHash)
	assert.Equal(t, firstBytes, secondBytes)
	assert.Len(t, first.EvidenceHash, 64)
}

func TestVerifyRoundTrip(t *testing.T) {
	built, stored, err := Build(samplePack())
	require.NoError(t, err)

	decoded, ok, err := Verify(stored)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, built.EvidenceHash, decoded.EvidenceHash)
	assert.Equal(t, built.OutputHash, decoded.OutputHash)
}

func TestVerifyDetectsTampering(t *testing.T) {
	_, stored, err := Build(samplePack())
	require.NoError(t, err)

	tampered := []byte(string(stored))
	for i := 0; i+4 <= len(tampered); i++ {
		// Flip the output hash value in place.
		if string(tampered[i:i+4]) == "cc33" {
			tampered[i] = 'd'
			break
		}
	}
	_, ok, err := Verify(tampered)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildChangesHashWithContent(t *testing.T) {
	a, _, err := Build(samplePack())
	require.NoError(t, err)

	p := samplePack()
	p.Seed = 43
	b, _, err := Build(p)
	require.NoError(t, err)

	assert.NotEqual(t, a.EvidenceHash, b.EvidenceHash)
}
