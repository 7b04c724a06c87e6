package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/evidence"
	"github.com/solvereign/backend/internal/middleware"
	"github.com/solvereign/backend/internal/plan"
)

const defaultAuditPage = 100

// HandleAuditList returns tenant audit events after a cursor.
func HandleAuditList(audit *auditlog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		afterID, _ := strconv.ParseInt(r.URL.Query().Get("after_id"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 1000 {
			limit = defaultAuditPage
		}
		events, err := audit.List(r.Context(), sc.TenantID, afterID, limit)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		nextAfter := afterID
		if len(events) > 0 {
			nextAfter = events[len(events)-1].ID
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"events":   events,
			"after_id": nextAfter,
		})
	}
}

// HandleAuditVerify walks the tenant's hash chain.
func HandleAuditVerify(audit *auditlog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		brokenAt, valid, err := audit.Verify(r.Context(), sc.TenantID)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		out := map[string]interface{}{"valid": valid}
		if !valid {
			out["broken_at"] = brokenAt
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// HandleEvidence returns a snapshot's evidence pack with a fresh integrity
// verdict computed from the stored bytes.
func HandleEvidence(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		snapshot, err := plans.GetSnapshot(r.Context(), sc, mux.Vars(r)["snapshot_id"])
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		_, verified, err := evidence.Verify(snapshot.EvidencePack)
		if err != nil {
			verified = false
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"snapshot_id":   snapshot.SnapshotID,
			"evidence_hash": snapshot.EvidenceHash,
			"input_hash":    snapshot.InputHash,
			"matrix_hash":   snapshot.MatrixHash,
			"output_hash":   snapshot.OutputHash,
			"policy_hash":   snapshot.PolicyHash,
			"verified":      verified,
			"pack":          snapshot.EvidencePack,
		})
	}
}
