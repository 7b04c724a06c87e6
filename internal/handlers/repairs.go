package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/middleware"
	"github.com/solvereign/backend/internal/monitoring"
	"github.com/solvereign/backend/internal/repair"
)

type createRepairRequest struct {
	PlanVersionID  string          `json:"plan_version_id"`
	Changes        []repair.Change `json:"changes"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// HandleCreateRepair opens a repair session with a preview.
func HandleCreateRepair(repairs *repair.Manager, metrics *monitoring.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req createRepairRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		s, err := repairs.Create(r.Context(), sc, req.PlanVersionID, req.Changes, req.IdempotencyKey)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if metrics != nil {
			metrics.RecordRepair("opened")
		}
		writeJSON(w, http.StatusCreated, s)
	}
}

// HandleGetRepair reads a session; expired ones answer 410.
func HandleGetRepair(repairs *repair.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		s, err := repairs.Get(r.Context(), sc, mux.Vars(r)["sid"])
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// HandleApplyRepair persists the previewed changes.
func HandleApplyRepair(repairs *repair.Manager, metrics *monitoring.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		s, err := repairs.Apply(r.Context(), sc, mux.Vars(r)["sid"])
		if metrics != nil {
			metrics.RecordRepair(repairOutcome("applied", err))
		}
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// HandleUndoRepair restores the pre-apply state.
func HandleUndoRepair(repairs *repair.Manager, metrics *monitoring.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		s, err := repairs.Undo(r.Context(), sc, mux.Vars(r)["sid"])
		if metrics != nil {
			metrics.RecordRepair(repairOutcome("undone", err))
		}
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// HandleAbortRepair cancels an OPEN session.
func HandleAbortRepair(repairs *repair.Manager, metrics *monitoring.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		s, err := repairs.Abort(r.Context(), sc, mux.Vars(r)["sid"])
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if metrics != nil {
			metrics.RecordRepair("aborted")
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func repairOutcome(success string, err error) string {
	if err == nil {
		return success
	}
	if ae, ok := apperr.As(err); ok {
		switch ae.Code {
		case "PREVIEW_STALE":
			return "stale"
		case "SESSION_EXPIRED":
			return "expired"
		}
	}
	return "error"
}
