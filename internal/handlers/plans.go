package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/middleware"
	"github.com/solvereign/backend/internal/monitoring"
	"github.com/solvereign/backend/internal/plan"
)

// HandleListPlans lists the tenant's plans, filterable by site and state.
func HandleListPlans(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		f := plan.ListFilter{
			SiteID: r.URL.Query().Get("site_id"),
			State:  core.PlanState(r.URL.Query().Get("state")),
		}
		out, err := plans.List(r.Context(), sc, f)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"plans": out})
	}
}

// HandleCreatePlan creates a DRAFT plan version.
func HandleCreatePlan(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req plan.CreateDraftRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		p, err := plans.CreateDraft(r.Context(), sc, req)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// HandleGetPlan returns one plan, state and counts included.
func HandleGetPlan(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		p, err := plans.Get(r.Context(), sc, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandleSolvePlan starts a solve run.
func HandleSolvePlan(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		p, err := plans.StartSolve(r.Context(), sc, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, p)
	}
}

// publishOutcome maps a publish error to its metric label.
func publishOutcome(err error) string {
	if err == nil {
		return "published"
	}
	if ae, ok := apperr.As(err); ok {
		switch ae.Code {
		case "VIOLATIONS_BLOCK_PUBLISH":
			return "blocked"
		case "APPROVAL_REQUIRED":
			return "approval_required"
		case "FREEZE_ACTIVE":
			return "frozen"
		}
	}
	return "error"
}

// HandlePublish runs the gated publish of a SOLVED plan.
func HandlePublish(plans *plan.Manager, metrics *monitoring.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req plan.PublishRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		snapshot, err := plans.Publish(r.Context(), sc, req)
		if metrics != nil {
			metrics.RecordPublish(publishOutcome(err))
		}
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot)
	}
}

type lockRequest struct {
	Reason  string `json:"reason"`
	Confirm bool   `json:"confirm"`
}

// HandleLockPlan makes a PUBLISHED plan immutable forever.
func HandleLockPlan(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req lockRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		p, err := plans.Lock(r.Context(), sc, mux.Vars(r)["id"], req.Reason, req.Confirm)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandleMatrix returns the tour × day assignment matrix.
func HandleMatrix(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		matrix, err := plans.GetMatrix(r.Context(), sc, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, matrix)
	}
}

// HandleViolations returns the current BLOCK/WARN findings.
func HandleViolations(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		report, err := plans.Violations(r.Context(), sc, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type addPinRequest struct {
	PinType  string `json:"pin_type"`
	PinKey   string `json:"pin_key"`
	DriverID string `json:"driver_id,omitempty"`
	TourID   string `json:"tour_id,omitempty"`
}

// HandleAddPin attaches a pin to a plan.
func HandleAddPin(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req addPinRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		pin, err := plans.AddPin(r.Context(), sc, mux.Vars(r)["id"], core.Pin{
			PinType:  req.PinType,
			PinKey:   req.PinKey,
			DriverID: req.DriverID,
			TourID:   req.TourID,
		})
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, pin)
	}
}

// HandleRemovePin deletes a pin.
func HandleRemovePin(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		vars := mux.Vars(r)
		if err := plans.RemovePin(r.Context(), sc, vars["id"], vars["pin_id"]); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}

type repairFromSnapshotRequest struct {
	Reason string `json:"reason"`
}

// HandleRepairFromSnapshot derives a new DRAFT from a published snapshot.
func HandleRepairFromSnapshot(plans *plan.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req repairFromSnapshotRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		p, err := plans.RepairFromSnapshot(r.Context(), sc, mux.Vars(r)["snapshot_id"], req.Reason)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}
