package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/solvereign/backend/internal/approval"
	"github.com/solvereign/backend/internal/core"
	"github.com/solvereign/backend/internal/killswitch"
	"github.com/solvereign/backend/internal/middleware"
	"github.com/solvereign/backend/internal/resolver"
)

// ============================================================================
// KILL SWITCHES
// ============================================================================

type killSwitchRequest struct {
	SiteID     string `json:"site_id"` // empty means tenant-wide
	Capability string `json:"capability"`
	Active     bool   `json:"active"`
	Reason     string `json:"reason"`
}

// HandleKillSwitchToggle activates or deactivates a switch.
func HandleKillSwitchToggle(switches *killswitch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req killSwitchRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		siteID := req.SiteID
		if siteID == "" {
			siteID = killswitch.TenantWideSite
		}
		var err error
		if req.Active {
			err = switches.Activate(r.Context(), sc.User.ID, sc.TenantID, siteID, core.Capability(req.Capability), req.Reason)
		} else {
			err = switches.Deactivate(r.Context(), sc.User.ID, sc.TenantID, siteID, core.Capability(req.Capability), req.Reason)
		}
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"site_id": siteID, "capability": req.Capability, "active": req.Active,
		})
	}
}

// HandleKillSwitchList returns the tenant's active switches.
func HandleKillSwitchList(switches *killswitch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		active, err := switches.ListActive(r.Context(), sc.TenantID)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"switches": active})
	}
}

// ============================================================================
// APPROVALS
// ============================================================================

type approvalRequestBody struct {
	Action     string           `json:"action"`
	EntityType string           `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Context    approval.Context `json:"context"`
}

// HandleApprovalRequest opens an approval request.
func HandleApprovalRequest(approvals *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req approvalRequestBody
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		out, err := approvals.Request(r.Context(), sc, req.Action, req.EntityType, req.EntityID, req.Context)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// HandleApprovalList returns pending requests.
func HandleApprovalList(approvals *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		pending, err := approvals.ListPending(r.Context(), sc)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"requests": pending})
	}
}

type decideRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// HandleApprovalDecide records one approver's verdict.
func HandleApprovalDecide(approvals *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req decideRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		out, err := approvals.Decide(r.Context(), sc, mux.Vars(r)["id"], req.Decision, req.Reason)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type overrideRequest struct {
	Justification string `json:"justification"`
}

// HandleApprovalOverride bypasses the threshold with a HIGH-severity trail.
func HandleApprovalOverride(approvals *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req overrideRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		out, err := approvals.EmergencyOverride(r.Context(), sc, mux.Vars(r)["id"], req.Justification)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ============================================================================
// RESOLVER
// ============================================================================

type resolveRequest struct {
	ExternalSystem string                  `json:"external_system"`
	EntityType     string                  `json:"entity_type"`
	ExternalID     string                  `json:"external_id"`
	Create         *resolver.CreatePayload `json:"create,omitempty"`
}

// HandleResolve maps one external id to its canonical UUID.
func HandleResolve(mappings *resolver.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req resolveRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		result, err := mappings.Resolve(r.Context(), sc.TenantID, req.ExternalSystem, req.EntityType, req.ExternalID, req.Create)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type resolveBulkRequest struct {
	ExternalSystem string   `json:"external_system"`
	EntityType     string   `json:"entity_type"`
	ExternalIDs    []string `json:"external_ids"`
}

// HandleResolveBulk maps up to MaxBulkSize external ids in one call.
func HandleResolveBulk(mappings *resolver.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := mustSession(w, r)
		if !ok {
			return
		}
		var req resolveBulkRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		results, err := mappings.ResolveBulk(r.Context(), sc.TenantID, req.ExternalSystem, req.EntityType, req.ExternalIDs)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
	}
}
