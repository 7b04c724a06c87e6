// Package api assembles the HTTP surface: route table, middleware order, and
// per-route RBAC guards.
package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/solvereign/backend/internal/approval"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/handlers"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/idempotency"
	"github.com/solvereign/backend/internal/killswitch"
	"github.com/solvereign/backend/internal/middleware"
	"github.com/solvereign/backend/internal/monitoring"
	"github.com/solvereign/backend/internal/plan"
	"github.com/solvereign/backend/internal/repair"
	"github.com/solvereign/backend/internal/resolver"
	"github.com/solvereign/backend/internal/session"
	"github.com/solvereign/backend/internal/solver"
	"github.com/solvereign/backend/internal/stream"
)

// Deps carries everything the router wires together. DB and Redis may be nil
// in memory mode; the readiness probe reports accordingly.
type Deps struct {
	DB          *sql.DB
	Redis       *redis.Client
	Identities  *identity.Service
	Sessions    *session.Manager
	Plans       *plan.Manager
	Repairs     *repair.Manager
	Approvals   *approval.Service
	Switches    *killswitch.Service
	Resolver    *resolver.Service
	Audit       *auditlog.Logger
	Idempotency *idempotency.Service
	Metrics     *monitoring.Metrics
	Streamer    *stream.Streamer
	SolverPool  *solver.Pool
	RateLimit   middleware.RateLimitConfig
}

// NewRouter builds the full route table. Middleware order: trace and metrics
// on everything; the rate limiter sits after Auth on protected routes so it
// keys by tenant, and wraps /auth/login directly, keyed by client address.
// Health and metrics endpoints are never throttled.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Trace)
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}
	limiter := middleware.NewRateLimiter(d.RateLimit)

	// Unauthenticated surface.
	r.Handle("/health", handlers.HandleHealth()).Methods(http.MethodGet)
	r.Handle("/health/ready", handlers.HandleReady(d.DB, d.SolverPool, d.Redis)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/auth/login",
		limiter.Middleware(handlers.HandleLogin(d.Identities, d.Sessions, d.Audit))).Methods(http.MethodPost)

	// Everything below requires a session.
	auth := r.NewRoute().Subrouter()
	auth.Use(middleware.Auth(d.Sessions))
	auth.Use(limiter.Middleware)
	auth.Use(middleware.Idempotency(d.Idempotency))

	auth.Handle("/auth/logout", handlers.HandleLogout(d.Sessions, d.Audit)).Methods(http.MethodPost)
	auth.Handle("/auth/me", handlers.HandleMe()).Methods(http.MethodGet)

	// Plans.
	auth.Handle("/plans", handlers.HandleListPlans(d.Plans)).Methods(http.MethodGet)
	auth.Handle("/plans", handlers.HandleCreatePlan(d.Plans)).Methods(http.MethodPost)
	auth.Handle("/plans/{id}", handlers.HandleGetPlan(d.Plans)).Methods(http.MethodGet)
	auth.Handle("/plans/{id}/solve", handlers.HandleSolvePlan(d.Plans)).Methods(http.MethodPost)
	auth.Handle("/plans/{id}/lock", handlers.HandleLockPlan(d.Plans)).Methods(http.MethodPost)
	auth.Handle("/plans/{id}/matrix", handlers.HandleMatrix(d.Plans)).Methods(http.MethodGet)
	auth.Handle("/plans/{id}/violations", handlers.HandleViolations(d.Plans)).Methods(http.MethodGet)
	auth.Handle("/plans/{id}/pins", handlers.HandleAddPin(d.Plans)).Methods(http.MethodPost)
	auth.Handle("/plans/{id}/pins/{pin_id}", handlers.HandleRemovePin(d.Plans)).Methods(http.MethodDelete)

	// Snapshots.
	auth.Handle("/snapshots/publish", handlers.HandlePublish(d.Plans, d.Metrics)).Methods(http.MethodPost)
	auth.Handle("/snapshots/{snapshot_id}/repair", handlers.HandleRepairFromSnapshot(d.Plans)).Methods(http.MethodPost)

	// Repair sessions.
	auth.Handle("/repairs/sessions", handlers.HandleCreateRepair(d.Repairs, d.Metrics)).Methods(http.MethodPost)
	auth.Handle("/repairs/sessions/{sid}", handlers.HandleGetRepair(d.Repairs)).Methods(http.MethodGet)
	auth.Handle("/repairs/sessions/{sid}/apply", handlers.HandleApplyRepair(d.Repairs, d.Metrics)).Methods(http.MethodPost)
	auth.Handle("/repairs/sessions/{sid}/undo", handlers.HandleUndoRepair(d.Repairs, d.Metrics)).Methods(http.MethodPost)
	auth.Handle("/repairs/sessions/{sid}/abort", handlers.HandleAbortRepair(d.Repairs, d.Metrics)).Methods(http.MethodPost)

	// Evidence and audit.
	auth.Handle("/evidence/{snapshot_id}",
		middleware.RequirePermission(identity.PermEvidenceView, handlers.HandleEvidence(d.Plans))).Methods(http.MethodGet)
	auth.Handle("/audit",
		middleware.RequirePermission(identity.PermAuditView, handlers.HandleAuditList(d.Audit))).Methods(http.MethodGet)
	auth.Handle("/audit/verify",
		middleware.RequirePermission(identity.PermAuditView, handlers.HandleAuditVerify(d.Audit))).Methods(http.MethodGet)

	// Approvals.
	auth.Handle("/approvals", handlers.HandleApprovalRequest(d.Approvals)).Methods(http.MethodPost)
	auth.Handle("/approvals", handlers.HandleApprovalList(d.Approvals)).Methods(http.MethodGet)
	auth.Handle("/approvals/{id}/decide", handlers.HandleApprovalDecide(d.Approvals)).Methods(http.MethodPost)
	auth.Handle("/approvals/{id}/override", handlers.HandleApprovalOverride(d.Approvals)).Methods(http.MethodPost)

	// Resolver.
	auth.Handle("/resolver/resolve",
		middleware.RequirePermission(identity.PermMappingResolve, handlers.HandleResolve(d.Resolver))).Methods(http.MethodPost)
	auth.Handle("/resolver/resolve_bulk",
		middleware.RequirePermission(identity.PermMappingResolve, handlers.HandleResolveBulk(d.Resolver))).Methods(http.MethodPost)

	// Admin.
	auth.Handle("/admin/killswitch",
		middleware.RequirePermission(identity.PermAdminKill, handlers.HandleKillSwitchToggle(d.Switches))).Methods(http.MethodPost)
	auth.Handle("/admin/killswitch",
		middleware.RequirePermission(identity.PermAdminKill, handlers.HandleKillSwitchList(d.Switches))).Methods(http.MethodGet)

	// Live event stream.
	if d.Streamer != nil {
		auth.Handle("/events/stream", d.Streamer).Methods(http.MethodGet)
	}

	return r
}
