package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/solvereign/backend/internal/api"
	"github.com/solvereign/backend/internal/approval"
	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/config"
	"github.com/solvereign/backend/internal/database"
	"github.com/solvereign/backend/internal/events"
	"github.com/solvereign/backend/internal/gate"
	"github.com/solvereign/backend/internal/idempotency"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/killswitch"
	"github.com/solvereign/backend/internal/locks"
	"github.com/solvereign/backend/internal/middleware"
	"github.com/solvereign/backend/internal/monitoring"
	"github.com/solvereign/backend/internal/plan"
	"github.com/solvereign/backend/internal/repair"
	"github.com/solvereign/backend/internal/resolver"
	"github.com/solvereign/backend/internal/session"
	"github.com/solvereign/backend/internal/solver"
	"github.com/solvereign/backend/internal/stream"
)

func main() {
	// Local development reads .env; in production the environment is the
	// source of truth and the file simply does not exist.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = database.Open(cfg.Database.URL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := database.Migrate(ctx, db); err != nil {
			cancel()
			log.Fatalf("migrate database: %v", err)
		}
		cancel()
		log.Printf("[MAIN] database ready")
	} else {
		log.Printf("[MAIN] DATABASE_URL not set; running with in-memory stores")
	}

	// Redis backs the kill-switch cache when configured.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("[MAIN] redis unreachable, falling back to local cache: %v", err)
			rdb = nil
		}
	}

	// Stores.
	var (
		identityStore identity.Store
		sessionStore  session.Store
		planStore     plan.Store
		repairStore   repair.Store
		approvalStore approval.Store
		auditStore    auditlog.Store
		idemStore     idempotency.Store
		switchStore   killswitch.Store
		mappingStore  resolver.Store
		gateCache     gate.CacheStore
		locker        locks.Locker
	)
	if db != nil {
		identityStore = identity.NewPostgresStore(db)
		sessionStore = session.NewPostgresStore(db)
		planStore = plan.NewPostgresStore(db)
		repairStore = repair.NewPostgresStore(db)
		approvalStore = approval.NewPostgresStore(db)
		auditStore = auditlog.NewPostgresStore(db)
		idemStore = idempotency.NewPostgresStore(db)
		switchStore = killswitch.NewPostgresStore(db)
		mappingStore = resolver.NewPostgresStore(db)
		gateCache = gate.NewPostgresCache(db)
		locker = locks.NewPostgresLocker(db)
	} else {
		identityStore = identity.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
		planStore = plan.NewMemoryStore()
		repairStore = repair.NewMemoryStore()
		approvalStore = approval.NewMemoryStore()
		auditStore = auditlog.NewMemoryStore()
		idemStore = idempotency.NewMemoryStore()
		switchStore = killswitch.NewMemoryStore()
		mappingStore = resolver.NewMemoryStore()
		gateCache = gate.NewMemoryCache()
		locker = locks.NewMemoryLocker()
	}

	var switchCache killswitch.Cache
	if rdb != nil {
		switchCache = killswitch.NewRedisCache(rdb)
	}

	// Services.
	metrics := monitoring.NewMetrics()
	bus := events.NewBus()
	defer bus.Close()

	audit := auditlog.NewLogger(auditStore)
	identities := identity.NewService(identityStore)
	sessions := session.NewManager(sessionStore, identityStore,
		cfg.SessionTTL(), cfg.CookieName(), cfg.IsProduction())
	gates := gate.NewService(gateCache, gate.DefaultPolicy())
	switches := killswitch.NewService(switchStore, switchCache, identityStore, audit, cfg.KillSwitchCacheTTL())

	pool := solver.NewPool(cfg.Plan.SolverWorkers, cfg.Plan.SolverWorkers*4)
	defer pool.Stop()

	approvals := approval.NewService(approvalStore, audit, approvalContext(planStore))
	plans := plan.NewManager(planStore, gates, solver.NewGreedy(), pool, locker, audit, bus, plan.Options{
		Killswitch:          switches,
		Approvals:           approvals,
		FreezeDuration:      cfg.FreezeDuration(),
		PublishReasonMinLen: cfg.Plan.PublishReasonMinLen,
		PublishDeadline:     cfg.PublishDeadline(),
	})
	repairs := repair.NewManager(repairStore, planStore, gates, locker, audit, bus, repair.Options{
		TTL: cfg.RepairSessionTTL(),
	})
	mappings := resolver.NewService(mappingStore)
	idem := idempotency.NewService(idemStore, cfg.IdempotencyTTL())
	streamer := stream.NewStreamer(bus, metrics)

	router := api.NewRouter(api.Deps{
		DB:          db,
		Redis:       rdb,
		Identities:  identities,
		Sessions:    sessions,
		Plans:       plans,
		Repairs:     repairs,
		Approvals:   approvals,
		Switches:    switches,
		Resolver:    mappings,
		Audit:       audit,
		Idempotency: idem,
		Metrics:     metrics,
		Streamer:    streamer,
		SolverPool:  pool,
		RateLimit: middleware.RateLimitConfig{
			MaxCallsPerMinute: cfg.RateLimit.MaxCallsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[MAIN] listening on :%s (env=%s)", cfg.Server.Port, cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("[MAIN] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] shutdown: %v", err)
	}
}

// approvalContext assesses publish risk from the live plan: how many drivers
// the roster touches and whether a freeze window is active.
func approvalContext(plans plan.Store) approval.ContextFunc {
	return func(ctx context.Context, tenantID, action, entityID string) approval.Context {
		p, err := plans.GetPlan(ctx, tenantID, entityID)
		if err != nil || p == nil {
			return approval.Context{}
		}
		assignments, err := plans.GetAssignments(ctx, tenantID, entityID)
		if err != nil {
			return approval.Context{}
		}
		drivers := map[string]bool{}
		for _, a := range assignments {
			drivers[a.DriverID] = true
		}
		return approval.Context{
			AffectedDrivers: len(drivers),
			NearRestLimit:   p.WarnCount > 0,
			FreezeActive:    p.FreezeUntil != nil && time.Now().Before(*p.FreezeUntil),
		}
	}
}
