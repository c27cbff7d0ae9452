package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicaffil/platform/internal/adapters/legacybilling"
	"github.com/clinicaffil/platform/internal/affiliate"
	domauth "github.com/clinicaffil/platform/internal/auth"
	"github.com/clinicaffil/platform/internal/attribution"
	"github.com/clinicaffil/platform/internal/commission"
	"github.com/clinicaffil/platform/internal/plan"
	"github.com/clinicaffil/platform/internal/reporting"
	"github.com/clinicaffil/platform/internal/shared/auth"
	"github.com/clinicaffil/platform/internal/shared/config"
	"github.com/clinicaffil/platform/internal/shared/database"
	"github.com/clinicaffil/platform/internal/shared/events"
	"github.com/clinicaffil/platform/internal/shared/logging"
	"github.com/clinicaffil/platform/internal/shared/metrics"
	secmiddleware "github.com/clinicaffil/platform/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	DB     *database.DB
	Bus    events.Publisher
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Server.Env)
	app := &App{Config: cfg, Log: log, Bus: events.Noop{}}

	// Initialize database (optional - degraded mode without it)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warn().Err(err).Msg("database not available, running in limited mode")
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			log.Warn().Err(err).Msg("migration failed")
		}
	}

	// Initialize event bus with EventStoreDB (optional)
	bus, err := events.NewBus(ctx, cfg.EventStore)
	if err != nil {
		log.Warn().Err(err).Msg("event store not available, running without event streaming")
	} else {
		app.Bus = bus
		defer bus.Close()
		log.Info().Msg("event bus initialized")
	}

	// Reporting cache (optional)
	var reportCache *reporting.Cache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		reportCache = reporting.NewCache(client, cfg.Redis.TTL, logging.Component(log, "reportcache"))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("reporting cache enabled")
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	// Commission engine wiring. With a database the engine runs on the
	// durable ledger; without one it falls back to in-memory stores so
	// attribution capture and webhook intake keep absorbing traffic.
	var (
		touches    attribution.Store
		codes      attribution.CodeResolver
		commStore  commission.Store
		planSource plan.Registry
	)
	if app.DB != nil {
		touches = attribution.NewRepository(app.DB.Pool)
		codes = affiliate.NewRepository(app.DB.Pool)
		commStore = commission.NewPostgresStore(app.DB.Pool, cfg.Engine.SerializableRetries, cfg.Engine.RetryBackoff)
		planSource = plan.NewRepository(app.DB.Pool)
	} else {
		touches = attribution.NewMemoryStore()
		codes = affiliate.NewMemoryDirectory()
		commStore = commission.NewMemoryStore()
		planSource = plan.NewMemoryRegistry()
	}

	engine := commission.NewEngine(commStore, planSource, app.Bus, nil, logging.Component(log, "engine"))
	tiers := commission.NewTierService(commStore, planSource, app.Bus, logging.Component(log, "tiers"))

	attributionHandler := attribution.NewHandler(touches, codes)
	commissionHandler := commission.NewHandler(engine, tiers, touches, logging.Component(log, "webhook"))

	touchLimiter := secmiddleware.NewIPRateLimiter(cfg.Engine.TouchRateRPS, cfg.Engine.TouchRateBurst)

	// Public capture endpoints: rate-limited, small bodies, no auth
	r.Route("/t", func(r chi.Router) {
		r.Use(touchLimiter.Middleware)
		r.Use(secmiddleware.MaxBody(16 << 10))
		r.Mount("/", attributionHandler.Routes())
	})

	// Payment-source webhooks
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(secmiddleware.MaxBody(64 << 10))
		r.Mount("/", commissionHandler.WebhookRoutes())
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
			r.Use(auth.RequireRoles(
				string(domauth.RolePlatformAdmin),
				string(domauth.RoleTenantAdmin),
				string(domauth.RoleAffiliateManager),
				string(domauth.RoleFinance),
				string(domauth.RoleReportingViewer),
			))
		}

		// Admin surfaces need the durable ledger
		if app.DB != nil {
			affiliateRepo := affiliate.NewRepository(app.DB.Pool)
			affiliateHandler := affiliate.NewHandler(affiliateRepo, app.Bus)
			planRepo := plan.NewRepository(app.DB.Pool)
			planHandler := plan.NewHandler(planRepo)

			r.Mount("/affiliates", affiliateHandler.Routes())
			r.Mount("/assignments/{affiliateID}", planHandler.AssignmentRoutes())
			r.Mount("/plans", planHandler.Routes())
			r.Mount("/promotions", planHandler.PromotionRoutes())
			r.Mount("/commissions", commissionHandler.Routes())

			reportRepo := reporting.NewRepository(app.DB.Pool)
			reportHandler := reporting.NewHandler(reportRepo, reportCache, reporting.Suppressor{Floor: cfg.Engine.SuppressionFloor})
			r.Mount("/reports", reportHandler.Routes())
		} else {
			r.Mount("/commissions", commissionHandler.Routes())
		}
	})

	// Hold maturation: promote PENDING commissions whose hold elapsed
	maturationCtx, stopMaturation := context.WithCancel(ctx)
	defer stopMaturation()
	go func() {
		ticker := time.NewTicker(cfg.Engine.HoldCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-maturationCtx.Done():
				return
			case <-ticker.C:
				if _, err := engine.ApproveMatured(maturationCtx, time.Now().UTC()); err != nil {
					log.Error().Err(err).Msg("hold maturation pass failed")
				}
			}
		}
	}()

	// Legacy billing poller (optional)
	if cfg.LegacyBilling.Enabled {
		adapter, err := legacybilling.New(cfg.LegacyBilling, touches, engine, tiers, log)
		if err != nil {
			log.Error().Err(err).Msg("legacy billing adapter misconfigured")
		} else if err := adapter.Start(ctx); err != nil {
			log.Error().Err(err).Msg("legacy billing adapter failed to start")
		} else {
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				adapter.Stop(stopCtx)
			}()
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		stopMaturation()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Bool("database", app.DB != nil).
		Bool("redis", cfg.Redis.Enabled).
		Bool("legacy_billing", cfg.LegacyBilling.Enabled).
		Msg("affiliate platform started")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}

	<-done
	log.Info().Msg("server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "ClinicAffil Attribution & Commission Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if err := app.Bus.Health(); err != nil {
			checks["eventstore"] = "not ready: " + err.Error()
		} else {
			checks["eventstore"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Tenant-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
