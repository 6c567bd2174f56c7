package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	sfhttp "github.com/Strob0t/SiteForge/internal/adapter/http"
	"github.com/Strob0t/SiteForge/internal/adapter/litellm"
	sfnats "github.com/Strob0t/SiteForge/internal/adapter/nats"
	sfotel "github.com/Strob0t/SiteForge/internal/adapter/otel"
	"github.com/Strob0t/SiteForge/internal/adapter/postgres"
	"github.com/Strob0t/SiteForge/internal/adapter/ristretto"
	"github.com/Strob0t/SiteForge/internal/adapter/ws"
	"github.com/Strob0t/SiteForge/internal/config"
	"github.com/Strob0t/SiteForge/internal/logger"
	"github.com/Strob0t/SiteForge/internal/middleware"
	"github.com/Strob0t/SiteForge/internal/portpool"
	"github.com/Strob0t/SiteForge/internal/resilience"
	"github.com/Strob0t/SiteForge/internal/service"
	"github.com/Strob0t/SiteForge/internal/workpool"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"port_range", fmt.Sprintf("%d-%d", cfg.Preview.PortMin, cfg.Preview.PortMax),
		"max_concurrent_builds", cfg.Build.MaxConcurrent,
	)

	ctx := context.Background()

	// --- Observability ---
	shutdownOtel, err := sfotel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	metrics, err := sfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := sfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Preview resolution cache
	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	ports, err := portpool.New(cfg.Preview.PortMin, cfg.Preview.PortMax)
	if err != nil {
		return fmt.Errorf("port pool: %w", err)
	}
	builds := workpool.New(cfg.Build.MaxConcurrent)

	aiClient := litellm.NewClient(cfg.AIEdit.URL, cfg.AIEdit.APIKey, cfg.AIEdit.Model, cfg.AIEdit.Timeout)
	aiClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	supervisor := service.NewSupervisor(cfg.Build, cfg.Preview, store, ports, queue, hub, builds)
	supervisor.SetMetrics(metrics)

	resolver := service.NewPreviewResolver(cfg.Preview, store, ports, l1, supervisor)
	websiteSvc := service.NewWebsiteService(store, queue)

	ledger := service.NewLedger(store, aiClient, queue, hub, supervisor,
		cfg.AIEdit.Timeout, cfg.AIEdit.ConfidenceThreshold)
	ledger.SetMetrics(metrics)

	orch := service.NewOrchestrator(cfg.Build, store, supervisor, resolver, websiteSvc, queue, hub)

	// Websites persisted mid-build before the last shutdown have no
	// surviving process; mark them failed until explicitly restarted.
	if err := orch.RecoverStale(ctx); err != nil {
		return err
	}

	// Bridge build output from NATS to WebSocket clients
	cancelOutput, err := orch.StartOutputSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("output subscriber: %w", err)
	}
	defer cancelOutput()

	// Reclaim idle previews in the background
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go orch.RunIdleSweep(sweepCtx)

	// --- HTTP ---
	handlers := &sfhttp.Handlers{
		Websites:     websiteSvc,
		Orchestrator: orch,
		Ledger:       ledger,
		Resolver:     resolver,
		Hub:          hub,
		Queue:        queue,
	}

	r := chi.NewRouter()

	r.Use(sfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(sfhttp.Logger)
	r.Use(sfotel.HTTPMiddleware("siteforge-http"))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	sfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	stopSweep()
	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
