package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-tracker/internal/api"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/export"
	"github.com/maltedev/price-tracker/internal/extractor"
	"github.com/maltedev/price-tracker/internal/fetch"
	"github.com/maltedev/price-tracker/internal/history"
	"github.com/maltedev/price-tracker/internal/jobs"
	"github.com/maltedev/price-tracker/internal/metrics"
	"github.com/maltedev/price-tracker/internal/profile"
	"github.com/maltedev/price-tracker/internal/storage"
	"github.com/maltedev/price-tracker/internal/tracker"
	"github.com/maltedev/price-tracker/internal/upc"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Job snapshot store
	jobStore, redisClient, err := newJobStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize job store", "error", err, "store", cfg.Jobs.StoreType)
		os.Exit(1)
	}
	if jobStore == nil {
		jobStore = database.NewJobStore(db)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Site profiles: file-based rules first, database rules when the file
	// holds none.
	profileStore, err := newProfileStore(cfg, db, logger)
	if err != nil {
		logger.Error("failed to load site profiles", "error", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Extractors: plain HTTP always, browser rendering started on first use
	httpFetcher := fetch.NewHTTPFetcher(fetch.HTTPOptions{
		Timeout:   cfg.Scraper.FetchTimeout,
		UserAgent: cfg.Scraper.UserAgent,
	})
	httpExtractor := extractor.New(httpFetcher, profileStore, cfg.Scraper.MaxImages, logger)

	var (
		browserOnce    sync.Once
		browserFetcher *fetch.BrowserFetcher
		browserErr     error
	)
	factory := func(useBrowser bool) (jobs.Extractor, error) {
		if !useBrowser {
			return httpExtractor, nil
		}
		browserOnce.Do(func() {
			browserFetcher, browserErr = fetch.NewBrowserFetcher(&fetch.BrowserOptions{
				Headless:       cfg.Browser.Headless,
				Timeout:        cfg.Browser.Timeout,
				UserAgent:      cfg.Scraper.UserAgent,
				ViewportWidth:  cfg.Browser.ViewportWidth,
				ViewportHeight: cfg.Browser.ViewportHeight,
				Locale:         cfg.Browser.Locale,
			}, logger)
		})
		if browserErr != nil {
			return nil, browserErr
		}
		return extractor.New(browserFetcher, profileStore, cfg.Scraper.MaxImages, logger), nil
	}
	defer func() {
		if browserFetcher != nil {
			if err := browserFetcher.Close(); err != nil {
				logger.Error("failed to close browser", "error", err)
			}
		}
	}()

	// Persistence pipeline
	recorder := history.NewRecorder(db, logger)
	sink := tracker.New(db, recorder, logger)
	exporter := export.NewCSVExporter(db, cfg.Jobs.ExportDir)

	// Job manager
	manager := jobs.NewManager(jobs.ManagerConfig{
		Store:        jobStore,
		Sink:         sink,
		Exporter:     exporter,
		Factory:      factory,
		Metrics:      m,
		DefaultDelay: cfg.Scraper.DelayMin,
		Logger:       logger,
	})

	// Pick up jobs interrupted by a previous process
	resumeJobs(ctx, manager, logger)

	// UPC catalog lookup
	upcClient := upc.NewClient(upc.Options{
		RatePerMinute: cfg.Scraper.RatePerMinute,
		Timeout:       cfg.Scraper.FetchTimeout,
	}, logger)

	// Initialize API handlers
	handlers := api.NewHandlers(manager, db, upcClient, cfg.Jobs.ExportDir, logger)

	// Setup Chi router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Metrics
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// API Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", handlers.CreateJob)
		r.Get("/jobs", handlers.ListJobs)
		r.Get("/jobs/{jobID}", handlers.GetJob)
		r.Post("/jobs/{jobID}/cancel", handlers.CancelJob)
		r.Get("/jobs/{jobID}/export", handlers.ExportJob)

		r.Get("/products", handlers.ListProducts)
		r.Get("/products/{productID}/history", handlers.GetProductHistory)

		r.Get("/upc/{code}", handlers.LookupUPC)
	})

	// Start server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}

		// Stop active jobs after the HTTP surface is closed; their ledgers
		// persist a cancelled snapshot so they can be resumed later.
		manager.Shutdown()
		cancel()
	}()

	logger.Info("server starting", "addr", server.Addr, "job_store", cfg.Jobs.StoreType)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newJobStore builds the configured job snapshot store. The postgres store
// needs the shared database handle and is wired by the caller, signalled
// here by a nil store.
func newJobStore(ctx context.Context, cfg *config.Config) (jobs.Store, *redis.Client, error) {
	switch cfg.Jobs.StoreType {
	case "file":
		store, err := storage.NewFileStore(cfg.Jobs.FilePath)
		return store, nil, err
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return storage.NewRedisStore(client, 0), client, nil
	default:
		return nil, nil, nil
	}
}

func newProfileStore(cfg *config.Config, db *database.DB, logger *slog.Logger) (profile.Store, error) {
	fileStore, err := profile.NewFileStore(cfg.Scraper.ProfilesPath)
	if err != nil {
		return nil, err
	}
	if fileStore.Len() > 0 {
		logger.Info("loaded site profiles", "source", "file", "path", cfg.Scraper.ProfilesPath, "count", fileStore.Len())
		return fileStore, nil
	}

	dbStore, err := database.NewProfileStore(db)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded site profiles", "source", "database")
	return dbStore, nil
}

func resumeJobs(ctx context.Context, manager *jobs.Manager, logger *slog.Logger) {
	list, err := manager.List(ctx)
	if err != nil {
		logger.Error("failed to list jobs for resume", "error", err)
		return
	}

	for _, job := range list {
		if job.State.Terminal() {
			continue
		}
		if err := manager.Resume(ctx, job.ID); err != nil {
			logger.Error("failed to resume job", "job", job.ID, "error", err)
			continue
		}
		logger.Info("resumed interrupted job", "job", job.ID, "index", job.CurrentIndex, "total", job.Total)
	}
}
