package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/reelsmith/internal/api"
	"github.com/bobarin/reelsmith/internal/config"
	"github.com/bobarin/reelsmith/internal/db"
	"github.com/bobarin/reelsmith/internal/notify"
	"github.com/bobarin/reelsmith/internal/pipeline"
	"github.com/bobarin/reelsmith/internal/queue"
	"github.com/bobarin/reelsmith/internal/services"
	"github.com/bobarin/reelsmith/internal/storage"
	"github.com/bobarin/reelsmith/internal/worker"
)

func main() {
	log.Println("Starting Reelsmith API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	if cfg.DatabaseAutoMigrate {
		if err := database.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Println("Database schema applied")
	}

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage
	objects, err := newObjectStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	providers := services.NewProviders(cfg)

	// Notifications are delivered in the background and pushed to
	// websocket clients once stored.
	hub := api.NewHub()
	emitter := notify.NewEmitter(database, 0).WithBroadcaster(hub)

	// The worker runs under the emitter so that notifications emitted while
	// jobs unwind at shutdown are still stored.
	work := func(ctx context.Context) { <-ctx.Done() }
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		p := pipeline.New(pipeline.Deps{
			Store:     database,
			Scenes:    pipeline.NewSceneGenerator(providers.Scenes),
			Footage:   pipeline.NewFootageResolver(cfg.DefaultMediaSource, providers.Footage...),
			Narration: pipeline.NewNarrationSynthesizer(providers.TTS, providers.Transcriber, objects),
			Submitter: pipeline.NewRenderSubmitter(providers.Render, cfg.RenderResolution, cfg.RenderAspectRatio),
			Objects:   objects,
			Notifier:  emitter,
		})
		poller := pipeline.NewPoller(database, providers.Render, emitter, cfg.RenderPollInterval, cfg.RenderPollTimeout)

		w := worker.New(q, p, poller, database)
		work = func(ctx context.Context) { w.Start(ctx, cfg.MaxConcurrentJobs) }
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		emitter.Supervise(bgCtx, cfg.NotifyWorkers, work)
	}()

	// Create API handler
	handler := api.NewHandler(database, q, providers.Render, hub).
		WithProviders(services.NewHealthChecker(), providers.Pingers()).
		WithDefaultMediaSource(cfg.DefaultMediaSource)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Stop the worker, then flush pending notifications
	bgCancel()
	<-bgDone

	log.Println("Server exited")
}

func newObjectStore(cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "minio":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := storage.NewMinIO(ctx, cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
		if err != nil {
			return nil, err
		}
		log.Printf("Initialized MinIO storage (bucket: %s)", cfg.MinIOBucket)
		return s, nil
	default:
		log.Printf("Initialized Supabase storage (bucket: %s)", cfg.SupabaseStorageBucket)
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket), nil
	}
}
