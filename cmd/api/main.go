package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facematch/internal/api"
	"github.com/your-org/facematch/internal/api/ws"
	"github.com/your-org/facematch/internal/config"
	"github.com/your-org/facematch/internal/facecache"
	"github.com/your-org/facematch/internal/match"
	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/observability"
	"github.com/your-org/facematch/internal/provider"
	"github.com/your-org/facematch/internal/query"
	"github.com/your-org/facematch/internal/queue"
	"github.com/your-org/facematch/internal/reconcile"
	"github.com/your-org/facematch/internal/repair"
	"github.com/your-org/facematch/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facematch API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Recognition provider
	rek, err := provider.NewRekognition(cfg.Rekognition, cfg.Matching)
	if err != nil {
		slog.Error("init recognition provider", "error", err)
		os.Exit(1)
	}

	// Photo sources over both physical tables
	shapes := facecache.NewShapeCache(cfg.Cache.SchemaTTL, nil)
	srcCurrent, err := db.PhotoSource(models.SourceCurrent, shapes)
	if err != nil {
		slog.Error("init photo source", "error", err)
		os.Exit(1)
	}
	srcLegacy, err := db.PhotoSource(models.SourceLegacy, shapes)
	if err != nil {
		slog.Error("init photo source", "error", err)
		os.Exit(1)
	}

	faceIDs := facecache.New(cfg.Cache.FaceIDTTL, db, srcCurrent, db)
	resolver := match.NewResolver(db, cfg.Matching.Threshold)
	fanout := query.NewFanout([]query.PhotoSource{srcCurrent, srcLegacy}, faceIDs, cfg.Matching.ScanLimit)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	engine := reconcile.NewEngine(rek, db, db, resolver, db, db, producer, faceIDs, hub, cfg.Matching.RepairDelay)
	scheduler := repair.NewScheduler(db, producer, cfg.Repair.ResumeWindow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relay worker-side events to connected WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
		hub.BroadcastRaw(msg.Data())
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:    cfg.Server.APIKey,
		DB:        db,
		MinIO:     minioStore,
		Producer:  producer,
		Hub:       hub,
		Engine:    engine,
		Fanout:    fanout,
		FaceIDs:   faceIDs,
		Scheduler: scheduler,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
