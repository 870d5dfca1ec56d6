package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facematch/internal/config"
	"github.com/your-org/facematch/internal/facecache"
	"github.com/your-org/facematch/internal/match"
	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/observability"
	"github.com/your-org/facematch/internal/provider"
	"github.com/your-org/facematch/internal/queue"
	"github.com/your-org/facematch/internal/reconcile"
	"github.com/your-org/facematch/internal/repair"
	"github.com/your-org/facematch/internal/storage"
	"github.com/your-org/facematch/pkg/dto"
)

// eventNotifier forwards pipeline events to the message bus so the API
// process can broadcast them to WebSocket clients.
type eventNotifier struct {
	producer *queue.Producer
}

func (n *eventNotifier) MatchFound(photoID uuid.UUID, m models.MatchedUser) {
	match := m
	n.publish("match_found", &dto.WSEvent{
		Type:    "match_found",
		PhotoID: photoID,
		UserID:  m.UserID,
		Match:   &match,
	})
}

func (n *eventNotifier) RepairApplied(photoID uuid.UUID, userID uuid.UUID) {
	n.publish("repair_applied", &dto.WSEvent{
		Type:    "repair_applied",
		PhotoID: photoID,
		UserID:  userID,
	})
}

func (n *eventNotifier) ResetProgress(job *models.ResetJob) {
	resp := dto.ResetJobToResponse(job, false)
	n.publish("reset_progress", &dto.WSEvent{
		Type: "reset_progress",
		Job:  &resp,
	})
}

func (n *eventNotifier) publish(kind string, event *dto.WSEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.producer.PublishEvent(ctx, kind, event); err != nil {
		slog.Warn("publish event", "kind", kind, "error", err)
	}
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facematch worker", "workers", cfg.Repair.Workers)

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

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
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

	shapes := facecache.NewShapeCache(cfg.Cache.SchemaTTL, nil)
	srcCurrent, err := db.PhotoSource(models.SourceCurrent, shapes)
	if err != nil {
		slog.Error("init photo source", "error", err)
		os.Exit(1)
	}

	faceIDs := facecache.New(cfg.Cache.FaceIDTTL, db, srcCurrent, db)
	resolver := match.NewResolver(db, cfg.Matching.Threshold)
	notifier := &eventNotifier{producer: producer}

	engine := reconcile.NewEngine(rek, db, db, resolver, db, db, producer, faceIDs, notifier, cfg.Matching.RepairDelay)

	executor := repair.NewExecutor(db, rek, rek, db, db, minioStore, slog.Default()).
		WithNotifier(notifier).
		WithCache(faceIDs)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming repair tasks
	err = consumer.ConsumeRepairs(ctx, "repair-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.MatchRepairTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal repair task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		// Hold the task until its apply-after time so near-simultaneous
		// detections batch up before the write lands.
		if delay := time.Until(task.NotBefore); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := engine.ApplyRepair(ctx, task); err != nil {
			return fmt.Errorf("apply repair for photo %s: %w", task.PhotoID, err)
		}
		return nil
	}, cfg.Repair.Workers)
	if err != nil {
		slog.Error("start repair consumer", "error", err)
		os.Exit(1)
	}

	// Start consuming collection reset jobs
	err = consumer.ConsumeResets(ctx, "reset-worker", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.ResetTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal reset task", "error", err)
			return nil
		}
		return executor.Execute(ctx, task.JobID)
	})
	if err != nil {
		slog.Error("start reset consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report repair queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.RepairQueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
