package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facematch/internal/api/handlers"
	"github.com/your-org/facematch/internal/api/ws"
	"github.com/your-org/facematch/internal/auth"
	"github.com/your-org/facematch/internal/facecache"
	"github.com/your-org/facematch/internal/query"
	"github.com/your-org/facematch/internal/queue"
	"github.com/your-org/facematch/internal/reconcile"
	"github.com/your-org/facematch/internal/repair"
	"github.com/your-org/facematch/internal/storage"
)

type RouterConfig struct {
	APIKey    string
	DB        *storage.PostgresStore
	MinIO     *storage.MinIOStore
	Producer  *queue.Producer
	Hub       *ws.Hub
	Engine    *reconcile.Engine
	Fanout    *query.Fanout
	FaceIDs   *facecache.Cache
	Scheduler *repair.Scheduler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Photos
	photoH := handlers.NewPhotoHandler(cfg.DB, cfg.MinIO, cfg.Engine, cfg.Fanout)
	v1.POST("/photos", photoH.Upload)
	v1.GET("/photos", photoH.List)
	v1.GET("/photos/:id", photoH.Get)
	v1.DELETE("/photos/:id", photoH.Delete)

	// Faces
	faceH := handlers.NewFaceHandler(cfg.DB, cfg.MinIO, cfg.Engine, cfg.FaceIDs)
	v1.POST("/faces", faceH.Register)
	v1.GET("/faces/:userId", faceH.GetFaceID)
	v1.POST("/faces/hints", faceH.SaveHint)

	// Admin
	adminH := handlers.NewAdminHandler(cfg.Scheduler)
	v1.POST("/admin/resets", adminH.StartReset)
	v1.GET("/admin/resets/:id", adminH.GetReset)

	return r
}
