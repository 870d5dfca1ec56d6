package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facematch/internal/facecache"
	"github.com/your-org/facematch/internal/reconcile"
	"github.com/your-org/facematch/internal/storage"
	"github.com/your-org/facematch/pkg/dto"
)

type FaceHandler struct {
	db     *storage.PostgresStore
	minio  *storage.MinIOStore
	engine *reconcile.Engine
	cache  *facecache.Cache
}

func NewFaceHandler(db *storage.PostgresStore, minio *storage.MinIOStore, engine *reconcile.Engine, cache *facecache.Cache) *FaceHandler {
	return &FaceHandler{db: db, minio: minio, engine: engine, cache: cache}
}

// Register indexes a user's face from a selfie. Registration is
// idempotent: a user who already has a binding gets it back unchanged.
func (h *FaceHandler) Register(c *gin.Context) {
	userID, err := uuid.Parse(c.PostForm("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	sourceKey := "registrations/" + userID.String() + "/" + uuid.New().String() + "_" + header.Filename
	if err := h.minio.PutObject(c.Request.Context(), sourceKey, imageData, header.Header.Get("Content-Type")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
		return
	}

	result, err := h.engine.RegisterFace(c.Request.Context(), userID, imageData, sourceKey)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusCreated
	if result.AlreadyRegistered {
		status = http.StatusOK
	}
	c.JSON(status, dto.RegisterFaceResponse{
		FaceID:            result.FaceID,
		AlreadyRegistered: result.AlreadyRegistered,
		MatchCount:        result.MatchCount,
		RepairsScheduled:  result.RepairsScheduled,
	})
}

// GetFaceID resolves a user's canonical face identifier through the
// cached fallback chain. An empty face_id means the user has no known
// face.
func (h *FaceHandler) GetFaceID(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	faceID, err := h.cache.GetFaceID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.FaceIDResponse{UserID: userID, FaceID: faceID})
}

// SaveHint records the client-reported face identifier used as the
// last lookup fallback.
func (h *FaceHandler) SaveHint(c *gin.Context) {
	var req dto.FaceIDHintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.SaveFaceIDHint(c.Request.Context(), req.UserID, req.FaceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
