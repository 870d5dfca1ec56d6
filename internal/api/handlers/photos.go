package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/query"
	"github.com/your-org/facematch/internal/reconcile"
	"github.com/your-org/facematch/internal/storage"
	"github.com/your-org/facematch/pkg/dto"
)

type PhotoHandler struct {
	db     *storage.PostgresStore
	minio  *storage.MinIOStore
	engine *reconcile.Engine
	fanout *query.Fanout
}

func NewPhotoHandler(db *storage.PostgresStore, minio *storage.MinIOStore, engine *reconcile.Engine, fanout *query.Fanout) *PhotoHandler {
	return &PhotoHandler{db: db, minio: minio, engine: engine, fanout: fanout}
}

// Upload accepts a multipart image, stores it, and runs the matching
// pipeline. The photo is kept even when every pipeline stage degrades;
// face_status in the response says which outcome the caller got.
func (h *PhotoHandler) Upload(c *gin.Context) {
	uploaderID, err := uuid.Parse(c.PostForm("user_id"))
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

	storageKey := "photos/" + uploaderID.String() + "/" + uuid.New().String() + "_" + header.Filename
	contentType := header.Header.Get("Content-Type")
	if err := h.minio.PutObject(c.Request.Context(), storageKey, imageData, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
		return
	}

	photo := &models.Photo{
		StorageKey:   storageKey,
		PublicURL:    h.minio.PublicURL(storageKey),
		OwnerID:      uploaderID,
		FileSize:     int64(len(imageData)),
		FileType:     contentType,
		Faces:        []models.Face{},
		MatchedUsers: []models.MatchedUser{},
		FaceIDs:      []string{},
		Location:     parseJSONForm[models.Location](c, "location"),
		Venue:        parseJSONForm[models.Venue](c, "venue"),
		EventDetails: parseJSONForm[models.EventDetails](c, "event_details"),
	}
	if err := h.db.CreatePhoto(c.Request.Context(), photo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := h.engine.ProcessUpload(c.Request.Context(), photo, imageData)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.UploadPhotoResponse{
		Photo:      dto.PhotoToResponse(photo),
		FaceStatus: string(result.Status),
	})
}

// List runs the fan-out query in uploads or matches mode.
func (h *PhotoHandler) List(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	mode := query.Mode(c.DefaultQuery("mode", string(query.ModeUploads)))
	result, err := h.fanout.Query(c.Request.Context(), mode, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	photos := make([]dto.PhotoResponse, 0, len(result.Photos))
	for i := range result.Photos {
		photos = append(photos, dto.PhotoToResponse(&result.Photos[i]))
	}

	c.JSON(http.StatusOK, dto.PhotoListResponse{
		Photos:   photos,
		Total:    len(photos),
		Strategy: result.Strategy,
		Fallback: result.Fallback,
	})
}

// Get reads one photo, trying the current table first and falling back
// to the legacy one.
func (h *PhotoHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	for _, source := range []models.SourceTable{models.SourceCurrent, models.SourceLegacy} {
		photo, err := h.db.GetFrom(c.Request.Context(), source, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if photo != nil {
			c.JSON(http.StatusOK, dto.PhotoToResponse(photo))
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
}

func (h *PhotoHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	for _, source := range []models.SourceTable{models.SourceCurrent, models.SourceLegacy} {
		photo, err := h.db.GetFrom(c.Request.Context(), source, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if photo == nil {
			continue
		}
		if err := h.db.DeletePhoto(c.Request.Context(), source, id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if photo.StorageKey != "" {
			_ = h.minio.DeleteObject(c.Request.Context(), photo.StorageKey)
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
}

// parseJSONForm decodes an optional JSON-encoded form field, degrading
// to the zero value when absent or malformed.
func parseJSONForm[T any](c *gin.Context, field string) T {
	var out T
	if raw := c.PostForm(field); raw != "" {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	return out
}
