package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facematch/internal/repair"
	"github.com/your-org/facematch/pkg/dto"
)

type AdminHandler struct {
	scheduler *repair.Scheduler
}

func NewAdminHandler(scheduler *repair.Scheduler) *AdminHandler {
	return &AdminHandler{scheduler: scheduler}
}

// StartReset triggers a collection rebuild, or re-attaches to one that
// is already running.
func (h *AdminHandler) StartReset(c *gin.Context) {
	resumed, err := h.scheduler.Resume(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if resumed != nil {
		c.JSON(http.StatusOK, dto.ResetJobToResponse(resumed, true))
		return
	}

	job, err := h.scheduler.StartRepair(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, dto.ResetJobToResponse(job, false))
}

// GetReset reads one reset job, the endpoint the admin UI polls until
// the job goes terminal.
func (h *AdminHandler) GetReset(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.scheduler.PollStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reset job not found"})
		return
	}
	c.JSON(http.StatusOK, dto.ResetJobToResponse(job, false))
}
