package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pinclab/derived-image-qa/internal/dto"
	"github.com/pinclab/derived-image-qa/internal/models"
	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
	"github.com/pinclab/derived-image-qa/pkg/response"
)

type queueAdminService interface {
	Stats(ctx context.Context) (*dto.QueueStatsResponse, error)
	List(ctx context.Context, status models.Status, limit int) ([]models.DerivedImage, error)
	Requeue(ctx context.Context, recordID int64) (*dto.RequeueResponse, error)
}

// QueueHandler exposes operator endpoints over the review queue.
type QueueHandler struct {
	admin queueAdminService
}

// NewQueueHandler constructs the handler.
func NewQueueHandler(admin queueAdminService) *QueueHandler {
	return &QueueHandler{admin: admin}
}

// Stats returns per-status record counts.
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats)
}

// List returns queue records in one status.
func (h *QueueHandler) List(c *gin.Context) {
	var query dto.QueueListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid queue listing query"))
		return
	}
	records, err := h.admin.List(c.Request.Context(), models.Status(query.Status), query.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, map[string]interface{}{"count": len(records)})
}

// Requeue moves a parked record back to Unassigned.
func (h *QueueHandler) Requeue(c *gin.Context) {
	recordID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "record id must be an integer"))
		return
	}
	result, err := h.admin.Requeue(c.Request.Context(), recordID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
