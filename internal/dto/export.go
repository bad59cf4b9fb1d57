package dto

import (
	"time"

	"github.com/pinclab/derived-image-qa/internal/models"
)

// ExportRequest creates an asynchronous review export job.
type ExportRequest struct {
	Format     models.ExportFormat `json:"format" binding:"required,oneof=csv pdf" validate:"required,oneof=csv pdf"`
	ReviewerID *int64              `json:"reviewer_id" binding:"omitempty,gt=0" validate:"omitempty,gt=0"`
	Since      *time.Time          `json:"since"`
}

// ExportJobResponse reports a created or queried job.
type ExportJobResponse struct {
	ID           string              `json:"id"`
	Format       models.ExportFormat `json:"format"`
	Status       models.ExportStatus `json:"status"`
	Progress     int                 `json:"progress"`
	ResultURL    *string             `json:"result_url,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}
