package dto

import "github.com/pinclab/derived-image-qa/internal/models"

// QueueStatsResponse reports the per-status record counts.
type QueueStatsResponse struct {
	Counts   map[models.Status]int `json:"counts"`
	Total    int                   `json:"total"`
	Eligible int                   `json:"eligible"`
}

// QueueListQuery filters the record listing.
type QueueListQuery struct {
	Status string `form:"status" binding:"required,oneof=U A L R M E"`
	Limit  int    `form:"limit" binding:"omitempty,gte=1,lte=200"`
}

// RequeueResponse reports a remediation requeue.
type RequeueResponse struct {
	RecordID       int64         `json:"record_id"`
	PreviousStatus models.Status `json:"previous_status"`
	Status         models.Status `json:"status"`
}
