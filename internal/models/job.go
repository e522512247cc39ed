package models

import "time"

// Job is the trackable unit of a queued bulk send. ProcessedCount is
// monotonically non-decreasing and never exceeds TotalRecipients; the worker
// is the only writer once the job leaves QUEUED.
type Job struct {
	JobID           string        `json:"job_id"`
	Channel         Channel       `json:"channel"`
	TotalRecipients int           `json:"total_recipients"`
	TotalBatches    int           `json:"total_batches"`
	BatchSize       int           `json:"batch_size"`
	Delay           time.Duration `json:"delay"`
	ProcessedCount  int           `json:"processed_count"`
	CurrentBatch    int           `json:"current_batch"`
	TotalSent       int           `json:"total_sent"`
	TotalFailed     int           `json:"total_failed"`
	Status          string        `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
