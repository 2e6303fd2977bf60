package domain

import "time"

// JobStatus represents the aggregate status of a processing job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ItemStatus represents the status of a single capture within a job.
// Transitions are monotonic: pending -> processing -> completed|failed.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// CaptureItem tracks the lifecycle of one capture inside a batch job.
// Filename is unique within the job and doubles as the content fingerprint.
type CaptureItem struct {
	Filename string         `json:"filename"`
	Status   ItemStatus     `json:"status"`
	Result   *ContentRecord `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Cached   bool           `json:"cached,omitempty"`
	Cost     float64        `json:"cost"`
}

// ProcessingJob is the in-memory aggregate for one submitted batch.
// The items slice length is fixed at creation; only the coordinator's
// completion path mutates counters and statuses.
type ProcessingJob struct {
	ID             string        `json:"id"`
	Status         JobStatus     `json:"status"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	TotalItems     int           `json:"total_items"`
	ProcessedCount int           `json:"processed_count"`
	SuccessCount   int           `json:"success_count"`
	FailureCount   int           `json:"failure_count"`
	EstimatedCost  float64       `json:"estimated_cost"`
	ActualCost     float64       `json:"actual_cost"`
	Items          []CaptureItem `json:"items"`
}
