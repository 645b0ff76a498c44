package model

import "time"

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// IngestJob is the queue payload asking a worker to index one uploaded document.
type IngestJob struct {
	JobID       string    `json:"job_id"`
	DocumentID  uint      `json:"document_id"`
	Store       string    `json:"store"`
	Path        string    `json:"path"`
	TriggeredBy string    `json:"triggered_by"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// JobStatus is the externally visible progress of an IngestJob.
type JobStatus struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	DocumentID uint      `json:"document_id"`
	Store      string    `json:"store"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	Generation string    `json:"generation,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}
