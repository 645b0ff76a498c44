package model

import "time"

const (
	DocumentQueued     = "queued"
	DocumentProcessing = "processing"
	DocumentIndexed    = "indexed"
	DocumentSuperseded = "superseded"
	DocumentFailed     = "failed"
)

// KnowledgeDocument records one uploaded file and the store generation built from it.
type KnowledgeDocument struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Filename     string    `gorm:"size:255;not null" json:"filename"`
	OriginalName string    `gorm:"size:255;not null" json:"original_name"`
	Store        string    `gorm:"size:128;not null;index" json:"store"`
	Status       string    `gorm:"size:16;not null;index" json:"status"`
	ChunkCount   int       `json:"chunk_count"`
	Model        string    `gorm:"size:128" json:"model"`
	Generation   string    `gorm:"size:64" json:"generation"`
	JobID        string    `gorm:"size:64;index" json:"job_id,omitempty"`
	Error        string    `gorm:"size:1024" json:"error,omitempty"`
	UploadedBy   uint      `gorm:"index" json:"uploaded_by"`
	CreatedAt    time.Time `json:"upload_date"`
	UpdatedAt    time.Time `json:"updated_at"`
}
