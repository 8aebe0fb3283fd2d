package jobs

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	KindGenerateEmbedding    = "generate_embedding"
	KindYouTubeTranscription = "youtube_transcription"
)

// Job is one durable queue row. Eligible for dequeue only while
// status=pending, not_before <= now and attempts < max_attempts; the
// composite (status, not_before, id) index backs the SKIP LOCKED scan.
type Job struct {
	ID      int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind    string         `gorm:"type:text;not null;index" json:"kind"`
	Payload datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"payload"`

	Status   string `gorm:"type:text;not null;default:'pending'" json:"status"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`

	NotBefore time.Time `gorm:"not null;default:now()" json:"not_before"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// EmbeddingPayload is the payload of generate_embedding jobs; the worker
// rejects (fails without retry) payloads missing MessageID or Content.
type EmbeddingPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Model     string `json:"model"`
}

// TranscriptionPayload is the payload of youtube_transcription jobs.
type TranscriptionPayload struct {
	MessageID string `json:"message_id"`
	VideoID   string `json:"video_id"`
}
