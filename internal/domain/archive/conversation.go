package archive

import (
	"time"

	"github.com/google/uuid"
)

// Source types a conversation can be imported from. SourceUnknown is what
// detection reports when no registered format matches.
const (
	SourceChatGPT   = "chatgpt"
	SourceClaude    = "claude"
	SourceOpenWebUI = "openwebui"
	SourceYouTube   = "youtube"
	SourceDOCX      = "docx"
	SourceUnknown   = "unknown"
)

type Conversation struct {
	ID    uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title string    `gorm:"type:text;not null;default:''" json:"title"`

	SourceType string `gorm:"type:text;not null;index" json:"source_type"`
	// SourceID is the stable identifier from the originating export.
	// (source_type, source_id) is unique when set; enforced by a partial
	// unique index created in EnsureArchiveIndexes.
	SourceID        *string    `gorm:"type:text" json:"source_id,omitempty"`
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty"`

	IsSaved bool `gorm:"not null;default:false" json:"is_saved"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// ConversationSummary is the per-conversation rollup served by
// ConversationRepo.Summaries (message count, bounds, preview).
type ConversationSummary struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	SourceType        string     `json:"source_type"`
	IsSaved           bool       `json:"is_saved"`
	MessageCount      int64      `json:"message_count"`
	EarliestMessageAt *time.Time `json:"earliest_message_at,omitempty"`
	LatestMessageAt   *time.Time `json:"latest_message_at,omitempty"`
	Preview           string     `json:"preview"`
}
