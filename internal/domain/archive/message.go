package archive

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Metadata keys the importer and workers rely on.
const (
	MetaSequence    = "sequence"
	MetaSource      = "source"
	MetaModel       = "model"
	MetaAttachments = "attachments"
	MetaVideoID     = "video_id"
)

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index;constraint:OnDelete:CASCADE" json:"conversation_id"`

	Role    string `gorm:"type:text;not null;index" json:"role"`
	Content string `gorm:"type:text;not null;default:''" json:"content"`

	// Metadata always carries "sequence" (insertion order within the
	// conversation); may carry source, model, attachments, transcript
	// fields. The search_vector generated tsvector column over content is
	// created by raw SQL in EnsureArchiveIndexes, not mapped here.
	Metadata datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Message) TableName() string { return "messages" }

// Sequence reads the metadata sequence index, tolerating the numeric types
// jsonb round-trips produce.
func (m *Message) Sequence() int64 {
	if m.Metadata == nil {
		return 0
	}
	switch v := m.Metadata[MetaSequence].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Attachment is the normalized shape every extractor reduces
// source-specific attachment records to.
type Attachment struct {
	FileName         string                 `json:"file_name"`
	Type             string                 `json:"type"`
	Available        bool                   `json:"available"`
	ExtractedContent string                 `json:"extracted_content,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
