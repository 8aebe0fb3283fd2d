package archive

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimension is the width of the vector column. The embedding
// oracle must produce vectors of exactly this size.
const EmbeddingDimension = 384

// MessageEmbedding holds one vector per message. An embedding is current
// when UpdatedAt >= the message's UpdatedAt, stale otherwise.
type MessageEmbedding struct {
	MessageID uuid.UUID       `gorm:"type:uuid;primaryKey" json:"message_id"`
	Vector    pgvector.Vector `gorm:"type:vector(384);not null" json:"-"`
	Model     string          `gorm:"type:text;not null" json:"model"`
	UpdatedAt time.Time       `gorm:"not null;default:now()" json:"updated_at"`
}

func (MessageEmbedding) TableName() string { return "message_embeddings" }
