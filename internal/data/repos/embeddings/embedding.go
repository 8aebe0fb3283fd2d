package embeddings

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
)

type EmbeddingRepo interface {
	// Upsert is idempotent keyed by message_id.
	Upsert(dbc dbctx.Context, emb *types.MessageEmbedding) error
	GetByMessageID(dbc dbctx.Context, messageID uuid.UUID) (*types.MessageEmbedding, error)
	// StaleCount counts messages whose embedding is missing or older than
	// the message itself.
	StaleCount(dbc dbctx.Context) (int64, error)
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, log *logger.Logger) EmbeddingRepo {
	return &embeddingRepo{db: db, log: log.With("repo", "EmbeddingRepo")}
}

func (r *embeddingRepo) handle(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *embeddingRepo) Upsert(dbc dbctx.Context, emb *types.MessageEmbedding) error {
	if emb == nil || emb.MessageID == uuid.Nil {
		return fmt.Errorf("missing message id")
	}
	emb.UpdatedAt = time.Now().UTC()
	return r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"vector", "model", "updated_at"}),
		}).
		Create(emb).Error
}

func (r *embeddingRepo) GetByMessageID(dbc dbctx.Context, messageID uuid.UUID) (*types.MessageEmbedding, error) {
	if messageID == uuid.Nil {
		return nil, fmt.Errorf("missing message id")
	}
	var emb types.MessageEmbedding
	err := r.handle(dbc).Where("message_id = ?", messageID).First(&emb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

func (r *embeddingRepo) StaleCount(dbc dbctx.Context) (int64, error) {
	var count int64
	err := r.handle(dbc).Raw(`
		SELECT COUNT(*) FROM messages m
		LEFT JOIN message_embeddings e ON e.message_id = m.id
		WHERE m.content <> '' AND (e.message_id IS NULL OR e.updated_at < m.updated_at)`).
		Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
