package conversations

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, conv *types.Conversation) (*types.Conversation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error)
	GetBySource(dbc dbctx.Context, sourceType, sourceID string) (*types.Conversation, error)
	ListBySourceType(dbc dbctx.Context, sourceType string) ([]*types.Conversation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
	Summaries(dbc dbctx.Context, limit, offset int) ([]*types.ConversationSummary, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, log *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: log.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) handle(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *conversationRepo) Create(dbc dbctx.Context, conv *types.Conversation) (*types.Conversation, error) {
	if conv == nil {
		return nil, fmt.Errorf("nil conversation")
	}
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if err := r.handle(dbc).Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *conversationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing conversation id")
	}
	var conv types.Conversation
	err := r.handle(dbc).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) GetBySource(dbc dbctx.Context, sourceType, sourceID string) (*types.Conversation, error) {
	if sourceType == "" || sourceID == "" {
		return nil, nil
	}
	var conv types.Conversation
	err := r.handle(dbc).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) ListBySourceType(dbc dbctx.Context, sourceType string) ([]*types.Conversation, error) {
	var out []*types.Conversation
	q := r.handle(dbc).Model(&types.Conversation{})
	if sourceType != "" {
		q = q.Where("source_type = ?", sourceType)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing conversation id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.handle(dbc).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing conversation id")
	}
	// Messages and embeddings go with it via ON DELETE CASCADE.
	return r.handle(dbc).Where("id = ?", id).Delete(&types.Conversation{}).Error
}

func (r *conversationRepo) Summaries(dbc dbctx.Context, limit, offset int) ([]*types.ConversationSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var out []*types.ConversationSummary
	err := r.handle(dbc).Raw(`
		SELECT c.id, c.title, c.source_type, c.is_saved,
		       COUNT(m.id)                                  AS message_count,
		       MIN(m.created_at)                            AS earliest_message_at,
		       MAX(m.created_at)                            AS latest_message_at,
		       COALESCE(LEFT((
		         SELECT m2.content FROM messages m2
		         WHERE m2.conversation_id = c.id AND m2.role = 'assistant'
		         ORDER BY m2.created_at DESC,
		                  COALESCE((m2.metadata->>'sequence')::bigint, 0) DESC,
		                  m2.id DESC
		         LIMIT 1
		       ), 160), '')                                  AS preview
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id, c.title, c.source_type, c.is_saved
		ORDER BY MAX(m.created_at) DESC NULLS LAST
		LIMIT ? OFFSET ?`, limit, offset).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
