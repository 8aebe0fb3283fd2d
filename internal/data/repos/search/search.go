package search

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
)

// Hit is one scored message from either retrieval leg. Score carries
// ts_rank for FTS hits and cosine similarity for vector hits.
type Hit struct {
	MessageID      uuid.UUID `gorm:"column:message_id"`
	ConversationID uuid.UUID `gorm:"column:conversation_id"`
	Role           string    `gorm:"column:role"`
	Content        string    `gorm:"column:content"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	Score          float64   `gorm:"column:score"`
}

type SearchRepo interface {
	FTS(dbc dbctx.Context, query string, conversationID *uuid.UUID, minRank float64, limit int) ([]Hit, error)
	Vector(dbc dbctx.Context, vec pgvector.Vector, conversationID *uuid.UUID, minSimilarity float64, limit int) ([]Hit, error)
	// Trigram is the fuzzy fallback over raw content, used when the
	// tsquery parse yields nothing (typos, partial words).
	Trigram(dbc dbctx.Context, query string, conversationID *uuid.UUID, limit int) ([]Hit, error)
}

type searchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSearchRepo(db *gorm.DB, log *logger.Logger) SearchRepo {
	return &searchRepo{db: db, log: log.With("repo", "SearchRepo")}
}

func (r *searchRepo) handle(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *searchRepo) FTS(dbc dbctx.Context, query string, conversationID *uuid.UUID, minRank float64, limit int) ([]Hit, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	sql := `
		SELECT m.id AS message_id, m.conversation_id, m.role, m.content, m.created_at,
		       ts_rank(m.search_vector, websearch_to_tsquery('english', ?)) AS score
		FROM messages m
		WHERE m.search_vector @@ websearch_to_tsquery('english', ?)
		  AND ts_rank(m.search_vector, websearch_to_tsquery('english', ?)) >= ?`
	args := []interface{}{query, query, query, minRank}
	if conversationID != nil {
		sql += ` AND m.conversation_id = ?`
		args = append(args, *conversationID)
	}
	sql += ` ORDER BY score DESC LIMIT ?`
	args = append(args, limit)

	var hits []Hit
	if err := r.handle(dbc).Raw(sql, args...).Scan(&hits).Error; err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	return hits, nil
}

func (r *searchRepo) Vector(dbc dbctx.Context, vec pgvector.Vector, conversationID *uuid.UUID, minSimilarity float64, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 50
	}
	// Cosine distance <=> is 1 - similarity; keep rows under the
	// distance ceiling implied by the similarity floor.
	sql := `
		SELECT m.id AS message_id, m.conversation_id, m.role, m.content, m.created_at,
		       1 - (e.vector <=> ?) AS score
		FROM message_embeddings e
		JOIN messages m ON m.id = e.message_id
		WHERE (e.vector <=> ?) <= ?`
	args := []interface{}{vec, vec, 1 - minSimilarity}
	if conversationID != nil {
		sql += ` AND m.conversation_id = ?`
		args = append(args, *conversationID)
	}
	sql += ` ORDER BY e.vector <=> ? LIMIT ?`
	args = append(args, vec, limit)

	var hits []Hit
	if err := r.handle(dbc).Raw(sql, args...).Scan(&hits).Error; err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (r *searchRepo) Trigram(dbc dbctx.Context, query string, conversationID *uuid.UUID, limit int) ([]Hit, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	sql := `
		SELECT m.id AS message_id, m.conversation_id, m.role, m.content, m.created_at,
		       similarity(m.content, ?) AS score
		FROM messages m
		WHERE m.content % ?`
	args := []interface{}{query, query}
	if conversationID != nil {
		sql += ` AND m.conversation_id = ?`
		args = append(args, *conversationID)
	}
	sql += ` ORDER BY score DESC LIMIT ?`
	args = append(args, limit)

	var hits []Hit
	if err := r.handle(dbc).Raw(sql, args...).Scan(&hits).Error; err != nil {
		return nil, fmt.Errorf("trigram search: %w", err)
	}
	return hits, nil
}
