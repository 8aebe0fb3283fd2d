// Package search implements hybrid retrieval over the archive: Postgres
// full-text rank and pgvector cosine similarity fused into one score,
// then reshaped by phrase, substring, and recency boosts.
package search

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/castellan/chatvault/internal/data/repos/embeddings"
	searchrepo "github.com/castellan/chatvault/internal/data/repos/search"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/embed"
	"github.com/castellan/chatvault/internal/platform/logger"
)

// Result is one fused hit. FTSRank and Similarity keep the raw leg
// scores so callers can see how the final score was assembled.
type Result struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`

	FTSRank    float64 `json:"fts_rank"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// Meta reports what a search actually did, for logging and debugging.
type Meta struct {
	Query          string        `json:"query"`
	EffectiveQuery string        `json:"effective_query"`
	FTSCount       int           `json:"fts_count"`
	VectorCount    int           `json:"vector_count"`
	Fused          int           `json:"fused"`
	CutoffApplied  bool          `json:"cutoff_applied"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Options narrows one search call without touching the Config preset.
type Options struct {
	ConversationID *uuid.UUID
	Limit          int
}

type Service struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     searchrepo.SearchRepo
	embRepo  embeddings.EmbeddingRepo
	oracle   embed.Oracle
	defaults Config
	now      func() time.Time
}

func NewService(db *gorm.DB, log *logger.Logger, repo searchrepo.SearchRepo, embRepo embeddings.EmbeddingRepo, oracle embed.Oracle, defaults Config) *Service {
	return &Service{
		db:       db,
		log:      log.With("service", "SearchService"),
		repo:     repo,
		embRepo:  embRepo,
		oracle:   oracle,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Search runs the hybrid pipeline with the service defaults.
func (s *Service) Search(ctx context.Context, query string, opts Options) ([]Result, *Meta, error) {
	return s.SearchWithConfig(ctx, query, s.defaults, opts)
}

// SearchWithConfig runs the hybrid pipeline under an explicit config.
// Both legs read inside one transaction so they see the same snapshot.
func (s *Service) SearchWithConfig(ctx context.Context, query string, cfg Config, opts Options) ([]Result, *Meta, error) {
	start := s.now()
	meta := &Meta{Query: query, EffectiveQuery: query}
	if query == "" {
		return nil, meta, nil
	}

	effective := query
	if cfg.EnableQueryExpansion {
		effective = ExpandQuery(query)
		meta.EffectiveQuery = effective
	}

	var queryVec *pgvector.Vector
	if cfg.VectorWeight > 0 {
		raw, err := s.oracle.Embed(ctx, query)
		if err != nil {
			// Degrade to FTS-only rather than fail the search.
			s.log.Warn("Query embedding failed, running FTS only", "error", err)
		} else {
			v := pgvector.NewVector(raw)
			queryVec = &v
		}
	}

	var ftsHits, vecHits []searchrepo.Hit
	err := dbctx.RunInTx(ctx, s.db, func(dbc dbctx.Context) error {
		var err error
		if cfg.FTSWeight > 0 {
			ftsHits, err = s.repo.FTS(dbc, effective, opts.ConversationID, cfg.FTSRankThreshold, cfg.MaxFTSResults)
			if err != nil {
				return err
			}
			if len(ftsHits) == 0 {
				ftsHits, err = s.repo.Trigram(dbc, query, opts.ConversationID, cfg.MaxFTSResults)
				if err != nil {
					return err
				}
			}
		}
		if queryVec != nil {
			vecHits, err = s.repo.Vector(dbc, *queryVec, opts.ConversationID, cfg.VectorSimilarityThreshold, cfg.MaxVectorResults)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	meta.FTSCount = len(ftsHits)
	meta.VectorCount = len(vecHits)

	results := Fuse(ftsHits, vecHits, cfg)
	results = ApplyBoosts(results, query, cfg, s.now())
	sortByScore(results)
	if cfg.EnableQualityCutoff {
		before := len(results)
		results = QualityCutoff(results, cfg.QualityCutoffSlope)
		meta.CutoffApplied = len(results) < before
	}

	limit := opts.Limit
	if limit <= 0 || limit > cfg.MaxResults {
		limit = cfg.MaxResults
	}
	if len(results) > limit {
		results = results[:limit]
	}
	meta.Fused = len(results)
	meta.Elapsed = s.now().Sub(start)

	s.log.Debug("Search completed",
		"query", query, "fts", meta.FTSCount, "vector", meta.VectorCount,
		"returned", len(results), "elapsed", meta.Elapsed)
	return results, meta, nil
}

// SearchFTSOnly skips the vector leg entirely.
func (s *Service) SearchFTSOnly(ctx context.Context, query string, opts Options) ([]Result, *Meta, error) {
	cfg := s.defaults
	cfg.FTSWeight = 1
	cfg.VectorWeight = 0
	return s.SearchWithConfig(ctx, query, cfg, opts)
}

// SearchVectorOnly skips the FTS leg entirely.
func (s *Service) SearchVectorOnly(ctx context.Context, query string, opts Options) ([]Result, *Meta, error) {
	cfg := s.defaults
	cfg.FTSWeight = 0
	cfg.VectorWeight = 1
	return s.SearchWithConfig(ctx, query, cfg, opts)
}

// SearchSimilarToMessage finds semantic neighbors of a stored message
// using its persisted embedding, excluding the message itself.
func (s *Service) SearchSimilarToMessage(ctx context.Context, messageID uuid.UUID, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = s.defaults.MaxResults
	}
	emb, err := s.embRepo.GetByMessageID(dbctx.New(ctx), messageID)
	if err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, nil
	}
	hits, err := s.repo.Vector(dbctx.New(ctx), emb.Vector, nil, s.defaults.VectorSimilarityThreshold, limit+1)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, limit)
	for _, h := range hits {
		if h.MessageID == messageID {
			continue
		}
		out = append(out, Result{
			MessageID:      h.MessageID,
			ConversationID: h.ConversationID,
			Role:           h.Role,
			Content:        h.Content,
			CreatedAt:      h.CreatedAt,
			Similarity:     h.Score,
			Score:          h.Score,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Fuse merges the two hit lists by message id and computes the weighted
// combined score. FTS rank is normalized with min(1, log2(1+rank)) so
// unbounded ts_rank values land on the same scale as cosine similarity.
func Fuse(ftsHits, vecHits []searchrepo.Hit, cfg Config) []Result {
	byID := make(map[uuid.UUID]*Result, len(ftsHits)+len(vecHits))
	order := make([]uuid.UUID, 0, len(ftsHits)+len(vecHits))

	add := func(h searchrepo.Hit) *Result {
		if r, ok := byID[h.MessageID]; ok {
			return r
		}
		r := &Result{
			MessageID:      h.MessageID,
			ConversationID: h.ConversationID,
			Role:           h.Role,
			Content:        h.Content,
			CreatedAt:      h.CreatedAt,
		}
		byID[h.MessageID] = r
		order = append(order, h.MessageID)
		return r
	}
	for _, h := range ftsHits {
		add(h).FTSRank = h.Score
	}
	for _, h := range vecHits {
		add(h).Similarity = h.Score
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		r := byID[id]
		ftsNorm := math.Min(1, math.Log2(1+r.FTSRank))
		vecNorm := math.Max(0, r.Similarity)
		r.Score = cfg.FTSWeight*ftsNorm + cfg.VectorWeight*vecNorm
		out = append(out, *r)
	}
	return out
}

// QualityCutoff truncates the sorted list at the first score drop larger
// than slope * topScore. Everything past a cliff is noise.
func QualityCutoff(results []Result, slope float64) []Result {
	if len(results) < 2 || slope <= 0 {
		return results
	}
	top := results[0].Score
	if top <= 0 {
		return results
	}
	for i := 1; i < len(results); i++ {
		drop := (results[i-1].Score - results[i].Score) / top
		if drop > slope {
			return results[:i]
		}
	}
	return results
}

func sortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
}
