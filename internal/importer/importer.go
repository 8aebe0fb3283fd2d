// Package importer normalizes heterogeneous conversation exports into the
// archive. Message inserts and embedding-job enqueues share one
// transactional scope (outbox pattern): either both persist or neither.
package importer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/castellan/chatvault/internal/data/repos/conversations"
	"github.com/castellan/chatvault/internal/data/repos/messages"
	"github.com/castellan/chatvault/internal/data/repos/queue"
	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/domain/archive"
	domainjobs "github.com/castellan/chatvault/internal/domain/jobs"
	"github.com/castellan/chatvault/internal/importer/format"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/license"
	"github.com/castellan/chatvault/internal/platform/logger"
)

// Result accumulates per-conversation outcomes. Extraction failures never
// abort the import; they land in Errors with Failed incremented.
type Result struct {
	Imported      int      `json:"imported"`
	Skipped       int      `json:"skipped"`
	Updated       int      `json:"updated"`
	Failed        int      `json:"failed"`
	MessagesAdded int      `json:"messages_added"`
	Format        string   `json:"format"`
	Notes         []string `json:"notes,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

type Service struct {
	db         *gorm.DB
	log        *logger.Logger
	convRepo   conversations.ConversationRepo
	msgRepo    messages.MessageRepo
	jobRepo    queue.JobRepo
	registry   *format.Registry
	capability license.Oracle
	embedModel string
}

func NewService(
	db *gorm.DB,
	log *logger.Logger,
	convRepo conversations.ConversationRepo,
	msgRepo messages.MessageRepo,
	jobRepo queue.JobRepo,
	registry *format.Registry,
	capability license.Oracle,
	embedModel string,
) *Service {
	return &Service{
		db:         db,
		log:        log.With("service", "ImportService"),
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		jobRepo:    jobRepo,
		registry:   registry,
		capability: capability,
		embedModel: embedModel,
	}
}

// existingEntry is what the importer remembers about a previously
// imported conversation of the same format.
type existingEntry struct {
	conversationID  uuid.UUID
	contentHash     string
	sourceUpdatedAt *time.Time
}

// Import runs the full pipeline: detect, license-gate, dedupe by content
// hash, create or incrementally update, and enqueue embedding jobs.
func (s *Service) Import(ctx context.Context, payload interface{}) (*Result, error) {
	f, rawConvs, ok := s.registry.Detect(payload)
	if !ok {
		return nil, &FormatDetectionError{Registered: s.registry.Names()}
	}
	if f.RequiresLicense() && !s.capability.HasFeature(license.FeatureDOCXImport) {
		return nil, &LicenseRequiredError{Format: f.Name(), Feature: license.FeatureDOCXImport}
	}

	result := &Result{Format: f.Name()}

	existing, err := s.loadExisting(ctx, f.Name())
	if err != nil {
		return nil, err
	}

	for _, raw := range rawConvs {
		extracted, err := f.Extract(raw)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if len(extracted.Messages) == 0 {
			result.Skipped++
			continue
		}
		if err := s.importOne(ctx, f.Name(), extracted, existing, result); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
		}
	}
	return result, nil
}

func (s *Service) loadExisting(ctx context.Context, sourceType string) (map[string]existingEntry, error) {
	dbc := dbctx.New(ctx)
	convs, err := s.convRepo.ListBySourceType(dbc, sourceType)
	if err != nil {
		return nil, err
	}
	out := make(map[string]existingEntry, len(convs))
	for _, c := range convs {
		if c.SourceID == nil || *c.SourceID == "" {
			continue
		}
		msgs, err := s.msgRepo.ListByConversation(dbc, c.ID)
		if err != nil {
			return nil, err
		}
		contents := make([]string, 0, len(msgs))
		for _, m := range msgs {
			contents = append(contents, m.Content)
		}
		out[*c.SourceID] = existingEntry{
			conversationID:  c.ID,
			contentHash:     ContentHash(contents),
			sourceUpdatedAt: c.SourceUpdatedAt,
		}
	}
	return out, nil
}

func (s *Service) importOne(ctx context.Context, sourceType string, extracted *format.Conversation, existing map[string]existingEntry, result *Result) error {
	contents := make([]string, 0, len(extracted.Messages))
	for _, m := range extracted.Messages {
		contents = append(contents, m.Content)
	}
	hash := ContentHash(contents)

	if entry, found := existing[extracted.SourceID]; found && extracted.SourceID != "" {
		if entry.contentHash == hash {
			result.Skipped++
			return nil
		}
		if extracted.SourceUpdatedAt != nil &&
			(entry.sourceUpdatedAt == nil || extracted.SourceUpdatedAt.After(*entry.sourceUpdatedAt)) {
			return s.updateConversation(ctx, entry.conversationID, extracted, result)
		}
		// Different hash but not newer: the stored copy wins.
		result.Skipped++
		return nil
	}

	err := s.createConversation(ctx, sourceType, extracted, result)
	if isDuplicateKey(err) {
		// Lost a race with a concurrent import of the same source_id; the
		// unique (source_type, source_id) index decided the winner. Re-read
		// and fall back to the skip/update decision.
		s.log.Warn("Concurrent import detected, retrying as update",
			"source_type", sourceType, "source_id", extracted.SourceID)
		conv, getErr := s.convRepo.GetBySource(dbctx.New(ctx), sourceType, extracted.SourceID)
		if getErr != nil || conv == nil {
			return err
		}
		existing[extracted.SourceID] = existingEntry{
			conversationID:  conv.ID,
			sourceUpdatedAt: conv.SourceUpdatedAt,
		}
		return s.importOne(ctx, sourceType, extracted, existing, result)
	}
	return err
}

func (s *Service) createConversation(ctx context.Context, sourceType string, extracted *format.Conversation, result *Result) error {
	now := time.Now().UTC()
	createdAt := now
	if extracted.CreatedAt != nil {
		createdAt = *extracted.CreatedAt
	}

	var sourceID *string
	if extracted.SourceID != "" {
		id := extracted.SourceID
		sourceID = &id
	}

	added := 0
	err := dbctx.RunInTx(ctx, s.db, func(dbc dbctx.Context) error {
		conv, err := s.convRepo.Create(dbc, &types.Conversation{
			Title:           extracted.Title,
			SourceType:      sourceType,
			SourceID:        sourceID,
			SourceUpdatedAt: extracted.SourceUpdatedAt,
			CreatedAt:       createdAt,
			UpdatedAt:       now,
		})
		if err != nil {
			return err
		}
		added, err = s.insertMessages(dbc, conv.ID, extracted.Messages, 0)
		return err
	})
	if err != nil {
		return err
	}
	result.Imported++
	result.MessagesAdded += added
	return nil
}

// updateConversation appends only messages whose (role, content) key is
// new, continuing the sequence from the stored maximum, and bumps
// source_updated_at. Exactly one embedding job per appended message.
func (s *Service) updateConversation(ctx context.Context, convID uuid.UUID, extracted *format.Conversation, result *Result) error {
	added := 0
	err := dbctx.RunInTx(ctx, s.db, func(dbc dbctx.Context) error {
		current, err := s.msgRepo.ListByConversation(dbc, convID)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(current))
		for _, m := range current {
			seen[MessageKey(m.Role, m.Content)] = true
		}
		maxSeq, err := s.msgRepo.MaxSequence(dbc, convID)
		if err != nil {
			return err
		}

		fresh := make([]format.Message, 0)
		for _, m := range extracted.Messages {
			if m.Content == "" || seen[MessageKey(m.Role, m.Content)] {
				continue
			}
			fresh = append(fresh, m)
		}
		added, err = s.insertMessages(dbc, convID, fresh, int(maxSeq)+1)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"updated_at": time.Now().UTC()}
		if extracted.SourceUpdatedAt != nil {
			updates["source_updated_at"] = *extracted.SourceUpdatedAt
		}
		return s.convRepo.UpdateFields(dbc, convID, updates)
	})
	if err != nil {
		return err
	}
	result.Updated++
	result.MessagesAdded += added
	return nil
}

// insertMessages persists extracted messages with contiguous sequences
// starting at seqBase and enqueues their jobs in the same transaction.
func (s *Service) insertMessages(dbc dbctx.Context, convID uuid.UUID, extracted []format.Message, seqBase int) (int, error) {
	if len(extracted) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]*types.Message, 0, len(extracted))
	seq := seqBase
	for _, m := range extracted {
		if m.Content == "" {
			continue
		}
		createdAt := now
		if m.CreatedAt != nil {
			createdAt = *m.CreatedAt
		}
		meta := datatypes.JSONMap{}
		for k, v := range m.Metadata {
			meta[k] = v
		}
		meta[archive.MetaSequence] = seq
		seq++
		if len(m.Attachments) > 0 {
			meta[archive.MetaAttachments] = m.Attachments
		}
		rows = append(rows, &types.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			Role:           m.Role,
			Content:        m.Content,
			Metadata:       meta,
			CreatedAt:      createdAt,
			UpdatedAt:      now,
		})
	}
	if _, err := s.msgRepo.Create(dbc, rows); err != nil {
		return 0, err
	}

	for _, row := range rows {
		payload := types.EmbeddingPayload{
			MessageID: row.ID.String(),
			Content:   row.Content,
			Model:     s.embedModel,
		}
		if _, err := s.jobRepo.Enqueue(dbc, domainjobs.KindGenerateEmbedding, payload, time.Time{}); err != nil {
			return 0, err
		}
		if vid, ok := row.Metadata[archive.MetaVideoID].(string); ok && vid != "" {
			tp := types.TranscriptionPayload{MessageID: row.ID.String(), VideoID: vid}
			if _, err := s.jobRepo.Enqueue(dbc, domainjobs.KindYouTubeTranscription, tp, time.Time{}); err != nil {
				return 0, err
			}
		}
	}
	return len(rows), nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
