package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/castellan/chatvault/internal/data/repos/embeddings"
	"github.com/castellan/chatvault/internal/data/repos/messages"
	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/embed"
	"github.com/castellan/chatvault/internal/platform/logger"
	"github.com/castellan/chatvault/internal/platform/transcript"
)

// NewEmbeddingHandler builds the generate_embedding handler: validate
// payload, confirm the message still exists, embed, upsert. Payload and
// missing-row problems are permanent; oracle problems retry.
func NewEmbeddingHandler(log *logger.Logger, msgRepo messages.MessageRepo, embRepo embeddings.EmbeddingRepo, oracle embed.Oracle) Handler {
	log = log.With("handler", "generate_embedding")
	return func(ctx context.Context, job *types.Job) error {
		var payload types.EmbeddingPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return Permanent(fmt.Errorf("decode payload: %w", err))
		}
		if payload.MessageID == "" || payload.Content == "" {
			return Permanent(errors.New("payload missing message_id or content"))
		}
		msgID, err := uuid.Parse(payload.MessageID)
		if err != nil {
			return Permanent(fmt.Errorf("invalid message_id: %w", err))
		}

		dbc := dbctx.New(ctx)
		msg, err := msgRepo.GetByID(dbc, msgID)
		if err != nil {
			return err
		}
		if msg == nil {
			return Permanent(fmt.Errorf("message %s no longer exists", msgID))
		}

		vec, err := oracle.Embed(ctx, payload.Content)
		if err != nil {
			return fmt.Errorf("embed message %s: %w", msgID, err)
		}
		model := payload.Model
		if model == "" {
			model = oracle.Model()
		}
		if err := embRepo.Upsert(dbc, &types.MessageEmbedding{
			MessageID: msgID,
			Vector:    pgvector.NewVector(vec),
			Model:     model,
		}); err != nil {
			return err
		}
		log.Debug("Embedded message", "message_id", msgID, "model", model)
		return nil
	}
}

// NewTranscriptionHandler builds the youtube_transcription handler. The
// fetched transcript lands in the message metadata under transcript*
// keys; an unavailable oracle parks the job instead of retry-storming.
func NewTranscriptionHandler(log *logger.Logger, msgRepo messages.MessageRepo, oracle transcript.Oracle) Handler {
	log = log.With("handler", "youtube_transcription")
	return func(ctx context.Context, job *types.Job) error {
		var payload types.TranscriptionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return Permanent(fmt.Errorf("decode payload: %w", err))
		}
		if payload.MessageID == "" || payload.VideoID == "" {
			return Permanent(errors.New("payload missing message_id or video_id"))
		}
		msgID, err := uuid.Parse(payload.MessageID)
		if err != nil {
			return Permanent(fmt.Errorf("invalid message_id: %w", err))
		}

		dbc := dbctx.New(ctx)
		msg, err := msgRepo.GetByID(dbc, msgID)
		if err != nil {
			return err
		}
		if msg == nil {
			return Permanent(fmt.Errorf("message %s no longer exists", msgID))
		}

		tr, err := oracle.Fetch(ctx, payload.VideoID, []string{"en"})
		if errors.Is(err, transcript.ErrUnavailable) {
			return Permanent(err)
		}
		if err != nil {
			return fmt.Errorf("fetch transcript for %s: %w", payload.VideoID, err)
		}

		meta := msg.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["transcript"] = tr.Text
		meta["transcript_language"] = tr.Language
		meta["transcript_generated"] = tr.IsGenerated
		if tr.Duration > 0 {
			meta["transcript_duration"] = tr.Duration
		}
		if err := msgRepo.UpdateFields(dbc, msgID, map[string]interface{}{"metadata": meta}); err != nil {
			return err
		}
		log.Info("Stored transcript", "message_id", msgID, "video_id", payload.VideoID,
			"chars", len(tr.Text))
		return nil
	}
}
