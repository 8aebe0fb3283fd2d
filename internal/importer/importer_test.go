package importer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/castellan/chatvault/internal/data/repos/conversations"
	"github.com/castellan/chatvault/internal/data/repos/messages"
	"github.com/castellan/chatvault/internal/data/repos/queue"
	"github.com/castellan/chatvault/internal/data/repos/testutil"
	types "github.com/castellan/chatvault/internal/domain"
	domainjobs "github.com/castellan/chatvault/internal/domain/jobs"
	"github.com/castellan/chatvault/internal/importer/format"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/license"
)

func newTestService(t *testing.T, tx *gorm.DB, licensed bool) *Service {
	t.Helper()
	log := testutil.Logger(t)
	return NewService(
		tx,
		log,
		conversations.NewConversationRepo(tx, log),
		messages.NewMessageRepo(tx, log),
		queue.NewJobRepo(tx, log),
		format.DefaultRegistry(),
		license.Static(licensed),
		"test-model",
	)
}

func decodePayload(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return v
}

const claudePayloadV1 = `[{
	"uuid": "itest-conv-1",
	"name": "Integration",
	"created_at": "2024-05-01T09:00:00Z",
	"updated_at": "2024-05-01T09:30:00Z",
	"chat_messages": [
		{"sender": "human", "text": "first question", "created_at": "2024-05-01T09:00:00Z"},
		{"sender": "assistant", "text": "first answer", "created_at": "2024-05-01T09:01:00Z"}
	]
}]`

const claudePayloadV2 = `[{
	"uuid": "itest-conv-1",
	"name": "Integration",
	"created_at": "2024-05-01T09:00:00Z",
	"updated_at": "2024-05-01T10:00:00Z",
	"chat_messages": [
		{"sender": "human", "text": "first question", "created_at": "2024-05-01T09:00:00Z"},
		{"sender": "assistant", "text": "first answer", "created_at": "2024-05-01T09:01:00Z"},
		{"sender": "human", "text": "follow-up", "created_at": "2024-05-01T09:55:00Z"}
	]
}]`

func TestImportCreateSkipUpdate(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	svc := newTestService(t, tx, false)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	// Fresh import.
	res, err := svc.Import(ctx, decodePayload(t, claudePayloadV1))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || res.MessagesAdded != 2 || res.Failed != 0 {
		t.Fatalf("fresh import: %+v", res)
	}

	convRepo := conversations.NewConversationRepo(tx, testutil.Logger(t))
	conv, err := convRepo.GetBySource(dbc, "claude", "itest-conv-1")
	if err != nil || conv == nil {
		t.Fatalf("conversation lookup: %v %v", conv, err)
	}
	msgRepo := messages.NewMessageRepo(tx, testutil.Logger(t))
	msgs, err := msgRepo.ListByConversation(dbc, conv.ID)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("messages: %d %v", len(msgs), err)
	}
	if msgs[0].Sequence() != 0 || msgs[1].Sequence() != 1 {
		t.Fatalf("sequences: %d, %d", msgs[0].Sequence(), msgs[1].Sequence())
	}

	var embedJobs int64
	if err := tx.Model(&types.Job{}).Where("kind = ?", domainjobs.KindGenerateEmbedding).Count(&embedJobs).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if embedJobs != 2 {
		t.Fatalf("expected one embedding job per message, got %d", embedJobs)
	}

	// Identical re-import: content hash matches, nothing changes.
	res, err = svc.Import(ctx, decodePayload(t, claudePayloadV1))
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if res.Skipped != 1 || res.Imported != 0 || res.MessagesAdded != 0 {
		t.Fatalf("re-import: %+v", res)
	}

	// Newer export with one extra message: incremental update.
	res, err = svc.Import(ctx, decodePayload(t, claudePayloadV2))
	if err != nil {
		t.Fatalf("update import: %v", err)
	}
	if res.Updated != 1 || res.MessagesAdded != 1 {
		t.Fatalf("update import: %+v", res)
	}
	msgs, _ = msgRepo.ListByConversation(dbc, conv.ID)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after update, got %d", len(msgs))
	}
	if msgs[2].Sequence() != 2 {
		t.Fatalf("appended message must continue the sequence, got %d", msgs[2].Sequence())
	}
	if err := tx.Model(&types.Job{}).Where("kind = ?", domainjobs.KindGenerateEmbedding).Count(&embedJobs).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if embedJobs != 3 {
		t.Fatalf("expected exactly one new embedding job, total %d", embedJobs)
	}
}

func TestImportLicenseGate(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	payload := decodePayload(t, `{"title": "Doc", "paragraphs": ["one", "two"]}`)

	_, err := newTestService(t, tx, false).Import(ctx, payload)
	var lic *LicenseRequiredError
	if !errors.As(err, &lic) {
		t.Fatalf("expected LicenseRequiredError, got %v", err)
	}

	res, err := newTestService(t, tx, true).Import(ctx, payload)
	if err != nil {
		t.Fatalf("licensed import: %v", err)
	}
	if res.Imported != 1 || res.MessagesAdded != 2 {
		t.Fatalf("licensed import: %+v", res)
	}
}

func TestImportYouTubeEnqueuesTranscription(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	svc := newTestService(t, tx, false)
	ctx := context.Background()

	payload := decodePayload(t, `[
		{"title": "Watched Something", "titleUrl": "https://www.youtube.com/watch?v=vid42", "time": "2024-06-01T18:00:00Z"}
	]`)
	res, err := svc.Import(ctx, payload)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Format != "youtube" || res.Imported != 1 {
		t.Fatalf("result: %+v", res)
	}

	var transcriptionJobs int64
	if err := tx.Model(&types.Job{}).Where("kind = ?", domainjobs.KindYouTubeTranscription).Count(&transcriptionJobs).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if transcriptionJobs != 1 {
		t.Fatalf("expected 1 transcription job, got %d", transcriptionJobs)
	}
}

func TestImportUndetectablePayload(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	svc := newTestService(t, tx, false)

	_, err := svc.Import(context.Background(), decodePayload(t, `{"mystery": true}`))
	var det *FormatDetectionError
	if !errors.As(err, &det) {
		t.Fatalf("expected FormatDetectionError, got %v", err)
	}
}
