package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/castellan/chatvault/internal/domain"
)

func SeedConversation(tb testing.TB, ctx context.Context, tx *gorm.DB, sourceType string, sourceID *string) *types.Conversation {
	tb.Helper()
	c := &types.Conversation{
		ID:         uuid.New(),
		Title:      "conversation",
		SourceType: sourceType,
		SourceID:   sourceID,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed conversation: %v", err)
	}
	return c
}

func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, convID uuid.UUID, role, content string, seq int, at time.Time) *types.Message {
	tb.Helper()
	m := &types.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		Metadata:       datatypes.JSONMap{"sequence": seq},
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func PtrString(s string) *string { return &s }

func PtrTime(t time.Time) *time.Time { return &t }
