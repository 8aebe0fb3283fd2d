// Package domain re-exports the persisted model types so repos and
// services can refer to a single types namespace.
package domain

import (
	"github.com/castellan/chatvault/internal/domain/archive"
	"github.com/castellan/chatvault/internal/domain/jobs"
	"github.com/castellan/chatvault/internal/domain/settings"
)

type (
	Conversation         = archive.Conversation
	ConversationSummary  = archive.ConversationSummary
	Message              = archive.Message
	Attachment           = archive.Attachment
	MessageEmbedding     = archive.MessageEmbedding
	Job                  = jobs.Job
	EmbeddingPayload     = jobs.EmbeddingPayload
	TranscriptionPayload = jobs.TranscriptionPayload
	Setting              = settings.Setting
)
