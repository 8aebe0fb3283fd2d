package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/castellan/chatvault/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Conversation{},
		&types.Message{},
		&types.MessageEmbedding{},
		&types.Job{},
		&types.Setting{},
	)
}

// EnsureArchiveIndexes creates everything AutoMigrate cannot express:
// extensions, the generated search_vector column, the FTS/trigram/vector
// indexes, the jobs dequeue index and the source-identity partial unique
// index. All statements are idempotent.
func EnsureArchiveIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm;`,

		// Derived full-text column over content, maintained by Postgres.
		`ALTER TABLE messages ADD COLUMN IF NOT EXISTS search_vector tsvector
		   GENERATED ALWAYS AS (to_tsvector('english', coalesce(content, ''))) STORED;`,
		`CREATE INDEX IF NOT EXISTS idx_messages_search_vector
		   ON messages USING gin(search_vector);`,

		// Trigram index for fuzzy fallback queries.
		`CREATE INDEX IF NOT EXISTS idx_messages_content_trgm
		   ON messages USING gin(content gin_trgm_ops);`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
		   ON messages(conversation_id);`,
		`CREATE INDEX IF NOT EXISTS idx_message_embeddings_message_id
		   ON message_embeddings(message_id);`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_status_not_before_id
		   ON jobs(status, not_before, id);`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_source_identity
		   ON conversations(source_type, source_id) WHERE source_id IS NOT NULL;`,

		// Deletes of a conversation cascade to messages, then embeddings.
		`ALTER TABLE messages DROP CONSTRAINT IF EXISTS fk_messages_conversation;`,
		`ALTER TABLE messages ADD CONSTRAINT fk_messages_conversation
		   FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE;`,
		`ALTER TABLE message_embeddings DROP CONSTRAINT IF EXISTS fk_message_embeddings_message;`,
		`ALTER TABLE message_embeddings ADD CONSTRAINT fk_message_embeddings_message
		   FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE;`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure archive indexes: %w", err)
		}
	}

	// IVF needs rows to pick centroids; creation can fail on an empty
	// table and is retried on the next boot.
	ivf := `CREATE INDEX IF NOT EXISTS idx_message_embeddings_vector
	          ON message_embeddings USING ivfflat (vector vector_cosine_ops) WITH (lists = 100);`
	if err := db.Exec(ivf).Error; err != nil {
		return nil
	}
	return nil
}
