// Package postgres provides a PostgreSQL-backed implementation of
// [memory.Store]: the dialogue record log and the speaker profile table.
//
// Voiceprints are stored in a pgvector column. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 192)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Insert(ctx, memory.Record{Speaker: memory.SpeakerUser, Text: "hi"})
//	ratio, _ := store.RecentSpeakerRatio(ctx, 50)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Dialogue records
// ─────────────────────────────────────────────────────────────────────────────

const ddlRecords = `
CREATE TABLE IF NOT EXISTS dialogue_records (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL DEFAULT '',
    device_id   TEXT         NOT NULL DEFAULT '',
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    category    TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dialogue_records_speaker_id
    ON dialogue_records (speaker, id DESC);

CREATE INDEX IF NOT EXISTS idx_dialogue_records_session_id
    ON dialogue_records (session_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// Speaker profiles
// ─────────────────────────────────────────────────────────────────────────────

// ddlProfiles returns the profile DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time.
func ddlProfiles(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS speaker_profiles (
    name        TEXT         PRIMARY KEY,
    embedding   vector(%d)   NOT NULL,
    model_id    TEXT         NOT NULL DEFAULT '',
    is_primary  BOOLEAN      NOT NULL DEFAULT false,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_speaker_profiles_one_primary
    ON speaker_profiles (is_primary) WHERE is_primary;
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the speaker-embedding model. Changing it
// after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	statements := []string{
		ddlRecords,
		ddlProfiles(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
