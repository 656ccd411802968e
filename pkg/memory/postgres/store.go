package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/earshot/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed [memory.Store]. It holds a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, registers pgvector types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping implements [memory.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// RecordStore
// ─────────────────────────────────────────────────────────────────────────────

// Insert implements [memory.RecordStore].
func (s *Store) Insert(ctx context.Context, rec memory.Record) error {
	const q = `
		INSERT INTO dialogue_records (session_id, device_id, speaker, text, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.DeviceID,
		string(rec.Speaker),
		rec.Text,
		string(rec.Category),
		ts,
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert record: %w", err)
	}
	return nil
}

// RecentSpeakerRatio implements [memory.RecordStore].
func (s *Store) RecentSpeakerRatio(ctx context.Context, limit int) (float64, error) {
	const q = `
		SELECT count(*) FILTER (WHERE speaker = $1), count(*)
		FROM (
		    SELECT speaker
		    FROM   dialogue_records
		    WHERE  speaker IN ($1, $2)
		    ORDER  BY id DESC
		    LIMIT  $3
		) recent`

	if limit <= 0 {
		return 0, fmt.Errorf("postgres store: recent speaker ratio: limit must be positive, got %d", limit)
	}
	var users, total int
	err := s.pool.QueryRow(ctx, q, string(memory.SpeakerUser), string(memory.SpeakerOthers), limit).Scan(&users, &total)
	if err != nil {
		return 0, fmt.Errorf("postgres store: recent speaker ratio: %w", err)
	}
	return memory.Ratio(users, total), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SpeakerProfileStore
// ─────────────────────────────────────────────────────────────────────────────

// AddProfile implements [memory.SpeakerProfileStore]. Demoting the previous
// primary and writing the new profile happen in one transaction.
func (s *Store) AddProfile(ctx context.Context, p memory.SpeakerProfile) error {
	if p.Name == "" {
		return errors.New("postgres store: add profile: name must not be empty")
	}
	if len(p.Embedding) == 0 {
		return errors.New("postgres store: add profile: embedding must not be empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: add profile: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if p.Primary {
		if _, err := tx.Exec(ctx, `UPDATE speaker_profiles SET is_primary = false WHERE is_primary AND name <> $1`, p.Name); err != nil {
			return fmt.Errorf("postgres store: add profile: demote primary: %w", err)
		}
	}

	const upsert = `
		INSERT INTO speaker_profiles (name, embedding, model_id, is_primary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
		    embedding  = EXCLUDED.embedding,
		    model_id   = EXCLUDED.model_id,
		    is_primary = EXCLUDED.is_primary`

	if _, err := tx.Exec(ctx, upsert, p.Name, pgvector.NewVector(p.Embedding), p.ModelID, p.Primary); err != nil {
		return fmt.Errorf("postgres store: add profile: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: add profile: commit: %w", err)
	}
	return nil
}

// RemoveProfile implements [memory.SpeakerProfileStore].
func (s *Store) RemoveProfile(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM speaker_profiles WHERE name = $1`, name); err != nil {
		return fmt.Errorf("postgres store: remove profile: %w", err)
	}
	return nil
}

// ListNames implements [memory.SpeakerProfileStore].
func (s *Store) ListNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM speaker_profiles ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres store: list names: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// PrimaryProfile implements [memory.SpeakerProfileStore].
func (s *Store) PrimaryProfile(ctx context.Context) (memory.SpeakerProfile, error) {
	const q = `
		SELECT name, embedding, model_id, created_at
		FROM   speaker_profiles
		WHERE  is_primary`

	var (
		p   memory.SpeakerProfile
		vec pgvector.Vector
	)
	err := s.pool.QueryRow(ctx, q).Scan(&p.Name, &vec, &p.ModelID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.SpeakerProfile{}, memory.ErrNoProfile
	}
	if err != nil {
		return memory.SpeakerProfile{}, fmt.Errorf("postgres store: primary profile: %w", err)
	}
	p.Embedding = vec.Slice()
	p.Primary = true
	return p, nil
}
