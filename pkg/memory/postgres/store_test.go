package postgres_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if EARSHOT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EARSHOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EARSHOT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS speaker_profiles CASCADE",
		"DROP TABLE IF EXISTS dialogue_records CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// ─────────────────────────────────────────────────────────────────────────────
// RecordStore
// ─────────────────────────────────────────────────────────────────────────────

func TestRecentSpeakerRatio(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ratio, err := store.RecentSpeakerRatio(ctx, 50)
	if err != nil {
		t.Fatalf("RecentSpeakerRatio (empty): %v", err)
	}
	if ratio != 0.5 {
		t.Errorf("empty ratio = %v, want 0.5", ratio)
	}

	// Oldest first: 2 others, then 3 users and 1 assistant reply.
	for _, sp := range []memory.Speaker{
		memory.SpeakerOthers, memory.SpeakerOthers,
		memory.SpeakerUser, memory.SpeakerAssistant, memory.SpeakerUser, memory.SpeakerUser,
	} {
		rec := memory.Record{Speaker: sp, Text: "x", Category: memory.CategoryDialogue, DeviceID: "dev"}
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	tests := []struct {
		limit int
		want  float64
	}{
		{limit: 50, want: 3.0 / 5.0},
		{limit: 3, want: 1},
		{limit: 4, want: 3.0 / 4.0},
	}
	for _, tc := range tests {
		got, err := store.RecentSpeakerRatio(ctx, tc.limit)
		if err != nil {
			t.Fatalf("RecentSpeakerRatio(%d): %v", tc.limit, err)
		}
		if got != tc.want {
			t.Errorf("RecentSpeakerRatio(%d) = %v, want %v", tc.limit, got, tc.want)
		}
	}

	if _, err := store.RecentSpeakerRatio(ctx, 0); err == nil {
		t.Error("RecentSpeakerRatio(0): expected error")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SpeakerProfileStore
// ─────────────────────────────────────────────────────────────────────────────

func TestProfiles_PrimaryLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.PrimaryProfile(ctx); !errors.Is(err, memory.ErrNoProfile) {
		t.Fatalf("PrimaryProfile on empty store: err = %v, want ErrNoProfile", err)
	}

	alice := memory.SpeakerProfile{Name: "alice", Embedding: []float32{1, 0, 0, 0}, ModelID: "ecapa", Primary: true}
	bob := memory.SpeakerProfile{Name: "bob", Embedding: []float32{0, 1, 0, 0}, ModelID: "ecapa"}
	for _, p := range []memory.SpeakerProfile{alice, bob} {
		if err := store.AddProfile(ctx, p); err != nil {
			t.Fatalf("AddProfile(%s): %v", p.Name, err)
		}
	}

	got, err := store.PrimaryProfile(ctx)
	if err != nil {
		t.Fatalf("PrimaryProfile: %v", err)
	}
	if got.Name != "alice" || !slices.Equal(got.Embedding, alice.Embedding) || got.ModelID != "ecapa" {
		t.Errorf("PrimaryProfile = %+v, want alice", got)
	}

	// Promoting bob demotes alice.
	bob.Primary = true
	bob.Embedding = []float32{0, 0, 1, 0}
	if err := store.AddProfile(ctx, bob); err != nil {
		t.Fatalf("AddProfile(bob primary): %v", err)
	}
	got, _ = store.PrimaryProfile(ctx)
	if got.Name != "bob" || got.Embedding[2] != 1 {
		t.Errorf("PrimaryProfile after promotion = %+v, want updated bob", got)
	}

	names, err := store.ListNames(ctx)
	if err != nil {
		t.Fatalf("ListNames: %v", err)
	}
	if !slices.Equal(names, []string{"alice", "bob"}) {
		t.Errorf("ListNames = %v, want [alice bob]", names)
	}

	if err := store.RemoveProfile(ctx, "bob"); err != nil {
		t.Fatalf("RemoveProfile: %v", err)
	}
	if err := store.RemoveProfile(ctx, "nobody"); err != nil {
		t.Errorf("RemoveProfile(unknown): %v", err)
	}
	if _, err := store.PrimaryProfile(ctx); !errors.Is(err, memory.ErrNoProfile) {
		t.Errorf("PrimaryProfile after removal: err = %v, want ErrNoProfile", err)
	}
}

func TestAddProfile_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		p    memory.SpeakerProfile
	}{
		{"empty name", memory.SpeakerProfile{Embedding: []float32{1, 0, 0, 0}}},
		{"empty embedding", memory.SpeakerProfile{Name: "x"}},
		{"wrong dimension", memory.SpeakerProfile{Name: "x", Embedding: []float32{1, 2}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.AddProfile(ctx, tc.p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
