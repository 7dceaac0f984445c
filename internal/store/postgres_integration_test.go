package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/askany/askany/db"
	"github.com/askany/askany/internal/document"
	"github.com/askany/askany/internal/log"
)

// setupPostgres starts a pgvector-enabled PostgreSQL container, runs the
// migrations through EnsureSchema and returns a ready store.
func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("askany_test"),
		postgres.WithUsername("askany_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	pg := NewPostgres(pool, connStr, log.NewNop())
	if err := pg.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return pg
}

// testEmbedding returns a dimension-sized vector dominated by the axis
// component, so cosine ordering across fixtures is predictable.
func testEmbedding(axis int, weight float32) []float32 {
	v := make([]float32, db.EmbeddingDimension)
	for i := range v {
		v[i] = 0.01
	}
	v[axis] = weight
	return v
}

func TestPostgresRoundTrip(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	records := []Record{
		{
			ID:         "rec-0",
			DocumentID: "doc-1",
			ChunkIndex: 0,
			Text:       "How to rotate access keys in the vault",
			Embedding:  testEmbedding(0, 1.0),
			Metadata:   map[string]string{"title": "Key rotation", MetadataLocationKey: "kb-data/doc-1.json"},
		},
		{
			ID:         "rec-1",
			DocumentID: "doc-1",
			ChunkIndex: 1,
			Text:       "Keys expire after ninety days",
			Embedding:  testEmbedding(0, 0.5),
			Metadata:   map[string]string{"title": "Key rotation", MetadataLocationKey: "kb-data/doc-1.json"},
		},
		{
			ID:         "rec-2",
			DocumentID: "doc-2",
			ChunkIndex: 0,
			Text:       "Friday lunch menu for the office",
			Embedding:  testEmbedding(1, 1.0),
			Metadata:   nil,
		},
	}
	for _, rec := range records {
		if err := pg.UpsertRecord(ctx, rec); err != nil {
			t.Fatalf("UpsertRecord(%s) error = %v", rec.ID, err)
		}
	}

	n, err := pg.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("CountRecords() = %d, want 3", n)
	}

	t.Run("upsert overwrites", func(t *testing.T) {
		updated := records[0]
		updated.Text = "How to rotate and revoke access keys"
		if err := pg.UpsertRecord(ctx, updated); err != nil {
			t.Fatalf("UpsertRecord() error = %v", err)
		}
		n, err := pg.CountRecords(ctx)
		if err != nil {
			t.Fatalf("CountRecords() error = %v", err)
		}
		if n != 3 {
			t.Errorf("CountRecords() after overwrite = %d, want 3", n)
		}
	})

	t.Run("vector search", func(t *testing.T) {
		hits, err := pg.VectorSearch(ctx, testEmbedding(0, 1.0), 2)
		if err != nil {
			t.Fatalf("VectorSearch() error = %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("len(hits) = %d, want 2", len(hits))
		}
		if hits[0].RecordID != "rec-0" {
			t.Errorf("top hit = %s, want rec-0", hits[0].RecordID)
		}
		if hits[0].Score <= hits[1].Score {
			t.Errorf("scores not descending: %v then %v", hits[0].Score, hits[1].Score)
		}
		if hits[0].Location != "kb-data/doc-1.json" {
			t.Errorf("Location = %q, want metadata pointer", hits[0].Location)
		}
	})

	t.Run("keyword search", func(t *testing.T) {
		hits, err := pg.KeywordSearch(ctx, "lunch menu", 5)
		if err != nil {
			t.Fatalf("KeywordSearch() error = %v", err)
		}
		if len(hits) != 1 {
			t.Fatalf("len(hits) = %d, want 1", len(hits))
		}
		if hits[0].RecordID != "rec-2" {
			t.Errorf("hit = %s, want rec-2", hits[0].RecordID)
		}
		if hits[0].Location != "doc-2" {
			t.Errorf("Location = %q, want document id fallback", hits[0].Location)
		}
	})

	t.Run("delete stale", func(t *testing.T) {
		deleted, err := pg.DeleteStale(ctx, "doc-1", 1)
		if err != nil {
			t.Fatalf("DeleteStale() error = %v", err)
		}
		if deleted != 1 {
			t.Errorf("deleted = %d, want 1", deleted)
		}
		n, err := pg.CountRecords(ctx)
		if err != nil {
			t.Fatalf("CountRecords() error = %v", err)
		}
		if n != 2 {
			t.Errorf("CountRecords() = %d, want 2", n)
		}
	})

	t.Run("document rows", func(t *testing.T) {
		doc := document.Document{
			ID:           "doc-1",
			Title:        "VPN Setup",
			SourceURL:    "https://kb.example.com/vpn",
			LastModified: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Metadata:     map[string]string{"team": "infra"},
		}
		if err := pg.UpsertDocument(ctx, doc); err != nil {
			t.Fatalf("UpsertDocument() error = %v", err)
		}

		doc.Title = "VPN Setup Guide"
		if err := pg.UpsertDocument(ctx, doc); err != nil {
			t.Fatalf("UpsertDocument() second call error = %v", err)
		}

		got, err := pg.Documents().Get(ctx, "doc-1")
		if err != nil {
			t.Fatalf("Documents().Get() error = %v", err)
		}
		if got.Title != "VPN Setup Guide" {
			t.Errorf("Title = %q, want overwrite to win", got.Title)
		}
		if got.SourceURL != doc.SourceURL {
			t.Errorf("SourceURL = %q, want %q", got.SourceURL, doc.SourceURL)
		}
		if !got.LastModified.Equal(doc.LastModified) {
			t.Errorf("LastModified = %v, want %v", got.LastModified, doc.LastModified)
		}
		if got.Metadata["team"] != "infra" {
			t.Errorf("Metadata = %v", got.Metadata)
		}

		if _, err := pg.GetDocument(ctx, "nope"); !errors.Is(err, document.ErrNotFound) {
			t.Errorf("GetDocument(nope) error = %v, want ErrNotFound", err)
		}
	})
}
