package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/askany/askany/db"
	"github.com/askany/askany/internal/document"
)

// Postgres is the pgvector-backed index store.
//
// Postgres is safe for concurrent use; the index tolerates concurrent
// upserts to distinct record ids, and for the same record id the last
// writer wins (plain ON CONFLICT DO UPDATE).
type Postgres struct {
	pool    *pgxpool.Pool
	connURL string
	logger  *slog.Logger

	migrateOnce sync.Once
	migrateErr  error
}

// NewPostgres creates a Postgres store over an existing connection pool.
// connURL is the postgres:// URL used for schema migrations.
func NewPostgres(pool *pgxpool.Pool, connURL string, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, connURL: connURL, logger: logger}
}

// EnsureSchema creates the records table and its vector/keyword indexes if
// absent. Safe to call from every writer; migrations run at most once per
// process and are idempotent across processes.
func (p *Postgres) EnsureSchema(_ context.Context) error {
	p.migrateOnce.Do(func() {
		p.migrateErr = db.Migrate(p.connURL)
	})
	return p.migrateErr
}

// UpsertRecord inserts or overwrites a single index record.
func (p *Postgres) UpsertRecord(ctx context.Context, rec Record) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for record %q: %w", rec.ID, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO records (id, document_id, chunk_index, content, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			chunk_index = EXCLUDED.chunk_index,
			content     = EXCLUDED.content,
			embedding   = EXCLUDED.embedding,
			metadata    = EXCLUDED.metadata,
			updated_at  = now()`,
		rec.ID, rec.DocumentID, rec.ChunkIndex, rec.Text,
		pgvector.NewVector(rec.Embedding), metadataJSON)
	if err != nil {
		return fmt.Errorf("upserting record %q: %w", rec.ID, err)
	}

	p.logger.Debug("upserted record",
		"record_id", rec.ID, "document_id", rec.DocumentID, "chunk_index", rec.ChunkIndex)
	return nil
}

// DeleteStale removes records of a document at or beyond fromIndex and
// returns how many were deleted. Used to garbage-collect chunks left behind
// when a document shrinks.
func (p *Postgres) DeleteStale(ctx context.Context, documentID string, fromIndex int) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM records WHERE document_id = $1 AND chunk_index >= $2`,
		documentID, fromIndex)
	if err != nil {
		return 0, fmt.Errorf("deleting stale records for document %q: %w", documentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// VectorSearch returns the k nearest records by cosine similarity.
// Scores are 1 - cosine distance, in [0,1] for normalized embeddings.
func (p *Postgres) VectorSearch(ctx context.Context, embedding []float32, k int) ([]Hit, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, metadata,
		       1 - (embedding <=> $1) AS score
		FROM records
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	return p.scanHits(rows)
}

// KeywordSearch returns the k best full-text matches for query, ranked by
// ts_rank. An unmatchable query returns zero hits, not an error.
func (p *Postgres) KeywordSearch(ctx context.Context, query string, k int) ([]Hit, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, metadata,
		       ts_rank(content_tsv, q) AS score
		FROM records, websearch_to_tsquery('simple', $1) AS q
		WHERE content_tsv @@ q
		ORDER BY score DESC, id
		LIMIT $2`,
		query, k)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	return p.scanHits(rows)
}

// UpsertDocument inserts or overwrites a document row. Ingestion calls this
// after a document's chunks land, so the documents table trails the records
// table by at most one in-flight document.
func (p *Postgres) UpsertDocument(ctx context.Context, doc document.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for document %q: %w", doc.ID, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO documents (id, title, url, last_modified, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			title         = EXCLUDED.title,
			url           = EXCLUDED.url,
			last_modified = EXCLUDED.last_modified,
			metadata      = EXCLUDED.metadata,
			updated_at    = now()`,
		doc.ID, doc.Title, doc.SourceURL, doc.LastModified, metadataJSON)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns a document row by ID. The body is not stored; callers
// needing the full text read the documents directory instead.
// Returns document.ErrNotFound when no row exists.
func (p *Postgres) GetDocument(ctx context.Context, id string) (document.Document, error) {
	var (
		doc          document.Document
		metadataJSON []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, title, url, last_modified, metadata
		FROM documents
		WHERE id = $1`, id).
		Scan(&doc.ID, &doc.Title, &doc.SourceURL, &doc.LastModified, &metadataJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Document{}, document.ErrNotFound
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("getting document %q: %w", id, err)
	}

	if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
		p.logger.Warn("failed to parse document metadata", "document_id", id, "error", err)
		doc.Metadata = nil
	}
	return doc, nil
}

// Documents exposes the documents table through the read interface citation
// resolution expects.
func (p *Postgres) Documents() DocumentLookup {
	return DocumentLookup{reader: p}
}

// CountRecords returns the total number of index records.
func (p *Postgres) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return count, nil
}

func (p *Postgres) scanHits(rows pgx.Rows) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var (
			hit          Hit
			metadataJSON []byte
		)
		if err := rows.Scan(&hit.RecordID, &hit.DocumentID, &hit.ChunkIndex,
			&hit.Text, &metadataJSON, &hit.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}

		if err := json.Unmarshal(metadataJSON, &hit.Metadata); err != nil {
			p.logger.Warn("failed to parse record metadata",
				"record_id", hit.RecordID, "error", err)
			hit.Metadata = map[string]string{}
		}
		hit.Location = locationOf(hit.DocumentID, hit.Metadata)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("reading hits: %w", err)
	}
	return hits, nil
}
