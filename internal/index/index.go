// Package index writes embedded chunks into the record store and keeps a
// document's records consistent across re-ingestion.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/askany/askany/internal/chunk"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/store"
)

// Querier is the slice of the store the writer needs.
type Querier interface {
	EnsureSchema(ctx context.Context) error
	UpsertRecord(ctx context.Context, rec store.Record) error
	DeleteStale(ctx context.Context, documentID string, fromIndex int) (int, error)
}

// RecordID derives a stable record id from the document id and chunk
// position. Re-ingesting the same document overwrites its records in place.
func RecordID(documentID string, index int) string {
	hash := sha256.Sum256([]byte(documentID + ":" + strconv.Itoa(index)))
	return hex.EncodeToString(hash[:16])
}

// ChunkFailure records a chunk that could not be written.
type ChunkFailure struct {
	Index  int
	Reason string
}

// UpsertResult summarizes one document's write.
type UpsertResult struct {
	Indexed      int
	DeletedStale int
	Failed       []ChunkFailure
}

// Writer persists chunk embeddings as records.
type Writer struct {
	store  Querier
	logger log.Logger
}

// NewWriter creates a Writer backed by store.
func NewWriter(store Querier, logger log.Logger) *Writer {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Writer{store: store, logger: logger}
}

// EnsureSchema makes sure the backing store is ready for writes.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	return w.store.EnsureSchema(ctx)
}

// Upsert writes one record per chunk, pairing chunks[i] with embeddings[i],
// then deletes records left over from a previously longer version of the
// document. Individual chunk failures are collected rather than aborting
// the document; stale cleanup is skipped when any chunk failed so the old
// records survive until a clean re-ingest.
func (w *Writer) Upsert(ctx context.Context, documentID string, chunks []chunk.Chunk, embeddings [][]float32, metadata map[string]string) (UpsertResult, error) {
	if len(chunks) != len(embeddings) {
		return UpsertResult{}, fmt.Errorf("index: %d chunks but %d embeddings for document %s",
			len(chunks), len(embeddings), documentID)
	}

	var result UpsertResult
	for i, ch := range chunks {
		rec := store.Record{
			ID:         RecordID(documentID, ch.Index),
			DocumentID: documentID,
			ChunkIndex: ch.Index,
			Text:       ch.Text,
			Embedding:  embeddings[i],
			Metadata:   metadata,
		}
		if err := w.store.UpsertRecord(ctx, rec); err != nil {
			w.logger.Warn("chunk upsert failed",
				"document_id", documentID,
				"chunk_index", ch.Index,
				"error", err,
			)
			result.Failed = append(result.Failed, ChunkFailure{Index: ch.Index, Reason: err.Error()})
			continue
		}
		result.Indexed++
	}

	if len(result.Failed) > 0 {
		return result, nil
	}

	deleted, err := w.store.DeleteStale(ctx, documentID, len(chunks))
	if err != nil {
		w.logger.Warn("stale record cleanup failed",
			"document_id", documentID,
			"error", err,
		)
		return result, nil
	}
	result.DeletedStale = deleted
	return result, nil
}
