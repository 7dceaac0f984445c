// Package store implements the vector index collaborator: record upserts,
// nearest-neighbor search and keyword search.
//
// The production implementation is PostgreSQL with pgvector (Postgres) and
// an in-memory brute-force implementation (Memory) backs unit tests. Both
// satisfy the consumer interfaces defined in internal/index and
// internal/search.
package store

import (
	"context"

	"github.com/askany/askany/internal/document"
)

// Record is the stored unit of the vector index: one embedded chunk.
type Record struct {
	// ID is the deterministic hash of (DocumentID, ChunkIndex); upserting
	// the same chunk twice overwrites in place.
	ID         string
	DocumentID string
	ChunkIndex int
	Text       string
	Embedding  []float32
	Metadata   map[string]string
}

// Hit is a single ranked search result.
type Hit struct {
	RecordID   string
	DocumentID string
	ChunkIndex int
	Text       string
	Metadata   map[string]string
	// Location is the opaque storage pointer of the source document.
	// Resolution back to a title and URL is the citation mapper's job.
	Location string
	// Score is backend-specific and not comparable across search legs
	// (cosine similarity vs. ts_rank); the retriever normalizes per leg.
	Score float32
}

// MetadataLocationKey is the record metadata key that carries the source
// document's storage pointer.
const MetadataLocationKey = "location"

// documentReader reads single document rows. Both store implementations
// satisfy it.
type documentReader interface {
	GetDocument(ctx context.Context, id string) (document.Document, error)
}

// DocumentLookup narrows a store to the document read interface the citation
// mapper consumes.
type DocumentLookup struct {
	reader documentReader
}

// Get returns the document row for id, or document.ErrNotFound.
func (l DocumentLookup) Get(ctx context.Context, id string) (document.Document, error) {
	return l.reader.GetDocument(ctx, id)
}

// locationOf extracts the storage pointer for a hit, falling back to the
// bare document ID when the record predates location metadata.
func locationOf(documentID string, metadata map[string]string) string {
	if loc := metadata[MetadataLocationKey]; loc != "" {
		return loc
	}
	return documentID
}
