package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/askany/askany/internal/document"
)

// Memory is an in-memory brute-force index store with the same surface as
// Postgres. It backs unit tests and local experiments where spinning up
// PostgreSQL is not worth it.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	docs    map[string]document.Document
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		docs:    make(map[string]document.Document),
	}
}

// EnsureSchema is a no-op; there is no schema to create.
func (m *Memory) EnsureSchema(_ context.Context) error { return nil }

// UpsertRecord inserts or overwrites a record.
func (m *Memory) UpsertRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Defensive copies: callers may reuse the embedding slice.
	stored := rec
	stored.Embedding = append([]float32(nil), rec.Embedding...)
	if rec.Metadata != nil {
		stored.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			stored.Metadata[k] = v
		}
	}
	m.records[rec.ID] = stored
	return nil
}

// UpsertDocument inserts or overwrites a document row.
func (m *Memory) UpsertDocument(_ context.Context, doc document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.Metadata != nil {
		meta := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		doc.Metadata = meta
	}
	m.docs[doc.ID] = doc
	return nil
}

// GetDocument returns a document row, or document.ErrNotFound.
func (m *Memory) GetDocument(_ context.Context, id string) (document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return document.Document{}, document.ErrNotFound
	}
	return doc, nil
}

// Documents exposes the stored documents through the citation read interface.
func (m *Memory) Documents() DocumentLookup {
	return DocumentLookup{reader: m}
}

// DeleteStale removes records of documentID at or beyond fromIndex.
func (m *Memory) DeleteStale(_ context.Context, documentID string, fromIndex int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, rec := range m.records {
		if rec.DocumentID == documentID && rec.ChunkIndex >= fromIndex {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// VectorSearch ranks all records by cosine similarity to embedding.
func (m *Memory) VectorSearch(_ context.Context, embedding []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.records))
	for _, rec := range m.records {
		hits = append(hits, m.hit(rec, cosine(rec.Embedding, embedding)))
	}
	return topK(hits, k), nil
}

// KeywordSearch scores records by the fraction of query terms present in
// the chunk text, the same containment test the original flat-file search
// used. Zero matching terms means no hit.
func (m *Memory) KeywordSearch(_ context.Context, query string, k int) ([]Hit, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, rec := range m.records {
		text := strings.ToLower(rec.Text)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, m.hit(rec, float32(matched)/float32(len(terms))))
	}
	return topK(hits, k), nil
}

// CountRecords returns the number of stored records.
func (m *Memory) CountRecords(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// Record returns a stored record and whether it exists. Test helper.
func (m *Memory) Record(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// RecordIDs returns all stored record ids in no particular order. Test helper.
func (m *Memory) RecordIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids
}

func (m *Memory) hit(rec Record, score float32) Hit {
	return Hit{
		RecordID:   rec.ID,
		DocumentID: rec.DocumentID,
		ChunkIndex: rec.ChunkIndex,
		Text:       rec.Text,
		Metadata:   rec.Metadata,
		Location:   locationOf(rec.DocumentID, rec.Metadata),
		Score:      score,
	}
}

// topK sorts hits by descending score (record id as tiebreak, so results
// are deterministic across map iteration orders) and truncates to k.
func topK(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].RecordID < hits[j].RecordID
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
