package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/askany/askany/internal/chunk"
	"github.com/askany/askany/internal/store"
)

// flakyStore wraps a Memory store and fails UpsertRecord for chosen ids.
type flakyStore struct {
	*store.Memory
	failIDs map[string]bool
}

func (f *flakyStore) UpsertRecord(ctx context.Context, rec store.Record) error {
	if f.failIDs[rec.ID] {
		return errors.New("disk full")
	}
	return f.Memory.UpsertRecord(ctx, rec)
}

func chunksFor(documentID string, texts ...string) []chunk.Chunk {
	chunks := make([]chunk.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunk.Chunk{DocumentID: documentID, Index: i, Text: text}
	}
	return chunks
}

func embeddingsFor(n int) [][]float32 {
	embs := make([][]float32, n)
	for i := range embs {
		embs[i] = []float32{float32(i), 1}
	}
	return embs
}

func TestRecordIDStable(t *testing.T) {
	a := RecordID("doc-1", 0)
	b := RecordID("doc-1", 0)
	if a != b {
		t.Errorf("RecordID not deterministic: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("len(RecordID) = %d, want 32", len(a))
	}
	if a == RecordID("doc-1", 1) {
		t.Error("different chunk indexes produced the same id")
	}
	if a == RecordID("doc-2", 0) {
		t.Error("different documents produced the same id")
	}
}

func TestWriterUpsert(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	w := NewWriter(mem, nil)

	chunks := chunksFor("doc-1", "alpha", "beta", "gamma")
	meta := map[string]string{"title": "Doc One"}

	result, err := w.Upsert(ctx, "doc-1", chunks, embeddingsFor(3), meta)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if result.Indexed != 3 {
		t.Errorf("Indexed = %d, want 3", result.Indexed)
	}
	if len(result.Failed) != 0 {
		t.Errorf("Failed = %v, want none", result.Failed)
	}

	rec, ok := mem.Record(RecordID("doc-1", 1))
	if !ok {
		t.Fatal("record for chunk 1 not stored")
	}
	if rec.Text != "beta" {
		t.Errorf("Text = %q, want %q", rec.Text, "beta")
	}
	if rec.Metadata["title"] != "Doc One" {
		t.Errorf("Metadata[title] = %q, want %q", rec.Metadata["title"], "Doc One")
	}
}

func TestWriterDeletesStaleOnShrink(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	w := NewWriter(mem, nil)

	first := chunksFor("doc-1", "a", "b", "c", "d")
	if _, err := w.Upsert(ctx, "doc-1", first, embeddingsFor(4), nil); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	second := chunksFor("doc-1", "a", "b")
	result, err := w.Upsert(ctx, "doc-1", second, embeddingsFor(2), nil)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if result.DeletedStale != 2 {
		t.Errorf("DeletedStale = %d, want 2", result.DeletedStale)
	}
	if n, _ := mem.CountRecords(ctx); n != 2 {
		t.Errorf("CountRecords() = %d, want 2", n)
	}
}

func TestWriterCollectsChunkFailures(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{
		Memory:  store.NewMemory(),
		failIDs: map[string]bool{RecordID("doc-1", 1): true},
	}
	w := NewWriter(flaky, nil)

	// Seed a stale record that would be cleaned up on a fully clean write.
	stale := store.Record{ID: RecordID("doc-1", 5), DocumentID: "doc-1", ChunkIndex: 5, Embedding: []float32{1}}
	if err := flaky.Memory.UpsertRecord(ctx, stale); err != nil {
		t.Fatalf("seed stale record: %v", err)
	}

	chunks := chunksFor("doc-1", "a", "b", "c")
	result, err := w.Upsert(ctx, "doc-1", chunks, embeddingsFor(3), nil)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if result.Indexed != 2 {
		t.Errorf("Indexed = %d, want 2", result.Indexed)
	}
	if len(result.Failed) != 1 || result.Failed[0].Index != 1 {
		t.Fatalf("Failed = %v, want one failure at index 1", result.Failed)
	}
	if !strings.Contains(result.Failed[0].Reason, "disk full") {
		t.Errorf("failure reason = %q, want store error", result.Failed[0].Reason)
	}
	// Stale cleanup must not run after a partial write.
	if result.DeletedStale != 0 {
		t.Errorf("DeletedStale = %d, want 0", result.DeletedStale)
	}
	if _, ok := flaky.Memory.Record(stale.ID); !ok {
		t.Error("stale record was deleted despite chunk failures")
	}
}

func TestWriterLengthMismatch(t *testing.T) {
	w := NewWriter(store.NewMemory(), nil)
	_, err := w.Upsert(context.Background(), "doc-1", chunksFor("doc-1", "a", "b"), embeddingsFor(1), nil)
	if err == nil {
		t.Fatal("Upsert() with mismatched lengths returned nil error")
	}
}
