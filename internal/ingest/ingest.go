// Package ingest walks the document store and turns every document into
// searchable records, chunking and embedding with bounded concurrency.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/askany/askany/internal/chunk"
	"github.com/askany/askany/internal/document"
	"github.com/askany/askany/internal/index"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/store"
)

// Embedder is the slice of the embedding client the orchestrator needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentSink receives a document row after its chunks are indexed.
// The query path resolves citations against it.
type DocumentSink interface {
	UpsertDocument(ctx context.Context, doc document.Document) error
}

// Config tunes the ingestion pipeline.
type Config struct {
	// MaxTokens is the chunk size passed to the splitter.
	MaxTokens int
	// OverlapPercent is the chunk overlap passed to the splitter.
	OverlapPercent int
	// Workers bounds how many documents are processed at once.
	Workers int
}

// DefaultConfig matches the chunking parameters the knowledge base was
// built with.
func DefaultConfig() Config {
	return Config{MaxTokens: 400, OverlapPercent: 20, Workers: 4}
}

// Orchestrator runs ingestion jobs over a document store.
type Orchestrator struct {
	docs     document.Store
	writer   *index.Writer
	embedder Embedder
	sink     DocumentSink
	cfg      Config
	logger   log.Logger

	stopping atomic.Bool
}

// NewOrchestrator wires the pipeline. sink may be nil, which skips document
// rows. Zero config fields fall back to defaults.
func NewOrchestrator(docs document.Store, writer *index.Writer, embedder Embedder, sink DocumentSink, cfg Config, logger log.Logger) *Orchestrator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.OverlapPercent <= 0 {
		cfg.OverlapPercent = DefaultConfig().OverlapPercent
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{docs: docs, writer: writer, embedder: embedder, sink: sink, cfg: cfg, logger: logger}
}

// Stop asks a running ingestion to wind down. Documents already being
// processed finish; no new documents are admitted.
func (o *Orchestrator) Stop() {
	o.stopping.Store(true)
}

// Run executes one ingestion job to completion and returns its final
// stats. Per-document failures are recorded on the job rather than
// aborting the run; only a store that cannot be prepared fails the whole
// job.
func (o *Orchestrator) Run(ctx context.Context) Stats {
	job := NewJob()
	o.stopping.Store(false)
	job.transition(StateRunning)

	if err := o.writer.EnsureSchema(ctx); err != nil {
		o.logger.Error("schema preparation failed", "job_id", job.ID, "error", err)
		job.failed("", fmt.Sprintf("prepare schema: %v", err))
		job.transition(StateFailed)
		return job.Snapshot()
	}

	docs, err := o.docs.List(ctx)
	if err != nil {
		o.logger.Error("document listing failed", "job_id", job.ID, "error", err)
		job.failed("", fmt.Sprintf("list documents: %v", err))
		job.transition(StateFailed)
		return job.Snapshot()
	}
	job.scanned(len(docs))
	o.logger.Info("ingestion started",
		"job_id", job.ID,
		"documents", len(docs),
		"workers", o.cfg.Workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, doc := range docs {
		if o.stopping.Load() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := o.ingestDocument(gctx, doc); err != nil {
				job.failed(doc.ID, err.Error())
				o.logger.Warn("document ingestion failed",
					"job_id", job.ID,
					"document_id", doc.ID,
					"error", err,
				)
				return nil
			}
			job.indexed()
			return nil
		})
	}
	_ = g.Wait()

	job.transition(StateComplete)
	stats := job.Snapshot()
	o.logger.Info("ingestion finished",
		"job_id", job.ID,
		"indexed", stats.DocumentsIndexed,
		"failed", stats.DocumentsFailed,
		"duration", stats.Duration,
	)
	return stats
}

// ingestDocument runs one document through chunk, embed and upsert.
func (o *Orchestrator) ingestDocument(ctx context.Context, doc document.Document) error {
	chunks, err := chunk.Split(doc, o.cfg.MaxTokens, o.cfg.OverlapPercent)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	embeddings, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	result, err := o.writer.Upsert(ctx, doc.ID, chunks, embeddings, o.metadataFor(doc))
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("upsert: %d of %d chunks failed, first: %s",
			len(result.Failed), len(chunks), result.Failed[0].Reason)
	}

	if o.sink != nil {
		// Best effort: citation resolution falls back to record metadata
		// when a document row is missing.
		if err := o.sink.UpsertDocument(ctx, doc); err != nil {
			o.logger.Warn("document row upsert failed", "document_id", doc.ID, "error", err)
		}
	}
	return nil
}

// metadataFor builds the record metadata stored with every chunk of doc.
func (o *Orchestrator) metadataFor(doc document.Document) map[string]string {
	meta := map[string]string{
		"title": doc.Title,
	}
	meta[store.MetadataLocationKey] = document.PointerFor(doc.ID)
	if doc.SourceURL != "" {
		meta["url"] = doc.SourceURL
	}
	if !doc.LastModified.IsZero() {
		meta["last_modified"] = doc.LastModified.Format(time.RFC3339)
	}
	return meta
}
