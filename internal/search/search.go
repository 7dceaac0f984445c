// Package search retrieves the chunks most relevant to a query, either by
// vector similarity alone or by fusing vector and keyword rankings.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/store"
)

var (
	// ErrUnavailable reports that the backing index could not serve the
	// query.
	ErrUnavailable = errors.New("retrieval backend unavailable")

	// ErrTimeout reports that retrieval exceeded its deadline.
	ErrTimeout = errors.New("retrieval timed out")
)

// Mode selects the retrieval strategy.
type Mode string

const (
	// Semantic ranks by vector similarity only.
	Semantic Mode = "semantic"
	// Hybrid fuses vector and keyword rankings.
	Hybrid Mode = "hybrid"
)

// Searcher is the slice of the store the retriever needs.
type Searcher interface {
	VectorSearch(ctx context.Context, embedding []float32, k int) ([]store.Hit, error)
	KeywordSearch(ctx context.Context, query string, k int) ([]store.Hit, error)
}

// Embedder turns the query into a vector.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// RetrievedChunk is one ranked result.
type RetrievedChunk struct {
	RecordID string
	Score    float32
	Text     string
	Location string
	Metadata map[string]string
}

// Weights sets the relative contribution of each leg in hybrid fusion.
type Weights struct {
	Vector  float32
	Keyword float32
}

// DefaultWeights favor the semantic leg two to one.
func DefaultWeights() Weights {
	return Weights{Vector: 2, Keyword: 1}
}

// Retriever answers top-k queries against the record store.
type Retriever struct {
	searcher Searcher
	embedder Embedder
	weights  Weights
	logger   log.Logger
}

// NewRetriever creates a Retriever. Zero weights fall back to defaults.
func NewRetriever(searcher Searcher, embedder Embedder, weights Weights, logger log.Logger) *Retriever {
	if weights.Vector == 0 && weights.Keyword == 0 {
		weights = DefaultWeights()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{searcher: searcher, embedder: embedder, weights: weights, logger: logger}
}

// Retrieve returns up to k chunks ranked by relevance to query. An empty
// index yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, mode Mode) ([]RetrievedChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("search: k must be positive, got %d", k)
	}

	embedding, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, classify(fmt.Errorf("embed query: %w", err))
	}

	switch mode {
	case Hybrid:
		return r.hybrid(ctx, query, embedding, k)
	case Semantic, "":
		hits, err := r.searcher.VectorSearch(ctx, embedding, k)
		if err != nil {
			return nil, classify(fmt.Errorf("vector search: %w", err))
		}
		return fromHits(hits), nil
	default:
		return nil, fmt.Errorf("search: unknown mode %q", mode)
	}
}

// hybrid runs both legs in parallel, normalizes each leg's scores to [0,1]
// and fuses them with the configured weights. A chunk found by both legs
// gets both contributions.
func (r *Retriever) hybrid(ctx context.Context, query string, embedding []float32, k int) ([]RetrievedChunk, error) {
	var vectorHits, keywordHits []store.Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.searcher.VectorSearch(gctx, embedding, k)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.searcher.KeywordSearch(gctx, query, k)
		if err != nil {
			return fmt.Errorf("keyword search: %w", err)
		}
		keywordHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, classify(err)
	}

	fused := fuse(vectorHits, keywordHits, r.weights)
	if len(fused) > k {
		fused = fused[:k]
	}
	r.logger.Debug("hybrid retrieval",
		"vector_hits", len(vectorHits),
		"keyword_hits", len(keywordHits),
		"fused", len(fused),
	)
	return fused, nil
}

// fuse merges the two ranked lists by record id. Vector hits keep their
// insertion order as the base; keyword-only hits are appended, then the
// whole list is stably re-sorted by fused score.
func fuse(vectorHits, keywordHits []store.Hit, weights Weights) []RetrievedChunk {
	vectorScores := normalize(vectorHits)
	keywordScores := normalize(keywordHits)

	chunks := make([]RetrievedChunk, 0, len(vectorHits)+len(keywordHits))
	position := make(map[string]int, len(vectorHits))

	for i, hit := range vectorHits {
		chunks = append(chunks, newChunk(hit, weights.Vector*vectorScores[i]))
		position[hit.RecordID] = len(chunks) - 1
	}
	for i, hit := range keywordHits {
		if pos, ok := position[hit.RecordID]; ok {
			chunks[pos].Score += weights.Keyword * keywordScores[i]
			continue
		}
		chunks = append(chunks, newChunk(hit, weights.Keyword*keywordScores[i]))
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	return chunks
}

// normalize min-max scales the hits' scores to [0,1] positionally. A single
// hit normalizes to 1, and a constant list normalizes to all ones.
func normalize(hits []store.Hit) []float32 {
	if len(hits) == 0 {
		return nil
	}
	lowest, highest := hits[0].Score, hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score < lowest {
			lowest = hit.Score
		}
		if hit.Score > highest {
			highest = hit.Score
		}
	}
	scores := make([]float32, len(hits))
	for i, hit := range hits {
		if highest == lowest {
			scores[i] = 1
			continue
		}
		scores[i] = (hit.Score - lowest) / (highest - lowest)
	}
	return scores
}

func newChunk(hit store.Hit, score float32) RetrievedChunk {
	return RetrievedChunk{
		RecordID: hit.RecordID,
		Score:    score,
		Text:     hit.Text,
		Location: hit.Location,
		Metadata: hit.Metadata,
	}
}

func fromHits(hits []store.Hit) []RetrievedChunk {
	chunks := make([]RetrievedChunk, len(hits))
	for i, hit := range hits {
		chunks[i] = newChunk(hit, hit.Score)
	}
	return chunks
}

// classify maps low-level failures onto the package's sentinel errors while
// keeping the original error in the chain.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
