// Package embed turns chunk text into dense vectors through a Genkit
// embedder, with request batching, rate limiting and retry on transient
// provider failures.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/askany/askany/internal/log"
)

var (
	// ErrUnavailable reports that the embedding provider could not be
	// reached after all retries. The whole batch should be retried later.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrRejected reports that the provider refused a specific input.
	// Retrying the same input will not help.
	ErrRejected = errors.New("embedding input rejected")
)

// RetryConfig bounds the exponential backoff applied to transient failures.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for embedding API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Config configures a Client.
type Config struct {
	// Dimension is the expected vector width. Responses with a different
	// width are rejected before they can reach the index.
	Dimension int

	// BatchSize caps how many inputs go into a single provider request.
	BatchSize int

	// MaxChars truncates oversized inputs before embedding. Zero disables
	// truncation.
	MaxChars int

	Retry RetryConfig

	// Limiter, when set, throttles every provider call including retries.
	Limiter *rate.Limiter
}

// Client embeds text through a Genkit ai.Embedder.
type Client struct {
	embedder ai.Embedder
	cfg      Config
	logger   log.Logger
}

// NewClient creates a Client. Zero config fields fall back to defaults.
func NewClient(embedder ai.Embedder, cfg Config, logger log.Logger) (*Client, error) {
	if embedder == nil {
		return nil, errors.New("embed: embedder is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embed: dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialInterval == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Embed returns one vector per input text, in input order.
//
// Transient provider failures are retried with exponential backoff and
// surface as ErrUnavailable once retries are exhausted. A permanent refusal
// is narrowed down to the offending input and surfaces as ErrRejected
// wrapping the input's position.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prepared := make([]string, len(texts))
	for i, text := range texts {
		prepared[i] = c.truncate(text, i)
	}

	vectors := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(prepared))
		batch := prepared[start:end]

		batchVectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			if !errors.Is(err, ErrRejected) || len(batch) == 1 {
				if errors.Is(err, ErrRejected) {
					return nil, fmt.Errorf("input %d: %w", start, err)
				}
				return nil, err
			}
			// The provider refused something in this batch. Re-run the
			// inputs one at a time to find out which.
			batchVectors, err = c.isolate(ctx, batch, start)
			if err != nil {
				return nil, err
			}
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

// EmbedOne embeds a single text, typically a search query.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the configured vector width.
func (c *Client) Dimension() int { return c.cfg.Dimension }

func (c *Client) truncate(text string, index int) string {
	if c.cfg.MaxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= c.cfg.MaxChars {
		return text
	}
	c.logger.Warn("truncating oversized embedding input",
		"input", index,
		"chars", len(runes),
		"max_chars", c.cfg.MaxChars,
	)
	return string(runes[:c.cfg.MaxChars])
}

func (c *Client) isolate(ctx context.Context, batch []string, offset int) ([][]float32, error) {
	vectors := make([][]float32, 0, len(batch))
	for i, text := range batch {
		v, err := c.embedBatch(ctx, []string{text})
		if err != nil {
			if errors.Is(err, ErrRejected) {
				return nil, fmt.Errorf("input %d: %w", offset+i, err)
			}
			return nil, err
		}
		vectors = append(vectors, v...)
	}
	return vectors, nil
}

// embedBatch performs one provider call with rate limiting and retry.
func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	req := &ai.EmbedRequest{Input: make([]*ai.Document, len(batch))}
	for i, text := range batch {
		req.Input[i] = ai.DocumentFromText(text, nil)
	}

	var lastErr error
	delay := c.cfg.Retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= c.cfg.Retry.MaxRetries; attempt++ {
		if c.cfg.Limiter != nil {
			if err := c.cfg.Limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := c.embedder.Embed(ctx, req)
		if err == nil {
			vectors, convErr := c.collect(resp, len(batch))
			if convErr != nil {
				return nil, convErr
			}
			c.logger.Debug("embedded batch",
				"inputs", len(batch),
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return vectors, nil
		}

		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		if attempt == c.cfg.Retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying embedding after error",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(jitter(delay)):
			delay = min(delay*2, c.cfg.Retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("%w: after %d retries: %v", ErrUnavailable, c.cfg.Retry.MaxRetries, lastErr)
}

// collect validates the response shape against the request.
func (c *Client) collect(resp *ai.EmbedResponse, want int) ([][]float32, error) {
	if len(resp.Embeddings) != want {
		return nil, fmt.Errorf("%w: provider returned %d embeddings for %d inputs",
			ErrUnavailable, len(resp.Embeddings), want)
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) != c.cfg.Dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrRejected, i, len(emb.Embedding), c.cfg.Dimension)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
