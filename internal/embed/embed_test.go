package embed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// fakeEmbedder is a scriptable ai.Embedder. Each call pops the next error
// from errs; once errs is exhausted calls succeed with dim-sized vectors.
type fakeEmbedder struct {
	dim   int
	errs  []error
	calls []int // input counts per call
	texts []string
}

func (f *fakeEmbedder) Name() string            { return "fake-embedder" }
func (f *fakeEmbedder) Register(_ api.Registry) {}

func (f *fakeEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.calls = append(f.calls, len(req.Input))
	for _, doc := range req.Input {
		f.texts = append(f.texts, docText(doc))
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: make([]float32, f.dim)}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func docText(doc *ai.Document) string {
	var sb strings.Builder
	for _, part := range doc.Content {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func TestClientEmbedBatches(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	client, err := NewClient(fake, Config{Dimension: 4, BatchSize: 2, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	vectors, err := client.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 5 {
		t.Fatalf("len(vectors) = %d, want 5", len(vectors))
	}
	for i, v := range vectors {
		if len(v) != 4 {
			t.Errorf("vector %d has dimension %d, want 4", i, len(v))
		}
	}
	wantCalls := []int{2, 2, 1}
	if len(fake.calls) != len(wantCalls) {
		t.Fatalf("provider calls = %v, want %v", fake.calls, wantCalls)
	}
	for i, n := range wantCalls {
		if fake.calls[i] != n {
			t.Errorf("call %d had %d inputs, want %d", i, fake.calls[i], n)
		}
	}
}

func TestClientEmbedEmpty(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	client, err := NewClient(fake, Config{Dimension: 4}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	vectors, err := client.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed(nil) error = %v", err)
	}
	if vectors != nil {
		t.Errorf("Embed(nil) = %v, want nil", vectors)
	}
	if len(fake.calls) != 0 {
		t.Errorf("provider was called %d times for empty input", len(fake.calls))
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, errs: []error{
		errors.New("429 rate limit exceeded"),
		errors.New("503 service unavailable"),
	}}
	client, err := NewClient(fake, Config{Dimension: 4, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	vectors, err := client.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("len(vectors) = %d, want 1", len(vectors))
	}
	if len(fake.calls) != 3 {
		t.Errorf("provider calls = %d, want 3", len(fake.calls))
	}
}

func TestClientExhaustedRetriesIsUnavailable(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, errs: []error{
		errors.New("timeout"),
		errors.New("timeout"),
		errors.New("timeout"),
	}}
	client, err := NewClient(fake, Config{Dimension: 4, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Embed() error = %v, want ErrUnavailable", err)
	}
}

func TestClientIsolatesRejectedInput(t *testing.T) {
	// The batch call fails permanently, then the per-input fallback
	// succeeds for input 0 and fails for input 1.
	fake := &fakeEmbedder{dim: 4, errs: []error{
		errors.New("invalid input: blocked content"),
		nil,
		errors.New("invalid input: blocked content"),
	}}
	client, err := NewClient(fake, Config{Dimension: 4, BatchSize: 4, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"ok", "bad", "ok"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Embed() error = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "input 1") {
		t.Errorf("error %q does not identify the rejected input", err)
	}
}

func TestClientTruncatesOversizedInput(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	client, err := NewClient(fake, Config{Dimension: 4, MaxChars: 10, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	long := strings.Repeat("x", 50)
	if _, err := client.Embed(context.Background(), []string{long}); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got := fake.texts[0]; len(got) != 10 {
		t.Errorf("provider received %d chars, want 10", len(got))
	}
}

func TestClientRejectsWrongDimension(t *testing.T) {
	fake := &fakeEmbedder{dim: 3}
	client, err := NewClient(fake, Config{Dimension: 4, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Embed() error = %v, want ErrRejected", err)
	}
}

func TestJitterStaysWithinHalfToFullDelay(t *testing.T) {
	const delay = 800 * time.Millisecond
	for range 100 {
		got := jitter(delay)
		if got < delay/2 || got >= delay {
			t.Fatalf("jitter(%v) = %v, want in [%v, %v)", delay, got, delay/2, delay)
		}
	}

	// Degenerate delays pass through untouched.
	if got := jitter(1); got != 1 {
		t.Errorf("jitter(1) = %v, want 1", got)
	}
	if got := jitter(0); got != 0 {
		t.Errorf("jitter(0) = %v, want 0", got)
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"server error", errors.New("got HTTP 503"), true},
		{"network", errors.New("read: connection reset by peer"), true},
		{"permanent", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
