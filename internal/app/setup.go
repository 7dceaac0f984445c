package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/askany/askany/internal/answer"
	"github.com/askany/askany/internal/citation"
	"github.com/askany/askany/internal/config"
	"github.com/askany/askany/internal/conversation"
	"github.com/askany/askany/internal/document"
	"github.com/askany/askany/internal/embed"
	"github.com/askany/askany/internal/index"
	"github.com/askany/askany/internal/ingest"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/search"
	"github.com/askany/askany/internal/store"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, embedder, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Embedder = embedder

	a.Documents = document.NewFSStore(cfg.DocumentsDir, logger)
	a.Store = store.NewPostgres(pool, cfg.PostgresURL(), logger)
	if err := a.Store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("preparing schema: %w", err)
	}

	embedClient, err := embed.NewClient(embedder, embed.Config{
		Dimension: cfg.EmbedderDimension,
		BatchSize: cfg.EmbedBatchSize,
		MaxChars:  cfg.EmbedMaxChars,
		Retry: embed.RetryConfig{
			MaxRetries:      cfg.EmbedMaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		Limiter: provideLimiter(cfg.EmbedRequestsPerSec),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	writer := index.NewWriter(a.Store, logger)
	a.Orchestrator = ingest.NewOrchestrator(a.Documents, writer, embedClient, a.Store, ingest.Config{
		MaxTokens:      cfg.ChunkMaxTokens,
		OverlapPercent: cfg.ChunkOverlapPercent,
		Workers:        cfg.IngestWorkers,
	}, logger)

	weights := search.Weights{
		Vector:  float32(cfg.RetrievalVectorWeight),
		Keyword: float32(cfg.RetrievalKeywordWeight),
	}
	a.Retriever = search.NewRetriever(a.Store, embedClient, weights, logger)

	mapper := citation.NewMapper(a.Store.Documents(), logger)
	generator := answer.NewGenkitGenerator(g, cfg.FullModelName())
	a.Answer = answer.NewService(a.Retriever, mapper, generator, conversation.NewManager(), answer.Config{
		TopK:                cfg.RetrievalTopK,
		ContextBudgetTokens: cfg.ContextBudgetTokens,
		HistoryPairs:        cfg.HistoryPairs,
	}, logger)

	logger.Info("application initialized",
		"model", cfg.FullModelName(),
		"embedder", cfg.EmbedderModel,
		"documents_dir", cfg.DocumentsDir,
	)
	return a, nil
}

// provideGenkit initializes Genkit with the Gemini plugin and looks up the
// configured embedder.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Embedder, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, nil, errors.New("initializing genkit")
	}
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	return g, embedder, nil
}

// provideDBPool creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func provideLimiter(requestsPerSec float64) *rate.Limiter {
	if requestsPerSec <= 0 {
		return nil
	}
	burst := int(requestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSec), burst)
}
