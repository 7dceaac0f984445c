package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/askany/askany/db"
)

// Validate checks configuration values and returns sentinel errors usable
// with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key is required for both embedding and generation.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// The index schema fixes the vector width; a mismatched embedder would
	// produce rows the database rejects.
	if c.EmbedderDimension != db.EmbeddingDimension {
		return fmt.Errorf("%w: embedder_dimension must be %d to match the index schema, got %d",
			ErrInvalidEmbedderDimension, db.EmbeddingDimension, c.EmbedderDimension)
	}

	if c.ChunkMaxTokens < 1 {
		return fmt.Errorf("%w: chunk_max_tokens must be positive, got %d",
			ErrInvalidChunking, c.ChunkMaxTokens)
	}
	if c.ChunkOverlapPercent < 0 || c.ChunkOverlapPercent > 99 {
		return fmt.Errorf("%w: chunk_overlap_percent must be between 0 and 99, got %d",
			ErrInvalidChunking, c.ChunkOverlapPercent)
	}

	if c.RetrievalTopK < 1 || c.RetrievalTopK > 50 {
		return fmt.Errorf("%w: retrieval_top_k must be between 1 and 50, got %d",
			ErrInvalidRetrieval, c.RetrievalTopK)
	}
	if c.RetrievalMode != ModeSemantic && c.RetrievalMode != ModeHybrid {
		return fmt.Errorf("%w: retrieval_mode must be %q or %q, got %q",
			ErrInvalidRetrieval, ModeSemantic, ModeHybrid, c.RetrievalMode)
	}
	if c.RetrievalVectorWeight <= 0 {
		return fmt.Errorf("%w: retrieval_vector_weight must be positive, got %g",
			ErrInvalidWeights, c.RetrievalVectorWeight)
	}
	if c.RetrievalKeywordWeight <= 0 {
		return fmt.Errorf("%w: retrieval_keyword_weight must be positive, got %g",
			ErrInvalidWeights, c.RetrievalKeywordWeight)
	}
	if c.ContextBudgetTokens < 1 {
		return fmt.Errorf("%w: context_budget_tokens must be positive, got %d",
			ErrInvalidRetrieval, c.ContextBudgetTokens)
	}
	if c.HistoryPairs < 1 || c.HistoryPairs > 50 {
		return fmt.Errorf("%w: history_pairs must be between 1 and 50, got %d",
			ErrInvalidHistory, c.HistoryPairs)
	}

	if c.DocumentsDir == "" {
		return fmt.Errorf("%w: documents_dir cannot be empty", ErrInvalidDocumentsDir)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d",
			ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == defaultDevPassword {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "change postgres_password in config.yaml for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
