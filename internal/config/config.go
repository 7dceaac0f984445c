// Package config loads application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.askany/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check categories with
// errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder produces vectors
	// incompatible with the index schema.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")

	// ErrInvalidChunking indicates the chunking parameters are out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates the retrieval parameters are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")

	// ErrInvalidWeights indicates the hybrid fusion weights are out of range.
	ErrInvalidWeights = errors.New("invalid fusion weights")

	// ErrInvalidHistory indicates the conversation history window is out of range.
	ErrInvalidHistory = errors.New("invalid history window")

	// ErrInvalidDocumentsDir indicates the documents directory is invalid.
	ErrInvalidDocumentsDir = errors.New("invalid documents directory")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model. Its output
	// is truncated to the schema's vector width via OutputDimensionality.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the default generation model.
	DefaultModelName = "gemini-2.5-flash"

	defaultDevPassword = "askany_dev_password"
)

// Retrieval mode identifiers used in Config.RetrievalMode.
const (
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Model configuration
	ModelName         string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Chunking configuration
	ChunkMaxTokens      int `mapstructure:"chunk_max_tokens" json:"chunk_max_tokens"`
	ChunkOverlapPercent int `mapstructure:"chunk_overlap_percent" json:"chunk_overlap_percent"`

	// Embedding request shaping
	EmbedBatchSize      int     `mapstructure:"embed_batch_size" json:"embed_batch_size"`
	EmbedMaxChars       int     `mapstructure:"embed_max_chars" json:"embed_max_chars"`
	EmbedRequestsPerSec float64 `mapstructure:"embed_requests_per_sec" json:"embed_requests_per_sec"`
	EmbedMaxRetries     int     `mapstructure:"embed_max_retries" json:"embed_max_retries"`

	// Retrieval configuration
	RetrievalTopK          int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	RetrievalMode          string  `mapstructure:"retrieval_mode" json:"retrieval_mode"`
	RetrievalVectorWeight  float64 `mapstructure:"retrieval_vector_weight" json:"retrieval_vector_weight"`
	RetrievalKeywordWeight float64 `mapstructure:"retrieval_keyword_weight" json:"retrieval_keyword_weight"`
	ContextBudgetTokens    int     `mapstructure:"context_budget_tokens" json:"context_budget_tokens"`
	HistoryPairs           int     `mapstructure:"history_pairs" json:"history_pairs"`

	// Ingestion configuration
	DocumentsDir  string `mapstructure:"documents_dir" json:"documents_dir"`
	IngestWorkers int    `mapstructure:"ingest_workers" json:"ingest_workers"`

	// Server configuration
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".askany")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("ASKANY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", 1024)

	v.SetDefault("chunk_max_tokens", 400)
	v.SetDefault("chunk_overlap_percent", 20)

	v.SetDefault("embed_batch_size", 16)
	v.SetDefault("embed_max_chars", 8000)
	v.SetDefault("embed_requests_per_sec", 5)
	v.SetDefault("embed_max_retries", 3)

	v.SetDefault("retrieval_top_k", 8)
	v.SetDefault("retrieval_mode", ModeHybrid)
	v.SetDefault("retrieval_vector_weight", 2.0)
	v.SetDefault("retrieval_keyword_weight", 1.0)
	v.SetDefault("context_budget_tokens", 2000)
	v.SetDefault("history_pairs", 3)

	v.SetDefault("documents_dir", "kb-data")
	v.SetDefault("ingest_workers", 4)

	v.SetDefault("server_addr", ":8080")
	v.SetDefault("trust_proxy", false)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "askany")
	v.SetDefault("postgres_password", defaultDevPassword)
	v.SetDefault("postgres_db_name", "askany")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debug
// utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified generation model name for
// Genkit, e.g. "googleai/gemini-2.5-flash".
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
