package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Vector index. The namespace is the PostgreSQL schema that holds index tables.
	IndexNamespace    string        `envconfig:"INDEX_NAMESPACE" default:"public"`
	IndexName         string        `envconfig:"INDEX_NAME" default:"ragdesk-docs"`
	IndexDimension    int           `envconfig:"INDEX_DIMENSION" default:"1536"`
	IndexMetric       string        `envconfig:"INDEX_METRIC" default:"cosine"`
	IndexReadyTimeout time.Duration `envconfig:"INDEX_READY_TIMEOUT" default:"60s"`
	IndexReadyPoll    time.Duration `envconfig:"INDEX_READY_POLL" default:"1s"`
	UpsertBatchSize   int           `envconfig:"UPSERT_BATCH_SIZE" default:"100"`

	// ResyncInterval re-runs ingestion periodically while serving. Zero disables it.
	ResyncInterval time.Duration `envconfig:"RESYNC_INTERVAL" default:"0"`
	// WatchDocuments re-runs ingestion when files under DocumentsDir change.
	WatchDocuments bool          `envconfig:"WATCH_DOCUMENTS" default:"false"`
	WatchDebounce  time.Duration `envconfig:"WATCH_DEBOUNCE" default:"2s"`

	DocumentsDir      string `envconfig:"DOCUMENTS_DIR" default:"./documents"`
	DocumentsS3Bucket string `envconfig:"DOCUMENTS_S3_BUCKET"`
	DocumentsS3Prefix string `envconfig:"DOCUMENTS_S3_PREFIX"`
	// DocumentsExclude lists doublestar globs, relative to the source root, to leave out.
	DocumentsExclude []string `envconfig:"DOCUMENTS_EXCLUDE"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey       string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string  `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel     string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-ada-002"`
	EmbeddingBatchSize int     `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	EmbeddingRPS       float64 `envconfig:"EMBEDDING_RPS" default:"0"`
	ChatModel          string  `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	ChunkSize       int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap    int `envconfig:"CHUNK_OVERLAP" default:"0"`
	TopK            int `envconfig:"TOP_K" default:"10"`
	MaxContextChars int `envconfig:"MAX_CONTEXT_CHARS" default:"12000"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("RAGDESK", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the pipelines cannot run with.
func (c *Config) Validate() error {
	if c.IndexDimension <= 0 {
		return fmt.Errorf("INDEX_DIMENSION must be positive, got %d", c.IndexDimension)
	}
	if c.UpsertBatchSize <= 0 {
		return fmt.Errorf("UPSERT_BATCH_SIZE must be positive, got %d", c.UpsertBatchSize)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.TopK)
	}
	if c.ResyncInterval < 0 {
		return fmt.Errorf("RESYNC_INTERVAL must not be negative, got %v", c.ResyncInterval)
	}
	if c.WatchDocuments && c.WatchDebounce <= 0 {
		return fmt.Errorf("WATCH_DEBOUNCE must be positive, got %v", c.WatchDebounce)
	}
	if c.IndexReadyPoll <= 0 || c.IndexReadyTimeout <= 0 {
		return fmt.Errorf("INDEX_READY_POLL and INDEX_READY_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// UsesS3Documents reports whether documents are read from a bucket instead of DocumentsDir.
func (c *Config) UsesS3Documents() bool {
	return c.DocumentsS3Bucket != "" && c.HasS3()
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
