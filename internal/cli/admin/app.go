package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/ragdesk/internal/config"
	"github.com/cloo-solutions/ragdesk/internal/database"
	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/loader"
	"github.com/cloo-solutions/ragdesk/internal/openai"
	"github.com/cloo-solutions/ragdesk/internal/repository"
	"github.com/cloo-solutions/ragdesk/internal/service"
	"github.com/cloo-solutions/ragdesk/internal/storage"
	"github.com/cloo-solutions/ragdesk/internal/telemetry"
	goopenai "github.com/sashabaranov/go-openai"
)

// app holds the long-lived collaborators shared by the serve, setup and ask commands.
type app struct {
	cfg    *config.Config
	runs   *repository.IngestRunRepository
	ingest *service.IngestService
	query  *service.QueryService
	close  func()
}

// newApp connects to the database and wires both pipelines from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if !cfg.HasOpenAI() {
		return nil, openai.ErrNoAPIKey
	}

	metric, err := domain.ParseMetric(cfg.IndexMetric)
	if err != nil {
		return nil, fmt.Errorf("invalid INDEX_METRIC: %w", err)
	}
	spec := domain.IndexSpec{Name: cfg.IndexName, Dimension: cfg.IndexDimension, Metric: metric}
	if err := domain.ValidateIndexName(spec.Name); err != nil {
		return nil, fmt.Errorf("invalid INDEX_NAME: %w", err)
	}

	source, err := newSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	docs, err := loader.New(source, loader.DefaultParsers()).WithExclude(cfg.DocumentsExclude)
	if err != nil {
		return nil, fmt.Errorf("invalid DOCUMENTS_EXCLUDE: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("connected to database")

	llm := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.IndexDimension,
		EmbeddingBatchSize:  cfg.EmbeddingBatchSize,
		ChatModel:           cfg.ChatModel,
		RequestsPerSecond:   cfg.EmbeddingRPS,
	})

	indexRepo := repository.NewVectorIndexRepository(pool, cfg.IndexNamespace)
	runRepo := repository.NewIngestRunRepository(pool)

	indexSvc := service.NewIndexService(indexRepo, service.IndexConfig{
		ReadyTimeout:    cfg.IndexReadyTimeout,
		ReadyPoll:       cfg.IndexReadyPoll,
		UpsertBatchSize: cfg.UpsertBatchSize,
	})

	ingestSvc := service.NewIngestService(docs, llm, indexSvc, service.IngestConfig{
		Index:  spec,
		Chunk:  service.NewChunkConfig(cfg.ChunkSize, cfg.ChunkOverlap),
		Source: source.String(),
	}).WithRunRecorder(runRepo)

	querySvc := service.NewQueryService(llm, indexSvc,
		service.NewAnswerSynthesizer(llm, cfg.MaxContextChars), spec.Name, cfg.TopK)

	return &app{
		cfg:    cfg,
		runs:   runRepo,
		ingest: ingestSvc,
		query:  querySvc,
		close:  pool.Close,
	}, nil
}

// newSource picks the bucket when DOCUMENTS_S3_BUCKET is configured and the
// local directory otherwise.
func newSource(ctx context.Context, cfg *config.Config) (loader.Source, error) {
	if !cfg.UsesS3Documents() {
		if err := loader.CheckAvailable(); err != nil {
			log.Printf("warning: %v; PDF files will be skipped", err)
		}
		return loader.NewDirSource(cfg.DocumentsDir), nil
	}

	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.DocumentsS3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	log.Printf("reading documents from s3 bucket '%s'", cfg.DocumentsS3Bucket)
	return loader.NewS3Source(client, cfg.DocumentsS3Bucket, cfg.DocumentsS3Prefix), nil
}

// initTelemetry starts Sentry when a DSN is configured and returns its flush function.
func initTelemetry(cfg *config.Config) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}

	// Default to 10% sampling in production, 100% in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Printf("telemetry init failed (continuing without tracing): %v", err)
		return func() {}
	}
	return shutdown
}
