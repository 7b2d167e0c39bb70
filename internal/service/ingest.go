package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/loader"
	"github.com/cloo-solutions/ragdesk/internal/telemetry"
	"github.com/google/uuid"
)

// UUIDGenerator generates UUID strings
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// DocumentLoader produces the documents to ingest.
type DocumentLoader interface {
	Load(ctx context.Context) (*loader.LoadResult, error)
}

// EmbeddingClient generates embeddings, one vector per input text in order.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// IngestRunRecorder persists the audit record of ingestion runs.
type IngestRunRecorder interface {
	Create(ctx context.Context, run *domain.IngestRun) error
	Update(ctx context.Context, run *domain.IngestRun) error
}

// IngestConfig describes the index to build and how documents are chunked.
type IngestConfig struct {
	Index  domain.IndexSpec
	Chunk  ChunkConfig
	Source string
}

// IngestReport summarizes a completed ingestion run.
type IngestReport struct {
	RunID     string
	Documents int
	Chunks    int
	Records   int
	Skipped   []domain.SkippedFile
	State     domain.PipelineState
}

// IngestService runs the ingestion pipeline:
// LOADING, CHUNKING, EMBEDDING, PROVISIONING_INDEX, UPSERTING, DONE.
type IngestService struct {
	loader   DocumentLoader
	embedder EmbeddingClient
	index    *IndexService
	runs     IngestRunRecorder
	cfg      IngestConfig
	uuidGen  UUIDGenerator
}

func NewIngestService(docs DocumentLoader, embedder EmbeddingClient, index *IndexService, cfg IngestConfig) *IngestService {
	return &IngestService{
		loader:   docs,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		uuidGen:  &DefaultUUIDGenerator{},
	}
}

// WithRunRecorder records every run through recorder.
func (s *IngestService) WithRunRecorder(recorder IngestRunRecorder) *IngestService {
	s.runs = recorder
	return s
}

// IndexName returns the name of the index the pipeline writes to.
func (s *IngestService) IndexName() string {
	return s.cfg.Index.Name
}

type ingestRun struct {
	svc    *IngestService
	run    *domain.IngestRun
	report *IngestReport
}

// Run executes the pipeline once. On failure the returned error is a
// *domain.PipelineError naming the state that failed.
func (s *IngestService) Run(ctx context.Context) (*IngestReport, error) {
	runID := s.uuidGen.NewString()
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Run", telemetry.SpanAttributes{
		IndexName: s.cfg.Index.Name,
		RunID:     runID,
		Operation: "ingest",
	})
	defer span.End()

	r := &ingestRun{
		svc: s,
		run: &domain.IngestRun{
			ID:        runID,
			IndexName: s.cfg.Index.Name,
			Source:    s.cfg.Source,
			State:     domain.StateLoading,
			Status:    domain.IngestRunStatusRunning,
			StartedAt: time.Now().UTC(),
		},
		report: &IngestReport{RunID: runID, State: domain.StateLoading},
	}
	r.record(ctx, true)

	err := r.execute(ctx)
	if err != nil {
		span.SetError(err)
		r.finish(ctx, err)
		return r.report, &domain.PipelineError{Pipeline: "ingest", State: r.report.State, Err: err}
	}

	r.finish(ctx, nil)
	return r.report, nil
}

func (r *ingestRun) execute(ctx context.Context) error {
	s := r.svc

	var loaded *loader.LoadResult
	err := r.stage(ctx, domain.StateLoading, func(ctx context.Context) error {
		var err error
		loaded, err = s.loader.Load(ctx)
		if err != nil {
			return err
		}
		r.report.Documents = len(loaded.Documents)
		r.report.Skipped = loaded.Skipped
		log.Printf("ingest: loaded %d documents (%d skipped)", len(loaded.Documents), len(loaded.Skipped))
		return nil
	})
	if err != nil {
		return err
	}

	var chunks []domain.Chunk
	err = r.stage(ctx, domain.StateChunking, func(ctx context.Context) error {
		for _, doc := range loaded.Documents {
			docChunks, err := ChunkDocument(doc, s.cfg.Chunk)
			if err != nil {
				return err
			}
			for _, c := range docChunks {
				if strings.TrimSpace(c.Content) == "" {
					continue
				}
				chunks = append(chunks, c)
			}
		}
		r.report.Chunks = len(chunks)
		log.Printf("ingest: split documents into %d chunks", len(chunks))
		return nil
	})
	if err != nil {
		return err
	}

	var vectors [][]float32
	err = r.stage(ctx, domain.StateEmbedding, func(ctx context.Context) error {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = embeddingText(c)
		}
		var err error
		vectors, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return domain.ErrEmbeddingFailed.WithCause(err)
		}
		if len(vectors) != len(chunks) {
			return domain.ErrEmbeddingFailed.WithCause(
				fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(chunks)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = r.stage(ctx, domain.StateProvisioningIndex, func(ctx context.Context) error {
		return s.index.EnsureIndex(ctx, s.cfg.Index)
	})
	if err != nil {
		return err
	}

	return r.stage(ctx, domain.StateUpserting, func(ctx context.Context) error {
		records := make([]domain.IndexRecord, len(chunks))
		for i, c := range chunks {
			records[i] = domain.NewIndexRecord(c, vectors[i])
		}
		written, err := s.index.Upsert(ctx, s.cfg.Index.Name, records)
		r.report.Records = written
		if err != nil {
			return err
		}
		log.Printf("ingest: upserted %d records into %q", written, s.cfg.Index.Name)
		return nil
	})
}

// stage runs fn as the given pipeline state inside its own span.
func (r *ingestRun) stage(ctx context.Context, state domain.PipelineState, fn func(ctx context.Context) error) error {
	r.report.State = state
	r.run.State = state
	r.record(ctx, false)

	ctx, span := telemetry.StartStage(ctx, "ingest", string(state), telemetry.SpanAttributes{
		IndexName: r.svc.cfg.Index.Name,
		RunID:     r.run.ID,
	})
	defer span.End()

	if err := fn(ctx); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

func (r *ingestRun) finish(ctx context.Context, err error) {
	now := time.Now().UTC()
	r.run.FinishedAt = &now
	r.run.Documents = r.report.Documents
	r.run.Chunks = r.report.Chunks
	r.run.Records = r.report.Records
	r.run.Skipped = r.report.Skipped

	if err != nil {
		r.run.Status = domain.IngestRunStatusFailed
		r.run.Error = err.Error()
		log.Printf("ingest: run %s failed at %s: %v", r.run.ID, r.report.State, err)
	} else {
		r.report.State = domain.StateDone
		r.run.State = domain.StateDone
		r.run.Status = domain.IngestRunStatusSucceeded
		log.Printf("ingest: run %s done (%d documents, %d chunks, %d records)",
			r.run.ID, r.report.Documents, r.report.Chunks, r.report.Records)
	}

	r.record(ctx, false)
}

// record writes the run to the recorder. The audit log never fails the run.
func (r *ingestRun) record(ctx context.Context, create bool) {
	if r.svc.runs == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	var err error
	if create {
		err = r.svc.runs.Create(ctx, r.run)
	} else {
		err = r.svc.runs.Update(ctx, r.run)
	}
	if err != nil {
		log.Printf("ingest: failed to record run %s: %v", r.run.ID, err)
	}
}
