package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/domain"
)

// VectorStore is the storage backend of named vector indexes.
type VectorStore interface {
	ListIndexes(ctx context.Context) ([]domain.IndexDescription, error)
	CreateIndex(ctx context.Context, spec domain.IndexSpec) error
	DescribeIndex(ctx context.Context, name string) (*domain.IndexDescription, error)
	UpsertRecords(ctx context.Context, name string, records []domain.IndexRecord) error
	Query(ctx context.Context, name string, vector []float32, topK int) ([]domain.QueryMatch, error)
}

// IndexConfig controls provisioning and write batching.
type IndexConfig struct {
	ReadyTimeout    time.Duration
	ReadyPoll       time.Duration
	UpsertBatchSize int
}

func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		ReadyTimeout:    60 * time.Second,
		ReadyPoll:       time.Second,
		UpsertBatchSize: 100,
	}
}

// IndexService provisions, writes and searches vector indexes.
type IndexService struct {
	store VectorStore
	cfg   IndexConfig
}

func NewIndexService(store VectorStore, cfg IndexConfig) *IndexService {
	def := DefaultIndexConfig()
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = def.ReadyPoll
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = def.UpsertBatchSize
	}
	return &IndexService{store: store, cfg: cfg}
}

// EnsureIndex creates the index when no index of that name exists and then
// waits for it to become ready. An existing index is verified against spec
// and still goes through the readiness check.
func (s *IndexService) EnsureIndex(ctx context.Context, spec domain.IndexSpec) error {
	if err := domain.ValidateIndexSpec(spec); err != nil {
		return domain.ErrIndexProvisioning.WithCause(err)
	}
	spec.Metric, _ = domain.ParseMetric(string(spec.Metric))

	existing, err := s.store.ListIndexes(ctx)
	if err != nil {
		return domain.ErrIndexProvisioning.WithCause(fmt.Errorf("failed to list indexes: %w", err))
	}

	var found *domain.IndexDescription
	for i := range existing {
		if existing[i].Name == spec.Name {
			found = &existing[i]
			break
		}
	}

	if found != nil {
		log.Printf("index: %q already exists", spec.Name)
		if found.Dimension != spec.Dimension || found.Metric != spec.Metric {
			return domain.ErrIndexMismatch.WithCause(fmt.Errorf(
				"index %q has dimension %d and metric %s, configured %d and %s",
				spec.Name, found.Dimension, found.Metric, spec.Dimension, spec.Metric))
		}
	} else {
		log.Printf("index: creating %q (dimension %d, metric %s)", spec.Name, spec.Dimension, spec.Metric)
		if err := s.store.CreateIndex(ctx, spec); err != nil {
			if domain.ErrorCode(err) == domain.ErrCodeIndexProvision {
				return err
			}
			return domain.ErrIndexProvisioning.WithCause(err)
		}
	}

	return s.waitReady(ctx, spec.Name)
}

func (s *IndexService) waitReady(ctx context.Context, name string) error {
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	for {
		desc, err := s.store.DescribeIndex(ctx, name)
		if err != nil && !errors.Is(err, domain.ErrIndexNotFound) {
			return domain.ErrIndexProvisioning.WithCause(fmt.Errorf("failed to describe index %q: %w", name, err))
		}
		if err == nil && desc.Ready {
			return nil
		}

		if !time.Now().Add(s.cfg.ReadyPoll).Before(deadline) {
			return domain.ErrIndexNotReady.WithCause(
				fmt.Errorf("index %q not ready after %s", name, s.cfg.ReadyTimeout))
		}

		timer := time.NewTimer(s.cfg.ReadyPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.ErrIndexProvisioning.WithCause(ctx.Err())
		case <-timer.C:
		}
	}
}

// Upsert writes records in batches of UpsertBatchSize, in input order. The
// first failing batch stops the call; batches before it stay written.
// It returns the number of records written.
func (s *IndexService) Upsert(ctx context.Context, name string, records []domain.IndexRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	desc, err := s.store.DescribeIndex(ctx, name)
	if err != nil {
		return 0, domain.ErrUpsertFailed.WithCause(fmt.Errorf("failed to describe index %q: %w", name, err))
	}
	for _, rec := range records {
		if err := domain.ValidateIndexRecord(rec, desc.Dimension); err != nil {
			return 0, domain.ErrUpsertFailed.WithCause(err)
		}
	}

	size := s.cfg.UpsertBatchSize
	batches := (len(records) + size - 1) / size
	written := 0
	for b := 0; b < batches; b++ {
		end := min((b+1)*size, len(records))
		batch := records[b*size : end]

		if err := s.store.UpsertRecords(ctx, name, batch); err != nil {
			log.Printf("index: upsert batch %d of %d into %q failed: %v", b+1, batches, name, err)
			return written, domain.ErrUpsertFailed.WithCause(fmt.Errorf(
				"batch %d of %d failed after %d records written: %w", b+1, batches, written, err))
		}
		written += len(batch)
	}

	return written, nil
}

// Query returns up to topK matches ordered by descending similarity.
func (s *IndexService) Query(ctx context.Context, name string, vector []float32, topK int) ([]domain.QueryMatch, error) {
	matches, err := s.store.Query(ctx, name, vector, topK)
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotFound) {
			return nil, domain.ErrIndexNotFound.WithCause(fmt.Errorf("index %q does not exist, run setup first", name))
		}
		return nil, domain.ErrQueryFailed.WithCause(err)
	}
	if matches == nil {
		matches = []domain.QueryMatch{}
	}
	return matches, nil
}
