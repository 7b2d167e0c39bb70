package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IngestRunRepository persists the audit log of ingestion runs.
type IngestRunRepository struct {
	db dbtx
}

func NewIngestRunRepository(pool *pgxpool.Pool) *IngestRunRepository {
	return &IngestRunRepository{db: pool}
}

func (r *IngestRunRepository) Create(ctx context.Context, run *domain.IngestRun) error {
	if err := domain.ValidateIngestRun(run); err != nil {
		return err
	}
	skipped, err := encodeSkipped(run.Skipped)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO ingest_runs (id, index_name, source, state, status, documents, chunks, records, skipped, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.IndexName, run.Source, run.State, run.Status,
		run.Documents, run.Chunks, run.Records, skipped, nullableString(run.Error),
		run.StartedAt, run.FinishedAt,
	)
	return err
}

// Update stores the progress and outcome fields of a run.
func (r *IngestRunRepository) Update(ctx context.Context, run *domain.IngestRun) error {
	if err := domain.ValidateIngestRun(run); err != nil {
		return err
	}
	skipped, err := encodeSkipped(run.Skipped)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE ingest_runs
		 SET state = $2, status = $3, documents = $4, chunks = $5, records = $6,
		     skipped = $7, error = $8, finished_at = $9
		 WHERE id = $1`,
		run.ID, run.State, run.Status, run.Documents, run.Chunks, run.Records,
		skipped, nullableString(run.Error), run.FinishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIngestRunNotFound
	}
	return nil
}

const ingestRunColumns = `id, index_name, source, state, status, documents, chunks, records, skipped, error, started_at, finished_at`

func (r *IngestRunRepository) GetByID(ctx context.Context, id string) (*domain.IngestRun, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ingestRunColumns+` FROM ingest_runs WHERE id = $1`,
		id,
	)
	run, err := scanIngestRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIngestRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRecent returns the most recently started runs, newest first.
func (r *IngestRunRepository) ListRecent(ctx context.Context, limit int) ([]*domain.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+ingestRunColumns+`
		 FROM ingest_runs
		 ORDER BY started_at DESC, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]*domain.IngestRun, 0)
	for rows.Next() {
		run, err := scanIngestRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func scanIngestRun(row pgx.Row) (*domain.IngestRun, error) {
	var run domain.IngestRun
	var state, status string
	var skipped []byte
	var errMsg pgtype.Text

	err := row.Scan(&run.ID, &run.IndexName, &run.Source, &state, &status,
		&run.Documents, &run.Chunks, &run.Records, &skipped, &errMsg,
		&run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}

	run.State = domain.PipelineState(state)
	run.Status = domain.IngestRunStatus(status)
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if len(skipped) > 0 {
		if err := json.Unmarshal(skipped, &run.Skipped); err != nil {
			return nil, fmt.Errorf("failed to decode skipped files: %w", err)
		}
	}
	return &run, nil
}

func encodeSkipped(skipped []domain.SkippedFile) ([]byte, error) {
	if skipped == nil {
		skipped = []domain.SkippedFile{}
	}
	data, err := json.Marshal(skipped)
	if err != nil {
		return nil, fmt.Errorf("failed to encode skipped files: %w", err)
	}
	return data, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
