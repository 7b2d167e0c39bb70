package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// MaxHNSWDimension is the largest vector size pgvector can build an HNSW index for.
// Larger indexes are searched exactly.
const MaxHNSWDimension = 2000

// VectorIndexRepository stores named vector indexes in PostgreSQL. Each index
// is a table in the namespace schema, registered in vector_indexes and
// searched through an HNSW index built for its metric.
type VectorIndexRepository struct {
	db        dbtx
	namespace string
}

func NewVectorIndexRepository(pool *pgxpool.Pool, namespace string) *VectorIndexRepository {
	return &VectorIndexRepository{db: pool, namespace: namespace}
}

type indexTable struct {
	name      string
	table     string
	dimension int
	metric    domain.Metric
}

func tableName(indexName string) string {
	return "vidx_" + strings.ReplaceAll(indexName, "-", "_")
}

func (t indexTable) ident(namespace string) string {
	return pgx.Identifier{namespace, t.table}.Sanitize()
}

func (t indexTable) annIndexName() string {
	return t.table + "_hnsw"
}

func opsFor(metric domain.Metric) (opclass, operator string) {
	switch metric {
	case domain.MetricEuclidean:
		return "vector_l2_ops", "<->"
	case domain.MetricDotProduct:
		return "vector_ip_ops", "<#>"
	default:
		return "vector_cosine_ops", "<=>"
	}
}

// score converts a pgvector distance into a similarity where higher is better.
func score(metric domain.Metric, distance float64) float32 {
	switch metric {
	case domain.MetricEuclidean:
		return float32(1 / (1 + distance))
	case domain.MetricDotProduct:
		return float32(-distance)
	default:
		return float32(1 - distance)
	}
}

const describeColumns = `
	v.name, v.dimension, v.metric,
	to_regclass(format('%I.%I', v.namespace, v.table_name)) IS NOT NULL
	AND COALESCE(
		(SELECT i.indisvalid AND i.indisready FROM pg_index i
		 WHERE i.indexrelid = to_regclass(format('%I.%I', v.namespace, v.table_name || '_hnsw'))),
		v.dimension > $2
	) AS ready`

// ListIndexes returns every index registered in the namespace, ordered by name.
func (r *VectorIndexRepository) ListIndexes(ctx context.Context) ([]domain.IndexDescription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+describeColumns+`
		 FROM vector_indexes v
		 WHERE v.namespace = $1
		 ORDER BY v.name`,
		r.namespace, MaxHNSWDimension,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []domain.IndexDescription
	for rows.Next() {
		var d domain.IndexDescription
		var metric string
		if err := rows.Scan(&d.Name, &d.Dimension, &metric, &d.Ready); err != nil {
			return nil, err
		}
		d.Metric = domain.Metric(metric)
		indexes = append(indexes, d)
	}

	return indexes, rows.Err()
}

// DescribeIndex returns the configuration, readiness and record count of an index.
func (r *VectorIndexRepository) DescribeIndex(ctx context.Context, name string) (*domain.IndexDescription, error) {
	var d domain.IndexDescription
	var metric string
	err := r.db.QueryRow(ctx,
		`SELECT `+describeColumns+`
		 FROM vector_indexes v
		 WHERE v.namespace = $1 AND v.name = $3`,
		r.namespace, MaxHNSWDimension, name,
	).Scan(&d.Name, &d.Dimension, &metric, &d.Ready)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIndexNotFound
		}
		return nil, err
	}
	d.Metric = domain.Metric(metric)

	if d.Ready {
		t := indexTable{name: name, table: tableName(name)}
		err := r.db.QueryRow(ctx, `SELECT count(*) FROM `+t.ident(r.namespace)).Scan(&d.RecordCount)
		if err != nil {
			return nil, err
		}
	}

	return &d, nil
}

// CreateIndex registers the index and creates its table and ANN index. It is
// safe to call concurrently and repeatedly for the same spec. A registered
// index with a different dimension or metric yields ErrIndexMismatch.
func (r *VectorIndexRepository) CreateIndex(ctx context.Context, spec domain.IndexSpec) error {
	if err := domain.ValidateIndexSpec(spec); err != nil {
		return err
	}
	spec.Metric, _ = domain.ParseMetric(string(spec.Metric))
	t := indexTable{name: spec.Name, table: tableName(spec.Name), dimension: spec.Dimension, metric: spec.Metric}

	if err := r.execIgnoringDuplicates(ctx,
		`CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{r.namespace}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO vector_indexes (namespace, name, dimension, metric, table_name)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (namespace, name) DO NOTHING`,
		r.namespace, t.name, t.dimension, string(t.metric), t.table,
	)
	if err != nil {
		return fmt.Errorf("failed to register index: %w", err)
	}

	existing, err := r.lookup(ctx, spec.Name)
	if err != nil {
		return err
	}
	if existing.dimension != spec.Dimension || existing.metric != spec.Metric {
		return domain.ErrIndexMismatch.WithCause(fmt.Errorf(
			"index %q exists with dimension %d and metric %s, requested %d and %s",
			spec.Name, existing.dimension, existing.metric, spec.Dimension, spec.Metric))
	}

	err = r.execIgnoringDuplicates(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content     TEXT NOT NULL,
			metadata    JSONB NOT NULL,
			embedding   vector(%d) NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, t.ident(r.namespace), t.dimension))
	if err != nil {
		return fmt.Errorf("failed to create index table: %w", err)
	}

	if t.dimension > MaxHNSWDimension {
		return nil
	}

	opclass, _ := opsFor(t.metric)
	err = r.execIgnoringDuplicates(ctx, fmt.Sprintf(
		`CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING hnsw (embedding %s)`,
		pgx.Identifier{t.annIndexName()}.Sanitize(), t.ident(r.namespace), opclass))
	if err != nil {
		return fmt.Errorf("failed to create ann index: %w", err)
	}

	return nil
}

const upsertRecordSQL = `
	INSERT INTO %s (id, source_path, chunk_index, content, metadata, embedding, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (id) DO UPDATE SET
		source_path = EXCLUDED.source_path,
		chunk_index = EXCLUDED.chunk_index,
		content     = EXCLUDED.content,
		metadata    = EXCLUDED.metadata,
		embedding   = EXCLUDED.embedding,
		updated_at  = EXCLUDED.updated_at`

// UpsertRecords writes records in a single transaction. A record whose id
// already exists is overwritten.
func (r *VectorIndexRepository) UpsertRecords(ctx context.Context, name string, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}

	t, err := r.lookup(ctx, name)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := domain.ValidateIndexRecord(rec, t.dimension); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(upsertRecordSQL, t.ident(r.namespace))
	batch := &pgx.Batch{}
	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", rec.ID, err)
		}
		batch.Queue(query,
			rec.ID,
			rec.Metadata.SourcePath,
			rec.Metadata.Ordinal,
			rec.Metadata.Content,
			meta,
			pgvector.NewVector(rec.Vector),
		)
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Query returns the topK records closest to vector under the index metric,
// best first.
func (r *VectorIndexRepository) Query(ctx context.Context, name string, vector []float32, topK int) ([]domain.QueryMatch, error) {
	t, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != t.dimension {
		return nil, domain.ErrDimensionMismatch.WithCause(
			fmt.Errorf("query vector has %d dimensions, index %q expects %d", len(vector), name, t.dimension))
	}
	if topK <= 0 {
		return []domain.QueryMatch{}, nil
	}

	_, operator := opsFor(t.metric)
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		`SELECT id, metadata, embedding %[2]s $1 AS distance
		 FROM %[1]s
		 ORDER BY embedding %[2]s $1, id
		 LIMIT $2`, t.ident(r.namespace), operator),
		pgvector.NewVector(vector), topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]domain.QueryMatch, 0, topK)
	for rows.Next() {
		var m domain.QueryMatch
		var meta []byte
		var distance float64
		if err := rows.Scan(&m.ID, &meta, &distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", m.ID, err)
		}
		m.Score = score(t.metric, distance)
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

// CountRecords returns the number of records stored in an index.
func (r *VectorIndexRepository) CountRecords(ctx context.Context, name string) (int64, error) {
	t, err := r.lookup(ctx, name)
	if err != nil {
		return 0, err
	}

	var n int64
	err = r.db.QueryRow(ctx, `SELECT count(*) FROM `+t.ident(r.namespace)).Scan(&n)
	return n, err
}

func (r *VectorIndexRepository) lookup(ctx context.Context, name string) (indexTable, error) {
	t := indexTable{name: name}
	var metric string
	err := r.db.QueryRow(ctx,
		`SELECT table_name, dimension, metric FROM vector_indexes WHERE namespace = $1 AND name = $2`,
		r.namespace, name,
	).Scan(&t.table, &t.dimension, &metric)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return indexTable{}, domain.ErrIndexNotFound
		}
		return indexTable{}, err
	}
	t.metric = domain.Metric(metric)
	return t, nil
}

// execIgnoringDuplicates runs DDL that may race with an identical statement
// from another ingestion run.
func (r *VectorIndexRepository) execIgnoringDuplicates(ctx context.Context, sql string) error {
	_, err := r.db.Exec(ctx, sql)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "42P06", "42P07":
			return nil
		}
	}
	return err
}
