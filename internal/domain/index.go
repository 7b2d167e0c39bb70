package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Metric is the similarity function an index is built for.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotproduct"
)

// DefaultIndexDimension matches the output of text-embedding-ada-002.
const DefaultIndexDimension = 1536

var indexNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,43}[a-z0-9])?$`)

// IndexSpec is the requested shape of a named vector index.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    Metric
}

// IndexDescription is the state of an existing index as reported by the store.
type IndexDescription struct {
	Name        string
	Dimension   int
	Metric      Metric
	Ready       bool
	RecordCount int64
}

// RecordMetadata is stored alongside every vector and returned with query matches.
type RecordMetadata struct {
	SourcePath string   `json:"txtPath"`
	Ordinal    int      `json:"ordinal"`
	Location   Location `json:"loc"`
	Content    string   `json:"pageContent"`
}

// IndexRecord is one vector plus metadata as written to an index.
type IndexRecord struct {
	ID       string
	Vector   []float32
	Metadata RecordMetadata
}

// QueryMatch is one result of a similarity query.
type QueryMatch struct {
	ID       string
	Score    float32
	Metadata RecordMetadata
}

// RecordID derives the id of a chunk's record. Re-ingesting the same file
// yields the same ids, so records are overwritten rather than duplicated.
func RecordID(sourcePath string, ordinal int) string {
	return fmt.Sprintf("%s_%d", sourcePath, ordinal)
}

// NewIndexRecord builds the record for an embedded chunk.
func NewIndexRecord(chunk Chunk, vector []float32) IndexRecord {
	return IndexRecord{
		ID:     RecordID(chunk.Metadata.SourcePath, chunk.Ordinal),
		Vector: vector,
		Metadata: RecordMetadata{
			SourcePath: chunk.Metadata.SourcePath,
			Ordinal:    chunk.Ordinal,
			Location:   chunk.Metadata.Location,
			Content:    chunk.Content,
		},
	}
}

// ParseMetric normalizes a metric name, defaulting to cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricEuclidean:
		return MetricEuclidean, nil
	case MetricDotProduct:
		return MetricDotProduct, nil
	}
	return "", ErrInvalidMetric.WithCause(fmt.Errorf("unsupported metric %q", s))
}

// ValidateIndexName checks an index name against the allowed pattern.
func ValidateIndexName(name string) error {
	if !indexNamePattern.MatchString(name) {
		return ErrInvalidIndexName.WithCause(
			fmt.Errorf("%q must be 1-45 lowercase alphanumeric characters or hyphens", name))
	}
	return nil
}

// ValidateIndexSpec validates an IndexSpec
func ValidateIndexSpec(s IndexSpec) error {
	if err := ValidateIndexName(s.Name); err != nil {
		return err
	}
	if s.Dimension <= 0 {
		return ErrInvalidDimension
	}
	if _, err := ParseMetric(string(s.Metric)); err != nil {
		return err
	}
	return nil
}

// ValidateIndexRecord checks a record against the dimension of its target index.
func ValidateIndexRecord(r IndexRecord, dimension int) error {
	if r.ID == "" {
		return ErrMissingRecordID
	}
	if len(r.Vector) != dimension {
		return ErrDimensionMismatch.WithCause(
			fmt.Errorf("record %s has %d values, index expects %d", r.ID, len(r.Vector), dimension))
	}
	return nil
}
