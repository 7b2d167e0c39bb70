package domain

import (
	"fmt"
	"time"
)

// PipelineState is a step of the ingestion or query pipeline.
type PipelineState string

// Ingestion states
const (
	StateLoading           PipelineState = "LOADING"
	StateChunking          PipelineState = "CHUNKING"
	StateEmbedding         PipelineState = "EMBEDDING"
	StateProvisioningIndex PipelineState = "PROVISIONING_INDEX"
	StateUpserting         PipelineState = "UPSERTING"
)

// Query states
const (
	StateValidatingInput PipelineState = "VALIDATING_INPUT"
	StateEmbeddingQuery  PipelineState = "EMBEDDING_QUERY"
	StateSearching       PipelineState = "SEARCHING"
	StateSynthesizing    PipelineState = "SYNTHESIZING"
)

// Terminal states
const (
	StateDone  PipelineState = "DONE"
	StateError PipelineState = "ERROR"
)

// PipelineError records the state a pipeline was in when it failed.
type PipelineError struct {
	Pipeline string
	State    PipelineState
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s pipeline failed at %s: %v", e.Pipeline, e.State, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IngestRunStatus is the outcome of an ingestion run.
type IngestRunStatus string

const (
	IngestRunStatusRunning   IngestRunStatus = "running"
	IngestRunStatusSucceeded IngestRunStatus = "succeeded"
	IngestRunStatusFailed    IngestRunStatus = "failed"
)

// SkippedFile is a file the loader could not read or parse.
type SkippedFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// IngestRun is the audit record of one ingestion pipeline execution.
type IngestRun struct {
	ID         string
	IndexName  string
	Source     string
	State      PipelineState
	Status     IngestRunStatus
	Documents  int
	Chunks     int
	Records    int
	Skipped    []SkippedFile
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ValidateIngestRun validates an IngestRun instance
func ValidateIngestRun(r *IngestRun) error {
	if r == nil {
		return fmt.Errorf("ingest run cannot be nil")
	}
	if r.ID == "" {
		return fmt.Errorf("ingest run ID is required")
	}
	if r.IndexName == "" {
		return fmt.Errorf("ingest run IndexName is required")
	}
	switch r.Status {
	case IngestRunStatusRunning, IngestRunStatusSucceeded, IngestRunStatusFailed:
	default:
		return fmt.Errorf("ingest run Status is invalid: %s", r.Status)
	}
	if r.Documents < 0 || r.Chunks < 0 || r.Records < 0 {
		return fmt.Errorf("ingest run counters cannot be negative")
	}
	return nil
}
