package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/ragdesk/internal/service"
)

// IngestRunner runs the ingestion pipeline once
type IngestRunner interface {
	Run(ctx context.Context) (*service.IngestReport, error)
}

// ResyncJob re-ingests the configured documents so the index follows edits
// made after the last setup.
type ResyncJob struct {
	ingest IngestRunner
}

func NewResyncJob(ingest IngestRunner) *ResyncJob {
	return &ResyncJob{ingest: ingest}
}

func (j *ResyncJob) Name() string {
	return "resync"
}

func (j *ResyncJob) Run(ctx context.Context) error {
	report, err := j.ingest.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	log.Printf("resync: run %s wrote %d records from %d documents (%d skipped)",
		report.RunID, report.Records, report.Documents, len(report.Skipped))
	return nil
}
