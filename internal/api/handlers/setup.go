package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/api"
	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/service"
)

const setupMessage = "Created Index and Added Data"

type IngestService interface {
	Run(ctx context.Context) (*service.IngestReport, error)
}

type IngestRunLister interface {
	ListRecent(ctx context.Context, limit int) ([]*domain.IngestRun, error)
}

type SetupHandler struct {
	svc  IngestService
	runs IngestRunLister
}

func NewSetupHandler(svc IngestService, runs IngestRunLister) *SetupHandler {
	return &SetupHandler{svc: svc, runs: runs}
}

type SetupResponse struct {
	Message   string               `json:"message"`
	RunID     string               `json:"run_id"`
	Documents int                  `json:"documents"`
	Chunks    int                  `json:"chunks"`
	Records   int                  `json:"records"`
	Skipped   []domain.SkippedFile `json:"skipped"`
}

type IngestRunResponse struct {
	ID         string               `json:"id"`
	IndexName  string               `json:"index_name"`
	Source     string               `json:"source,omitempty"`
	State      string               `json:"state"`
	Status     string               `json:"status"`
	Documents  int                  `json:"documents"`
	Chunks     int                  `json:"chunks"`
	Records    int                  `json:"records"`
	Skipped    []domain.SkippedFile `json:"skipped"`
	Error      string               `json:"error,omitempty"`
	StartedAt  string               `json:"started_at"`
	FinishedAt string               `json:"finished_at,omitempty"`
}

// Setup runs the ingestion pipeline and reports what was indexed.
func (h *SetupHandler) Setup(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Run(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	skipped := report.Skipped
	if skipped == nil {
		skipped = []domain.SkippedFile{}
	}

	api.Success(w, http.StatusOK, SetupResponse{
		Message:   setupMessage,
		RunID:     report.RunID,
		Documents: report.Documents,
		Chunks:    report.Chunks,
		Records:   report.Records,
		Skipped:   skipped,
	})
}

// ListRuns returns the most recent ingestion runs, newest first.
func (h *SetupHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		api.Error(w, http.StatusNotFound, "run log is not enabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			api.Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to list ingest runs")
		return
	}

	resp := make([]*IngestRunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, NewIngestRunResponse(run))
	}

	api.Success(w, http.StatusOK, resp)
}

// NewIngestRunResponse converts a recorded run to its API form.
func NewIngestRunResponse(run *domain.IngestRun) *IngestRunResponse {
	skipped := run.Skipped
	if skipped == nil {
		skipped = []domain.SkippedFile{}
	}

	resp := &IngestRunResponse{
		ID:        run.ID,
		IndexName: run.IndexName,
		Source:    run.Source,
		State:     string(run.State),
		Status:    string(run.Status),
		Documents: run.Documents,
		Chunks:    run.Chunks,
		Records:   run.Records,
		Skipped:   skipped,
		Error:     run.Error,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}
