package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloo-solutions/ragdesk/internal/api/handlers"
	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) Run(ctx context.Context) (*service.IngestReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestReport), args.Error(1)
}

type MockIngestRunLister struct {
	mock.Mock
}

func (m *MockIngestRunLister) ListRecent(ctx context.Context, limit int) ([]*domain.IngestRun, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.IngestRun), args.Error(1)
}

type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Ask(ctx context.Context, question string) (*service.QueryResult, error) {
	args := m.Called(ctx, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.QueryResult), args.Error(1)
}

type testRouter struct {
	handler http.Handler
	ingest  *MockIngestService
	runs    *MockIngestRunLister
	query   *MockQueryService
}

func setupTestRouter() *testRouter {
	tr := &testRouter{
		ingest: new(MockIngestService),
		runs:   new(MockIngestRunLister),
		query:  new(MockQueryService),
	}
	tr.handler = NewRouter(RouterConfig{
		IndexName:    "docs",
		SetupHandler: handlers.NewSetupHandler(tr.ingest, tr.runs),
		ReadHandler:  handlers.NewReadHandler(tr.query),
	})
	return tr
}

func TestRouter_HealthEndpoint(t *testing.T) {
	tr := setupTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	tr.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_ClientPage(t *testing.T) {
	tr := setupTestRouter()

	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	assert.Contains(t, body, "Ask AI")
	assert.Contains(t, body, "Create Index and Embeddings")
	assert.Contains(t, body, `fetch(path`)
}

func TestRouter_Setup(t *testing.T) {
	tr := setupTestRouter()
	tr.ingest.On("Run", mock.Anything).Return(&service.IngestReport{
		RunID:   "run-1",
		Records: 4,
		State:   domain.StateDone,
	}, nil)

	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/setup", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Created Index and Added Data")
	tr.ingest.AssertExpectations(t)
}

func TestRouter_SetupRuns(t *testing.T) {
	tr := setupTestRouter()
	tr.runs.On("ListRecent", mock.Anything, 20).Return([]*domain.IngestRun{}, nil)

	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/setup/runs", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}

func TestRouter_Read(t *testing.T) {
	tr := setupTestRouter()
	tr.query.On("Ask", mock.Anything, "What is the capital of France?").Return(&service.QueryResult{
		Answer: "Paris.",
		Found:  true,
		State:  domain.StateDone,
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/read", strings.NewReader(`"What is the capital of France?"`))
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"answer":"Paris.","found":true,"sources":[]}}`, w.Body.String())
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	tr := setupTestRouter()

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/setup"},
		{http.MethodGet, "/read"},
		{http.MethodPost, "/health"},
	} {
		w := httptest.NewRecorder()
		tr.handler.ServeHTTP(w, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, route.method+" "+route.path)
	}

	tr.ingest.AssertNotCalled(t, "Run", mock.Anything)
	tr.query.AssertNotCalled(t, "Ask", mock.Anything, mock.Anything)
}

func TestRouter_ReadBodyTooLarge(t *testing.T) {
	tr := setupTestRouter()

	body := `"` + strings.Repeat("a", 2*1024*1024) + `"`
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/read", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	tr.query.AssertNotCalled(t, "Ask", mock.Anything, mock.Anything)
}
