//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/api/handlers"
	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/loader"
	"github.com/cloo-solutions/ragdesk/internal/openai"
	"github.com/cloo-solutions/ragdesk/internal/repository"
	"github.com/cloo-solutions/ragdesk/internal/server"
	"github.com/cloo-solutions/ragdesk/internal/service"
	"github.com/cloo-solutions/ragdesk/internal/storage"
	"github.com/cloo-solutions/ragdesk/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	e2eDimension = 64
	e2eIndexName = "e2e-docs"
	e2eBucket    = "e2e-documents"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	OpenAI       *testutil.FakeOpenAI
	S3Client     *storage.S3Client
	DocsDir      string
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts the containers and the fake OpenAI API. The server is
// started separately so each test can pick its document source.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC)

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          e2eBucket,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	return &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		OpenAI:     testutil.NewFakeOpenAI(t, e2eDimension),
		S3Client:   s3Client,
		DocsDir:    t.TempDir(),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// WriteDoc writes a document under the local documents directory.
func (e *E2ETestEnv) WriteDoc(rel, content string) {
	path := filepath.Join(e.DocsDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.T.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.T.Fatalf("failed to write %s: %v", rel, err)
	}
}

// PutDoc uploads a document to the bucket.
func (e *E2ETestEnv) PutDoc(key, content string) {
	if err := e.S3Client.PutObject(e.Ctx, key, []byte(content), "text/plain"); err != nil {
		e.T.Fatalf("failed to upload %s: %v", key, err)
	}
}

// StartServer starts the HTTP server reading documents from source.
func (e *E2ETestEnv) StartServer(source loader.Source) {
	port, err := getFreePort()
	if err != nil {
		e.T.Fatalf("failed to get free port: %v", err)
	}
	e.ServerURL, e.ServerCloser = startServer(e.T, e.Pool, e.OpenAI, source, port)
}

// DirSource returns the local documents directory as a source.
func (e *E2ETestEnv) DirSource() loader.Source {
	return loader.NewDirSource(e.DocsDir)
}

// BucketSource returns the bucket as a source.
func (e *E2ETestEnv) BucketSource(prefix string) loader.Source {
	return loader.NewS3Source(e.S3Client, e2eBucket, prefix)
}

// CountRecords returns the number of records stored in the e2e index.
func (e *E2ETestEnv) CountRecords() int64 {
	n, err := repository.NewVectorIndexRepository(e.Pool, "public").CountRecords(e.Ctx, e2eIndexName)
	if err != nil {
		e.T.Fatalf("failed to count records: %v", err)
	}
	return n
}

// BuildBinary builds ragdeskd into a temporary directory
func (e *E2ETestEnv) BuildBinary() {
	tmpDir, err := os.MkdirTemp("", "ragdesk-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "ragdeskd"), "./cmd/ragdeskd")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build ragdeskd: %v\n%s", err, out)
	}
}

// RunRagdesk runs the ragdeskd CLI against the test database and fake OpenAI API
func (e *E2ETestEnv) RunRagdesk(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "ragdeskd"), args...)
	cmd.Dir = e.BinaryDir
	cmd.Env = append(os.Environ(),
		"RAGDESK_DATABASE_URL="+e.PostgresC.ConnectionString(),
		"RAGDESK_OPENAI_API_KEY=sk-e2e",
		"RAGDESK_OPENAI_BASE_URL="+e.OpenAI.BaseURL(),
		"RAGDESK_DOCUMENTS_DIR="+e.DocsDir,
		"RAGDESK_INDEX_NAME="+e2eIndexName,
		fmt.Sprintf("RAGDESK_INDEX_DIMENSION=%d", e2eDimension),
		"RAGDESK_INDEX_READY_POLL=100ms",
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
	State  string          `json:"state,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request with a JSON body
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	return e.doRequest("POST", path, raw)
}

// PostRaw performs a POST request with the body sent as is
func (e *E2ETestEnv) PostRaw(path string, body []byte) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// doRequest returns the decoded response for every status; only transport
// and decoding failures are errors.
func (e *E2ETestEnv) doRequest(method, path string, body []byte) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := APIResponse{Status: resp.StatusCode}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return &apiResp, nil
}

// startServer wires both pipelines the way the serve command does
func startServer(t *testing.T, pool *pgxpool.Pool, fake *testutil.FakeOpenAI, source loader.Source, port int) (string, func()) {
	llm := openai.NewClientWithConfig(openai.Config{
		APIKey:              "sk-e2e",
		BaseURL:             fake.BaseURL(),
		EmbeddingDimensions: e2eDimension,
		ChatModel:           "gpt-4o-mini",
	})

	spec := domain.IndexSpec{Name: e2eIndexName, Dimension: e2eDimension, Metric: domain.MetricCosine}
	runRepo := repository.NewIngestRunRepository(pool)
	indexSvc := service.NewIndexService(repository.NewVectorIndexRepository(pool, "public"), service.IndexConfig{
		ReadyTimeout:    30 * time.Second,
		ReadyPoll:       100 * time.Millisecond,
		UpsertBatchSize: 100,
	})

	ingestSvc := service.NewIngestService(loader.New(source, loader.DefaultParsers()), llm, indexSvc, service.IngestConfig{
		Index:  spec,
		Chunk:  service.NewChunkConfig(1000, 0),
		Source: source.String(),
	}).WithRunRecorder(runRepo)
	querySvc := service.NewQueryService(llm, indexSvc, service.NewAnswerSynthesizer(llm, 12000), spec.Name, 10)

	router := server.NewRouter(server.RouterConfig{
		IndexName:    spec.Name,
		SetupHandler: handlers.NewSetupHandler(ingestSvc, runRepo),
		ReadHandler:  handlers.NewReadHandler(querySvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
