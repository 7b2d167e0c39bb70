package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/loader"
	"github.com/cloo-solutions/ragdesk/internal/testutil"
	"github.com/stretchr/testify/mock"
)

// MockVectorStore mocks the vector index repository
type MockVectorStore struct {
	mock.Mock
}

func (m *MockVectorStore) ListIndexes(ctx context.Context) ([]domain.IndexDescription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.IndexDescription), args.Error(1)
}

func (m *MockVectorStore) CreateIndex(ctx context.Context, spec domain.IndexSpec) error {
	args := m.Called(ctx, spec)
	return args.Error(0)
}

func (m *MockVectorStore) DescribeIndex(ctx context.Context, name string) (*domain.IndexDescription, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IndexDescription), args.Error(1)
}

func (m *MockVectorStore) UpsertRecords(ctx context.Context, name string, records []domain.IndexRecord) error {
	args := m.Called(ctx, name, records)
	return args.Error(0)
}

func (m *MockVectorStore) Query(ctx context.Context, name string, vector []float32, topK int) ([]domain.QueryMatch, error) {
	args := m.Called(ctx, name, vector, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.QueryMatch), args.Error(1)
}

// MockEmbeddingClient mocks the OpenAI embeddings client
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbeddingClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockChatClient mocks the OpenAI chat client
type MockChatClient struct {
	mock.Mock
}

func (m *MockChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

// MockRunRecorder mocks the ingest run repository
type MockRunRecorder struct {
	mock.Mock
}

func (m *MockRunRecorder) Create(ctx context.Context, run *domain.IngestRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunRecorder) Update(ctx context.Context, run *domain.IngestRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// staticLoader returns a fixed load result.
type staticLoader struct {
	docs    []domain.Document
	skipped []domain.SkippedFile
	err     error
}

func (l *staticLoader) Load(ctx context.Context) (*loader.LoadResult, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &loader.LoadResult{Documents: l.docs, Skipped: l.skipped}, nil
}

// hashEmbedder embeds texts as bag-of-words vectors.
type hashEmbedder struct {
	mu    sync.Mutex
	dim   int
	calls [][]string
	err   error
}

func newHashEmbedder(dim int) *hashEmbedder {
	return &hashEmbedder{dim: dim}
}

func (h *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, append([]string(nil), texts...))
	if h.err != nil {
		return nil, h.err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = testutil.HashEmbedding(t, h.dim)
	}
	return out, nil
}

func (h *hashEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	v, err := h.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (h *hashEmbedder) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// echoChat answers with the first sentence of the context it is given.
type echoChat struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (c *echoChat) Complete(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, user)
	if c.err != nil {
		return "", c.err
	}
	body := strings.TrimPrefix(user, "Context:\n")
	body, _, _ = strings.Cut(body, "\n\nQuestion:")
	sentence, _, _ := strings.Cut(body, ". ")
	return strings.TrimSuffix(sentence, ".") + ".", nil
}

func (c *echoChat) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// memStore is an in-memory VectorStore with exact cosine search.
type memStore struct {
	mu      sync.Mutex
	indexes map[string]*memIndex

	createCalls int
	upserts     [][]domain.IndexRecord
	// readyAfter is the number of DescribeIndex calls before a new index is ready.
	readyAfter int
	// failBatch makes the n-th UpsertRecords call (1-based) fail.
	failBatch int
}

type memIndex struct {
	spec      domain.IndexSpec
	records   map[string]domain.IndexRecord
	describes int
}

func newMemStore() *memStore {
	return &memStore{indexes: map[string]*memIndex{}}
}

func (s *memStore) ListIndexes(ctx context.Context) ([]domain.IndexDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.IndexDescription, 0, len(s.indexes))
	for _, idx := range s.indexes {
		out = append(out, s.describe(idx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) CreateIndex(ctx context.Context, spec domain.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if _, ok := s.indexes[spec.Name]; ok {
		return nil
	}
	s.indexes[spec.Name] = &memIndex{spec: spec, records: map[string]domain.IndexRecord{}}
	return nil
}

func (s *memStore) DescribeIndex(ctx context.Context, name string) (*domain.IndexDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, domain.ErrIndexNotFound
	}
	idx.describes++
	d := s.describe(idx)
	return &d, nil
}

func (s *memStore) describe(idx *memIndex) domain.IndexDescription {
	return domain.IndexDescription{
		Name:        idx.spec.Name,
		Dimension:   idx.spec.Dimension,
		Metric:      idx.spec.Metric,
		Ready:       idx.describes > s.readyAfter,
		RecordCount: int64(len(idx.records)),
	}
}

func (s *memStore) UpsertRecords(ctx context.Context, name string, records []domain.IndexRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, records)
	if s.failBatch > 0 && len(s.upserts) == s.failBatch {
		return fmt.Errorf("store unavailable")
	}
	idx, ok := s.indexes[name]
	if !ok {
		return domain.ErrIndexNotFound
	}
	for _, r := range records {
		idx.records[r.ID] = r
	}
	return nil
}

func (s *memStore) Query(ctx context.Context, name string, vector []float32, topK int) ([]domain.QueryMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, domain.ErrIndexNotFound
	}

	matches := make([]domain.QueryMatch, 0, len(idx.records))
	for _, r := range idx.records {
		matches = append(matches, domain.QueryMatch{ID: r.ID, Score: cosine(vector, r.Vector), Metadata: r.Metadata})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *memStore) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[name]; ok {
		return len(idx.records)
	}
	return 0
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
