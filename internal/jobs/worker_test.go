package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockJob is a mock implementation of Job
type MockJob struct {
	mock.Mock
}

func (m *MockJob) Name() string {
	return "mock"
}

func (m *MockJob) Run(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockIngestRunner is a mock implementation of IngestRunner
type MockIngestRunner struct {
	mock.Mock
}

func (m *MockIngestRunner) Run(ctx context.Context) (*service.IngestReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestReport), args.Error(1)
}

// blockingJob runs until its context is cancelled
type blockingJob struct {
	started  chan struct{}
	runs     atomic.Int32
	canceled atomic.Bool
}

func (j *blockingJob) Name() string { return "blocking" }

func (j *blockingJob) Run(ctx context.Context) error {
	if j.runs.Add(1) == 1 {
		close(j.started)
	}
	<-ctx.Done()
	j.canceled.Store(true)
	return ctx.Err()
}

func TestWorker_StartStop(t *testing.T) {
	job := new(MockJob)
	job.On("Run", mock.Anything).Return(nil)

	worker := NewWorker(job, 50*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(context.Background())
	}()

	time.Sleep(180 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	job.AssertCalled(t, "Run", mock.Anything)
}

func TestWorker_ContextCancellation(t *testing.T) {
	job := new(MockJob)
	job.On("Run", mock.Anything).Return(nil)

	worker := NewWorker(job, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(130 * time.Millisecond)

	cancel()
	wg.Wait()

	job.AssertCalled(t, "Run", mock.Anything)
}

func TestWorker_ContinuesAfterFailure(t *testing.T) {
	job := new(MockJob)
	job.On("Run", mock.Anything).Return(errors.New("boom"))

	worker := NewWorker(job, 20*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(context.Background())
	}()

	time.Sleep(150 * time.Millisecond)
	worker.Stop()
	wg.Wait()

	assert.GreaterOrEqual(t, len(job.Calls), 2)
}

func TestWorker_StopCancelsRunningJob(t *testing.T) {
	job := &blockingJob{started: make(chan struct{})}
	worker := NewWorker(job, 10*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(context.Background())
	}()

	select {
	case <-job.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	worker.Stop()
	wg.Wait()

	assert.True(t, job.canceled.Load())
	assert.Equal(t, int32(1), job.runs.Load(), "runs must not overlap")
}

func TestResyncJob_Run(t *testing.T) {
	ingest := new(MockIngestRunner)
	ingest.On("Run", mock.Anything).Return(&service.IngestReport{
		RunID:     "run-1",
		Documents: 2,
		Records:   3,
		State:     domain.StateDone,
	}, nil)

	job := NewResyncJob(ingest)

	assert.Equal(t, "resync", job.Name())
	require.NoError(t, job.Run(context.Background()))
	ingest.AssertExpectations(t)
}

func TestResyncJob_RunFailure(t *testing.T) {
	ingest := new(MockIngestRunner)
	cause := &domain.PipelineError{Pipeline: "ingest", State: domain.StateEmbedding, Err: domain.ErrEmbeddingFailed}
	ingest.On("Run", mock.Anything).Return(nil, cause)

	err := NewResyncJob(ingest).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "ingestion failed")
}
