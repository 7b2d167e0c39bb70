package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDim = 256

var franceDocs = []domain.Document{
	{SourcePath: "france.txt", Text: "The capital of France is Paris. Paris lies on the Seine."},
	{SourcePath: "fruit/bananas.md", Text: "Bananas grow in tropical climates. They turn yellow when ripe."},
}

type pipeline struct {
	store    *memStore
	embedder *hashEmbedder
	chat     *echoChat
	index    *IndexService
	ingest   *IngestService
	query    *QueryService
}

func newPipeline(docs []domain.Document) *pipeline {
	p := &pipeline{
		store:    newMemStore(),
		embedder: newHashEmbedder(testDim),
		chat:     &echoChat{},
	}
	p.index = NewIndexService(p.store, fastIndexConfig())
	p.ingest = NewIngestService(&staticLoader{docs: docs}, p.embedder, p.index, IngestConfig{
		Index:  domain.IndexSpec{Name: "docs", Dimension: testDim, Metric: domain.MetricCosine},
		Chunk:  DefaultChunkConfig(),
		Source: "testdata",
	})
	p.query = NewQueryService(p.embedder, p.index, NewAnswerSynthesizer(p.chat, 0), "docs", DefaultTopK)
	return p
}

func TestIngestThenQuery(t *testing.T) {
	p := newPipeline(franceDocs)
	ctx := context.Background()

	report, err := p.ingest.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 2, report.Records)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, p.store.count("docs"))

	result, err := p.query.Ask(ctx, "What is the capital of France?")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, domain.StateDone, result.State)
	assert.Contains(t, result.Answer, "Paris")
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, "france.txt_0", result.Sources[0].ID)
	assert.Equal(t, "france.txt", result.Sources[0].SourcePath)
}

func TestIngest_RunTwiceIsIdempotent(t *testing.T) {
	p := newPipeline(franceDocs)
	ctx := context.Background()

	_, err := p.ingest.Run(ctx)
	require.NoError(t, err)
	_, err = p.ingest.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, p.store.count("docs"), "same ids overwrite rather than duplicate")
	assert.Equal(t, 1, p.store.createCalls)
}

func TestIngest_NoDocumentsStillProvisionsIndex(t *testing.T) {
	p := newPipeline(nil)

	report, err := p.ingest.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Zero(t, report.Records)
	assert.Equal(t, 1, p.store.createCalls)

	result, err := p.query.Ask(context.Background(), "anything?")
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, NoMatchAnswer, result.Answer)
}

func TestIngest_SkipsBlankChunks(t *testing.T) {
	p := newPipeline([]domain.Document{
		{SourcePath: "blank.txt", Text: "   \n\n  "},
		{SourcePath: "real.txt", Text: "Real content."},
	})

	report, err := p.ingest.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, 1, p.store.count("docs"))
}

func TestIngest_EmbedsWithNewlinesReplaced(t *testing.T) {
	p := newPipeline([]domain.Document{{SourcePath: "lines.txt", Text: "first line\nsecond line"}})

	_, err := p.ingest.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, p.embedder.calls, 1)
	assert.Equal(t, []string{"first line second line"}, p.embedder.calls[0])

	matches, err := p.index.Query(context.Background(), "docs", testutilVector("first line"), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "first line\nsecond line", matches[0].Metadata.Content, "stored content keeps the original text")
}

func TestIngest_FailureStates(t *testing.T) {
	ctx := context.Background()

	t.Run("loading", func(t *testing.T) {
		p := newPipeline(nil)
		p.ingest.loader = &staticLoader{err: domain.ErrSourceNotFound}

		report, err := p.ingest.Run(ctx)
		var pe *domain.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.StateLoading, pe.State)
		assert.Equal(t, domain.StateLoading, report.State)
		assert.Equal(t, domain.ErrCodeLoad, domain.ErrorCode(err))
		assert.Zero(t, p.embedder.callCount())
	})

	t.Run("chunking", func(t *testing.T) {
		p := newPipeline(franceDocs)
		p.ingest.cfg.Chunk = ChunkConfig{MaxChars: 0}

		_, err := p.ingest.Run(ctx)
		var pe *domain.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.StateChunking, pe.State)
		assert.ErrorIs(t, err, domain.ErrInvalidChunkConfig)
	})

	t.Run("embedding", func(t *testing.T) {
		p := newPipeline(franceDocs)
		p.embedder.err = errors.New("quota exceeded")

		_, err := p.ingest.Run(ctx)
		var pe *domain.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.StateEmbedding, pe.State)
		assert.Equal(t, domain.ErrCodeEmbedding, domain.ErrorCode(err))
		assert.Zero(t, p.store.createCalls, "index is not provisioned when embedding fails")
	})

	t.Run("embedding count mismatch", func(t *testing.T) {
		p := newPipeline(franceDocs)
		embedder := new(MockEmbeddingClient)
		embedder.On("Embed", mock.Anything, mock.Anything).Return([][]float32{make([]float32, testDim)}, nil)
		p.ingest.embedder = embedder

		_, err := p.ingest.Run(ctx)
		assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
		assert.Contains(t, err.Error(), "got 1 embeddings for 2 chunks")
	})

	t.Run("provisioning", func(t *testing.T) {
		p := newPipeline(franceDocs)
		require.NoError(t, p.store.CreateIndex(ctx, domain.IndexSpec{Name: "docs", Dimension: 8, Metric: domain.MetricCosine}))

		report, err := p.ingest.Run(ctx)
		var pe *domain.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.StateProvisioningIndex, pe.State)
		assert.ErrorIs(t, err, domain.ErrIndexMismatch)
		assert.Zero(t, report.Records)
	})

	t.Run("upserting", func(t *testing.T) {
		p := newPipeline(franceDocs)
		p.store.failBatch = 1

		report, err := p.ingest.Run(ctx)
		var pe *domain.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.StateUpserting, pe.State)
		assert.Equal(t, domain.ErrCodeUpsert, domain.ErrorCode(err))
		assert.Zero(t, report.Records)
	})
}

func TestIngest_RecordsRun(t *testing.T) {
	p := newPipeline(franceDocs)
	recorder := new(MockRunRecorder)
	p.ingest.WithRunRecorder(recorder)

	var states []domain.PipelineState
	recorder.On("Create", mock.Anything, mock.AnythingOfType("*domain.IngestRun")).Return(nil).Once()
	recorder.On("Update", mock.Anything, mock.AnythingOfType("*domain.IngestRun")).
		Run(func(args mock.Arguments) {
			states = append(states, args.Get(1).(*domain.IngestRun).State)
		}).Return(nil)

	report, err := p.ingest.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.PipelineState{
		domain.StateLoading,
		domain.StateChunking,
		domain.StateEmbedding,
		domain.StateProvisioningIndex,
		domain.StateUpserting,
		domain.StateDone,
	}, states)

	last := recorder.Calls[len(recorder.Calls)-1].Arguments.Get(1).(*domain.IngestRun)
	assert.Equal(t, report.RunID, last.ID)
	assert.Equal(t, "docs", last.IndexName)
	assert.Equal(t, "testdata", last.Source)
	assert.Equal(t, domain.IngestRunStatusSucceeded, last.Status)
	assert.Equal(t, 2, last.Records)
	assert.NotNil(t, last.FinishedAt)
	recorder.AssertExpectations(t)
}

func TestIngest_RecordsFailedRun(t *testing.T) {
	p := newPipeline(franceDocs)
	p.embedder.err = errors.New("quota exceeded")
	recorder := new(MockRunRecorder)
	p.ingest.WithRunRecorder(recorder)

	recorder.On("Create", mock.Anything, mock.Anything).Return(nil)
	recorder.On("Update", mock.Anything, mock.Anything).Return(nil)

	_, err := p.ingest.Run(context.Background())
	require.Error(t, err)

	last := recorder.Calls[len(recorder.Calls)-1].Arguments.Get(1).(*domain.IngestRun)
	assert.Equal(t, domain.IngestRunStatusFailed, last.Status)
	assert.Equal(t, domain.StateEmbedding, last.State)
	assert.True(t, strings.Contains(last.Error, "quota exceeded"))
}

func TestIngest_RecorderErrorsDoNotFailRun(t *testing.T) {
	p := newPipeline(franceDocs)
	recorder := new(MockRunRecorder)
	p.ingest.WithRunRecorder(recorder)

	recorder.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))
	recorder.On("Update", mock.Anything, mock.Anything).Return(errors.New("db down"))

	report, err := p.ingest.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 2, p.store.count("docs"))
}

func TestIngest_SkippedFilesReported(t *testing.T) {
	p := newPipeline(nil)
	p.ingest.loader = &staticLoader{
		docs:    franceDocs[:1],
		skipped: []domain.SkippedFile{{Path: "broken.pdf", Error: "not a PDF"}},
	}

	report, err := p.ingest.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, []domain.SkippedFile{{Path: "broken.pdf", Error: "not a PDF"}}, report.Skipped)
}

func testutilVector(text string) []float32 {
	v, _ := newHashEmbedder(testDim).EmbedOne(context.Background(), text)
	return v
}
