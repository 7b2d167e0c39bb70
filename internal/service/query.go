package service

import (
	"context"
	"log"
	"strings"

	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/cloo-solutions/ragdesk/internal/telemetry"
)

// NoMatchAnswer is returned when the index holds nothing similar to the question.
const NoMatchAnswer = "No relevant information found."

// DefaultTopK is the number of matches retrieved per question.
const DefaultTopK = 10

// Source identifies a chunk an answer was built from.
type Source struct {
	ID         string  `json:"id"`
	SourcePath string  `json:"source_path"`
	Score      float32 `json:"score"`
}

// QueryResult is the outcome of the query pipeline.
type QueryResult struct {
	Answer  string
	Found   bool
	State   domain.PipelineState
	Sources []Source
}

// QueryService runs the query pipeline:
// VALIDATING_INPUT, EMBEDDING_QUERY, SEARCHING, SYNTHESIZING, DONE.
type QueryService struct {
	embedder    EmbeddingClient
	index       *IndexService
	synthesizer *AnswerSynthesizer
	indexName   string
	topK        int
}

func NewQueryService(embedder EmbeddingClient, index *IndexService, synthesizer *AnswerSynthesizer, indexName string, topK int) *QueryService {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &QueryService{
		embedder:    embedder,
		index:       index,
		synthesizer: synthesizer,
		indexName:   indexName,
		topK:        topK,
	}
}

// Ask answers question from the index. On failure the returned error is a
// *domain.PipelineError naming the state that failed.
func (s *QueryService) Ask(ctx context.Context, question string) (*QueryResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "QueryService.Ask", telemetry.SpanAttributes{
		IndexName: s.indexName,
		Operation: "query",
	})
	defer span.End()

	fail := func(state domain.PipelineState, err error) (*QueryResult, error) {
		span.SetError(err)
		return nil, &domain.PipelineError{Pipeline: "query", State: state, Err: err}
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return fail(domain.StateValidatingInput, domain.ErrEmptyQuery)
	}

	stageCtx, stage := telemetry.StartStage(ctx, "query", string(domain.StateEmbeddingQuery), telemetry.SpanAttributes{IndexName: s.indexName})
	vector, err := s.embedder.EmbedOne(stageCtx, strings.ReplaceAll(question, "\n", " "))
	stage.End()
	if err != nil {
		return fail(domain.StateEmbeddingQuery, domain.ErrEmbeddingFailed.WithCause(err))
	}

	stageCtx, stage = telemetry.StartStage(ctx, "query", string(domain.StateSearching), telemetry.SpanAttributes{IndexName: s.indexName})
	matches, err := s.index.Query(stageCtx, s.indexName, vector, s.topK)
	stage.End()
	if err != nil {
		return fail(domain.StateSearching, err)
	}

	if len(matches) == 0 {
		log.Printf("query: no matches in %q", s.indexName)
		return &QueryResult{
			Answer:  NoMatchAnswer,
			Found:   false,
			State:   domain.StateDone,
			Sources: []Source{},
		}, nil
	}

	stageCtx, stage = telemetry.StartStage(ctx, "query", string(domain.StateSynthesizing), telemetry.SpanAttributes{
		IndexName: s.indexName,
		Count:     len(matches),
	})
	answer, err := s.synthesizer.Answer(stageCtx, question, matches)
	stage.End()
	if err != nil {
		return fail(domain.StateSynthesizing, err)
	}

	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = Source{ID: m.ID, SourcePath: m.Metadata.SourcePath, Score: m.Score}
	}

	return &QueryResult{
		Answer:  answer,
		Found:   true,
		State:   domain.StateDone,
		Sources: sources,
	}, nil
}
