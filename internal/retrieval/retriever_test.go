package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance/backend/internal/config"
	"compliance/backend/internal/vectorstore"
)

type embedderStub struct {
	vector []float64
	err    error
	calls  int
}

func (e *embedderStub) Embed(_ context.Context, _ string) ([]float64, error) {
	e.calls++
	return e.vector, e.err
}

type storeStub struct {
	matches []vectorstore.Match
	err     error
	calls   int

	lastTopK     int
	lastStandard string
}

func (s *storeStub) Search(_ context.Context, _ []float64, topK int, standard string) ([]vectorstore.Match, error) {
	s.calls++
	s.lastTopK = topK
	s.lastStandard = standard
	return s.matches, s.err
}

func testConfig() config.Config {
	return config.Config{ScoreThreshold: 0.4, TopK: 3}
}

func TestSearchFiltersBelowThresholdAndSortsByScore(t *testing.T) {
	store := &storeStub{matches: []vectorstore.Match{
		{Score: 0.62, Payload: vectorstore.DocumentPayload{Title: "GDPR Article 34", Standard: "gdpr", ArticleNumber: "34"}},
		{Score: 0.31, Payload: vectorstore.DocumentPayload{Title: "Weak match", Standard: "gdpr", ArticleNumber: "12"}},
		{Score: 0.88, Payload: vectorstore.DocumentPayload{Title: "GDPR Article 33", Standard: "gdpr", ArticleNumber: "33"}},
	}}
	retriever := NewRetriever(&embedderStub{vector: []float64{0.1}}, store, testConfig())

	citations, err := retriever.Search(context.Background(), "What are the GDPR requirements for data breach notification?", Options{})
	require.NoError(t, err)

	require.Len(t, citations, 2)
	assert.Equal(t, "33", citations[0].ArticleNumber)
	assert.Equal(t, "34", citations[1].ArticleNumber)
	for _, cite := range citations {
		assert.GreaterOrEqual(t, cite.Score, 0.4)
		assert.Equal(t, "gdpr", cite.Standard)
	}
}

func TestSearchDefaultsMissingMetadata(t *testing.T) {
	store := &storeStub{matches: []vectorstore.Match{{Score: 0.9}}}
	retriever := NewRetriever(&embedderStub{vector: []float64{0.1}}, store, testConfig())

	citations, err := retriever.Search(context.Background(), "query", Options{})
	require.NoError(t, err)
	require.Len(t, citations, 1)

	assert.Equal(t, "N/A", citations[0].Title)
	assert.Equal(t, "No excerpt available.", citations[0].Excerpt)
	assert.Equal(t, "unknown", citations[0].Standard)
	assert.Equal(t, "N/A", citations[0].ArticleNumber)
}

func TestSearchEmptyQuerySkipsCollaborators(t *testing.T) {
	embedder := &embedderStub{vector: []float64{0.1}}
	store := &storeStub{}
	retriever := NewRetriever(embedder, store, testConfig())

	citations, err := retriever.Search(context.Background(), "   ", Options{})
	require.NoError(t, err)
	assert.Empty(t, citations)
	assert.Zero(t, embedder.calls)
	assert.Zero(t, store.calls)
}

func TestSearchWrapsEmbedderFailure(t *testing.T) {
	retriever := NewRetriever(&embedderStub{err: errors.New("connection refused")}, &storeStub{}, testConfig())

	_, err := retriever.Search(context.Background(), "query", Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSearchWrapsStoreFailure(t *testing.T) {
	store := &storeStub{err: errors.New("qdrant returned 503")}
	retriever := NewRetriever(&embedderStub{vector: []float64{0.1}}, store, testConfig())

	_, err := retriever.Search(context.Background(), "query", Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSearchPassesOptionsThrough(t *testing.T) {
	store := &storeStub{}
	retriever := NewRetriever(&embedderStub{vector: []float64{0.1}}, store, testConfig())

	_, err := retriever.Search(context.Background(), "query", Options{TopK: 5, Standard: "sox"})
	require.NoError(t, err)
	assert.Equal(t, 5, store.lastTopK)
	assert.Equal(t, "sox", store.lastStandard)

	_, err = retriever.Search(context.Background(), "query", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, store.lastTopK)
}

func TestSearchNoMatchesAboveThresholdIsNotAnError(t *testing.T) {
	store := &storeStub{matches: []vectorstore.Match{{Score: 0.1}, {Score: 0.2}}}
	retriever := NewRetriever(&embedderStub{vector: []float64{0.1}}, store, testConfig())

	citations, err := retriever.Search(context.Background(), "query", Options{})
	require.NoError(t, err)
	assert.Empty(t, citations)
}
