package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"compliance/backend/internal/citation"
	"compliance/backend/internal/config"
	"compliance/backend/internal/vectorstore"
)

// ErrUnavailable marks embedding or vector-store failures. The orchestrator
// treats it as a degradation, never as a request failure.
var ErrUnavailable = errors.New("internal retrieval unavailable")

const maxExcerptRunes = 1200

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Store interface {
	Search(ctx context.Context, vector []float64, topK int, standard string) ([]vectorstore.Match, error)
}

type Options struct {
	TopK     int
	Standard string
}

// Retriever turns a natural-language query into ranked internal citations:
// embed, nearest-neighbor search, score floor, metadata mapping.
type Retriever struct {
	embedder    Embedder
	store       Store
	threshold   float64
	defaultTopK int
}

func NewRetriever(embedder Embedder, store Store, cfg config.Config) Retriever {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return Retriever{
		embedder:    embedder,
		store:       store,
		threshold:   cfg.ScoreThreshold,
		defaultTopK: topK,
	}
}

func (r Retriever) Search(ctx context.Context, query string, opts Options) ([]citation.Internal, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = r.defaultTopK
	}

	vector, err := r.embedder.Embed(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrUnavailable, err)
	}

	matches, err := r.store.Search(ctx, vector, topK, opts.Standard)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrUnavailable, err)
	}

	citations := make([]citation.Internal, 0, len(matches))
	for _, match := range matches {
		if match.Score < r.threshold {
			continue
		}
		citations = append(citations, normalizeMatch(match))
	}

	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].Score > citations[j].Score
	})

	log.Printf("retrieval completed: query_chars=%d matches=%d retained=%d threshold=%.2f",
		len([]rune(trimmed)), len(matches), len(citations), r.threshold)

	return citations, nil
}

// normalizeMatch maps stored metadata into the citation shape, defaulting
// missing fields instead of propagating blanks.
func normalizeMatch(match vectorstore.Match) citation.Internal {
	payload := match.Payload
	return citation.Internal{
		Title:         fallback(payload.Title, "N/A"),
		Excerpt:       citation.TrimToRunes(fallback(payload.Excerpt, "No excerpt available."), maxExcerptRunes),
		SourceURL:     fallback(payload.SourceURL, "N/A"),
		Standard:      fallback(payload.Standard, "unknown"),
		ArticleNumber: fallback(payload.ArticleNumber, "N/A"),
		Score:         match.Score,
	}
}

func fallback(value, other string) string {
	if strings.TrimSpace(value) == "" {
		return other
	}
	return strings.TrimSpace(value)
}
