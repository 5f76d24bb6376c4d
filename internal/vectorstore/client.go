package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"compliance/backend/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

var ErrNotConfigured = errors.New("vector store url is not configured")

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("qdrant returned %d: %s", e.StatusCode, e.Body)
}

// DocumentPayload is the metadata stored alongside each vector. Field names
// match the corpus documents produced by ingestion.
type DocumentPayload struct {
	Title         string `json:"title"`
	Excerpt       string `json:"excerpt"`
	SourceURL     string `json:"source_url"`
	Standard      string `json:"standard"`
	ArticleNumber string `json:"article_number"`
}

type Match struct {
	Score   float64
	Payload DocumentPayload
}

type Point struct {
	ID      string
	Vector  []float64
	Payload DocumentPayload
}

type CollectionInfo struct {
	Status      string `json:"status"`
	PointsCount int64  `json:"points_count"`
}

// Client is a minimal REST client to Qdrant. Cosine distance is assumed;
// the collection is created on demand by EnsureCollection.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.QdrantURL), "/"),
		apiKey:     strings.TrimSpace(cfg.QdrantAPIKey),
		collection: cfg.QdrantCollection,
		httpClient: httpClient,
	}
}

func (c Client) Search(ctx context.Context, vector []float64, topK int, standard string) ([]Match, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if len(vector) == 0 {
		return nil, errors.New("search vector is empty")
	}
	if topK <= 0 {
		topK = 3
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if standard = strings.TrimSpace(standard); standard != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "standard", "match": map[string]any{"value": standard}},
			},
		}
	}

	var parsed struct {
		Result []struct {
			Score   float64         `json:"score"`
			Payload DocumentPayload `json:"payload"`
		} `json:"result"`
	}
	endpoint := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &parsed); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(parsed.Result))
	for _, item := range parsed.Result {
		matches = append(matches, Match{Score: item.Score, Payload: item.Payload})
	}
	return matches, nil
}

func (c Client) Upsert(ctx context.Context, points []Point) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	if len(points) == 0 {
		return nil
	}

	encoded := make([]map[string]any, len(points))
	for i, point := range points {
		encoded[i] = map[string]any{
			"id":      point.ID,
			"vector":  point.Vector,
			"payload": point.Payload,
		}
	}
	endpoint := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.doJSON(ctx, http.MethodPut, endpoint, map[string]any{"points": encoded}, nil)
}

func (c Client) EnsureCollection(ctx context.Context, dimension int) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	endpoint := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	return c.doJSON(ctx, http.MethodPut, endpoint, body, nil)
}

func (c Client) CollectionInfo(ctx context.Context) (CollectionInfo, error) {
	if c.baseURL == "" {
		return CollectionInfo{}, ErrNotConfigured
	}

	var parsed struct {
		Result CollectionInfo `json:"result"`
	}
	endpoint := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &parsed); err != nil {
		return CollectionInfo{}, err
	}
	return parsed.Result, nil
}

func (c Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build qdrant request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request qdrant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}
