package sonar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"compliance/backend/internal/citation"
	"compliance/backend/internal/config"
)

const (
	maxErrorBodyBytes = 8 * 1024
	maxStubTitleRunes = 50

	systemPrompt = "You are a helpful assistant that finds compliance documents and citations from the web. " +
		"Focus on SEC, GDPR, SOX, and other regulatory compliance information."
	queryEnhancement = " SEC GDPR SOX compliance regulations legal requirements"
)

// ErrUnavailable marks any failure of the external provider: network, auth,
// timeout, or a non-2xx response. No automatic retry.
var (
	ErrMissingAPIKey = errors.New("perplexity api key is not configured")
	ErrUnavailable   = errors.New("external intelligence unavailable")
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s\]\)]+`)

	// Regulatory references mentioned in prose, used to synthesize stub
	// citations when the provider gives no usable references. Best effort.
	referencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)SEC[- ]?\d+[- ]?\d*`),
		regexp.MustCompile(`(?i)GDPR[- ]?Article[- ]?\d+`),
		regexp.MustCompile(`(?i)SOX[- ]?Section[- ]?\d+`),
		regexp.MustCompile(`(?i)Regulation[- ]?[A-Z]+`),
	}
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("perplexity returned %d: %s", e.StatusCode, e.Body)
}

// Analysis is what one provider round trip yields: the narrative answer and
// the references extracted from it.
type Analysis struct {
	Answer    string
	Citations []citation.External
}

type Client struct {
	apiKey       string
	baseURL      string
	model        string
	maxCitations int
	httpClient   *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatAPIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatAPIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		Title string  `json:"title"`
		URL   string  `json:"url"`
		Date  *string `json:"date"`
	} `json:"search_results"`
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	maxCitations := cfg.MaxExternalCitations
	if maxCitations <= 0 {
		maxCitations = 5
	}
	return Client{
		apiKey:       strings.TrimSpace(cfg.PerplexityAPIKey),
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.PerplexityBaseURL), "/"),
		model:        cfg.SonarModel,
		maxCitations: maxCitations,
		httpClient:   httpClient,
	}
}

// Analyze sends the query to the provider and normalizes whatever references
// come back. The query is enhanced with a compliance-focused suffix so
// general questions still surface regulatory sources.
func (c Client) Analyze(ctx context.Context, query string) (Analysis, error) {
	if c.apiKey == "" {
		return Analysis{}, fmt.Errorf("%w: %v", ErrUnavailable, ErrMissingAPIKey)
	}
	trimmedQuery := strings.TrimSpace(query)
	if trimmedQuery == "" {
		return Analysis{}, nil
	}

	payload, err := json.Marshal(chatAPIRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: trimmedQuery + queryEnhancement},
		},
		Stream: false,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("encode perplexity request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Analysis{}, fmt.Errorf("build perplexity request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: request perplexity: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Analysis{}, fmt.Errorf("%w: %v", ErrUnavailable, APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		})
	}

	var parsed chatAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Analysis{}, fmt.Errorf("%w: decode perplexity response: %v", ErrUnavailable, err)
	}

	answer := ""
	if len(parsed.Choices) > 0 {
		answer = strings.TrimSpace(parsed.Choices[0].Message.Content)
	}

	return Analysis{
		Answer:    answer,
		Citations: c.extractCitations(parsed, answer),
	}, nil
}

// extractCitations normalizes provider references in priority order:
// structured search results, bare citation URLs, URLs embedded in the
// answer text, then synthesized regulatory-reference stubs.
func (c Client) extractCitations(parsed chatAPIResponse, answer string) []citation.External {
	citations := make([]citation.External, 0, c.maxCitations)

	switch {
	case len(parsed.SearchResults) > 0:
		for _, result := range parsed.SearchResults {
			title := strings.TrimSpace(result.Title)
			if title == "" {
				title = "Untitled Citation"
			}
			citations = append(citations, citation.External{
				Title: title,
				URL:   strings.TrimSpace(result.URL),
				Date:  result.Date,
				Type:  citation.Classify(title, result.URL),
			})
		}
	case len(parsed.Citations) > 0:
		for _, rawURL := range parsed.Citations {
			citations = append(citations, stubFromURL(rawURL))
		}
	case strings.Contains(answer, "http"):
		for _, rawURL := range urlPattern.FindAllString(answer, c.maxCitations) {
			citations = append(citations, stubFromURL(rawURL))
		}
	}

	citations = appendReferenceStubs(citations, answer)

	citations = citation.DedupeExternal(citations)
	if len(citations) > c.maxCitations {
		citations = citations[:c.maxCitations]
	}
	return citations
}

func stubFromURL(rawURL string) citation.External {
	trimmed := strings.TrimSpace(rawURL)
	return citation.External{
		Title: "Link from Perplexity: " + citation.TrimToRunes(trimmed, maxStubTitleRunes),
		URL:   trimmed,
		Date:  nil,
		Type:  citation.Classify("", trimmed),
	}
}

func appendReferenceStubs(citations []citation.External, answer string) []citation.External {
	for _, pattern := range referencePatterns {
		for _, match := range pattern.FindAllString(answer, -1) {
			if hasReference(citations, match) {
				continue
			}
			citations = append(citations, citation.External{
				Title: "Regulatory Reference: " + match,
				URL:   "https://www.sec.gov/search?query=" + strings.ReplaceAll(match, " ", "+"),
				Date:  nil,
				Type:  "Regulatory Reference",
			})
		}
	}
	return citations
}

func hasReference(citations []citation.External, match string) bool {
	matchLower := strings.ToLower(match)
	for _, cite := range citations {
		if strings.Contains(strings.ToLower(cite.Title), matchLower) {
			return true
		}
	}
	return false
}
