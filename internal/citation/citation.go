package citation

import (
	"strings"
	"unicode/utf8"
)

// Internal is a reference into the organization's own regulatory corpus.
// Constructed once by the retrieval adapter and never mutated afterwards.
type Internal struct {
	Title         string  `json:"title"`
	Excerpt       string  `json:"excerpt"`
	SourceURL     string  `json:"source_url"`
	Standard      string  `json:"standard"`
	ArticleNumber string  `json:"article_number"`
	Score         float64 `json:"score"`
}

// External is a reference surfaced by the external search provider.
type External struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Date  *string `json:"date"`
	Type  string  `json:"type"`
}

type Hint struct {
	BasicHints   []string `json:"basic_hints"`
	NextStepHint string   `json:"next_step_hint"`
	Query        string   `json:"query"`
}

type Summary struct {
	InternalCount  int `json:"internal_count"`
	ExternalCount  int `json:"external_count"`
	TotalCitations int `json:"total_citations"`
}

// Envelope is the complete response for one query. Summary counts are
// derived from the citation slices here and nowhere else.
type Envelope struct {
	Query             string     `json:"query"`
	InternalCitations []Internal `json:"internal_citations"`
	ExternalCitations []External `json:"external_citations"`
	Hints             *Hint      `json:"hints"`
	Summary           Summary    `json:"summary"`
}

func NewEnvelope(query string, internal []Internal, external []External, hints *Hint) Envelope {
	if internal == nil {
		internal = []Internal{}
	}
	if external == nil {
		external = []External{}
	}
	return Envelope{
		Query:             query,
		InternalCitations: internal,
		ExternalCitations: external,
		Hints:             hints,
		Summary: Summary{
			InternalCount:  len(internal),
			ExternalCount:  len(external),
			TotalCitations: len(internal) + len(external),
		},
	}
}

// Classify buckets an external reference by title/url keywords. Simple
// substring matching, same priority order the providers are scanned in.
func Classify(title, rawURL string) string {
	titleLower := strings.ToLower(title)
	urlLower := strings.ToLower(rawURL)

	switch {
	case containsAny(titleLower, "sec", "securities", "exchange"):
		return "SEC"
	case containsAny(titleLower, "gdpr", "general data protection"):
		return "GDPR"
	case containsAny(titleLower, "sox", "sarbanes", "oxley"):
		return "SOX"
	case strings.Contains(urlLower, "sec.gov"):
		return "SEC"
	case strings.Contains(urlLower, "europa.eu"):
		return "GDPR"
	case containsAny(titleLower, "regulation", "compliance", "legal"):
		return "Compliance"
	default:
		return "External Citation"
	}
}

// DedupeExternal keeps the first citation per URL, dropping records
// without a usable URL instead of failing.
func DedupeExternal(citations []External) []External {
	if len(citations) == 0 {
		return citations
	}
	seen := make(map[string]struct{}, len(citations))
	out := make([]External, 0, len(citations))
	for _, cite := range citations {
		rawURL := strings.TrimSpace(cite.URL)
		if rawURL == "" {
			continue
		}
		if _, ok := seen[rawURL]; ok {
			continue
		}
		seen[rawURL] = struct{}{}
		out = append(out, cite)
	}
	return out
}

func TrimToRunes(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
