package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                 = "8000"
	defaultQdrantCollection     = "internal-knowledge-base"
	defaultEmbeddingBaseURL     = "https://api.openai.com/v1"
	defaultEmbeddingModel       = "text-embedding-3-small"
	defaultPerplexityBaseURL    = "https://api.perplexity.ai"
	defaultSonarModel           = "sonar"
	defaultScoreThreshold       = 0.4
	defaultTopK                 = 3
	defaultMaxExternalCitations = 5
	defaultRetrievalTimeoutSecs = 10
	defaultSonarTimeoutSecs     = 30
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string

	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingModel   string

	PerplexityAPIKey  string
	PerplexityBaseURL string
	SonarModel        string

	EnableRAG   bool
	EnableSonar bool
	EnableHints bool

	ScoreThreshold       float64
	TopK                 int
	MaxExternalCitations int
	RetrievalTimeout     time.Duration
	SonarTimeout         time.Duration

	HintRulesFile string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// RetrievalConfigured reports whether the internal retrieval path has the
// collaborators it needs. A missing key degrades the adapter at request time
// instead of failing startup.
func (c Config) RetrievalConfigured() bool {
	return c.QdrantURL != "" && c.EmbeddingAPIKey != ""
}

func (c Config) SonarConfigured() bool {
	return c.PerplexityAPIKey != ""
}

func Load() (Config, error) {
	cfg := Config{
		Port:                 envOrDefault("PORT", defaultPort),
		Environment:          envOrDefault("APP_ENV", "development"),
		QdrantURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("QDRANT_URL")), "/"),
		QdrantAPIKey:         strings.TrimSpace(os.Getenv("QDRANT_API_KEY")),
		QdrantCollection:     envOrDefault("QDRANT_COLLECTION", defaultQdrantCollection),
		EmbeddingBaseURL:     strings.TrimRight(envOrDefault("EMBEDDING_BASE_URL", defaultEmbeddingBaseURL), "/"),
		EmbeddingAPIKey:      strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")),
		EmbeddingModel:       envOrDefault("EMBEDDING_MODEL", defaultEmbeddingModel),
		PerplexityAPIKey:     strings.TrimSpace(os.Getenv("PERPLEXITY_API_KEY")),
		PerplexityBaseURL:    strings.TrimRight(envOrDefault("PERPLEXITY_BASE_URL", defaultPerplexityBaseURL), "/"),
		SonarModel:           envOrDefault("SONAR_MODEL", defaultSonarModel),
		EnableRAG:            boolOrDefault("ENABLE_RAG", true),
		EnableSonar:          boolOrDefault("ENABLE_SONAR", true),
		EnableHints:          boolOrDefault("ENABLE_HINTS", true),
		ScoreThreshold:       floatOrDefault("SCORE_THRESHOLD", defaultScoreThreshold),
		TopK:                 intOrDefault("RETRIEVAL_TOP_K", defaultTopK),
		MaxExternalCitations: intOrDefault("MAX_EXTERNAL_CITATIONS", defaultMaxExternalCitations),
		HintRulesFile:        strings.TrimSpace(os.Getenv("HINT_RULES_FILE")),
	}

	retrievalTimeoutSecs := intOrDefault("RETRIEVAL_TIMEOUT_SECONDS", defaultRetrievalTimeoutSecs)
	sonarTimeoutSecs := intOrDefault("SONAR_TIMEOUT_SECONDS", defaultSonarTimeoutSecs)
	cfg.RetrievalTimeout = time.Duration(retrievalTimeoutSecs) * time.Second
	cfg.SonarTimeout = time.Duration(sonarTimeoutSecs) * time.Second

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.ScoreThreshold < 0 || cfg.ScoreThreshold > 1 {
		return Config{}, errors.New("SCORE_THRESHOLD must be in [0,1]")
	}
	if cfg.TopK <= 0 {
		return Config{}, errors.New("RETRIEVAL_TOP_K must be > 0")
	}
	if cfg.MaxExternalCitations <= 0 {
		return Config{}, errors.New("MAX_EXTERNAL_CITATIONS must be > 0")
	}
	if cfg.RetrievalTimeout <= 0 || cfg.SonarTimeout <= 0 {
		return Config{}, errors.New("adapter timeouts must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatOrDefault(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
