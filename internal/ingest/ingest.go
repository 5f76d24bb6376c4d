package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"rsc.io/pdf"

	"compliance/backend/internal/citation"
	"compliance/backend/internal/vectorstore"
)

const (
	maxExcerptRunes       = 500
	maxExtractedTextRunes = 200_000
	upsertBatchSize       = 100
)

// Document is one corpus entry before embedding. JSON document sets carry
// these fields directly; plain-text and PDF files are wrapped into one.
type Document struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	Standard      string `json:"standard"`
	ArticleNumber string `json:"article_number"`
	URL           string `json:"url"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Store interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []vectorstore.Point) error
}

// Result summarizes one ingestion run.
type Result struct {
	Embedded int
	Skipped  int
}

type Ingester struct {
	embedder Embedder
	store    Store
}

func NewIngester(embedder Embedder, store Store) Ingester {
	return Ingester{embedder: embedder, store: store}
}

// LoadDirectory reads every supported corpus file in dir. JSON files may hold
// a single document or an array; text, markdown, and PDF files become one
// document each with the standard inferred from their content. Unreadable
// files are logged and skipped.
func LoadDirectory(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus directory: %w", err)
	}

	var documents []Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		loaded, err := loadFile(path)
		if err != nil {
			log.Printf("ingest skipping file: path=%s err=%v", path, err)
			continue
		}
		documents = append(documents, loaded...)
	}

	log.Printf("ingest corpus loaded: dir=%s documents=%d", dir, len(documents))
	return documents, nil
}

func loadFile(path string) ([]Document, error) {
	extension := strings.ToLower(filepath.Ext(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch extension {
	case ".json":
		return decodeDocuments(data)
	case ".txt", ".md":
		return documentFromText(path, normalizeText(string(data))), nil
	case ".pdf":
		text, err := extractPDFText(data)
		if err != nil {
			return nil, fmt.Errorf("extract pdf text: %w", err)
		}
		return documentFromText(path, normalizeText(text)), nil
	default:
		return nil, fmt.Errorf("unsupported corpus file type %q", extension)
	}
}

func decodeDocuments(data []byte) ([]Document, error) {
	var documents []Document
	if err := json.Unmarshal(data, &documents); err == nil {
		return documents, nil
	}
	var single Document
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decode document set: %w", err)
	}
	return []Document{single}, nil
}

func documentFromText(path, text string) []Document {
	if text == "" {
		return nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return []Document{{
		Title:    name,
		Content:  text,
		Standard: inferStandard(name + " " + text),
	}}
}

// Run embeds and upserts the documents. Documents without a title or content
// are skipped, as are ones whose embedding fails; an upsert failure aborts
// the run since the collection would be left partially written anyway.
func (i Ingester) Run(ctx context.Context, docs []Document) (Result, error) {
	var result Result
	var batch []vectorstore.Point
	collectionReady := false

	for _, doc := range docs {
		title := strings.TrimSpace(doc.Title)
		content := strings.TrimSpace(doc.Content)
		if title == "" || content == "" {
			result.Skipped++
			continue
		}

		vector, err := i.embedder.Embed(ctx, title+"\n\n"+content)
		if err != nil {
			log.Printf("ingest embedding failed: title=%q err=%v", title, err)
			result.Skipped++
			continue
		}

		if !collectionReady {
			if err := i.store.EnsureCollection(ctx, len(vector)); err != nil {
				return result, fmt.Errorf("ensure collection: %w", err)
			}
			collectionReady = true
		}

		batch = append(batch, vectorstore.Point{
			ID:     uuid.NewString(),
			Vector: vector,
			Payload: vectorstore.DocumentPayload{
				Title:         title,
				Excerpt:       excerpt(content),
				SourceURL:     strings.TrimSpace(doc.URL),
				Standard:      strings.ToLower(strings.TrimSpace(doc.Standard)),
				ArticleNumber: strings.TrimSpace(doc.ArticleNumber),
			},
		})
		result.Embedded++

		if len(batch) >= upsertBatchSize {
			if err := i.store.Upsert(ctx, batch); err != nil {
				return result, fmt.Errorf("upsert batch: %w", err)
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := i.store.Upsert(ctx, batch); err != nil {
			return result, fmt.Errorf("upsert batch: %w", err)
		}
	}

	log.Printf("ingest run complete: embedded=%d skipped=%d", result.Embedded, result.Skipped)
	return result, nil
}

func excerpt(content string) string {
	if utf8.RuneCountInString(content) <= maxExcerptRunes {
		return content
	}
	return citation.TrimToRunes(content, maxExcerptRunes) + "..."
}

func inferStandard(text string) string {
	textLower := strings.ToLower(text)
	switch {
	case strings.Contains(textLower, "gdpr") || strings.Contains(textLower, "data protection"):
		return "gdpr"
	case strings.Contains(textLower, "sox") || strings.Contains(textLower, "sarbanes"):
		return "sox"
	case strings.Contains(textLower, "sec ") || strings.Contains(textLower, "securities"):
		return "sec"
	default:
		return "unknown"
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	runeCount := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		for _, item := range page.Content().Text {
			chunk := strings.TrimSpace(item.S)
			if chunk == "" {
				continue
			}
			if textBuilder.Len() > 0 {
				textBuilder.WriteByte('\n')
				runeCount++
			}
			textBuilder.WriteString(chunk)
			runeCount += utf8.RuneCountInString(chunk)
			if runeCount >= maxExtractedTextRunes {
				return citation.TrimToRunes(textBuilder.String(), maxExtractedTextRunes), nil
			}
		}
	}

	return textBuilder.String(), nil
}

func normalizeText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ToValidUTF8(normalized, "")
	return strings.TrimSpace(normalized)
}
