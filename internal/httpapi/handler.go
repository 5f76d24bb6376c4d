package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"compliance/backend/internal/citation"
	"compliance/backend/internal/config"
	"compliance/backend/internal/orchestrator"
	"compliance/backend/internal/vectorstore"
)

const serviceVersion = "0.1.0"

const collectionProbeTimeout = 3 * time.Second

type Pipeline interface {
	Run(ctx context.Context, req orchestrator.Request, onProgress func(orchestrator.Progress)) (citation.Envelope, error)
}

// CollectionInspector exposes vector-collection health for the debug
// endpoint. May be nil when retrieval is not configured.
type CollectionInspector interface {
	CollectionInfo(ctx context.Context) (vectorstore.CollectionInfo, error)
}

type Handler struct {
	cfg        config.Config
	pipeline   Pipeline
	status     *orchestrator.Status
	collection CollectionInspector
}

func NewHandler(cfg config.Config, pipeline Pipeline, status *orchestrator.Status, collection CollectionInspector) Handler {
	return Handler{cfg: cfg, pipeline: pipeline, status: status, collection: collection}
}

func (h Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "compliance-assistant-backend",
		"version": serviceVersion,
		"endpoints": map[string]string{
			"query":  "POST /query",
			"chat":   "POST /chat (SSE)",
			"health": "GET /health",
			"debug":  "GET /debug",
		},
	})
}

func (h Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": serviceVersion,
		"adapters": map[string]bool{
			"internal_retrieval":    h.cfg.EnableRAG && h.cfg.RetrievalConfigured(),
			"external_intelligence": h.cfg.EnableSonar && h.cfg.SonarConfigured(),
			"hints":                 h.cfg.EnableHints,
		},
	})
}

func (h Handler) Debug(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"environment": h.cfg.Environment,
		"adapters":    h.status.Snapshot(),
		"keys": map[string]bool{
			"embedding_api_key":  h.cfg.EmbeddingAPIKey != "",
			"qdrant_api_key":     h.cfg.QdrantAPIKey != "",
			"perplexity_api_key": h.cfg.PerplexityAPIKey != "",
		},
		"features": map[string]bool{
			"rag":   h.cfg.EnableRAG,
			"sonar": h.cfg.EnableSonar,
			"hints": h.cfg.EnableHints,
		},
	}

	if h.collection != nil {
		probeCtx, cancel := context.WithTimeout(r.Context(), collectionProbeTimeout)
		defer cancel()
		info, err := h.collection.CollectionInfo(probeCtx)
		if err != nil {
			resp["collection"] = map[string]string{"error": err.Error()}
		} else {
			resp["collection"] = info
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type queryRequest struct {
	Text     string `json:"text"`
	Standard string `json:"standard"`
	UseRAG   *bool  `json:"use_rag"`
	UseSonar *bool  `json:"use_sonar"`
	UseHints *bool  `json:"use_hints"`
}

func (h Handler) resolveRequest(req queryRequest) orchestrator.Request {
	return orchestrator.Request{
		Text:     req.Text,
		Standard: strings.TrimSpace(req.Standard),
		UseRAG:   flagOrDefault(req.UseRAG, h.cfg.EnableRAG),
		UseSonar: flagOrDefault(req.UseSonar, h.cfg.EnableSonar),
		UseHints: flagOrDefault(req.UseHints, h.cfg.EnableHints),
	}
}

func (h Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	envelope, err := h.pipeline.Run(r.Context(), h.resolveRequest(req), nil)
	if errors.Is(err, orchestrator.ErrInvalidQuery) {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "query processing failed")
		return
	}

	writeJSON(w, http.StatusOK, envelope)
}

func (h Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	resolved := h.resolveRequest(req)

	writeSSEEvent(w, flusher, map[string]any{
		"type":      "metadata",
		"query":     strings.TrimSpace(resolved.Text),
		"use_rag":   resolved.UseRAG,
		"use_sonar": resolved.UseSonar,
		"use_hints": resolved.UseHints,
	})

	envelope, err := h.pipeline.Run(r.Context(), resolved, func(p orchestrator.Progress) {
		if p.Degraded {
			writeSSEEvent(w, flusher, map[string]any{
				"type":    "warning",
				"stage":   p.Stage,
				"message": p.Message,
			})
			return
		}
		event := map[string]any{
			"type":  "stage",
			"stage": p.Stage,
			"count": p.Count,
		}
		switch p.Stage {
		case orchestrator.StageInternal:
			event["internal_citations"] = p.Internal
		case orchestrator.StageExternal:
			event["external_citations"] = p.External
		case orchestrator.StageHints:
			event["hints"] = p.Hints
		}
		writeSSEEvent(w, flusher, event)
	})
	if err != nil {
		writeSSEEvent(w, flusher, map[string]any{
			"type":    "warning",
			"stage":   "pipeline",
			"message": err.Error(),
		})
		envelope = citation.NewEnvelope(strings.TrimSpace(resolved.Text), nil, nil, nil)
	}

	// The terminal event is the response clients rely on. Exactly one,
	// always last, even when every stage degraded.
	writeSSEEvent(w, flusher, map[string]any{
		"type":     "done",
		"response": envelope,
	})
}

func flagOrDefault(flag *bool, fallback bool) bool {
	if flag == nil {
		return fallback
	}
	return *flag
}
