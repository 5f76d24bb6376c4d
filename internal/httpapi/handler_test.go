package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"compliance/backend/internal/citation"
	"compliance/backend/internal/config"
	"compliance/backend/internal/orchestrator"
	"compliance/backend/internal/vectorstore"
)

type pipelineStub struct {
	envelope citation.Envelope
	err      error
	progress []orchestrator.Progress

	calls   int
	lastReq orchestrator.Request
}

func (p *pipelineStub) Run(_ context.Context, req orchestrator.Request, onProgress func(orchestrator.Progress)) (citation.Envelope, error) {
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return citation.Envelope{}, p.err
	}
	if onProgress != nil {
		for _, event := range p.progress {
			onProgress(event)
		}
	}
	return p.envelope, nil
}

type inspectorStub struct {
	info vectorstore.CollectionInfo
	err  error
}

func (i inspectorStub) CollectionInfo(_ context.Context) (vectorstore.CollectionInfo, error) {
	return i.info, i.err
}

func testConfig() config.Config {
	return config.Config{
		Port:             "8000",
		Environment:      "test",
		AllowedOrigins:   []string{"http://localhost:5173"},
		QdrantURL:        "http://localhost:6333",
		EmbeddingAPIKey:  "embed-key",
		PerplexityAPIKey: "sonar-key",
		EnableRAG:        true,
		EnableSonar:      true,
		EnableHints:      true,
		ScoreThreshold:   0.4,
		TopK:             3,
		RetrievalTimeout: time.Second,
		SonarTimeout:     time.Second,
	}
}

func newTestHandler(pipeline Pipeline, collection CollectionInspector) Handler {
	cfg := testConfig()
	return NewHandler(cfg, pipeline, orchestrator.NewStatus(true, true), collection)
}

func decodeJSONBody(t *testing.T, resp *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func sampleEnvelope() citation.Envelope {
	hint := citation.Hint{
		BasicHints:   []string{"Create 72-hour notification templates"},
		NextStepHint: "Draft a breach response plan.",
		Query:        "gdpr breach",
	}
	return citation.NewEnvelope("gdpr breach",
		[]citation.Internal{{Title: "GDPR Article 33", Standard: "gdpr", ArticleNumber: "33", Score: 0.88}},
		[]citation.External{{Title: "GDPR portal", URL: "https://gdpr-info.eu/", Type: "GDPR"}},
		&hint)
}

func TestQueryReturnsEnvelope(t *testing.T) {
	pipeline := &pipelineStub{envelope: sampleEnvelope()}
	handler := newTestHandler(pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"text":"gdpr breach"}`))
	resp := httptest.NewRecorder()

	handler.Query(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	var envelope citation.Envelope
	decodeJSONBody(t, resp, &envelope)
	if envelope.Summary.TotalCitations != 2 {
		t.Fatalf("unexpected summary: %+v", envelope.Summary)
	}
	if len(envelope.InternalCitations) != 1 || envelope.InternalCitations[0].ArticleNumber != "33" {
		t.Fatalf("unexpected internal citations: %+v", envelope.InternalCitations)
	}
}

func TestQueryBlankTextIsBadRequest(t *testing.T) {
	pipeline := &pipelineStub{err: orchestrator.ErrInvalidQuery}
	handler := newTestHandler(pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"text":"   "}`))
	resp := httptest.NewRecorder()

	handler.Query(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	var body errorResponse
	decodeJSONBody(t, resp, &body)
	if body.Error.Code != "invalid_request" {
		t.Fatalf("unexpected error code: %q", body.Error.Code)
	}
}

func TestQueryRejectsUnknownFields(t *testing.T) {
	pipeline := &pipelineStub{}
	handler := newTestHandler(pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"text":"q","bogus":true}`))
	resp := httptest.NewRecorder()

	handler.Query(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	if pipeline.calls != 0 {
		t.Fatalf("pipeline must not run on a malformed request, ran %d times", pipeline.calls)
	}
}

func TestQueryFlagsDefaultFromConfigAndOverride(t *testing.T) {
	pipeline := &pipelineStub{envelope: citation.NewEnvelope("q", nil, nil, nil)}
	handler := newTestHandler(pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"text":"q"}`))
	handler.Query(httptest.NewRecorder(), req)
	if !pipeline.lastReq.UseRAG || !pipeline.lastReq.UseSonar || !pipeline.lastReq.UseHints {
		t.Fatalf("expected config defaults, got %+v", pipeline.lastReq)
	}

	req = httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"text":"q","use_sonar":false,"use_hints":false}`))
	handler.Query(httptest.NewRecorder(), req)
	if !pipeline.lastReq.UseRAG || pipeline.lastReq.UseSonar || pipeline.lastReq.UseHints {
		t.Fatalf("expected overrides to win, got %+v", pipeline.lastReq)
	}
}

type sseEvent struct {
	Type     string          `json:"type"`
	Stage    string          `json:"stage"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event sseEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				t.Fatalf("parse sse event %q: %v", line, err)
			}
			events = append(events, event)
		}
	}
	return events
}

func TestChatStreamsStagesThenDone(t *testing.T) {
	envelope := sampleEnvelope()
	pipeline := &pipelineStub{
		envelope: envelope,
		progress: []orchestrator.Progress{
			{Stage: orchestrator.StageInternal, Count: 1, Internal: envelope.InternalCitations},
			{Stage: orchestrator.StageExternal, Count: 1, External: envelope.ExternalCitations},
			{Stage: orchestrator.StageHints, Count: 1, Hints: envelope.Hints},
		},
	}
	handler := newTestHandler(pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"text":"gdpr breach"}`))
	resp := httptest.NewRecorder()

	handler.Chat(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", got)
	}

	events := parseSSE(t, resp.Body.String())
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != "metadata" {
		t.Fatalf("first event must be metadata, got %q", events[0].Type)
	}
	for _, event := range events[1:4] {
		if event.Type != "stage" {
			t.Fatalf("expected stage event, got %+v", event)
		}
	}
	last := events[len(events)-1]
	if last.Type != "done" {
		t.Fatalf("last event must be done, got %q", last.Type)
	}

	var final citation.Envelope
	if err := json.Unmarshal(last.Response, &final); err != nil {
		t.Fatalf("decode done envelope: %v", err)
	}
	if final.Summary.TotalCitations != 2 {
		t.Fatalf("unexpected final envelope: %+v", final.Summary)
	}
}

func TestChatDegradedStagesStillEndWithDone(t *testing.T) {
	pipeline := &pipelineStub{
		envelope: citation.NewEnvelope("gdpr breach", nil, nil, nil),
		progress: []orchestrator.Progress{
			{Stage: orchestrator.StageInternal, Degraded: true, Message: "internal retrieval unavailable"},
			{Stage: orchestrator.StageExternal, Degraded: true, Message: "external intelligence unavailable"},
		},
	}
	handler := newTestHandler(pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"text":"gdpr breach"}`))
	resp := httptest.NewRecorder()

	handler.Chat(resp, req)

	events := parseSSE(t, resp.Body.String())
	var warnings, done int
	for _, event := range events {
		switch event.Type {
		case "warning":
			warnings++
		case "done":
			done++
		}
	}
	if warnings != 2 {
		t.Fatalf("expected 2 warning events, got %d", warnings)
	}
	if done != 1 {
		t.Fatalf("expected exactly one done event, got %d", done)
	}
	if events[len(events)-1].Type != "done" {
		t.Fatalf("done must be the final event: %+v", events)
	}
}

func TestChatBlankTextIsBadRequestBeforeStreaming(t *testing.T) {
	pipeline := &pipelineStub{}
	handler := newTestHandler(pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"text":""}`))
	resp := httptest.NewRecorder()

	handler.Chat(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	if pipeline.calls != 0 {
		t.Fatalf("pipeline must not run for a blank query, ran %d times", pipeline.calls)
	}
	if got := resp.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected a JSON error, got content type %q", got)
	}
}

func TestHealthReportsAdapterAvailability(t *testing.T) {
	handler := newTestHandler(&pipelineStub{}, nil)

	resp := httptest.NewRecorder()
	handler.Health(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var body struct {
		Status   string          `json:"status"`
		Version  string          `json:"version"`
		Adapters map[string]bool `json:"adapters"`
	}
	decodeJSONBody(t, resp, &body)
	if body.Status != "ok" || body.Version == "" {
		t.Fatalf("unexpected health body: %+v", body)
	}
	if !body.Adapters["internal_retrieval"] || !body.Adapters["external_intelligence"] {
		t.Fatalf("expected configured adapters to report available: %+v", body.Adapters)
	}
}

func TestDebugIncludesStatusKeysAndCollection(t *testing.T) {
	handler := newTestHandler(&pipelineStub{}, inspectorStub{info: vectorstore.CollectionInfo{Status: "green", PointsCount: 42}})

	resp := httptest.NewRecorder()
	handler.Debug(resp, httptest.NewRequest(http.MethodGet, "/debug", nil))

	var body struct {
		Adapters   orchestrator.StatusSnapshot `json:"adapters"`
		Keys       map[string]bool             `json:"keys"`
		Collection vectorstore.CollectionInfo  `json:"collection"`
	}
	decodeJSONBody(t, resp, &body)

	if !body.Adapters.Internal.Configured || !body.Adapters.External.Configured {
		t.Fatalf("unexpected adapter snapshot: %+v", body.Adapters)
	}
	if !body.Keys["embedding_api_key"] || !body.Keys["perplexity_api_key"] || body.Keys["qdrant_api_key"] {
		t.Fatalf("unexpected key presence map: %+v", body.Keys)
	}
	if body.Collection.PointsCount != 42 {
		t.Fatalf("unexpected collection info: %+v", body.Collection)
	}
}

func TestDebugSurvivesCollectionProbeFailure(t *testing.T) {
	handler := newTestHandler(&pipelineStub{}, inspectorStub{err: context.DeadlineExceeded})

	resp := httptest.NewRecorder()
	handler.Debug(resp, httptest.NewRequest(http.MethodGet, "/debug", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("debug must not fail on a probe error, got %d", resp.Code)
	}
	var body struct {
		Collection map[string]string `json:"collection"`
	}
	decodeJSONBody(t, resp, &body)
	if body.Collection["error"] == "" {
		t.Fatalf("expected probe error to surface: %+v", body.Collection)
	}
}
