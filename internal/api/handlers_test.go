package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ledgerlens/internal/config"
	"ledgerlens/internal/gemini"
	"ledgerlens/internal/invoice"
	"ledgerlens/internal/prompt"
	"ledgerlens/internal/storage"
	"ledgerlens/internal/vision"
	"ledgerlens/internal/worker"
)

const testAPIKey = "service-key"

func geminiStub(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "" {
			t.Errorf("missing key query parameter")
		}
		body := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func newTestServer(t *testing.T, upstream string) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()

	store := gemini.NewStore(30 * time.Minute)
	client := gemini.NewClient(gemini.Options{
		APIKey:           "secret",
		Model:            "gemini-2.0-flash",
		BaseURL:          upstream,
		AppendBeforeSend: true,
	}, store, logger)

	registry := prompt.NewRegistry(logger)
	analyzer := invoice.NewAnalyzer(client, registry, logger)
	manager := worker.NewManager(analyzer, nil, nil, logger, worker.Options{
		MinWorkers: 1,
		MaxWorkers: 2,
		QueueSize:  4,
	})

	cfg := &config.Config{
		Gemini: config.GeminiConfig{APIKey: "secret"},
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: "file:api_" + t.Name() + "?mode=memory&cache=shared"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	handler := NewHandler(analyzer, manager, client, vision.NewOptimizer(logger), db, testAPIKey, false, logger)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, handler
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload any, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewBuffer(encoded)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if withKey {
		req.Header.Set("X-Api-Key", testAPIKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAnalysisEndToEnd(t *testing.T) {
	answer := "Here you go:\r\n{\"vendor\":\"Acme\",\"line_items\":[{\"description\":\"laptop stand\",\"amount\":49.9,\"category\":\"Hardware\"}]}"
	upstream := geminiStub(t, answer)
	defer upstream.Close()
	router, _ := newTestServer(t, upstream.URL)

	payload := map[string]any{
		"template": "categorize_line_items",
		"params":   map[string]string{"company": "Acme"},
		"pages": []map[string]any{
			{"number": 1, "data": base64.StdEncoding.EncodeToString([]byte("png-bytes"))},
		},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/analyses", payload, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	var analysis invoice.Analysis
	if err := json.Unmarshal(rec.Body.Bytes(), &analysis); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if analysis.Result == nil || len(analysis.Result.LineItems) != 1 {
		t.Fatalf("expected structured result, got %s", rec.Body.String())
	}
	if analysis.Result.LineItems[0].Category != "hardware" {
		t.Fatalf("category not normalized: %q", analysis.Result.LineItems[0].Category)
	}
	if analysis.PageCount != 1 {
		t.Fatalf("page count lost: %d", analysis.PageCount)
	}

	// Synchronous analyses are persisted and show up in the listing.
	rec = doJSON(t, router, http.MethodGet, "/api/analyses", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	var listed struct {
		Analyses []invoice.Analysis `json:"analyses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Analyses) != 1 || listed.Analyses[0].ID != analysis.ID {
		t.Fatalf("analysis not listed: %s", rec.Body.String())
	}
}

func TestAPIKeyRequired(t *testing.T) {
	upstream := geminiStub(t, "{}")
	defer upstream.Close()
	router, _ := newTestServer(t, upstream.URL)

	rec := doJSON(t, router, http.MethodGet, "/api/analyses", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/analyses", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}
}

func TestRejectsBadPagePayload(t *testing.T) {
	upstream := geminiStub(t, "{}")
	defer upstream.Close()
	router, _ := newTestServer(t, upstream.URL)

	payload := map[string]any{
		"template": "categorize_line_items",
		"pages":    []map[string]any{{"number": 1, "data": "not!!base64"}},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/analyses", payload, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConversationLifecycle(t *testing.T) {
	upstream := geminiStub(t, "{}")
	defer upstream.Close()
	router, handler := newTestServer(t, upstream.URL)

	rec := doJSON(t, router, http.MethodPost, "/api/conversations", map[string]any{
		"metadata": map[string]string{"customer": "acme"},
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}
	var created struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/conversations/current", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("current status %d", rec.Code)
	}
	var current struct {
		ConversationID string            `json:"conversation_id"`
		Metadata       map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &current); err != nil {
		t.Fatalf("decode current: %v", err)
	}
	if current.ConversationID != created.ConversationID {
		t.Fatalf("new conversation is not current: %s vs %s", current.ConversationID, created.ConversationID)
	}
	if current.Metadata["customer"] != "acme" {
		t.Fatalf("metadata lost: %#v", current.Metadata)
	}

	// Activating an unknown id keeps the current conversation.
	rec = doJSON(t, router, http.MethodPost, "/api/conversations/nope/activate", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}
	if got := handler.client.Store().Current().ID; got != created.ConversationID {
		t.Fatalf("current changed after failed activate: %s", got)
	}

	handler.client.Store().Append(gemini.RoleUser, []gemini.Part{gemini.TextPart("hi")})
	rec = doJSON(t, router, http.MethodDelete, "/api/conversations/current/messages", nil, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status %d", rec.Code)
	}
	if n := len(handler.client.Store().Current().Messages); n != 0 {
		t.Fatalf("messages not cleared: %d left", n)
	}
}

func TestSubmitJobAndPoll(t *testing.T) {
	answer := "{\"vendor\":\"Acme\",\"line_items\":[]}"
	upstream := geminiStub(t, answer)
	defer upstream.Close()
	router, _ := newTestServer(t, upstream.URL)

	payload := map[string]any{"template": "categorize_line_items"}
	rec := doJSON(t, router, http.MethodPost, "/api/analyses/jobs", payload, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status %d body %s", rec.Code, rec.Body.String())
	}
	var submitted struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doJSON(t, router, http.MethodGet, "/api/analyses/jobs/"+submitted.JobID, nil, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("poll status %d", rec.Code)
		}
		var status worker.JobStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.State == worker.JobDone {
			if status.Analysis == nil || status.Analysis.Result == nil {
				t.Fatalf("done job missing analysis: %s", rec.Body.String())
			}
			break
		}
		if status.State == worker.JobFailed {
			t.Fatalf("job failed: %s", status.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never finished, last state %s", status.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/analyses/jobs/unknown", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}
