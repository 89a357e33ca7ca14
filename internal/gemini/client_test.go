package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubGemini struct {
	mu       sync.Mutex
	requests []generateRequest
	status   int
	text     string
	rawBody  string
}

func (s *stubGemini) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if s.status != 0 && s.status != http.StatusOK {
			w.WriteHeader(s.status)
			return
		}
		if s.rawBody != "" {
			fmt.Fprint(w, s.rawBody)
			return
		}
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": s.text}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func (s *stubGemini) lastRequest(t *testing.T) generateRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatalf("no requests captured")
	}
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, stub *stubGemini, opts Options) (*Client, *Store) {
	t.Helper()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	opts.BaseURL = server.URL
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	store := NewStore(30 * time.Minute)
	return NewClient(opts, store, zerolog.Nop()), store
}

func TestGenerateContentSingleTurnWithImage(t *testing.T) {
	stub := &stubGemini{text: "noise\r\n{\"ok\":true}"}
	client, store := newTestClient(t, stub, Options{AppendBeforeSend: true})

	pages := []PageImage{{Number: 1, Bytes: []byte("pretend-png")}}
	text, err := client.GenerateContent(context.Background(), "Categorize this purchase", pages, false)
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	req := stub.lastRequest(t)
	if len(req.Contents) != 1 || req.Contents[0].Role != RoleUser {
		t.Fatalf("expected a single user turn, got %#v", req.Contents)
	}
	parts := req.Contents[0].Parts
	if len(parts) != 2 || parts[0].Text != "Categorize this purchase" || parts[1].InlineData == nil {
		t.Fatalf("expected [text, image] parts, got %#v", parts)
	}
	if req.GenerationConfig != defaultGenerationConfig {
		t.Fatalf("generation config drifted: %#v", req.GenerationConfig)
	}

	if got := ExtractJSON(text); got != `{"ok":true}` {
		t.Fatalf("sanitize+extract produced %q", got)
	}
	if len(store.Current().Messages) != 0 {
		t.Fatalf("single-turn call must not touch the store")
	}
}

func TestGenerateContentHistoryWindowing(t *testing.T) {
	stub := &stubGemini{text: "reply"}
	client, store := newTestClient(t, stub, Options{MaxHistoryMessages: 10, AppendBeforeSend: true})

	// 14 prior turns; the new user turn makes 15 stored messages.
	for i := 0; i < 14; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleModel
		}
		store.Append(role, []Part{TextPart(fmt.Sprintf("turn-%d", i))})
	}

	if _, err := client.GenerateContent(context.Background(), "turn-14", nil, true); err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	req := stub.lastRequest(t)
	if len(req.Contents) != 10 {
		t.Fatalf("expected the last 10 messages, got %d", len(req.Contents))
	}
	// Window must be the tail, original order kept, new turn last.
	if req.Contents[0].Parts[0].Text != "turn-5" {
		t.Fatalf("window starts at %q, want turn-5", req.Contents[0].Parts[0].Text)
	}
	if req.Contents[9].Parts[0].Text != "turn-14" {
		t.Fatalf("window ends at %q, want turn-14", req.Contents[9].Parts[0].Text)
	}

	// Model reply recorded after the exchange.
	msgs := store.Current().Messages
	if len(msgs) != 16 || msgs[15].Role != RoleModel || msgs[15].Parts[0].Text != "reply" {
		t.Fatalf("model reply not recorded: %d messages, last %#v", len(msgs), msgs[len(msgs)-1])
	}
}

func TestGenerateContentFirstTurnFallsBackToSingleShape(t *testing.T) {
	stub := &stubGemini{text: "reply"}
	client, _ := newTestClient(t, stub, Options{AppendBeforeSend: true})

	if _, err := client.GenerateContent(context.Background(), "first", nil, true); err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	req := stub.lastRequest(t)
	if len(req.Contents) != 1 || req.Contents[0].Role != RoleUser {
		t.Fatalf("first history turn should use the single-turn shape, got %#v", req.Contents)
	}
}

func TestGenerateContentTransportFault(t *testing.T) {
	stub := &stubGemini{status: http.StatusServiceUnavailable}
	client, store := newTestClient(t, stub, Options{AppendBeforeSend: true})

	_, err := client.GenerateContent(context.Background(), "prompt", nil, true)
	if err == nil {
		t.Fatalf("expected a transport error")
	}
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	// Append-before policy: the user turn survives the failed call.
	if msgs := store.Current().Messages; len(msgs) != 1 || msgs[0].Role != RoleUser {
		t.Fatalf("append-before should leave the user turn recorded, got %#v", msgs)
	}
}

func TestGenerateContentAppendAfterSuccessPolicy(t *testing.T) {
	stub := &stubGemini{status: http.StatusInternalServerError}
	client, store := newTestClient(t, stub, Options{AppendBeforeSend: false})

	if _, err := client.GenerateContent(context.Background(), "prompt", nil, true); err == nil {
		t.Fatalf("expected a transport error")
	}
	if msgs := store.Current().Messages; len(msgs) != 0 {
		t.Fatalf("append-after policy must not record failed turns, got %#v", msgs)
	}

	stub.status = http.StatusOK
	stub.text = "reply"
	if _, err := client.GenerateContent(context.Background(), "prompt", nil, true); err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	msgs := store.Current().Messages
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleModel {
		t.Fatalf("expected user+model turns after success, got %#v", msgs)
	}
}

func TestGenerateContentDialFailureKeepsKeyOutOfErrorAndLog(t *testing.T) {
	const key = "super-secret-key"
	var logged bytes.Buffer
	store := NewStore(30 * time.Minute)
	// Port 1 is unbound; the dial failure produces a url.Error whose
	// message carries the full request URL including the key query param.
	client := NewClient(Options{
		APIKey:  key,
		Model:   "gemini-2.0-flash",
		BaseURL: "http://127.0.0.1:1",
	}, store, zerolog.New(&logged))

	_, err := client.GenerateContent(context.Background(), "prompt", nil, false)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if strings.Contains(err.Error(), key) {
		t.Fatalf("returned error leaks the credential: %v", err)
	}
	if strings.Contains(logged.String(), key) {
		t.Fatalf("log output leaks the credential: %s", logged.String())
	}
	if !strings.Contains(err.Error(), "REDACTED") {
		t.Fatalf("expected the scrubbed marker in the error, got %v", err)
	}
}

func TestGenerateContentMissingCandidatePath(t *testing.T) {
	cases := []string{
		`{}`,
		`{"candidates":[]}`,
		`{"candidates":[{"content":{"parts":[]}}]}`,
		`not json at all`,
	}
	for _, body := range cases {
		stub := &stubGemini{rawBody: body}
		client, _ := newTestClient(t, stub, Options{})
		_, err := client.GenerateContent(context.Background(), "prompt", nil, false)
		if !errors.Is(err, ErrNoCandidates) {
			t.Fatalf("body %q: expected ErrNoCandidates, got %v", body, err)
		}
	}
}
