package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion     = "v1beta"

	defaultMaxHistoryMessages = 10
	exchangeTimeout           = 90 * time.Second
)

var (
	// ErrTransport marks connection failures and non-2xx statuses. Calls
	// are never retried; the caller decides what to do.
	ErrTransport = errors.New("gemini: transport failure")
	// ErrNoCandidates marks a 2xx response whose body lacks the
	// candidates[0].content.parts[0].text path.
	ErrNoCandidates = errors.New("gemini: response missing candidate text")
)

// Options configures a Client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string

	// MaxHistoryMessages bounds the multi-turn window (default 10).
	MaxHistoryMessages int

	// AppendBeforeSend records the user turn before the exchange, so a
	// failing call still leaves the turn in history. When false the turn
	// is recorded only after a successful exchange, together with the
	// model reply.
	AppendBeforeSend bool
}

// Client orchestrates generateContent calls: it shapes single- or
// multi-turn envelopes from the conversation store, performs the HTTP
// exchange over one pooled connection and normalizes the model text. The
// store and logger are injected; the client owns no hidden state.
type Client struct {
	http  *resty.Client
	store *Store
	opts  Options
	log   zerolog.Logger
}

func NewClient(opts Options, store *Store, logger zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.MaxHistoryMessages <= 0 {
		opts.MaxHistoryMessages = defaultMaxHistoryMessages
	}
	return &Client{
		http: resty.New().
			SetBaseURL(opts.BaseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(exchangeTimeout),
		store: store,
		opts:  opts,
		log:   logger,
	}
}

// Store exposes the conversation store for session management.
func (c *Client) Store() *Store {
	return c.store
}

// GenerateContent sends the prompt and pages to the model and returns the
// normalized response text. With useHistory the exchange is recorded in
// the current conversation and the envelope carries the clipped history
// window; without it the store is left untouched.
func (c *Client) GenerateContent(ctx context.Context, prompt string, pages []PageImage, useHistory bool) (string, error) {
	parts := BuildParts(prompt, pages)
	if useHistory && c.opts.AppendBeforeSend {
		c.store.Append(RoleUser, parts)
	}

	body := generateRequest{
		Contents:         c.shapeContents(parts, useHistory),
		GenerationConfig: defaultGenerationConfig,
	}

	// The key travels only as a query parameter; endpoint is what log
	// lines may reference.
	endpoint := fmt.Sprintf("/%s/models/%s:generateContent", apiVersion, c.opts.Model)
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.opts.APIKey).
		SetBody(body).
		Post(endpoint)
	latency := time.Since(start)
	if err != nil {
		// Connection-level errors embed the full request URL, key included.
		msg := c.redactKey(err.Error())
		c.log.Error().Str("error", msg).Str("endpoint", endpoint).Msg("generateContent exchange failed")
		return "", fmt.Errorf("%w: %s", ErrTransport, msg)
	}
	if resp.IsError() {
		c.log.Error().
			Int("status", resp.StatusCode()).
			Str("endpoint", endpoint).
			Dur("latency", latency).
			Msg("generateContent rejected")
		return "", fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode())
	}
	c.log.Debug().
		Str("endpoint", endpoint).
		Dur("latency", latency).
		Int("contents", len(body.Contents)).
		Msg("generateContent succeeded")

	text, err := candidateText(resp.Body())
	if err != nil {
		return "", err
	}
	text = Normalize(text)

	if useHistory {
		if !c.opts.AppendBeforeSend {
			c.store.Append(RoleUser, parts)
		}
		c.store.Append(RoleModel, []Part{TextPart(text)})
	}
	return text, nil
}

// shapeContents decides between the single-turn and multi-turn envelope.
// In append-before mode the store already holds the new user turn; in
// append-after mode the turn is joined to the snapshot virtually so the
// envelope is identical either way.
func (c *Client) shapeContents(parts []Part, useHistory bool) []Content {
	single := []Content{{Role: RoleUser, Parts: parts}}
	if !useHistory {
		return single
	}
	msgs := c.store.Current().Messages
	if !c.opts.AppendBeforeSend {
		msgs = append(msgs, Message{Role: RoleUser, Parts: parts, CreatedAt: time.Now()})
	}
	if len(msgs) <= 1 {
		return single
	}
	if len(msgs) > c.opts.MaxHistoryMessages {
		msgs = msgs[len(msgs)-c.opts.MaxHistoryMessages:]
	}
	contents := make([]Content, 0, len(msgs))
	for _, m := range msgs {
		contents = append(contents, Content{Role: m.Role, Parts: m.Parts})
	}
	return contents
}

// redactKey scrubs the API key from text that may travel to logs or
// callers, such as url.Error messages carrying the request URL.
func (c *Client) redactKey(text string) string {
	if c.opts.APIKey == "" {
		return text
	}
	return strings.ReplaceAll(text, c.opts.APIKey, "REDACTED")
}

func candidateText(body []byte) (string, error) {
	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCandidates, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", ErrNoCandidates
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
