package invoice

import (
	"strings"
	"time"

	"ledgerlens/internal/gemini"
)

// LineItem is one categorized invoice row as recovered from model output.
type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// CategorizationResult is the structured shape the analyzer asks the model
// to produce.
type CategorizationResult struct {
	Vendor    string     `json:"vendor,omitempty"`
	Currency  string     `json:"currency,omitempty"`
	Total     float64    `json:"total,omitempty"`
	LineItems []LineItem `json:"line_items"`
}

// AnalyzeRequest describes one analysis: which prompt template to render,
// its parameters, the prepared pages and whether the exchange joins the
// current conversation.
type AnalyzeRequest struct {
	Template   string
	Params     map[string]string
	Pages      []gemini.PageImage
	UseHistory bool
}

// Analysis is the outcome of one analysis call. RawText is always set on
// success; Result is nil when no structured data could be recovered, which
// is a valid outcome rather than an error.
type Analysis struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversation_id"`
	Prompt         string                `json:"prompt"`
	PageCount      int                   `json:"page_count"`
	RawText        string                `json:"raw_text"`
	Result         *CategorizationResult `json:"result,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Structured reports whether the model answer yielded typed data.
func (a *Analysis) Structured() bool {
	return a != nil && a.Result != nil
}

var knownCategories = map[string]struct{}{
	"office_supplies":       {},
	"travel":                {},
	"meals":                 {},
	"software":              {},
	"utilities":             {},
	"professional_services": {},
	"hardware":              {},
	"other":                 {},
}

// NormalizeCategory maps a model-supplied category onto the fixed
// vocabulary; anything unrecognized becomes "other".
func NormalizeCategory(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	c = strings.ReplaceAll(c, " ", "_")
	c = strings.ReplaceAll(c, "-", "_")
	if _, ok := knownCategories[c]; ok {
		return c
	}
	return "other"
}
