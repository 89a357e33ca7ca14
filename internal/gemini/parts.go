package gemini

import "time"

// Wire types for the generateContent REST API.

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is the smallest unit of request and response content: either text
// or an inline image payload. A Part is never mutated after construction.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// TextPart wraps plain text.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart wraps a base64-encoded inline image.
func ImagePart(mimeType, data string) Part {
	return Part{InlineData: &InlineData{MimeType: mimeType, Data: data}}
}

// Content is one turn on the wire: a role plus its ordered parts.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Message is a recorded conversation turn. Part order is significant,
// text conventionally first.
type Message struct {
	Role      Role
	Parts     []Part
	CreatedAt time.Time
}

// GenerationConfig carries the decoding parameters sent with every request.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

var defaultGenerationConfig = GenerationConfig{
	Temperature:     0.2,
	MaxOutputTokens: 2048,
	TopP:            0.8,
	TopK:            40,
}

type generateRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}
