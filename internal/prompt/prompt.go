package prompt

import (
	"strings"
	"text/template"

	"github.com/rs/zerolog"
)

// DefaultCategorization is the built-in fallback prompt. It is used
// whenever a template key is unknown or rendering fails, so the analyzer
// always has something to send.
const DefaultCategorization = `You are an accounting assistant. Review the attached invoice pages and categorize every line item.
Respond with a single JSON object and nothing else, using this shape:
{"vendor":"...","currency":"...","total":0,"line_items":[{"description":"...","amount":0,"category":"...","confidence":0}]}
Valid categories: office_supplies, travel, meals, software, utilities, professional_services, hardware, other.`

var builtins = map[string]string{
	"categorize_line_items": `You are an accounting assistant for {{.company}}. Review the attached invoice pages and categorize every line item.
Respond with a single JSON object and nothing else, using this shape:
{"vendor":"...","currency":"...","total":0,"line_items":[{"description":"...","amount":0,"category":"...","confidence":0}]}
Valid categories: office_supplies, travel, meals, software, utilities, professional_services, hardware, other.
{{if .hint}}Additional context: {{.hint}}{{end}}`,

	"summarize_invoice": `Summarize the attached invoice pages for {{.company}} in one JSON object:
{"vendor":"...","total":0,"currency":"...","summary":"..."}`,
}

// Registry renders named prompt templates with a parameter map. It is an
// opaque string provider to the orchestration layer.
type Registry struct {
	templates map[string]*template.Template
	log       zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{
		templates: make(map[string]*template.Template, len(builtins)),
		log:       logger,
	}
	for name, text := range builtins {
		tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
		if err != nil {
			// Built-ins are static; a parse failure is a programming error.
			logger.Error().Err(err).Str("template", name).Msg("skipping unparsable prompt template")
			continue
		}
		r.templates[name] = tmpl
	}
	return r
}

// Render produces the prompt for the given template key. Unknown keys,
// execution failures and empty output all fall back to the default
// categorization prompt.
func (r *Registry) Render(key string, params map[string]string) string {
	tmpl, ok := r.templates[key]
	if !ok {
		if key != "" {
			r.log.Warn().Str("template", key).Msg("unknown prompt template, using default")
		}
		return DefaultCategorization
	}
	data := make(map[string]string, len(params))
	for k, v := range params {
		data[k] = v
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		r.log.Warn().Err(err).Str("template", key).Msg("prompt render failed, using default")
		return DefaultCategorization
	}
	if strings.TrimSpace(sb.String()) == "" {
		return DefaultCategorization
	}
	return sb.String()
}
