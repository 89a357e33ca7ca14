package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ledgerlens/internal/gemini"
	"ledgerlens/internal/prompt"
)

// Analyzer turns invoice pages into categorized line items. It consumes
// exactly two entry points of the gemini layer: GenerateContent for the
// exchange and DecodeAs for typed recovery.
type Analyzer struct {
	client  *gemini.Client
	prompts *prompt.Registry
	log     zerolog.Logger
}

func NewAnalyzer(client *gemini.Client, prompts *prompt.Registry, logger zerolog.Logger) *Analyzer {
	return &Analyzer{client: client, prompts: prompts, log: logger}
}

// Analyze renders the prompt, runs the exchange and attempts to recover a
// CategorizationResult from the answer. A transport or missing-candidate
// failure is returned as an error; an answer without usable JSON yields an
// Analysis with RawText only.
func (a *Analyzer) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	promptText := a.prompts.Render(req.Template, req.Params)

	text, err := a.client.GenerateContent(ctx, promptText, req.Pages, req.UseHistory)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		ID:             uuid.NewString(),
		ConversationID: a.client.Store().Current().ID,
		Prompt:         promptText,
		PageCount:      len(req.Pages),
		RawText:        text,
		CreatedAt:      time.Now(),
	}

	result, ok := gemini.DecodeAs[CategorizationResult](a.log, text)
	if !ok {
		a.log.Info().Str("analysis", analysis.ID).Msg("answer carried no structured result")
		return analysis, nil
	}
	for i := range result.LineItems {
		result.LineItems[i].Category = NormalizeCategory(result.LineItems[i].Category)
	}
	analysis.Result = &result
	return analysis, nil
}
