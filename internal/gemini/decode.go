package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// DecodeAs recovers a value of type T from free-form model text. The text
// is normalized, the embedded JSON object is extracted, leftover carriage
// returns are stripped and the candidate is parsed into T. Every failure
// mode (no JSON span, malformed JSON, shape mismatch) yields the zero T
// and false; callers either get a valid T or nothing, never an error.
func DecodeAs[T any](logger zerolog.Logger, raw string) (T, bool) {
	var out T
	candidate := stripCarriageReturns(ExtractJSON(Normalize(raw)))
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		logger.Warn().
			Err(err).
			Str("shape", fmt.Sprintf("%T", out)).
			Msg("no structured result in model output")
		var zero T
		return zero, false
	}
	return out, true
}
