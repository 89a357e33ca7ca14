package gemini

import "strings"

// Model output is untrusted quasi-structured text: prose around the JSON,
// literal or escaped control characters inside it. Normalize and
// ExtractJSON are both idempotent, so the pipeline can re-run either pass
// without changing the outcome.

// controlReplacer maps literal and escaped CR, LF and TAB to a single
// space. The backslash-u spellings are included as well, for model output
// that escapes control characters instead of emitting them.
var controlReplacer = strings.NewReplacer(
	"\r\n", " ",
	`\r\n`, " ",
	"\r", " ",
	`\r`, " ",
	"\n", " ",
	`\n`, " ",
	"\t", " ",
	`\t`, " ",
	`\u000d`, " ",
	`\u000D`, " ",
	`\u000a`, " ",
	`\u000A`, " ",
)

// crReplacer strips carriage returns that survived normalization. Applied
// once more right before decoding, in case an earlier pass was fed already
// extracted text.
var crReplacer = strings.NewReplacer(
	"\r", "",
	`\r`, "",
	`\u000d`, "",
	`\u000D`, "",
)

// Normalize collapses model text to one logical line that is safe for
// substring scanning and downstream strict parsing.
func Normalize(text string) string {
	return controlReplacer.Replace(text)
}

// ExtractJSON carves the candidate JSON object out of free-form model
// text: the inclusive span from the first '{' to the last '}'. The scan is
// not nested-aware; if the model emitted several objects the union span is
// taken. When no span exists the input is returned unchanged so that a
// caller's strict parse fails predictably instead of here.
func ExtractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

func stripCarriageReturns(text string) string {
	return crReplacer.Replace(text)
}
