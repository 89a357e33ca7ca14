package vision

import (
	"encoding/base64"

	"github.com/rs/zerolog"

	"ledgerlens/internal/gemini"
)

// Optimizer prepares uploaded page bytes for the request builder. Real
// resizing and compression are out of scope; the optimized representation
// is the original bytes, passed through and base64 encoded up front so the
// builder can reuse it without re-encoding.
type Optimizer struct {
	log zerolog.Logger
}

func NewOptimizer(logger zerolog.Logger) *Optimizer {
	return &Optimizer{log: logger}
}

// PreparePages assigns 1-based page numbers in upload order and fills the
// pre-computed base64 for non-empty pages. Empty pages are kept so the
// builder's skip policy stays observable downstream.
func (o *Optimizer) PreparePages(raw [][]byte) []gemini.PageImage {
	pages := make([]gemini.PageImage, 0, len(raw))
	for i, bytes := range raw {
		page := gemini.PageImage{Number: i + 1, Bytes: bytes}
		if len(bytes) > 0 {
			page.Base64 = base64.StdEncoding.EncodeToString(bytes)
		} else {
			o.log.Debug().Int("page", i+1).Msg("page has no payload, will be skipped")
		}
		pages = append(pages, page)
	}
	return pages
}
