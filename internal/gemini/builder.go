package gemini

import (
	"encoding/base64"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const imageMimeType = "image/png"

// PageImage is one invoice page as delivered by the image source: raw
// bytes, its page number and the pre-computed base64 of the optimized
// representation when available.
type PageImage struct {
	Number int
	Bytes  []byte
	Base64 string
}

// BuildParts assembles the ordered part list for one request: exactly one
// text part carrying the prompt, followed by the image parts in the same
// order as the input pages. Pages without byte payloads are skipped. A
// single eligible page is encoded inline; two or more are encoded
// concurrently and joined before returning.
func BuildParts(prompt string, pages []PageImage) []Part {
	parts := make([]Part, 0, len(pages)+1)
	parts = append(parts, TextPart(prompt))

	eligible := make([]PageImage, 0, len(pages))
	for _, page := range pages {
		if len(page.Bytes) == 0 {
			continue
		}
		eligible = append(eligible, page)
	}

	switch len(eligible) {
	case 0:
		return parts
	case 1:
		// Fast path: no goroutine scheduling for the common one-page case.
		return append(parts, encodePage(eligible[0]))
	}
	return append(parts, buildImageParts(eligible, encodePage)...)
}

// buildImageParts fans out one encode per page, bounded to the available
// parallelism. Each result lands in its input slot, so the returned order
// matches the input order no matter which encode finishes first.
func buildImageParts(pages []PageImage, encode func(PageImage) Part) []Part {
	images := make([]Part, len(pages))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, page := range pages {
		g.Go(func() error {
			images[i] = encode(page)
			return nil
		})
	}
	// Encodes cannot fail; Wait is the all-complete barrier.
	_ = g.Wait()
	return images
}

func encodePage(page PageImage) Part {
	data := page.Base64
	if data == "" {
		data = base64.StdEncoding.EncodeToString(page.Bytes)
	}
	return ImagePart(imageMimeType, data)
}
