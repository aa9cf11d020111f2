package generation

import "strings"

// Directives appended to prompts per content type. Drawable pages share the
// line-art base so every page colors cleanly.
const (
	lineArtDirective = "black and white line art, clean bold outlines, " +
		"no shading, no color fill, white background, suitable for coloring"

	coverDirective = "full color book cover composition, space for a title " +
		"near the top, vibrant and inviting"

	referenceDirective = "character reference sheet, consistent character " +
		"design, front and side views, neutral poses"

	backgroundDirective = "scenic background without characters, large open " +
		"regions to color, balanced composition"
)

// DefaultNegativePrompt lists qualities drawable output must avoid. It is
// applied when the caller leaves NegativePrompt empty.
const DefaultNegativePrompt = "photorealistic, grayscale shading, gradients, " +
	"watermark, signature, text artifacts, blurry lines"

// EnhancePayload returns a copy of p with the directives this engine appends
// for the given content type. Enhancement is idempotent: directives already
// present in the prompt are not appended again. Export payloads pass through
// untouched.
func EnhancePayload(ct ContentType, p Payload) Payload {
	switch ct {
	case ContentTypeColoringPage, ContentTypeIllustration:
		p.Prompt = appendDirective(p.Prompt, lineArtDirective)
	case ContentTypeCover:
		p.Prompt = appendDirective(p.Prompt, coverDirective)
	case ContentTypeReference:
		p.Prompt = appendDirective(p.Prompt, referenceDirective)
		p.Prompt = appendDirective(p.Prompt, lineArtDirective)
	case ContentTypeBackground:
		p.Prompt = appendDirective(p.Prompt, backgroundDirective)
		p.Prompt = appendDirective(p.Prompt, lineArtDirective)
	default:
		return p
	}

	if p.Style != "" {
		p.Prompt = appendDirective(p.Prompt, p.Style+" style")
	}
	if p.NegativePrompt == "" {
		p.NegativePrompt = DefaultNegativePrompt
	}
	return p
}

func appendDirective(prompt, directive string) string {
	if prompt == "" {
		return directive
	}
	if strings.Contains(strings.ToLower(prompt), strings.ToLower(directive)) {
		return prompt
	}
	return prompt + ", " + directive
}
