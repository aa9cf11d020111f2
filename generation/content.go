package generation

// ContentType identifies the kind of artifact a request produces. It drives
// prompt enhancement and provider routing.
type ContentType string

const (
	// ContentTypeColoringPage is a single line-art page meant to be colored.
	ContentTypeColoringPage ContentType = "coloring_page"

	// ContentTypeCover is a full-color book cover.
	ContentTypeCover ContentType = "cover"

	// ContentTypeIllustration is a standalone line-art illustration.
	ContentTypeIllustration ContentType = "illustration"

	// ContentTypeReference is a character reference sheet used to keep a
	// character consistent across pages.
	ContentTypeReference ContentType = "reference"

	// ContentTypeBackground is a scene without characters, drawn with open
	// regions to color.
	ContentTypeBackground ContentType = "background"

	// ContentTypeExport assembles finished pages into a deliverable artifact
	// such as a PDF or EPUB.
	ContentTypeExport ContentType = "export"
)

// ContentTypes returns all valid content types.
func ContentTypes() []ContentType {
	return []ContentType{
		ContentTypeColoringPage,
		ContentTypeCover,
		ContentTypeIllustration,
		ContentTypeReference,
		ContentTypeBackground,
		ContentTypeExport,
	}
}

// IsValid reports whether ct is a known content type.
func (ct ContentType) IsValid() bool {
	switch ct {
	case ContentTypeColoringPage,
		ContentTypeCover,
		ContentTypeIllustration,
		ContentTypeReference,
		ContentTypeBackground,
		ContentTypeExport:
		return true
	}
	return false
}

// IsDrawable reports whether ct produces an image, as opposed to an
// assembled export artifact.
func (ct ContentType) IsDrawable() bool {
	return ct.IsValid() && ct != ContentTypeExport
}

// String returns the string representation of the content type.
func (ct ContentType) String() string {
	return string(ct)
}

// Payload describes the work for a single request in provider-agnostic
// terms. The engine enhances it per content type before dispatch; providers
// receive the enhanced copy.
type Payload struct {
	// Prompt is the text describing what to generate.
	Prompt string `json:"prompt"`

	// NegativePrompt lists qualities the output must avoid. Left empty by
	// the caller, it is filled with a content-type default for drawable
	// types.
	NegativePrompt string `json:"negative_prompt,omitempty"`

	// Style names the artistic style requested by the caller, e.g.
	// "watercolor" or "bold cartoon".
	Style string `json:"style,omitempty"`

	// AspectRatio is the requested output shape, e.g. "1:1" or "3:4".
	AspectRatio string `json:"aspect_ratio,omitempty"`

	// Format is the target format for export requests ("pdf" or "epub").
	Format string `json:"format,omitempty"`

	// PageCount is the number of pages an export request covers.
	PageCount int `json:"page_count,omitempty"`

	// Settings carries provider-specific options the engine passes through
	// untouched.
	Settings map[string]string `json:"settings,omitempty"`
}

// Result is the outcome of a successful provider call.
type Result struct {
	// Content is the produced artifact bytes.
	Content []byte `json:"content"`

	// MIME is the content type of the artifact, e.g. "image/png".
	MIME string `json:"mime"`

	// Provider names the backend that served the request.
	Provider string `json:"provider"`

	// Meta carries provider-reported details such as the model used.
	Meta map[string]string `json:"meta,omitempty"`
}
