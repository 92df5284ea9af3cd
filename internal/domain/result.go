package domain

// Component is one extracted visual region of a page. The pipeline emits
// either inline image bytes (Base64) or, after upload, a public URL.
// Components are immutable once written to the result artifact.
type Component struct {
	ID            int       `json:"id"`
	Category      string    `json:"category"`
	OriginalLabel string    `json:"original_label"`
	Confidence    float64   `json:"confidence"`
	BBox          []float64 `json:"bbox"`
	Base64        string    `json:"base64,omitempty"`
	URL           string    `json:"url,omitempty"`
}

// Page groups the components extracted from one document page.
type Page struct {
	PageNumber int         `json:"page_number"`
	Components []Component `json:"components"`
}

// ExtractionResult is the artifact produced by the extraction pipeline
// for a single document.
type ExtractionResult struct {
	SourceFile      string `json:"source_file"`
	TotalPages      int    `json:"total_pages"`
	TotalComponents int    `json:"total_components"`
	Pages           []Page `json:"pages"`
}

// ComponentMeta is a flattened component with its page number and a
// resolved image URL in place of inline bytes.
type ComponentMeta struct {
	ID            int       `json:"id"`
	PageNumber    int       `json:"page_number"`
	Category      string    `json:"category"`
	OriginalLabel string    `json:"original_label"`
	Confidence    float64   `json:"confidence"`
	BBox          []float64 `json:"bbox"`
	URL           string    `json:"url"`
}

// Flatten returns all components across pages in page order, preserving
// each component's page number. The flattening is deterministic, which is
// what makes offset/limit pagination over it stable.
func (r *ExtractionResult) Flatten() []ComponentMeta {
	var out []ComponentMeta
	for _, page := range r.Pages {
		for _, comp := range page.Components {
			out = append(out, ComponentMeta{
				ID:            comp.ID,
				PageNumber:    page.PageNumber,
				Category:      comp.Category,
				OriginalLabel: comp.OriginalLabel,
				Confidence:    comp.Confidence,
				BBox:          comp.BBox,
				URL:           comp.URL,
			})
		}
	}
	return out
}
