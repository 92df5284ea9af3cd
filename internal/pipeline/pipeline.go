// Package pipeline defines the boundary to the external layout-extraction
// process. The extraction model itself lives outside this service; this
// package only knows how to invoke it and read its result artifact.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sammy/pagelift/internal/domain"
)

// ProgressFunc receives page progress while a document is being extracted.
// It may be called from a different goroutine than the caller of Extract.
type ProgressFunc func(currentPage, totalPages int)

// Extractor runs the external extraction pipeline against one document.
type Extractor interface {
	// Ready reports whether the extraction model is loaded and usable.
	Ready() bool

	// Extract processes the file at inputPath, writing artifacts into
	// outputDir and reporting page progress through progress (which may
	// be nil). Blocks until the document is fully processed.
	Extract(ctx context.Context, inputPath, outputDir string, progress ProgressFunc) (*domain.ExtractionResult, error)
}

// ResultFilename returns the name of the result artifact the pipeline
// writes for the given input file: the input's stem plus "_extracted.json".
func ResultFilename(inputPath string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + "_extracted.json"
}

// LoadResult reads a result artifact from disk.
func LoadResult(path string) (*domain.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result artifact: %w", err)
	}
	var result domain.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result artifact: %w", err)
	}
	return &result, nil
}
