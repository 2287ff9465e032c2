// Package ocr turns PDF and image bytes into text.
package ocr

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/config"
)

// Extractor extracts text content from a document.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, filename string) (string, error)
}

// NewExtractor creates the PDF Extractor selected by config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// NewRecognizer creates the image Extractor selected by config. The local
// provider shells out to tesseract.
func NewRecognizer(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewTesseract(cfg.TesseractPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// withTempFile writes data to a temp file carrying filename's extension and
// hands its path to fn. CLI tools only take paths.
func withTempFile(data []byte, filename string, fn func(path string) (string, error)) (string, error) {
	f, err := os.CreateTemp("", "credverify-*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp file")
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		return "", eris.Wrap(err, "ocr: write temp file")
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrap(err, "ocr: close temp file")
	}
	return fn(f.Name())
}
