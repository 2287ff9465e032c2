package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// maxStderr bounds how much tool stderr is carried into an error.
const maxStderr = 512

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	return &PdfToText{binPath: orDefault(binPath, "pdftotext")}
}

// ExtractText runs "pdftotext -layout <file> -" and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, data []byte, filename string) (string, error) {
	return withTempFile(data, filename, func(path string) (string, error) {
		return runTool(ctx, p.binPath, filename, "-layout", path, "-")
	})
}

// Tesseract recognizes text in images using the tesseract CLI tool.
type Tesseract struct {
	binPath string
}

// NewTesseract creates a Tesseract recognizer. If binPath is empty, "tesseract" is used.
func NewTesseract(binPath string) *Tesseract {
	return &Tesseract{binPath: orDefault(binPath, "tesseract")}
}

// ExtractText runs "tesseract <image> stdout" and returns the recognized text.
func (t *Tesseract) ExtractText(ctx context.Context, data []byte, filename string) (string, error) {
	return withTempFile(data, filename, func(path string) (string, error) {
		return runTool(ctx, t.binPath, filename, path, "stdout")
	})
}

// runTool executes bin with args. A context deadline kills the process.
func runTool(ctx context.Context, bin, filename string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", eris.Wrapf(ctx.Err(), "ocr: %s timed out on %s", toolName(bin), filename)
		}
		return "", eris.Wrapf(err, "ocr: %s failed for %s: %s", toolName(bin), filename, clip(stderr.String()))
	}
	return stdout.String(), nil
}

func toolName(bin string) string {
	if i := strings.LastIndexAny(bin, `/\`); i >= 0 {
		return bin[i+1:]
	}
	return bin
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return s[:maxStderr] + "..."
	}
	return s
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
