package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credverify/internal/config"
)

func TestNewExtractor_Local(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractor_LocalDefault(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: ""})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractor_MistralMissingKey(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "mistral"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires mistral_api_key")
}

func TestNewExtractor_MistralWithKey(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "mistral", MistralKey: "test-key", MistralModel: "m"})
	require.NoError(t, err)
	require.IsType(t, &MistralOCR{}, ext)
	assert.Equal(t, "m", ext.(*MistralOCR).model)
}

func TestNewExtractor_UnknownProvider(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "unknown"`)
}

func TestNewRecognizer(t *testing.T) {
	rec, err := NewRecognizer(config.OCRConfig{Provider: "local", TesseractPath: "/opt/tesseract"})
	require.NoError(t, err)
	require.IsType(t, &Tesseract{}, rec)
	assert.Equal(t, "/opt/tesseract", rec.(*Tesseract).binPath)

	rec, err = NewRecognizer(config.OCRConfig{Provider: "mistral", MistralKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, rec)

	_, err = NewRecognizer(config.OCRConfig{Provider: "mistral"})
	require.Error(t, err)

	_, err = NewRecognizer(config.OCRConfig{Provider: "abbyy"})
	require.Error(t, err)
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestTesseract_BinPath(t *testing.T) {
	assert.Equal(t, "tesseract", NewTesseract("").binPath)
}

func TestMistralOCR_DefaultModel(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func newTestMistral(url string) *MistralOCR {
	return &MistralOCR{
		apiKey:   "test-key",
		model:    "test-model",
		endpoint: url,
		client:   &http.Client{},
	}
}

func TestMistralOCR_ExtractText_PDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")
		assert.Empty(t, req.Document.ImageURL)

		resp := mistralOCRResponse{
			Pages: []mistralOCRPage{
				{Index: 0, Markdown: "Page one content"},
				{Index: 1, Markdown: "Page two content"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), []byte("%PDF-1.4 test"), "marks.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Page one content\n\nPage two content", text)
}

func TestMistralOCR_ExtractText_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image_url", req.Document.Type)
		assert.Contains(t, req.Document.ImageURL, "data:image/jpeg;base64,")
		assert.Empty(t, req.Document.DocumentURL)

		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{{Markdown: "Name: Jane Doe"}}}) //nolint:errcheck
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), []byte{0xff, 0xd8, 0xff}, "scan.JPG")
	require.NoError(t, err)
	assert.Equal(t, "Name: Jane Doe", text)
}

func TestMistralOCR_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ExtractText(context.Background(), []byte("%PDF-1.4"), "a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
}

func TestMistralOCR_EmptyDocument(t *testing.T) {
	_, err := NewMistralOCR("key", "model").ExtractText(context.Background(), nil, "a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty document")
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{invalid json`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ExtractText(context.Background(), []byte("%PDF-1.4"), "a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal mistral response")
}

func TestMistralOCR_EmptyPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(mistralOCRResponse{}) //nolint:errcheck
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), []byte("%PDF-1.4"), "a.pdf")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestPdfToText_BinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ExtractText(context.Background(), []byte("%PDF-1.4"), "a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

// fakeTool writes a shell script standing in for a CLI OCR tool.
func fakeTool(t *testing.T, name, script string) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	return bin
}

func TestPdfToText_Success(t *testing.T) {
	// pdftotext -layout <file> -
	bin := fakeTool(t, "pdftotext", `[ "$1" = "-layout" ] && [ "$3" = "-" ] && cat "$2"`)

	text, err := NewPdfToText(bin).ExtractText(context.Background(), []byte("Extracted text content"), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Extracted text content", text)
}

func TestTesseract_Success(t *testing.T) {
	// tesseract <file> stdout
	bin := fakeTool(t, "tesseract", `[ "$2" = "stdout" ] && case "$1" in *.png) cat "$1";; *) exit 1;; esac`)

	text, err := NewTesseract(bin).ExtractText(context.Background(), []byte("Priya Nair"), "scan.png")
	require.NoError(t, err)
	assert.Equal(t, "Priya Nair", text)
}

func TestTesseract_Failure(t *testing.T) {
	bin := fakeTool(t, "tesseract", `echo "bad image" >&2; exit 3`)

	_, err := NewTesseract(bin).ExtractText(context.Background(), []byte("x"), "scan.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract failed for scan.png")
	assert.Contains(t, err.Error(), "bad image")
}

func TestRunTool_Timeout(t *testing.T) {
	bin := fakeTool(t, "pdftotext", `sleep 5`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewPdfToText(bin).ExtractText(ctx, []byte("%PDF-1.4"), "slow.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext timed out on slow.pdf")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("  short\n"))
	long := clip(strings.Repeat("x", maxStderr+10))
	assert.Len(t, long, maxStderr+3)
}
