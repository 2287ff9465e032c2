// Package fingerprint derives content fingerprints from uploaded documents.
//
// Every document gets a binary hash over its raw bytes. A text hash over the
// normalized extracted text is added when text can be recovered. Text
// extraction is best-effort: failures degrade to a binary-only fingerprint
// and are never returned to the caller.
package fingerprint

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/metrics"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/normalize"
	"github.com/sells-group/credverify/internal/ocr"
)

// ErrEmptyDocument is returned for zero-length input.
var ErrEmptyDocument = eris.New("fingerprint: empty document")

type kind int

const (
	kindUnknown kind = iota
	kindText
	kindDocx
	kindPDF
	kindImage
)

var extKinds = map[string]kind{
	".txt":  kindText,
	".csv":  kindText,
	".md":   kindText,
	".docx": kindDocx,
	".pdf":  kindPDF,
	".png":  kindImage,
	".jpg":  kindImage,
	".jpeg": kindImage,
	".tif":  kindImage,
	".tiff": kindImage,
	".bmp":  kindImage,
	".webp": kindImage,
}

// Extractor computes fingerprints. The zero value is not usable; call New.
type Extractor struct {
	pdf     ocr.Extractor
	images  ocr.Extractor
	timeout time.Duration
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds an Extractor. pdf may be nil, in which case PDFs are hashed
// without text. images is consulted only when cfg.RecognizeImages is set.
func New(cfg config.FingerprintConfig, pdf, images ocr.Extractor, m *metrics.Metrics) *Extractor {
	timeout := time.Duration(cfg.ExtractTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if !cfg.RecognizeImages {
		images = nil
	}
	return &Extractor{
		pdf:     pdf,
		images:  images,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, int(maxConcurrent)),
		sem:     semaphore.NewWeighted(maxConcurrent),
		metrics: m,
		now:     time.Now,
	}
}

// Fingerprint hashes data and, when text is recoverable, its normalized text.
func (e *Extractor) Fingerprint(ctx context.Context, data []byte, filename string) (model.DocumentFingerprint, error) {
	fp, _, err := e.Extract(ctx, data, filename)
	return fp, err
}

// Extract is Fingerprint that also returns the raw extracted text, so
// callers that go on to read fields do not extract twice.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) (model.DocumentFingerprint, string, error) {
	if len(data) == 0 {
		return model.DocumentFingerprint{}, "", ErrEmptyDocument
	}

	fp := model.DocumentFingerprint{
		BinaryHash: normalize.Digest(data),
		SourceName: filepath.Base(filename),
		ProducedAt: e.now().UTC(),
	}

	text, ok := e.Text(ctx, data, filename)
	if ok {
		if canonical := normalize.Text(text); canonical != "" {
			fp.TextHash = normalize.Digest([]byte(canonical))
		}
	}
	return fp, text, nil
}

// Text returns the document's raw text. ok is false when no text could be
// recovered; the reason is logged and counted.
func (e *Extractor) Text(ctx context.Context, data []byte, filename string) (string, bool) {
	log := zap.L().With(zap.String("file", filename))

	switch detect(data, filename) {
	case kindText:
		if !utf8.Valid(data) {
			e.degraded(log, "invalid_utf8", nil)
			return "", false
		}
		return string(data), true
	case kindDocx:
		text, err := DocxText(data)
		if err != nil {
			e.degraded(log, "docx", err)
			return "", false
		}
		return text, true
	case kindPDF:
		if e.pdf == nil {
			e.degraded(log, "no_pdf_extractor", nil)
			return "", false
		}
		return e.recognize(ctx, log, e.pdf, data, filename)
	case kindImage:
		if e.images == nil {
			e.degraded(log, "images_disabled", nil)
			return "", false
		}
		return e.recognize(ctx, log, e.images, data, filename)
	default:
		e.degraded(log, "unsupported_format", nil)
		return "", false
	}
}

// recognize runs an external extractor under the timeout, the rate limiter
// and the concurrency bound.
func (e *Extractor) recognize(ctx context.Context, log *zap.Logger, ext ocr.Extractor, data []byte, filename string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		e.degraded(log, "rate_limited", err)
		return "", false
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.degraded(log, "busy", err)
		return "", false
	}
	defer e.sem.Release(1)

	text, err := ext.ExtractText(ctx, data, filename)
	if err != nil {
		reason := "ocr_failed"
		if ctx.Err() != nil {
			reason = "timeout"
		}
		e.degraded(log, reason, err)
		return "", false
	}
	if strings.TrimSpace(text) == "" {
		e.degraded(log, "empty_text", nil)
		return "", false
	}
	return text, true
}

func (e *Extractor) degraded(log *zap.Logger, reason string, err error) {
	fields := []zap.Field{zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	log.Warn("fingerprint: text extraction degraded", fields...)
	e.metrics.ExtractionDegraded(reason)
}

// detect picks a text source by extension, falling back to content sniffing.
func detect(data []byte, filename string) kind {
	if k, ok := extKinds[strings.ToLower(filepath.Ext(filename))]; ok {
		return k
	}
	mime := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(mime, "text/"):
		return kindText
	case mime == "application/pdf":
		return kindPDF
	case strings.HasPrefix(mime, "image/"):
		return kindImage
	case mime == "application/zip" && isDocx(data):
		return kindDocx
	default:
		return kindUnknown
	}
}
