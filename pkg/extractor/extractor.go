// Package extractor gets the text of a Focus report PDF. It tries a
// layout-aware read of the first page, then a plain read of the whole
// document, and finally rasterizes every page and runs OCR on it. The first
// two tiers are rejected when they fail, come back empty or contain glyph
// codes the reader could not map; the OCR tier is always final.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

var ErrNoPages = errors.New("document has no pages")

// Rejection reasons recorded on tier attempts.
const (
	ReasonError          = "error"
	ReasonEmpty          = "empty"
	ReasonEncodingMarker = "encoding-marker"
)

// LayoutReader returns the text of the first page with its rows preserved.
type LayoutReader interface {
	FirstPage(ctx context.Context, path string) (string, error)
}

// PlainReader returns the text stream of the whole document.
type PlainReader interface {
	Text(ctx context.Context, path string) (string, error)
}

// Rasterizer renders every page of the document to an image file inside dir
// and returns the image paths in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, dpi int, dir string) ([]string, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, imagePath, language string) (string, error)
}

type ExtractorConfig struct {
	DPI             int
	Language        string
	EncodingMarkers []string
	// ScratchDir is the parent of the per-document OCR directories.
	ScratchDir    string
	MaxOCRWorkers int

	Layout     LayoutReader
	Plain      PlainReader
	Rasterizer Rasterizer
	Recognizer Recognizer
	Logger     *slog.Logger
}

type Extractor struct {
	config   ExtractorConfig
	markers  *ahocorasick.Matcher
	ocrSlots *semaphore.Weighted

	rootOnce    sync.Once
	rootErr     error
	rootCreated bool
}

func NewWithConfig(config ExtractorConfig) *Extractor {
	if config.DPI == 0 {
		config.DPI = 300
	}
	if config.Language == "" {
		config.Language = "por"
	}
	if config.EncodingMarkers == nil {
		config.EncodingMarkers = []string{"(cid:", "\uFFFD"}
	}
	if config.ScratchDir == "" {
		config.ScratchDir = os.TempDir()
	}
	if config.MaxOCRWorkers <= 0 {
		config.MaxOCRWorkers = runtime.NumCPU()
	}
	if config.Layout == nil {
		config.Layout = PDFLayoutReader{}
	}
	if config.Plain == nil {
		config.Plain = LoaderPlainReader{}
	}
	if config.Rasterizer == nil {
		config.Rasterizer = FitzRasterizer{}
	}
	if config.Recognizer == nil {
		config.Recognizer = TesseractRecognizer{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	var markers []string
	for _, m := range config.EncodingMarkers {
		if m != "" {
			markers = append(markers, m)
		}
	}

	return &Extractor{
		config:   config,
		markers:  ahocorasick.NewStringMatcher(markers),
		ocrSlots: semaphore.NewWeighted(int64(config.MaxOCRWorkers)),
	}
}

// Extract returns the text of doc and its provenance. Rejected tiers are
// reported in Attempts; an error is returned only when the OCR tier hits an
// I/O fault.
func (e *Extractor) Extract(ctx context.Context, doc models.SourceDocument) (models.ExtractedText, error) {
	tiers := []struct {
		tier models.Tier
		read func(context.Context, string) (string, error)
	}{
		{models.TierLayout, e.config.Layout.FirstPage},
		{models.TierPlain, e.config.Plain.Text},
	}

	var attempts []models.TierAttempt
	for _, t := range tiers {
		text, err := guarded(func() (string, error) { return t.read(ctx, doc.Path) })
		attempt := e.judge(t.tier, text, err)
		attempts = append(attempts, attempt)

		if attempt.Accepted {
			metrics.ExtractionTier.WithLabelValues(string(t.tier)).Inc()
			return models.ExtractedText{
				Text:       text,
				Provenance: models.Structured,
				Tier:       t.tier,
				Attempts:   attempts,
			}, nil
		}

		metrics.TierRejections.WithLabelValues(string(t.tier), attempt.Reason).Inc()
		e.config.Logger.Debug("extraction tier rejected",
			slog.String("document", filepath.Base(doc.Path)),
			slog.String("tier", string(t.tier)),
			slog.String("reason", attempt.Reason),
			slog.Any("error", err))
	}

	e.config.Logger.Info("using OCR", slog.String("document", filepath.Base(doc.Path)))
	metrics.ExtractionTier.WithLabelValues(string(models.TierOCR)).Inc()

	text, err := guarded(func() (string, error) { return e.recognize(ctx, doc.Path) })
	attempts = append(attempts, models.TierAttempt{Tier: models.TierOCR, Accepted: err == nil, Err: err})

	result := models.ExtractedText{
		Text:       text,
		Provenance: models.OCR,
		Tier:       models.TierOCR,
		Attempts:   attempts,
	}
	if err != nil {
		return result, fmt.Errorf("ocr %s: %w", filepath.Base(doc.Path), err)
	}
	return result, nil
}

func (e *Extractor) judge(tier models.Tier, text string, err error) models.TierAttempt {
	attempt := models.TierAttempt{Tier: tier, Err: err}
	switch {
	case err != nil:
		attempt.Reason = ReasonError
	case strings.TrimSpace(text) == "":
		attempt.Reason = ReasonEmpty
	case e.hasEncodingMarker(text):
		attempt.Reason = ReasonEncodingMarker
	default:
		attempt.Accepted = true
	}
	return attempt
}

func (e *Extractor) hasEncodingMarker(text string) bool {
	return len(e.markers.MatchThreadSafe([]byte(text))) > 0
}

// recognize runs the OCR tier inside a scratch directory owned by this call.
func (e *Extractor) recognize(ctx context.Context, path string) (string, error) {
	if err := e.ocrSlots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.ocrSlots.Release(1)

	if err := e.ensureScratchRoot(); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(e.config.ScratchDir, "ocr-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.config.Logger.Warn("failed to remove scratch dir", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	pages, err := e.config.Rasterizer.Rasterize(ctx, path, e.config.DPI, dir)
	if err != nil {
		return "", fmt.Errorf("rasterize: %w", err)
	}

	var sb strings.Builder
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := e.config.Recognizer.Recognize(ctx, page, e.config.Language)
		if err != nil {
			return "", fmt.Errorf("recognize %s: %w", filepath.Base(page), err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (e *Extractor) ensureScratchRoot() error {
	e.rootOnce.Do(func() {
		if _, err := os.Stat(e.config.ScratchDir); err == nil {
			return
		}
		if err := os.MkdirAll(e.config.ScratchDir, 0o755); err != nil {
			e.rootErr = fmt.Errorf("create scratch root: %w", err)
			return
		}
		e.rootCreated = true
	})
	return e.rootErr
}

// Close removes the scratch root if this extractor created it and it is
// empty.
func (e *Extractor) Close() error {
	if !e.rootCreated {
		return nil
	}
	if err := os.Remove(e.config.ScratchDir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// guarded turns a panic inside a PDF library into an error.
func guarded(fn func() (string, error)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
