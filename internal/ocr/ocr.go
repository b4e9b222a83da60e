// Package ocr extracts text from receipt files. Images always go to cloud
// OCR; PDFs try embedded text first, then local Tesseract, then cloud.
// Bad OCR creates more work than it saves, so the thresholds here are
// deliberately strict.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/config"
	"github.com/curlys/curlys-books/internal/models"
)

// Extraction methods recorded on the receipt
const (
	MethodPDFText          = "pdf_text_extraction"
	MethodTesseract        = "tesseract"
	MethodTesseractLow     = "tesseract_low_confidence"
	MethodTextract         = "textract"
	MethodTextractFallback = "textract_fallback"
)

// Line is one detected text line with its location on the page
type Line struct {
	Text       string             `json:"text"`
	Confidence float64            `json:"confidence"`
	Box        models.BoundingBox `json:"box"`
}

// Result is the outcome of text extraction for one file
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0..1
	PageCount  int     `json:"page_count"`
	Method     string  `json:"method"`
	Lines      []Line  `json:"lines,omitempty"`
}

// LocalProvider runs OCR on-box, without per-call cost
type LocalProvider interface {
	Recognize(ctx context.Context, img image.Image) (text string, confidence float64, err error)
}

// CloudProvider runs OCR remotely and returns line geometry
type CloudProvider interface {
	DetectLines(ctx context.Context, imageBytes []byte) (*Result, error)
}

// PDFConverter reads embedded PDF text and renders pages to images
type PDFConverter interface {
	Text(path string) (text string, pages int, err error)
	RenderPage(path string, page int, dpi float64) (image.Image, error)
}

// Engine picks the extraction strategy per file type
type Engine struct {
	cfg    config.OCRConfig
	pdf    PDFConverter
	local  LocalProvider
	cloud  CloudProvider
	logger *zap.Logger
}

// NewEngine creates an OCR engine. local and cloud may be nil when the
// corresponding provider is not configured; the strategy degrades
// accordingly.
func NewEngine(cfg config.OCRConfig, pdf PDFConverter, local LocalProvider, cloud CloudProvider, logger *zap.Logger) *Engine {
	if !cfg.TextractEnabled || cloud == nil {
		logger.Warn("Cloud OCR disabled, image receipts will fail")
	}
	return &Engine{cfg: cfg, pdf: pdf, local: local, cloud: cloud, logger: logger}
}

// Extract runs the OCR strategy appropriate for the file type
func (e *Engine) Extract(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat receipt file: %w", err)
	}

	e.logger.Info("Starting OCR extraction",
		zap.String("file", path),
		zap.Int64("size_bytes", info.Size()))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return e.extractFromPDF(ctx, path)
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp", ".heic", ".heif":
		return e.extractFromImage(ctx, path, ext)
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
}

// extractFromImage sends the image to cloud OCR. Local OCR on phone photos
// rarely clears 80% confidence, which floods the review queue, so images
// are cloud-only.
func (e *Engine) extractFromImage(ctx context.Context, path, ext string) (*Result, error) {
	if !e.cloudAvailable() {
		return nil, fmt.Errorf("cloud OCR is required for image files but is disabled")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	if ext == ".heic" || ext == ".heif" {
		e.logger.Info("Transcoding HEIC to JPEG", zap.String("file", path))
		data, err = TranscodeHEIC(bytes.NewReader(data), e.cfg.TranscodeJPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("failed to transcode HEIC: %w", err)
		}
	}

	result, err := e.cloud.DetectLines(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("cloud OCR failed: %w", err)
	}
	result.Method = MethodTextract
	result.PageCount = 1

	e.logger.Info("Cloud OCR complete",
		zap.Int("chars", len(result.Text)),
		zap.Int("lines", len(result.Lines)),
		zap.Float64("confidence", result.Confidence))

	return result, nil
}

// extractFromPDF walks the strategy ladder: embedded text, then local OCR
// on rendered pages, then cloud OCR on page one.
func (e *Engine) extractFromPDF(ctx context.Context, path string) (*Result, error) {
	text, pages, err := e.pdf.Text(path)
	if err != nil {
		e.logger.Warn("PDF text extraction failed, falling back to OCR", zap.Error(err))
	} else if e.textIsUsable(text) {
		e.logger.Info("PDF has embedded text",
			zap.Int("pages", pages),
			zap.Int("chars", len(text)))
		return &Result{
			Text:       text,
			Confidence: 1.0, // embedded text, not OCR
			PageCount:  pages,
			Method:     MethodPDFText,
		}, nil
	}

	result, err := e.localOCRPages(ctx, path, pages)
	if err != nil {
		e.logger.Warn("Local OCR failed", zap.Error(err))
	} else if result.Confidence >= e.cfg.TesseractMinConf {
		e.logger.Info("Local OCR confidence acceptable",
			zap.Float64("confidence", result.Confidence),
			zap.Float64("threshold", e.cfg.TesseractMinConf))
		return result, nil
	} else {
		e.logger.Warn("Local OCR confidence too low",
			zap.Float64("confidence", result.Confidence),
			zap.Float64("threshold", e.cfg.TesseractMinConf))
	}

	if !e.cloudAvailable() {
		if result != nil {
			// best available text, caller decides what to do with it
			result.Method = MethodTesseractLow
			return result, nil
		}
		return nil, fmt.Errorf("failed to OCR scanned PDF and cloud OCR is disabled")
	}

	return e.cloudOCRFirstPage(ctx, path)
}

func (e *Engine) localOCRPages(ctx context.Context, path string, pages int) (*Result, error) {
	if e.local == nil {
		return nil, fmt.Errorf("local OCR provider not configured")
	}
	if pages < 1 {
		pages = 1
	}

	var texts []string
	confidenceSum := 0.0

	for page := 0; page < pages; page++ {
		img, err := e.pdf.RenderPage(path, page, float64(e.cfg.RenderDPI))
		if err != nil {
			return nil, fmt.Errorf("failed to render PDF page %d: %w", page+1, err)
		}

		text, confidence, err := e.local.Recognize(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("local OCR failed on page %d: %w", page+1, err)
		}

		e.logger.Info("Local OCR page complete",
			zap.Int("page", page+1),
			zap.Float64("confidence", confidence))

		texts = append(texts, text)
		confidenceSum += confidence
	}

	return &Result{
		Text:       strings.Join(texts, "\n\n--- PAGE BREAK ---\n\n"),
		Confidence: confidenceSum / float64(pages),
		PageCount:  pages,
		Method:     MethodTesseract,
	}, nil
}

// cloudOCRFirstPage renders page one and sends it to cloud OCR.
// TODO: multi-page scanned PDFs only get page one; extend once a real
// multi-page scanned invoice shows up.
func (e *Engine) cloudOCRFirstPage(ctx context.Context, path string) (*Result, error) {
	img, err := e.pdf.RenderPage(path, 0, float64(e.cfg.RenderDPI))
	if err != nil {
		return nil, fmt.Errorf("failed to render PDF page 1: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode rendered page: %w", err)
	}

	result, err := e.cloud.DetectLines(ctx, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cloud OCR failed: %w", err)
	}
	result.Method = MethodTextractFallback
	result.PageCount = 1

	e.logger.Info("Cloud OCR fallback complete",
		zap.Int("chars", len(result.Text)),
		zap.Float64("confidence", result.Confidence))

	return result, nil
}

// textIsUsable checks the embedded text is more than scanner noise
func (e *Engine) textIsUsable(text string) bool {
	chars := len(strings.Join(strings.Fields(text), ""))
	tokens := len(strings.Fields(text))
	return chars >= e.cfg.PDFTextMinChars && tokens >= e.cfg.PDFTextMinTokens
}

func (e *Engine) cloudAvailable() bool {
	return e.cfg.TextractEnabled && e.cloud != nil
}
