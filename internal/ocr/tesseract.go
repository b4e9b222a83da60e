package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

// Tesseract is the local OCR provider. Free per call, but only good
// enough for clean scans; the engine enforces the confidence threshold.
type Tesseract struct {
	language string
	logger   *zap.Logger
}

// NewTesseract creates a local Tesseract provider
func NewTesseract(language string, logger *zap.Logger) *Tesseract {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{language: language, logger: logger}
}

// Recognize runs Tesseract over a rendered page and reports the mean
// text-line confidence in 0..1
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", 0, fmt.Errorf("failed to encode page for tesseract: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return "", 0, fmt.Errorf("failed to set tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", 0, fmt.Errorf("failed to load image into tesseract: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("tesseract recognition failed: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read tesseract confidences: %w", err)
	}

	confidenceSum := 0.0
	counted := 0
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		confidenceSum += box.Confidence
		counted++
	}

	confidence := 0.0
	if counted > 0 {
		confidence = confidenceSum / float64(counted) / 100
	}

	t.logger.Debug("Tesseract page recognized",
		zap.Int("lines", counted),
		zap.Float64("confidence", confidence))

	return text, confidence, nil
}
