package ocr

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/config"
)

type stubPDF struct {
	text    string
	pages   int
	textErr error
}

func (s *stubPDF) Text(string) (string, int, error) {
	return s.text, s.pages, s.textErr
}

func (s *stubPDF) RenderPage(string, int, float64) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 10, 10)), nil
}

type stubLocal struct {
	text       string
	confidence float64
}

func (s *stubLocal) Recognize(context.Context, image.Image) (string, float64, error) {
	return s.text, s.confidence, nil
}

type stubCloud struct {
	result *Result
	calls  int
}

func (s *stubCloud) DetectLines(context.Context, []byte) (*Result, error) {
	s.calls++
	return s.result, nil
}

func testOCRConfig() config.OCRConfig {
	return config.OCRConfig{
		TesseractLanguage:    "eng",
		TesseractMinConf:     0.96,
		TextractEnabled:      true,
		RenderDPI:            300,
		PDFTextMinChars:      50,
		PDFTextMinTokens:     10,
		NormalizedMaxPixels:  800,
		NormalizedJPEGQual:   90,
		TranscodeJPEGQuality: 95,
	}
}

func writeTempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0o644))
	return path
}

func TestEngineUsesEmbeddedPDFText(t *testing.T) {
	embedded := strings.Repeat("INVOICE LINE ITEM TOTAL ", 5)
	pdf := &stubPDF{text: embedded, pages: 2}
	cloud := &stubCloud{result: &Result{Text: "cloud", Confidence: 0.99}}
	e := NewEngine(testOCRConfig(), pdf, &stubLocal{confidence: 0.5}, cloud, zap.NewNop())

	result, err := e.Extract(context.Background(), writeTempFile(t, "invoice.pdf"))
	require.NoError(t, err)

	assert.Equal(t, MethodPDFText, result.Method)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, 2, result.PageCount)
	assert.Zero(t, cloud.calls, "embedded text must not trigger cloud OCR")
}

func TestEngineRejectsThinEmbeddedText(t *testing.T) {
	// plenty of characters but too few tokens: scanner noise
	pdf := &stubPDF{text: strings.Repeat("x", 80), pages: 1}
	local := &stubLocal{text: "scanned text", confidence: 0.97}
	e := NewEngine(testOCRConfig(), pdf, local, &stubCloud{}, zap.NewNop())

	result, err := e.Extract(context.Background(), writeTempFile(t, "scan.pdf"))
	require.NoError(t, err)

	assert.Equal(t, MethodTesseract, result.Method)
	assert.Equal(t, 0.97, result.Confidence)
}

func TestEngineFallsBackToCloudOnLowLocalConfidence(t *testing.T) {
	pdf := &stubPDF{text: "", pages: 1}
	local := &stubLocal{text: "garbled", confidence: 0.71}
	cloud := &stubCloud{result: &Result{Text: "clean text", Confidence: 0.98}}
	e := NewEngine(testOCRConfig(), pdf, local, cloud, zap.NewNop())

	result, err := e.Extract(context.Background(), writeTempFile(t, "scan.pdf"))
	require.NoError(t, err)

	assert.Equal(t, MethodTextractFallback, result.Method)
	assert.Equal(t, "clean text", result.Text)
	assert.Equal(t, 1, cloud.calls)
}

func TestEngineKeepsLowConfidenceTextWhenCloudDisabled(t *testing.T) {
	cfg := testOCRConfig()
	cfg.TextractEnabled = false

	pdf := &stubPDF{text: "", pages: 1}
	local := &stubLocal{text: "garbled", confidence: 0.71}
	e := NewEngine(cfg, pdf, local, nil, zap.NewNop())

	result, err := e.Extract(context.Background(), writeTempFile(t, "scan.pdf"))
	require.NoError(t, err)

	assert.Equal(t, MethodTesseractLow, result.Method)
	assert.Equal(t, 0.71, result.Confidence)
}

func TestEngineRejectsImagesWithoutCloud(t *testing.T) {
	cfg := testOCRConfig()
	cfg.TextractEnabled = false
	e := NewEngine(cfg, &stubPDF{}, &stubLocal{}, nil, zap.NewNop())

	_, err := e.Extract(context.Background(), writeTempFile(t, "photo.jpg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud OCR is required")
}

func TestEngineSendsImagesToCloud(t *testing.T) {
	cloud := &stubCloud{result: &Result{
		Text:       "MACQUARRIES PHARMASAVE\nTOTAL $21.62",
		Confidence: 0.97,
		Lines: []Line{
			{Text: "MACQUARRIES PHARMASAVE", Confidence: 0.99},
			{Text: "TOTAL $21.62", Confidence: 0.95},
		},
	}}
	e := NewEngine(testOCRConfig(), &stubPDF{}, nil, cloud, zap.NewNop())

	result, err := e.Extract(context.Background(), writeTempFile(t, "photo.png"))
	require.NoError(t, err)

	assert.Equal(t, MethodTextract, result.Method)
	assert.Equal(t, 1, result.PageCount)
	assert.Len(t, result.Lines, 2)
}

func TestEngineRejectsUnknownExtensions(t *testing.T) {
	e := NewEngine(testOCRConfig(), &stubPDF{}, nil, &stubCloud{}, zap.NewNop())

	_, err := e.Extract(context.Background(), writeTempFile(t, "notes.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}
