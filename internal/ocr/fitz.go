package ocr

import (
	"fmt"
	"image"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// FitzConverter reads PDFs through MuPDF. It satisfies PDFConverter.
type FitzConverter struct{}

// NewFitzConverter creates a MuPDF-backed PDF converter
func NewFitzConverter() *FitzConverter {
	return &FitzConverter{}
}

// Text extracts the embedded text layer from every page
func (c *FitzConverter) Text(path string) (string, int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	texts := make([]string, 0, pages)
	for page := 0; page < pages; page++ {
		text, err := doc.Text(page)
		if err != nil {
			return "", pages, fmt.Errorf("failed to extract text from page %d: %w", page+1, err)
		}
		texts = append(texts, text)
	}

	return strings.Join(texts, "\n\n--- PAGE BREAK ---\n\n"), pages, nil
}

// RenderPage rasterizes one page at the given DPI
func (c *FitzConverter) RenderPage(path string, page int, dpi float64) (image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page+1, err)
	}
	return img, nil
}
