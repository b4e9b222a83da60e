package ocr

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"

	"github.com/curlys/curlys-books/internal/models"
)

// cropPadding grows the cropped line region by 5% of the page on each
// side so the reviewer sees a little context around the line
const cropPadding = 0.05

// TranscodeHEIC converts an iPhone HEIC photo to JPEG. Textract does not
// accept HEIC.
func TranscodeHEIC(r io.Reader, quality int) ([]byte, error) {
	img, err := goheif.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode HEIC: %w", err)
	}
	return encodeJPEG(img, quality)
}

// Normalize shrinks an image for the review UI: longest side capped,
// re-encoded as JPEG. Originals stay untouched in object storage.
func Normalize(img image.Image, maxPixels, quality int) ([]byte, error) {
	bounds := img.Bounds()
	if bounds.Dx() > maxPixels || bounds.Dy() > maxPixels {
		img = imaging.Fit(img, maxPixels, maxPixels, imaging.Lanczos)
	}
	return encodeJPEG(img, quality)
}

// Thumbnail produces a small square crop for list views
func Thumbnail(img image.Image, size, quality int) ([]byte, error) {
	return encodeJPEG(imaging.Thumbnail(img, size, size, imaging.Lanczos), quality)
}

// CropLineRegion cuts the union of the given bounding boxes out of the
// page image, padded so the line is not flush against the edge. Boxes are
// page fractions; the crop is pixel space.
func CropLineRegion(img image.Image, boxes []models.BoundingBox, quality int) ([]byte, error) {
	if len(boxes) == 0 {
		return nil, fmt.Errorf("no bounding boxes to crop")
	}

	left, top := 1.0, 1.0
	right, bottom := 0.0, 0.0
	for _, b := range boxes {
		left = min(left, b.Left)
		top = min(top, b.Top)
		right = max(right, b.Left+b.Width)
		bottom = max(bottom, b.Top+b.Height)
	}

	left = clamp01(left - cropPadding)
	top = clamp01(top - cropPadding)
	right = clamp01(right + cropPadding)
	bottom = clamp01(bottom + cropPadding)

	bounds := img.Bounds()
	rect := image.Rect(
		bounds.Min.X+int(left*float64(bounds.Dx())),
		bounds.Min.Y+int(top*float64(bounds.Dy())),
		bounds.Min.X+int(right*float64(bounds.Dx())),
		bounds.Min.Y+int(bottom*float64(bounds.Dy())),
	)
	if rect.Empty() {
		return nil, fmt.Errorf("bounding boxes produce an empty crop region")
	}

	return encodeJPEG(imaging.Crop(img, rect), quality)
}

// DecodeImage reads any supported raster format
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
