// Package storage keeps receipt files in an object store. Keys are
// deterministic from receipt metadata so the same upload always lands in
// the same place.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/curlys/curlys-books/internal/models"
)

// derivative file names under a receipt's prefix
const (
	NameNormalized = "normalized.jpg"
	NameThumbnail  = "thumbnail.jpg"
	NameCropped    = "cropped.jpg"
)

// VendorSlug turns a vendor name into a path segment: lowercase,
// anything non-alphanumeric collapses to a single dash
func VendorSlug(vendor string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(vendor) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "unknown"
	}
	return slug
}

// ReceiptPrefix builds the directory for one receipt:
// {entity}/{vendor-slug}/{YYYY-MM-DD}_{total}
func ReceiptPrefix(entity models.Entity, vendor string, date time.Time, total decimal.Decimal) string {
	return fmt.Sprintf("%s/%s/%s_%s",
		entity, VendorSlug(vendor), date.Format("2006-01-02"), total.StringFixed(2))
}

// OriginalKey is the as-uploaded file, keeping its extension
func OriginalKey(prefix, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return fmt.Sprintf("%s/original.%s", prefix, ext)
}

// NormalizedKey is the resized JPEG used by the review UI
func NormalizedKey(prefix string) string {
	return prefix + "/" + NameNormalized
}

// ThumbnailKey is the square list-view JPEG
func ThumbnailKey(prefix string) string {
	return prefix + "/" + NameThumbnail
}

// CroppedKey is the line-region crop computed on demand
func CroppedKey(prefix string) string {
	return prefix + "/" + NameCropped
}

// IntakeKey is where a file lands before parsing, when vendor and date
// are still unknown. Keyed by content hash so duplicates collide.
func IntakeKey(entity models.Entity, contentHash, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return fmt.Sprintf("%s/intake/%s.%s", entity, contentHash, ext)
}
