// Package parser turns OCR text into normalized receipts. Each vendor has
// its own parser; the dispatcher tries them in a fixed priority order and
// falls back to the generic parser, which always matches.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/curlys/curlys-books/internal/models"
)

// Parser is the contract every vendor parser implements
type Parser interface {
	// Name identifies the parser in logs and in NormalizedReceipt.ParserName
	Name() string

	// Detect reports whether this parser can handle the given OCR text
	Detect(text string) bool

	// Parse extracts structured data from OCR text
	Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error)
}

// subtotalTolerance is the largest acceptable gap between extracted line
// items and the printed subtotal before a receipt is flagged
var subtotalTolerance = decimal.RequireFromString("0.10")

var (
	ocrDigitFixer  = strings.NewReplacer("E", "9", "O", "0", "o", "0")
	whitespaceRe   = regexp.MustCompile(`\s+`)
	currencyJunkRe = regexp.MustCompile(`[$,\s]`)
)

// NormalizePrice cleans OCR artifacts out of a price string and converts it
// to a decimal. Thermal paper receipts commonly misread 9 as E and 0 as O.
// Parentheses or a minus sign mark negative amounts.
func NormalizePrice(s string) (decimal.Decimal, error) {
	s = currencyJunkRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = ocrDigitFixer.Replace(s)

	negative := strings.ContainsAny(s, "-(")
	s = strings.NewReplacer("-", "", "(", "", ")", "").Replace(s)

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price %q: %w", s, err)
	}
	if negative {
		return amount.Neg(), nil
	}
	return amount, nil
}

// ExtractAmount runs a pattern with a single capture group against the text
// and normalizes the captured amount. Returns false when the pattern does
// not match or the capture is unparseable.
func ExtractAmount(text string, re *regexp.Regexp) (decimal.Decimal, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	amount, err := NormalizePrice(m[1])
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

// CleanDescription collapses whitespace and strips common OCR garbage from
// an item description
func CleanDescription(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "|", "I")
	s = strings.ReplaceAll(s, "_", "")
	return strings.TrimSpace(s)
}

// ReconcileSubtotal checks whether extracted lines sum to the printed
// subtotal within ten cents. Items, fees and discounts all contribute to
// the printed subtotal; tax and deposit lines do not. On a mismatch it
// returns a warning for the review UI. It never invents placeholder
// lines: the reviewer sees the bounding boxes and decides what faded off
// the paper.
func ReconcileSubtotal(lines []models.ReceiptLine, subtotal decimal.Decimal) *models.ValidationWarning {
	found := decimal.Zero
	for _, line := range lines {
		switch line.LineType {
		case models.LineItem, models.LineFee, models.LineDiscount:
			found = found.Add(line.LineTotal)
		}
	}

	if subtotal.Sub(found).Abs().GreaterThan(subtotalTolerance) {
		w := models.NewSubtotalMismatchWarning(found, subtotal)
		return &w
	}
	return nil
}

// containsAny reports whether any needle occurs in the uppercased text
func containsAny(textUpper string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(textUpper, n) {
			return true
		}
	}
	return false
}
