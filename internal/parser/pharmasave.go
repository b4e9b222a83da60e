package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

// PharmasaveParser handles MacQuarries Pharmasave (Amherst) receipts.
// Line amounts carry an EN/TN/TY suffix: TN and TY are HST taxable, EN is
// zero-rated grocery. Deposits become fee lines. When items fade off the
// thermal paper the gap is reported as a subtotal warning, not invented
// as a placeholder line.
type PharmasaveParser struct {
	logger *zap.Logger
}

// NewPharmasaveParser creates a Pharmasave receipt parser
func NewPharmasaveParser(logger *zap.Logger) *PharmasaveParser {
	return &PharmasaveParser{logger: logger}
}

var (
	pharmasaveIndicators = []*regexp.Regexp{
		regexp.MustCompile(`MACQUARRIES\s+PHARMASAVE`),
		regexp.MustCompile(`PHARMASAVE\s+AMHERST`),
		regexp.MustCompile(`158\s+ROBERT\s+ANGUS`),
		regexp.MustCompile(`HST\s+NO.*865378210`),
	}

	pharmasaveReceiptRe = regexp.MustCompile(`(?i)Receipt:\s*([A-Z0-9]+)`)
	pharmasaveDateRe    = regexp.MustCompile(`(?i)Date:\s*\w+\s+(\w+)\s+(\d{1,2}),\s+(\d{4})`)

	// SUB TOTAL and TOTAL need telling apart; Go has no lookbehind so both
	// variants are captured and filtered below
	pharmasaveTotalRe    = regexp.MustCompile(`(?i)(SUB\s+)?TOTAL\s+\$([0-9,.]+)`)
	pharmasaveSubtotalRe = regexp.MustCompile(`(?i)SUB\s+TOTAL\s+([0-9,.]+)`)
	pharmasaveHSTRe      = regexp.MustCompile(`(?i)HST\s*\([0-9]+\)\s+([0-9,.]+)`)

	// QTY ITEM# DESCRIPTION AMOUNT+flag, and the faded variant without QTY
	pharmasaveLineQtyRe   = regexp.MustCompile(`(?m)^\s*(\d+)\s+(\d{5,})\s+(.+?)\s+([0-9.]+)\s*(EN|TN|TY)\s*$`)
	pharmasaveLineNoQtyRe = regexp.MustCompile(`(?m)^\s*(\d{5,})\s+(.+?)\s+([0-9.]+)\s*(EN|TN|TY)\s*$`)
)

func (p *PharmasaveParser) Name() string { return "pharmasave" }

// Detect looks for MacQuarries Pharmasave indicators, including their
// street address and HST registration number
func (p *PharmasaveParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	for _, re := range pharmasaveIndicators {
		if re.MatchString(upper) {
			return true
		}
	}
	return false
}

// Parse extracts a normalized receipt from a Pharmasave receipt
func (p *PharmasaveParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing Pharmasave receipt", zap.String("entity", string(entity)))

	var receiptNumber string
	if m := pharmasaveReceiptRe.FindStringSubmatch(text); m != nil {
		receiptNumber = m[1]
	}

	purchaseDate := time.Now().UTC()
	if m := pharmasaveDateRe.FindStringSubmatch(text); m != nil {
		// e.g. "Date: Sat Oct 04, 2025, 2:56:55 PM"
		if d, err := time.Parse("Jan 2 2006", fmt.Sprintf("%s %s %s", m[1], m[2], m[3])); err == nil {
			purchaseDate = d
		} else {
			p.logger.Warn("Failed to parse Pharmasave date", zap.String("raw", m[0]))
		}
	}

	total := decimal.Zero
	for _, m := range pharmasaveTotalRe.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			continue // that was SUB TOTAL
		}
		if amt, err := NormalizePrice(m[2]); err == nil {
			total = amt
			break
		}
	}

	subtotal, _ := ExtractAmount(text, pharmasaveSubtotalRe)
	hst, _ := ExtractAmount(text, pharmasaveHSTRe)

	lines := p.extractLines(text)

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   "MacQuarries Pharmasave",
		PurchaseDate:  purchaseDate,
		InvoiceNumber: receiptNumber,
		Currency:      "CAD",
		Subtotal:      subtotal,
		TaxTotal:      hst,
		Total:         total,
		Lines:         lines,
		IsBill:        false,
		ParserName:    p.Name(),
		Confidence:    0.9,
	}

	if w := ReconcileSubtotal(lines, subtotal); w != nil {
		receipt.Warnings = append(receipt.Warnings, *w)
	}

	p.logger.Info("Pharmasave receipt parsed",
		zap.String("receipt", receiptNumber),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

func (p *PharmasaveParser) extractLines(text string) []models.ReceiptLine {
	var lines []models.ReceiptLine

	appendLine := func(raw, sku, desc, amountStr, flag string, qty decimal.Decimal) {
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			p.logger.Warn("Failed to parse Pharmasave line", zap.String("line", raw), zap.Error(err))
			return
		}

		taxFlag := models.TaxZeroRated // EN, zero-rated groceries
		if flag == "TN" || flag == "TY" {
			taxFlag = models.TaxTaxable
		}

		// Deposits are expenses but not COGS
		lineType := models.LineItem
		if strings.Contains(strings.ToUpper(desc), "DEPOSIT") {
			lineType = models.LineFee
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        lineType,
			RawText:         strings.TrimSpace(raw),
			VendorSKU:       sku,
			ItemDescription: CleanDescription(desc),
			Quantity:        qty,
			UnitPrice:       amount, // receipt shows line total, not unit price
			LineTotal:       amount,
			TaxFlag:         taxFlag,
		})
	}

	for _, m := range pharmasaveLineQtyRe.FindAllStringSubmatch(text, -1) {
		qty, err := decimal.NewFromString(m[1])
		if err != nil {
			qty = decimal.NewFromInt(1)
		}
		appendLine(m[0], m[2], m[3], m[4], m[5], qty)
	}

	// Faded receipts drop the quantity column; assume one of each
	if len(lines) == 0 {
		for _, m := range pharmasaveLineNoQtyRe.FindAllStringSubmatch(text, -1) {
			appendLine(m[0], m[1], m[2], m[3], m[4], decimal.NewFromInt(1))
		}
	}

	return lines
}
