package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

// GenericParser is the fallback for unknown vendors and faded receipts.
// Detect always returns true, so it must sit last in the dispatcher.
// Everything it produces goes to manual review.
type GenericParser struct {
	hstRate decimal.Decimal
	logger  *zap.Logger
}

// NewGenericParser creates the fallback parser. The HST rate is used to
// back-calculate a subtotal when the receipt only shows a total.
func NewGenericParser(hstRate decimal.Decimal, logger *zap.Logger) *GenericParser {
	return &GenericParser{hstRate: hstRate, logger: logger}
}

var (
	genericVendorRes = []*regexp.Regexp{
		regexp.MustCompile(`([A-Z\s&]+(?:INC|LTD|LLC|CORP|CO)\.?)`),
		regexp.MustCompile(`([A-Z\s&]{3,})\s+(?:RECEIPT|INVOICE)`),
		regexp.MustCompile(`(?:STORE|SHOP|MARKET)[\s:]+([A-Z\s&]+)`),
	}

	genericDateISORe   = regexp.MustCompile(`(\d{4})[/-](\d{2})[/-](\d{2})`)
	genericDateUSRe    = regexp.MustCompile(`(\d{2})[/-](\d{2})[/-](\d{4})`)
	genericDateShortRe = regexp.MustCompile(`(\d{2})[/-](\d{2})[/-](\d{2})`)

	genericInvoiceRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:INVOICE|RECEIPT|ORDER)[\s#:]*(\w+)`),
		regexp.MustCompile(`#\s*(\d+)`),
	}

	genericTotalRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)TOTAL\s+\$?([\d,]+\.?\d{2})`),
		regexp.MustCompile(`(?i)AMOUNT\s+\$?([\d,]+\.?\d{2})`),
		regexp.MustCompile(`(?i)BALANCE\s+\$?([\d,]+\.?\d{2})`),
	}
	genericSubtotalRe = regexp.MustCompile(`(?i)SUBTOTAL\s+\$?([\d,]+\.?\d{2})`)
	genericTaxRes     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:GST|HST|TAX)\s+\$?([\d,]+\.?\d{2})`),
		regexp.MustCompile(`(?i)TAX\s+TOTAL\s+\$?([\d,]+\.?\d{2})`),
	}

	genericItemLineRe = regexp.MustCompile(`^(.+?)\s+\$?([\d,]+\.?\d{2})\s*$`)
)

func (p *GenericParser) Name() string { return "generic" }

// Detect always returns true. The generic parser is the last resort.
func (p *GenericParser) Detect(text string) bool { return true }

// Parse makes a best-effort pass over an unknown receipt format
func (p *GenericParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing with generic fallback",
		zap.String("entity", string(entity)),
		zap.Int("text_length", len(text)))

	vendorGuess := p.guessVendor(text)
	if vendorGuess == "" {
		vendorGuess = "UNKNOWN VENDOR"
	}

	purchaseDate := p.extractDate(text)
	invoiceNumber := p.extractInvoiceNumber(text)
	if invoiceNumber == "" {
		invoiceNumber = "UNKNOWN"
	}

	total := decimal.Zero
	for _, re := range genericTotalRes {
		if amt, ok := ExtractAmount(text, re); ok {
			total = amt
			break
		}
	}

	taxTotal := decimal.Zero
	for _, re := range genericTaxRes {
		if amt, ok := ExtractAmount(text, re); ok {
			taxTotal = amt
			break
		}
	}

	subtotal := decimal.Zero
	if taxTotal.IsPositive() {
		subtotal = total.Sub(taxTotal)
	} else if amt, ok := ExtractAmount(text, genericSubtotalRe); ok {
		subtotal = amt
	}

	// Only a total survived the OCR. Assume HST applied and back it out.
	if subtotal.IsZero() && total.IsPositive() {
		subtotal = total.Div(decimal.NewFromInt(1).Add(p.hstRate)).Round(2)
		taxTotal = total.Sub(subtotal)
	}

	lines := p.extractLines(text)

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   vendorGuess,
		PurchaseDate:  purchaseDate,
		InvoiceNumber: invoiceNumber,
		Currency:      "CAD",
		Subtotal:      subtotal,
		TaxTotal:      taxTotal,
		Total:         total,
		Lines:         lines,
		IsBill:        false,
		ParserName:    p.Name(),
		Confidence:    0.5, // everything from here goes to review
	}

	p.logger.Warn("Generic parser used, receipt requires manual review",
		zap.String("vendor", vendorGuess),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

// guessVendor looks at the first 200 characters for company name patterns
func (p *GenericParser) guessVendor(text string) string {
	header := text
	if len(header) > 200 {
		header = header[:200]
	}
	header = strings.ToUpper(header)

	for _, re := range genericVendorRes {
		if m := re.FindStringSubmatch(header); m != nil {
			vendor := strings.TrimSpace(m[1])
			if len(vendor) > 3 {
				return CleanDescription(vendor)
			}
		}
	}
	return ""
}

func (p *GenericParser) extractDate(text string) time.Time {
	if m := genericDateISORe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			return d
		}
	}
	if m := genericDateUSRe.FindStringSubmatch(text); m != nil {
		// ambiguous MM/DD vs DD/MM; month-first wins when plausible
		layout := "01/02/2006"
		if m[1] > "12" {
			layout = "02/01/2006"
		}
		if d, err := time.Parse(layout, m[1]+"/"+m[2]+"/"+m[3]); err == nil {
			return d
		}
	}
	if m := genericDateShortRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("06-01-02", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			return d
		}
	}
	return time.Now().UTC()
}

func (p *GenericParser) extractInvoiceNumber(text string) string {
	for _, re := range genericInvoiceRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// extractLines finds anything shaped like "description  price" at the end
// of a line, skipping total/tender lines
func (p *GenericParser) extractLines(text string) []models.ReceiptLine {
	var lines []models.ReceiptLine

	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if len(raw) < 5 {
			continue
		}

		m := genericItemLineRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}

		description := strings.TrimSpace(m[1])
		if containsAny(strings.ToUpper(description),
			"TOTAL", "SUBTOTAL", "TAX", "BALANCE", "CASH", "CHANGE") {
			continue
		}

		price, err := NormalizePrice(m[2])
		if err != nil {
			continue
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineItem,
			RawText:         raw,
			ItemDescription: CleanDescription(description),
			Quantity:        decimal.NewFromInt(1),
			UnitPrice:       price,
			LineTotal:       price,
			TaxFlag:         models.TaxUnknown,
			AccountCode:     "5010",
			NeedsReview:     true,
		})
	}

	return lines
}
