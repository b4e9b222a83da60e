package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

// CanadianTireParser handles Canadian Tire POS receipts, including refunds.
// The footer prints TOTAL with spaces between letters ("T O T A L") and
// refunds show every amount negative. Totals are stored as absolute values
// with a parse note, since the books never carry negative receipt totals.
type CanadianTireParser struct {
	logger *zap.Logger
}

// NewCanadianTireParser creates a Canadian Tire receipt parser
func NewCanadianTireParser(logger *zap.Logger) *CanadianTireParser {
	return &CanadianTireParser{logger: logger}
}

var (
	canadianTireIndicators = []*regexp.Regexp{
		regexp.MustCompile(`CANADIAN\s+TIRE`),
		regexp.MustCompile(`CANADIANTIRE\.CA`),
		regexp.MustCompile(`MY\s+CT\s+'?MONEY'?,?\s+ACCOUNT`),
		regexp.MustCompile(`E?CTM\s+REFUND`),
		regexp.MustCompile(`HST\s+REG\.?\s*#\s*\d+`),
	}

	canadianTireTrnRe      = regexp.MustCompile(`(?i)ORIG\s+TRN\s+ID[:\s]*([0-9A-Z]{8,})`)
	canadianTireBarcodeRe  = regexp.MustCompile(`\n\s*([0-9]{12,})\s*\n`)
	canadianTireOrigDateRe = regexp.MustCompile(`(?i)ORIG\s+PURCHASE\s+DATE[:\s]+(\d{1,2})/(\d{1,2})/(\d{2,4})`)
	canadianTireAnyDateRe  = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{2,4})`)

	canadianTireSubtotalRe = regexp.MustCompile(`SUBTOTAL\s+\$\s*([-0-9.,]+)`)
	// requiring "$" after the label keeps "HST REG # 123456" from matching
	canadianTireTaxRe   = regexp.MustCompile(`(?i)(?:\d{1,2}\s*%\s*)?(?:HST|GST|PST|QST)\s+\$\s*([-0-9.,]+)`)
	canadianTireTotalRe = regexp.MustCompile(`(?m)^\s*T\s*O\s*T\s*A\s*L\s+\$\s*([-0-9.,]+)`)

	// "-2X063-0806-4 COUPLING, GARDEN  $ -26.38"
	canadianTireItemRe = regexp.MustCompile(`(?im)^\s*-?\s*(\d+)X([A-Z0-9\-]+)\s+(.+?)\s+\$\s*([-0-9.,]+)\s*$`)

	// per-unit helper lines like "@ $ -13.190 ea" carry no information
	canadianTireUnitLineRe = regexp.MustCompile(`(?im)^\s*@\s*\$\s*[-0-9.,]+\s*ea\.?\s*$`)
)

func (p *CanadianTireParser) Name() string { return "canadian_tire" }

// Detect looks for Canadian Tire branding, CT Money markers, or their
// HST registration footer
func (p *CanadianTireParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	for _, re := range canadianTireIndicators {
		if re.MatchString(upper) {
			return true
		}
	}
	return false
}

// Parse extracts a normalized receipt from a Canadian Tire receipt
func (p *CanadianTireParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing Canadian Tire receipt", zap.String("entity", string(entity)))

	invoiceNumber := p.extractInvoiceNumber(text)
	purchaseDate := p.extractDate(text)

	rawSubtotal, hasSubtotal := ExtractAmount(text, canadianTireSubtotalRe)
	rawTax, hasTax := ExtractAmount(text, canadianTireTaxRe)
	rawTotal, hasTotal := ExtractAmount(text, canadianTireTotalRe)

	isRefund := (hasSubtotal && rawSubtotal.IsNegative()) ||
		(hasTax && rawTax.IsNegative()) ||
		(hasTotal && rawTotal.IsNegative())

	subtotal := rawSubtotal.Abs()
	taxTotal := rawTax.Abs()
	total := rawTotal.Abs()
	if !hasTotal {
		total = subtotal.Add(taxTotal)
	}

	lines := p.extractLines(text)

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   "Canadian Tire",
		PurchaseDate:  purchaseDate,
		InvoiceNumber: invoiceNumber,
		Currency:      "CAD",
		Subtotal:      subtotal,
		TaxTotal:      taxTotal,
		Total:         total,
		Lines:         lines,
		IsBill:        false,
		ParserName:    p.Name(),
		Confidence:    0.85,
	}

	if isRefund {
		receipt.ParseErrors = append(receipt.ParseErrors,
			"Vendor printed this as a REFUND/return; amounts stored as absolute values to satisfy schema.")
	}
	if w := ReconcileSubtotal(lines, subtotal); w != nil {
		receipt.Warnings = append(receipt.Warnings, *w)
	}

	p.logger.Info("Canadian Tire receipt parsed",
		zap.String("invoice", invoiceNumber),
		zap.Int("lines", len(lines)),
		zap.Bool("refund", isRefund),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

func (p *CanadianTireParser) extractInvoiceNumber(text string) string {
	if m := canadianTireTrnRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := canadianTireBarcodeRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func (p *CanadianTireParser) extractDate(text string) time.Time {
	for _, re := range []*regexp.Regexp{canadianTireOrigDateRe, canadianTireAnyDateRe} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		if d, err := time.Parse("1/2/2006", m[1]+"/"+m[2]+"/"+year); err == nil {
			return d
		}
		p.logger.Warn("Failed to parse Canadian Tire date", zap.String("raw", m[0]))
	}
	return time.Now().UTC()
}

func (p *CanadianTireParser) extractLines(text string) []models.ReceiptLine {
	var lines []models.ReceiptLine

	text = canadianTireUnitLineRe.ReplaceAllString(text, "")

	for _, m := range canadianTireItemRe.FindAllStringSubmatch(text, -1) {
		qty, err := decimal.NewFromString(m[1])
		if err != nil {
			qty = decimal.NewFromInt(1)
		}
		sku := strings.TrimSpace(m[2])
		desc := CleanDescription(m[3])

		amount, err := NormalizePrice(m[4])
		if err != nil {
			p.logger.Warn("Failed to parse Canadian Tire line", zap.String("line", m[0]), zap.Error(err))
			continue
		}
		lineTotal := amount.Abs()

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineItem,
			RawText:         strings.TrimSpace(m[0]),
			VendorSKU:       sku,
			ItemDescription: desc,
			Quantity:        qty,
			UnitPrice:       lineTotal, // receipts show line totals
			LineTotal:       lineTotal,
			TaxFlag:         models.TaxTaxable, // retail hardware, HST applies
		})
	}

	return lines
}
