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

// WalmartParser handles Walmart / Walmart Supercentre receipts. Item lines
// print as DESCRIPTION UPC $AMOUNT TAXCODE; multi-buy promos print as
// negative adjustment lines like "PEPSI 2 FOR $14 006L $7.84-A". Footer
// and payment lines are filtered out before item matching because the
// description pattern is permissive.
type WalmartParser struct {
	logger *zap.Logger
}

// NewWalmartParser creates a Walmart receipt parser
func NewWalmartParser(logger *zap.Logger) *WalmartParser {
	return &WalmartParser{logger: logger}
}

var (
	walmartVendorRes = []*regexp.Regexp{
		regexp.MustCompile(`\bWALMART\b`),
		regexp.MustCompile(`\bWALMART\s+SUPERCENTRE\b`),
		regexp.MustCompile(`SAVE\s+MONEY\.?\s+LIVE\s+BETTER\.?`),
		regexp.MustCompile(`\bTC#\b|\bTR#\b|\bTRANS#\b`),
	}

	walmartSupercentreRe = regexp.MustCompile(`(?i)WALMART\s+SUPERCENTRE`)

	// Footer, payment and metadata lines that must never parse as items
	walmartNonItemRe = regexp.MustCompile(`(?i)^\s*(SUB\s*-?\s*TOTAL|TOTAL\b|CHANGE\b|CASH\b|DEBIT\b|CREDIT\b|VISA\b|MASTERCARD\b|ROUND(ING)?\b|AMOUNT\s+TENDERED|BALANCE\s+DUE|APPROVAL|AID:|RID:|A000|TC|ERMINAL|HST\b|GST\b|PST\b|QST\b|TAX\b|COUPON|SAV(ING|E)S|RETURN|REFUND|NS\s+DEPOSIT|DEPOSIT|MULTI\s+DISCOUNT)`)

	// DESCRIPTION UPC $AMOUNT TAXCODE
	walmartItemRe = regexp.MustCompile(`(?m)^\s*([A-Z][A-Z0-9\s&%/.,()*'#]+?)\s+(\d{12})\s+\$?(\d+\.\d{2})\s*([A-Z0-9])?\s*$`)

	// DESC "2 FOR $14" SIZE $AMOUNT-CODE
	walmartPromoRe = regexp.MustCompile(`(?m)^([A-Z][A-Z0-9\s&]+?)\s+(\d+\s+FOR\s+\$\d+\.?\d{0,2})\s+([\dL]+)\s+\$?(\d+\.\d{2})-([A-Z])\s*$`)

	walmartReceiptNoRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bTC#\s*([0-9\s-]+)`),
		regexp.MustCompile(`(?i)\bTR#\s*([0-9\s-]+)`),
		regexp.MustCompile(`(?i)\bTRANS#?\s*([0-9\s-]+)`),
	}

	walmartDateISORe = regexp.MustCompile(`(20\d{2})[\-/](\d{1,2})[\-/](\d{1,2})`)
	walmartDateUSRe  = regexp.MustCompile(`(\d{1,2})[\-/](\d{1,2})[\-/](20\d{2})`)
	walmartDateYYRe  = regexp.MustCompile(`(\d{1,2})[\-/](\d{1,2})[\-/](\d{2})`)

	walmartSubtotalRe = regexp.MustCompile(`(?i)SUB\s*-?\s*TOTAL\s*[: ]\$?([0-9][0-9,]*\.\d{2})`)
	walmartTotalAmtRe = regexp.MustCompile(`(?i)TOTAL\b\s*[: ]?\s*\$?([0-9][0-9,]*\.\d{2})`)

	walmartFeeKeywords = []string{
		"DEPOSIT", "DEP ", "BOTTLE DEP", "CONTAINER", "CRF", "ECO FEE", "ECOFEE",
		"EHF", "ENV FEE", "ENVIRONMENTAL FEE", "BATTERY FEE",
	}

	walmartZeroRatedKeywords = []string{
		"MILK", "BREAD", "BANANA", "APPLES", "APPLE", "LETTUCE", "CARROT", "EGG",
		"RICE", "FLOUR", "POTATO", "POTATOES", "TOMATO", "TOMATOES", "ONION",
		"ONIONS", "CUCUMBER",
	}
)

func (p *WalmartParser) Name() string { return "walmart" }

// Detect looks for Walmart branding, their slogan, or TC#/TR# markers
func (p *WalmartParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	for _, re := range walmartVendorRes {
		if re.MatchString(upper) {
			return true
		}
	}
	return false
}

// Parse extracts a normalized receipt from a Walmart receipt
func (p *WalmartParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing Walmart receipt", zap.String("entity", string(entity)))

	purchaseDate := p.extractDate(text)
	receiptNumber := p.extractReceiptNumber(text)

	subtotal, _ := ExtractAmount(text, walmartSubtotalRe)
	taxTotal := p.extractTaxTotal(text, subtotal)
	total, hasTotal := p.extractTotal(text)
	if !hasTotal {
		total = subtotal.Add(taxTotal)
	}

	lines := p.extractLines(text)

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   p.vendorName(text),
		PurchaseDate:  purchaseDate,
		InvoiceNumber: receiptNumber,
		Currency:      "CAD",
		Subtotal:      subtotal,
		TaxTotal:      taxTotal,
		Total:         total,
		Lines:         lines,
		IsBill:        false,
		ParserName:    p.Name(),
		Confidence:    0.9,
	}

	if w := ReconcileSubtotal(lines, subtotal); w != nil {
		receipt.Warnings = append(receipt.Warnings, *w)
	}

	p.logger.Info("Walmart receipt parsed",
		zap.String("receipt", receiptNumber),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

func (p *WalmartParser) vendorName(text string) string {
	if walmartSupercentreRe.MatchString(text) {
		return "Walmart Supercentre"
	}
	return "Walmart"
}

func (p *WalmartParser) extractReceiptNumber(text string) string {
	for _, re := range walmartReceiptNoRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func (p *WalmartParser) extractDate(text string) time.Time {
	if m := walmartDateISORe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])); err == nil {
			return d
		}
	}
	for _, re := range []*regexp.Regexp{walmartDateUSRe, walmartDateYYRe} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		month, day := m[1], m[2]
		// Flip when the first field can only be a day
		if len(month) > 0 && month > "12" && day <= "12" {
			month, day = day, month
		}
		if d, err := time.Parse("1-2-2006", fmt.Sprintf("%s-%s-%s", month, day, year)); err == nil {
			return d
		}
	}
	return time.Now().UTC()
}

// extractTotal finds the TOTAL line, skipping SUBTOTAL and TOTAL SAVINGS
func (p *WalmartParser) extractTotal(text string) (decimal.Decimal, bool) {
	for _, line := range strings.Split(text, "\n") {
		upper := strings.ToUpper(line)
		if !strings.Contains(upper, "TOTAL") {
			continue
		}
		if strings.Contains(upper, "SUBTOTAL") || strings.Contains(upper, "SUB TOTAL") ||
			strings.Contains(upper, "SUB-TOTAL") || strings.Contains(upper, "TOTAL SAV") {
			continue
		}
		if amt, ok := ExtractAmount(line, walmartTotalAmtRe); ok {
			return amt, true
		}
	}
	return decimal.Zero, false
}

// extractTaxTotal sums HST/GST/PST/QST dollar amounts. Lines like
// "HST 14.0000 % $13.00" carry both a rate and a dollar figure; only the
// dollar figure counts.
func (p *WalmartParser) extractTaxTotal(text string, subtotal decimal.Decimal) decimal.Decimal {
	taxTotal := decimal.Zero
	for _, label := range []string{"HST", "GST", "PST", "QST"} {
		re := regexp.MustCompile(`(?i)\b` + label + `\b[^$\n]*\$([0-9][0-9,]*\.\d{2})`)
		if amt, ok := ExtractAmount(text, re); ok {
			taxTotal = taxTotal.Add(amt)
		}
	}

	// No explicit tax lines: derive from total minus subtotal
	if taxTotal.IsZero() && !subtotal.IsZero() {
		if total, ok := p.extractTotal(text); ok {
			diff := total.Sub(subtotal)
			if diff.Abs().LessThanOrEqual(decimal.NewFromInt(9999)) {
				taxTotal = diff
			}
		}
	}
	return taxTotal
}

func (p *WalmartParser) extractLines(text string) []models.ReceiptLine {
	var lines []models.ReceiptLine

	for _, m := range walmartItemRe.FindAllStringSubmatch(text, -1) {
		if walmartNonItemRe.MatchString(m[0]) {
			continue
		}

		descRaw := strings.TrimSpace(m[1])
		upc := m[2]
		taxCode := strings.ToUpper(strings.TrimSpace(m[4]))

		if strings.Contains(strings.ToUpper(descRaw), "DEPOSIT") {
			continue
		}

		amount, err := NormalizePrice(m[3])
		if err != nil {
			p.logger.Warn("Failed to parse Walmart line", zap.String("line", m[0]), zap.Error(err))
			continue
		}

		lineType := models.LineItem
		if p.isDepositOrFee(descRaw) {
			lineType = models.LineFee
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        lineType,
			RawText:         strings.TrimSpace(m[0]),
			VendorSKU:       upc,
			ItemDescription: CleanDescription(descRaw),
			Quantity:        decimal.NewFromInt(1),
			UnitPrice:       amount,
			LineTotal:       amount,
			TaxFlag:         p.inferTaxFlag(taxCode, descRaw),
		})
	}

	// Promotional multi-buy adjustments, always negative
	for _, m := range walmartPromoRe.FindAllStringSubmatch(text, -1) {
		descRaw := strings.TrimSpace(m[1])
		promo := strings.TrimSpace(m[2])
		size := strings.TrimSpace(m[3])
		taxCode := strings.ToUpper(strings.TrimSpace(m[5]))

		amount, err := NormalizePrice(m[4])
		if err != nil {
			continue
		}
		amount = amount.Neg()

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineItem,
			RawText:         strings.TrimSpace(m[0]),
			ItemDescription: CleanDescription(fmt.Sprintf("%s (%s %s)", descRaw, promo, size)),
			Quantity:        decimal.NewFromInt(1),
			UnitPrice:       amount,
			LineTotal:       amount,
			TaxFlag:         p.inferTaxFlag(taxCode, descRaw),
		})
	}

	return lines
}

func (p *WalmartParser) isDepositOrFee(desc string) bool {
	upper := strings.ToUpper(desc)
	for _, k := range walmartFeeKeywords {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

func (p *WalmartParser) inferTaxFlag(taxCode, desc string) models.TaxFlag {
	switch taxCode {
	case "T", "A", "B":
		return models.TaxTaxable
	case "E", "Z":
		return models.TaxZeroRated
	}

	upper := strings.ToUpper(desc)
	for _, k := range walmartZeroRatedKeywords {
		if strings.Contains(upper, k) {
			return models.TaxZeroRated
		}
	}
	return models.TaxTaxable // retail default
}
