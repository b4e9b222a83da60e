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

// SuperstoreParser handles Atlantic Superstore thermal receipts. These are
// the worst OCR inputs in the pile: prices come through as "9.9E",
// quantities hide in a "(2)" prefix glued to the UPC, and tax flags are a
// letter cluster like HMRJ where H means HST applies.
type SuperstoreParser struct {
	hstRate decimal.Decimal
	logger  *zap.Logger
}

// NewSuperstoreParser creates an Atlantic Superstore receipt parser
func NewSuperstoreParser(hstRate decimal.Decimal, logger *zap.Logger) *SuperstoreParser {
	return &SuperstoreParser{hstRate: hstRate, logger: logger}
}

var (
	superstoreBrandLineRe = regexp.MustCompile(`\d{11,13}\s+(NN|PC|BM)`)

	// (qty)UPC  BRAND DESCRIPTION  TAXCODE  PRICE[E]
	superstoreLineRe = regexp.MustCompile(`(?m)(?:\((\d+)\))?\s*(\d{11,13})\s+(.*?)\s+(H?M?R?J?)\s+([\d.]+)([E9]?)\s*$`)

	superstoreDateISORe = regexp.MustCompile(`(\d{4})[/-](\d{2})[/-](\d{2})`)
	superstoreDateUSRe  = regexp.MustCompile(`(\d{2})[/-](\d{2})[/-](\d{4})`)
	superstoreTxnRe     = regexp.MustCompile(`(?i)(?:TRANS|TXN|REG)[\s#:]*(\d+)`)
	superstoreSubRe     = regexp.MustCompile(`(?i)SUBTOTAL\s+\$?([\d,]+\.?\d{2})`)
	superstoreTaxRe     = regexp.MustCompile(`(?i)(?:HST|TAX|GST)\s+\$?([\d,]+\.?\d{2})`)
	superstoreTotalRe   = regexp.MustCompile(`(?i)TOTAL\s+\$?([\d,]+\.?\d{2})`)
)

func (p *SuperstoreParser) Name() string { return "superstore" }

// Detect looks for Superstore/Loblaws branding or long UPCs followed by
// house-brand codes
func (p *SuperstoreParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	if containsAny(upper, "ATLANTIC SUPERSTORE", "SUPERSTORE", "LOBLAWS") {
		return true
	}
	return superstoreBrandLineRe.MatchString(text)
}

// Parse extracts a normalized receipt from a Superstore receipt
func (p *SuperstoreParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing Superstore receipt", zap.String("entity", string(entity)))

	purchaseDate, err := p.extractDate(text)
	if err != nil {
		return nil, err
	}

	transactionNumber := "UNKNOWN"
	if m := superstoreTxnRe.FindStringSubmatch(text); m != nil {
		transactionNumber = m[1]
	}

	subtotal, _ := ExtractAmount(text, superstoreSubRe)
	taxTotal, _ := ExtractAmount(text, superstoreTaxRe)
	total, ok := ExtractAmount(text, superstoreTotalRe)
	if !ok {
		return nil, fmt.Errorf("failed to extract Superstore total")
	}

	var lines []models.ReceiptLine
	for _, m := range superstoreLineRe.FindAllStringSubmatch(text, -1) {
		qtyStr := m[1]
		if qtyStr == "" {
			qtyStr = "1"
		}
		sku := m[2]
		descRaw := strings.TrimSpace(m[3])
		taxCode := m[4]
		priceRaw := m[5]
		priceSuffix := m[6]

		// OCR drops the final 9 and reads it as E: "10.9E" is really 10.99
		if priceSuffix == "E" || priceSuffix == "9" {
			priceRaw += "9"
		}

		lineTotal, err := decimal.NewFromString(priceRaw)
		if err != nil {
			p.logger.Warn("Failed to parse Superstore line", zap.String("line", m[0]), zap.Error(err))
			continue
		}
		quantity, err := decimal.NewFromString(qtyStr)
		if err != nil || quantity.IsZero() {
			quantity = decimal.NewFromInt(1)
		}
		unitPrice := lineTotal.Div(quantity)

		taxFlag := models.TaxExempt
		lineTax := decimal.Zero
		if strings.Contains(taxCode, "H") {
			taxFlag = models.TaxTaxable
			lineTax = lineTotal.Mul(p.hstRate)
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineItem,
			RawText:         strings.TrimSpace(m[0]),
			VendorSKU:       sku,
			ItemDescription: CleanDescription(descRaw),
			Quantity:        quantity,
			UnitPrice:       unitPrice,
			LineTotal:       lineTotal,
			TaxFlag:         taxFlag,
			TaxAmount:       lineTax,
			AccountCode:     "5010",
		})
	}

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   "Atlantic Superstore",
		PurchaseDate:  purchaseDate,
		InvoiceNumber: transactionNumber,
		Currency:      "CAD",
		Subtotal:      subtotal,
		TaxTotal:      taxTotal,
		Total:         total,
		Lines:         lines,
		IsBill:        false,
		ParserName:    p.Name(),
		Confidence:    0.85, // thermal paper, trust accordingly
	}

	if w := ReconcileSubtotal(lines, subtotal); w != nil {
		receipt.Warnings = append(receipt.Warnings, *w)
	}

	p.logger.Info("Superstore receipt parsed",
		zap.String("transaction", transactionNumber),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

func (p *SuperstoreParser) extractDate(text string) (time.Time, error) {
	if m := superstoreDateISORe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("2006-01-02", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])); err == nil {
			return d, nil
		}
	}
	if m := superstoreDateUSRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("01/02/2006", fmt.Sprintf("%s/%s/%s", m[1], m[2], m[3])); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to extract Superstore purchase date")
}
