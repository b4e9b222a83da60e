package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

// GrosnorParser handles Grosnor Distribution invoices: collectibles and
// trading cards for the sports store. Descriptions carry SRP and UPC
// markers that are stripped out, and the configuration field prints as
// (case/inner/unit), e.g. (6/36/10). Freight bills to its own account.
type GrosnorParser struct {
	hstRate decimal.Decimal
	logger  *zap.Logger
}

// NewGrosnorParser creates a Grosnor invoice parser
func NewGrosnorParser(hstRate decimal.Decimal, logger *zap.Logger) *GrosnorParser {
	return &GrosnorParser{hstRate: hstRate, logger: logger}
}

var (
	grosnorConfigRe  = regexp.MustCompile(`\(\d+/\d+/\d+\)`)
	grosnorUPCMarkRe = regexp.MustCompile(`\(UPC\s+\d+\)`)
	grosnorInvoiceRe = regexp.MustCompile(`INVOICE NO\.\s+(\d{6})`)
	grosnorOrderRe   = regexp.MustCompile(`ORDER NO\.\s+(\d{6})`)
	grosnorDateRe    = regexp.MustCompile(`DATE\s+(\d{2}/\d{2}/\d{2})`)
	grosnorTermsRe   = regexp.MustCompile(`TERMS\s+([\w/]+)`)

	// SKU Description (Config) QtyOrd QtyShip QtyBO UOM UnitPrice ExtPrice
	grosnorLineRe = regexp.MustCompile(`([A-Z0-9]+)\s+(.+?)\s+\((\d+/\d+(?:/\d+)?)\)\s+(\d+)\s+(\d+)\s+(\d+)\s+(EA|BX)\s+([\d.]+)\s+([\d.]+)`)

	grosnorUPCInDescRe = regexp.MustCompile(`\(UPC\s+(\d+)\)`)
	grosnorSRPInDescRe = regexp.MustCompile(`\(SRP\$[\d.]+\)`)
	grosnorRefInDescRe = regexp.MustCompile(`#[\d\-]+`)

	grosnorSalesRe   = regexp.MustCompile(`SALES AMOUNT\s+([\d.]+)`)
	grosnorFreightRe = regexp.MustCompile(`FREIGHT\s+([\d.]+)`)
	grosnorMiscRe    = regexp.MustCompile(`MISC\s+([\d.]+)`)
	grosnorTaxRe     = regexp.MustCompile(`GST/HST\s+([\d.]+)`)
	grosnorTotalRe   = regexp.MustCompile(`(?m)TOTAL\s+([\d.]+)$`)
)

func (p *GrosnorParser) Name() string { return "grosnor" }

// Detect looks for Grosnor branding or the configuration + UPC marker
// combination unique to their invoice layout
func (p *GrosnorParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	if containsAny(upper, "GROSNOR DISTRIBUTION", "GROSNOR.COM", "WWW.GROSNOR.COM") {
		return true
	}
	return grosnorConfigRe.MatchString(text) && grosnorUPCMarkRe.MatchString(text)
}

// Parse extracts a normalized receipt from a Grosnor invoice
func (p *GrosnorParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing Grosnor invoice", zap.String("entity", string(entity)))

	invoiceNumber := "UNKNOWN"
	if m := grosnorInvoiceRe.FindStringSubmatch(text); m != nil {
		invoiceNumber = m[1]
	}
	var orderNumber string
	if m := grosnorOrderRe.FindStringSubmatch(text); m != nil {
		orderNumber = m[1]
	}

	m := grosnorDateRe.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("failed to extract Grosnor invoice date")
	}
	invoiceDate, err := time.Parse("01/02/06", m[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse Grosnor invoice date %q: %w", m[1], err)
	}

	salesAmount, _ := ExtractAmount(text, grosnorSalesRe)
	freight, _ := ExtractAmount(text, grosnorFreightRe)
	misc, _ := ExtractAmount(text, grosnorMiscRe)
	taxTotal, _ := ExtractAmount(text, grosnorTaxRe)
	total, ok := ExtractAmount(text, grosnorTotalRe)
	if !ok {
		return nil, fmt.Errorf("failed to extract Grosnor invoice total")
	}

	var lines []models.ReceiptLine
	for _, lm := range grosnorLineRe.FindAllStringSubmatch(text, -1) {
		sku := lm[1]
		descRaw := strings.TrimSpace(lm[2])
		qtyShipped, _ := strconv.Atoi(lm[5])

		unitPrice, err := decimal.NewFromString(lm[8])
		if err != nil {
			p.logger.Warn("Failed to parse Grosnor line", zap.String("line", lm[0]), zap.Error(err))
			continue
		}
		extendedPrice, err := decimal.NewFromString(lm[9])
		if err != nil {
			p.logger.Warn("Failed to parse Grosnor line", zap.String("line", lm[0]), zap.Error(err))
			continue
		}

		// Strip SRP, UPC and reference markers out of the description
		description := grosnorSRPInDescRe.ReplaceAllString(descRaw, "")
		description = grosnorUPCInDescRe.ReplaceAllString(description, "")
		description = grosnorRefInDescRe.ReplaceAllString(description, "")
		description = CleanDescription(description)

		raw := descRaw
		if len(raw) > 50 {
			raw = raw[:50]
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineItem,
			RawText:         fmt.Sprintf("%s %s", sku, raw),
			VendorSKU:       sku,
			ItemDescription: description,
			Quantity:        decimal.NewFromInt(int64(qtyShipped)),
			UnitPrice:       unitPrice,
			LineTotal:       extendedPrice,
			TaxFlag:         models.TaxTaxable, // collectibles are all HST taxable
			TaxAmount:       extendedPrice.Mul(p.hstRate),
			AccountCode:     "5020", // COGS - Collectibles
		})
	}

	if freight.IsPositive() {
		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineFee,
			RawText:         "Freight Charge",
			ItemDescription: "Shipping - Canpar",
			Quantity:        decimal.NewFromInt(1),
			UnitPrice:       freight,
			LineTotal:       freight,
			TaxFlag:         models.TaxTaxable,
			TaxAmount:       freight.Mul(p.hstRate),
			AccountCode:     "5030", // Freight/Delivery
		})
	}

	if misc.IsPositive() {
		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineFee,
			RawText:         "Miscellaneous Charges",
			ItemDescription: "Misc Fees",
			Quantity:        decimal.NewFromInt(1),
			UnitPrice:       misc,
			LineTotal:       misc,
			TaxFlag:         models.TaxTaxable,
			TaxAmount:       misc.Mul(p.hstRate),
			AccountCode:     "5010",
		})
	}

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   "Grosnor Distribution",
		PurchaseDate:  invoiceDate,
		InvoiceNumber: invoiceNumber,
		Currency:      "CAD",
		Subtotal:      salesAmount.Add(freight).Add(misc),
		TaxTotal:      taxTotal,
		Total:         total,
		Lines:         lines,
		IsBill:        true,
		PaymentTerms:  p.extractPaymentTerms(text),
		ParserName:    p.Name(),
		Confidence:    0.95,
	}

	if w := ReconcileSubtotal(lines, receipt.Subtotal); w != nil {
		receipt.Warnings = append(receipt.Warnings, *w)
	}

	p.logger.Info("Grosnor invoice parsed",
		zap.String("invoice", invoiceNumber),
		zap.String("order", orderNumber),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

func (p *GrosnorParser) extractPaymentTerms(text string) string {
	m := grosnorTermsRe.FindStringSubmatch(text)
	if m == nil {
		return "Unknown"
	}
	terms := m[1]
	if strings.Contains(terms, "VISA") || strings.Contains(terms, "MC") || strings.Contains(terms, "VDCARD") {
		return "Credit Card"
	}
	return terms
}
