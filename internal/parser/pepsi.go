package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

// PepsiParser handles PepsiCo Canada Beverages invoices in two shapes:
// the printed delivery invoice with an ITEM DETAIL table, and the monthly
// email summary PDF. Pepsi bills on PAD terms, due the 15th of the
// following month, so both shapes are bills. Bottle deposits arrive as a
// Charges footer amount and fold into the subtotal so totals validate.
type PepsiParser struct {
	logger *zap.Logger
}

// NewPepsiParser creates a Pepsi invoice parser
func NewPepsiParser(logger *zap.Logger) *PepsiParser {
	return &PepsiParser{logger: logger}
}

var (
	pepsiDeliveryIndicators = []*regexp.Regexp{
		regexp.MustCompile(`PEPSICO\s+CANADA`),
		regexp.MustCompile(`PEPSI.*BEVERAGES`),
		regexp.MustCompile(`BEVERAGES.*BREUVAGES`),
		regexp.MustCompile(`220\s+HENRI\s+DUNANT`),
		regexp.MustCompile(`MONCTON.*NB.*E1E`),
	}

	pepsiProductCodeRe = regexp.MustCompile(`69000\d{6}`)

	pepsiInvoiceNoRe = regexp.MustCompile(`(?i)INVOICE\s*#\s*(\d+)`)
	pepsiDateRe      = regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4})`)
	pepsiShortDateRe = regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{2,4})`)

	pepsiTotalRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Amount\s+Due[\s\S]*?\$\s*([\d,]+\.?\d*)`),
		regexp.MustCompile(`(?i)for\s+this\s+Invoice[\s\S]*?\$\s*([\d,]+\.?\d*)`),
	}
	pepsiSalesSubtotalRe = regexp.MustCompile(`(?is)Sales.*?Cases.*?\d+\s+([\d,]+\.?\d*)`)
	pepsiPlainSubtotalRe = regexp.MustCompile(`(?is)Subtotal.*?([\d,]+\.?\d*)`)
	pepsiHSTOnRe         = regexp.MustCompile(`(?i)GST/HST\s+On.*?\$\s*[\d,]+\.?\d*\s*\$\s*([\d,]+\.?\d*)`)
	pepsiHSTPlainRe      = regexp.MustCompile(`(?i)GST/HST.*?\$\s*([\d,]+\.?\d*)`)
	pepsiChargesRe       = regexp.MustCompile(`(?i)Charges[\s\n]+([\d,]+\.?\d*)`)

	pepsiItemSectionRe = regexp.MustCompile(`(?is)ITEM DETAIL.*?SALES(.*?)(?:CHARGES|Amount Due)`)

	// Description UPC [T] Price/Case Cases Units PricePerCase NetAmount
	pepsiDeliveryLineRe = regexp.MustCompile(`(?m)([A-Z][A-Z0-9\s/]+?)\s+([\d-]{11,})\s+T?\s*[\d.]+\s+(\d+)\s+\d+\s+([\d.]+)\s+([\d.]+)\s*$`)

	pepsiEmailInvoiceRe = regexp.MustCompile(`(\d{8})`)
	pepsiEmailTotalRe   = regexp.MustCompile(`(?i)Total.*?\$?([\d,]+\.?\d*)`)

	// Description UPC Qty CS/EA $UnitPrice $Total
	pepsiEmailLineRe = regexp.MustCompile(`(?i)([A-Z0-9\s/]+?)\s+(\d{8,})\s+(\d+)\s+(?:CS|EA)\s+[=$\s]*\$?([\d.]+)[.\s]*\$?([\d.]+)`)
)

func (p *PepsiParser) Name() string { return "pepsi" }

// Detect looks for PepsiCo delivery branding or at least three Pepsi
// product codes (69000xxxxxx) in an email summary
func (p *PepsiParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	for _, re := range pepsiDeliveryIndicators {
		if re.MatchString(upper) {
			return true
		}
	}
	return len(pepsiProductCodeRe.FindAllString(text, -1)) >= 3
}

// Parse routes to the delivery or email-summary variant
func (p *PepsiParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	upper := strings.ToUpper(text)

	if strings.Contains(upper, "INVOICE DETAILS") || strings.Contains(upper, "INVOICE SUMMARY") {
		return p.parseEmailSummary(text, entity)
	}
	if strings.Contains(upper, "INVOICE #") && strings.Contains(upper, "ITEM DETAIL") {
		return p.parseDeliveryInvoice(text, entity)
	}

	p.logger.Warn("Ambiguous Pepsi invoice format, trying delivery layout")
	return p.parseDeliveryInvoice(text, entity)
}

func (p *PepsiParser) parseDeliveryInvoice(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing Pepsi delivery invoice", zap.String("entity", string(entity)))

	var invoiceNumber string
	if m := pepsiInvoiceNoRe.FindStringSubmatch(text); m != nil {
		invoiceNumber = m[1]
	}

	purchaseDate := time.Now().UTC()
	if m := pepsiDateRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("1/2/2006", m[1]); err == nil {
			purchaseDate = d
		}
	}

	total := decimal.Zero
	for _, re := range pepsiTotalRes {
		if amt, ok := ExtractAmount(text, re); ok {
			total = amt
			break
		}
	}

	subtotal := decimal.Zero
	for _, re := range []*regexp.Regexp{pepsiSalesSubtotalRe, pepsiPlainSubtotalRe} {
		if amt, ok := ExtractAmount(text, re); ok {
			subtotal = amt
			break
		}
	}

	hst := decimal.Zero
	for _, re := range []*regexp.Regexp{pepsiHSTOnRe, pepsiHSTPlainRe} {
		if amt, ok := ExtractAmount(text, re); ok {
			hst = amt
			break
		}
	}

	// NS bottle deposits arrive as a Charges footer amount
	charges, _ := ExtractAmount(text, pepsiChargesRe)

	lines := p.extractDeliveryLines(text)

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   "PepsiCo Canada",
		PurchaseDate:  purchaseDate,
		InvoiceNumber: invoiceNumber,
		Currency:      "CAD",
		Subtotal:      subtotal.Add(charges), // deposits fold in so total = subtotal + tax
		TaxTotal:      hst,
		Total:         total,
		Lines:         lines,
		IsBill:        true,
		PaymentTerms:  "Charge-PAD 15th next month",
		ParserName:    p.Name(),
		Confidence:    0.9,
	}

	p.logger.Info("Pepsi delivery invoice parsed",
		zap.String("invoice", invoiceNumber),
		zap.Int("lines", len(lines)),
		zap.String("charges", charges.StringFixed(2)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

func (p *PepsiParser) extractDeliveryLines(text string) []models.ReceiptLine {
	var lines []models.ReceiptLine

	section := pepsiItemSectionRe.FindStringSubmatch(text)
	if section == nil {
		p.logger.Warn("Pepsi ITEM DETAIL section not found")
		return lines
	}

	for _, m := range pepsiDeliveryLineRe.FindAllStringSubmatch(section[1], -1) {
		description := CleanDescription(m[1])
		upc := strings.ReplaceAll(m[2], "-", "")

		cases, err := decimal.NewFromString(m[3])
		if err != nil {
			continue
		}
		pricePerCase, err := decimal.NewFromString(m[4])
		if err != nil {
			continue
		}
		lineTotal, err := decimal.NewFromString(m[5])
		if err != nil {
			continue
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineItem,
			RawText:         strings.TrimSpace(m[0]),
			VendorSKU:       upc,
			ItemDescription: description,
			Quantity:        cases,
			UnitPrice:       pricePerCase,
			LineTotal:       lineTotal,
			TaxFlag:         models.TaxTaxable, // soft drinks are HST taxable
		})
	}

	return lines
}

func (p *PepsiParser) parseEmailSummary(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing Pepsi email summary", zap.String("entity", string(entity)))

	var invoiceNumber string
	if m := pepsiEmailInvoiceRe.FindStringSubmatch(text); m != nil {
		invoiceNumber = m[1]
	}

	purchaseDate := time.Now().UTC()
	if m := pepsiShortDateRe.FindStringSubmatch(text); m != nil {
		layout := "1/2/2006"
		if parts := strings.Split(m[1], "/"); len(parts) == 3 && len(parts[2]) == 2 {
			layout = "1/2/06"
		}
		if d, err := time.Parse(layout, m[1]); err == nil {
			purchaseDate = d
		} else {
			p.logger.Warn("Failed to parse Pepsi date", zap.String("raw", m[1]))
		}
	}

	lines := p.extractEmailLines(text)

	// Email summaries rarely print clean totals; sum the lines
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal)
	}
	total := subtotal
	if amt, ok := ExtractAmount(text, pepsiEmailTotalRe); ok {
		total = amt
	}

	taxTotal := decimal.Zero
	if total.GreaterThan(subtotal) {
		taxTotal = total.Sub(subtotal)
	}

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   "PepsiCo Canada",
		PurchaseDate:  purchaseDate,
		InvoiceNumber: invoiceNumber,
		Currency:      "CAD",
		Subtotal:      subtotal,
		TaxTotal:      taxTotal,
		Total:         total,
		Lines:         lines,
		IsBill:        true,
		PaymentTerms:  "15th of next month",
		ParserName:    p.Name(),
		Confidence:    0.9,
	}

	p.logger.Info("Pepsi email summary parsed",
		zap.String("invoice", invoiceNumber),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

func (p *PepsiParser) extractEmailLines(text string) []models.ReceiptLine {
	var lines []models.ReceiptLine

	for _, m := range pepsiEmailLineRe.FindAllStringSubmatch(text, -1) {
		description := CleanDescription(m[1])
		upc := m[2]

		quantity, err := decimal.NewFromString(m[3])
		if err != nil {
			continue
		}
		unitPrice, err := decimal.NewFromString(m[4])
		if err != nil {
			continue
		}
		lineTotal, err := decimal.NewFromString(m[5])
		if err != nil {
			continue
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineItem,
			RawText:         strings.TrimSpace(m[0]),
			VendorSKU:       upc,
			ItemDescription: description,
			Quantity:        quantity,
			UnitPrice:       unitPrice,
			LineTotal:       lineTotal,
			TaxFlag:         models.TaxTaxable,
		})
	}

	return lines
}
