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

// CostcoParser handles Costco Wholesale receipts printed from the online
// order history. Line items are SKU, description, price and a Y/N tax flag.
// Container deposit codes are skipped and TPD instant-savings lines become
// negative discount lines.
type CostcoParser struct {
	hstRate decimal.Decimal
	logger  *zap.Logger
}

// NewCostcoParser creates a Costco receipt parser
func NewCostcoParser(hstRate decimal.Decimal, logger *zap.Logger) *CostcoParser {
	return &CostcoParser{hstRate: hstRate, logger: logger}
}

// Container deposit item codes, not inventory
var costcoDepositCodes = map[string]bool{
	"9484": true, "9485": true, "9486": true, "9487": true,
	"9488": true, "9489": true, "9490": true, "9491": true,
	"9492": true, "9493": true, "9494": true, "9495": true,
}

var (
	costcoTPDRe       = regexp.MustCompile(`TPD/`)
	costcoMemberRe    = regexp.MustCompile(`(?i)Member(?:\s+#)?(?:\s+)?(\d{12})`)
	costcoTxnRe       = regexp.MustCompile(`(?i)Transaction.*?(\d{12})`)
	costcoDateTxnRe   = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})\s+\d{2}:\d{2}\s+(\d{11,12})`)
	costcoDateAltRe   = regexp.MustCompile(`P7\s+(\d{2}/\d{2}/\d{4})`)
	costcoBarcodeRe   = regexp.MustCompile(`(\d{23})`)
	costcoLineRe      = regexp.MustCompile(`(?m)(\d{4,7})\s+([A-Z][A-Z\s*/\-]+?)\s+([\d.]+)(-?)\s*([YN])?(?:\s|$)`)
	costcoSubtotalRe  = regexp.MustCompile(`SUBTOTAL\s+([\d,]+\.\d{2})`)
	costcoTaxLineRe   = regexp.MustCompile(`(?m)^\s*TAX\s+([\d,]+\.\d{2})`)
	costcoHSTLineRe   = regexp.MustCompile(`\(A\)\s+15%\s+HST\s+([\d,]+\.\d{2})`)
	costcoTotalRe     = regexp.MustCompile(`\*+\s+TOTAL\s+([\d,]+\.\d{2})`)
	costcoSavingsRe   = regexp.MustCompile(`INSTANT SAVINGS\s+\$?([\d,]+\.\d{2})`)
)

func (p *CostcoParser) Name() string { return "costco" }

// Detect looks for Costco branding or the member-number plus
// transaction-id pair
func (p *CostcoParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	if containsAny(upper, "COSTCO WHOLESALE", "COSTCO.CA", "COSTCO.COM") {
		return true
	}
	return costcoMemberRe.MatchString(text) && costcoTxnRe.MatchString(text)
}

// Parse extracts a normalized receipt from a Costco receipt
func (p *CostcoParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing Costco receipt", zap.String("entity", string(entity)))

	purchaseDate, err := p.extractDate(text)
	if err != nil {
		return nil, err
	}
	transactionID := p.extractTransactionID(text)

	subtotal, _ := ExtractAmount(text, costcoSubtotalRe)
	taxTotal := p.extractTax(text)
	total, ok := ExtractAmount(text, costcoTotalRe)
	if !ok {
		return nil, fmt.Errorf("failed to extract Costco total")
	}
	instantSavings, _ := ExtractAmount(text, costcoSavingsRe)

	var lines []models.ReceiptLine
	for _, m := range costcoLineRe.FindAllStringSubmatch(text, -1) {
		sku := m[1]
		description := strings.TrimSpace(m[2])
		negative := m[4] == "-"
		taxCode := m[5]

		// Deposit lines are not inventory
		if costcoDepositCodes[sku] {
			continue
		}

		price, err := decimal.NewFromString(m[3])
		if err != nil {
			p.logger.Warn("Failed to parse Costco line", zap.String("line", m[0]), zap.Error(err))
			continue
		}
		if negative {
			price = price.Neg()
		}

		lineType := models.LineItem
		taxFlag := models.TaxExempt
		taxAmount := decimal.Zero
		lineTotal := price

		if costcoTPDRe.MatchString(description) {
			// Instant savings print as TPD lines, always negative
			lineType = models.LineDiscount
			lineTotal = price.Abs().Neg()
		} else if taxCode == "Y" {
			taxFlag = models.TaxTaxable
			taxAmount = lineTotal.Mul(p.hstRate)
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        lineType,
			RawText:         fmt.Sprintf("%s %s", sku, description),
			VendorSKU:       sku,
			ItemDescription: description,
			Quantity:        decimal.NewFromInt(1), // price is already extended
			UnitPrice:       lineTotal,
			LineTotal:       lineTotal,
			TaxFlag:         taxFlag,
			TaxAmount:       taxAmount,
			AccountCode:     "5010",
		})
	}

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   "Costco Wholesale",
		PurchaseDate:  purchaseDate,
		InvoiceNumber: transactionID,
		Currency:      "CAD",
		Subtotal:      subtotal,
		TaxTotal:      taxTotal,
		Total:         total,
		Lines:         lines,
		IsBill:        false, // paid at the register
		ParserName:    p.Name(),
		Confidence:    0.95,
	}

	if instantSavings.IsPositive() {
		receipt.ParseErrors = append(receipt.ParseErrors,
			fmt.Sprintf("Instant savings: $%s", instantSavings.StringFixed(2)))
	}
	if w := ReconcileSubtotal(lines, subtotal); w != nil {
		receipt.Warnings = append(receipt.Warnings, *w)
	}

	p.logger.Info("Costco receipt parsed",
		zap.String("transaction_id", transactionID),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

// extractDate finds the transaction date, printed at the bottom next to the
// time and transaction id, e.g. "09/08/2023 12:57 13451117081"
func (p *CostcoParser) extractDate(text string) (time.Time, error) {
	if m := costcoDateTxnRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("01/02/2006", m[1]); err == nil {
			return d, nil
		}
	}
	if m := costcoDateAltRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("01/02/2006", m[1]); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to extract Costco transaction date")
}

func (p *CostcoParser) extractTransactionID(text string) string {
	if m := costcoDateTxnRe.FindStringSubmatch(text); m != nil {
		return m[2]
	}
	// Fall back to the long barcode number
	if m := costcoBarcodeRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return "UNKNOWN"
}

func (p *CostcoParser) extractTax(text string) decimal.Decimal {
	if amt, ok := ExtractAmount(text, costcoTaxLineRe); ok {
		return amt
	}
	if amt, ok := ExtractAmount(text, costcoHSTLineRe); ok {
		return amt
	}
	return decimal.Zero
}
