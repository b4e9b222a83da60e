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

// GFSParser handles Gordon Food Service (GFS Canada) PDF invoices.
//
// Format notes:
//   - tabular line items with 7-digit item codes and category codes
//     GR (grocery), FR (frozen), DY (dairy), DS (disposables)
//   - "H" in the tax column marks HST-taxable items
//   - fuel surcharge arrives on the Misc footer line
//   - Net 14 payment terms, so GFS invoices are bills
type GFSParser struct {
	hstRate decimal.Decimal
	logger  *zap.Logger
}

// NewGFSParser creates a GFS invoice parser
func NewGFSParser(hstRate decimal.Decimal, logger *zap.Logger) *GFSParser {
	return &GFSParser{hstRate: hstRate, logger: logger}
}

// GFS category code to GL account
var gfsCategoryAccounts = map[string]string{
	"GR": "5010", // COGS - Inventory (Grocery)
	"FR": "5010", // COGS - Inventory (Frozen)
	"DY": "5010", // COGS - Inventory (Dairy)
	"DS": "5015", // COGS - Disposables
}

const gfsFuelAccount = "5020" // Delivery/Freight charges

var (
	gfsInvoiceNumberRe = regexp.MustCompile(`Invoice\s+(\d{10})`)
	gfsDateRe          = regexp.MustCompile(`Invoice Date\s+(\d{2}/\d{2}/\d{4})`)
	gfsDateNextLineRe  = regexp.MustCompile(`(?s)Invoice Date.*?[\n\r]+.*?(\d{2}/\d{2}/\d{4})`)
	gfsDueDateRe       = regexp.MustCompile(`Due Date\s+(\d{2}/\d{2}/\d{4})`)
	gfsCategoryRe      = regexp.MustCompile(`\b(GR|FR|DY|DS)\b`)

	// ItemCode QtyOrd Description Cat UnitPrice ExtPrice [H] Unit QtyShip PackSize Brand
	gfsLineRe = regexp.MustCompile(`(\d{7})\s+(\d+)\s+(.+?)\s+(GR|FR|DY|DS|CP)\s+([\d.]+)\s+([\d.]+)\s+(H)?\s*(CS|EA)\s+(\d+)\s+([\dXx.]+\s*[A-Z]+)\s+(\w+)`)

	gfsSubtotalRe = regexp.MustCompile(`Product Total\s+\$?([\d,]+\.\d{2})`)
	gfsFuelRe     = regexp.MustCompile(`Misc\s+\$?([\d,]+\.\d{2})`)
	gfsTaxRe      = regexp.MustCompile(`GST/HST\s+\$?([\d,]+\.\d{2})`)
	gfsTotalRe    = regexp.MustCompile(`Invoice Total\s+\$?([\d,]+\.\d{2})`)
)

func (p *GFSParser) Name() string { return "gfs" }

// Detect looks for GFS branding or the 10-digit invoice number plus
// category codes that only GFS prints
func (p *GFSParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	if containsAny(upper, "GORDON FOOD SERVICE", "GFS CANADA", "GFSCANADA.COM") {
		return true
	}
	return gfsInvoiceNumberRe.MatchString(text) && gfsCategoryRe.MatchString(text)
}

// Parse extracts a normalized receipt from a GFS invoice
func (p *GFSParser) Parse(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	p.logger.Info("Parsing GFS invoice", zap.String("entity", string(entity)))

	invoiceNumber := "UNKNOWN"
	if m := gfsInvoiceNumberRe.FindStringSubmatch(text); m != nil {
		invoiceNumber = m[1]
	}

	invoiceDate, err := p.extractDate(text)
	if err != nil {
		return nil, err
	}

	var dueDate *time.Time
	if m := gfsDueDateRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("01/02/2006", m[1]); err == nil {
			dueDate = &d
		}
	}

	subtotal, _ := ExtractAmount(text, gfsSubtotalRe)
	fuelCharge, _ := ExtractAmount(text, gfsFuelRe)
	taxTotal, _ := ExtractAmount(text, gfsTaxRe)
	total, ok := ExtractAmount(text, gfsTotalRe)
	if !ok {
		return nil, fmt.Errorf("failed to extract GFS invoice total")
	}

	var lines []models.ReceiptLine
	for _, m := range gfsLineRe.FindAllStringSubmatch(text, -1) {
		itemCode := m[1]
		description := CleanDescription(m[3])
		category := m[4]
		taxable := m[7] == "H"
		qtyShipped, _ := strconv.Atoi(m[9])
		packSize := m[10]

		unitPrice, err := decimal.NewFromString(m[5])
		if err != nil {
			p.logger.Warn("Failed to parse GFS line", zap.String("line", m[0]), zap.Error(err))
			continue
		}
		extendedPrice, err := decimal.NewFromString(m[6])
		if err != nil {
			p.logger.Warn("Failed to parse GFS line", zap.String("line", m[0]), zap.Error(err))
			continue
		}

		taxFlag := models.TaxExempt
		lineTax := decimal.Zero
		if taxable {
			taxFlag = models.TaxTaxable
			lineTax = extendedPrice.Mul(p.hstRate)
		}

		account, okCat := gfsCategoryAccounts[category]
		if !okCat {
			account = "5010"
		}

		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineItem,
			RawText:         fmt.Sprintf("%s %s", itemCode, description),
			VendorSKU:       itemCode,
			ItemDescription: fmt.Sprintf("%s (%s)", description, packSize),
			Quantity:        decimal.NewFromInt(int64(qtyShipped)),
			UnitPrice:       unitPrice,
			LineTotal:       extendedPrice,
			TaxFlag:         taxFlag,
			TaxAmount:       lineTax,
			AccountCode:     account,
		})
	}

	// Fuel surcharge is a fee line, taxable
	if fuelCharge.IsPositive() {
		lines = append(lines, models.ReceiptLine{
			LineIndex:       len(lines),
			LineType:        models.LineFee,
			RawText:         "Fuel Charge",
			ItemDescription: "Fuel Surcharge",
			Quantity:        decimal.NewFromInt(1),
			UnitPrice:       fuelCharge,
			LineTotal:       fuelCharge,
			TaxFlag:         models.TaxTaxable,
			TaxAmount:       fuelCharge.Mul(p.hstRate),
			AccountCode:     gfsFuelAccount,
		})
	}

	receipt := &models.NormalizedReceipt{
		Entity:        entity,
		Source:        models.SourceManual,
		VendorGuess:   "Gordon Food Service",
		PurchaseDate:  invoiceDate,
		InvoiceNumber: invoiceNumber,
		DueDate:       dueDate,
		Currency:      "CAD",
		Subtotal:      subtotal.Add(fuelCharge),
		TaxTotal:      taxTotal,
		Total:         total,
		Lines:         lines,
		IsBill:        true,
		PaymentTerms:  "Net 14",
		ParserName:    p.Name(),
		Confidence:    0.95,
	}

	if w := ReconcileSubtotal(lines, receipt.Subtotal); w != nil {
		receipt.Warnings = append(receipt.Warnings, *w)
	}

	p.logger.Info("GFS invoice parsed",
		zap.String("invoice", invoiceNumber),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)))

	return receipt, nil
}

func (p *GFSParser) extractDate(text string) (time.Time, error) {
	if m := gfsDateRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("01/02/2006", m[1]); err == nil {
			return d, nil
		}
	}
	// Some extractions put the date on the line after the label
	if m := gfsDateNextLineRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("01/02/2006", m[1]); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to extract GFS invoice date")
}
