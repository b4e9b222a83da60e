package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

const gfsSampleInvoice = `Gordon Food Service
GFS CANADA
Invoice 1234567890
Invoice Date 01/15/2025
Due Date 01/29/2025

1234567 2 CHICKEN BREAST GR 45.50 91.00 H CS 2 4X1KG GFS
2345678 1 PAPER PLATES DS 12.00 12.00 CS 1 500CT DYNE

Product Total $103.00
Misc $5.00
GST/HST $14.40
Invoice Total $122.40`

func TestGFSParserDetect(t *testing.T) {
	p := NewGFSParser(testHSTRate, zap.NewNop())

	assert.True(t, p.Detect(gfsSampleInvoice))
	assert.True(t, p.Detect("Invoice 9876543210\n1111111 1 THING GR 1.00 1.00 CS 1 1X1KG X"))
	assert.False(t, p.Detect("COSTCO WHOLESALE\nSUBTOTAL 10.00"))
}

func TestGFSParserParse(t *testing.T) {
	p := NewGFSParser(testHSTRate, zap.NewNop())

	receipt, err := p.Parse(gfsSampleInvoice, models.EntityCorp)
	require.NoError(t, err)

	assert.Equal(t, "Gordon Food Service", receipt.VendorGuess)
	assert.Equal(t, "1234567890", receipt.InvoiceNumber)
	assert.Equal(t, "2025-01-15", receipt.PurchaseDate.Format("2006-01-02"))
	require.NotNil(t, receipt.DueDate)
	assert.Equal(t, "2025-01-29", receipt.DueDate.Format("2006-01-02"))
	assert.True(t, receipt.IsBill)
	assert.Equal(t, "Net 14", receipt.PaymentTerms)
	assert.Equal(t, "122.40", receipt.Total.StringFixed(2))
	assert.Equal(t, "14.40", receipt.TaxTotal.StringFixed(2))

	// fuel surcharge folds into the subtotal as a fee line
	assert.Equal(t, "108.00", receipt.Subtotal.StringFixed(2))
	require.Len(t, receipt.Lines, 3)
	assert.Empty(t, receipt.Warnings)

	chicken := receipt.Lines[0]
	assert.Equal(t, "1234567", chicken.VendorSKU)
	assert.Equal(t, "CHICKEN BREAST (4X1KG)", chicken.ItemDescription)
	assert.Equal(t, "2", chicken.Quantity.String())
	assert.Equal(t, "91.00", chicken.LineTotal.StringFixed(2))
	assert.Equal(t, models.TaxTaxable, chicken.TaxFlag)
	assert.Equal(t, "5010", chicken.AccountCode)

	plates := receipt.Lines[1]
	assert.Equal(t, models.TaxExempt, plates.TaxFlag)
	assert.Equal(t, "5015", plates.AccountCode, "disposables get their own COGS account")

	fuel := receipt.Lines[2]
	assert.Equal(t, models.LineFee, fuel.LineType)
	assert.Equal(t, "5.00", fuel.LineTotal.StringFixed(2))
	assert.Equal(t, "5020", fuel.AccountCode)
}

func TestGFSParserMissingTotal(t *testing.T) {
	p := NewGFSParser(testHSTRate, zap.NewNop())

	_, err := p.Parse("GFS CANADA\nInvoice Date 01/15/2025\nnothing else", models.EntityCorp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total")
}
