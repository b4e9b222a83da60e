package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

const costcoSampleReceipt = `COSTCO WHOLESALE
Moncton #567

1234567 KS PAPER TOWEL 24.99 Y
9484 DEPOSIT 2.40
294721 TPD/BOUNTY 3.00-
7654321 ROTISSERIE CHICKEN 7.99 N

SUBTOTAL 29.98
TAX 3.75
**** TOTAL 33.73

09/08/2023 12:57 134511170812`

func TestCostcoParserDetect(t *testing.T) {
	p := NewCostcoParser(testHSTRate, zap.NewNop())

	assert.True(t, p.Detect(costcoSampleReceipt))
	assert.True(t, p.Detect("visit costco.ca for your order"))
	assert.False(t, p.Detect("MACQUARRIES PHARMASAVE"))
}

func TestCostcoParserParse(t *testing.T) {
	p := NewCostcoParser(testHSTRate, zap.NewNop())

	receipt, err := p.Parse(costcoSampleReceipt, models.EntityCorp)
	require.NoError(t, err)

	assert.Equal(t, "Costco Wholesale", receipt.VendorGuess)
	assert.Equal(t, "134511170812", receipt.InvoiceNumber)
	assert.Equal(t, "2023-09-08", receipt.PurchaseDate.Format("2006-01-02"))
	assert.False(t, receipt.IsBill)
	assert.Equal(t, "29.98", receipt.Subtotal.StringFixed(2))
	assert.Equal(t, "3.75", receipt.TaxTotal.StringFixed(2))
	assert.Equal(t, "33.73", receipt.Total.StringFixed(2))

	// deposit code 9484 is skipped; TPD becomes a discount line
	require.Len(t, receipt.Lines, 3)
	assert.Empty(t, receipt.Warnings, "lines net of the discount match the subtotal")

	towel := receipt.Lines[0]
	assert.Equal(t, "1234567", towel.VendorSKU)
	assert.Equal(t, models.TaxTaxable, towel.TaxFlag)
	assert.Equal(t, "3.7485", towel.TaxAmount.String())

	tpd := receipt.Lines[1]
	assert.Equal(t, models.LineDiscount, tpd.LineType)
	assert.Equal(t, "-3.00", tpd.LineTotal.StringFixed(2))

	chicken := receipt.Lines[2]
	assert.Equal(t, models.TaxExempt, chicken.TaxFlag)
	assert.Equal(t, "7.99", chicken.LineTotal.StringFixed(2))
}

func TestCostcoParserInstantSavingsNoted(t *testing.T) {
	p := NewCostcoParser(testHSTRate, zap.NewNop())

	text := costcoSampleReceipt + "\nINSTANT SAVINGS $3.00\n"
	receipt, err := p.Parse(text, models.EntityCorp)
	require.NoError(t, err)

	require.Len(t, receipt.ParseErrors, 1)
	assert.Contains(t, receipt.ParseErrors[0], "Instant savings")
}

func TestCostcoParserMissingDate(t *testing.T) {
	p := NewCostcoParser(testHSTRate, zap.NewNop())

	_, err := p.Parse("COSTCO WHOLESALE\nSUBTOTAL 10.00\n**** TOTAL 11.50", models.EntityCorp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date")
}
