package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

const pharmasaveSampleReceipt = `MACQUARRIES PHARMASAVE
158 ROBERT ANGUS DR
AMHERST NS
Receipt: A12345
Date: Sat Oct 04, 2025, 2:56:55 PM

 1  123456  VITAMIN C 500MG  12.99 TN
 2  234567  MILK 2L  6.58 EN
 1  345678  BOTTLE DEPOSIT  0.10 EN

SUB TOTAL  19.67
HST (15)  1.95
TOTAL $21.62`

func TestPharmasaveParserDetect(t *testing.T) {
	p := NewPharmasaveParser(zap.NewNop())

	assert.True(t, p.Detect(pharmasaveSampleReceipt))
	assert.True(t, p.Detect("HST NO 865378210"), "HST registration number identifies the store")
	assert.False(t, p.Detect("WALMART SUPERCENTRE"))
}

func TestPharmasaveParserParse(t *testing.T) {
	p := NewPharmasaveParser(zap.NewNop())

	receipt, err := p.Parse(pharmasaveSampleReceipt, models.EntityCorp)
	require.NoError(t, err)

	assert.Equal(t, "MacQuarries Pharmasave", receipt.VendorGuess)
	assert.Equal(t, "A12345", receipt.InvoiceNumber)
	assert.Equal(t, "2025-10-04", receipt.PurchaseDate.Format("2006-01-02"))
	assert.Equal(t, "19.67", receipt.Subtotal.StringFixed(2))
	assert.Equal(t, "1.95", receipt.TaxTotal.StringFixed(2))
	assert.Equal(t, "21.62", receipt.Total.StringFixed(2), "TOTAL must not be confused with SUB TOTAL")
	assert.Empty(t, receipt.Warnings)

	require.Len(t, receipt.Lines, 3)
	assert.Equal(t, models.TaxTaxable, receipt.Lines[0].TaxFlag)
	assert.Equal(t, models.TaxZeroRated, receipt.Lines[1].TaxFlag)
	assert.Equal(t, "2", receipt.Lines[1].Quantity.String())
	assert.Equal(t, models.LineFee, receipt.Lines[2].LineType, "deposits are fees, not inventory")
}

func TestPharmasaveParserFadedReceipt(t *testing.T) {
	p := NewPharmasaveParser(zap.NewNop())

	// thermal paper dropped the quantity column and one whole item
	text := `MACQUARRIES PHARMASAVE
Receipt: B99001
Date: Mon Mar 03, 2025, 10:12:00 AM

 123456  VITAMIN C 500MG  12.99 TN
 345678  BOTTLE DEPOSIT  0.10 EN

SUB TOTAL  19.67
HST (15)  1.95
TOTAL $21.62`

	receipt, err := p.Parse(text, models.EntityCorp)
	require.NoError(t, err)

	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, "1", receipt.Lines[0].Quantity.String(), "missing quantity column defaults to one")

	// the gap is reported, never papered over with an invented line
	require.Len(t, receipt.Warnings, 1)
	assert.Equal(t, "subtotal_mismatch", receipt.Warnings[0].Type)
	assert.InDelta(t, 6.58, receipt.Warnings[0].Data["difference"], 0.001)
}
