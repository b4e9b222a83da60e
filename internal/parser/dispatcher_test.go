package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

var testHSTRate = decimal.RequireFromString("0.15")

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(testHSTRate, zap.NewNop())
}

func TestDispatcherPriorityOrder(t *testing.T) {
	d := newTestDispatcher()

	assert.Equal(t, []string{
		"grosnor", "costco", "gfs", "pepsi", "superstore",
		"pharmasave", "walmart", "canadian_tire", "generic",
	}, d.ParserNames())
}

func TestDispatcherRoutesToVendorParser(t *testing.T) {
	d := newTestDispatcher()

	text := `MACQUARRIES PHARMASAVE
158 ROBERT ANGUS DR
Receipt: A12345
Date: Sat Oct 04, 2025, 2:56:55 PM
 1  123456  VITAMIN C 500MG  12.99 TN
SUB TOTAL  12.99
HST (15)  1.95
TOTAL $14.94`

	assert.Equal(t, "pharmasave", d.DetectVendor(text))

	receipt, err := d.Dispatch(text, models.EntityCorp)
	require.NoError(t, err)
	assert.Equal(t, "pharmasave", receipt.ParserName)
	assert.Equal(t, "MacQuarries Pharmasave", receipt.VendorGuess)
}

func TestDispatcherFallsBackToGeneric(t *testing.T) {
	d := newTestDispatcher()

	text := `CORNER MARKET INC
2025-08-01
CHIPS 2.99
SODA 3.50
TAX 0.97
TOTAL 7.46`

	receipt, err := d.Dispatch(text, models.EntitySoleprop)
	require.NoError(t, err)

	assert.Equal(t, "generic", receipt.ParserName)
	assert.Equal(t, "CORNER MARKET INC", receipt.VendorGuess)
	assert.Equal(t, "7.46", receipt.Total.StringFixed(2))
	assert.Equal(t, "0.97", receipt.TaxTotal.StringFixed(2))
	assert.Equal(t, "6.49", receipt.Subtotal.StringFixed(2))
	assert.Equal(t, 0.5, receipt.Confidence)

	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, "CHIPS", receipt.Lines[0].ItemDescription)
	assert.True(t, receipt.Lines[0].NeedsReview)
	assert.Equal(t, models.TaxUnknown, receipt.Lines[0].TaxFlag)
}

func TestDispatcherSkipsFailingParser(t *testing.T) {
	d := newTestDispatcher()

	// GFS branding matches but the invoice date is unreadable, so the GFS
	// parser errors out and the generic fallback takes over
	text := `GORDON FOOD SERVICE
faded beyond recognition
TOTAL 25.00`

	receipt, err := d.Dispatch(text, models.EntityCorp)
	require.NoError(t, err)
	assert.Equal(t, "generic", receipt.ParserName)
	assert.Equal(t, "25.00", receipt.Total.StringFixed(2))
}

func TestDispatcherBacksOutHSTWhenOnlyTotalSurvives(t *testing.T) {
	d := newTestDispatcher()

	receipt, err := d.Dispatch("SOMETHING ILLEGIBLE\nTOTAL 115.00", models.EntityCorp)
	require.NoError(t, err)

	assert.Equal(t, "generic", receipt.ParserName)
	assert.Equal(t, "100.00", receipt.Subtotal.StringFixed(2))
	assert.Equal(t, "15.00", receipt.TaxTotal.StringFixed(2))
}
