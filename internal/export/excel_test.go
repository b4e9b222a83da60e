package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/internal/repository"
)

func sampleRows() []repository.ExportRow {
	date := time.Date(2025, 10, 4, 0, 0, 0, 0, time.UTC)
	return []repository.ExportRow{
		{
			Entity:       models.EntityCorp,
			PurchaseDate: &date,
			Vendor:       "Gordon Food Service",
			Description:  "Chicken Breast",
			SKU:          "1234567",
			Quantity:     decimal.NewFromInt(2),
			LineTotal:    decimal.NewFromFloat(91.00),
			TaxFlag:      models.TaxTaxable,
			TaxAmount:    decimal.NewFromFloat(13.65),
			AccountCode:  "5007",
			Category:     "food_meat",
			Confidence:   0.97,
		},
		{
			Entity:      models.EntitySoleprop,
			Vendor:      "Pharmasave",
			Description: "Whey Protein Isolate",
			Quantity:    decimal.NewFromInt(1),
			LineTotal:   decimal.NewFromFloat(54.99),
			TaxFlag:     models.TaxTaxable,
			AccountCode: "5021",
			Category:    "supplement_protein",
			Confidence:  0.65,
			NeedsReview: true,
		},
	}
}

func TestRenderSplitsEntitiesAcrossSheets(t *testing.T) {
	exporter := NewExcel(zap.NewNop())

	data, err := exporter.Render(sampleRows())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Corp", "Sole Prop"}, f.GetSheetList())

	vendor, err := f.GetCellValue("Corp", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Gordon Food Service", vendor)

	account, err := f.GetCellValue("Corp", "J2")
	require.NoError(t, err)
	assert.Equal(t, "5007", account)

	accountName, err := f.GetCellValue("Corp", "K2")
	require.NoError(t, err)
	assert.Equal(t, "COGS - Food - Meat/Deli", accountName)

	review, err := f.GetCellValue("Sole Prop", "N2")
	require.NoError(t, err)
	assert.Equal(t, "YES", review)
}

func TestRenderEmptyRangeStillProducesWorkbook(t *testing.T) {
	exporter := NewExcel(zap.NewNop())

	data, err := exporter.Render(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("Corp", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Date", header)
}
