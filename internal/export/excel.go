// Package export produces the accountant-facing Excel workbook of
// categorized line items.
package export

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/categorization"
	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/internal/repository"
)

// one sheet per entity, so each set of books lands in its own tab
var sheetNames = map[models.Entity]string{
	models.EntityCorp:     "Corp",
	models.EntitySoleprop: "Sole Prop",
}

var header = []string{
	"Date", "Vendor", "Invoice #", "Description", "SKU", "Qty",
	"Line Total", "Tax Flag", "Tax Amount", "Account", "Account Name",
	"Category", "Confidence", "Needs Review",
}

// Excel renders export rows into an xlsx workbook
type Excel struct {
	logger *zap.Logger
}

// NewExcel creates the Excel exporter
func NewExcel(logger *zap.Logger) *Excel {
	return &Excel{logger: logger}
}

// Render builds the workbook and returns its bytes
func (e *Excel) Render(rows []repository.ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	counts := make(map[models.Entity]int)
	totals := make(map[models.Entity]decimal.Decimal)

	for _, entity := range models.Entities() {
		sheet := sheetNames[entity]
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("failed to create sheet %q: %w", sheet, err)
		}

		for col, title := range header {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			if err := f.SetCellValue(sheet, cell, title); err != nil {
				return nil, fmt.Errorf("failed to write header: %w", err)
			}
		}
		endCell, _ := excelize.CoordinatesToCellName(len(header), 1)
		_ = f.SetCellStyle(sheet, "A1", endCell, boldStyle)

		totals[entity] = decimal.Zero
	}

	for _, row := range rows {
		sheet := sheetNames[row.Entity]
		counts[row.Entity]++
		rowNum := counts[row.Entity] + 1 // header is row 1
		totals[row.Entity] = totals[row.Entity].Add(row.LineTotal)

		date := ""
		if row.PurchaseDate != nil {
			date = row.PurchaseDate.Format("2006-01-02")
		}
		needsReview := ""
		if row.NeedsReview {
			needsReview = "YES"
		}

		values := []interface{}{
			date, row.Vendor, row.InvoiceNumber, row.Description, row.SKU,
			row.Quantity.InexactFloat64(),
			row.LineTotal.InexactFloat64(),
			string(row.TaxFlag),
			row.TaxAmount.InexactFloat64(),
			row.AccountCode,
			categorization.AccountName(row.AccountCode),
			row.Category,
			row.Confidence,
			needsReview,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowNum)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", rowNum, err)
			}
		}
	}

	// totals row per sheet
	for _, entity := range models.Entities() {
		sheet := sheetNames[entity]
		rowNum := counts[entity] + 3
		totalCell, _ := excelize.CoordinatesToCellName(6, rowNum)
		sumCell, _ := excelize.CoordinatesToCellName(7, rowNum)
		_ = f.SetCellValue(sheet, totalCell, "TOTAL")
		_ = f.SetCellValue(sheet, sumCell, totals[entity].InexactFloat64())
		_ = f.SetCellStyle(sheet, totalCell, sumCell, boldStyle)
	}

	// excelize starts every workbook with Sheet1; drop it
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}

	e.logger.Info("Export rendered",
		zap.Int("rows", len(rows)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}
