package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curlys/curlys-books/internal/models"
)

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "12.99", "12.99", false},
		{"dollar sign and commas", "$1,234.56", "1234.56", false},
		{"ocr E for 9", "12.9E", "12.99", false},
		{"ocr O for 0", "O.50", "0.5", false},
		{"leading minus", "-5.00", "-5", false},
		{"parenthesized negative", "(3.25)", "-3.25", false},
		{"surrounding whitespace", "  7.10 ", "7.1", false},
		{"garbage", "N/A", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePrice(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCleanDescription(t *testing.T) {
	assert.Equal(t, "CHICKEN BREAST", CleanDescription("  CHICKEN    BREAST "))
	assert.Equal(t, "MILK 2L", CleanDescription("M|LK 2L"))
	assert.Equal(t, "PAPER TOWEL", CleanDescription("PAPER_TOWEL_"))
}

func TestReconcileSubtotal(t *testing.T) {
	lines := []models.ReceiptLine{
		{LineType: models.LineItem, LineTotal: decimal.RequireFromString("12.99")},
		{LineType: models.LineFee, LineTotal: decimal.RequireFromString("0.10")},
		{LineType: models.LineDiscount, LineTotal: decimal.RequireFromString("-2.00")},
	}

	t.Run("within tolerance", func(t *testing.T) {
		w := ReconcileSubtotal(lines, decimal.RequireFromString("11.09"))
		assert.Nil(t, w)

		w = ReconcileSubtotal(lines, decimal.RequireFromString("11.15"))
		assert.Nil(t, w, "ten cent tolerance covers faded cents")
	})

	t.Run("mismatch flagged", func(t *testing.T) {
		w := ReconcileSubtotal(lines, decimal.RequireFromString("19.67"))
		require.NotNil(t, w)
		assert.Equal(t, "subtotal_mismatch", w.Type)
		assert.InDelta(t, 11.09, w.Data["found_total"], 0.001)
		assert.InDelta(t, 19.67, w.Data["expected_total"], 0.001)
		assert.InDelta(t, 8.58, w.Data["difference"], 0.001)
	})

	t.Run("discounts count toward the printed subtotal", func(t *testing.T) {
		// without the -2.00 discount this would pass at 13.09
		w := ReconcileSubtotal(lines, decimal.RequireFromString("13.09"))
		assert.NotNil(t, w)
	})
}
