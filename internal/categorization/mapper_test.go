package categorization

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestMapper(t *testing.T) *AccountMapper {
	t.Helper()
	return NewAccountMapper(decimal.NewFromInt(2500), zap.NewNop())
}

func TestMapToAccountCleanCategories(t *testing.T) {
	mapper := newTestMapper(t)

	tests := []struct {
		category Category
		account  string
	}{
		{FoodHotdog, "5001"},
		{BeverageSoda, "5011"},
		{SupplementProtein, "5021"},
		{RetailSnack, "5031"},
		{Freight, "5100"},
		{SupplyCleaning, "5204"},
		{OfficeSupply, "6600"},
		{Deposit, "9000"},
		{License, "6800"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			mapping := mapper.MapToAccount(tt.category, decimal.NewFromFloat(25.00))

			assert.Equal(t, tt.account, mapping.AccountCode)
			assert.Equal(t, 1.0, mapping.Confidence)
			assert.False(t, mapping.RequiresReview)
			assert.NotEmpty(t, mapping.AccountName)
		})
	}
}

func TestMapToAccountEquipmentCapitalization(t *testing.T) {
	mapper := newTestMapper(t)

	t.Run("below threshold expenses to 6300", func(t *testing.T) {
		mapping := mapper.MapToAccount(Equipment, decimal.NewFromFloat(499.99))

		assert.Equal(t, "6300", mapping.AccountCode)
		assert.False(t, mapping.RequiresReview)
		assert.Equal(t, 1.0, mapping.Confidence)
	})

	t.Run("at threshold capitalizes to 1500", func(t *testing.T) {
		mapping := mapper.MapToAccount(Equipment, decimal.NewFromInt(2500))

		assert.Equal(t, "1500", mapping.AccountCode)
		assert.True(t, mapping.RequiresReview)
		assert.Equal(t, 0.5, mapping.Confidence)
		assert.Equal(t, "Equipment & Fixtures", mapping.AccountName)
	})

	t.Run("above threshold capitalizes to 1500", func(t *testing.T) {
		mapping := mapper.MapToAccount(Equipment, decimal.NewFromFloat(4800.00))

		assert.Equal(t, "1500", mapping.AccountCode)
		assert.True(t, mapping.RequiresReview)
	})
}

func TestMapToAccountUnknownGoesToSuspense(t *testing.T) {
	mapper := newTestMapper(t)

	mapping := mapper.MapToAccount(Unknown, decimal.NewFromFloat(12.00))

	assert.Equal(t, "9100", mapping.AccountCode)
	assert.True(t, mapping.RequiresReview)
	assert.Equal(t, 0.5, mapping.Confidence)
}

func TestMapToAccountInvalidCategory(t *testing.T) {
	mapper := newTestMapper(t)

	mapping := mapper.MapToAccount(Category("food_martian"), decimal.NewFromFloat(12.00))

	assert.Equal(t, "9100", mapping.AccountCode)
	assert.True(t, mapping.RequiresReview)
}
