package categorization

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mapping is the result of stage two: a GL account for a recognized
// product category
type Mapping struct {
	AccountCode    string  `json:"account_code"`
	AccountName    string  `json:"account_name"`
	Confidence     float64 `json:"confidence"`
	RequiresReview bool    `json:"requires_review"`
	Rule           string  `json:"rule"`
}

// AccountMapper maps product categories to GL accounts with
// deterministic rules. No AI calls happen here.
type AccountMapper struct {
	capitalizationThreshold decimal.Decimal
	logger                  *zap.Logger
}

// NewAccountMapper creates a mapper. The threshold decides when
// equipment is capitalized instead of expensed.
func NewAccountMapper(capitalizationThreshold decimal.Decimal, logger *zap.Logger) *AccountMapper {
	return &AccountMapper{
		capitalizationThreshold: capitalizationThreshold,
		logger:                  logger,
	}
}

// MapToAccount resolves a category to a GL account. Equipment at or
// above the capitalization threshold books to 1500 as a fixed asset and
// is flagged for review; unknown categories land in 9100 suspense and
// are always reviewed.
func (m *AccountMapper) MapToAccount(category Category, lineTotal decimal.Decimal) Mapping {
	if !category.Valid() {
		m.logger.Warn("Unknown product category, treating as unknown",
			zap.String("category", string(category)))
		category = Unknown
	}

	accountCode := categoryAccounts[category]
	requiresReview := false

	if category == Equipment {
		if lineTotal.GreaterThanOrEqual(m.capitalizationThreshold) {
			accountCode = "1500"
			requiresReview = true
			m.logger.Info("Equipment capitalized as fixed asset",
				zap.String("amount", lineTotal.StringFixed(2)),
				zap.String("threshold", m.capitalizationThreshold.StringFixed(2)))
		}
	}

	if category == Unknown {
		requiresReview = true
	}

	confidence := 1.0
	if requiresReview {
		confidence = 0.5
	}

	return Mapping{
		AccountCode:    accountCode,
		AccountName:    AccountName(accountCode),
		Confidence:     confidence,
		RequiresReview: requiresReview,
		Rule:           fmt.Sprintf("%s → %s", category, accountCode),
	}
}
