package categorization

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseRecognitionPlainJSON(t *testing.T) {
	response := `{
		"normalized_description": "Mountain Dew Citrus Soda 591mL",
		"brand": "Mountain Dew",
		"product_type": "soft drink",
		"category": "beverage_soda",
		"confidence": 0.97
	}`

	result := parseRecognition(response, "MTN DEW 591ML")

	assert.Equal(t, "Mountain Dew Citrus Soda 591mL", result.NormalizedDescription)
	assert.Equal(t, "Mountain Dew", result.Brand)
	assert.Equal(t, BeverageSoda, result.Category)
	assert.Equal(t, 0.97, result.Confidence)
}

func TestParseRecognitionMarkdownFenced(t *testing.T) {
	response := "Here is the classification:\n```json\n" +
		`{"normalized_description": "Bounty Paper Towels", "category": "supply_paper", "confidence": 0.92}` +
		"\n```\n"

	result := parseRecognition(response, "BOUNTY TOWEL")

	assert.Equal(t, SupplyPaper, result.Category)
	assert.Equal(t, "Bounty Paper Towels", result.NormalizedDescription)
}

func TestParseRecognitionGarbageFallsBackToUnknown(t *testing.T) {
	result := parseRecognition("sorry, I cannot help with that", "MYSTERY ITEM")

	assert.Equal(t, Unknown, result.Category)
	assert.Equal(t, "MYSTERY ITEM", result.NormalizedDescription)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestParseRecognitionInvalidCategoryBecomesUnknown(t *testing.T) {
	response := `{"normalized_description": "Widget", "category": "aisle_seven", "confidence": 0.9}`

	result := parseRecognition(response, "WIDGET")

	assert.Equal(t, Unknown, result.Category)
	assert.Equal(t, "Widget", result.NormalizedDescription)
}

func TestParseRecognitionEmptyDescriptionUsesRaw(t *testing.T) {
	response := `{"normalized_description": "", "category": "food_other", "confidence": 0.8}`

	result := parseRecognition(response, "GFS MISC 12CT")

	assert.Equal(t, "GFS MISC 12CT", result.NormalizedDescription)
	assert.Equal(t, FoodOther, result.Category)
}

func TestTokenCost(t *testing.T) {
	input := decimal.NewFromFloat(0.003)
	output := decimal.NewFromFloat(0.015)

	// 500 prompt tokens and 100 completion tokens:
	// 0.5 * 0.003 + 0.1 * 0.015 = 0.0015 + 0.0015 = 0.003
	cost := tokenCost(500, 100, input, output)
	assert.True(t, cost.Equal(decimal.NewFromFloat(0.003)), "got %s", cost)

	assert.True(t, tokenCost(0, 0, input, output).IsZero())
}

func TestBuildRecognitionPromptListsEveryCategory(t *testing.T) {
	prompt := buildRecognitionPrompt("Costco", "1234567", "KS PAPER TOWEL")

	assert.Contains(t, prompt, "VENDOR: Costco")
	assert.Contains(t, prompt, "SKU: 1234567")
	assert.Contains(t, prompt, "RAW DESCRIPTION: KS PAPER TOWEL")
	for _, c := range Categories() {
		assert.Contains(t, prompt, string(c))
	}

	// stable ordering matters for provider-side prompt caching
	again := buildRecognitionPrompt("Costco", "1234567", "KS PAPER TOWEL")
	assert.Equal(t, prompt, again)
}

func TestBuildRecognitionPromptOmitsEmptySKU(t *testing.T) {
	prompt := buildRecognitionPrompt("Pharmasave", "", "TYLENOL EX ST")

	assert.NotContains(t, prompt, "SKU:")
}
