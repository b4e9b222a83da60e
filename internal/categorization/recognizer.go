package categorization

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Recognition is the result of stage one: the LLM's reading of a raw
// receipt line
type Recognition struct {
	NormalizedDescription string          `json:"normalized_description"`
	Brand                 string          `json:"brand,omitempty"`
	ProductType           string          `json:"product_type,omitempty"`
	Category              Category        `json:"category"`
	Confidence            float64         `json:"confidence"`
	Cost                  decimal.Decimal `json:"cost"`
}

// Recognizer expands abbreviated vendor descriptions into taxonomy
// categories. Implementations wrap one LLM provider each.
type Recognizer interface {
	Recognize(ctx context.Context, vendor, sku, rawDescription string) (*Recognition, error)
}

// buildRecognitionPrompt produces the shared prompt. Both providers use
// the same prompt so a provider switch does not shift the taxonomy.
func buildRecognitionPrompt(vendor, sku, rawDescription string) string {
	var b strings.Builder

	b.WriteString("You are a product recognition expert for a food service business in Canada.\n\n")
	b.WriteString("Your task: expand abbreviated product descriptions and categorize them precisely.\n\n")
	fmt.Fprintf(&b, "VENDOR: %s\n", vendor)
	if sku != "" {
		fmt.Fprintf(&b, "SKU: %s\n", sku)
	}
	fmt.Fprintf(&b, "RAW DESCRIPTION: %s\n\n", rawDescription)

	b.WriteString(`IMPORTANT WORKFLOW NOTES:
- Your categorization is the FIRST PASS - a human reviews ambiguous items
- If the description is vague, give your best guess but LOWER YOUR CONFIDENCE
- When uncertain, a reasonable low-confidence guess beats marking everything "unknown"

INSTRUCTIONS:
1. Expand abbreviations to the full product name (e.g. "MTN DEW 591ML" -> "Mountain Dew Citrus Soda 591mL")
2. Identify the brand if recognizable
3. Classify into exactly ONE of these categories (choose the most specific):
`)

	for _, c := range promptCategoryOrder {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	b.WriteString(`
4. Set confidence by certainty:
   - 0.95-0.99: very confident (clear brand and product)
   - 0.80-0.94: confident with some ambiguity
   - 0.60-0.79: uncertain, multiple interpretations possible
   - below 0.60: use the "unknown" category instead

RESPONSE FORMAT (return ONLY this JSON, no other text):
{
  "normalized_description": "Full product name with proper capitalization",
  "brand": "Brand name or null",
  "product_type": "Generic type, e.g. 'soft drink'",
  "category": "exact_category_from_list_above",
  "confidence": 0.95
}
`)
	fmt.Fprintf(&b, "\nNow classify: %s\n", rawDescription)

	return b.String()
}

// promptCategoryOrder keeps the taxonomy listing stable across calls;
// map iteration order would shuffle it and confuse prompt caching
var promptCategoryOrder = []Category{
	FoodHotdog, FoodSandwich, FoodPizza, FoodFrozen, FoodBakery, FoodDairy,
	FoodMeat, FoodProduce, FoodOil, FoodCondiment, FoodPantry, FoodOther,
	BeverageSoda, BeverageWater, BeverageEnergy, BeverageSports,
	BeverageJuice, BeverageCoffee, BeverageTea, BeverageMilk,
	BeverageAlcohol, BeverageOther,
	SupplementProtein, SupplementVitamin, SupplementPreworkout,
	SupplementRecovery, SupplementSportsNutrition, SupplementOther,
	RetailSnack, RetailCandy, RetailHealth, RetailAccessory, RetailApparel,
	RetailOther,
	Freight,
	PackagingContainer, PackagingBag, PackagingUtensil,
	SupplyCleaning, SupplyPaper, SupplyKitchen, SupplyOther,
	OfficeSupply, RepairEquipment, RepairBuilding, Maintenance,
	Equipment, Deposit, License, Unknown,
}

// parseRecognition decodes a model response, tolerating markdown fences
// around the JSON. Falls back to unknown with zero confidence when the
// response is not decodable, so a flaky model response never kills the
// pipeline.
func parseRecognition(responseText, fallbackDescription string) *Recognition {
	text := stripMarkdownFences(responseText)

	var payload struct {
		NormalizedDescription string  `json:"normalized_description"`
		Brand                 string  `json:"brand"`
		ProductType           string  `json:"product_type"`
		Category              string  `json:"category"`
		Confidence            float64 `json:"confidence"`
	}

	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return &Recognition{
			NormalizedDescription: fallbackDescription,
			Category:              Unknown,
			Confidence:            0,
		}
	}

	category := Category(payload.Category)
	if !category.Valid() {
		category = Unknown
	}

	description := payload.NormalizedDescription
	if description == "" {
		description = fallbackDescription
	}

	return &Recognition{
		NormalizedDescription: description,
		Brand:                 payload.Brand,
		ProductType:           payload.ProductType,
		Category:              category,
		Confidence:            payload.Confidence,
	}
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+len("```"):]
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// tokenCost prices an LLM call: tokens/1000 times the per-1K rate for
// each direction
func tokenCost(promptTokens, completionTokens int, inputPer1K, outputPer1K decimal.Decimal) decimal.Decimal {
	thousand := decimal.NewFromInt(1000)
	input := decimal.NewFromInt(int64(promptTokens)).Div(thousand).Mul(inputPer1K)
	output := decimal.NewFromInt(int64(completionTokens)).Div(thousand).Mul(outputPer1K)
	return input.Add(output)
}
