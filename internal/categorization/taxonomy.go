// Package categorization turns raw receipt line descriptions into GL
// account codes in two stages: an LLM recognizer expands vendor
// abbreviations into a fixed product taxonomy, then a deterministic
// mapper assigns the account. Only stage one costs money, and the SKU
// cache makes repeat items free.
package categorization

// Category is a product category in the recognition taxonomy. Multiple
// categories can map to the same GL account; the extra granularity feeds
// analytics and the cache.
type Category string

const (
	// Food COGS (5000-5009, 5099)
	FoodHotdog    Category = "food_hotdog"
	FoodSandwich  Category = "food_sandwich"
	FoodPizza     Category = "food_pizza"
	FoodFrozen    Category = "food_frozen"
	FoodBakery    Category = "food_bakery"
	FoodDairy     Category = "food_dairy"
	FoodMeat      Category = "food_meat"
	FoodProduce   Category = "food_produce"
	FoodOil       Category = "food_oil"
	FoodCondiment Category = "food_condiment"
	FoodPantry    Category = "food_pantry"
	FoodOther     Category = "food_other"

	// Beverage COGS (5011-5019)
	BeverageSoda    Category = "beverage_soda"
	BeverageWater   Category = "beverage_water"
	BeverageEnergy  Category = "beverage_energy"
	BeverageSports  Category = "beverage_sports"
	BeverageJuice   Category = "beverage_juice"
	BeverageCoffee  Category = "beverage_coffee"
	BeverageTea     Category = "beverage_tea"
	BeverageMilk    Category = "beverage_milk"
	BeverageAlcohol Category = "beverage_alcohol"
	BeverageOther   Category = "beverage_other"

	// Supplement COGS (5021-5029)
	SupplementProtein         Category = "supplement_protein"
	SupplementVitamin         Category = "supplement_vitamin"
	SupplementPreworkout      Category = "supplement_preworkout"
	SupplementRecovery        Category = "supplement_recovery"
	SupplementSportsNutrition Category = "supplement_sports_nutrition"
	SupplementOther           Category = "supplement_other"

	// Retail COGS (5031-5039)
	RetailSnack     Category = "retail_snack"
	RetailCandy     Category = "retail_candy"
	RetailHealth    Category = "retail_health"
	RetailAccessory Category = "retail_accessory"
	RetailApparel   Category = "retail_apparel"
	RetailOther     Category = "retail_other"

	Freight Category = "freight"

	// Packaging and supplies (5201-5209)
	PackagingContainer Category = "packaging_container"
	PackagingBag       Category = "packaging_bag"
	PackagingUtensil   Category = "packaging_utensil"
	SupplyCleaning     Category = "supply_cleaning"
	SupplyPaper        Category = "supply_paper"
	SupplyKitchen      Category = "supply_kitchen"
	SupplyOther        Category = "supply_other"

	OfficeSupply    Category = "office_supply"
	RepairEquipment Category = "repair_equipment"
	RepairBuilding  Category = "repair_building"
	Maintenance     Category = "maintenance"
	Equipment       Category = "equipment"
	Deposit         Category = "deposit"
	License         Category = "license"
	Unknown         Category = "unknown"
)

// categoryAccounts maps each category to its GL account code. Equipment
// defaults to 6300 and is overridden by the capitalization rule.
var categoryAccounts = map[Category]string{
	FoodHotdog:    "5001",
	FoodSandwich:  "5002",
	FoodPizza:     "5003",
	FoodFrozen:    "5004",
	FoodBakery:    "5005",
	FoodDairy:     "5006",
	FoodMeat:      "5007",
	FoodProduce:   "5008",
	FoodOil:       "5009",
	FoodCondiment: "5099",
	FoodPantry:    "5099",
	FoodOther:     "5099",

	BeverageSoda:    "5011",
	BeverageWater:   "5012",
	BeverageEnergy:  "5013",
	BeverageSports:  "5014",
	BeverageJuice:   "5015",
	BeverageCoffee:  "5016",
	BeverageTea:     "5016",
	BeverageMilk:    "5017",
	BeverageAlcohol: "5018",
	BeverageOther:   "5019",

	SupplementProtein:         "5021",
	SupplementVitamin:         "5022",
	SupplementPreworkout:      "5023",
	SupplementRecovery:        "5024",
	SupplementSportsNutrition: "5025",
	SupplementOther:           "5029",

	RetailSnack:     "5031",
	RetailCandy:     "5032",
	RetailHealth:    "5033",
	RetailAccessory: "5034",
	RetailApparel:   "5035",
	RetailOther:     "5039",

	Freight: "5100",

	PackagingContainer: "5201",
	PackagingBag:       "5202",
	PackagingUtensil:   "5203",
	SupplyCleaning:     "5204",
	SupplyPaper:        "5205",
	SupplyKitchen:      "5206",
	SupplyOther:        "5209",

	OfficeSupply:    "6600",
	RepairEquipment: "6300",
	RepairBuilding:  "6300",
	Maintenance:     "6300",
	Equipment:       "6300",
	Deposit:         "9000",
	License:         "6800",
	Unknown:         "9100",
}

// accountNames labels account codes for exports and the review UI
var accountNames = map[string]string{
	"5001": "COGS - Food - Hot Dogs",
	"5002": "COGS - Food - Sandwiches",
	"5003": "COGS - Food - Pizza",
	"5004": "COGS - Food - Frozen",
	"5005": "COGS - Food - Bakery",
	"5006": "COGS - Food - Dairy",
	"5007": "COGS - Food - Meat/Deli",
	"5008": "COGS - Food - Produce",
	"5009": "COGS - Food - Cooking Oil/Fats",
	"5099": "COGS - Food - Other",
	"5011": "COGS - Beverage - Soda",
	"5012": "COGS - Beverage - Water",
	"5013": "COGS - Beverage - Energy Drinks",
	"5014": "COGS - Beverage - Sports Drinks",
	"5015": "COGS - Beverage - Juice",
	"5016": "COGS - Beverage - Coffee/Tea",
	"5017": "COGS - Beverage - Milk Products",
	"5018": "COGS - Beverage - Alcohol",
	"5019": "COGS - Beverage - Other",
	"5021": "COGS - Supplements - Protein",
	"5022": "COGS - Supplements - Vitamins",
	"5023": "COGS - Supplements - Pre-Workout",
	"5024": "COGS - Supplements - Recovery",
	"5025": "COGS - Supplements - Sports Nutrition",
	"5029": "COGS - Supplements - Other",
	"5031": "COGS - Retail - Snacks/Chips",
	"5032": "COGS - Retail - Candy/Chocolate",
	"5033": "COGS - Retail - Health Products",
	"5034": "COGS - Retail - Accessories",
	"5035": "COGS - Retail - Apparel",
	"5039": "COGS - Retail - Other",
	"5100": "Freight In",
	"5201": "Packaging - Containers/Cups",
	"5202": "Packaging - Bags/Wrapping",
	"5203": "Packaging - Utensils/Straws",
	"5204": "Supplies - Cleaning",
	"5205": "Supplies - Paper Products",
	"5206": "Supplies - Kitchen",
	"5209": "Supplies - Other",
	"6300": "Repairs & Maintenance",
	"6600": "Office Supplies",
	"6800": "Licenses & Permits",
	"9000": "Deposits - Bottle/Container",
	"9100": "Pending Receipt - No ITC",
	"1500": "Equipment & Fixtures",
}

// Valid reports whether the category exists in the taxonomy
func (c Category) Valid() bool {
	_, ok := categoryAccounts[c]
	return ok
}

// Categories lists every category in the taxonomy
func Categories() []Category {
	out := make([]Category, 0, len(categoryAccounts))
	for c := range categoryAccounts {
		out = append(out, c)
	}
	return out
}

// AccountCode returns the base GL account for a category, without the
// capitalization rule applied
func AccountCode(c Category) string {
	if code, ok := categoryAccounts[c]; ok {
		return code
	}
	return categoryAccounts[Unknown]
}

// AccountName returns the human-readable name for an account code
func AccountName(code string) string {
	if name, ok := accountNames[code]; ok {
		return name
	}
	return "Unknown Account"
}
