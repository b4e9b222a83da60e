package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entity identifies which set of books a record belongs to.
// The corporation runs the canteen, the sole proprietorship runs the
// sports store. They share a storefront but never share a ledger.
type Entity string

const (
	EntityCorp     Entity = "corp"
	EntitySoleprop Entity = "soleprop"
)

// Schema returns the Postgres schema holding this entity's tables
func (e Entity) Schema() string {
	if e == EntitySoleprop {
		return "curlys_soleprop"
	}
	return "curlys_corp"
}

// Valid reports whether the entity is one of the known values
func (e Entity) Valid() bool {
	return e == EntityCorp || e == EntitySoleprop
}

// ParseEntity converts a string into an Entity
func ParseEntity(s string) (Entity, error) {
	e := Entity(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown entity %q", s)
	}
	return e, nil
}

// Entities lists both entities, used when a lookup must search all books
func Entities() []Entity {
	return []Entity{EntityCorp, EntitySoleprop}
}

// ReceiptSource identifies how a receipt entered the system
type ReceiptSource string

const (
	SourcePWA    ReceiptSource = "pwa"
	SourceEmail  ReceiptSource = "email"
	SourceDrive  ReceiptSource = "drive"
	SourceManual ReceiptSource = "manual"
)

// ReceiptStatus tracks a receipt through the pipeline
type ReceiptStatus string

const (
	StatusPending    ReceiptStatus = "pending"
	StatusProcessing ReceiptStatus = "processing"
	StatusReview     ReceiptStatus = "review"
	StatusApproved   ReceiptStatus = "approved"
	StatusRejected   ReceiptStatus = "rejected"
	StatusFailed     ReceiptStatus = "failed"
)

// LineType classifies a receipt line
type LineType string

const (
	LineItem     LineType = "item"
	LineFee      LineType = "fee"
	LineDiscount LineType = "discount"
	LineTax      LineType = "tax"
	LineDeposit  LineType = "deposit"
	LineOther    LineType = "other"
)

// TaxFlag marks whether HST applies to a line
type TaxFlag string

const (
	TaxTaxable   TaxFlag = "taxable"
	TaxExempt    TaxFlag = "exempt"
	TaxZeroRated TaxFlag = "zero_rated"
	TaxUnknown   TaxFlag = "unknown"
)

// CategorizationSource records which stage decided a line's category
type CategorizationSource string

const (
	CategorizedByCache      CategorizationSource = "cache"
	CategorizedByLLM        CategorizationSource = "llm"
	CategorizedByMapper     CategorizationSource = "account_mapper"
	CategorizedByCorrection CategorizationSource = "manual_correction"
)

// BoundingBox locates a detected line on the source page.
// All values are fractions of page width/height in [0, 1].
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ValidationWarning is a non-fatal parsing problem surfaced to the review UI
type ValidationWarning struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// NewSubtotalMismatchWarning builds the warning emitted when extracted line
// items do not sum to the receipt's printed subtotal
func NewSubtotalMismatchWarning(found, expected decimal.Decimal) ValidationWarning {
	diff := expected.Sub(found).Abs()
	return ValidationWarning{
		Type: "subtotal_mismatch",
		Message: fmt.Sprintf("Line items sum to $%s but receipt subtotal is $%s (missing $%s)",
			found.StringFixed(2), expected.StringFixed(2), diff.StringFixed(2)),
		Data: map[string]interface{}{
			"found_total":    found.InexactFloat64(),
			"expected_total": expected.InexactFloat64(),
			"difference":     diff.InexactFloat64(),
		},
	}
}

// ReceiptLine is a single parsed line from a receipt or invoice
type ReceiptLine struct {
	ID                   uuid.UUID            `json:"id"`
	ReceiptID            uuid.UUID            `json:"receipt_id"`
	LineIndex            int                  `json:"line_index"`
	LineType             LineType             `json:"line_type"`
	RawText              string               `json:"raw_text"`
	VendorSKU            string               `json:"vendor_sku,omitempty"`
	ItemDescription      string               `json:"item_description"`
	Quantity             decimal.Decimal      `json:"quantity"`
	UnitPrice            decimal.Decimal      `json:"unit_price"`
	LineTotal            decimal.Decimal      `json:"line_total"`
	TaxFlag              TaxFlag              `json:"tax_flag"`
	TaxAmount            decimal.Decimal      `json:"tax_amount"`
	AccountCode          string               `json:"account_code,omitempty"`
	ProductCategory      string               `json:"product_category,omitempty"`
	CategorizationSource CategorizationSource `json:"categorization_source,omitempty"`
	Confidence           float64              `json:"confidence"`
	NeedsReview          bool                 `json:"needs_review"`
	ReviewStatus         ReviewStatus         `json:"review_status,omitempty"`
	ReviewedBy           string               `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time           `json:"reviewed_at,omitempty"`
	AICost               decimal.Decimal      `json:"ai_cost"`
	BoundingBox          *BoundingBox         `json:"bounding_box,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
}

// Receipt is the persisted record of an uploaded receipt
type Receipt struct {
	ID               uuid.UUID           `json:"id"`
	Entity           Entity              `json:"entity"`
	Source           ReceiptSource       `json:"source"`
	Status           ReceiptStatus       `json:"status"`
	ContentHash      string              `json:"content_hash"`
	OriginalFilePath string              `json:"original_file_path"`
	OCRMethod        string              `json:"ocr_method,omitempty"`
	OCRConfidence    float64             `json:"ocr_confidence"`
	VendorGuess      string              `json:"vendor_guess,omitempty"`
	PurchaseDate     *time.Time          `json:"purchase_date,omitempty"`
	InvoiceNumber    string              `json:"invoice_number,omitempty"`
	Currency         string              `json:"currency"`
	Subtotal         decimal.Decimal     `json:"subtotal"`
	TaxTotal         decimal.Decimal     `json:"tax_total"`
	Total            decimal.Decimal     `json:"total"`
	IsBill           bool                `json:"is_bill"`
	PaymentTerms     string              `json:"payment_terms,omitempty"`
	DueDate          *time.Time          `json:"due_date,omitempty"`
	Warnings         []ValidationWarning `json:"validation_warnings,omitempty"`
	ParseErrors      []string            `json:"parse_errors,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NormalizedReceipt is the parser output before persistence.
// It is vendor-independent: every vendor parser produces one of these.
type NormalizedReceipt struct {
	Entity        Entity              `json:"entity"`
	Source        ReceiptSource       `json:"source"`
	VendorGuess   string              `json:"vendor_guess"`
	PurchaseDate  time.Time           `json:"purchase_date"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	DueDate       *time.Time          `json:"due_date,omitempty"`
	Currency      string              `json:"currency"`
	Subtotal      decimal.Decimal     `json:"subtotal"`
	TaxTotal      decimal.Decimal     `json:"tax_total"`
	Total         decimal.Decimal     `json:"total"`
	Lines         []ReceiptLine       `json:"lines"`
	IsBill        bool                `json:"is_bill"`
	PaymentTerms  string              `json:"payment_terms,omitempty"`
	ParserName    string              `json:"parser_name"`
	Confidence    float64             `json:"confidence"`
	Warnings      []ValidationWarning `json:"validation_warnings,omitempty"`
	ParseErrors   []string            `json:"parse_errors,omitempty"`
}

// LineItemTotal sums item and fee lines, the lines that contribute to the
// printed subtotal. Discounts, taxes and deposits are excluded.
func (r *NormalizedReceipt) LineItemTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		if line.LineType == LineItem || line.LineType == LineFee {
			total = total.Add(line.LineTotal)
		}
	}
	return total
}
