package categorization

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

// reviewConfidenceFloor: recognitions under this confidence go to a
// human even when the account mapping itself is clean
const reviewConfidenceFloor = 0.8

// CachedMapping is what the SKU cache stores per vendor+SKU
type CachedMapping struct {
	Vendor                string          `json:"vendor"`
	SKU                   string          `json:"sku"`
	NormalizedDescription string          `json:"normalized_description"`
	Category              Category        `json:"category"`
	AccountCode           string          `json:"account_code"`
	Confidence            decimal.Decimal `json:"confidence"`
	TimesSeen             int             `json:"times_seen"`
	Source                string          `json:"source"`
}

// ProductCache is the SKU cache the service reads and writes. The
// Postgres implementation lives in the repository package.
type ProductCache interface {
	// Lookup returns nil without error on a cache miss and bumps the
	// hit counter on a hit
	Lookup(ctx context.Context, vendor, sku string) (*CachedMapping, error)
	Store(ctx context.Context, mapping CachedMapping) error
}

// Result is a fully categorized line item
type Result struct {
	NormalizedDescription string
	Brand                 string
	Category              Category
	AccountCode           string
	AccountName           string
	Source                models.CategorizationSource
	Confidence            float64
	RequiresReview        bool
	AICost                decimal.Decimal
}

// Service orchestrates the two-stage categorization flow with SKU
// caching in front of the recognizer
type Service struct {
	cache              ProductCache
	recognizer         Recognizer
	mapper             *AccountMapper
	minCacheConfidence float64
	timeout            time.Duration
	logger             *zap.Logger
}

// NewService wires the categorization pipeline. minCacheConfidence
// controls which recognitions are worth remembering; timeout bounds one
// recognizer call, with 0 meaning no bound.
func NewService(cache ProductCache, recognizer Recognizer, mapper *AccountMapper, minCacheConfidence float64, timeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		cache:              cache,
		recognizer:         recognizer,
		mapper:             mapper,
		minCacheConfidence: minCacheConfidence,
		timeout:            timeout,
		logger:             logger,
	}
}

// CategorizeLine resolves one receipt line to a GL account. Cache hit
// short-circuits the LLM entirely; a miss calls the recognizer, maps the
// category, and caches confident results for next time.
func (s *Service) CategorizeLine(ctx context.Context, vendor, sku, rawDescription string, lineTotal decimal.Decimal) (*Result, error) {
	if sku != "" {
		cached, err := s.cache.Lookup(ctx, vendor, sku)
		if err != nil {
			// a broken cache must not block categorization
			s.logger.Warn("SKU cache lookup failed",
				zap.String("vendor", vendor),
				zap.String("sku", sku),
				zap.Error(err))
		} else if cached != nil {
			s.logger.Info("SKU cache hit",
				zap.String("vendor", vendor),
				zap.String("sku", sku),
				zap.String("category", string(cached.Category)),
				zap.Int("times_seen", cached.TimesSeen))
			return s.fromCache(cached, lineTotal), nil
		}
	}

	recognizeCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		recognizeCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	recognized, err := s.recognizer.Recognize(recognizeCtx, vendor, sku, rawDescription)
	if err != nil {
		return nil, fmt.Errorf("failed to recognize item: %w", err)
	}

	mapping := s.mapper.MapToAccount(recognized.Category, lineTotal)

	confidence := recognized.Confidence
	if mapping.Confidence < confidence {
		confidence = mapping.Confidence
	}
	requiresReview := mapping.RequiresReview || recognized.Confidence < reviewConfidenceFloor

	result := &Result{
		NormalizedDescription: recognized.NormalizedDescription,
		Brand:                 recognized.Brand,
		Category:              recognized.Category,
		AccountCode:           mapping.AccountCode,
		AccountName:           mapping.AccountName,
		Source:                models.CategorizedByLLM,
		Confidence:            confidence,
		RequiresReview:        requiresReview,
		AICost:                recognized.Cost,
	}

	if sku != "" && recognized.Category != Unknown && recognized.Confidence >= s.minCacheConfidence {
		err := s.cache.Store(ctx, CachedMapping{
			Vendor:                vendor,
			SKU:                   sku,
			NormalizedDescription: recognized.NormalizedDescription,
			Category:              recognized.Category,
			AccountCode:           mapping.AccountCode,
			Confidence:            decimal.NewFromFloat(recognized.Confidence),
			Source:                string(models.CategorizedByLLM),
		})
		if err != nil {
			s.logger.Warn("Failed to cache categorization",
				zap.String("vendor", vendor),
				zap.String("sku", sku),
				zap.Error(err))
		}
	}

	s.logger.Info("Categorization complete",
		zap.String("vendor", vendor),
		zap.String("sku", sku),
		zap.String("category", string(result.Category)),
		zap.String("account", result.AccountCode),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("requires_review", result.RequiresReview))

	return result, nil
}

// fromCache rebuilds a result from a cached mapping. The equipment
// capitalization rule still runs because it depends on this line's
// total, not the cached one.
func (s *Service) fromCache(cached *CachedMapping, lineTotal decimal.Decimal) *Result {
	mapping := s.mapper.MapToAccount(cached.Category, lineTotal)

	return &Result{
		NormalizedDescription: cached.NormalizedDescription,
		Category:              cached.Category,
		AccountCode:           mapping.AccountCode,
		AccountName:           mapping.AccountName,
		Source:                models.CategorizedByCache,
		Confidence:            1.0, // a cached answer has been seen and kept before
		RequiresReview:        mapping.RequiresReview,
		AICost:                decimal.Zero,
	}
}
