package categorization

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

type fakeCache struct {
	entries map[string]*CachedMapping
	stored  []CachedMapping
	lookups int
	failing bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*CachedMapping)}
}

func (c *fakeCache) Lookup(_ context.Context, vendor, sku string) (*CachedMapping, error) {
	c.lookups++
	if c.failing {
		return nil, fmt.Errorf("connection refused")
	}
	return c.entries[vendor+"|"+sku], nil
}

func (c *fakeCache) Store(_ context.Context, mapping CachedMapping) error {
	c.stored = append(c.stored, mapping)
	c.entries[mapping.Vendor+"|"+mapping.SKU] = &mapping
	return nil
}

type fakeRecognizer struct {
	result *Recognition
	err    error
	calls  int
}

func (r *fakeRecognizer) Recognize(_ context.Context, _, _, _ string) (*Recognition, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := *r.result
	return &out, nil
}

func newTestService(t *testing.T, cache *fakeCache, recognizer *fakeRecognizer) *Service {
	t.Helper()
	logger := zap.NewNop()
	mapper := NewAccountMapper(decimal.NewFromInt(2500), logger)
	return NewService(cache, recognizer, mapper, 0.9, 0, logger)
}

// slowRecognizer blocks until its context gives up
type slowRecognizer struct{}

func (slowRecognizer) Recognize(ctx context.Context, _, _, _ string) (*Recognition, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCategorizeLineTimesOutSlowRecognizer(t *testing.T) {
	mapper := NewAccountMapper(decimal.NewFromInt(2500), zap.NewNop())
	svc := NewService(newFakeCache(), slowRecognizer{}, mapper, 0.9, 10*time.Millisecond, zap.NewNop())

	_, err := svc.CategorizeLine(context.Background(), "GFS", "1", "CHICKEN", decimal.NewFromFloat(45.50))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCategorizeLineCacheHit(t *testing.T) {
	cache := newFakeCache()
	cache.entries["Costco|1234567"] = &CachedMapping{
		Vendor:                "Costco",
		SKU:                   "1234567",
		NormalizedDescription: "Kirkland Signature Paper Towels",
		Category:              SupplyPaper,
		AccountCode:           "5205",
		TimesSeen:             4,
	}
	recognizer := &fakeRecognizer{}
	svc := newTestService(t, cache, recognizer)

	result, err := svc.CategorizeLine(context.Background(), "Costco", "1234567", "KS PAPER TOWEL", decimal.NewFromFloat(24.99))

	require.NoError(t, err)
	assert.Equal(t, models.CategorizedByCache, result.Source)
	assert.Equal(t, "5205", result.AccountCode)
	assert.Equal(t, 1.0, result.Confidence)
	assert.False(t, result.RequiresReview)
	assert.True(t, result.AICost.IsZero())
	assert.Equal(t, 0, recognizer.calls, "cache hit must not call the LLM")
}

func TestCategorizeLineCacheMissCallsRecognizer(t *testing.T) {
	cache := newFakeCache()
	recognizer := &fakeRecognizer{result: &Recognition{
		NormalizedDescription: "Mountain Dew Citrus Soda 591mL",
		Brand:                 "Mountain Dew",
		Category:              BeverageSoda,
		Confidence:            0.97,
		Cost:                  decimal.NewFromFloat(0.0021),
	}}
	svc := newTestService(t, cache, recognizer)

	result, err := svc.CategorizeLine(context.Background(), "Pepsi", "69000123456", "MTN DEW 591ML", decimal.NewFromFloat(28.50))

	require.NoError(t, err)
	assert.Equal(t, models.CategorizedByLLM, result.Source)
	assert.Equal(t, "5011", result.AccountCode)
	assert.Equal(t, 0.97, result.Confidence)
	assert.False(t, result.RequiresReview)
	assert.True(t, result.AICost.Equal(decimal.NewFromFloat(0.0021)))
	assert.Equal(t, 1, recognizer.calls)

	// confident result lands in the cache for next time
	require.Len(t, cache.stored, 1)
	assert.Equal(t, BeverageSoda, cache.stored[0].Category)
	assert.Equal(t, "5011", cache.stored[0].AccountCode)
}

func TestCategorizeLineLowConfidenceNotCached(t *testing.T) {
	cache := newFakeCache()
	recognizer := &fakeRecognizer{result: &Recognition{
		NormalizedDescription: "Miscellaneous Grocery Item",
		Category:              FoodOther,
		Confidence:            0.65,
	}}
	svc := newTestService(t, cache, recognizer)

	result, err := svc.CategorizeLine(context.Background(), "Superstore", "888777", "MISC GROC", decimal.NewFromFloat(6.49))

	require.NoError(t, err)
	assert.True(t, result.RequiresReview, "recognition under 0.8 goes to a human")
	assert.Equal(t, "5099", result.AccountCode)
	assert.Empty(t, cache.stored, "0.65 is below the cache threshold")
}

func TestCategorizeLineOverallConfidenceIsMinOfStages(t *testing.T) {
	cache := newFakeCache()
	recognizer := &fakeRecognizer{result: &Recognition{
		NormalizedDescription: "Commercial Slush Machine",
		Category:              Equipment,
		Confidence:            0.95,
	}}
	svc := newTestService(t, cache, recognizer)

	result, err := svc.CategorizeLine(context.Background(), "GFS", "555111", "SLUSH MACHINE", decimal.NewFromInt(3200))

	require.NoError(t, err)
	// capitalized equipment maps at 0.5, which caps the overall score
	assert.Equal(t, "1500", result.AccountCode)
	assert.Equal(t, 0.5, result.Confidence)
	assert.True(t, result.RequiresReview)
}

func TestCategorizeLineUnknownNeverCached(t *testing.T) {
	cache := newFakeCache()
	recognizer := &fakeRecognizer{result: &Recognition{
		NormalizedDescription: "UNREADABLE",
		Category:              Unknown,
		Confidence:            0.95,
	}}
	svc := newTestService(t, cache, recognizer)

	result, err := svc.CategorizeLine(context.Background(), "Walmart", "42", "####", decimal.NewFromFloat(9.99))

	require.NoError(t, err)
	assert.Equal(t, "9100", result.AccountCode)
	assert.True(t, result.RequiresReview)
	assert.Empty(t, cache.stored)
}

func TestCategorizeLineEmptySKUSkipsCache(t *testing.T) {
	cache := newFakeCache()
	recognizer := &fakeRecognizer{result: &Recognition{
		NormalizedDescription: "Extra Strength Tylenol",
		Category:              RetailHealth,
		Confidence:            0.96,
	}}
	svc := newTestService(t, cache, recognizer)

	_, err := svc.CategorizeLine(context.Background(), "Pharmasave", "", "TYLENOL EX ST", decimal.NewFromFloat(12.99))

	require.NoError(t, err)
	assert.Equal(t, 0, cache.lookups)
	assert.Empty(t, cache.stored, "nothing to key the cache on without a SKU")
}

func TestCategorizeLineBrokenCacheFallsThrough(t *testing.T) {
	cache := newFakeCache()
	cache.failing = true
	recognizer := &fakeRecognizer{result: &Recognition{
		NormalizedDescription: "Diet Pepsi 591mL",
		Category:              BeverageSoda,
		Confidence:            0.98,
	}}
	svc := newTestService(t, cache, recognizer)

	result, err := svc.CategorizeLine(context.Background(), "Pepsi", "69000654321", "DT PEPSI 591", decimal.NewFromFloat(28.50))

	require.NoError(t, err)
	assert.Equal(t, models.CategorizedByLLM, result.Source)
	assert.Equal(t, 1, recognizer.calls)
}

func TestCategorizeLineRecognizerErrorPropagates(t *testing.T) {
	cache := newFakeCache()
	recognizer := &fakeRecognizer{err: fmt.Errorf("rate limited")}
	svc := newTestService(t, cache, recognizer)

	_, err := svc.CategorizeLine(context.Background(), "GFS", "1", "CHICKEN", decimal.NewFromFloat(45.50))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to recognize item")
}

func TestCategorizeLineCachedEquipmentStillCapitalizes(t *testing.T) {
	cache := newFakeCache()
	cache.entries["GFS|555111"] = &CachedMapping{
		Vendor:                "GFS",
		SKU:                   "555111",
		NormalizedDescription: "Commercial Slush Machine",
		Category:              Equipment,
		AccountCode:           "6300",
	}
	svc := newTestService(t, cache, &fakeRecognizer{})

	result, err := svc.CategorizeLine(context.Background(), "GFS", "555111", "SLUSH MACHINE", decimal.NewFromInt(4000))

	require.NoError(t, err)
	// the threshold rule depends on this line's amount, not the cached one
	assert.Equal(t, "1500", result.AccountCode)
	assert.True(t, result.RequiresReview)
}
