package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

func TestCacheKeyNormalizesVendorAndSKU(t *testing.T) {
	base := cacheKey("Costco", "1234567")

	assert.Equal(t, base, cacheKey("costco", "1234567"), "vendor casing must not split the cache")
	assert.Equal(t, base, cacheKey("  Costco  ", " 1234567 "), "stray whitespace must not split the cache")
	assert.NotEqual(t, base, cacheKey("Costco", "7654321"))
	assert.NotEqual(t, base, cacheKey("GFS", "1234567"))
	assert.Len(t, base, 64)
}

func TestCacheKeySeparatorPreventsCollisions(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must hash differently
	assert.NotEqual(t, cacheKey("ab", "c"), cacheKey("a", "bc"))
}

func TestBackoffDoubles(t *testing.T) {
	q := NewWorkQueue(nil, 0, 0, zap.NewNop())

	assert.Equal(t, 30*time.Second, q.Backoff(1))
	assert.Equal(t, 60*time.Second, q.Backoff(2))
	assert.Equal(t, 120*time.Second, q.Backoff(3))
}

func TestBackoffHonorsConfiguredBase(t *testing.T) {
	q := NewWorkQueue(nil, 5, 10*time.Second, zap.NewNop())

	assert.Equal(t, 10*time.Second, q.Backoff(1))
	assert.Equal(t, 40*time.Second, q.Backoff(3))
	assert.Equal(t, 5, q.maxAttempts)
}

func TestStoreNeverRewritesExistingMapping(t *testing.T) {
	_, conflict, found := strings.Cut(productStoreSQL, "ON CONFLICT")
	require.True(t, found)

	// re-recognition may only advance the hit counter; a reviewer's
	// correction must survive every later automated run
	assert.Contains(t, conflict, "times_seen")
	assert.Contains(t, conflict, "last_seen_at")
	for _, column := range []string{"normalized_description", "category", "account_code", "confidence", "source"} {
		assert.NotContains(t, conflict, column+" = EXCLUDED."+column,
			"automated path must not overwrite %s", column)
	}
}

func TestCorrectionRewritesExistingMapping(t *testing.T) {
	_, conflict, found := strings.Cut(productCorrectionSQL, "ON CONFLICT")
	require.True(t, found)

	for _, column := range []string{"normalized_description", "category", "account_code", "confidence", "source"} {
		assert.Contains(t, conflict, column+" = EXCLUDED."+column)
	}
	assert.Contains(t, conflict, "times_seen")
}

// baseTx satisfies pgx.Tx with inert implementations so stubs only
// override what a test exercises
type baseTx struct{}

func (baseTx) Begin(context.Context) (pgx.Tx, error) { return nil, nil }
func (baseTx) Commit(context.Context) error          { return nil }
func (baseTx) Rollback(context.Context) error        { return nil }
func (baseTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (baseTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (baseTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (baseTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (baseTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (baseTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (baseTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (baseTx) Conn() *pgx.Conn                                         { return nil }

type stubTx struct {
	baseTx
	begun     int
	commits   int
	rollbacks int
	failOn    int // which savepoint's insert fails; -1 for none
}

func (s *stubTx) Begin(context.Context) (pgx.Tx, error) {
	sp := &savepointTx{parent: s, fail: s.begun == s.failOn}
	s.begun++
	return sp, nil
}

type savepointTx struct {
	baseTx
	parent *stubTx
	fail   bool
}

func (s *savepointTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	if s.fail {
		return pgconn.CommandTag{}, errors.New("value too long for type character varying")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (s *savepointTx) Commit(context.Context) error {
	s.parent.commits++
	return nil
}

func (s *savepointTx) Rollback(context.Context) error {
	s.parent.rollbacks++
	return nil
}

func TestInsertLinesKeepsSiblingsWhenOneFails(t *testing.T) {
	repo := &ReceiptRepository{logger: zap.NewNop()}
	tx := &stubTx{failOn: 1}
	lines := []models.ReceiptLine{
		{LineType: models.LineItem, ItemDescription: "Chicken Breast", LineTotal: decimal.NewFromFloat(91.00)},
		{LineType: models.LineItem, ItemDescription: "Fryer Oil", LineTotal: decimal.NewFromFloat(48.75)},
		{LineType: models.LineFee, ItemDescription: "Fuel Surcharge", LineTotal: decimal.NewFromFloat(4.50)},
	}

	err := repo.insertLines(context.Background(), tx, "curlys_corp", uuid.New(), lines)

	require.NoError(t, err, "one bad line must not fail the save")
	assert.Equal(t, 3, tx.begun, "every line gets its own savepoint")
	assert.Equal(t, 1, tx.rollbacks, "only the bad line rolls back")
	assert.Equal(t, 2, tx.commits, "the good lines still land")
}

func TestInsertLinesAllGood(t *testing.T) {
	repo := &ReceiptRepository{logger: zap.NewNop()}
	tx := &stubTx{failOn: -1}
	lines := []models.ReceiptLine{
		{LineType: models.LineItem, ItemDescription: "Gatorade", LineTotal: decimal.NewFromFloat(35.88)},
		{LineType: models.LineTax, ItemDescription: "HST", LineTotal: decimal.NewFromFloat(5.38)},
	}

	err := repo.insertLines(context.Background(), tx, "curlys_soleprop", uuid.New(), lines)

	require.NoError(t, err)
	assert.Equal(t, 2, tx.commits)
	assert.Zero(t, tx.rollbacks)
}

func TestPriorityBands(t *testing.T) {
	assert.Equal(t, 1, priorityFor(0.50))
	assert.Equal(t, 1, priorityFor(0.79))
	assert.Equal(t, 2, priorityFor(0.80))
	assert.Equal(t, 2, priorityFor(0.89))
	assert.Equal(t, 3, priorityFor(0.90))
	assert.Equal(t, 3, priorityFor(1.0))
}
