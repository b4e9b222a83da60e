package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/categorization"
	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/internal/ocr"
	"github.com/curlys/curlys-books/internal/repository"
	"github.com/curlys/curlys-books/internal/storage"
)

type fakeQueue struct {
	acked  []uuid.UUID
	nacked []uuid.UUID
	dead   bool
}

func (q *fakeQueue) Claim(context.Context, []string) (*repository.Task, error) { return nil, nil }
func (q *fakeQueue) Ack(_ context.Context, id uuid.UUID) error {
	q.acked = append(q.acked, id)
	return nil
}
func (q *fakeQueue) Nack(_ context.Context, task *repository.Task, _ error) (bool, error) {
	q.nacked = append(q.nacked, task.ID)
	return q.dead, nil
}
func (q *fakeQueue) ReapStale(context.Context, time.Duration) (int, error) { return 0, nil }

type fakeReceipts struct {
	statuses []models.ReceiptStatus
	saved    *models.NormalizedReceipt
	method   string
	filePath string
}

func (r *fakeReceipts) UpdateStatus(_ context.Context, _ models.Entity, _ uuid.UUID, status models.ReceiptStatus, _ string) error {
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeReceipts) SaveParseResult(_ context.Context, _ models.Entity, _ uuid.UUID, parsed *models.NormalizedReceipt, method string, _ float64) error {
	r.saved = parsed
	r.method = method
	return nil
}

func (r *fakeReceipts) GetByID(context.Context, uuid.UUID, models.Entity) (*models.Receipt, error) {
	return nil, repository.ErrNotFound
}

func (r *fakeReceipts) UpdateFilePath(_ context.Context, _ models.Entity, _ uuid.UUID, path string) error {
	r.filePath = path
	return nil
}

type fakeExtractor struct {
	result *ocr.Result
	err    error
}

func (e *fakeExtractor) Extract(context.Context, string) (*ocr.Result, error) {
	return e.result, e.err
}

type fakeParser struct {
	result *models.NormalizedReceipt
	err    error
}

func (p *fakeParser) Dispatch(string, models.Entity) (*models.NormalizedReceipt, error) {
	return p.result, p.err
}

type fakeCategorizer struct {
	result *categorization.Result
	err    error
	calls  int
}

func (c *fakeCategorizer) CategorizeLine(_ context.Context, _, _, _ string, _ decimal.Decimal) (*categorization.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := *c.result
	return &out, nil
}

type fakeResolver struct {
	vendor *repository.Vendor
	err    error
}

func (r *fakeResolver) Resolve(context.Context, string) (*repository.Vendor, error) {
	return r.vendor, r.err
}

type fixture struct {
	proc        *ReceiptProcessor
	queue       *fakeQueue
	receipts    *fakeReceipts
	store       *storage.LocalStore
	extractor   *fakeExtractor
	parser      *fakeParser
	categorizer *fakeCategorizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	f := &fixture{
		queue:    &fakeQueue{},
		receipts: &fakeReceipts{},
		store:    store,
		extractor: &fakeExtractor{result: &ocr.Result{
			Text:       "GORDON FOOD SERVICE\nTOTAL 122.40",
			Confidence: 0.95,
			Method:     ocr.MethodPDFText,
		}},
		parser: &fakeParser{result: &models.NormalizedReceipt{
			Entity:       models.EntityCorp,
			VendorGuess:  "Gordon Food Service",
			PurchaseDate: time.Date(2025, 10, 4, 0, 0, 0, 0, time.UTC),
			Total:        decimal.NewFromFloat(122.40),
			ParserName:   "gfs",
			Lines: []models.ReceiptLine{
				{
					LineType:        models.LineItem,
					VendorSKU:       "1234567",
					ItemDescription: "CHICKEN BREAST",
					LineTotal:       decimal.NewFromFloat(91.00),
				},
			},
		}},
		categorizer: &fakeCategorizer{result: &categorization.Result{
			NormalizedDescription: "Chicken Breast",
			Category:              categorization.FoodMeat,
			AccountCode:           "5007",
			Source:                models.CategorizedByLLM,
			Confidence:            0.97,
		}},
	}
	f.proc = NewReceiptProcessor(f.queue, f.receipts, store,
		f.extractor, f.parser, f.categorizer, nil, PollConfig{},
		ImageConfig{NormalizedMaxPixels: 800, NormalizedQuality: 90, ThumbnailSize: 200, ThumbnailQuality: 80},
		zap.NewNop())
	return f
}

func (f *fixture) taskFor(t *testing.T, payload ReceiptTask) *repository.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &repository.Task{
		ID:          uuid.New(),
		TaskType:    TaskTypeProcessReceipt,
		Payload:     body,
		Attempts:    1,
		MaxAttempts: 3,
	}
}

func seedOriginal(t *testing.T, f *fixture, key string) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), key, []byte("%PDF-1.4 fake"), "application/pdf"))
}

func TestRunTaskHappyPath(t *testing.T) {
	f := newFixture(t)
	f.proc.ctx = context.Background()

	key := "corp/intake/abc.pdf"
	seedOriginal(t, f, key)
	task := f.taskFor(t, ReceiptTask{
		ReceiptID: uuid.New(),
		Entity:    models.EntityCorp,
		FileKey:   key,
		Ext:       "pdf",
	})

	f.proc.runTask(task)

	assert.Equal(t, []uuid.UUID{task.ID}, f.queue.acked)
	assert.Empty(t, f.queue.nacked)
	require.NotNil(t, f.receipts.saved)
	assert.Equal(t, ocr.MethodPDFText, f.receipts.method)

	// clean categorization skips review
	assert.Equal(t, []models.ReceiptStatus{models.StatusProcessing, models.StatusApproved}, f.receipts.statuses)

	line := f.receipts.saved.Lines[0]
	assert.Equal(t, "Chicken Breast", line.ItemDescription)
	assert.Equal(t, "5007", line.AccountCode)
	assert.Equal(t, 1, f.categorizer.calls)

	// the original moves from the intake path to its final home
	finalKey := "corp/gordon-food-service/2025-10-04_122.40/original.pdf"
	assert.Equal(t, finalKey, f.receipts.filePath)
	exists, err := f.store.Exists(context.Background(), finalKey)
	require.NoError(t, err)
	assert.True(t, exists)
	gone, err := f.store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, gone, "intake copy is deleted after the move")
}

func TestRunTaskFlagsEntityMismatch(t *testing.T) {
	f := newFixture(t)
	f.proc.ctx = context.Background()
	f.proc.vendors = &fakeResolver{vendor: &repository.Vendor{
		CanonicalName: "Emmerson Supply",
		DefaultEntity: models.EntitySoleprop,
	}}

	key := "corp/intake/pqr.pdf"
	seedOriginal(t, f, key)
	task := f.taskFor(t, ReceiptTask{
		ReceiptID: uuid.New(),
		Entity:    models.EntityCorp,
		FileKey:   key,
		Ext:       "pdf",
	})

	f.proc.runTask(task)

	// the mismatch warns and routes to review; it never blocks the save
	assert.Equal(t, []uuid.UUID{task.ID}, f.queue.acked)
	require.NotNil(t, f.receipts.saved)
	require.Len(t, f.receipts.saved.Warnings, 1)
	assert.Equal(t, "entity_mismatch", f.receipts.saved.Warnings[0].Type)
	assert.Equal(t, models.StatusReview, f.receipts.statuses[len(f.receipts.statuses)-1])
}

func TestRunTaskCanonicalizesVendor(t *testing.T) {
	f := newFixture(t)
	f.proc.ctx = context.Background()
	f.proc.vendors = &fakeResolver{vendor: &repository.Vendor{
		CanonicalName: "Gordon Food Service Canada",
		PaymentTerms:  "net_14",
	}}

	key := "corp/intake/jkl.pdf"
	seedOriginal(t, f, key)
	task := f.taskFor(t, ReceiptTask{
		ReceiptID: uuid.New(),
		Entity:    models.EntityCorp,
		FileKey:   key,
		Ext:       "pdf",
	})

	f.proc.runTask(task)

	require.NotNil(t, f.receipts.saved)
	assert.Equal(t, "Gordon Food Service Canada", f.receipts.saved.VendorGuess)
	assert.Equal(t, "net_14", f.receipts.saved.PaymentTerms)
}

func TestRunTaskUnknownVendorKeepsGuess(t *testing.T) {
	f := newFixture(t)
	f.proc.ctx = context.Background()
	f.proc.vendors = &fakeResolver{} // registry has no match

	key := "corp/intake/mno.pdf"
	seedOriginal(t, f, key)
	task := f.taskFor(t, ReceiptTask{
		ReceiptID: uuid.New(),
		Entity:    models.EntityCorp,
		FileKey:   key,
		Ext:       "pdf",
	})

	f.proc.runTask(task)

	require.NotNil(t, f.receipts.saved)
	assert.Equal(t, "Gordon Food Service", f.receipts.saved.VendorGuess)
	assert.Equal(t, []uuid.UUID{task.ID}, f.queue.acked)
}

func TestRunTaskRoutesLowConfidenceToReview(t *testing.T) {
	f := newFixture(t)
	f.proc.ctx = context.Background()
	f.categorizer.result = &categorization.Result{
		Category:       categorization.Unknown,
		AccountCode:    "9100",
		Confidence:     0,
		RequiresReview: true,
	}

	key := "corp/intake/def.pdf"
	seedOriginal(t, f, key)
	task := f.taskFor(t, ReceiptTask{
		ReceiptID: uuid.New(),
		Entity:    models.EntityCorp,
		FileKey:   key,
		Ext:       "pdf",
	})

	f.proc.runTask(task)

	require.NotNil(t, f.receipts.saved)
	assert.True(t, f.receipts.saved.Lines[0].NeedsReview)
	assert.Equal(t, models.StatusReview, f.receipts.statuses[len(f.receipts.statuses)-1])
}

func TestRunTaskCategorizerFailureStillSaves(t *testing.T) {
	f := newFixture(t)
	f.proc.ctx = context.Background()
	f.categorizer.err = fmt.Errorf("rate limited")

	key := "corp/intake/ghi.pdf"
	seedOriginal(t, f, key)
	task := f.taskFor(t, ReceiptTask{
		ReceiptID: uuid.New(),
		Entity:    models.EntityCorp,
		FileKey:   key,
		Ext:       "pdf",
	})

	f.proc.runTask(task)

	assert.Equal(t, []uuid.UUID{task.ID}, f.queue.acked, "one bad line must not fail the receipt")
	require.NotNil(t, f.receipts.saved)
	assert.True(t, f.receipts.saved.Lines[0].NeedsReview)
}

func TestRunTaskMissingFileNacks(t *testing.T) {
	f := newFixture(t)
	f.proc.ctx = context.Background()

	task := f.taskFor(t, ReceiptTask{
		ReceiptID: uuid.New(),
		Entity:    models.EntityCorp,
		FileKey:   "corp/intake/missing.pdf",
		Ext:       "pdf",
	})

	f.proc.runTask(task)

	assert.Empty(t, f.queue.acked)
	assert.Equal(t, []uuid.UUID{task.ID}, f.queue.nacked)
}

func TestRunTaskDeadMarksReceiptFailed(t *testing.T) {
	f := newFixture(t)
	f.proc.ctx = context.Background()
	f.queue.dead = true
	f.extractor.err = fmt.Errorf("corrupt file")

	key := "corp/intake/jkl.pdf"
	seedOriginal(t, f, key)
	task := f.taskFor(t, ReceiptTask{
		ReceiptID: uuid.New(),
		Entity:    models.EntityCorp,
		FileKey:   key,
		Ext:       "pdf",
	})

	f.proc.runTask(task)

	assert.Equal(t, models.StatusFailed, f.receipts.statuses[len(f.receipts.statuses)-1])
}

type brokenWorker struct {
	stopped bool
}

func (w *brokenWorker) Start(context.Context) error { return fmt.Errorf("port already bound") }
func (w *brokenWorker) Stop()                       { w.stopped = true }
func (w *brokenWorker) Name() string                { return "stale-reaper" }

func TestManagerStartFailureNamesWorkerAndUnwinds(t *testing.T) {
	m := NewManager(zap.NewNop())
	f := newFixture(t)
	broken := &brokenWorker{}
	m.Register(f.proc)
	m.Register(broken)

	err := m.StartAll(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale-reaper")
	assert.False(t, f.proc.GetStatus().IsRunning, "earlier workers stop when a later one fails")
	assert.False(t, broken.stopped, "a worker that never started is not stopped")
}

func TestManagerRunsWorkersInOrder(t *testing.T) {
	m := NewManager(zap.NewNop())
	assert.Equal(t, 0, m.Count())

	f := newFixture(t)
	m.Register(f.proc)
	assert.Equal(t, 1, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	status := f.proc.GetStatus()
	assert.True(t, status.IsRunning)

	m.StopAll()
	status = f.proc.GetStatus()
	assert.False(t, status.IsRunning)
}
