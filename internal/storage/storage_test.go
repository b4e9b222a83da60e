package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

func TestVendorSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Costco", "costco"},
		{"Gordon Food Service", "gordon-food-service"},
		{"Pepsi Bottling Group (Canada)", "pepsi-bottling-group-canada"},
		{"M&M Food Market", "m-m-food-market"},
		{"  Atlantic  Superstore  ", "atlantic-superstore"},
		{"", "unknown"},
		{"!!!", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, VendorSlug(tt.in))
		})
	}
}

func TestReceiptPrefixLayout(t *testing.T) {
	date := time.Date(2025, 10, 4, 0, 0, 0, 0, time.UTC)
	prefix := ReceiptPrefix(models.EntityCorp, "Gordon Food Service", date, decimal.NewFromFloat(122.40))

	assert.Equal(t, "corp/gordon-food-service/2025-10-04_122.40", prefix)
	assert.Equal(t, "corp/gordon-food-service/2025-10-04_122.40/original.pdf", OriginalKey(prefix, ".PDF"))
	assert.Equal(t, "corp/gordon-food-service/2025-10-04_122.40/normalized.jpg", NormalizedKey(prefix))
	assert.Equal(t, "corp/gordon-food-service/2025-10-04_122.40/thumbnail.jpg", ThumbnailKey(prefix))
	assert.Equal(t, "corp/gordon-food-service/2025-10-04_122.40/cropped.jpg", CroppedKey(prefix))
}

func TestIntakeKey(t *testing.T) {
	key := IntakeKey(models.EntitySoleprop, "abc123", "HEIC")
	assert.Equal(t, "soleprop/intake/abc123.heic", key)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	key := "corp/costco/2025-09-08_33.73/original.jpg"
	payload := []byte("fake jpeg bytes")

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, key, payload, "image/jpeg"))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreMissingKey(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "corp/nothing/here.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting something that is not there is fine
	assert.NoError(t, store.Delete(context.Background(), "corp/nothing/here.jpg"))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.txt", []byte("x"), "text/plain")
	require.Error(t, err)

	_, err = store.Get(context.Background(), "/etc/passwd")
	require.Error(t, err)
}
