package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

// openTestStore connects to PACKFLOW_TEST_DSN and skips when it is unset
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PACKFLOW_TEST_DSN")
	if dsn == "" {
		t.Skip("PACKFLOW_TEST_DSN not set")
	}
	store, err := Open(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newPackage(barcode string) *entities.Package {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &entities.Package{
		ID:            uuid.New(),
		Barcode:       barcode,
		Status:        entities.PackageInit,
		WarehouseCode: "WH1",
		BinEntry:      "A-01",
		Attributes:    map[string]any{"note": "fragile"},
		CreatedBy:     "alice",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStore_PackageAndContent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pkg := newPackage("T-" + uuid.NewString()[:8])
	require.NoError(t, store.CreatePackage(ctx, pkg))
	err := store.CreatePackage(ctx, &entities.Package{ID: uuid.New(), Barcode: pkg.Barcode})
	require.ErrorIs(t, err, entities.ErrStateConflict)

	loaded, err := store.GetPackageByBarcode(ctx, pkg.Barcode)
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, loaded.ID)
	assert.Equal(t, "fragile", loaded.Attributes["note"])

	content := &entities.PackageContent{
		ID:                uuid.New(),
		PackageID:         pkg.ID,
		ItemCode:          "X",
		Quantity:          decimal.NewFromInt(10),
		CommittedQuantity: decimal.NewFromInt(4),
		WarehouseCode:     "WH1",
		BinEntry:          "A-01",
	}
	require.NoError(t, store.SaveContent(ctx, content))

	found, err := store.FindContent(ctx, pkg.ID, "X")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.Available().Equal(decimal.NewFromInt(6)))

	missing, err := store.FindContent(ctx, pkg.ID, "Y")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = store.GetPackage(ctx, uuid.New())
	assert.Equal(t, entities.CodePackageNotFound, entities.ErrorCode(err))
}

func TestStore_RunInTxRollsBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	pkg := newPackage("T-" + uuid.NewString()[:8])

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context) error {
		if err := store.CreatePackage(ctx, pkg); err != nil {
			return err
		}
		// Nested calls join the outer transaction
		return store.RunInTx(ctx, func(ctx context.Context) error { return boom })
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetPackage(ctx, pkg.ID)
	require.ErrorIs(t, err, entities.ErrNotFound)
}

func TestStore_AfterCommitHooks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var ran []string
	err := store.RunInTx(ctx, func(ctx context.Context) error {
		return store.RunInTx(ctx, func(ctx context.Context) error {
			store.AfterCommit(ctx, func() { ran = append(ran, "committed") })
			assert.Empty(t, ran, "hooks wait for the outer commit")
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"committed"}, ran)

	boom := errors.New("boom")
	err = store.RunInTx(ctx, func(ctx context.Context) error {
		store.AfterCommit(ctx, func() { ran = append(ran, "rolled back") })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"committed"}, ran)
}

func TestStore_OperationsAndBarcodes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.NextBarcodeNumber(ctx, 1)
	require.NoError(t, err)
	second, err := store.NextBarcodeNumber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	op := &entities.Operation{
		Source:    entities.SourceOperation{Type: entities.OperationPicking},
		Status:    entities.OperationOpen,
		Warehouse: "WH1",
	}
	require.NoError(t, store.CreateOperation(ctx, op))
	require.NotZero(t, op.Source.ID)

	line, err := entities.NewOperationLine(op.Source, 1, "X", entities.UnitSingle, decimal.NewFromInt(3), "WH1", "A-01")
	require.NoError(t, err)
	line.BaseQty = line.Quantity
	require.NoError(t, store.SaveLine(ctx, line))

	op.Status = entities.OperationPending
	op.Attempts = 2
	require.NoError(t, store.UpdateOperation(ctx, op))
	loaded, err := store.GetOperation(ctx, op.Source)
	require.NoError(t, err)
	assert.Equal(t, entities.OperationPending, loaded.Status)
	assert.Equal(t, 2, loaded.Attempts)

	lines, err := store.ListLines(ctx, op.Source)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].BaseQty.Equal(decimal.NewFromInt(3)))

	_, err = store.GetOperation(ctx, entities.SourceOperation{Type: entities.OperationTransfer, ID: op.Source.ID})
	assert.Equal(t, entities.CodeOperationNotFound, entities.ErrorCode(err))
}
