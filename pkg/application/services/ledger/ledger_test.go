package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/packflow/pkg/application/dto"
	svctesting "github.com/vsinha/packflow/pkg/application/services/testing"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
)

func newLedger(t *testing.T) (*Ledger, *svctesting.Fixture) {
	t.Helper()
	f := svctesting.NewFixture()
	return NewLedger(f.Store, f.Settings, f.Events, nil), f
}

func createPackage(t *testing.T, l *Ledger, f *svctesting.Fixture) *entities.Package {
	t.Helper()
	pkg, err := l.Create(context.Background(), f.Caller, CreateRequest{BinEntry: svctesting.Bin})
	require.NoError(t, err)
	return pkg
}

func addContent(t *testing.T, l *Ledger, f *svctesting.Fixture, pkg *entities.Package, item entities.ItemCode, n int64) *entities.PackageContent {
	t.Helper()
	content, err := l.AddContent(context.Background(), f.Caller, ContentRequest{
		PackageID: pkg.ID,
		ItemCode:  item,
		Unit:      entities.UnitSingle,
		Quantity:  svctesting.Qty(n),
	})
	require.NoError(t, err)
	return content
}

func TestLedger_CreateAssignsSequentialBarcodes(t *testing.T) {
	l, f := newLedger(t)

	first := createPackage(t, l, f)
	second := createPackage(t, l, f)

	assert.Equal(t, "PK000001", first.Barcode)
	assert.Equal(t, "PK000002", second.Barcode)
	assert.Equal(t, entities.PackageInit, first.Status)
	assert.Equal(t, svctesting.Warehouse, first.WarehouseCode)
	assert.Equal(t, "alice", first.CreatedBy)

	view, err := l.Get(context.Background(), first.ID, dto.LoadOptions{History: true})
	require.NoError(t, err)
	require.Len(t, view.History, 1)
	assert.Equal(t, entities.MovementCreated, view.History[0].MovementType)
	assert.Equal(t, svctesting.Bin, view.History[0].ToBin)

	assert.Equal(t, []string{gateways.EventPackageCreated, gateways.EventPackageCreated}, f.EventTypes())
}

func TestLedger_CreatePreconditions(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()

	_, err := l.Create(ctx, entities.Caller{UserID: "alice"}, CreateRequest{BinEntry: svctesting.Bin})
	assert.ErrorIs(t, err, entities.ErrValidation)
	assert.Equal(t, entities.CodeMissingWarehouse, entities.ErrorCode(err))

	f.Settings.Update(func(s *entities.Settings) { s.PackagesEnabled = false })
	_, err = l.Create(ctx, f.Caller, CreateRequest{BinEntry: svctesting.Bin})
	assert.Equal(t, entities.CodeFeatureDisabled, entities.ErrorCode(err))
}

func TestLedger_GetByBarcode(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()
	pkg := createPackage(t, l, f)
	addContent(t, l, f, pkg, "X", 4)

	view, err := l.GetByBarcode(ctx, pkg.Barcode, dto.LoadOptions{Contents: true})
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, view.Package.ID)
	require.Len(t, view.Contents, 1)
	assert.Nil(t, view.History, "history was not requested")

	_, err = l.GetByBarcode(ctx, "not-a-barcode", dto.LoadOptions{})
	assert.Equal(t, entities.CodeMalformedBarcode, entities.ErrorCode(err))

	_, err = l.GetByBarcode(ctx, "PK999999", dto.LoadOptions{})
	assert.ErrorIs(t, err, entities.ErrNotFound)
}

func TestLedger_FirstAddActivates(t *testing.T) {
	l, f := newLedger(t)
	pkg := createPackage(t, l, f)

	content := addContent(t, l, f, pkg, "X", 5)
	assert.Equal(t, svctesting.Bin, content.BinEntry)
	assert.Equal(t, svctesting.Warehouse, content.WarehouseCode)

	content = addContent(t, l, f, pkg, "X", 2)
	assert.True(t, content.Quantity.Equal(svctesting.Qty(7)))

	stored, err := f.Store.GetPackage(context.Background(), pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PackageActive, stored.Status)
	assert.Contains(t, f.EventTypes(), gateways.EventPackageActivated)
}

func TestLedger_AddContentRejections(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()
	pkg := createPackage(t, l, f)

	_, err := l.AddContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(1), BinEntry: svctesting.OtherBin})
	assert.Equal(t, entities.CodeBinMismatch, entities.ErrorCode(err))

	other := entities.Caller{UserID: "bob", Warehouse: "WH2"}
	_, err = l.AddContent(ctx, other, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(1)})
	assert.Equal(t, entities.CodeWarehouseMismatch, entities.ErrorCode(err))

	_, err = l.Lock(ctx, f.Caller, pkg.ID)
	require.NoError(t, err)
	_, err = l.AddContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(1)})
	assert.ErrorIs(t, err, entities.ErrStateConflict)
	assert.Equal(t, entities.CodePackageLocked, entities.ErrorCode(err))

	contents, _ := f.Store.ListContents(ctx, pkg.ID)
	assert.Empty(t, contents, "rejected adds must not write")
}

func TestLedger_RemoveToZeroDeletesRow(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()
	pkg := createPackage(t, l, f)
	addContent(t, l, f, pkg, "X", 3)

	remaining, err := l.RemoveContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(3)})
	require.NoError(t, err)
	assert.Nil(t, remaining)

	found, err := f.Store.FindContent(ctx, pkg.ID, "X")
	require.NoError(t, err)
	assert.Nil(t, found, "content row must be deleted, not left at zero")
}

func TestLedger_RemoveContentRejections(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()
	pkg := createPackage(t, l, f)
	content := addContent(t, l, f, pkg, "X", 5)

	_, err := l.RemoveContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(6)})
	assert.ErrorIs(t, err, entities.ErrInsufficientQuantity)
	assert.Contains(t, err.Error(), "available 5, requested 6")

	_, err = l.RemoveContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "Y", Quantity: svctesting.Qty(1)})
	assert.ErrorIs(t, err, entities.ErrNotFound)

	content.CommittedQuantity = svctesting.Qty(4)
	require.NoError(t, f.Store.SaveContent(ctx, content))
	_, err = l.RemoveContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(2)})
	assert.Equal(t, entities.CodeInsufficientAvailableQuantity, entities.ErrorCode(err))

	remaining, err := l.RemoveContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(1)})
	require.NoError(t, err)
	assert.True(t, remaining.Quantity.Equal(svctesting.Qty(4)))
}

func TestLedger_CloseRequiresEmptyActive(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()
	pkg := createPackage(t, l, f)

	_, err := l.Close(ctx, f.Caller, pkg.ID)
	assert.Equal(t, entities.CodeInvalidTransition, entities.ErrorCode(err), "Init cannot close")

	addContent(t, l, f, pkg, "X", 2)
	_, err = l.Close(ctx, f.Caller, pkg.ID)
	assert.Equal(t, entities.CodePackageNotEmpty, entities.ErrorCode(err))

	_, err = l.RemoveContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(2)})
	require.NoError(t, err)

	closed, err := l.Close(ctx, f.Caller, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PackageClosed, closed.Status)
	assert.Equal(t, "alice", closed.ClosedBy)
	assert.NotNil(t, closed.ClosedAt)

	_, err = l.Close(ctx, f.Caller, pkg.ID)
	assert.ErrorIs(t, err, entities.ErrStateConflict, "closing twice is a conflict, not a silent success")
	assert.Equal(t, entities.CodePackageClosed, entities.ErrorCode(err))
}

func TestLedger_Cancel(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()

	// Never activated: cancellable even though it was locked first
	fresh := createPackage(t, l, f)
	_, err := l.Lock(ctx, f.Caller, fresh.ID)
	require.NoError(t, err)
	cancelled, err := l.Cancel(ctx, f.Caller, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PackageCancelled, cancelled.Status)
	assert.Equal(t, "alice", cancelled.CancelledBy)

	active := createPackage(t, l, f)
	addContent(t, l, f, active, "X", 1)
	_, err = l.Cancel(ctx, f.Caller, active.ID)
	assert.Equal(t, entities.CodePackageNotEmpty, entities.ErrorCode(err))

	_, err = l.Unlock(ctx, f.Caller, fresh.ID)
	assert.ErrorIs(t, err, entities.ErrStateConflict)
}

func TestLedger_LockRestoresPreviousStatus(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()
	pkg := createPackage(t, l, f)
	addContent(t, l, f, pkg, "X", 1)

	locked, err := l.Lock(ctx, f.Caller, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PackageLocked, locked.Status)

	_, err = l.Lock(ctx, f.Caller, pkg.ID)
	assert.Equal(t, entities.CodeInvalidTransition, entities.ErrorCode(err))

	_, err = l.RemoveContent(ctx, f.Caller, ContentRequest{PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(1)})
	assert.Equal(t, entities.CodePackageLocked, entities.ErrorCode(err))

	unlocked, err := l.Unlock(ctx, f.Caller, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PackageActive, unlocked.Status)
	assert.Empty(t, unlocked.PreLockStatus)
}

func TestLedger_ActivateBySource(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()
	source := entities.SourceOperation{Type: entities.OperationGoodsReceipt, ID: 9}

	withContent, err := l.Create(ctx, f.Caller, CreateRequest{BinEntry: svctesting.Bin, Source: source})
	require.NoError(t, err)
	empty, err := l.Create(ctx, f.Caller, CreateRequest{BinEntry: svctesting.Bin, Source: source})
	require.NoError(t, err)

	// Seed content directly so the package stays in Init
	_, err = l.Activate(ctx, f.Caller, withContent.ID)
	assert.Equal(t, entities.CodePackageEmpty, entities.ErrorCode(err))
	require.NoError(t, f.Store.SaveContent(ctx, &entities.PackageContent{
		ID:            uuid.New(),
		PackageID:     withContent.ID,
		ItemCode:      "X",
		Quantity:      svctesting.Qty(2),
		WarehouseCode: svctesting.Warehouse,
		BinEntry:      svctesting.Bin,
	}))

	activated, err := l.ActivateBySource(ctx, f.Caller, source)
	require.NoError(t, err)
	require.Len(t, activated, 1)
	assert.Equal(t, withContent.ID, activated[0].ID)

	stillInit, _ := f.Store.GetPackage(ctx, empty.ID)
	assert.Equal(t, entities.PackageInit, stillInit.Status)
}

func TestLedger_UpdateMetadata(t *testing.T) {
	l, f := newLedger(t)
	ctx := context.Background()
	pkg, err := l.Create(ctx, f.Caller, CreateRequest{BinEntry: svctesting.Bin, Attributes: map[string]any{"carrier": "DHL"}})
	require.NoError(t, err)

	schema := []entities.FieldDefinition{
		{ID: "carrier", Type: entities.FieldString},
		{ID: "weight", Type: entities.FieldDecimal},
		{ID: "serial", Type: entities.FieldString, ReadOnly: true},
	}

	updated, err := l.UpdateMetadata(ctx, f.Caller, pkg.ID, schema, map[string]any{"weight": "2.50", "carrier": nil})
	require.NoError(t, err)
	assert.Equal(t, "2.5", updated.Attributes["weight"])
	assert.NotContains(t, updated.Attributes, "carrier")

	_, err = l.UpdateMetadata(ctx, f.Caller, pkg.ID, schema, map[string]any{"color": "red"})
	assert.Equal(t, entities.CodeUnknownField, entities.ErrorCode(err))

	_, err = l.UpdateMetadata(ctx, f.Caller, pkg.ID, schema, map[string]any{"serial": "S1"})
	assert.Equal(t, entities.CodeReadOnlyField, entities.ErrorCode(err))

	stored, _ := f.Store.GetPackage(ctx, pkg.ID)
	assert.Equal(t, "2.5", stored.Attributes["weight"], "failed updates leave attributes untouched")
}
