package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/application/services/commitment"
	"github.com/vsinha/packflow/pkg/application/services/ledger"
	"github.com/vsinha/packflow/pkg/application/services/location"
	svctesting "github.com/vsinha/packflow/pkg/application/services/testing"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
)

type harness struct {
	*svctesting.Fixture
	ledger      *ledger.Ledger
	commitments *commitment.Coordinator
	service     *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := svctesting.NewFixture()
	l := ledger.NewLedger(f.Store, f.Settings, f.Events, nil)
	c := commitment.NewCoordinator(f.Store, f.Events, nil)
	tr := location.NewTracker(f.Store, f.Events, nil)
	return &harness{
		Fixture:     f,
		ledger:      l,
		commitments: c,
		service:     NewService(f.Store, f.ERP, f.ERP, f.Settings, l, c, tr, f.Events, nil),
	}
}

func (h *harness) pickList(t *testing.T) entities.SourceOperation {
	t.Helper()
	op := &entities.Operation{
		Source:    entities.SourceOperation{Type: entities.OperationPicking},
		Status:    entities.OperationCompleted,
		Warehouse: svctesting.Warehouse,
	}
	require.NoError(t, h.Store.CreateOperation(context.Background(), op))
	return op.Source
}

// packed creates a package in the default bin holding qty of item and commits committedQty to source
func (h *harness) packed(t *testing.T, item entities.ItemCode, qty, committedQty int64, source entities.SourceOperation) *entities.Package {
	t.Helper()
	ctx := context.Background()
	pkg, err := h.ledger.Create(ctx, h.Caller, ledger.CreateRequest{BinEntry: svctesting.Bin})
	require.NoError(t, err)
	_, err = h.ledger.AddContent(ctx, h.Caller, ledger.ContentRequest{PackageID: pkg.ID, ItemCode: item, Quantity: svctesting.Qty(qty)})
	require.NoError(t, err)
	if committedQty > 0 {
		_, err = h.commitments.Reserve(ctx, commitment.ReserveRequest{
			PackageID:    pkg.ID,
			ItemCode:     item,
			Quantity:     svctesting.Qty(committedQty),
			Source:       source,
			SourceLineID: 1,
		})
		require.NoError(t, err)
	}
	return pkg
}

func (h *harness) picked(source entities.SourceOperation, item entities.ItemCode, qty int64) {
	h.ERP.SetPicked(source.ID, []gateways.PickedQuantity{{
		PickEntry: 1,
		ItemCode:  item,
		Warehouse: svctesting.Warehouse,
		BinEntry:  svctesting.Bin,
		Quantity:  svctesting.Qty(qty),
	}})
}

func TestCancelPickList_RelocatesFullyCommittedPackage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	pkg := h.packed(t, "X", 5, 5, pick)
	h.picked(pick, "X", 5)
	h.ERP.MarkPending(pick.ID)

	result, err := h.service.CancelPickList(ctx, h.Caller, pick.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Failures)
	assert.Equal(t, []uuid.UUID{pkg.ID}, result.RelocatedPackages)

	commitments, _ := h.Store.ListCommitmentsBySource(ctx, pick)
	assert.Empty(t, commitments, "commitment released")
	content, _ := h.Store.FindContent(ctx, pkg.ID, "X")
	require.NotNil(t, content)
	assert.True(t, content.CommittedQuantity.IsZero())
	assert.Equal(t, svctesting.CancellationBin, content.BinEntry)

	moved, _ := h.Store.GetPackage(ctx, pkg.ID)
	assert.Equal(t, svctesting.CancellationBin, moved.BinEntry)
	history, _ := h.Store.ListHistory(ctx, pkg.ID)
	assert.Equal(t, entities.MovementCancellation, history[len(history)-1].MovementType)

	require.NotNil(t, result.ReversalTransfer)
	lines, err := h.Store.ListTransferLines(ctx, result.ReversalTransfer.Source.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, entities.ItemCode("X"), lines[0].ItemCode)
	assert.True(t, lines[0].Quantity.Equal(svctesting.Qty(5)))
	assert.Equal(t, svctesting.Bin, lines[0].FromBin)
	assert.Equal(t, svctesting.CancellationBin, lines[0].ToBin)
	require.NotNil(t, lines[0].PackageID)
	assert.Equal(t, pkg.ID, *lines[0].PackageID)

	transfer, _ := h.Store.GetOperation(ctx, result.ReversalTransfer.Source)
	assert.Equal(t, entities.OperationPending, transfer.Status)
	op, _ := h.Store.GetOperation(ctx, pick)
	assert.Equal(t, entities.OperationCancelled, op.Status)
}

func TestCancelPickList_StripsPartiallyCommittedPackage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	pkg := h.packed(t, "X", 10, 4, pick)
	h.picked(pick, "X", 4)

	result, err := h.service.CancelPickList(ctx, h.Caller, pick.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{pkg.ID}, result.StrippedPackages)
	assert.Empty(t, result.RelocatedPackages)

	content, _ := h.Store.FindContent(ctx, pkg.ID, "X")
	require.NotNil(t, content)
	assert.True(t, content.Quantity.Equal(svctesting.Qty(6)))
	assert.True(t, content.CommittedQuantity.IsZero())
	assert.Equal(t, svctesting.Bin, content.BinEntry, "stripped package stays put")

	require.Len(t, result.TransferLines, 1)
	assert.Nil(t, result.TransferLines[0].PackageID)
	assert.True(t, result.TransferLines[0].Quantity.Equal(svctesting.Qty(4)))
}

func TestCancelPickList_LoosePickedQuantityBrokenDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	h.SeedItem("X", 10)
	h.picked(pick, "X", 170)

	result, err := h.service.CancelPickList(ctx, h.Caller, pick.ID)
	require.NoError(t, err)

	lines, err := h.Store.ListTransferLines(ctx, result.ReversalTransfer.Source.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, entities.UnitPack, lines[0].Unit)
	assert.True(t, lines[0].Quantity.Equal(svctesting.Qty(1)))
	assert.Equal(t, entities.UnitDozen, lines[1].Unit)
	assert.True(t, lines[1].Quantity.Equal(svctesting.Qty(4)))
	assert.Equal(t, entities.UnitSingle, lines[2].Unit)
	assert.True(t, lines[2].Quantity.Equal(svctesting.Qty(2)))
}

func TestCancelPickList_FallsBackToLooseWhenPackageLocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	h.SeedItem("X", 10)
	pkg := h.packed(t, "X", 10, 4, pick)
	other := h.packed(t, "Y", 3, 3, pick)
	_, err := h.ledger.Lock(ctx, h.Caller, pkg.ID)
	require.NoError(t, err)
	h.picked(pick, "X", 4)

	result, err := h.service.CancelPickList(ctx, h.Caller, pick.ID)
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, pkg.ID, *result.Failures[0].PackageID)
	assert.Equal(t, []uuid.UUID{other.ID}, result.RelocatedPackages, "sibling package still reconciled")

	content, _ := h.Store.FindContent(ctx, pkg.ID, "X")
	assert.True(t, content.CommittedQuantity.IsZero(), "claims of the failed package are still released")
	assert.True(t, content.Quantity.Equal(svctesting.Qty(10)))

	var loose []*entities.TransferLine
	for _, line := range result.TransferLines {
		if line.PackageID == nil {
			loose = append(loose, line)
		}
	}
	require.Len(t, loose, 1)
	assert.Equal(t, entities.UnitSingle, loose[0].Unit)
	assert.True(t, loose[0].Quantity.Equal(svctesting.Qty(4)))
}

func TestCancelPickList_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)

	_, err := h.service.CancelPickList(ctx, h.Caller, 999)
	assert.ErrorIs(t, err, entities.ErrNotFound)

	result, err := h.service.CancelPickList(ctx, h.Caller, pick.ID)
	require.NoError(t, err)
	transfer, _ := h.Store.GetOperation(ctx, result.ReversalTransfer.Source)
	assert.Equal(t, entities.OperationCancelled, transfer.Status, "empty reversal is not queued")

	_, err = h.service.CancelPickList(ctx, h.Caller, pick.ID)
	assert.ErrorIs(t, err, entities.ErrStateConflict)
}

// pickFailingERP fails every picked quantity lookup
type pickFailingERP struct {
	gateways.ERPGateway
}

func (pickFailingERP) PickedQuantities(context.Context, int64) ([]gateways.PickedQuantity, error) {
	return nil, errors.New("erp unavailable")
}

func TestCancelPickList_RejectsPickListBeingProcessed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	pkg := h.packed(t, "X", 5, 5, pick)
	h.picked(pick, "X", 5)

	op, err := h.Store.GetOperation(ctx, pick)
	require.NoError(t, err)
	op.Status = entities.OperationProcessing
	require.NoError(t, h.Store.UpdateOperation(ctx, op))

	_, err = h.service.CancelPickList(ctx, h.Caller, pick.ID)
	require.ErrorIs(t, err, entities.ErrStateConflict)

	commitments, _ := h.Store.ListCommitmentsBySource(ctx, pick)
	assert.Len(t, commitments, 1, "nothing released")
	stored, _ := h.Store.GetPackage(ctx, pkg.ID)
	assert.Equal(t, svctesting.Bin, stored.BinEntry, "nothing relocated")
	open, _ := h.Store.ListOperationsByStatus(ctx, entities.OperationOpen)
	assert.Empty(t, open, "no reversal transfer opened")
	op, _ = h.Store.GetOperation(ctx, pick)
	assert.Equal(t, entities.OperationProcessing, op.Status)
}

func TestCancelPickList_ERPFailureReleasesClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	pkg := h.packed(t, "X", 5, 5, pick)
	service := NewService(h.Store, pickFailingERP{h.ERP}, h.ERP, h.Settings, h.ledger, h.commitments,
		location.NewTracker(h.Store, h.Events, nil), h.Events, nil)

	_, err := service.CancelPickList(ctx, h.Caller, pick.ID)
	require.ErrorIs(t, err, entities.ErrExternalSystem)

	op, _ := h.Store.GetOperation(ctx, pick)
	assert.Equal(t, entities.OperationCompleted, op.Status, "prior status restored")
	assert.Contains(t, op.LastError, "erp unavailable")

	open, _ := h.Store.ListOperationsByStatus(ctx, entities.OperationOpen)
	assert.Empty(t, open, "no orphaned Open transfer")
	cancelled, _ := h.Store.ListOperationsByStatus(ctx, entities.OperationCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, entities.OperationTransfer, cancelled[0].Source.Type)

	commitments, _ := h.Store.ListCommitmentsBySource(ctx, pick)
	assert.Len(t, commitments, 1)
	stored, _ := h.Store.GetPackage(ctx, pkg.ID)
	assert.Equal(t, svctesting.Bin, stored.BinEntry)

	// The claim is released, so a later cancellation goes through
	result, err := h.service.CancelPickList(ctx, h.Caller, pick.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{pkg.ID}, result.RelocatedPackages)
}

func TestReconcileClosure_ReducesAndClosesEmptyPackages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	emptied := h.packed(t, "X", 5, 5, pick)
	partial := h.packed(t, "X", 5, 3, pick)

	result, err := h.service.ReconcileClosure(ctx, entities.SystemCaller(svctesting.Warehouse), []dto.FollowUpLine{
		{PickEntry: pick.ID, PackageID: emptied.ID, ItemCode: "X", Quantity: svctesting.Qty(2)},
		{PickEntry: pick.ID, PackageID: emptied.ID, ItemCode: "X", Quantity: svctesting.Qty(3)},
		{PickEntry: pick.ID, PackageID: partial.ID, ItemCode: "X", Quantity: svctesting.Qty(8)},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Failures)

	assert.True(t, result.Reduced[emptied.ID]["X"].Equal(svctesting.Qty(5)))
	assert.True(t, result.Reduced[partial.ID]["X"].Equal(svctesting.Qty(3)), "limited by committed quantity")
	assert.Equal(t, []uuid.UUID{emptied.ID}, result.ClosedPackages)

	closed, _ := h.Store.GetPackage(ctx, emptied.ID)
	assert.Equal(t, entities.PackageClosed, closed.Status)
	assert.Equal(t, entities.SystemUserID, closed.ClosedBy)

	content, _ := h.Store.FindContent(ctx, partial.ID, "X")
	require.NotNil(t, content)
	assert.True(t, content.Quantity.Equal(svctesting.Qty(2)))
	assert.True(t, content.CommittedQuantity.IsZero())
	commitments, _ := h.Store.ListCommitmentsBySource(ctx, pick)
	assert.Empty(t, commitments)
}

func TestReconcileClosure_FailureDoesNotAbortSiblings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	locked := h.packed(t, "X", 4, 4, pick)
	healthy := h.packed(t, "X", 4, 4, pick)
	_, err := h.ledger.Lock(ctx, h.Caller, locked.ID)
	require.NoError(t, err)

	result, err := h.service.ReconcileClosure(ctx, entities.SystemCaller(svctesting.Warehouse), []dto.FollowUpLine{
		{PickEntry: pick.ID, PackageID: locked.ID, ItemCode: "X", Quantity: svctesting.Qty(4)},
		{PickEntry: pick.ID, PackageID: healthy.ID, ItemCode: "X", Quantity: svctesting.Qty(4)},
	})
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, locked.ID, *result.Failures[0].PackageID)
	assert.Equal(t, []uuid.UUID{healthy.ID}, result.ClosedPackages)

	content, _ := h.Store.FindContent(ctx, locked.ID, "X")
	assert.True(t, content.CommittedQuantity.Equal(svctesting.Qty(4)), "failed package rolled back as a unit")
	assert.Contains(t, h.EventTypes(), gateways.EventReconciliationFault)
}

func TestReconcileClosure_RolledBackPackagePublishesOnlyFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pick := h.pickList(t)
	locked := h.packed(t, "X", 5, 5, pick)
	_, err := h.ledger.Lock(ctx, h.Caller, locked.ID)
	require.NoError(t, err)
	before := len(h.EventTypes())

	result, err := h.service.ReconcileClosure(ctx, entities.SystemCaller(svctesting.Warehouse), []dto.FollowUpLine{
		{PickEntry: pick.ID, PackageID: locked.ID, ItemCode: "X", Quantity: svctesting.Qty(5)},
	})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)

	assert.Equal(t, []string{gateways.EventReconciliationFault}, h.EventTypes()[before:],
		"events raised inside the rolled back transaction are dropped")
}
