package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/application/services/allocation"
	"github.com/vsinha/packflow/pkg/application/services/commitment"
	"github.com/vsinha/packflow/pkg/application/services/ledger"
	"github.com/vsinha/packflow/pkg/application/services/location"
	"github.com/vsinha/packflow/pkg/application/services/reconciliation"
	svctesting "github.com/vsinha/packflow/pkg/application/services/testing"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
)

type harness struct {
	*svctesting.Fixture
	ledger       *ledger.Ledger
	commitments  *commitment.Coordinator
	deps         Dependencies
	orchestrator *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := svctesting.NewFixture()
	l := ledger.NewLedger(f.Store, f.Settings, f.Events, nil)
	c := commitment.NewCoordinator(f.Store, f.Events, nil)
	tr := location.NewTracker(f.Store, f.Events, nil)
	rec := reconciliation.NewService(f.Store, f.ERP, f.ERP, f.Settings, l, c, tr, f.Events, nil)

	deps := Dependencies{
		Store:          f.Store,
		ERP:            f.ERP,
		Catalog:        f.ERP,
		Settings:       f.Settings,
		Planner:        allocation.NewPlanner(f.ERP, f.Store, f.Settings, nil),
		Ledger:         l,
		Commitments:    c,
		Tracker:        tr,
		Reconciliation: rec,
		Events:         f.Events,
	}
	return &harness{
		Fixture:      f,
		ledger:       l,
		commitments:  c,
		deps:         deps,
		orchestrator: NewOrchestrator(deps),
	}
}

// withStore returns an orchestrator whose operation store is wrapped by wrap
func (h *harness) withStore(wrap func(repositories.Store) repositories.Store) *Orchestrator {
	deps := h.deps
	deps.Store = wrap(h.Store)
	return NewOrchestrator(deps)
}

// completionFailingStore fails the given number of updates that would complete an operation
type completionFailingStore struct {
	repositories.Store
	failures int
}

func (s *completionFailingStore) UpdateOperation(ctx context.Context, op *entities.Operation) error {
	if op.Status == entities.OperationCompleted && s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.Store.UpdateOperation(ctx, op)
}

// interleavingStore runs interleave once, right after the first operation read
type interleavingStore struct {
	repositories.Store
	interleave func()
}

func (s *interleavingStore) GetOperation(ctx context.Context, source entities.SourceOperation) (*entities.Operation, error) {
	op, err := s.Store.GetOperation(ctx, source)
	if err == nil && s.interleave != nil {
		fn := s.interleave
		s.interleave = nil
		fn()
	}
	return op, err
}

func (h *harness) open(t *testing.T, opType entities.OperationType) entities.SourceOperation {
	t.Helper()
	op, err := h.orchestrator.CreateOperation(context.Background(), h.Caller, opType)
	require.NoError(t, err)
	return op.Source
}

func (h *harness) purchaseOrder(item entities.ItemCode, entry, available int64) {
	h.ERP.AddSourceCandidate(item, svctesting.Warehouse, entities.SourceCandidate{
		Document:  entities.DocumentRef{DocType: "PO", Entry: entry, LineNum: 1},
		Available: svctesting.Qty(available),
		DocDate:   time.Date(2026, 1, int(entry), 0, 0, 0, 0, time.UTC),
	})
}

// filled creates a package in the default bin holding qty of item
func (h *harness) filled(t *testing.T, item entities.ItemCode, qty int64) *entities.Package {
	t.Helper()
	ctx := context.Background()
	pkg, err := h.ledger.Create(ctx, h.Caller, ledger.CreateRequest{BinEntry: svctesting.Bin})
	require.NoError(t, err)
	_, err = h.ledger.AddContent(ctx, h.Caller, ledger.ContentRequest{PackageID: pkg.ID, ItemCode: item, Quantity: svctesting.Qty(qty)})
	require.NoError(t, err)
	return pkg
}

func (h *harness) content(t *testing.T, packageID uuid.UUID, item entities.ItemCode) *entities.PackageContent {
	t.Helper()
	content, err := h.Store.FindContent(context.Background(), packageID, item)
	require.NoError(t, err)
	return content
}

func TestAddLine_ReceiptIntoPackage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.SeedItem("X", 10)
	h.purchaseOrder("X", 1, 10)
	h.purchaseOrder("X", 2, 50)
	receipt := h.open(t, entities.OperationGoodsReceipt)

	pkg, err := h.ledger.Create(ctx, h.Caller, ledger.CreateRequest{BinEntry: svctesting.Bin, Source: receipt})
	require.NoError(t, err)

	result, err := h.orchestrator.AddLine(ctx, h.Caller, receipt, LineRequest{
		ItemCode:  "X",
		Unit:      entities.UnitDozen,
		Quantity:  svctesting.Qty(2),
		BinEntry:  svctesting.Bin,
		PackageID: &pkg.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Line.LineID)
	assert.True(t, result.Line.BaseQty.Equal(svctesting.Qty(24)), "two dozen in base units")

	require.NotNil(t, result.Plan)
	require.Len(t, result.Plan.Sources, 2)
	assert.True(t, result.Plan.Sources[0].Quantity.Equal(svctesting.Qty(10)))
	assert.True(t, result.Plan.Sources[1].Quantity.Equal(svctesting.Qty(14)))

	content := h.content(t, pkg.ID, "X")
	require.NotNil(t, content)
	assert.True(t, content.Quantity.Equal(svctesting.Qty(24)))
	assert.True(t, content.CommittedQuantity.Equal(svctesting.Qty(24)), "receipt holds its content until booked")
	require.NotNil(t, result.Commitment)
	assert.Equal(t, receipt, result.Commitment.Source)

	stored, _ := h.Store.GetPackage(ctx, pkg.ID)
	assert.Equal(t, entities.PackageActive, stored.Status)
}

func TestAddLine_ReceiptWithoutSourceDocumentsRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	receipt := h.open(t, entities.OperationGoodsReceipt)
	pkg, err := h.ledger.Create(ctx, h.Caller, ledger.CreateRequest{BinEntry: svctesting.Bin, Source: receipt})
	require.NoError(t, err)

	_, err = h.orchestrator.AddLine(ctx, h.Caller, receipt, LineRequest{
		ItemCode:  "X",
		Quantity:  svctesting.Qty(5),
		BinEntry:  svctesting.Bin,
		PackageID: &pkg.ID,
	})
	require.ErrorIs(t, err, entities.ErrNotFound)
	assert.Equal(t, entities.CodeNoSourceDocuments, entities.ErrorCode(err))

	lines, _ := h.Store.ListLines(ctx, receipt)
	assert.Empty(t, lines)
	assert.Nil(t, h.content(t, pkg.ID, "X"))
}

func TestAddLine_PickReservesPackageContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 10)
	pick := h.open(t, entities.OperationPicking)

	result, err := h.orchestrator.AddLine(ctx, h.Caller, pick, LineRequest{
		ItemCode:  "X",
		Quantity:  svctesting.Qty(6),
		PackageID: &pkg.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Commitment)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.Equal(svctesting.Qty(6)))

	// A competing transfer only sees the remaining 4
	transfer := h.open(t, entities.OperationTransfer)
	_, err = h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{
		ItemCode:  "X",
		Quantity:  svctesting.Qty(5),
		PackageID: &pkg.ID,
	})
	require.ErrorIs(t, err, entities.ErrInsufficientQuantity)
	assert.Equal(t, entities.CodeInsufficientAvailableQuantity, entities.ErrorCode(err))

	lines, _ := h.Store.ListLines(ctx, transfer)
	assert.Empty(t, lines, "rejected line is not stored")
}

func TestAddLine_LooseLineChecksBinStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ERP.SetOnHand("X", svctesting.Warehouse, svctesting.Bin, svctesting.Qty(3))
	pick := h.open(t, entities.OperationPicking)

	_, err := h.orchestrator.AddLine(ctx, h.Caller, pick, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(4), BinEntry: svctesting.Bin})
	require.ErrorIs(t, err, entities.ErrInsufficientQuantity)
	assert.Equal(t, entities.CodeInsufficientQuantity, entities.ErrorCode(err))

	_, err = h.orchestrator.AddLine(ctx, h.Caller, pick, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(3)})
	require.ErrorIs(t, err, entities.ErrValidation, "bin is required without a package")

	result, err := h.orchestrator.AddLine(ctx, h.Caller, pick, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(3), BinEntry: svctesting.Bin})
	require.NoError(t, err)
	assert.Nil(t, result.Commitment)
}

func TestAddLine_CountingRecordsScan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 10)
	count := h.open(t, entities.OperationInventoryCounting)

	result, err := h.orchestrator.AddLine(ctx, h.Caller, count, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(9), PackageID: &pkg.ID})
	require.NoError(t, err)
	assert.Nil(t, result.Commitment, "counting never claims content")

	history, _ := h.Store.ListHistory(ctx, pkg.ID)
	last := history[len(history)-1]
	assert.Equal(t, entities.MovementScanned, last.MovementType)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.IsZero())
}

func TestAddLine_RejectsClosedOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ERP.SetOnHand("X", svctesting.Warehouse, svctesting.Bin, svctesting.Qty(10))
	transfer := h.open(t, entities.OperationTransfer)
	_, err := h.orchestrator.CancelOperation(ctx, h.Caller, transfer)
	require.NoError(t, err)

	_, err = h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(1), BinEntry: svctesting.Bin})
	require.ErrorIs(t, err, entities.ErrStateConflict)
	assert.Equal(t, entities.CodeOperationNotOpen, entities.ErrorCode(err))
}

func TestUpdateLineQuantity_AdjustsPickCommitment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 10)
	pick := h.open(t, entities.OperationPicking)
	added, err := h.orchestrator.AddLine(ctx, h.Caller, pick, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(4), PackageID: &pkg.ID})
	require.NoError(t, err)

	updated, err := h.orchestrator.UpdateLineQuantity(ctx, h.Caller, pick, added.Line.LineID, svctesting.Qty(9))
	require.NoError(t, err)
	assert.Equal(t, added.Commitment.ID, updated.Commitment.ID)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.Equal(svctesting.Qty(9)))

	_, err = h.orchestrator.UpdateLineQuantity(ctx, h.Caller, pick, added.Line.LineID, svctesting.Qty(11))
	require.ErrorIs(t, err, entities.ErrInsufficientQuantity)
	line, _ := h.Store.GetLine(ctx, pick, added.Line.LineID)
	assert.True(t, line.Quantity.Equal(svctesting.Qty(9)), "failed edit leaves the line untouched")

	_, err = h.orchestrator.UpdateLineQuantity(ctx, h.Caller, pick, added.Line.LineID, svctesting.Qty(2))
	require.NoError(t, err)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.Equal(svctesting.Qty(2)))
}

func TestUpdateLineQuantity_ReplansReceiptAndShrinksContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.purchaseOrder("X", 1, 10)
	h.purchaseOrder("X", 2, 10)
	receipt := h.open(t, entities.OperationGoodsReceipt)
	pkg, err := h.ledger.Create(ctx, h.Caller, ledger.CreateRequest{BinEntry: svctesting.Bin, Source: receipt})
	require.NoError(t, err)

	added, err := h.orchestrator.AddLine(ctx, h.Caller, receipt, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(15), PackageID: &pkg.ID})
	require.NoError(t, err)
	require.Len(t, added.Plan.Sources, 2)

	updated, err := h.orchestrator.UpdateLineQuantity(ctx, h.Caller, receipt, added.Line.LineID, svctesting.Qty(6))
	require.NoError(t, err)
	require.Len(t, updated.Plan.Sources, 1, "old allocations are released before re-planning")
	assert.True(t, updated.Plan.Sources[0].Quantity.Equal(svctesting.Qty(6)))

	allocs, _ := h.Store.ListSourceAllocations(ctx, receipt, added.Line.LineID)
	assert.Len(t, allocs, 1)

	content := h.content(t, pkg.ID, "X")
	assert.True(t, content.Quantity.Equal(svctesting.Qty(6)))
	assert.True(t, content.CommittedQuantity.Equal(svctesting.Qty(6)))
}

func TestRemoveLine_UnwindsReceipt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.purchaseOrder("X", 1, 10)
	receipt := h.open(t, entities.OperationGoodsReceipt)
	pkg, err := h.ledger.Create(ctx, h.Caller, ledger.CreateRequest{BinEntry: svctesting.Bin, Source: receipt})
	require.NoError(t, err)
	added, err := h.orchestrator.AddLine(ctx, h.Caller, receipt, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(4), PackageID: &pkg.ID})
	require.NoError(t, err)

	require.NoError(t, h.orchestrator.RemoveLine(ctx, h.Caller, receipt, added.Line.LineID))

	assert.Nil(t, h.content(t, pkg.ID, "X"))
	allocs, _ := h.Store.ListSourceAllocations(ctx, receipt, added.Line.LineID)
	assert.Empty(t, allocs)
	commitments, _ := h.Store.ListCommitmentsBySource(ctx, receipt)
	assert.Empty(t, commitments)
	_, err = h.Store.GetLine(ctx, receipt, added.Line.LineID)
	require.ErrorIs(t, err, entities.ErrNotFound)

	err = h.orchestrator.RemoveLine(ctx, h.Caller, receipt, added.Line.LineID)
	assert.Equal(t, entities.CodeLineNotFound, entities.ErrorCode(err))
}

func TestProcessOperation_CompletesTransferAndReleasesCommitments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 10)
	transfer := h.open(t, entities.OperationTransfer)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(10), PackageID: &pkg.ID})
	require.NoError(t, err)

	result, err := h.orchestrator.ProcessOperation(ctx, h.Caller, transfer)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ExternalRef)
	assert.Equal(t, entities.OperationCompleted, result.Operation.Status)
	assert.Equal(t, 1, result.Operation.Attempts)

	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.IsZero())
	lines, _ := h.Store.ListLines(ctx, transfer)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Closed)
	assert.Contains(t, h.EventTypes(), gateways.EventOperationCompleted)

	_, err = h.orchestrator.ProcessOperation(ctx, h.Caller, transfer)
	require.ErrorIs(t, err, entities.ErrStateConflict)
}

func TestProcessOperation_PickKeepsCommitmentsForClosure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 5)
	pick := h.open(t, entities.OperationPicking)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, pick, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(5), PackageID: &pkg.ID})
	require.NoError(t, err)

	_, err = h.orchestrator.ProcessOperation(ctx, h.Caller, pick)
	require.NoError(t, err)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.Equal(svctesting.Qty(5)))

	closure, err := h.orchestrator.ReconcileClosure(ctx, svctesting.Warehouse, []dto.FollowUpLine{
		{PickEntry: pick.ID, PackageID: pkg.ID, ItemCode: "X", Quantity: svctesting.Qty(5)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{pkg.ID}, closure.ClosedPackages)

	stored, _ := h.Store.GetPackage(ctx, pkg.ID)
	assert.Equal(t, entities.PackageClosed, stored.Status)
}

func TestProcessOperation_FailureRevertsStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 10)
	transfer := h.open(t, entities.OperationTransfer)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(3), PackageID: &pkg.ID})
	require.NoError(t, err)
	h.ERP.FailProcess(entities.OperationTransfer, errors.New("connection reset"))

	_, err = h.orchestrator.ProcessOperation(ctx, h.Caller, transfer)
	require.ErrorIs(t, err, entities.ErrExternalSystem)

	op, _ := h.Store.GetOperation(ctx, transfer)
	assert.Equal(t, entities.OperationOpen, op.Status)
	assert.Equal(t, "connection reset", op.LastError)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.Equal(svctesting.Qty(3)), "reservation survives for a retry")
	assert.Empty(t, h.ERP.Cancelled(), "nothing to cancel without an external document")
}

func TestProcessOperation_RejectionCancelsDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ERP.SetOnHand("X", svctesting.Warehouse, svctesting.Bin, svctesting.Qty(10))
	transfer := h.open(t, entities.OperationTransfer)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(3), BinEntry: svctesting.Bin})
	require.NoError(t, err)
	h.ERP.RejectProcess(entities.OperationTransfer, "period closed")

	_, err = h.orchestrator.ProcessOperation(ctx, h.Caller, transfer)
	require.ErrorIs(t, err, entities.ErrExternalSystem)
	require.Len(t, h.ERP.Cancelled(), 1)

	op, _ := h.Store.GetOperation(ctx, transfer)
	assert.Equal(t, entities.OperationOpen, op.Status)
	assert.Equal(t, "period closed", op.LastError)
}

func TestProcessOperation_BookedButNotCompletedIsQueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 10)
	transfer := h.open(t, entities.OperationTransfer)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(4), PackageID: &pkg.ID})
	require.NoError(t, err)

	orch := h.withStore(func(s repositories.Store) repositories.Store {
		return &completionFailingStore{Store: s, failures: 1}
	})
	_, err = orch.ProcessOperation(ctx, h.Caller, transfer)
	require.Error(t, err)
	require.Len(t, h.ERP.Calls(), 1)

	op, _ := h.Store.GetOperation(ctx, transfer)
	assert.Equal(t, entities.OperationPending, op.Status, "not left in Processing")
	assert.Contains(t, op.LastError, "disk full")
	assert.Equal(t, h.ERP.Calls()[0].Ref, op.ExternalRef)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.Equal(svctesting.Qty(4)), "completion rolled back")
	assert.NotContains(t, h.EventTypes(), gateways.EventOperationCompleted)

	result, err := orch.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, dto.SweepResult{Processed: 1}, *result)
	assert.Len(t, h.ERP.Calls(), 1, "the booked document is not sent again")
	assert.Empty(t, h.ERP.Cancelled())

	op, _ = h.Store.GetOperation(ctx, transfer)
	assert.Equal(t, entities.OperationCompleted, op.Status)
	assert.Equal(t, h.ERP.Calls()[0].Ref, op.ExternalRef)
	assert.Empty(t, op.LastError)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.IsZero())
	assert.Contains(t, h.EventTypes(), gateways.EventOperationCompleted)
}

func TestSweep_RetriesQueuedOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ERP.SetOnHand("X", svctesting.Warehouse, svctesting.Bin, svctesting.Qty(10))
	transfer := h.open(t, entities.OperationTransfer)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(2), BinEntry: svctesting.Bin})
	require.NoError(t, err)

	queued, err := h.orchestrator.QueueOperation(ctx, h.Caller, transfer)
	require.NoError(t, err)
	assert.Equal(t, entities.OperationPending, queued.Status)

	h.ERP.FailProcess(entities.OperationTransfer, errors.New("timeout"))
	result, err := h.orchestrator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, dto.SweepResult{Failed: 1}, *result)
	op, _ := h.Store.GetOperation(ctx, transfer)
	assert.Equal(t, entities.OperationPending, op.Status, "queued work stays queued")
	assert.Equal(t, 1, op.Attempts)

	h.ERP.FailProcess(entities.OperationTransfer, nil)
	result, err = h.orchestrator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, dto.SweepResult{Processed: 1}, *result)
	op, _ = h.Store.GetOperation(ctx, transfer)
	assert.Equal(t, entities.OperationCompleted, op.Status)
	assert.Equal(t, 2, op.Attempts)
}

func TestCancelOperation_ReleasesTransferCommitments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 10)
	transfer := h.open(t, entities.OperationTransfer)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(7), PackageID: &pkg.ID})
	require.NoError(t, err)

	op, err := h.orchestrator.CancelOperation(ctx, h.Caller, transfer)
	require.NoError(t, err)
	assert.Equal(t, entities.OperationCancelled, op.Status)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.IsZero())

	_, err = h.orchestrator.CancelOperation(ctx, h.Caller, transfer)
	require.ErrorIs(t, err, entities.ErrStateConflict)
}

func TestCancelOperation_RechecksStatusInsideTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 10)
	transfer := h.open(t, entities.OperationTransfer)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, transfer, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(6), PackageID: &pkg.ID})
	require.NoError(t, err)

	// A sync claims the operation between the first read and the cancel transaction
	orch := h.withStore(func(s repositories.Store) repositories.Store {
		return &interleavingStore{Store: s, interleave: func() {
			op, err := h.Store.GetOperation(ctx, transfer)
			require.NoError(t, err)
			op.Status = entities.OperationProcessing
			require.NoError(t, h.Store.UpdateOperation(ctx, op))
		}}
	})

	_, err = orch.CancelOperation(ctx, h.Caller, transfer)
	require.ErrorIs(t, err, entities.ErrStateConflict)

	op, _ := h.Store.GetOperation(ctx, transfer)
	assert.Equal(t, entities.OperationProcessing, op.Status)
	assert.True(t, h.content(t, pkg.ID, "X").CommittedQuantity.Equal(svctesting.Qty(6)), "commitments untouched")
	assert.NotContains(t, h.EventTypes(), gateways.EventOperationCancelled)
}

func TestCancelOperation_PickListGoesThroughReconciliation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pkg := h.filled(t, "X", 5)
	pick := h.open(t, entities.OperationPicking)
	_, err := h.orchestrator.AddLine(ctx, h.Caller, pick, LineRequest{ItemCode: "X", Quantity: svctesting.Qty(5), PackageID: &pkg.ID})
	require.NoError(t, err)

	op, err := h.orchestrator.CancelOperation(ctx, h.Caller, pick)
	require.NoError(t, err)
	assert.Equal(t, entities.OperationCancelled, op.Status)

	moved, _ := h.Store.GetPackage(ctx, pkg.ID)
	assert.Equal(t, svctesting.CancellationBin, moved.BinEntry)

	// The reversal transfer is queued and the sweep books it
	pending, _ := h.Store.ListOperationsByStatus(ctx, entities.OperationPending)
	require.Len(t, pending, 1)
	assert.Equal(t, entities.OperationTransfer, pending[0].Source.Type)

	result, err := h.orchestrator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	calls := h.ERP.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Lines, 1)
	assert.True(t, calls[0].Lines[0].BaseQty.Equal(svctesting.Qty(5)))
}

func TestCreateOperation_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orchestrator.CreateOperation(ctx, entities.Caller{UserID: "alice"}, entities.OperationPicking)
	assert.Equal(t, entities.CodeMissingWarehouse, entities.ErrorCode(err))

	_, err = h.orchestrator.CreateOperation(ctx, h.Caller, "Shipping")
	require.ErrorIs(t, err, entities.ErrValidation)

	first := h.open(t, entities.OperationPicking)
	second := h.open(t, entities.OperationPicking)
	assert.NotEqual(t, first.ID, second.ID)
}
