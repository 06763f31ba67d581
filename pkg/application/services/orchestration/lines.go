package orchestration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/application/services/allocation"
	"github.com/vsinha/packflow/pkg/application/services/commitment"
	"github.com/vsinha/packflow/pkg/application/services/ledger"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/services"
)

// LineRequest describes a line added to an operation
type LineRequest struct {
	ItemCode entities.ItemCode
	Unit     entities.UnitOfMeasure
	Quantity decimal.Decimal
	BinEntry string
	// PackageID binds the line to a package: receipts fill it, picks and transfers claim from it
	PackageID       *uuid.UUID
	TargetPackageID *uuid.UUID
}

// AddLine adds a line to an open operation. Receipt lines are allocated to source documents
// and distributed to waiting targets; pick and transfer lines reserve package content or,
// without a package, require enough bin stock; count lines record a package scan.
func (o *Orchestrator) AddLine(ctx context.Context, caller entities.Caller, source entities.SourceOperation, req LineRequest) (*dto.LineResult, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	line, err := entities.NewOperationLine(source, 0, req.ItemCode, req.Unit, req.Quantity, caller.Warehouse, req.BinEntry)
	if err != nil {
		return nil, err
	}
	line.PackageID = req.PackageID
	if line.BaseQty, err = o.baseQuantity(ctx, req.ItemCode, req.Quantity, req.Unit); err != nil {
		return nil, err
	}

	// ERP reads happen before the transaction opens
	var inputs *allocation.Inputs
	switch {
	case source.Type == entities.OperationGoodsReceipt:
		if inputs, err = o.planner.LoadInputs(ctx, demandOf(line)); err != nil {
			return nil, err
		}
	case req.PackageID == nil && source.Type != entities.OperationInventoryCounting:
		if err := o.checkBinStock(ctx, line, decimal.Zero); err != nil {
			return nil, err
		}
	}

	result := &dto.LineResult{Line: line}
	err = o.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := o.openOperation(ctx, source); err != nil {
			return err
		}
		if line.LineID, err = o.nextLineID(ctx, source); err != nil {
			return err
		}
		line.CreatedAt = o.now()
		if err := o.store.SaveLine(ctx, line); err != nil {
			return fmt.Errorf("failed to save line: %w", err)
		}

		switch source.Type {
		case entities.OperationGoodsReceipt:
			if result.Plan, err = o.planner.PlanReceiptLine(ctx, source, line.LineID, demandOf(line), inputs); err != nil {
				return err
			}
			if line.PackageID == nil {
				return nil
			}
			if _, err := o.ledger.AddContent(ctx, caller, ledger.ContentRequest{
				PackageID: *line.PackageID,
				ItemCode:  line.ItemCode,
				Quantity:  line.BaseQty,
				BinEntry:  line.BinEntry,
			}); err != nil {
				return err
			}
			result.Commitment, err = o.reserve(ctx, line, nil)
			return err

		case entities.OperationInventoryCounting:
			if line.PackageID == nil {
				return nil
			}
			return o.tracker.RecordScan(ctx, caller, *line.PackageID, source)

		default:
			if line.PackageID == nil {
				return nil
			}
			result.Commitment, err = o.reserve(ctx, line, req.TargetPackageID)
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	o.logger.Debug("line added",
		zap.String("source", source.String()),
		zap.Int64("line", line.LineID),
		zap.String("item", string(line.ItemCode)),
		zap.String("base_quantity", line.BaseQty.String()),
	)
	return result, nil
}

// UpdateLineQuantity changes the quantity of an open line. Receipt lines are re-planned
// from scratch; package-bound lines grow or shrink their commitment and, for receipts,
// the package content.
func (o *Orchestrator) UpdateLineQuantity(
	ctx context.Context,
	caller entities.Caller,
	source entities.SourceOperation,
	lineID int64,
	quantity decimal.Decimal,
) (*dto.LineResult, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "quantity must be positive, got %s", quantity)
	}

	line, err := o.store.GetLine(ctx, source, lineID)
	if err != nil {
		return nil, err
	}
	if line.Closed {
		return nil, entities.NewStateConflictError(entities.CodeLineClosed, "line %d of %s is closed", lineID, source)
	}
	baseQty, err := o.baseQuantity(ctx, line.ItemCode, quantity, line.Unit)
	if err != nil {
		return nil, err
	}
	oldQty := line.BaseQty

	updated := *line
	updated.Quantity = quantity
	updated.BaseQty = baseQty

	var inputs *allocation.Inputs
	switch {
	case source.Type == entities.OperationGoodsReceipt:
		if inputs, err = o.planner.LoadInputs(ctx, demandOf(&updated)); err != nil {
			return nil, err
		}
	case line.PackageID == nil && source.Type != entities.OperationInventoryCounting && baseQty.GreaterThan(oldQty):
		if err := o.checkBinStock(ctx, &updated, oldQty); err != nil {
			return nil, err
		}
	}

	result := &dto.LineResult{Line: &updated}
	err = o.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := o.openOperation(ctx, source); err != nil {
			return err
		}

		if source.Type == entities.OperationGoodsReceipt {
			if err := o.planner.ReleaseReceiptLine(ctx, source, lineID); err != nil {
				return err
			}
			if result.Plan, err = o.planner.PlanReceiptLine(ctx, source, lineID, demandOf(&updated), inputs); err != nil {
				return err
			}
		}

		if line.PackageID != nil && source.Type != entities.OperationInventoryCounting {
			if result.Commitment, err = o.resize(ctx, caller, &updated, oldQty); err != nil {
				return err
			}
		}
		return o.store.SaveLine(ctx, &updated)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveLine deletes an open line, releasing its allocations and commitments.
// Package content a receipt line put in is taken out again.
func (o *Orchestrator) RemoveLine(ctx context.Context, caller entities.Caller, source entities.SourceOperation, lineID int64) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	return o.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := o.openOperation(ctx, source); err != nil {
			return err
		}
		line, err := o.store.GetLine(ctx, source, lineID)
		if err != nil {
			return err
		}
		if line.Closed {
			return entities.NewStateConflictError(entities.CodeLineClosed, "line %d of %s is closed", lineID, source)
		}
		if err := o.unwindLine(ctx, caller, line); err != nil {
			return err
		}
		return o.store.DeleteLine(ctx, source, lineID)
	})
}

// unwindLine reverses everything a line claimed. Must run inside a transaction.
func (o *Orchestrator) unwindLine(ctx context.Context, caller entities.Caller, line *entities.OperationLine) error {
	if _, err := o.commitments.ReleaseBySourceLine(ctx, line.Source, line.LineID); err != nil {
		return err
	}
	if line.Source.Type != entities.OperationGoodsReceipt {
		return nil
	}
	if err := o.planner.ReleaseReceiptLine(ctx, line.Source, line.LineID); err != nil {
		return err
	}
	if line.PackageID == nil {
		return nil
	}
	_, err := o.ledger.RemoveContent(ctx, caller, ledger.ContentRequest{
		PackageID: *line.PackageID,
		ItemCode:  line.ItemCode,
		Quantity:  line.BaseQty,
	})
	return err
}

// resize moves a package-bound line's claim from oldQty to the line's new base quantity.
// Shrinking releases the commitment before content leaves the package; growing adds the
// content before the commitment takes it.
func (o *Orchestrator) resize(
	ctx context.Context,
	caller entities.Caller,
	line *entities.OperationLine,
	oldQty decimal.Decimal,
) (*entities.PackageCommitment, error) {
	claims, err := o.store.ListCommitmentsBySourceLine(ctx, line.Source, line.LineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load commitments: %w", err)
	}
	delta := line.BaseQty.Sub(oldQty)
	content := ledger.ContentRequest{
		PackageID: *line.PackageID,
		ItemCode:  line.ItemCode,
		Quantity:  delta.Abs(),
	}
	receipt := line.Source.Type == entities.OperationGoodsReceipt

	if receipt && delta.IsPositive() {
		if _, err := o.ledger.AddContent(ctx, caller, content); err != nil {
			return nil, err
		}
	}

	var claim *entities.PackageCommitment
	if len(claims) == 0 {
		claim, err = o.reserve(ctx, line, nil)
	} else {
		// Extra claims on the same line are folded into the first one
		if _, err := o.commitments.ReleaseAll(ctx, commitmentIDs(claims[1:])); err != nil {
			return nil, err
		}
		claim, err = o.commitments.Adjust(ctx, claims[0].ID, line.BaseQty)
	}
	if err != nil {
		return nil, err
	}

	if receipt && delta.IsNegative() {
		if _, err := o.ledger.RemoveContent(ctx, caller, content); err != nil {
			return nil, err
		}
	}
	return claim, nil
}

func (o *Orchestrator) reserve(ctx context.Context, line *entities.OperationLine, target *uuid.UUID) (*entities.PackageCommitment, error) {
	return o.commitments.Reserve(ctx, commitment.ReserveRequest{
		PackageID:       *line.PackageID,
		ItemCode:        line.ItemCode,
		Quantity:        line.BaseQty,
		Source:          line.Source,
		SourceLineID:    line.LineID,
		TargetPackageID: target,
	})
}

// checkBinStock verifies the ERP reports enough bin stock for the line beyond what
// the line already held
func (o *Orchestrator) checkBinStock(ctx context.Context, line *entities.OperationLine, held decimal.Decimal) error {
	if line.BinEntry == "" {
		return entities.NewValidationError(entities.CodeInvalidInput, "bin is required for a line without a package")
	}
	onHand, err := o.erp.OnHand(ctx, line.ItemCode, line.Warehouse, line.BinEntry)
	if err != nil {
		return entities.NewExternalSystemError(err, "failed to read stock of %s in bin %s", line.ItemCode, line.BinEntry)
	}
	if need := line.BaseQty.Sub(held); need.GreaterThan(onHand) {
		return entities.NewInsufficientQuantityError(entities.CodeInsufficientQuantity, onHand, need)
	}
	return nil
}

func (o *Orchestrator) baseQuantity(ctx context.Context, item entities.ItemCode, qty decimal.Decimal, unit entities.UnitOfMeasure) (decimal.Decimal, error) {
	if unit == entities.UnitSingle {
		return qty, nil
	}
	factors, err := o.catalog.UnitFactors(ctx, item)
	if err != nil {
		return decimal.Zero, err
	}
	base, err := services.ToBaseUnits(qty, unit, factors)
	if err != nil {
		return decimal.Zero, entities.NewValidationError(entities.CodeInvalidInput, "%s", err.Error())
	}
	return base, nil
}

func (o *Orchestrator) nextLineID(ctx context.Context, source entities.SourceOperation) (int64, error) {
	lines, err := o.store.ListLines(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("failed to load lines: %w", err)
	}
	var last int64
	for _, l := range lines {
		if l.LineID > last {
			last = l.LineID
		}
	}
	return last + 1, nil
}

func demandOf(line *entities.OperationLine) entities.SourceDemand {
	return entities.SourceDemand{
		ItemCode:  line.ItemCode,
		Unit:      line.Unit,
		Warehouse: line.Warehouse,
		Quantity:  line.BaseQty,
	}
}

func commitmentIDs(claims []*entities.PackageCommitment) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(claims))
	for _, c := range claims {
		ids = append(ids, c.ID)
	}
	return ids
}
