package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/application/services/commitment"
	"github.com/vsinha/packflow/pkg/application/services/ledger"
	"github.com/vsinha/packflow/pkg/application/services/location"
	"github.com/vsinha/packflow/pkg/application/services/shared"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
	"github.com/vsinha/packflow/pkg/domain/services"
)

// Service settles the ledger when a pick list is cancelled or its ERP closure arrives late
type Service struct {
	store       repositories.Store
	erp         gateways.ERPGateway
	catalog     gateways.ItemCatalog
	settings    gateways.SettingsProvider
	ledger      *ledger.Ledger
	commitments *commitment.Coordinator
	tracker     *location.Tracker
	events      *shared.EventOutbox
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a new reconciliation service
func NewService(
	store repositories.Store,
	erp gateways.ERPGateway,
	catalog gateways.ItemCatalog,
	settings gateways.SettingsProvider,
	ledger *ledger.Ledger,
	commitments *commitment.Coordinator,
	tracker *location.Tracker,
	events gateways.EventPublisher,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		erp:         erp,
		catalog:     catalog,
		settings:    settings,
		ledger:      ledger,
		commitments: commitments,
		tracker:     tracker,
		events:      shared.NewEventOutbox(store, events, logger),
		logger:      logger,
		now:         time.Now,
	}
}

type pickedKey struct {
	item      entities.ItemCode
	warehouse string
	bin       string
}

// CancelPickList drains pending picks, then reverses every commitment of the pick list.
// Fully committed packages move whole to the cancellation bin, partially committed ones are
// stripped, and picked quantity no package covers becomes pack/dozen/unit transfer lines.
// The pick list is held in Processing for the duration, so a concurrent sync or cancel is refused.
func (s *Service) CancelPickList(ctx context.Context, caller entities.Caller, pickListID int64) (*dto.CancellationResult, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	source := entities.SourceOperation{Type: entities.OperationPicking, ID: pickListID}

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	pickList, prior, transfer, err := s.claimPickList(ctx, caller, source)
	if err != nil {
		return nil, err
	}

	if err := s.erp.ProcessPendingPicks(ctx, pickListID); err != nil && !errors.Is(err, gateways.ErrNothingPending) {
		cause := entities.NewExternalSystemError(err, "failed to process pending picks of pick list %d", pickListID)
		s.abandon(ctx, pickList, prior, transfer, cause)
		return nil, cause
	}
	picked, err := s.erp.PickedQuantities(ctx, pickListID)
	if err != nil {
		cause := entities.NewExternalSystemError(err, "failed to load picked quantities of pick list %d", pickListID)
		s.abandon(ctx, pickList, prior, transfer, cause)
		return nil, cause
	}

	commitments, err := s.store.ListCommitmentsBySource(ctx, source)
	if err != nil {
		cause := fmt.Errorf("failed to list commitments: %w", err)
		s.abandon(ctx, pickList, prior, transfer, cause)
		return nil, cause
	}

	result := &dto.CancellationResult{PickList: source, ReversalTransfer: transfer}
	covered := make(map[entities.ItemCode]decimal.Decimal)

	byPackage := groupByPackage(commitments)
	for _, packageID := range sortedPackageIDs(byPackage) {
		lines, claimed, relocated, err := s.reversePackage(ctx, source, transfer, packageID, settings.CancellationBin)
		if err != nil {
			s.recordFailure(ctx, &result.Failures, &packageID, "", err)
			s.releaseAfterFailure(ctx, packageID, byPackage[packageID], &result.Failures)
			continue
		}
		for item, qty := range claimed {
			covered[item] = covered[item].Add(qty)
		}
		result.TransferLines = append(result.TransferLines, lines...)
		if relocated {
			result.RelocatedPackages = append(result.RelocatedPackages, packageID)
		} else {
			result.StrippedPackages = append(result.StrippedPackages, packageID)
		}
	}

	loose, failures := s.looseLines(ctx, transfer, picked, covered, settings.CancellationBin)
	result.TransferLines = append(result.TransferLines, loose...)
	result.Failures = append(result.Failures, failures...)

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.store.GetOperation(ctx, source)
		if err != nil {
			return err
		}
		if current.Status != entities.OperationProcessing {
			return entities.NewStateConflictError(entities.CodeOperationNotOpen,
				"pick list %d changed to %s while it was being cancelled", pickListID, current.Status)
		}

		for _, line := range loose {
			if err := s.store.AddTransferLine(ctx, line); err != nil {
				return fmt.Errorf("failed to add transfer line: %w", err)
			}
		}

		transfer.UpdatedAt = s.now()
		if len(result.TransferLines) == 0 {
			transfer.Status = entities.OperationCancelled
			transfer.LastError = "nothing to reverse"
		} else {
			// Queued for the retry sweep to push to the ERP
			transfer.Status = entities.OperationPending
		}
		if err := s.store.UpdateOperation(ctx, transfer); err != nil {
			return err
		}

		current.Status = entities.OperationCancelled
		current.LastError = ""
		current.UpdatedAt = s.now()
		if err := s.store.UpdateOperation(ctx, current); err != nil {
			return err
		}
		pickList = current
		return nil
	})
	if err != nil {
		s.abandon(ctx, pickList, prior, transfer, err)
		return nil, err
	}

	s.logger.Info("pick list cancelled",
		zap.Int64("pick_list", pickListID),
		zap.Int64("reversal_transfer", transfer.Source.ID),
		zap.Int("relocated", len(result.RelocatedPackages)),
		zap.Int("stripped", len(result.StrippedPackages)),
		zap.Int("transfer_lines", len(result.TransferLines)),
		zap.Int("failures", len(result.Failures)),
	)
	s.events.Publish(ctx, gateways.EventOperationCancelled, source.String(), *result)
	return result, nil
}

// claimPickList moves the pick list to Processing and opens its reversal transfer in one transaction.
// It returns the status the pick list had before the claim.
func (s *Service) claimPickList(
	ctx context.Context,
	caller entities.Caller,
	source entities.SourceOperation,
) (*entities.Operation, entities.OperationStatus, *entities.Operation, error) {
	var (
		pickList *entities.Operation
		prior    entities.OperationStatus
		transfer *entities.Operation
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		op, err := s.store.GetOperation(ctx, source)
		if err != nil {
			return err
		}
		switch op.Status {
		case entities.OperationCancelled:
			return entities.NewStateConflictError(entities.CodeOperationNotOpen, "pick list %d is already cancelled", source.ID)
		case entities.OperationProcessing:
			return entities.NewStateConflictError(entities.CodeOperationNotOpen, "pick list %d is being processed", source.ID)
		}

		prior = op.Status
		op.Status = entities.OperationProcessing
		op.UpdatedAt = s.now()
		if err := s.store.UpdateOperation(ctx, op); err != nil {
			return err
		}

		now := s.now()
		t := &entities.Operation{
			Source:    entities.SourceOperation{Type: entities.OperationTransfer},
			Status:    entities.OperationOpen,
			Warehouse: caller.Warehouse,
			CreatedBy: caller.UserID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateOperation(ctx, t); err != nil {
			return fmt.Errorf("failed to create reversal transfer: %w", err)
		}
		pickList, transfer = op, t
		return nil
	})
	if err != nil {
		return nil, "", nil, err
	}
	return pickList, prior, transfer, nil
}

// abandon hands a claimed pick list back in its prior status with the cause recorded.
// The reversal transfer is queued when packages were already reversed onto it, else cancelled.
func (s *Service) abandon(ctx context.Context, pickList *entities.Operation, prior entities.OperationStatus, transfer *entities.Operation, cause error) {
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		lines, err := s.store.ListTransferLines(ctx, transfer.Source.ID)
		if err != nil {
			return fmt.Errorf("failed to load transfer lines: %w", err)
		}
		t, err := s.store.GetOperation(ctx, transfer.Source)
		if err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		if len(lines) > 0 {
			t.Status = entities.OperationPending
		} else {
			t.Status = entities.OperationCancelled
			t.LastError = cause.Error()
		}
		if err := s.store.UpdateOperation(ctx, t); err != nil {
			return err
		}

		op, err := s.store.GetOperation(ctx, pickList.Source)
		if err != nil {
			return err
		}
		if op.Status != entities.OperationProcessing {
			return nil
		}
		op.Status = prior
		op.LastError = cause.Error()
		op.UpdatedAt = s.now()
		return s.store.UpdateOperation(ctx, op)
	})
	if err != nil {
		s.logger.Error("failed to release pick list claim",
			zap.String("source", pickList.Source.String()),
			zap.Error(err),
		)
	}
	s.logger.Warn("pick list cancellation abandoned",
		zap.String("source", pickList.Source.String()),
		zap.String("restored_status", string(prior)),
		zap.Error(cause),
	)
}

// reversePackage releases the pick list's claims on one package in a single transaction.
// It returns the released quantity per item and whether the whole package was relocated
// rather than stripped.
func (s *Service) reversePackage(
	ctx context.Context,
	source entities.SourceOperation,
	transfer *entities.Operation,
	packageID uuid.UUID,
	cancellationBin string,
) ([]*entities.TransferLine, map[entities.ItemCode]decimal.Decimal, bool, error) {
	var (
		lines     []*entities.TransferLine
		claimed   map[entities.ItemCode]decimal.Decimal
		relocated bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		pkg, err := s.store.GetPackage(ctx, packageID)
		if err != nil {
			return err
		}
		contents, err := s.store.ListContents(ctx, packageID)
		if err != nil {
			return fmt.Errorf("failed to load contents: %w", err)
		}

		// Re-read inside the transaction so the claims match what gets released
		all, err := s.store.ListCommitmentsByPackage(ctx, packageID)
		if err != nil {
			return fmt.Errorf("failed to list commitments: %w", err)
		}
		var ids []uuid.UUID
		claimed = make(map[entities.ItemCode]decimal.Decimal)
		for _, c := range all {
			if c.Source == source {
				ids = append(ids, c.ID)
				claimed[c.ItemCode] = claimed[c.ItemCode].Add(c.Quantity)
			}
		}
		relocated = fullyClaimed(contents, claimed)

		if _, err := s.commitments.ReleaseAll(ctx, ids); err != nil {
			return err
		}

		fromWarehouse, fromBin := pkg.WarehouseCode, pkg.BinEntry
		system := entities.SystemCaller(pkg.WarehouseCode)

		if relocated {
			if _, err := s.tracker.MovePackage(ctx, system, location.MoveRequest{
				PackageID:    pkg.ID,
				ToWarehouse:  pkg.WarehouseCode,
				ToBin:        cancellationBin,
				Source:       source,
				MovementType: entities.MovementCancellation,
			}); err != nil {
				return err
			}
			for _, content := range contents {
				id := pkg.ID
				lines = append(lines, s.transferLine(transfer, content.ItemCode, entities.UnitSingle, content.Quantity, fromWarehouse, fromBin, cancellationBin, &id))
			}
		} else {
			for _, item := range sortedItems(claimed) {
				if _, err := s.ledger.RemoveContent(ctx, system, ledger.ContentRequest{
					PackageID: pkg.ID,
					ItemCode:  item,
					Quantity:  claimed[item],
				}); err != nil {
					return err
				}
				lines = append(lines, s.transferLine(transfer, item, entities.UnitSingle, claimed[item], fromWarehouse, fromBin, cancellationBin, nil))
			}
		}

		for _, line := range lines {
			if err := s.store.AddTransferLine(ctx, line); err != nil {
				return fmt.Errorf("failed to add transfer line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return lines, claimed, relocated, nil
}

// releaseAfterFailure clears the claims of a package whose reversal failed, so its quantity
// is reversed as loose stock instead
func (s *Service) releaseAfterFailure(
	ctx context.Context,
	packageID uuid.UUID,
	claims []*entities.PackageCommitment,
	failures *[]dto.ReconciliationFailure,
) {
	ids := make([]uuid.UUID, 0, len(claims))
	for _, c := range claims {
		ids = append(ids, c.ID)
	}
	if _, err := s.commitments.ReleaseAll(ctx, ids); err != nil {
		s.recordFailure(ctx, failures, &packageID, "", fmt.Errorf("failed to release commitments: %w", err))
	}
}

// looseLines converts picked quantity not covered by packages into pack/dozen/unit lines
func (s *Service) looseLines(
	ctx context.Context,
	transfer *entities.Operation,
	picked []gateways.PickedQuantity,
	covered map[entities.ItemCode]decimal.Decimal,
	cancellationBin string,
) ([]*entities.TransferLine, []dto.ReconciliationFailure) {
	remaining := make(map[pickedKey]decimal.Decimal)
	var order []pickedKey
	for _, p := range picked {
		key := pickedKey{item: p.ItemCode, warehouse: p.Warehouse, bin: p.BinEntry}
		if _, seen := remaining[key]; !seen {
			order = append(order, key)
		}
		remaining[key] = remaining[key].Add(p.Quantity)
	}

	// Package reversals already account for part of the picked quantity
	left := make(map[entities.ItemCode]decimal.Decimal, len(covered))
	for item, qty := range covered {
		left[item] = qty
	}
	for _, key := range order {
		take := decimal.Min(left[key.item], remaining[key])
		if take.IsPositive() {
			remaining[key] = remaining[key].Sub(take)
			left[key.item] = left[key.item].Sub(take)
		}
	}

	var (
		lines    []*entities.TransferLine
		failures []dto.ReconciliationFailure
	)
	for _, key := range order {
		qty := remaining[key]
		if !qty.IsPositive() {
			continue
		}
		factors, err := s.catalog.UnitFactors(ctx, key.item)
		if err != nil {
			s.recordFailure(ctx, &failures, nil, key.item, fmt.Errorf("failed to load unit factors: %w", err))
			continue
		}
		for _, part := range services.BreakdownBaseQuantity(qty, factors).Lines() {
			lines = append(lines, s.transferLine(transfer, key.item, part.Unit, part.Quantity, key.warehouse, key.bin, cancellationBin, nil))
		}
	}
	return lines, failures
}

// ReconcileClosure consumes the pick commitments named by ERP follow-up lines.
// Each package is reduced in its own transaction and closed when it ends up empty;
// a failing package is logged and skipped.
func (s *Service) ReconcileClosure(ctx context.Context, caller entities.Caller, followUps []dto.FollowUpLine) (*dto.ClosureResult, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	result := &dto.ClosureResult{Reduced: make(map[uuid.UUID]map[entities.ItemCode]decimal.Decimal)}

	type claimKey struct {
		pickEntry int64
		item      entities.ItemCode
	}
	batches := make(map[uuid.UUID]map[claimKey]decimal.Decimal)
	for _, line := range followUps {
		if batches[line.PackageID] == nil {
			batches[line.PackageID] = make(map[claimKey]decimal.Decimal)
		}
		key := claimKey{pickEntry: line.PickEntry, item: line.ItemCode}
		batches[line.PackageID][key] = batches[line.PackageID][key].Add(line.Quantity)
	}

	packageIDs := make([]uuid.UUID, 0, len(batches))
	for id := range batches {
		packageIDs = append(packageIDs, id)
	}
	sort.Slice(packageIDs, func(i, j int) bool { return packageIDs[i].String() < packageIDs[j].String() })

	for _, packageID := range packageIDs {
		reduced := make(map[entities.ItemCode]decimal.Decimal)
		closed := false

		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			pkg, err := s.store.GetPackage(ctx, packageID)
			if err != nil {
				return err
			}
			claims, err := s.store.ListCommitmentsByPackage(ctx, packageID)
			if err != nil {
				return fmt.Errorf("failed to list commitments: %w", err)
			}

			keys := make([]claimKey, 0, len(batches[packageID]))
			for key := range batches[packageID] {
				keys = append(keys, key)
			}
			sort.Slice(keys, func(i, j int) bool {
				if keys[i].pickEntry != keys[j].pickEntry {
					return keys[i].pickEntry < keys[j].pickEntry
				}
				return keys[i].item < keys[j].item
			})

			system := entities.SystemCaller(pkg.WarehouseCode)
			for _, key := range keys {
				source := entities.SourceOperation{Type: entities.OperationPicking, ID: key.pickEntry}
				var matching []*entities.PackageCommitment
				committed := decimal.Zero
				for _, c := range claims {
					if c.Source == source && c.ItemCode == key.item {
						matching = append(matching, c)
						committed = committed.Add(c.Quantity)
					}
				}

				content, err := s.store.FindContent(ctx, packageID, key.item)
				if err != nil {
					return fmt.Errorf("failed to load content: %w", err)
				}
				onHand := decimal.Zero
				if content != nil {
					onHand = content.Quantity
				}

				qty := decimal.Min(batches[packageID][key], committed, onHand)
				if !qty.IsPositive() {
					continue
				}

				if err := s.consume(ctx, matching, qty); err != nil {
					return err
				}
				if _, err := s.ledger.RemoveContent(ctx, system, ledger.ContentRequest{
					PackageID: packageID,
					ItemCode:  key.item,
					Quantity:  qty,
				}); err != nil {
					return err
				}
				reduced[key.item] = reduced[key.item].Add(qty)
			}

			contents, err := s.store.ListContents(ctx, packageID)
			if err != nil {
				return fmt.Errorf("failed to load contents: %w", err)
			}
			if len(contents) == 0 && len(reduced) > 0 {
				closer := caller
				closer.Warehouse = pkg.WarehouseCode
				if _, err := s.ledger.Close(ctx, closer, packageID); err != nil {
					return err
				}
				closed = true
			}
			return nil
		})
		if err != nil {
			id := packageID
			s.recordFailure(ctx, &result.Failures, &id, "", err)
			continue
		}

		if len(reduced) > 0 {
			result.Reduced[packageID] = reduced
		}
		if closed {
			result.ClosedPackages = append(result.ClosedPackages, packageID)
		}
	}

	s.logger.Info("closure reconciled",
		zap.Int("packages", len(result.Reduced)),
		zap.Int("closed", len(result.ClosedPackages)),
		zap.Int("failures", len(result.Failures)),
	)
	return result, nil
}

// consume shrinks commitments oldest first until qty is used up
func (s *Service) consume(ctx context.Context, claims []*entities.PackageCommitment, qty decimal.Decimal) error {
	left := qty
	for _, c := range claims {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(left, c.Quantity)
		if _, err := s.commitments.Adjust(ctx, c.ID, c.Quantity.Sub(take)); err != nil {
			return err
		}
		left = left.Sub(take)
	}
	return nil
}

func (s *Service) transferLine(
	transfer *entities.Operation,
	item entities.ItemCode,
	unit entities.UnitOfMeasure,
	qty decimal.Decimal,
	fromWarehouse, fromBin, toBin string,
	packageID *uuid.UUID,
) *entities.TransferLine {
	return &entities.TransferLine{
		ID:            uuid.New(),
		TransferID:    transfer.Source.ID,
		ItemCode:      item,
		Unit:          unit,
		Quantity:      qty,
		FromWarehouse: fromWarehouse,
		FromBin:       fromBin,
		ToBin:         toBin,
		PackageID:     packageID,
		CreatedAt:     s.now(),
	}
}

func (s *Service) recordFailure(
	ctx context.Context,
	failures *[]dto.ReconciliationFailure,
	packageID *uuid.UUID,
	item entities.ItemCode,
	err error,
) {
	failure := dto.ReconciliationFailure{PackageID: packageID, ItemCode: item, Reason: err.Error()}
	*failures = append(*failures, failure)

	fields := []zap.Field{zap.String("item", string(item)), zap.String("code", entities.ErrorCode(err)), zap.Error(err)}
	if packageID != nil {
		fields = append(fields, zap.String("package", packageID.String()))
	}
	s.logger.Warn("reconciliation failed", fields...)

	s.events.Publish(ctx, gateways.EventReconciliationFault, "reconciliation", failure)
}

func groupByPackage(commitments []*entities.PackageCommitment) map[uuid.UUID][]*entities.PackageCommitment {
	out := make(map[uuid.UUID][]*entities.PackageCommitment)
	for _, c := range commitments {
		out[c.PackageID] = append(out[c.PackageID], c)
	}
	return out
}

func sortedPackageIDs(groups map[uuid.UUID][]*entities.PackageCommitment) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func sortedItems(quantities map[entities.ItemCode]decimal.Decimal) []entities.ItemCode {
	items := make([]entities.ItemCode, 0, len(quantities))
	for item := range quantities {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// fullyClaimed reports whether the claims cover every content row completely
func fullyClaimed(contents []*entities.PackageContent, claimed map[entities.ItemCode]decimal.Decimal) bool {
	if len(contents) == 0 {
		return false
	}
	for _, content := range contents {
		if !claimed[content.ItemCode].Equal(content.Quantity) {
			return false
		}
	}
	return true
}
