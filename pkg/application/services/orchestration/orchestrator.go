package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/application/services/allocation"
	"github.com/vsinha/packflow/pkg/application/services/commitment"
	"github.com/vsinha/packflow/pkg/application/services/ledger"
	"github.com/vsinha/packflow/pkg/application/services/location"
	"github.com/vsinha/packflow/pkg/application/services/reconciliation"
	"github.com/vsinha/packflow/pkg/application/services/shared"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
)

// Dependencies groups the collaborators of an Orchestrator
type Dependencies struct {
	Store          repositories.Store
	ERP            gateways.ERPGateway
	Catalog        gateways.ItemCatalog
	Settings       gateways.SettingsProvider
	Planner        *allocation.Planner
	Ledger         *ledger.Ledger
	Commitments    *commitment.Coordinator
	Tracker        *location.Tracker
	Reconciliation *reconciliation.Service
	Events         gateways.EventPublisher
	Logger         *zap.Logger
}

// Orchestrator drives operations and their lines through allocation, commitment and ERP sync
type Orchestrator struct {
	store          repositories.Store
	erp            gateways.ERPGateway
	catalog        gateways.ItemCatalog
	settings       gateways.SettingsProvider
	planner        *allocation.Planner
	ledger         *ledger.Ledger
	commitments    *commitment.Coordinator
	tracker        *location.Tracker
	reconciliation *reconciliation.Service
	events         *shared.EventOutbox
	logger         *zap.Logger
	now            func() time.Time
}

// NewOrchestrator creates a new operation orchestrator
func NewOrchestrator(deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		store:          deps.Store,
		erp:            deps.ERP,
		catalog:        deps.Catalog,
		settings:       deps.Settings,
		planner:        deps.Planner,
		ledger:         deps.Ledger,
		commitments:    deps.Commitments,
		tracker:        deps.Tracker,
		reconciliation: deps.Reconciliation,
		events:         shared.NewEventOutbox(deps.Store, deps.Events, deps.Logger),
		logger:         deps.Logger,
		now:            time.Now,
	}
}

// CreateOperation opens a new operation of the given type in the caller's warehouse
func (o *Orchestrator) CreateOperation(ctx context.Context, caller entities.Caller, opType entities.OperationType) (*entities.Operation, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !opType.Valid() {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "unknown operation type %q", opType)
	}

	now := o.now()
	op := &entities.Operation{
		Source:    entities.SourceOperation{Type: opType},
		Status:    entities.OperationOpen,
		Warehouse: caller.Warehouse,
		CreatedBy: caller.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to create operation: %w", err)
	}
	return op, nil
}

// QueueOperation hands an open operation to the retry sweep instead of processing it now
func (o *Orchestrator) QueueOperation(ctx context.Context, caller entities.Caller, source entities.SourceOperation) (*entities.Operation, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	var op *entities.Operation
	err := o.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if op, err = o.openOperation(ctx, source); err != nil {
			return err
		}
		op.Status = entities.OperationPending
		op.UpdatedAt = o.now()
		return o.store.UpdateOperation(ctx, op)
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// ProcessOperation synchronizes an operation with the ERP. The reservation is made durable
// before the call; a failed call reverts the status, attempts to cancel any external document
// and surfaces an ExternalSystemError.
func (o *Orchestrator) ProcessOperation(ctx context.Context, caller entities.Caller, source entities.SourceOperation) (*dto.ProcessResult, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	return o.process(ctx, caller, source, false)
}

func (o *Orchestrator) process(ctx context.Context, caller entities.Caller, source entities.SourceOperation, queued bool) (*dto.ProcessResult, error) {
	var (
		op        *entities.Operation
		lines     []*entities.OperationLine
		transfers []*entities.TransferLine
	)
	err := o.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if op, err = o.store.GetOperation(ctx, source); err != nil {
			return err
		}
		if !op.AcceptsLines() && op.Status != entities.OperationPending {
			return entities.NewStateConflictError(entities.CodeOperationNotOpen, "operation %s is %s", source, op.Status)
		}
		if lines, err = o.store.ListLines(ctx, source); err != nil {
			return fmt.Errorf("failed to load lines: %w", err)
		}
		if source.Type == entities.OperationTransfer {
			if transfers, err = o.store.ListTransferLines(ctx, source.ID); err != nil {
				return fmt.Errorf("failed to load transfer lines: %w", err)
			}
		}
		if len(lines) == 0 && len(transfers) == 0 {
			return entities.NewValidationError(entities.CodeInvalidInput, "operation %s has no lines", source)
		}

		op.Status = entities.OperationProcessing
		op.Attempts++
		op.UpdatedAt = o.now()
		return o.store.UpdateOperation(ctx, op)
	})
	if err != nil {
		return nil, err
	}

	// A document already booked by an earlier attempt is only completed locally
	externalRef := op.ExternalRef
	if externalRef == "" {
		booked := lines
		if len(transfers) > 0 {
			reversal, err := o.reversalLines(ctx, source, transfers, int64(len(lines)))
			if err != nil {
				return nil, o.compensate(ctx, op, "", err, queued)
			}
			booked = append(append([]*entities.OperationLine(nil), lines...), reversal...)
		}

		result, callErr := o.erp.Process(ctx, op, booked)
		if callErr == nil && !result.Success {
			callErr = errors.New(result.Message)
			if result.Message == "" {
				callErr = errors.New("rejected by ERP")
			}
		}
		if callErr != nil {
			return nil, o.compensate(ctx, op, result.ExternalRef, callErr, queued)
		}
		externalRef = result.ExternalRef
	}

	err = o.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := o.store.GetOperation(ctx, source)
		if err != nil {
			return err
		}
		if current.Status != entities.OperationProcessing {
			return entities.NewStateConflictError(entities.CodeOperationNotOpen,
				"operation %s changed to %s while it was being processed", source, current.Status)
		}

		for _, line := range lines {
			line.Closed = true
			if err := o.store.SaveLine(ctx, line); err != nil {
				return fmt.Errorf("failed to close line %d: %w", line.LineID, err)
			}
		}
		if source.Type == entities.OperationGoodsReceipt {
			if _, err := o.ledger.ActivateBySource(ctx, caller, source); err != nil {
				return err
			}
		}
		// Pick commitments stay until closure reconciliation consumes them
		if source.Type != entities.OperationPicking {
			if _, err := o.commitments.ReleaseBySource(ctx, source); err != nil {
				return err
			}
		}
		current.Status = entities.OperationCompleted
		current.ExternalRef = externalRef
		current.LastError = ""
		current.UpdatedAt = o.now()
		if err := o.store.UpdateOperation(ctx, current); err != nil {
			return err
		}
		op = current
		o.events.Publish(ctx, gateways.EventOperationCompleted, source.String(), *op)
		return nil
	})
	if err != nil {
		return nil, o.park(ctx, op, externalRef, err)
	}

	o.logger.Info("operation processed",
		zap.String("source", source.String()),
		zap.String("external_ref", externalRef),
		zap.String("user", caller.UserID),
		zap.Int("attempts", op.Attempts),
	)
	return &dto.ProcessResult{Operation: op, ExternalRef: externalRef}, nil
}

// park queues an operation the ERP already booked but whose local completion failed.
// The external reference is kept so the next attempt completes it without booking again.
func (o *Orchestrator) park(ctx context.Context, op *entities.Operation, externalRef string, cause error) error {
	err := o.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := o.store.GetOperation(ctx, op.Source)
		if err != nil {
			return err
		}
		if current.Status != entities.OperationProcessing {
			return nil
		}
		current.Status = entities.OperationPending
		current.ExternalRef = externalRef
		current.LastError = cause.Error()
		current.UpdatedAt = o.now()
		return o.store.UpdateOperation(ctx, current)
	})
	if err != nil {
		o.logger.Error("failed to queue booked operation",
			zap.String("source", op.Source.String()),
			zap.String("external_ref", externalRef),
			zap.Error(err),
		)
	}

	o.logger.Warn("operation booked but not completed",
		zap.String("source", op.Source.String()),
		zap.String("external_ref", externalRef),
		zap.Error(cause),
	)
	return fmt.Errorf("operation %s booked as %s but not completed: %w", op.Source, externalRef, cause)
}

// compensate reverts a failed sync: the status goes back to Open (or Pending for queued work)
// and any document the ERP created is cancelled
func (o *Orchestrator) compensate(ctx context.Context, op *entities.Operation, externalRef string, cause error, queued bool) error {
	if externalRef != "" {
		if err := o.erp.Cancel(ctx, op.Source, externalRef); err != nil {
			o.logger.Error("failed to cancel external document",
				zap.String("source", op.Source.String()),
				zap.String("external_ref", externalRef),
				zap.Error(err),
			)
		}
	}

	op.Status = entities.OperationOpen
	if queued {
		op.Status = entities.OperationPending
	}
	op.ExternalRef = ""
	op.LastError = cause.Error()
	op.UpdatedAt = o.now()
	if err := o.store.UpdateOperation(ctx, op); err != nil {
		o.logger.Error("failed to revert operation status", zap.String("source", op.Source.String()), zap.Error(err))
	}

	o.logger.Warn("operation sync failed",
		zap.String("source", op.Source.String()),
		zap.Bool("queued", queued),
		zap.Int("attempts", op.Attempts),
		zap.Error(cause),
	)
	return entities.NewExternalSystemError(cause, "failed to process %s", op.Source)
}

// CancelOperation reverses an operation that has not completed. Pick lists go through
// reconciliation; other operations release their commitments and undo package receipts.
func (o *Orchestrator) CancelOperation(ctx context.Context, caller entities.Caller, source entities.SourceOperation) (*entities.Operation, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	if source.Type == entities.OperationPicking {
		if _, err := o.reconciliation.CancelPickList(ctx, caller, source.ID); err != nil {
			return nil, err
		}
		return o.store.GetOperation(ctx, source)
	}

	op, err := o.store.GetOperation(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := cancellable(op); err != nil {
		return nil, err
	}
	if op.ExternalRef != "" {
		if err := o.erp.Cancel(ctx, source, op.ExternalRef); err != nil {
			return nil, entities.NewExternalSystemError(err, "failed to cancel external document of %s", source)
		}
	}

	err = o.store.RunInTx(ctx, func(ctx context.Context) error {
		// Re-check under the transaction so a concurrent sync or cancel wins cleanly
		current, err := o.store.GetOperation(ctx, source)
		if err != nil {
			return err
		}
		if err := cancellable(current); err != nil {
			return err
		}

		lines, err := o.store.ListLines(ctx, source)
		if err != nil {
			return fmt.Errorf("failed to load lines: %w", err)
		}
		for _, line := range lines {
			if err := o.unwindLine(ctx, caller, line); err != nil {
				return err
			}
		}

		current.Status = entities.OperationCancelled
		current.UpdatedAt = o.now()
		if err := o.store.UpdateOperation(ctx, current); err != nil {
			return err
		}
		op = current
		o.events.Publish(ctx, gateways.EventOperationCancelled, source.String(), *op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("operation cancelled", zap.String("source", source.String()), zap.String("user", caller.UserID))
	return op, nil
}

func cancellable(op *entities.Operation) error {
	if op.Status.IsTerminal() || op.Status == entities.OperationProcessing {
		return entities.NewStateConflictError(entities.CodeOperationNotOpen, "operation %s is %s", op.Source, op.Status)
	}
	return nil
}

// ReconcileClosure runs delayed closure reconciliation as the system user
func (o *Orchestrator) ReconcileClosure(ctx context.Context, warehouse string, followUps []dto.FollowUpLine) (*dto.ClosureResult, error) {
	return o.reconciliation.ReconcileClosure(ctx, entities.SystemCaller(warehouse), followUps)
}

// Sweep retries every Pending operation once. Failures stay Pending for the next sweep.
func (o *Orchestrator) Sweep(ctx context.Context) (*dto.SweepResult, error) {
	pending, err := o.store.ListOperationsByStatus(ctx, entities.OperationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}

	result := &dto.SweepResult{}
	for _, op := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := o.process(ctx, entities.SystemCaller(op.Warehouse), op.Source, true); err != nil {
			result.Failed++
			continue
		}
		result.Processed++
	}

	if len(pending) > 0 {
		o.logger.Info("sweep finished", zap.Int("processed", result.Processed), zap.Int("failed", result.Failed))
	}
	return result, nil
}

// openOperation loads an operation that still accepts line edits
func (o *Orchestrator) openOperation(ctx context.Context, source entities.SourceOperation) (*entities.Operation, error) {
	op, err := o.store.GetOperation(ctx, source)
	if err != nil {
		return nil, err
	}
	if !op.AcceptsLines() {
		return nil, entities.NewStateConflictError(entities.CodeOperationNotOpen, "operation %s is %s", source, op.Status)
	}
	return op, nil
}

// reversalLines turns the transfer lines written by pick-list cancellation into lines the
// ERP can book. They are numbered after the operation's own lines and never stored.
func (o *Orchestrator) reversalLines(
	ctx context.Context,
	source entities.SourceOperation,
	transfers []*entities.TransferLine,
	offset int64,
) ([]*entities.OperationLine, error) {
	out := make([]*entities.OperationLine, 0, len(transfers))
	for i, tl := range transfers {
		base, err := o.baseQuantity(ctx, tl.ItemCode, tl.Quantity, tl.Unit)
		if err != nil {
			return nil, err
		}
		out = append(out, &entities.OperationLine{
			Source:    source,
			LineID:    offset + int64(i) + 1,
			ItemCode:  tl.ItemCode,
			Unit:      tl.Unit,
			Quantity:  tl.Quantity,
			BaseQty:   base,
			Warehouse: tl.FromWarehouse,
			BinEntry:  tl.FromBin,
			PackageID: tl.PackageID,
			CreatedAt: tl.CreatedAt,
		})
	}
	return out, nil
}
