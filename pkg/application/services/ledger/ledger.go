package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/application/services/shared"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
	"github.com/vsinha/packflow/pkg/domain/services"
)

// CreateRequest describes a new package
type CreateRequest struct {
	BinEntry   string
	Source     entities.SourceOperation
	Attributes map[string]any
}

// ContentRequest adds or removes a quantity of one item
type ContentRequest struct {
	PackageID uuid.UUID
	ItemCode  entities.ItemCode
	Unit      entities.UnitOfMeasure
	Quantity  decimal.Decimal
	// BinEntry is the bin the caller is working in; it must match the package bin when set
	BinEntry string
}

// Ledger owns packages, their content rows and the package state machine
type Ledger struct {
	store    repositories.Store
	settings gateways.SettingsProvider
	events   *shared.EventOutbox
	logger   *zap.Logger
	now      func() time.Time
}

// NewLedger creates a new package ledger
func NewLedger(
	store repositories.Store,
	settings gateways.SettingsProvider,
	events gateways.EventPublisher,
	logger *zap.Logger,
) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:    store,
		settings: settings,
		events:   shared.NewEventOutbox(store, events, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Create issues the next barcode and stores a package in Init at the caller's warehouse
func (l *Ledger) Create(ctx context.Context, caller entities.Caller, req CreateRequest) (*entities.Package, error) {
	settings, err := l.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.PackagesEnabled {
		return nil, entities.NewValidationError(entities.CodeFeatureDisabled, "packages are not enabled")
	}
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if req.BinEntry == "" {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "bin is required")
	}
	codec, err := services.NewBarcodeCodec(settings.Barcode)
	if err != nil {
		return nil, err
	}

	var pkg *entities.Package
	err = l.store.RunInTx(ctx, func(ctx context.Context) error {
		number, err := l.store.NextBarcodeNumber(ctx, settings.Barcode.StartNumber)
		if err != nil {
			return fmt.Errorf("failed to reserve barcode number: %w", err)
		}
		barcode, err := codec.Format(number)
		if err != nil {
			return err
		}

		now := l.now()
		pkg = &entities.Package{
			ID:            uuid.New(),
			Barcode:       barcode,
			Status:        entities.PackageInit,
			WarehouseCode: caller.Warehouse,
			BinEntry:      req.BinEntry,
			Source:        req.Source,
			Attributes:    copyAttributes(req.Attributes),
			CreatedBy:     caller.UserID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := l.store.CreatePackage(ctx, pkg); err != nil {
			return fmt.Errorf("failed to create package: %w", err)
		}

		return l.store.AppendHistory(ctx, &entities.PackageLocationHistory{
			ID:           uuid.New(),
			PackageID:    pkg.ID,
			ToWarehouse:  pkg.WarehouseCode,
			ToBin:        pkg.BinEntry,
			MovementType: entities.MovementCreated,
			Source:       req.Source,
			MovedBy:      caller.UserID,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("package created",
		zap.String("barcode", pkg.Barcode),
		zap.String("warehouse", pkg.WarehouseCode),
		zap.String("bin", pkg.BinEntry),
		zap.String("user", caller.UserID),
	)
	l.publish(ctx, gateways.EventPackageCreated, pkg)
	return pkg, nil
}

// Get loads a package and the associations selected by opts
func (l *Ledger) Get(ctx context.Context, id uuid.UUID, opts dto.LoadOptions) (*dto.PackageView, error) {
	pkg, err := l.store.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.load(ctx, pkg, opts)
}

// GetByBarcode validates the barcode format before looking the package up
func (l *Ledger) GetByBarcode(ctx context.Context, barcode string, opts dto.LoadOptions) (*dto.PackageView, error) {
	settings, err := l.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	codec, err := services.NewBarcodeCodec(settings.Barcode)
	if err != nil {
		return nil, err
	}
	if _, err := codec.Parse(barcode); err != nil {
		return nil, err
	}

	pkg, err := l.store.GetPackageByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	return l.load(ctx, pkg, opts)
}

func (l *Ledger) load(ctx context.Context, pkg *entities.Package, opts dto.LoadOptions) (*dto.PackageView, error) {
	view := &dto.PackageView{Package: pkg}
	var err error
	if opts.Contents {
		if view.Contents, err = l.store.ListContents(ctx, pkg.ID); err != nil {
			return nil, fmt.Errorf("failed to load contents: %w", err)
		}
	}
	if opts.Commitments {
		if view.Commitments, err = l.store.ListCommitmentsByPackage(ctx, pkg.ID); err != nil {
			return nil, fmt.Errorf("failed to load commitments: %w", err)
		}
	}
	if opts.History {
		if view.History, err = l.store.ListHistory(ctx, pkg.ID); err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
	}
	return view, nil
}

// Activate moves a package with content from Init to Active
func (l *Ledger) Activate(ctx context.Context, caller entities.Caller, id uuid.UUID) (*entities.Package, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	var pkg *entities.Package
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if pkg, err = l.store.GetPackage(ctx, id); err != nil {
			return err
		}
		return l.activate(ctx, pkg)
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, gateways.EventPackageActivated, pkg)
	return pkg, nil
}

// ActivateBySource activates every Init package with content created by source.
// Packages that are empty or no longer in Init are skipped.
func (l *Ledger) ActivateBySource(ctx context.Context, caller entities.Caller, source entities.SourceOperation) ([]*entities.Package, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	var activated []*entities.Package
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		packages, err := l.store.ListPackagesBySource(ctx, source)
		if err != nil {
			return fmt.Errorf("failed to list packages of %s: %w", source, err)
		}
		for _, pkg := range packages {
			if pkg.Status != entities.PackageInit {
				continue
			}
			if err := l.activate(ctx, pkg); err != nil {
				if entities.ErrorCode(err) == entities.CodePackageEmpty {
					l.logger.Debug("skipping empty package", zap.String("barcode", pkg.Barcode))
					continue
				}
				return err
			}
			activated = append(activated, pkg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, pkg := range activated {
		l.publish(ctx, gateways.EventPackageActivated, pkg)
	}
	return activated, nil
}

func (l *Ledger) activate(ctx context.Context, pkg *entities.Package) error {
	if pkg.Status != entities.PackageInit {
		if pkg.Status.IsTerminal() || pkg.Status == entities.PackageLocked {
			return pkg.EnsureMutable()
		}
		return entities.NewStateConflictError(entities.CodeInvalidTransition, "package %s is %s, expected Init", pkg.Barcode, pkg.Status)
	}
	contents, err := l.store.ListContents(ctx, pkg.ID)
	if err != nil {
		return fmt.Errorf("failed to load contents: %w", err)
	}
	if len(contents) == 0 {
		return entities.NewStateConflictError(entities.CodePackageEmpty, "package %s has no content", pkg.Barcode)
	}
	if err := pkg.Transition(entities.PackageActive); err != nil {
		return err
	}
	pkg.UpdatedAt = l.now()
	return l.store.UpdatePackage(ctx, pkg)
}

// Close moves an empty Active package to Closed
func (l *Ledger) Close(ctx context.Context, caller entities.Caller, id uuid.UUID) (*entities.Package, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	var pkg *entities.Package
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if pkg, err = l.store.GetPackage(ctx, id); err != nil {
			return err
		}
		return l.close(ctx, caller, pkg)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("package closed", zap.String("barcode", pkg.Barcode), zap.String("user", caller.UserID))
	l.publish(ctx, gateways.EventPackageClosed, pkg)
	return pkg, nil
}

func (l *Ledger) close(ctx context.Context, caller entities.Caller, pkg *entities.Package) error {
	if !entities.CanTransition(pkg.Status, entities.PackageClosed) {
		return pkg.Transition(entities.PackageClosed)
	}
	contents, err := l.store.ListContents(ctx, pkg.ID)
	if err != nil {
		return fmt.Errorf("failed to load contents: %w", err)
	}
	if len(contents) > 0 {
		return entities.NewStateConflictError(entities.CodePackageNotEmpty, "package %s still holds %d items", pkg.Barcode, len(contents))
	}
	if err := pkg.Transition(entities.PackageClosed); err != nil {
		return err
	}
	now := l.now()
	pkg.ClosedBy = caller.UserID
	pkg.ClosedAt = &now
	pkg.UpdatedAt = now
	return l.store.UpdatePackage(ctx, pkg)
}

// Cancel moves a package that is empty or was never activated to Cancelled
func (l *Ledger) Cancel(ctx context.Context, caller entities.Caller, id uuid.UUID) (*entities.Package, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	var pkg *entities.Package
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if pkg, err = l.store.GetPackage(ctx, id); err != nil {
			return err
		}
		if !entities.CanTransition(pkg.Status, entities.PackageCancelled) {
			return pkg.Transition(entities.PackageCancelled)
		}

		contents, err := l.store.ListContents(ctx, pkg.ID)
		if err != nil {
			return fmt.Errorf("failed to load contents: %w", err)
		}
		neverActivated := pkg.Status == entities.PackageInit ||
			(pkg.Status == entities.PackageLocked && pkg.PreLockStatus == entities.PackageInit)
		if len(contents) > 0 && !neverActivated {
			return entities.NewStateConflictError(entities.CodePackageNotEmpty, "package %s still holds %d items", pkg.Barcode, len(contents))
		}
		for _, c := range contents {
			if c.CommittedQuantity.IsPositive() {
				return entities.NewStateConflictError(entities.CodePackageNotEmpty,
					"package %s has %s of %s committed", pkg.Barcode, c.CommittedQuantity, c.ItemCode)
			}
		}

		if err := pkg.Transition(entities.PackageCancelled); err != nil {
			return err
		}
		now := l.now()
		pkg.PreLockStatus = ""
		pkg.CancelledBy = caller.UserID
		pkg.CancelledAt = &now
		pkg.UpdatedAt = now
		return l.store.UpdatePackage(ctx, pkg)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("package cancelled", zap.String("barcode", pkg.Barcode), zap.String("user", caller.UserID))
	l.publish(ctx, gateways.EventPackageCancelled, pkg)
	return pkg, nil
}

// Lock puts a non-terminal package on hold, remembering the status to restore
func (l *Ledger) Lock(ctx context.Context, caller entities.Caller, id uuid.UUID) (*entities.Package, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	var pkg *entities.Package
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if pkg, err = l.store.GetPackage(ctx, id); err != nil {
			return err
		}
		previous := pkg.Status
		if err := pkg.Transition(entities.PackageLocked); err != nil {
			return err
		}
		pkg.PreLockStatus = previous
		pkg.UpdatedAt = l.now()
		return l.store.UpdatePackage(ctx, pkg)
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, gateways.EventPackageLocked, pkg)
	return pkg, nil
}

// Unlock releases the hold and restores the status the package had before locking
func (l *Ledger) Unlock(ctx context.Context, caller entities.Caller, id uuid.UUID) (*entities.Package, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	var pkg *entities.Package
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if pkg, err = l.store.GetPackage(ctx, id); err != nil {
			return err
		}
		if pkg.Status != entities.PackageLocked {
			return entities.NewStateConflictError(entities.CodeInvalidTransition, "package %s is not locked", pkg.Barcode)
		}

		restore := pkg.PreLockStatus
		if restore == "" {
			restore = entities.PackageInit
		}
		if err := pkg.Transition(restore); err != nil {
			return err
		}
		pkg.PreLockStatus = ""
		pkg.UpdatedAt = l.now()
		return l.store.UpdatePackage(ctx, pkg)
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, gateways.EventPackageUnlocked, pkg)
	return pkg, nil
}

// AddContent puts quantity of an item into a package, activating it on the first add
func (l *Ledger) AddContent(ctx context.Context, caller entities.Caller, req ContentRequest) (*entities.PackageContent, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if req.ItemCode == "" {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "item code cannot be empty")
	}
	if !req.Quantity.IsPositive() {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "quantity must be positive, got %s", req.Quantity)
	}

	var (
		content   *entities.PackageContent
		pkg       *entities.Package
		activated bool
	)
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if pkg, err = l.store.GetPackage(ctx, req.PackageID); err != nil {
			return err
		}
		if err := pkg.EnsureMutable(); err != nil {
			return err
		}
		if pkg.WarehouseCode != caller.Warehouse {
			return entities.NewValidationError(entities.CodeWarehouseMismatch,
				"package %s belongs to warehouse %s, not %s", pkg.Barcode, pkg.WarehouseCode, caller.Warehouse)
		}
		if req.BinEntry != "" && req.BinEntry != pkg.BinEntry {
			return entities.NewValidationError(entities.CodeBinMismatch,
				"package %s is in bin %s, not %s", pkg.Barcode, pkg.BinEntry, req.BinEntry)
		}

		now := l.now()
		if content, err = l.store.FindContent(ctx, pkg.ID, req.ItemCode); err != nil {
			return fmt.Errorf("failed to load content: %w", err)
		}
		if content == nil {
			content = &entities.PackageContent{
				ID:                uuid.New(),
				PackageID:         pkg.ID,
				ItemCode:          req.ItemCode,
				Unit:              req.Unit,
				Quantity:          decimal.Zero,
				CommittedQuantity: decimal.Zero,
				CreatedAt:         now,
			}
		}
		content.Quantity = content.Quantity.Add(req.Quantity)
		content.WarehouseCode = pkg.WarehouseCode
		content.BinEntry = pkg.BinEntry
		content.UpdatedAt = now
		if err := content.CheckInvariant(pkg); err != nil {
			return err
		}
		if err := l.store.SaveContent(ctx, content); err != nil {
			return fmt.Errorf("failed to save content: %w", err)
		}

		if pkg.Status == entities.PackageInit {
			if err := pkg.Transition(entities.PackageActive); err != nil {
				return err
			}
			pkg.UpdatedAt = now
			activated = true
			return l.store.UpdatePackage(ctx, pkg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("content added",
		zap.String("barcode", pkg.Barcode),
		zap.String("item", string(req.ItemCode)),
		zap.String("quantity", req.Quantity.String()),
	)
	if activated {
		l.publish(ctx, gateways.EventPackageActivated, pkg)
	}
	return content, nil
}

// RemoveContent takes quantity out of a package. The row is deleted when it reaches zero,
// in which case the returned content is nil. Committed quantity can never be removed.
func (l *Ledger) RemoveContent(ctx context.Context, caller entities.Caller, req ContentRequest) (*entities.PackageContent, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !req.Quantity.IsPositive() {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "quantity must be positive, got %s", req.Quantity)
	}

	var remaining *entities.PackageContent
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		pkg, err := l.store.GetPackage(ctx, req.PackageID)
		if err != nil {
			return err
		}
		if err := pkg.EnsureMutable(); err != nil {
			return err
		}

		content, err := l.store.FindContent(ctx, pkg.ID, req.ItemCode)
		if err != nil {
			return fmt.Errorf("failed to load content: %w", err)
		}
		if content == nil {
			return entities.NewNotFoundError(entities.CodeContentNotFound, "package %s holds no %s", pkg.Barcode, req.ItemCode)
		}
		if req.Quantity.GreaterThan(content.Quantity) {
			return entities.NewInsufficientQuantityError(entities.CodeInsufficientQuantity, content.Quantity, req.Quantity)
		}
		if req.Quantity.GreaterThan(content.Available()) {
			return entities.NewInsufficientQuantityError(entities.CodeInsufficientAvailableQuantity, content.Available(), req.Quantity)
		}

		content.Quantity = content.Quantity.Sub(req.Quantity)
		if content.Quantity.IsZero() {
			return l.store.DeleteContent(ctx, content.ID)
		}
		content.UpdatedAt = l.now()
		if err := content.CheckInvariant(pkg); err != nil {
			return err
		}
		remaining = content
		return l.store.SaveContent(ctx, content)
	})
	if err != nil {
		return nil, err
	}
	return remaining, nil
}

// UpdateMetadata validates updates against schema and merges them into the attribute map
func (l *Ledger) UpdateMetadata(
	ctx context.Context,
	caller entities.Caller,
	id uuid.UUID,
	schema []entities.FieldDefinition,
	updates map[string]any,
) (*entities.Package, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	validator, err := services.NewMetadataValidator(schema)
	if err != nil {
		return nil, err
	}

	var pkg *entities.Package
	err = l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if pkg, err = l.store.GetPackage(ctx, id); err != nil {
			return err
		}
		if pkg.Status.IsTerminal() {
			return pkg.EnsureMutable()
		}
		merged, err := validator.Apply(pkg.Attributes, updates)
		if err != nil {
			return err
		}
		pkg.Attributes = merged
		pkg.UpdatedAt = l.now()
		return l.store.UpdatePackage(ctx, pkg)
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// VerifyContents checks every content row of a package against its invariants and commitments
func (l *Ledger) VerifyContents(ctx context.Context, id uuid.UUID) error {
	pkg, err := l.store.GetPackage(ctx, id)
	if err != nil {
		return err
	}
	contents, err := l.store.ListContents(ctx, id)
	if err != nil {
		return err
	}
	for _, content := range contents {
		if err := content.CheckInvariant(pkg); err != nil {
			return err
		}
		commitments, err := l.store.ListCommitmentsByContent(ctx, content.ID)
		if err != nil {
			return err
		}
		sum := decimal.Zero
		for _, c := range commitments {
			sum = sum.Add(c.Quantity)
		}
		if !sum.Equal(content.CommittedQuantity) {
			return entities.NewStateConflictError(entities.CodeCommitmentInvariant,
				"package %s item %s: committed %s but commitments sum to %s", pkg.Barcode, content.ItemCode, content.CommittedQuantity, sum)
		}
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, eventType string, pkg *entities.Package) {
	l.events.Publish(ctx, eventType, pkg.ID.String(), *pkg)
}

func copyAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
