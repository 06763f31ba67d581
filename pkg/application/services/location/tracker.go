package location

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/services/shared"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
)

// MoveRequest relocates a package; ToWarehouse defaults to the caller's warehouse
type MoveRequest struct {
	PackageID    uuid.UUID
	ToWarehouse  string
	ToBin        string
	Source       entities.SourceOperation
	MovementType entities.MovementType
}

// Tracker applies package moves to the package and its content rows and logs them
type Tracker struct {
	store  repositories.Store
	events *shared.EventOutbox
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a new location tracker
func NewTracker(store repositories.Store, events gateways.EventPublisher, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, events: shared.NewEventOutbox(store, events, logger), logger: logger, now: time.Now}
}

// MovePackage relocates a package and mirrors the new location onto every content row
func (t *Tracker) MovePackage(ctx context.Context, caller entities.Caller, req MoveRequest) (*entities.Package, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if req.ToBin == "" {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "destination bin is required")
	}
	if req.ToWarehouse == "" {
		req.ToWarehouse = caller.Warehouse
	}
	if req.MovementType == "" {
		req.MovementType = entities.MovementMoved
	}

	var pkg *entities.Package
	err := t.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if pkg, err = t.store.GetPackage(ctx, req.PackageID); err != nil {
			return err
		}
		if pkg.Status.IsTerminal() {
			return pkg.EnsureMutable()
		}

		now := t.now()
		entry := &entities.PackageLocationHistory{
			ID:            uuid.New(),
			PackageID:     pkg.ID,
			FromWarehouse: pkg.WarehouseCode,
			FromBin:       pkg.BinEntry,
			ToWarehouse:   req.ToWarehouse,
			ToBin:         req.ToBin,
			MovementType:  req.MovementType,
			Source:        req.Source,
			MovedBy:       caller.UserID,
			CreatedAt:     now,
		}

		pkg.WarehouseCode = req.ToWarehouse
		pkg.BinEntry = req.ToBin
		pkg.UpdatedAt = now
		if err := t.store.UpdatePackage(ctx, pkg); err != nil {
			return fmt.Errorf("failed to update package: %w", err)
		}

		contents, err := t.store.ListContents(ctx, pkg.ID)
		if err != nil {
			return fmt.Errorf("failed to load contents: %w", err)
		}
		for _, content := range contents {
			content.WarehouseCode = pkg.WarehouseCode
			content.BinEntry = pkg.BinEntry
			content.UpdatedAt = now
			if err := content.CheckInvariant(pkg); err != nil {
				return err
			}
			if err := t.store.SaveContent(ctx, content); err != nil {
				return fmt.Errorf("failed to save content: %w", err)
			}
		}

		return t.store.AppendHistory(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("package moved",
		zap.String("barcode", pkg.Barcode),
		zap.String("warehouse", pkg.WarehouseCode),
		zap.String("bin", pkg.BinEntry),
		zap.String("movement", string(req.MovementType)),
	)
	t.events.Publish(ctx, gateways.EventPackageMoved, pkg.ID.String(), *pkg)
	return pkg, nil
}

// RecordScan logs that a package was seen at its current location
func (t *Tracker) RecordScan(ctx context.Context, caller entities.Caller, packageID uuid.UUID, source entities.SourceOperation) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	return t.store.RunInTx(ctx, func(ctx context.Context) error {
		pkg, err := t.store.GetPackage(ctx, packageID)
		if err != nil {
			return err
		}
		return t.store.AppendHistory(ctx, &entities.PackageLocationHistory{
			ID:            uuid.New(),
			PackageID:     pkg.ID,
			FromWarehouse: pkg.WarehouseCode,
			FromBin:       pkg.BinEntry,
			ToWarehouse:   pkg.WarehouseCode,
			ToBin:         pkg.BinEntry,
			MovementType:  entities.MovementScanned,
			Source:        source,
			MovedBy:       caller.UserID,
			CreatedAt:     t.now(),
		})
	})
}

// History returns the movements of a package, oldest first
func (t *Tracker) History(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageLocationHistory, error) {
	if _, err := t.store.GetPackage(ctx, packageID); err != nil {
		return nil, err
	}
	return t.store.ListHistory(ctx, packageID)
}
