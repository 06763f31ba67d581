package commitment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/services/shared"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
)

// ReserveRequest claims package quantity for an operation line
type ReserveRequest struct {
	PackageID       uuid.UUID
	ItemCode        entities.ItemCode
	Quantity        decimal.Decimal
	Source          entities.SourceOperation
	SourceLineID    int64
	TargetPackageID *uuid.UUID
}

// Coordinator creates and clears commitments, keeping each content row's committed
// quantity equal to the sum of its live commitments
type Coordinator struct {
	store  repositories.Store
	events *shared.EventOutbox
	logger *zap.Logger
	now    func() time.Time
}

// NewCoordinator creates a new commitment coordinator
func NewCoordinator(store repositories.Store, events gateways.EventPublisher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, events: shared.NewEventOutbox(store, events, logger), logger: logger, now: time.Now}
}

// Reserve re-checks availability inside the transaction and records the claim
func (c *Coordinator) Reserve(ctx context.Context, req ReserveRequest) (*entities.PackageCommitment, error) {
	if !req.Quantity.IsPositive() {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "commitment quantity must be positive, got %s", req.Quantity)
	}
	if !req.Source.Type.Valid() {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "unknown operation type %q", req.Source.Type)
	}

	var commitment *entities.PackageCommitment
	err := c.store.RunInTx(ctx, func(ctx context.Context) error {
		pkg, err := c.store.GetPackage(ctx, req.PackageID)
		if err != nil {
			return err
		}
		if err := pkg.EnsureMutable(); err != nil {
			return err
		}

		content, err := c.store.FindContent(ctx, pkg.ID, req.ItemCode)
		if err != nil {
			return fmt.Errorf("failed to load content: %w", err)
		}
		if content == nil {
			return entities.NewNotFoundError(entities.CodeContentNotFound, "package %s holds no %s", pkg.Barcode, req.ItemCode)
		}
		if req.Quantity.GreaterThan(content.Available()) {
			return entities.NewInsufficientQuantityError(entities.CodeInsufficientAvailableQuantity, content.Available(), req.Quantity)
		}

		now := c.now()
		content.CommittedQuantity = content.CommittedQuantity.Add(req.Quantity)
		content.UpdatedAt = now
		if err := c.store.SaveContent(ctx, content); err != nil {
			return fmt.Errorf("failed to save content: %w", err)
		}

		commitment = &entities.PackageCommitment{
			ID:              uuid.New(),
			PackageID:       pkg.ID,
			ContentID:       content.ID,
			ItemCode:        req.ItemCode,
			Quantity:        req.Quantity,
			Source:          req.Source,
			SourceLineID:    req.SourceLineID,
			TargetPackageID: req.TargetPackageID,
			CreatedAt:       now,
		}
		if err := c.store.CreateCommitment(ctx, commitment); err != nil {
			return fmt.Errorf("failed to create commitment: %w", err)
		}
		return c.AssertInvariant(ctx, content.ID)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("commitment reserved",
		zap.String("source", req.Source.String()),
		zap.String("package", req.PackageID.String()),
		zap.String("item", string(req.ItemCode)),
		zap.String("quantity", req.Quantity.String()),
	)
	c.publish(ctx, gateways.EventCommitmentReserved, commitment)
	return commitment, nil
}

// Release clears one commitment. Releasing a commitment that no longer exists is a no-op
// and reports false.
func (c *Coordinator) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	var released *entities.PackageCommitment
	err := c.store.RunInTx(ctx, func(ctx context.Context) error {
		commitment, err := c.store.GetCommitment(ctx, id)
		if errors.Is(err, entities.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.release(ctx, commitment); err != nil {
			return err
		}
		released = commitment
		return nil
	})
	if err != nil || released == nil {
		return false, err
	}
	c.publish(ctx, gateways.EventCommitmentReleased, released)
	return true, nil
}

// ReleaseBySource clears every commitment of an operation in one transaction
func (c *Coordinator) ReleaseBySource(ctx context.Context, source entities.SourceOperation) ([]*entities.PackageCommitment, error) {
	return c.releaseAll(ctx, func(ctx context.Context) ([]*entities.PackageCommitment, error) {
		return c.store.ListCommitmentsBySource(ctx, source)
	})
}

// ReleaseBySourceLine clears the commitments of one operation line
func (c *Coordinator) ReleaseBySourceLine(ctx context.Context, source entities.SourceOperation, lineID int64) ([]*entities.PackageCommitment, error) {
	return c.releaseAll(ctx, func(ctx context.Context) ([]*entities.PackageCommitment, error) {
		return c.store.ListCommitmentsBySourceLine(ctx, source, lineID)
	})
}

// ReleaseAll clears the given commitments in one transaction, skipping any already released
func (c *Coordinator) ReleaseAll(ctx context.Context, ids []uuid.UUID) ([]*entities.PackageCommitment, error) {
	return c.releaseAll(ctx, func(ctx context.Context) ([]*entities.PackageCommitment, error) {
		var live []*entities.PackageCommitment
		for _, id := range ids {
			commitment, err := c.store.GetCommitment(ctx, id)
			if errors.Is(err, entities.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			live = append(live, commitment)
		}
		return live, nil
	})
}

func (c *Coordinator) releaseAll(
	ctx context.Context,
	list func(ctx context.Context) ([]*entities.PackageCommitment, error),
) ([]*entities.PackageCommitment, error) {
	var released []*entities.PackageCommitment
	err := c.store.RunInTx(ctx, func(ctx context.Context) error {
		commitments, err := list(ctx)
		if err != nil {
			return fmt.Errorf("failed to list commitments: %w", err)
		}
		for _, commitment := range commitments {
			if err := c.release(ctx, commitment); err != nil {
				return err
			}
		}
		released = commitments
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, commitment := range released {
		c.publish(ctx, gateways.EventCommitmentReleased, commitment)
	}
	return released, nil
}

func (c *Coordinator) release(ctx context.Context, commitment *entities.PackageCommitment) error {
	content, err := c.store.GetContent(ctx, commitment.ContentID)
	if err != nil {
		return fmt.Errorf("failed to load content of commitment %s: %w", commitment.ID, err)
	}

	content.CommittedQuantity = content.CommittedQuantity.Sub(commitment.Quantity)
	content.UpdatedAt = c.now()
	if err := c.store.SaveContent(ctx, content); err != nil {
		return fmt.Errorf("failed to save content: %w", err)
	}
	if err := c.store.DeleteCommitment(ctx, commitment.ID); err != nil {
		return fmt.Errorf("failed to delete commitment: %w", err)
	}
	return c.AssertInvariant(ctx, content.ID)
}

// Adjust changes the quantity of a commitment; a zero quantity releases it.
// Growing a commitment requires the extra quantity to be available.
func (c *Coordinator) Adjust(ctx context.Context, id uuid.UUID, quantity decimal.Decimal) (*entities.PackageCommitment, error) {
	if quantity.IsNegative() {
		return nil, entities.NewValidationError(entities.CodeInvalidInput, "commitment quantity cannot be negative, got %s", quantity)
	}
	if quantity.IsZero() {
		_, err := c.Release(ctx, id)
		return nil, err
	}

	var commitment *entities.PackageCommitment
	err := c.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if commitment, err = c.store.GetCommitment(ctx, id); err != nil {
			return err
		}
		content, err := c.store.GetContent(ctx, commitment.ContentID)
		if err != nil {
			return fmt.Errorf("failed to load content of commitment %s: %w", commitment.ID, err)
		}

		delta := quantity.Sub(commitment.Quantity)
		if delta.GreaterThan(content.Available()) {
			return entities.NewInsufficientQuantityError(entities.CodeInsufficientAvailableQuantity, content.Available(), delta)
		}

		content.CommittedQuantity = content.CommittedQuantity.Add(delta)
		content.UpdatedAt = c.now()
		if err := c.store.SaveContent(ctx, content); err != nil {
			return fmt.Errorf("failed to save content: %w", err)
		}
		commitment.Quantity = quantity
		if err := c.store.UpdateCommitment(ctx, commitment); err != nil {
			return fmt.Errorf("failed to update commitment: %w", err)
		}
		return c.AssertInvariant(ctx, content.ID)
	})
	if err != nil {
		return nil, err
	}
	return commitment, nil
}

// AssertInvariant verifies 0 <= committed <= quantity and committed == sum of live commitments
func (c *Coordinator) AssertInvariant(ctx context.Context, contentID uuid.UUID) error {
	content, err := c.store.GetContent(ctx, contentID)
	if err != nil {
		return err
	}
	if err := content.CheckInvariant(nil); err != nil {
		return err
	}

	commitments, err := c.store.ListCommitmentsByContent(ctx, contentID)
	if err != nil {
		return fmt.Errorf("failed to list commitments: %w", err)
	}
	sum := decimal.Zero
	for _, commitment := range commitments {
		sum = sum.Add(commitment.Quantity)
	}
	if !sum.Equal(content.CommittedQuantity) {
		return entities.NewStateConflictError(entities.CodeCommitmentInvariant,
			"item %s: committed %s but live commitments sum to %s", content.ItemCode, content.CommittedQuantity, sum)
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, eventType string, commitment *entities.PackageCommitment) {
	c.events.Publish(ctx, eventType, commitment.Source.String(), *commitment)
}
