package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// HistoryRepository is the append-only package movement log
type HistoryRepository interface {
	AppendHistory(ctx context.Context, entry *entities.PackageLocationHistory) error
	ListHistory(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageLocationHistory, error)
}
