package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

func (s *Store) AppendHistory(ctx context.Context, entry *entities.PackageLocationHistory) error {
	if err := s.conn(ctx).Omit("seq").Create(toHistoryModel(entry)).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListHistory returns movements in insertion order
func (s *Store) ListHistory(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageLocationHistory, error) {
	var rows []HistoryModel
	if err := s.conn(ctx).Where("package_id = ?", packageID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	out := make([]*entities.PackageLocationHistory, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}
