package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

func (s *Store) CreateCommitment(ctx context.Context, commitment *entities.PackageCommitment) error {
	if err := s.conn(ctx).Create(toCommitmentModel(commitment)).Error; err != nil {
		return fmt.Errorf("failed to insert commitment: %w", err)
	}
	return nil
}

func (s *Store) GetCommitment(ctx context.Context, id uuid.UUID) (*entities.PackageCommitment, error) {
	var m CommitmentModel
	if err := s.locking(ctx).First(&m, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError(entities.CodeContentNotFound, "commitment %s not found", id)
		}
		return nil, fmt.Errorf("failed to load commitment: %w", err)
	}
	return m.toEntity(), nil
}

func (s *Store) UpdateCommitment(ctx context.Context, commitment *entities.PackageCommitment) error {
	res := s.conn(ctx).Model(&CommitmentModel{ID: commitment.ID}).
		Select("quantity", "target_package_id").
		Updates(toCommitmentModel(commitment))
	if res.Error != nil {
		return fmt.Errorf("failed to update commitment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return entities.NewNotFoundError(entities.CodeContentNotFound, "commitment %s not found", commitment.ID)
	}
	return nil
}

func (s *Store) DeleteCommitment(ctx context.Context, id uuid.UUID) error {
	return deleteWhere(s.conn(ctx), &CommitmentModel{}, "id = ?", id)
}

func (s *Store) listCommitments(ctx context.Context, query string, args ...any) ([]*entities.PackageCommitment, error) {
	var rows []CommitmentModel
	if err := s.conn(ctx).Where(query, args...).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list commitments: %w", err)
	}
	out := make([]*entities.PackageCommitment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

func (s *Store) ListCommitmentsByContent(ctx context.Context, contentID uuid.UUID) ([]*entities.PackageCommitment, error) {
	return s.listCommitments(ctx, "content_id = ?", contentID)
}

func (s *Store) ListCommitmentsByPackage(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageCommitment, error) {
	return s.listCommitments(ctx, "package_id = ?", packageID)
}

func (s *Store) ListCommitmentsBySource(ctx context.Context, source entities.SourceOperation) ([]*entities.PackageCommitment, error) {
	return s.listCommitments(ctx, "source_type = ? AND source_id = ?", string(source.Type), source.ID)
}

func (s *Store) ListCommitmentsBySourceLine(ctx context.Context, source entities.SourceOperation, lineID int64) ([]*entities.PackageCommitment, error) {
	return s.listCommitments(ctx, "source_type = ? AND source_id = ? AND source_line_id = ?", string(source.Type), source.ID, lineID)
}
