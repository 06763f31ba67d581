package postgres

import (
	"context"
	"fmt"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

// CreateOperation inserts an operation; the database assigns the id when it is zero
func (s *Store) CreateOperation(ctx context.Context, op *entities.Operation) error {
	m := toOperationModel(op)
	if err := s.conn(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return entities.NewStateConflictError(entities.CodeInvalidInput, "operation %s already exists", op.Source)
		}
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	op.Source.ID = m.ID
	return nil
}

func (s *Store) GetOperation(ctx context.Context, source entities.SourceOperation) (*entities.Operation, error) {
	var m OperationModel
	err := s.locking(ctx).First(&m, "id = ? AND type = ?", source.ID, string(source.Type)).Error
	if err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError(entities.CodeOperationNotFound, "operation %s not found", source)
		}
		return nil, fmt.Errorf("failed to load operation: %w", err)
	}
	return m.toEntity(), nil
}

func (s *Store) UpdateOperation(ctx context.Context, op *entities.Operation) error {
	res := s.conn(ctx).Model(&OperationModel{}).
		Where("id = ? AND type = ?", op.Source.ID, string(op.Source.Type)).
		Select("status", "external_ref", "attempts", "last_error", "updated_at").
		Updates(toOperationModel(op))
	if res.Error != nil {
		return fmt.Errorf("failed to update operation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return entities.NewNotFoundError(entities.CodeOperationNotFound, "operation %s not found", op.Source)
	}
	return nil
}

func (s *Store) ListOperationsByStatus(ctx context.Context, status entities.OperationStatus) ([]*entities.Operation, error) {
	var rows []OperationModel
	if err := s.conn(ctx).Where("status = ?", string(status)).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	out := make([]*entities.Operation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

// SaveLine inserts or replaces a line of an existing operation
func (s *Store) SaveLine(ctx context.Context, line *entities.OperationLine) error {
	if _, err := s.GetOperation(ctx, line.Source); err != nil {
		return err
	}
	if err := s.conn(ctx).Save(toLineModel(line)).Error; err != nil {
		return fmt.Errorf("failed to save line: %w", err)
	}
	return nil
}

func (s *Store) GetLine(ctx context.Context, source entities.SourceOperation, lineID int64) (*entities.OperationLine, error) {
	var m LineModel
	err := s.conn(ctx).First(&m, "operation_id = ? AND type = ? AND line_id = ?", source.ID, string(source.Type), lineID).Error
	if err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError(entities.CodeLineNotFound, "line %d of %s not found", lineID, source)
		}
		return nil, fmt.Errorf("failed to load line: %w", err)
	}
	return m.toEntity(), nil
}

func (s *Store) ListLines(ctx context.Context, source entities.SourceOperation) ([]*entities.OperationLine, error) {
	var rows []LineModel
	err := s.conn(ctx).
		Where("operation_id = ? AND type = ?", source.ID, string(source.Type)).
		Order("line_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	out := make([]*entities.OperationLine, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

func (s *Store) DeleteLine(ctx context.Context, source entities.SourceOperation, lineID int64) error {
	return deleteWhere(s.conn(ctx), &LineModel{},
		"operation_id = ? AND type = ? AND line_id = ?", source.ID, string(source.Type), lineID)
}

func (s *Store) AddTransferLine(ctx context.Context, line *entities.TransferLine) error {
	if err := s.conn(ctx).Omit("seq").Create(toTransferLineModel(line)).Error; err != nil {
		return fmt.Errorf("failed to insert transfer line: %w", err)
	}
	return nil
}

// ListTransferLines returns the lines of a transfer in insertion order
func (s *Store) ListTransferLines(ctx context.Context, transferID int64) ([]*entities.TransferLine, error) {
	var rows []TransferLineModel
	if err := s.conn(ctx).Where("transfer_id = ?", transferID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transfer lines: %w", err)
	}
	out := make([]*entities.TransferLine, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}
