package memory

import (
	"context"
	"sort"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

// CreateOperation stores a new operation, assigning the next id when unset
func (s *Store) CreateOperation(ctx context.Context, op *entities.Operation) error {
	return s.view(ctx, func(st *state) error {
		if op.Source.ID == 0 {
			st.nextOpID++
			op.Source.ID = st.nextOpID
		} else if op.Source.ID > st.nextOpID {
			st.nextOpID = op.Source.ID
		}
		if _, exists := st.operations[op.Source]; exists {
			return entities.NewStateConflictError(entities.CodeInvalidInput, "operation %s already exists", op.Source)
		}
		st.operations[op.Source] = *op
		return nil
	})
}

// GetOperation returns a copy of an operation
func (s *Store) GetOperation(ctx context.Context, source entities.SourceOperation) (*entities.Operation, error) {
	var out *entities.Operation
	err := s.view(ctx, func(st *state) error {
		op, ok := st.operations[source]
		if !ok {
			return entities.NewNotFoundError(entities.CodeOperationNotFound, "operation %s not found", source)
		}
		out = &op
		return nil
	})
	return out, err
}

// UpdateOperation replaces a stored operation
func (s *Store) UpdateOperation(ctx context.Context, op *entities.Operation) error {
	return s.view(ctx, func(st *state) error {
		if _, ok := st.operations[op.Source]; !ok {
			return entities.NewNotFoundError(entities.CodeOperationNotFound, "operation %s not found", op.Source)
		}
		st.operations[op.Source] = *op
		return nil
	})
}

// ListOperationsByStatus returns operations in a status, oldest first
func (s *Store) ListOperationsByStatus(ctx context.Context, status entities.OperationStatus) ([]*entities.Operation, error) {
	var out []*entities.Operation
	err := s.view(ctx, func(st *state) error {
		for _, op := range st.operations {
			if op.Status == status {
				found := op
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Source.ID < out[j].Source.ID })
	return out, err
}

// SaveLine inserts or replaces an operation line
func (s *Store) SaveLine(ctx context.Context, line *entities.OperationLine) error {
	return s.view(ctx, func(st *state) error {
		if _, ok := st.operations[line.Source]; !ok {
			return entities.NewNotFoundError(entities.CodeOperationNotFound, "operation %s not found", line.Source)
		}
		st.lines[lineKey{source: line.Source, lineID: line.LineID}] = *line
		return nil
	})
}

// GetLine returns a copy of an operation line
func (s *Store) GetLine(ctx context.Context, source entities.SourceOperation, lineID int64) (*entities.OperationLine, error) {
	var out *entities.OperationLine
	err := s.view(ctx, func(st *state) error {
		line, ok := st.lines[lineKey{source: source, lineID: lineID}]
		if !ok {
			return entities.NewNotFoundError(entities.CodeLineNotFound, "line %d of %s not found", lineID, source)
		}
		out = &line
		return nil
	})
	return out, err
}

// ListLines returns the lines of an operation ordered by line id
func (s *Store) ListLines(ctx context.Context, source entities.SourceOperation) ([]*entities.OperationLine, error) {
	var out []*entities.OperationLine
	err := s.view(ctx, func(st *state) error {
		for key, line := range st.lines {
			if key.source == source {
				found := line
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LineID < out[j].LineID })
	return out, err
}

// DeleteLine removes an operation line
func (s *Store) DeleteLine(ctx context.Context, source entities.SourceOperation, lineID int64) error {
	return s.view(ctx, func(st *state) error {
		delete(st.lines, lineKey{source: source, lineID: lineID})
		return nil
	})
}

// AddTransferLine appends a line to a transfer
func (s *Store) AddTransferLine(ctx context.Context, line *entities.TransferLine) error {
	return s.view(ctx, func(st *state) error {
		st.transferLines = append(st.transferLines, *line)
		return nil
	})
}

// ListTransferLines returns the lines of a transfer in insertion order
func (s *Store) ListTransferLines(ctx context.Context, transferID int64) ([]*entities.TransferLine, error) {
	var out []*entities.TransferLine
	err := s.view(ctx, func(st *state) error {
		for _, line := range st.transferLines {
			if line.TransferID == transferID {
				found := line
				out = append(out, &found)
			}
		}
		return nil
	})
	return out, err
}
